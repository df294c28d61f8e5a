// Package main is the entry point for the draas-scheduler binary, the
// coordinator side of the deployment fabric. It wires the internal packages
// together and serves the scheduler API.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Connect to the Docker daemon (fatal if unreachable; builds need it)
//  4. Build core state: agent registry, placement map, event hub, metrics
//  5. Build the pipeline: image builder and dispatcher
//  6. Start the event hub and the housekeeping sweeps
//  7. Serve the HTTP API
//  8. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/dockerx"
	"github.com/DIGVI962/DRaaS/internal/scheduler/api"
	"github.com/DIGVI962/DRaaS/internal/scheduler/build"
	"github.com/DIGVI962/DRaaS/internal/scheduler/dispatch"
	"github.com/DIGVI962/DRaaS/internal/scheduler/events"
	"github.com/DIGVI962/DRaaS/internal/scheduler/metrics"
	"github.com/DIGVI962/DRaaS/internal/scheduler/placement"
	"github.com/DIGVI962/DRaaS/internal/scheduler/registry"
	"github.com/DIGVI962/DRaaS/internal/scheduler/sweep"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// shutdownTimeout bounds how long in-flight requests may take to finish
// once a termination signal arrives.
const shutdownTimeout = 10 * time.Second

type config struct {
	port           string
	dockerSocket   string
	hubPush        bool
	dockerUsername string
	dockerPassword string
	logLevel       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "draas-scheduler",
		Short: "DRaaS scheduler: builds uploaded code and places it on worker agents",
		Long: `DRaaS scheduler is the coordinator of the deployment fabric. It tracks
worker agents through their heartbeats, turns uploaded source bundles into
Docker images, places each image on the least-loaded free agent, and proxies
log and cancellation requests to the agent that runs the deployment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.port, "port", envOrDefault("SCHEDULER_PORT", "5000"), "Port for the scheduler HTTP API")
	root.PersistentFlags().StringVar(&cfg.dockerSocket, "docker-socket", envOrDefault("DOCKER_SOCKET", ""), "Docker socket path (empty = platform default)")
	root.PersistentFlags().BoolVar(&cfg.hubPush, "hub-push", envOrDefault("HUB_PUSH", "") == "true", "Push built images to the registry before dispatch")
	root.PersistentFlags().StringVar(&cfg.dockerUsername, "docker-username", envOrDefault("DOCKER_USERNAME", ""), "Registry username for image pushes")
	root.PersistentFlags().StringVar(&cfg.dockerPassword, "docker-password", envOrDefault("DOCKER_PASSWORD", ""), "Registry password for image pushes")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("draas-scheduler %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting draas scheduler",
		zap.String("version", version),
		zap.String("port", cfg.port),
		zap.Bool("hub_push", cfg.hubPush),
	)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Docker client ---
	// Every upload turns into an image build on this daemon, so an
	// unreachable engine is fatal at startup.
	engine, err := dockerx.New(cfg.dockerSocket)
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer engine.Close()

	if err := engine.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	logger.Info("docker daemon reachable")

	// --- Core state ---
	reg := registry.New(registry.DefaultTimeout, logger)
	placements := placement.New(placement.DefaultRetention, logger)
	hub := events.NewHub()
	go hub.Run(ctx)
	m := metrics.New(reg, placements)

	// --- Build and dispatch pipeline ---
	buildCfg := build.Config{
		HubPush:  cfg.hubPush,
		Username: cfg.dockerUsername,
		Password: cfg.dockerPassword,
	}
	builder := build.NewBuilder(engine, buildCfg, logger)
	if cfg.hubPush && !buildCfg.PushEnabled() {
		logger.Warn("hub push requested but registry credentials are missing; pushes disabled")
	}
	dispatcher := dispatch.New(reg, placements, logger)

	// --- Housekeeping sweeps ---
	sweeper, err := sweep.New(reg, placements, hub, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	// --- HTTP API ---
	router := api.NewRouter(api.RouterConfig{
		Registry:   reg,
		Placements: placements,
		Builder:    builder,
		Dispatcher: dispatcher,
		Hub:        hub,
		Metrics:    m,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("scheduler api listening", zap.String("addr", srv.Addr))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	logger.Info("shutting down draas scheduler")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", zap.Error(err))
	}

	if err := sweeper.Stop(); err != nil {
		logger.Warn("sweeper shutdown incomplete", zap.Error(err))
	}

	logger.Info("draas scheduler stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
