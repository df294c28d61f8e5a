// Package main is the entry point for the draas-agent binary, the worker
// side of the deployment fabric. It wires the internal packages together and
// serves the agent API.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Connect to the Docker daemon (fatal if unreachable)
//  4. Build the deployment runner
//  5. Start the heartbeat reporter
//  6. Serve the HTTP API
//  7. Block until SIGINT/SIGTERM, then graceful shutdown
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

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/agent/api"
	"github.com/DIGVI962/DRaaS/internal/agent/heartbeat"
	"github.com/DIGVI962/DRaaS/internal/agent/runner"
	"github.com/DIGVI962/DRaaS/internal/dockerx"
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
	agentID      string
	advertiseIP  string
	port         string
	schedulerURL string
	dockerSocket string
	logLevel     string
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
		Use:   "draas-agent",
		Short: "DRaaS worker agent: runs uploaded workloads on the local Docker daemon",
		Long: `DRaaS agent runs on each worker machine. It reports itself to the
scheduler with periodic heartbeats carrying CPU and memory load, accepts one
deployment at a time, runs it as a container on the local Docker daemon, and
serves the deployment's status and logs until the next deployment replaces it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.agentID, "agent-id", envOrDefault("AGENT_ID", ""), "Stable agent identifier (empty = fresh UUID per process)")
	root.PersistentFlags().StringVar(&cfg.advertiseIP, "agent-ip", envOrDefault("AGENT_IP", "localhost:5001"), "host:port the scheduler should use to reach this agent")
	root.PersistentFlags().StringVar(&cfg.port, "port", envOrDefault("AGENT_PORT", "5001"), "Port for the agent HTTP API")
	root.PersistentFlags().StringVar(&cfg.schedulerURL, "scheduler-url", envOrDefault("SCHEDULER_URL", "http://localhost:5000"), "Base URL of the scheduler")
	root.PersistentFlags().StringVar(&cfg.dockerSocket, "docker-socket", envOrDefault("DOCKER_SOCKET", ""), "Docker socket path (empty = platform default)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("draas-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	agentID := cfg.agentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	logger.Info("starting draas agent",
		zap.String("version", version),
		zap.String("agent_id", agentID),
		zap.String("advertise_ip", cfg.advertiseIP),
		zap.String("scheduler_url", cfg.schedulerURL),
	)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Docker client ---
	// Unlike the scheduler-side build step, the agent is useless without a
	// daemon, so an unreachable engine is fatal at startup.
	engine, err := dockerx.New(cfg.dockerSocket)
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer engine.Close()

	if err := engine.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	logger.Info("docker daemon reachable")

	// --- Deployment runner ---
	worker := runner.New(engine, logger)

	// --- Heartbeat reporter ---
	reporter := heartbeat.New(cfg.schedulerURL, agentID, cfg.advertiseIP, worker, logger)
	go reporter.Run(ctx) //nolint:errcheck // returns nil after ctx cancel

	// --- HTTP API ---
	router := api.NewRouter(api.RouterConfig{
		Runner: worker,
		Logger: logger,
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
	logger.Info("agent api listening", zap.String("addr", srv.Addr))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	logger.Info("shutting down draas agent")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", zap.Error(err))
	}

	// No container outlives its agent unsupervised: stop the running
	// deployment, if any, before the process exits.
	worker.Shutdown(shutdownCtx)

	logger.Info("draas agent stopped")
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
