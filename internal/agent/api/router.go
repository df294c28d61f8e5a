package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig holds the dependencies needed to build the agent's HTTP
// router. It is populated in main.go after all components are initialized.
type RouterConfig struct {
	Runner DeploymentRunner
	Logger *zap.Logger
}

// NewRouter builds and returns the fully configured Chi router. The paths
// are fixed wire surface; the scheduler addresses workers by them.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	deployments := NewDeploymentsHandler(cfg.Runner, cfg.Logger)

	r.Post("/start_deployment", deployments.Start)
	r.Get("/deployment_logs", deployments.Logs)
	r.Post("/cancel_deployment", deployments.Cancel)

	// Liveness only; never touches the container engine.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
