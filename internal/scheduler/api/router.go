package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/scheduler/build"
	"github.com/DIGVI962/DRaaS/internal/scheduler/dispatch"
	"github.com/DIGVI962/DRaaS/internal/scheduler/events"
	"github.com/DIGVI962/DRaaS/internal/scheduler/metrics"
	"github.com/DIGVI962/DRaaS/internal/scheduler/placement"
	"github.com/DIGVI962/DRaaS/internal/scheduler/registry"
)

// RouterConfig holds the dependencies needed to build the scheduler's HTTP
// router. It is populated in main.go after all components are initialized.
type RouterConfig struct {
	Registry   *registry.Registry
	Placements *placement.Map
	Builder    *build.Builder
	Dispatcher *dispatch.Dispatcher
	Hub        *events.Hub
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// NewRouter builds and returns the fully configured Chi router. The paths
// are fixed wire surface; agents and clients address the scheduler by them.
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

	agents := NewAgentsHandler(cfg.Registry, cfg.Hub, cfg.Metrics, cfg.Logger)
	deployments := NewDeploymentsHandler(cfg.Builder, cfg.Dispatcher, cfg.Placements, cfg.Hub, cfg.Metrics, cfg.Logger)
	eventsHandler := NewEventsHandler(cfg.Hub, cfg.Logger)

	// --- Agent plane ---
	r.Post("/heartbeat", agents.Heartbeat)
	r.Get("/agents", agents.List)

	// --- Deployment plane ---
	r.Post("/upload_code", deployments.Upload)
	r.Get("/deployment_logs", deployments.Logs)
	r.Post("/cancel_deployment", deployments.Cancel)
	r.Get("/deployments", deployments.List)

	// --- Observability ---
	r.Get("/events", eventsHandler.Subscribe)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	// Liveness only; never touches the container engine.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
