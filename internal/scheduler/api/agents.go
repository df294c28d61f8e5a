package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/fabric"
	"github.com/DIGVI962/DRaaS/internal/scheduler/events"
	"github.com/DIGVI962/DRaaS/internal/scheduler/metrics"
	"github.com/DIGVI962/DRaaS/internal/scheduler/registry"
)

// AgentsHandler bundles the HTTP handlers for the agent registry.
// Create instances with NewAgentsHandler.
type AgentsHandler struct {
	registry *registry.Registry
	hub      *events.Hub
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewAgentsHandler creates an AgentsHandler.
func NewAgentsHandler(reg *registry.Registry, hub *events.Hub, m *metrics.Metrics, logger *zap.Logger) *AgentsHandler {
	return &AgentsHandler{
		registry: reg,
		hub:      hub,
		metrics:  m,
		logger:   logger.Named("api.agents"),
	}
}

// -----------------------------------------------------------------------------
// POST /heartbeat
// -----------------------------------------------------------------------------

// Heartbeat records a worker's periodic report. The newest payload replaces
// the previous record wholesale.
func (h *AgentsHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var hb fabric.Heartbeat
	if !decodeJSON(w, r, &hb) {
		return
	}
	if hb.AgentID == "" {
		ErrBadRequest(w, "agent_id is required")
		return
	}

	isNew := h.registry.Upsert(hb)
	h.metrics.MarkHeartbeat()

	if isNew {
		h.hub.Publish(events.NewMessage(events.MsgAgentOnline, events.TopicAgents, map[string]string{
			"agent_id": hb.AgentID,
			"ip":       hb.IP,
		}))
	}

	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -----------------------------------------------------------------------------
// GET /agents
// -----------------------------------------------------------------------------

// List serves a point-in-time snapshot of the registry keyed by agent ID.
func (h *AgentsHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.registry.Snapshot())
}
