package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/fabric"
	"github.com/DIGVI962/DRaaS/internal/scheduler/build"
	"github.com/DIGVI962/DRaaS/internal/scheduler/dispatch"
	"github.com/DIGVI962/DRaaS/internal/scheduler/events"
	"github.com/DIGVI962/DRaaS/internal/scheduler/metrics"
	"github.com/DIGVI962/DRaaS/internal/scheduler/placement"
	"github.com/DIGVI962/DRaaS/internal/scheduler/registry"
)

// uploadLimit caps a source bundle upload. Bundles are source trees, not
// data sets; anything larger points at a mispackaged archive.
const uploadLimit = 512 << 20

// DeploymentsHandler bundles the HTTP handlers for the deployment pipeline
// and the proxied per-deployment operations.
// Create instances with NewDeploymentsHandler.
type DeploymentsHandler struct {
	builder    *build.Builder
	dispatcher *dispatch.Dispatcher
	placements *placement.Map
	hub        *events.Hub
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewDeploymentsHandler creates a DeploymentsHandler.
func NewDeploymentsHandler(
	b *build.Builder,
	d *dispatch.Dispatcher,
	placements *placement.Map,
	hub *events.Hub,
	m *metrics.Metrics,
	logger *zap.Logger,
) *DeploymentsHandler {
	return &DeploymentsHandler{
		builder:    b,
		dispatcher: d,
		placements: placements,
		hub:        hub,
		metrics:    m,
		logger:     logger.Named("api.deployments"),
	}
}

// -----------------------------------------------------------------------------
// POST /upload_code
// -----------------------------------------------------------------------------

// Upload runs the whole pipeline on a multipart bundle upload: build the
// image, push it when the gate is open, dispatch it to the least-loaded
// free agent, and answer with the deployment descriptor.
func (h *DeploymentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, uploadLimit)

	file, header, err := r.FormFile("code")
	if err != nil {
		ErrBadRequest(w, "multipart field 'code' is required")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		ErrBadRequest(w, "uploaded file has no filename")
		return
	}

	bundle, err := io.ReadAll(file)
	if err != nil {
		ErrBadRequest(w, "failed to read upload: "+err.Error())
		return
	}
	if len(bundle) == 0 {
		ErrBadRequest(w, "uploaded file is empty")
		return
	}

	// --- Build ---
	tag, err := h.builder.Build(r.Context(), bundle, header.Filename)
	h.metrics.MarkBuild(err)
	if err != nil {
		switch {
		case errors.Is(err, build.ErrBadBundle), errors.Is(err, build.ErrNoDockerfile):
			ErrBadBundle(w, err.Error())
		default:
			ErrBuildFailed(w, err.Error())
		}
		return
	}

	// --- Push (gated) ---
	if attempted, err := h.builder.Push(r.Context(), tag); attempted {
		h.metrics.MarkPush(err)
		if err != nil {
			ErrPushFailed(w, err.Error())
			return
		}
	}

	// --- Dispatch ---
	res, err := h.dispatcher.Dispatch(r.Context(), tag)
	h.metrics.MarkDispatch(err)
	if err != nil {
		if errors.Is(err, registry.ErrNoAgents) {
			ErrNoAgents(w)
			return
		}
		ErrDispatchFailed(w, err.Error())
		return
	}

	h.hub.Publish(events.NewMessage(events.MsgDeploymentStarted, events.TopicDeployments, map[string]any{
		"deployment_id": res.DeploymentID,
		"agent":         res.AgentEndpoint,
		"image":         tag,
	}))

	JSON(w, http.StatusOK, fabric.DeployedResponse{
		Status:       "deployed",
		Agent:        res.AgentEndpoint,
		Image:        tag,
		DeploymentID: res.DeploymentID,
		MappedPorts:  res.MappedPorts,
		Logs:         "",
	})
}

// -----------------------------------------------------------------------------
// GET /deployment_logs?deployment_id=
// -----------------------------------------------------------------------------

// Logs relays a logs query to the worker that owns the deployment, passing
// the worker's status code and body through unchanged. A terminal status in
// the worker's answer is folded into the cached placement on the way past.
func (h *DeploymentsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	deploymentID := r.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		ErrBadRequest(w, "deployment_id is required")
		return
	}

	rec, ok := h.placements.Get(deploymentID)
	if !ok {
		ErrUnknownDeployment(w)
		return
	}

	reply, err := h.dispatcher.ProxyLogs(r.Context(), rec.Agent, deploymentID)
	if err != nil {
		h.logger.Warn("logs relay failed",
			zap.String("deployment_id", deploymentID),
			zap.String("agent", rec.Agent),
			zap.Error(err),
		)
		ErrDispatchFailed(w, err.Error())
		return
	}

	if reply.StatusCode == http.StatusOK {
		var body fabric.DeploymentLogsResponse
		if jsonErr := json.Unmarshal(reply.Body, &body); jsonErr == nil && body.Status != "" {
			h.syncStatus(deploymentID, body.Status)
		}
	}

	relay(w, reply)
}

// -----------------------------------------------------------------------------
// POST /cancel_deployment
// -----------------------------------------------------------------------------

// Cancel relays a cancellation to the worker that owns the deployment and
// folds the resulting status into the cached placement.
func (h *DeploymentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req fabric.CancelDeploymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeploymentID == "" {
		ErrBadRequest(w, "deployment_id is required")
		return
	}

	rec, ok := h.placements.Get(req.DeploymentID)
	if !ok {
		ErrUnknownDeployment(w)
		return
	}

	reply, err := h.dispatcher.ProxyCancel(r.Context(), rec.Agent, req.DeploymentID)
	if err != nil {
		h.logger.Warn("cancel relay failed",
			zap.String("deployment_id", req.DeploymentID),
			zap.String("agent", rec.Agent),
			zap.Error(err),
		)
		ErrDispatchFailed(w, err.Error())
		return
	}

	if reply.StatusCode == http.StatusOK {
		var body fabric.CancelDeploymentResponse
		if jsonErr := json.Unmarshal(reply.Body, &body); jsonErr == nil && body.Status != "" {
			h.syncStatus(req.DeploymentID, body.Status)
		}
	}

	relay(w, reply)
}

// -----------------------------------------------------------------------------
// GET /deployments
// -----------------------------------------------------------------------------

// List serves a point-in-time snapshot of the placement map keyed by
// deployment ID.
func (h *DeploymentsHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.placements.Snapshot())
}

// syncStatus folds a worker-reported status into the placement cache and
// publishes the transition when it changed anything.
func (h *DeploymentsHandler) syncStatus(deploymentID string, status fabric.DeploymentStatus) {
	if !h.placements.SetStatus(deploymentID, status) {
		return
	}

	msgType := events.MsgDeploymentStatus
	if status == fabric.StatusCancelled {
		msgType = events.MsgDeploymentCancelled
	}
	h.hub.Publish(events.NewMessage(msgType, events.TopicDeployments, map[string]any{
		"deployment_id": deploymentID,
		"status":        status,
	}))
}

// relay writes a worker reply through verbatim. Worker replies are always
// JSON, so the content type is fixed rather than copied.
func relay(w http.ResponseWriter, reply dispatch.WorkerReply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.StatusCode)
	_, _ = w.Write(reply.Body)
}
