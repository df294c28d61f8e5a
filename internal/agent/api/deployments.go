package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/agent/runner"
	"github.com/DIGVI962/DRaaS/internal/fabric"
)

// DeploymentRunner is the slice of the runner the handlers drive.
// Implemented by *runner.Runner.
type DeploymentRunner interface {
	Start(ctx context.Context, image, containerName string) (string, fabric.PortMap, error)
	Cancel(ctx context.Context, deploymentID string) (fabric.DeploymentStatus, error)
	Snapshot(deploymentID string) (fabric.DeploymentLogsResponse, error)
}

// DeploymentsHandler bundles the HTTP handlers for the agent's deployment
// slot. Create instances with NewDeploymentsHandler.
type DeploymentsHandler struct {
	runner DeploymentRunner
	logger *zap.Logger
}

// NewDeploymentsHandler creates a DeploymentsHandler.
func NewDeploymentsHandler(r DeploymentRunner, logger *zap.Logger) *DeploymentsHandler {
	return &DeploymentsHandler{
		runner: r,
		logger: logger.Named("api.deployments"),
	}
}

// -----------------------------------------------------------------------------
// POST /start_deployment
// -----------------------------------------------------------------------------

// Start launches a container from the requested image and responds with the
// new deployment's ID and published ports.
func (h *DeploymentsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req fabric.StartDeploymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Image == "" {
		ErrBadRequest(w, "image is required")
		return
	}

	deploymentID, ports, err := h.runner.Start(r.Context(), req.Image, req.ContainerName)
	if err != nil {
		if errors.Is(err, runner.ErrBusy) {
			ErrAgentBusy(w)
			return
		}
		h.logger.Error("deployment start failed",
			zap.String("image", req.Image),
			zap.Error(err),
		)
		ErrRuntime(w, err.Error())
		return
	}

	JSON(w, http.StatusOK, fabric.StartDeploymentResponse{
		Status:       "started",
		DeploymentID: deploymentID,
		MappedPorts:  ports,
	})
}

// -----------------------------------------------------------------------------
// GET /deployment_logs?deployment_id=
// -----------------------------------------------------------------------------

// Logs returns the current status, buffered output, and port bindings of a
// deployment this agent owns.
func (h *DeploymentsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	deploymentID := r.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		ErrBadRequest(w, "deployment_id is required")
		return
	}

	snap, err := h.runner.Snapshot(deploymentID)
	if err != nil {
		ErrUnknownDeployment(w)
		return
	}

	JSON(w, http.StatusOK, snap)
}

// -----------------------------------------------------------------------------
// POST /cancel_deployment
// -----------------------------------------------------------------------------

// Cancel stops the identified deployment. Cancelling one that already
// finished reports its terminal status unchanged.
func (h *DeploymentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req fabric.CancelDeploymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeploymentID == "" {
		ErrBadRequest(w, "deployment_id is required")
		return
	}

	status, err := h.runner.Cancel(r.Context(), req.DeploymentID)
	if err != nil {
		if errors.Is(err, runner.ErrUnknownDeployment) {
			ErrUnknownDeployment(w)
			return
		}
		h.logger.Error("deployment cancel failed",
			zap.String("deployment_id", req.DeploymentID),
			zap.Error(err),
		)
		ErrRuntime(w, err.Error())
		return
	}

	JSON(w, http.StatusOK, fabric.CancelDeploymentResponse{
		Status:       status,
		DeploymentID: req.DeploymentID,
	})
}
