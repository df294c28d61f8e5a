// Package dispatch is the scheduler's client side of the worker protocol:
// it selects an agent, asks it to start a freshly built image, records the
// resulting placement, and relays log and cancel requests to the worker
// that owns a deployment.
//
// Dispatch is single-shot: when the chosen worker refuses or cannot be
// reached, the attempt fails without trying another agent. The caller sees
// the worker's own payload in the error so nothing is lost in relay.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/fabric"
)

const (
	// startTimeout bounds a start call; it covers the worker's image pull
	// and container start, which dwarf every other request in the protocol.
	startTimeout = 60 * time.Second

	// proxyTimeout bounds relayed log and cancel calls.
	proxyTimeout = 30 * time.Second
)

// ErrDispatchFailed is returned when the selected worker refuses the start
// or cannot be reached.
var ErrDispatchFailed = errors.New("dispatch: failed to start deployment")

// Selector picks the agent for the next deployment. Implemented by
// *registry.Registry.
type Selector interface {
	Select() (string, fabric.AgentRecord, error)
}

// Recorder stores successful placements. Implemented by *placement.Map.
type Recorder interface {
	Record(deploymentID, agent, image string, ports fabric.PortMap)
}

// Result describes a successfully dispatched deployment.
type Result struct {
	DeploymentID  string
	AgentID       string
	AgentEndpoint string
	MappedPorts   fabric.PortMap
}

// WorkerReply is a worker response relayed verbatim: the proxy endpoints
// pass both the status code and the body through unchanged.
type WorkerReply struct {
	StatusCode int
	Body       []byte
}

// Dispatcher drives workers over their HTTP API.
// Create instances with New.
type Dispatcher struct {
	selector    Selector
	placements  Recorder
	startClient *http.Client
	proxyClient *http.Client
	logger      *zap.Logger
}

// New creates a Dispatcher.
func New(selector Selector, placements Recorder, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		selector:    selector,
		placements:  placements,
		startClient: &http.Client{Timeout: startTimeout},
		proxyClient: &http.Client{Timeout: proxyTimeout},
		logger:      logger.Named("dispatch"),
	}
}

// Dispatch selects the least-loaded free agent, starts imageTag on it, and
// records the placement. Selection failures pass through as the registry's
// sentinel; everything after selection maps to ErrDispatchFailed.
func (d *Dispatcher) Dispatch(ctx context.Context, imageTag string) (Result, error) {
	agentID, agent, err := d.selector.Select()
	if err != nil {
		return Result{}, err
	}

	log := d.logger.With(
		zap.String("agent_id", agentID),
		zap.String("agent", agent.IP),
		zap.String("image", imageTag),
	)

	payload, err := json.Marshal(fabric.StartDeploymentRequest{
		Image:         imageTag,
		ContainerName: imageTag + "_container",
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: encode request: %s", ErrDispatchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+agent.IP+"/start_deployment", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %s", ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.startClient.Do(req)
	if err != nil {
		log.Warn("worker unreachable", zap.Error(err))
		return Result{}, fmt.Errorf("%w: agent %s unreachable: %s", ErrDispatchFailed, agentID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read response: %s", ErrDispatchFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Warn("worker refused deployment",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return Result{}, fmt.Errorf("%w: agent %s returned %d: %s",
			ErrDispatchFailed, agentID, resp.StatusCode, workerMessage(body))
	}

	var started fabric.StartDeploymentResponse
	if err := json.Unmarshal(body, &started); err != nil || started.DeploymentID == "" {
		return Result{}, fmt.Errorf("%w: agent %s returned an unreadable success body", ErrDispatchFailed, agentID)
	}

	d.placements.Record(started.DeploymentID, agent.IP, imageTag, started.MappedPorts)
	log.Info("deployment dispatched", zap.String("deployment_id", started.DeploymentID))

	return Result{
		DeploymentID:  started.DeploymentID,
		AgentID:       agentID,
		AgentEndpoint: agent.IP,
		MappedPorts:   started.MappedPorts,
	}, nil
}

// ProxyLogs forwards a logs query to the worker that owns the deployment
// and returns its reply verbatim. A transport failure returns an error; a
// worker-side error status is a valid reply, not an error.
func (d *Dispatcher) ProxyLogs(ctx context.Context, agentEndpoint, deploymentID string) (WorkerReply, error) {
	u := "http://" + agentEndpoint + "/deployment_logs?deployment_id=" + url.QueryEscape(deploymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return WorkerReply{}, fmt.Errorf("dispatch: build logs request: %w", err)
	}
	return d.relay(req)
}

// ProxyCancel forwards a cancel request to the worker that owns the
// deployment and returns its reply verbatim.
func (d *Dispatcher) ProxyCancel(ctx context.Context, agentEndpoint, deploymentID string) (WorkerReply, error) {
	payload, err := json.Marshal(fabric.CancelDeploymentRequest{DeploymentID: deploymentID})
	if err != nil {
		return WorkerReply{}, fmt.Errorf("dispatch: encode cancel request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+agentEndpoint+"/cancel_deployment", bytes.NewReader(payload))
	if err != nil {
		return WorkerReply{}, fmt.Errorf("dispatch: build cancel request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.relay(req)
}

func (d *Dispatcher) relay(req *http.Request) (WorkerReply, error) {
	resp, err := d.proxyClient.Do(req)
	if err != nil {
		return WorkerReply{}, fmt.Errorf("dispatch: worker unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return WorkerReply{}, fmt.Errorf("dispatch: read worker reply: %w", err)
	}
	return WorkerReply{StatusCode: resp.StatusCode, Body: body}, nil
}

// workerMessage extracts the human-readable message from a worker error
// body, falling back to the raw body when it is not the shared error shape.
func workerMessage(body []byte) string {
	var er fabric.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		return er.Message
	}
	return string(body)
}
