// Package runner manages the agent's single deployment slot. It owns the
// container lifecycle end to end: pulling the image when it is not present
// locally, creating and starting the container, streaming its output into a
// capped buffer, watching for exit, and cleaning up the container and image
// afterwards.
//
// The agent runs one deployment at a time. The scheduler is aware of this
// constraint and only dispatches to agents reporting themselves Free, but
// the runner enforces it independently with an atomic busy flag so a racing
// dispatch is rejected rather than doubling up.
//
// The record of the most recent deployment (status, logs, ports) survives
// past its terminal state and stays queryable until the next deployment
// replaces it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/dockerx"
	"github.com/DIGVI962/DRaaS/internal/fabric"
)

// ErrBusy is returned by Start when a deployment is already in progress.
var ErrBusy = errors.New("runner: agent busy")

// ErrUnknownDeployment is returned when a deployment ID does not match the
// runner's current record.
var ErrUnknownDeployment = errors.New("runner: unknown deployment")

// Engine is the container runtime surface the runner drives. Satisfied by
// *dockerx.Client.
type Engine interface {
	PullImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, ref, name string) (string, error)
	StartContainer(ctx context.Context, id string) error
	InspectPorts(ctx context.Context, id string) (fabric.PortMap, error)
	WaitContainer(ctx context.Context, id string) (int64, error)
	StreamLogs(ctx context.Context, id string, dst io.Writer) error
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	RemoveImage(ctx context.Context, ref string) error
}

// task is the runner's record of one deployment. status is guarded by the
// runner mutex; the log buffer has its own lock. done closes when the
// monitor has finished cleanup.
type task struct {
	deploymentID string
	containerID  string
	image        string
	ports        fabric.PortMap
	status       fabric.DeploymentStatus
	logs         *logBuffer
	stopStream   context.CancelFunc
	gen          uint64
	done         chan struct{}
}

// Runner executes deployments one at a time against the local container
// engine. Create instances with New.
type Runner struct {
	engine Engine
	logger *zap.Logger

	busy atomic.Bool

	mu  sync.RWMutex // guards cur, cur.status, and gen
	cur *task
	gen uint64 // claim generation, bumped each time the slot is taken
}

// New creates a Runner backed by the given engine.
func New(engine Engine, logger *zap.Logger) *Runner {
	return &Runner{
		engine: engine,
		logger: logger.Named("runner"),
	}
}

// State reports the agent's availability for heartbeat reporting.
func (r *Runner) State() fabric.AgentState {
	if r.busy.Load() {
		return fabric.AgentBusy
	}
	return fabric.AgentFree
}

// claim takes the deployment slot. The returned generation ties later
// releases to this claim.
func (r *Runner) claim() (uint64, bool) {
	if !r.busy.CompareAndSwap(false, true) {
		return 0, false
	}
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.mu.Unlock()
	return gen, true
}

// release frees the slot, but only if it still belongs to the given claim.
// Cancel frees the slot early, before the monitor is done with cleanup; the
// generation check keeps that late monitor release from clobbering a slot
// that a newer deployment already claimed.
func (r *Runner) release(gen uint64) {
	r.mu.Lock()
	if r.gen == gen {
		r.busy.Store(false)
	}
	r.mu.Unlock()
}

// Start launches a deployment of image and returns its generated ID along
// with the host port bindings observed right after the container started.
// containerName may be empty, in which case the daemon picks a name.
//
// Returns ErrBusy without side effects when a deployment is already running.
// Any failure before the container is up rolls the slot back to Free, so a
// failed start never wedges the agent.
//
// Start sequence:
//  1. Claim the slot (atomic Free -> Busy)
//  2. Create the container, pulling the image first if it is missing
//  3. Start the container and snapshot its published ports
//  4. Publish the task record and detach the monitor goroutine
func (r *Runner) Start(ctx context.Context, image, containerName string) (string, fabric.PortMap, error) {
	// --- 1. Claim the slot ---
	gen, ok := r.claim()
	if !ok {
		return "", nil, ErrBusy
	}

	deploymentID := uuid.NewString()
	log := r.logger.With(
		zap.String("deployment_id", deploymentID),
		zap.String("image", image),
	)

	rollback := func(containerID string, err error) (string, fabric.PortMap, error) {
		if containerID != "" {
			if rmErr := r.engine.RemoveContainer(context.Background(), containerID); rmErr != nil {
				log.Warn("rollback: container remove failed", zap.Error(rmErr))
			}
		}
		r.release(gen)
		return "", nil, err
	}

	// --- 2. Create, pulling on demand ---
	containerID, err := r.engine.CreateContainer(ctx, image, containerName)
	if err != nil && dockerx.IsNotFound(err) {
		log.Info("image not present locally, pulling")
		if pullErr := r.engine.PullImage(ctx, image); pullErr != nil {
			return rollback("", fmt.Errorf("pull image %q: %w", image, pullErr))
		}
		containerID, err = r.engine.CreateContainer(ctx, image, containerName)
	}
	if err != nil {
		return rollback("", fmt.Errorf("create container: %w", err))
	}

	// --- 3. Start and snapshot ports ---
	if err := r.engine.StartContainer(ctx, containerID); err != nil {
		return rollback(containerID, fmt.Errorf("start container: %w", err))
	}

	ports, err := r.engine.InspectPorts(ctx, containerID)
	if err != nil {
		// The container is running; a failed inspect costs us the port map,
		// not the deployment.
		log.Warn("port inspection failed", zap.Error(err))
		ports = fabric.PortMap{}
	}

	// --- 4. Publish the record and detach the monitor ---
	streamCtx, stopStream := context.WithCancel(context.Background())
	t := &task{
		deploymentID: deploymentID,
		containerID:  containerID,
		image:        image,
		ports:        ports,
		status:       fabric.StatusRunning,
		logs:         newLogBuffer(maxLogBytes),
		stopStream:   stopStream,
		gen:          gen,
		done:         make(chan struct{}),
	}

	r.mu.Lock()
	r.cur = t
	r.mu.Unlock()

	go r.monitor(streamCtx, t, log)

	log.Info("deployment started", zap.String("container_id", containerID))
	return deploymentID, ports, nil
}

// monitor follows a started deployment to its end: it streams container
// output into the task's buffer, waits for the container to exit, records
// the terminal status, and releases the slot after cleanup.
//
// A status set by Cancel is terminal and wins over whatever the exit code
// would have said.
func (r *Runner) monitor(streamCtx context.Context, t *task, log *zap.Logger) {
	defer close(t.done)

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := r.engine.StreamLogs(streamCtx, t.containerID, t.logs); err != nil {
			t.logs.WriteString("\nError during log streaming: " + err.Error())
			log.Warn("log streaming failed", zap.Error(err))
		}
	}()

	exitCode, waitErr := r.engine.WaitContainer(context.Background(), t.containerID)

	// The follow stream ends with the container, but cancel it anyway so a
	// wedged stream cannot leak the goroutine.
	t.stopStream()
	<-streamDone

	final := fabric.StatusCompleted
	switch {
	case waitErr != nil:
		final = fabric.StatusFailed
		log.Warn("container wait failed", zap.Error(waitErr))
	case exitCode != 0:
		final = fabric.StatusFailed
	}

	r.mu.Lock()
	if !t.status.Terminal() {
		t.status = final
	}
	final = t.status
	r.mu.Unlock()

	r.cleanup(t)
	r.release(t.gen)

	log.Info("deployment finished",
		zap.String("status", string(final)),
		zap.Int64("exit_code", exitCode),
	)
}

// cleanup removes the deployment's container and image. Failures are
// appended to the task log so they surface to whoever reads the logs, but
// they never block releasing the slot.
func (r *Runner) cleanup(t *task) {
	if err := r.engine.RemoveContainer(context.Background(), t.containerID); err != nil {
		t.logs.WriteString("\nCleanup error: " + err.Error())
		r.logger.Warn("container cleanup failed",
			zap.String("deployment_id", t.deploymentID),
			zap.Error(err),
		)
	}
	if err := r.engine.RemoveImage(context.Background(), t.image); err != nil {
		t.logs.WriteString("\nCleanup error: " + err.Error())
		r.logger.Warn("image cleanup failed",
			zap.String("deployment_id", t.deploymentID),
			zap.Error(err),
		)
	}
}

// Cancel stops the deployment identified by deploymentID and returns the
// resulting status. Cancelling a deployment that already reached a terminal
// state returns that state unchanged, so retried cancels are idempotent.
//
// Returns ErrUnknownDeployment when the ID does not match the current record.
func (r *Runner) Cancel(ctx context.Context, deploymentID string) (fabric.DeploymentStatus, error) {
	r.mu.Lock()
	t := r.cur
	if t == nil || t.deploymentID != deploymentID {
		r.mu.Unlock()
		return "", ErrUnknownDeployment
	}
	if t.status.Terminal() {
		status := t.status
		r.mu.Unlock()
		return status, nil
	}
	t.status = fabric.StatusCancelled
	containerID := t.containerID
	r.mu.Unlock()

	// Graceful stop; the monitor goroutine observes the exit, sees the
	// terminal status already set, and finishes cleanup in the background.
	if err := r.engine.StopContainer(ctx, containerID); err != nil {
		r.logger.Warn("container stop failed",
			zap.String("deployment_id", deploymentID),
			zap.Error(err),
		)
	}

	// The slot frees as soon as the task is terminal rather than after
	// cleanup, so the agent advertises Free on its next heartbeat. The
	// generation check in release keeps the monitor's own later release
	// from touching a newer claim.
	r.release(t.gen)

	r.logger.Info("deployment cancelled", zap.String("deployment_id", deploymentID))
	return fabric.StatusCancelled, nil
}

// Shutdown stops the running deployment's container, if any, and waits for
// its monitor to finish cleanup or for ctx to expire. Called on process
// termination so no container outlives its agent unsupervised.
func (r *Runner) Shutdown(ctx context.Context) {
	r.mu.Lock()
	t := r.cur
	var stopNeeded bool
	if t != nil && !t.status.Terminal() {
		t.status = fabric.StatusCancelled
		stopNeeded = true
	}
	r.mu.Unlock()

	if t == nil {
		return
	}

	if stopNeeded {
		if err := r.engine.StopContainer(ctx, t.containerID); err != nil {
			r.logger.Warn("shutdown: container stop failed",
				zap.String("deployment_id", t.deploymentID),
				zap.Error(err),
			)
		}
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		r.logger.Warn("shutdown: cleanup still in progress at exit",
			zap.String("deployment_id", t.deploymentID),
		)
	}
}

// Snapshot returns the status, buffered logs, and port bindings of the
// deployment identified by deploymentID.
//
// Returns ErrUnknownDeployment when the ID does not match the current record.
func (r *Runner) Snapshot(deploymentID string) (fabric.DeploymentLogsResponse, error) {
	r.mu.RLock()
	t := r.cur
	var status fabric.DeploymentStatus
	if t != nil {
		status = t.status
	}
	r.mu.RUnlock()

	if t == nil || t.deploymentID != deploymentID {
		return fabric.DeploymentLogsResponse{}, ErrUnknownDeployment
	}

	return fabric.DeploymentLogsResponse{
		Status:      status,
		Logs:        t.logs.String(),
		MappedPorts: t.ports,
	}, nil
}
