// Package heartbeat reports the agent's liveness, load, and availability to
// the scheduler on a fixed cadence.
//
// A failed report is logged and retried on the next tick rather than
// terminating the loop: the scheduler expires silent agents on its own, and
// an agent that regains connectivity re-enters the pool with its next
// successful report. Registration is implicit, the first heartbeat is all it
// takes.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/agent/sysinfo"
	"github.com/DIGVI962/DRaaS/internal/fabric"
)

const (
	// interval is how often the agent reports itself. The scheduler drops
	// agents it has not heard from within a multiple of this.
	interval = 2 * time.Second

	// sendTimeout bounds each report POST, covering both connection setup
	// and the scheduler's handling time.
	sendTimeout = 5 * time.Second
)

// StateSource yields the agent's current availability. Implemented by the
// runner.
type StateSource interface {
	State() fabric.AgentState
}

// Reporter periodically POSTs heartbeats to the scheduler.
// Create instances with New.
type Reporter struct {
	schedulerURL string
	agentID      string
	advertiseIP  string
	source       StateSource
	client       *http.Client
	logger       *zap.Logger

	collect func(ctx context.Context) (sysinfo.Snapshot, error) // replaced in tests
}

// New creates a Reporter. schedulerURL is the scheduler's base URL;
// advertiseIP is the host:port other parties should use to reach this
// agent's API, forwarded verbatim in every heartbeat.
func New(schedulerURL, agentID, advertiseIP string, source StateSource, logger *zap.Logger) *Reporter {
	return &Reporter{
		schedulerURL: schedulerURL,
		agentID:      agentID,
		advertiseIP:  advertiseIP,
		source:       source,
		client:       &http.Client{Timeout: sendTimeout},
		logger:       logger.Named("heartbeat"),
		collect:      sysinfo.Collect,
	}
}

// Run sends a first heartbeat immediately, then one per interval until ctx
// is cancelled. It always returns nil after ctx is done; transient send
// failures are logged, not returned.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.send(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("heartbeat failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// send samples host metrics and POSTs one heartbeat. A metrics failure
// degrades to zero readings instead of skipping the report, so the agent
// stays registered even when the host stats are unreadable.
func (r *Reporter) send(ctx context.Context) error {
	snap, err := r.collect(ctx)
	if err != nil {
		r.logger.Warn("metrics collection failed, reporting zeros", zap.Error(err))
	}

	body, err := json.Marshal(fabric.Heartbeat{
		AgentID: r.agentID,
		IP:      r.advertiseIP,
		CPU:     snap.CPU,
		Memory:  snap.Memory,
		State:   r.source.State(),
	})
	if err != nil {
		return fmt.Errorf("heartbeat: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.schedulerURL+"/heartbeat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("heartbeat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat: send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drained for connection reuse

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat: scheduler returned %d", resp.StatusCode)
	}

	r.logger.Debug("heartbeat sent",
		zap.String("agent_id", r.agentID),
		zap.String("state", string(r.source.State())),
	)
	return nil
}
