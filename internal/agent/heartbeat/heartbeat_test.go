package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/agent/sysinfo"
	"github.com/DIGVI962/DRaaS/internal/fabric"
)

type fixedState struct {
	state fabric.AgentState
}

func (f fixedState) State() fabric.AgentState { return f.state }

func newTestReporter(schedulerURL string, state fabric.AgentState) *Reporter {
	r := New(schedulerURL, "agent-1", "10.0.0.7:5001", fixedState{state}, zap.NewNop())
	r.collect = func(ctx context.Context) (sysinfo.Snapshot, error) {
		return sysinfo.Snapshot{CPU: 12.5, Memory: 40.25}, nil
	}
	return r
}

// TestSendPayload tests the heartbeat wire shape: one POST to /heartbeat
// carrying the agent's identity, advertised endpoint, load sample, and
// availability.
func TestSendPayload(t *testing.T) {
	var got fabric.Heartbeat
	scheduler := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/heartbeat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer scheduler.Close()

	r := newTestReporter(scheduler.URL, fabric.AgentBusy)
	require.NoError(t, r.send(context.Background()))

	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, "10.0.0.7:5001", got.IP)
	assert.Equal(t, 12.5, got.CPU)
	assert.Equal(t, 40.25, got.Memory)
	assert.Equal(t, fabric.AgentBusy, got.State)
}

// TestSendDegradesToZeros tests that a failed metrics sample still reports,
// with zero readings, instead of skipping the heartbeat.
func TestSendDegradesToZeros(t *testing.T) {
	var got fabric.Heartbeat
	scheduler := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer scheduler.Close()

	r := newTestReporter(scheduler.URL, fabric.AgentFree)
	r.collect = func(ctx context.Context) (sysinfo.Snapshot, error) {
		return sysinfo.Snapshot{}, errors.New("proc unreadable")
	}

	require.NoError(t, r.send(context.Background()))
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Zero(t, got.CPU)
	assert.Zero(t, got.Memory)
}

// TestSendFailures tests that scheduler rejections and transport failures
// surface as errors for the loop to log.
func TestSendFailures(t *testing.T) {
	t.Run("non-200 reply", func(t *testing.T) {
		scheduler := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer scheduler.Close()

		r := newTestReporter(scheduler.URL, fabric.AgentFree)
		err := r.send(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("scheduler unreachable", func(t *testing.T) {
		scheduler := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := scheduler.URL
		scheduler.Close()

		r := newTestReporter(url, fabric.AgentFree)
		assert.Error(t, r.send(context.Background()))
	})
}

// TestRun tests the loop: an immediate first heartbeat, survival across
// send failures, and a nil return once the context is cancelled.
func TestRun(t *testing.T) {
	var reports atomic.Int64
	scheduler := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reports.Add(1)
		// Fail the first report; the loop must keep going.
		if reports.Load() == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer scheduler.Close()

	r := newTestReporter(scheduler.URL, fabric.AgentFree)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// The first report happens before any tick.
	require.Eventually(t, func() bool {
		return reports.Load() >= 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
