package sweep

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/fabric"
	"github.com/DIGVI962/DRaaS/internal/scheduler/events"
	"github.com/DIGVI962/DRaaS/internal/scheduler/metrics"
	"github.com/DIGVI962/DRaaS/internal/scheduler/placement"
	"github.com/DIGVI962/DRaaS/internal/scheduler/registry"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []events.Message
}

func (f *fakePublisher) Publish(msg events.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakePublisher) messages() []events.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Message(nil), f.msgs...)
}

// newTestSweeper wires a Sweeper around real components with the given
// registry timeout and placement retention.
func newTestSweeper(t *testing.T, timeout, retention time.Duration) (*Sweeper, *registry.Registry, *placement.Map, *fakePublisher) {
	t.Helper()
	nop := zap.NewNop()
	reg := registry.New(timeout, nop)
	placements := placement.New(retention, nop)
	pub := &fakePublisher{}
	s, err := New(reg, placements, pub, metrics.New(reg, placements), nop)
	require.NoError(t, err)
	return s, reg, placements, pub
}

// TestExpireAgents tests that a pass drops silent agents and announces each
// loss on the agents topic.
func TestExpireAgents(t *testing.T) {
	s, reg, _, pub := newTestSweeper(t, time.Millisecond, time.Hour)
	reg.Upsert(fabric.Heartbeat{AgentID: "agent-1", IP: "10.0.0.1:5001", State: fabric.AgentFree})
	reg.Upsert(fabric.Heartbeat{AgentID: "agent-2", IP: "10.0.0.2:5001", State: fabric.AgentBusy})

	// Let both records fall out of the liveness window.
	time.Sleep(5 * time.Millisecond)
	s.expireAgents()

	assert.Zero(t, reg.Count())

	msgs := pub.messages()
	require.Len(t, msgs, 2)
	var ids []string
	for _, msg := range msgs {
		assert.Equal(t, events.MsgAgentExpired, msg.Type)
		assert.Equal(t, events.TopicAgents, msg.Topic)
		payload, ok := msg.Payload.(map[string]any)
		require.True(t, ok)
		id, _ := payload["agent_id"].(string)
		ids = append(ids, id)
	}
	assert.ElementsMatch(t, []string{"agent-1", "agent-2"}, ids)
}

// TestExpireAgentsKeepsFresh tests that a pass over live agents is silent.
func TestExpireAgentsKeepsFresh(t *testing.T) {
	s, reg, _, pub := newTestSweeper(t, time.Hour, time.Hour)
	reg.Upsert(fabric.Heartbeat{AgentID: "agent-1", IP: "10.0.0.1:5001", State: fabric.AgentFree})

	s.expireAgents()

	assert.Equal(t, 1, reg.Count())
	assert.Empty(t, pub.messages())
}

// TestPrunePlacements tests that a pass forgets aged-out terminal records
// and leaves running ones alone.
func TestPrunePlacements(t *testing.T) {
	s, _, placements, _ := newTestSweeper(t, time.Hour, 0)
	placements.Record("done", "10.0.0.1:5001", "user_code_image_11111111", nil)
	placements.Record("live", "10.0.0.2:5001", "user_code_image_22222222", nil)
	placements.SetStatus("done", fabric.StatusCompleted)

	// Zero retention: the terminal record is prunable as soon as the clock
	// moves past its completion.
	time.Sleep(time.Millisecond)
	s.prunePlacements()

	_, ok := placements.Get("done")
	assert.False(t, ok)
	_, ok = placements.Get("live")
	assert.True(t, ok)
}

// TestStartAndStop tests that the job registration and scheduler lifecycle
// round-trip cleanly.
func TestStartAndStop(t *testing.T) {
	s, _, _, _ := newTestSweeper(t, time.Hour, time.Hour)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}
