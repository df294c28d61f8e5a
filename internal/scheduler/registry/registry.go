// Package registry maintains the scheduler's in-memory view of worker
// agents, fed entirely by heartbeats: an agent exists exactly as long as it
// keeps reporting. There is no explicit register or deregister call; the
// first heartbeat creates the record, every later one replaces it, and a
// periodic sweep drops agents that have gone silent.
//
// All state is in-memory and intentionally non-persistent: after a scheduler
// restart the registry repopulates within one heartbeat interval.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/fabric"
)

// DefaultTimeout is how long an agent may go without a heartbeat before it
// is considered gone. The expiry sweep runs on the same cadence.
const DefaultTimeout = 10 * time.Second

// ErrNoAgents is returned by Select when no agent is both fresh and Free.
var ErrNoAgents = errors.New("registry: no agents available")

// entry is the registry's mutable record of one agent.
type entry struct {
	ip         string
	cpu        float64
	memory     float64
	state      fabric.AgentState
	reputation int
	lastSeen   time.Time
}

// Registry is the in-memory agent table. It is safe for concurrent use by
// the HTTP handlers and the expiry sweep.
//
// The zero value is not usable; create instances with New.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*entry
	timeout time.Duration
	logger  *zap.Logger

	now func() time.Time // replaced in tests
}

// New creates a Registry that forgets agents silent for longer than timeout.
func New(timeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		agents:  make(map[string]*entry),
		timeout: timeout,
		logger:  logger.Named("registry"),
		now:     time.Now,
	}
}

// Upsert records a heartbeat, replacing any previous record for the agent
// wholesale. A missing reputation falls back to the default rather than
// sticking to an earlier value, so repeated identical heartbeats always
// converge to the same record. Returns true when the agent was not present
// before, i.e. it just came online.
func (r *Registry) Upsert(hb fabric.Heartbeat) bool {
	reputation := fabric.DefaultReputation
	if hb.Reputation != nil {
		reputation = *hb.Reputation
	}

	r.mu.Lock()
	_, existed := r.agents[hb.AgentID]
	r.agents[hb.AgentID] = &entry{
		ip:         hb.IP,
		cpu:        hb.CPU,
		memory:     hb.Memory,
		state:      hb.State,
		reputation: reputation,
		lastSeen:   r.now(),
	}
	total := len(r.agents)
	r.mu.Unlock()

	if !existed {
		r.logger.Info("agent online",
			zap.String("agent_id", hb.AgentID),
			zap.String("ip", hb.IP),
			zap.Int("total_agents", total),
		)
	} else {
		r.logger.Debug("heartbeat received",
			zap.String("agent_id", hb.AgentID),
			zap.String("state", string(hb.State)),
		)
	}
	return !existed
}

// ExpireStale removes every agent whose last heartbeat is older than the
// registry timeout and returns their IDs, sorted for deterministic logs.
// Called periodically by the scheduler's sweep job.
func (r *Registry) ExpireStale() []string {
	cutoff := r.now().Add(-r.timeout)

	r.mu.Lock()
	var expired []string
	for id, e := range r.agents {
		if e.lastSeen.Before(cutoff) {
			delete(r.agents, id)
			expired = append(expired, id)
		}
	}
	total := len(r.agents)
	r.mu.Unlock()

	sort.Strings(expired)
	for _, id := range expired {
		r.logger.Info("agent expired",
			zap.String("agent_id", id),
			zap.Int("total_agents", total),
		)
	}
	return expired
}

// Select picks the agent to run the next deployment: among agents that are
// fresh (heard from strictly within the timeout) and Free, the one with the
// lowest CPU load wins; ties fall through to lowest memory, then
// lexicographically smallest agent ID so that equal loads still select
// deterministically.
//
// Selection is read-only: the chosen agent stays Free in the registry until
// its own next heartbeat reports Busy. A concurrent upload can therefore
// pick the same agent and lose the race at dispatch, which the worker
// rejects on its own.
func (r *Registry) Select() (string, fabric.AgentRecord, error) {
	cutoff := r.now().Add(-r.timeout)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		bestID string
		best   *entry
	)
	for id, e := range r.agents {
		if e.state != fabric.AgentFree || !e.lastSeen.After(cutoff) {
			continue
		}
		if best == nil || lessLoaded(e, id, best, bestID) {
			bestID, best = id, e
		}
	}
	if best == nil {
		return "", fabric.AgentRecord{}, ErrNoAgents
	}
	return bestID, record(best), nil
}

// lessLoaded reports whether candidate a orders before current best b:
// lower CPU, then lower memory, then smaller ID.
func lessLoaded(a *entry, aID string, b *entry, bID string) bool {
	if a.cpu != b.cpu {
		return a.cpu < b.cpu
	}
	if a.memory != b.memory {
		return a.memory < b.memory
	}
	return aID < bID
}

// Snapshot returns a copy of the registry keyed by agent ID, in the wire
// shape served by GET /agents.
func (r *Registry) Snapshot() map[string]fabric.AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]fabric.AgentRecord, len(r.agents))
	for id, e := range r.agents {
		out[id] = record(e)
	}
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// record converts an entry to its wire shape. LastSeen is Unix seconds with
// a fractional part.
func record(e *entry) fabric.AgentRecord {
	return fabric.AgentRecord{
		IP:         e.ip,
		CPU:        e.cpu,
		Memory:     e.memory,
		State:      e.state,
		Reputation: e.reputation,
		LastSeen:   float64(e.lastSeen.UnixNano()) / float64(time.Second),
	}
}
