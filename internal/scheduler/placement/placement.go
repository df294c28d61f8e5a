// Package placement tracks which agent runs which deployment. The scheduler
// records a placement when a dispatch succeeds and uses it to route log and
// cancel requests to the owning worker.
//
// Status here is a cache of the worker's truth: it is updated from proxied
// worker responses, never invented locally. Terminal statuses are sticky,
// and terminal placements are pruned after a retention window so the map
// does not grow without bound.
package placement

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/fabric"
)

// DefaultRetention is how long a terminal placement stays queryable before
// the prune job drops it.
const DefaultRetention = time.Hour

// entry is the map's mutable record of one placement.
type entry struct {
	agent      string
	image      string
	ports      fabric.PortMap
	status     fabric.DeploymentStatus
	terminalAt time.Time // zero until the status turns terminal
}

// Map is the in-memory placement table. It is safe for concurrent use by
// the HTTP handlers and the prune sweep.
//
// The zero value is not usable; create instances with New.
type Map struct {
	mu        sync.RWMutex
	records   map[string]*entry
	retention time.Duration
	logger    *zap.Logger

	now func() time.Time // replaced in tests
}

// New creates a Map that prunes terminal placements after retention.
func New(retention time.Duration, logger *zap.Logger) *Map {
	return &Map{
		records:   make(map[string]*entry),
		retention: retention,
		logger:    logger.Named("placement"),
		now:       time.Now,
	}
}

// Record stores a freshly dispatched deployment as running on agent.
func (m *Map) Record(deploymentID, agent, image string, ports fabric.PortMap) {
	m.mu.Lock()
	m.records[deploymentID] = &entry{
		agent:  agent,
		image:  image,
		ports:  ports,
		status: fabric.StatusRunning,
	}
	m.mu.Unlock()

	m.logger.Info("placement recorded",
		zap.String("deployment_id", deploymentID),
		zap.String("agent", agent),
		zap.String("image", image),
	)
}

// Get returns the placement for deploymentID in wire shape.
func (m *Map) Get(deploymentID string) (fabric.PlacementRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.records[deploymentID]
	if !ok {
		return fabric.PlacementRecord{}, false
	}
	return record(deploymentID, e), true
}

// SetStatus folds a status observed from the owning worker into the cache.
// A terminal status is sticky: once set, later differing reports are
// ignored. Returns true when the cached status actually changed.
func (m *Map) SetStatus(deploymentID string, status fabric.DeploymentStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.records[deploymentID]
	if !ok || e.status == status || e.status.Terminal() {
		return false
	}
	e.status = status
	if status.Terminal() {
		e.terminalAt = m.now()
	}
	return true
}

// PruneTerminal removes placements that have been terminal for longer than
// the retention window and returns their IDs, sorted. Called periodically
// by the scheduler's sweep job.
func (m *Map) PruneTerminal() []string {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	var pruned []string
	for id, e := range m.records {
		if e.status.Terminal() && !e.terminalAt.IsZero() && e.terminalAt.Before(cutoff) {
			delete(m.records, id)
			pruned = append(pruned, id)
		}
	}
	m.mu.Unlock()

	sort.Strings(pruned)
	for _, id := range pruned {
		m.logger.Debug("placement pruned", zap.String("deployment_id", id))
	}
	return pruned
}

// Snapshot returns a copy of the table keyed by deployment ID, in the wire
// shape served by GET /deployments.
func (m *Map) Snapshot() map[string]fabric.PlacementRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]fabric.PlacementRecord, len(m.records))
	for id, e := range m.records {
		out[id] = record(id, e)
	}
	return out
}

// ActiveCount returns the number of placements still reported running.
func (m *Map) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.records {
		if e.status == fabric.StatusRunning {
			n++
		}
	}
	return n
}

func record(id string, e *entry) fabric.PlacementRecord {
	return fabric.PlacementRecord{
		DeploymentID: id,
		Agent:        e.agent,
		Image:        e.image,
		MappedPorts:  e.ports,
		Status:       e.status,
	}
}
