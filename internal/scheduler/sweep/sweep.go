// Package sweep runs the scheduler's periodic housekeeping on a shared
// gocron scheduler: the agent expiry sweep and the terminal-placement prune.
//
// Each job runs in singleton mode: if a pass is still running when the next
// tick fires, the new pass is skipped rather than stacked.
package sweep

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/scheduler/events"
	"github.com/DIGVI962/DRaaS/internal/scheduler/metrics"
	"github.com/DIGVI962/DRaaS/internal/scheduler/placement"
	"github.com/DIGVI962/DRaaS/internal/scheduler/registry"
)

const (
	// expireInterval matches the registry's liveness window so an agent is
	// dropped at most one window after its last heartbeat.
	expireInterval = registry.DefaultTimeout

	// pruneInterval paces the terminal-placement prune. Records are kept for
	// placement.DefaultRetention, so the prune only has to run often enough
	// to keep the map from hoarding them much longer than that.
	pruneInterval = 10 * time.Minute
)

// Publisher receives housekeeping events. Implemented by *events.Hub.
type Publisher interface {
	Publish(msg events.Message)
}

// Sweeper owns the gocron scheduler and the two housekeeping jobs.
// The zero value is not usable; create instances with New.
type Sweeper struct {
	cron       gocron.Scheduler
	registry   *registry.Registry
	placements *placement.Map
	hub        Publisher
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// New creates and configures a Sweeper. Call Start to begin processing.
func New(
	reg *registry.Registry,
	placements *placement.Map,
	hub Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Sweeper, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Sweeper{
		cron:       cron,
		registry:   reg,
		placements: placements,
		hub:        hub,
		metrics:    m,
		logger:     logger.Named("sweep"),
	}, nil
}

// Start registers the housekeeping jobs and starts the underlying gocron
// scheduler. It should be called once at startup.
func (s *Sweeper) Start() error {
	if _, err := s.cron.NewJob(
		gocron.DurationJob(expireInterval),
		gocron.NewTask(s.expireAgents),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("failed to schedule agent expiry sweep: %w", err)
	}

	if _, err := s.cron.NewJob(
		gocron.DurationJob(pruneInterval),
		gocron.NewTask(s.prunePlacements),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("failed to schedule placement prune: %w", err)
	}

	s.cron.Start()
	s.logger.Info("housekeeping started",
		zap.Duration("expire_interval", expireInterval),
		zap.Duration("prune_interval", pruneInterval),
	)
	return nil
}

// Stop gracefully shuts down the underlying gocron scheduler, waiting for a
// currently running pass to complete before returning.
func (s *Sweeper) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("housekeeping shutdown error: %w", err)
	}
	s.logger.Info("housekeeping stopped")
	return nil
}

// expireAgents drops agents whose last heartbeat fell out of the liveness
// window and announces each loss on the agents topic.
func (s *Sweeper) expireAgents() {
	expired := s.registry.ExpireStale()
	if len(expired) == 0 {
		return
	}

	s.metrics.MarkExpired(len(expired))
	for _, id := range expired {
		s.hub.Publish(events.NewMessage(events.MsgAgentExpired, events.TopicAgents, map[string]any{
			"agent_id": id,
		}))
	}
}

// prunePlacements forgets terminal placements older than the retention
// window. Nothing is announced; the records already carried their terminal
// status when it happened.
func (s *Sweeper) prunePlacements() {
	pruned := s.placements.PruneTerminal()
	if len(pruned) > 0 {
		s.logger.Debug("pruned terminal placements",
			zap.Int("count", len(pruned)),
			zap.Strings("deployment_ids", pruned),
		)
	}
}
