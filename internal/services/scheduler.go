package services

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/ascentlog/syncclient/internal/observability"
)

// SyncScheduler triggers SyncIfDue on a cron schedule
type SyncScheduler struct {
	spec        string
	coordinator *SyncCoordinator
	logger      *observability.Logger
	cron        *cron.Cron
	entryID     cron.EntryID

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSyncScheduler creates a new SyncScheduler. An empty spec disables it.
func NewSyncScheduler(spec string, coordinator *SyncCoordinator, logger *observability.Logger) *SyncScheduler {
	return &SyncScheduler{
		spec:        spec,
		coordinator: coordinator,
		logger:      logger.WithField("component", "scheduler"),
		cron:        cron.New(),
	}
}

// Start registers the job and starts the cron runner
func (s *SyncScheduler) Start(ctx context.Context) error {
	if s.spec == "" {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	id, err := s.cron.AddFunc(s.spec, s.trigger)
	if err != nil {
		return err
	}
	s.entryID = id
	s.logger.Infof("Starting scheduler with schedule %q", s.spec)
	s.cron.Start()
	return nil
}

// Stop halts the runner and waits for a running cycle to finish
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Stopped scheduler")
}

func (s *SyncScheduler) trigger() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	report, ran, err := s.coordinator.SyncIfDue(ctx)
	switch {
	case err != nil:
		s.logger.Warnf("Scheduled sync failed: %v", err)
	case !ran:
		s.logger.Debug("Scheduled sync skipped")
	default:
		s.logger.Debugf("Scheduled sync pushed %d, pulled %d", report.Push.Acknowledged, report.Pull.Applied)
	}
}
