package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/repository"
)

// SyncOptions tunes a sync cycle
type SyncOptions struct {
	DeviceID             string
	BatchSize            int
	MaxPushBatches       int
	JitterSeconds        float64
	MaxRetryDelaySeconds float64
	AutoResolveLowRisk   bool
}

// SyncCoordinator runs push/pull cycles one at a time and keeps the retry schedule
type SyncCoordinator struct {
	store     *repository.Store
	actor     *StoreActor
	push      *PushService
	pull      *PullService
	bootstrap *BootstrapService
	conflicts *ConflictService
	events    EventPublisher
	logger    *observability.Logger
	opts      SyncOptions

	cycleMu sync.Mutex
	jitter  func() float64
	now     func() time.Time
}

// NewSyncCoordinator creates a new SyncCoordinator
func NewSyncCoordinator(
	store *repository.Store,
	actor *StoreActor,
	push *PushService,
	pull *PullService,
	bootstrap *BootstrapService,
	conflicts *ConflictService,
	events EventPublisher,
	logger *observability.Logger,
	opts SyncOptions,
) *SyncCoordinator {
	if events == nil {
		events = nopPublisher{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxPushBatches <= 0 {
		opts.MaxPushBatches = 1
	}
	c := &SyncCoordinator{
		store:     store,
		actor:     actor,
		push:      push,
		pull:      pull,
		bootstrap: bootstrap,
		conflicts: conflicts,
		events:    events,
		logger:    logger.WithField("component", "coordinator"),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
	c.jitter = func() float64 {
		if c.opts.JitterSeconds <= 0 {
			return 0
		}
		return rand.Float64() * c.opts.JitterSeconds
	}
	return c
}

// SyncNow runs one full cycle: bootstrap if needed, push, optional auto-resolve, pull
func (c *SyncCoordinator) SyncNow(ctx context.Context) (*models.SyncReport, error) {
	if !c.cycleMu.TryLock() {
		return nil, models.ErrSyncInProgress
	}
	defer c.cycleMu.Unlock()

	ctx, span := observability.StartServiceSpan(ctx, "coordinator", "sync_now")
	defer span.End()

	state, err := c.store.State.Get(ctx)
	if err != nil {
		return nil, persistenceError("load sync state", err)
	}
	if state == nil {
		return nil, models.ErrNoSyncState
	}
	if !state.IsSyncEnabled {
		return nil, models.ErrSyncDisabled
	}

	report := &models.SyncReport{StartedAt: c.now()}
	c.events.Publish(TopicSync, WSTypeSyncStarted, map[string]interface{}{"userId": state.UserID})

	if err := c.cycle(ctx, report); err != nil {
		observability.RecordError(span, err)
		c.recordFailure(ctx, err)
		return report, err
	}

	report.FinishedAt = c.now()
	if err := c.updateState(ctx, func(s *models.SyncState) {
		finished := report.FinishedAt
		s.LastSuccessfulSyncAt = &finished
		s.ConsecutiveFailures = 0
		s.NextAttemptAt = nil
	}); err != nil {
		observability.RecordError(span, err)
		return report, err
	}

	c.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"acknowledged":  report.Push.Acknowledged,
		"failed":        report.Push.Failures,
		"conflicts":     report.Push.Conflicts,
		"pulled":        report.Pull.Applied,
		"auto_resolved": report.AutoResolved,
	}).Info("Sync completed")
	c.events.Publish(TopicSync, WSTypeSyncCompleted, report)
	observability.SetSuccess(span)
	return report, nil
}

func (c *SyncCoordinator) cycle(ctx context.Context, report *models.SyncReport) error {
	bootstrapped, err := c.bootstrap.EnqueueLocalSnapshotIfNeeded(ctx)
	if err != nil {
		return err
	}
	report.Bootstrapped = bootstrapped

	if err := c.drain(ctx, report); err != nil {
		return err
	}

	if c.opts.AutoResolveLowRisk && report.Push.Conflicts > 0 {
		n, err := c.conflicts.AutoResolveLowRisk(ctx)
		if err != nil {
			return err
		}
		report.AutoResolved = n
		if n > 0 {
			// Rebased keep-mine mutations go out in the same cycle
			if err := c.drain(ctx, report); err != nil {
				return err
			}
		}
	}

	pulled, err := c.pull.PullAll(ctx)
	report.Pull = pulled
	return err
}

func (c *SyncCoordinator) drain(ctx context.Context, report *models.SyncReport) error {
	for i := 0; i < c.opts.MaxPushBatches; i++ {
		result, sent, err := c.push.DrainAndPush(ctx, c.opts.BatchSize)
		report.Push.Add(result)
		if err != nil {
			return err
		}
		if sent < c.opts.BatchSize {
			return nil
		}
	}
	return nil
}

// recordFailure schedules the next automatic attempt after a transient failure
func (c *SyncCoordinator) recordFailure(ctx context.Context, cause error) {
	logger := c.logger.WithContext(ctx)
	c.events.Publish(TopicSync, WSTypeSyncFailed, map[string]interface{}{
		"error":     cause.Error(),
		"transient": IsTransient(cause),
	})

	if !IsTransient(cause) {
		logger.Errorf("Sync failed: %v", cause)
		return
	}

	var nextAt time.Time
	err := c.updateState(context.WithoutCancel(ctx), func(s *models.SyncState) {
		s.ConsecutiveFailures++
		delay := AutomaticRetryDelaySeconds(s.ConsecutiveFailures, c.jitter(), c.opts.MaxRetryDelaySeconds)
		nextAt = c.now().Add(time.Duration(delay * float64(time.Second)))
		s.NextAttemptAt = &nextAt
	})
	if err != nil {
		logger.Errorf("Failed to record sync failure: %v", err)
		return
	}
	logger.Warnf("Sync failed, retrying at %s: %v", models.FormatWireTime(nextAt), cause)
}

func (c *SyncCoordinator) updateState(ctx context.Context, fn func(s *models.SyncState)) error {
	return c.actor.Do(ctx, func() error {
		return c.store.InTx(ctx, func(tx *repository.Store) error {
			state, err := tx.State.Get(ctx)
			if err != nil {
				return persistenceError("load sync state", err)
			}
			if state == nil {
				return models.ErrNoSyncState
			}
			fn(state)
			state.UpdatedAt = c.now()
			return persistenceError("save sync state", tx.State.Save(ctx, state))
		})
	})
}

// SyncIfDue runs a cycle when sync is enabled and the retry schedule allows it.
// It reports whether a cycle ran.
func (c *SyncCoordinator) SyncIfDue(ctx context.Context) (*models.SyncReport, bool, error) {
	state, err := c.store.State.Get(ctx)
	if err != nil {
		return nil, false, persistenceError("load sync state", err)
	}
	if state == nil || !state.IsSyncEnabled {
		return nil, false, nil
	}
	if state.NextAttemptAt != nil && c.now().Before(*state.NextAttemptAt) {
		return nil, false, nil
	}

	report, err := c.SyncNow(ctx)
	if errors.Is(err, models.ErrSyncInProgress) {
		return nil, false, nil
	}
	return report, true, err
}

// Status returns the aggregate sync status
func (c *SyncCoordinator) Status(ctx context.Context) (*models.SyncStatusResponse, error) {
	state, err := c.store.State.Get(ctx)
	if err != nil {
		return nil, persistenceError("load sync state", err)
	}
	pending, err := c.store.Outbox.Count(ctx)
	if err != nil {
		return nil, persistenceError("count pending", err)
	}
	conflicts, err := c.store.Conflicts.Count(ctx)
	if err != nil {
		return nil, persistenceError("count conflicts", err)
	}

	status := &models.SyncStatusResponse{
		DeviceID:      c.opts.DeviceID,
		PendingCount:  pending,
		ConflictCount: conflicts,
	}
	if state != nil {
		status.IsSyncEnabled = state.IsSyncEnabled
		status.UserID = state.UserID
		status.LastSuccessfulSyncAt = state.LastSuccessfulSyncAt
		status.LastCursor = state.LastCursor
		status.LastPushCursor = state.LastPushCursor
		status.ConsecutiveFailures = state.ConsecutiveFailures
		status.NextAttemptAt = state.NextAttemptAt
		status.DidBootstrap = state.DidBootstrapLocalSnapshot
	}
	return status, nil
}
