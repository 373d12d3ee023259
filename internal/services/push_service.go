package services

import (
	"context"
	"math"
	"time"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/repository"
)

// PushService drains the outbox to the sync server and reconciles the verdicts
type PushService struct {
	store          *repository.Store
	actor          *StoreActor
	transport      SyncTransport
	events         EventPublisher
	logger         *observability.Logger
	metrics        *observability.SyncMetrics
	attemptCeiling int
	now            func() time.Time
}

// NewPushService creates a new PushService
func NewPushService(
	store *repository.Store,
	actor *StoreActor,
	transport SyncTransport,
	events EventPublisher,
	logger *observability.Logger,
	metrics *observability.SyncMetrics,
	attemptCeiling int,
) *PushService {
	if events == nil {
		events = nopPublisher{}
	}
	return &PushService{
		store:          store,
		actor:          actor,
		transport:      transport,
		events:         events,
		logger:         logger.WithField("component", "push"),
		metrics:        metrics,
		attemptCeiling: attemptCeiling,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// pushOutcome carries what must be announced once the transaction commits
type pushOutcome struct {
	result    models.PushResult
	warnings  []MutationWarningPayload
	conflicts []*models.SyncPushConflict
}

// DrainAndPush sends up to batchSize pushable mutations and processes the response.
// It returns the number of mutations sent; zero means the outbox had nothing pushable.
func (s *PushService) DrainAndPush(ctx context.Context, batchSize int) (models.PushResult, int, error) {
	ctx, span := observability.StartServiceSpan(ctx, "push", "drain")
	defer span.End()

	var batch []*models.PendingMutation
	err := s.actor.Do(ctx, func() error {
		var err error
		batch, err = s.store.Outbox.FetchPending(ctx, batchSize, true)
		return persistenceError("fetch pending", err)
	})
	if err != nil {
		observability.RecordError(span, err)
		return models.PushResult{}, 0, err
	}
	if len(batch) == 0 {
		return models.PushResult{}, 0, nil
	}

	start := s.now()
	resp, err := s.transport.Push(ctx, models.NewPushRequest(batch))
	if err != nil {
		observability.RecordError(span, err)
		s.logger.WithContext(ctx).Warnf("Push of %d mutations failed: %v", len(batch), err)
		// The batch may have timed out; bookkeeping must still land
		bookCtx := context.WithoutCancel(ctx)
		if berr := s.actor.Do(bookCtx, func() error {
			return s.store.InTx(bookCtx, func(tx *repository.Store) error {
				for _, m := range batch {
					if _, _, err := tx.Outbox.IncrementAttempts(bookCtx, m.OpID); err != nil {
						return persistenceError("increment attempts", err)
					}
				}
				return nil
			})
		}); berr != nil {
			return models.PushResult{}, len(batch), berr
		}
		return models.PushResult{}, len(batch), err
	}

	outcome, err := s.process(ctx, resp, batch)
	if err != nil {
		observability.RecordError(span, err)
		return outcome.result, len(batch), err
	}

	s.metrics.RecordPush(ctx, outcome.result.Acknowledged, outcome.result.Failures, outcome.result.Conflicts, s.now().Sub(start))
	observability.SetSuccess(span)
	return outcome.result, len(batch), nil
}

// ProcessPushResponse applies a push verdict to the outbox. sent is the batch the
// response answers; the push cursor is only stored when it is non-empty.
func (s *PushService) ProcessPushResponse(ctx context.Context, resp *models.PushResponse, sent []*models.PendingMutation) (models.PushResult, error) {
	outcome, err := s.process(ctx, resp, sent)
	return outcome.result, err
}

func (s *PushService) process(ctx context.Context, resp *models.PushResponse, sent []*models.PendingMutation) (pushOutcome, error) {
	var outcome pushOutcome
	err := s.actor.Do(ctx, func() error {
		return s.store.InTx(ctx, func(tx *repository.Store) error {
			var err error
			outcome, err = s.processTx(ctx, tx, resp, sent)
			return err
		})
	})
	if err != nil {
		return pushOutcome{}, err
	}

	for _, w := range outcome.warnings {
		s.events.Publish(TopicOutbox, WSTypeMutationWarning, w)
	}
	for _, c := range outcome.conflicts {
		s.events.Publish(TopicConflicts, WSTypeConflictDetected, ConflictEventPayload{
			OpID:     c.OpID,
			Entity:   string(c.Entity),
			EntityID: c.EntityID,
			Reason:   c.Reason,
		})
	}
	return outcome, nil
}

func (s *PushService) processTx(ctx context.Context, tx *repository.Store, resp *models.PushResponse, sent []*models.PendingMutation) (pushOutcome, error) {
	var outcome pushOutcome
	logger := s.logger.WithContext(ctx)

	revisions := make(map[string]int64, len(sent))
	for _, m := range sent {
		revisions[models.NormalizeID(m.OpID)] = m.Revision
	}

	for _, raw := range resp.AcknowledgedOpIDs {
		opID := models.NormalizeID(raw)

		var deleted bool
		var err error
		if rev, ok := revisions[opID]; ok {
			deleted, err = tx.Outbox.DeleteAtRevision(ctx, opID, rev)
			if err == nil && !deleted {
				// Coalesced after it was sent: keep the newer edit queued
				var m *models.PendingMutation
				if m, err = tx.Outbox.GetByOpID(ctx, opID); err == nil && m != nil {
					logger.Infof("Mutation %s changed while in flight, keeping newer edit", opID)
					outcome.result.Acknowledged++
				}
			}
		} else {
			deleted, err = tx.Outbox.Delete(ctx, opID)
		}
		if err != nil {
			return outcome, persistenceError("acknowledge", err)
		}
		if deleted {
			outcome.result.Acknowledged++
		}
		if _, err := tx.Conflicts.Delete(ctx, opID); err != nil {
			return outcome, persistenceError("acknowledge", err)
		}
	}

	for _, f := range resp.Failed {
		opID := models.NormalizeID(f.OpID)
		attempts, found, err := tx.Outbox.IncrementAttempts(ctx, opID)
		if err != nil {
			return outcome, persistenceError("record failure", err)
		}
		if !found {
			logger.Debugf("Failure reported for unknown op %s", opID)
			continue
		}
		outcome.result.Failures++

		if s.attemptCeiling > 0 && attempts > s.attemptCeiling {
			m, err := tx.Outbox.GetByOpID(ctx, opID)
			if err != nil {
				return outcome, persistenceError("record failure", err)
			}
			logger.WithFields(map[string]interface{}{
				"op_id":    opID,
				"attempts": attempts,
				"reason":   f.Reason,
			}).Warn("Mutation keeps failing, leaving it queued")
			outcome.warnings = append(outcome.warnings, MutationWarningPayload{
				OpID:     opID,
				Entity:   string(m.Entity),
				EntityID: m.EntityID,
				Attempts: attempts,
				Reason:   f.Reason,
			})
		}
	}

	for _, wire := range resp.Conflicts {
		opID := models.NormalizeID(wire.OpID)
		m, err := tx.Outbox.GetByOpID(ctx, opID)
		if err != nil {
			return outcome, persistenceError("record conflict", err)
		}
		if m == nil {
			logger.Debugf("Conflict reported for unknown op %s", opID)
			continue
		}

		conflict, err := wire.ToConflict()
		if err != nil {
			// Fall back to what the outbox knows about the row
			conflict = &models.SyncPushConflict{
				OpID:          opID,
				Reason:        wire.Reason,
				ServerVersion: wire.ServerVersion,
				ServerDoc:     wire.ServerDoc,
				DetectedAt:    s.now(),
			}
			if conflict.Reason == "" {
				conflict.Reason = models.ConflictReasonVersionMismatch
			}
		}
		conflict.Entity = m.Entity
		conflict.EntityID = m.EntityID

		if _, _, err := tx.Outbox.IncrementAttempts(ctx, opID); err != nil {
			return outcome, persistenceError("record conflict", err)
		}
		if err := tx.Conflicts.Save(ctx, conflict); err != nil {
			return outcome, persistenceError("record conflict", err)
		}
		outcome.result.Conflicts++
		outcome.conflicts = append(outcome.conflicts, conflict)
	}

	if resp.NewCursor != nil && len(sent) > 0 {
		if err := tx.State.SetLastPushCursor(ctx, *resp.NewCursor, s.now()); err != nil {
			return outcome, persistenceError("store push cursor", err)
		}
	}

	return outcome, nil
}

// AutomaticRetryDelaySeconds returns the exponential backoff delay for the nth
// consecutive failure: min(maxDelaySeconds, 2^(failureCount-1)) plus a
// non-negative jitter. A non-positive maxDelaySeconds disables the cap.
func AutomaticRetryDelaySeconds(failureCount int, jitterSeconds, maxDelaySeconds float64) float64 {
	if failureCount <= 0 {
		failureCount = 1
	}

	delay := math.Pow(2, float64(failureCount-1))
	if maxDelaySeconds > 0 && delay > maxDelaySeconds {
		delay = maxDelaySeconds
	}

	if jitterSeconds > 0 {
		delay += jitterSeconds
	}
	return delay
}
