package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/repository"
)

// PersistenceError wraps a local store failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("local persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// OutboxService queues local writes for the push engine
type OutboxService struct {
	store   *repository.Store
	actor   *StoreActor
	logger  *observability.Logger
	metrics *observability.SyncMetrics
	now     func() time.Time
}

// NewOutboxService creates a new OutboxService
func NewOutboxService(store *repository.Store, actor *StoreActor, logger *observability.Logger, metrics *observability.SyncMetrics) *OutboxService {
	return &OutboxService{
		store:   store,
		actor:   actor,
		logger:  logger.WithField("component", "outbox"),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnqueueMutation creates or coalesces the pending mutation for a row and returns its opId
func (s *OutboxService) EnqueueMutation(ctx context.Context, req models.EnqueueRequest) (string, error) {
	var opID string
	err := s.actor.Do(ctx, func() error {
		return s.store.InTx(ctx, func(tx *repository.Store) error {
			var err error
			opID, err = s.enqueue(ctx, tx, req)
			return err
		})
	})
	return opID, err
}

// enqueue runs inside the caller's transaction. Request shape is the
// caller's responsibility; only storage errors fail it.
func (s *OutboxService) enqueue(ctx context.Context, tx *repository.Store, req models.EnqueueRequest) (string, error) {
	existing, err := tx.Outbox.GetForEntity(ctx, req.Entity, req.EntityID)
	if err != nil {
		return "", persistenceError("enqueue", err)
	}

	if existing == nil {
		seq, err := tx.Outbox.NextSeq(ctx)
		if err != nil {
			return "", persistenceError("enqueue", err)
		}
		m := newPendingMutation(req, seq, s.now())
		if err := tx.Outbox.Insert(ctx, m); err != nil {
			return "", persistenceError("enqueue", err)
		}
		s.metrics.RecordEnqueue(ctx, string(req.Entity), false)
		return m.OpID, nil
	}

	merged, changed := coalesce(existing, req)
	if !changed {
		s.logger.WithFields(map[string]interface{}{
			"op_id":     existing.OpID,
			"entity":    existing.Entity,
			"entity_id": existing.EntityID,
		}).Debug("Upsert ignored: row has a pending delete")
		return existing.OpID, nil
	}
	if err := tx.Outbox.Update(ctx, merged); err != nil {
		return "", persistenceError("enqueue", err)
	}
	s.metrics.RecordEnqueue(ctx, string(req.Entity), true)
	return merged.OpID, nil
}

func newPendingMutation(req models.EnqueueRequest, seq int64, now time.Time) *models.PendingMutation {
	updatedAt := req.UpdatedAtClient
	if updatedAt.IsZero() {
		updatedAt = now
	}
	payload := req.Payload
	if payload == nil || req.MutationType == models.MutationDelete {
		payload = models.NewPayload()
	} else {
		payload = payload.Clone()
	}
	return &models.PendingMutation{
		OpID:            models.NewOpID(),
		Entity:          req.Entity,
		EntityID:        models.NormalizeID(req.EntityID),
		MutationType:    req.MutationType,
		BaseVersion:     req.BaseVersion,
		Payload:         payload,
		UpdatedAtClient: updatedAt.UTC(),
		Seq:             seq,
		CreatedAt:       now,
	}
}

// coalesce folds an incoming request into the pending mutation for the same row.
// It returns false when the request must not change the stored entry.
func coalesce(existing *models.PendingMutation, req models.EnqueueRequest) (*models.PendingMutation, bool) {
	m := *existing
	if existing.Payload != nil {
		m.Payload = existing.Payload.Clone()
	} else {
		m.Payload = models.NewPayload()
	}

	switch {
	case existing.IsDelete() && req.MutationType == models.MutationUpsert:
		if !req.AllowResurrect {
			return existing, false
		}
		m.MutationType = models.MutationUpsert
		m.Payload = models.NewPayload().Merge(req.Payload)
	case req.MutationType == models.MutationDelete:
		m.MutationType = models.MutationDelete
		m.Payload = models.NewPayload()
	default:
		m.Payload.Merge(req.Payload)
	}

	if req.BaseVersion < m.BaseVersion {
		m.BaseVersion = req.BaseVersion
	}
	if !req.UpdatedAtClient.IsZero() && req.UpdatedAtClient.After(m.UpdatedAtClient) {
		m.UpdatedAtClient = req.UpdatedAtClient.UTC()
	}
	return &m, true
}

// FetchPendingMutations returns pending mutations in push priority order
func (s *OutboxService) FetchPendingMutations(ctx context.Context, limit int) ([]*models.PendingMutation, error) {
	batch, err := s.store.Outbox.FetchPending(ctx, limit, false)
	return batch, persistenceError("fetch pending", err)
}

// Count returns the number of pending mutations
func (s *OutboxService) Count(ctx context.Context) (int, error) {
	n, err := s.store.Outbox.Count(ctx)
	return n, persistenceError("count pending", err)
}

// ListItems returns up to limit pending mutations for display, flagging the
// ones frozen by an open conflict
func (s *OutboxService) ListItems(ctx context.Context, limit int) ([]models.OutboxItem, error) {
	pending, err := s.FetchPendingMutations(ctx, limit)
	if err != nil {
		return nil, err
	}
	conflicts, err := s.store.Conflicts.List(ctx)
	if err != nil {
		return nil, persistenceError("list conflicts", err)
	}

	frozen := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		frozen[c.OpID] = true
	}
	items := make([]models.OutboxItem, 0, len(pending))
	for _, m := range pending {
		items = append(items, models.MutationToOutboxItem(m, frozen[m.OpID]))
	}
	return items, nil
}
