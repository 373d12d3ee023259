package services

import (
	"context"
	"strings"
	"time"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/repository"
)

// AccountSwitchedPayload is sent when sync is bound to another account
type AccountSwitchedPayload struct {
	PreviousUserID string `json:"previousUserId"`
	UserID         string `json:"userId"`
	DroppedPending int64  `json:"droppedPending"`
}

// SnapshotPayload is sent after the local snapshot was queued
type SnapshotPayload struct {
	Upserts int `json:"upserts"`
	Deletes int `json:"deletes"`
}

// BootstrapService binds sync to an account and seeds the outbox from local data
type BootstrapService struct {
	store  *repository.Store
	actor  *StoreActor
	outbox *OutboxService
	events EventPublisher
	logger *observability.Logger
	now    func() time.Time
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(
	store *repository.Store,
	actor *StoreActor,
	outbox *OutboxService,
	events EventPublisher,
	logger *observability.Logger,
) *BootstrapService {
	if events == nil {
		events = nopPublisher{}
	}
	return &BootstrapService{
		store:  store,
		actor:  actor,
		outbox: outbox,
		events: events,
		logger: logger.WithField("component", "bootstrap"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetSyncEnabled turns sync on or off. Enabling for a different account than the
// stored one drops the cursors, the outbox and open conflicts, and resets local
// sync versions; re-enabling for the same account changes nothing else.
// It reports whether the account changed.
func (s *BootstrapService) SetSyncEnabled(ctx context.Context, enabled bool, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if enabled && userID == "" {
		return false, models.ErrEmptyUserID
	}

	var switched AccountSwitchedPayload
	var didSwitch bool
	err := s.actor.Do(ctx, func() error {
		return s.store.InTx(ctx, func(tx *repository.Store) error {
			state, err := tx.State.Get(ctx)
			if err != nil {
				return persistenceError("load sync state", err)
			}

			if !enabled {
				if state == nil || !state.IsSyncEnabled {
					return nil
				}
				state.IsSyncEnabled = false
				state.UpdatedAt = s.now()
				return persistenceError("save sync state", tx.State.Save(ctx, state))
			}

			if state == nil {
				state = models.NewSyncState(userID)
			} else if state.UserID != userID {
				dropped, err := tx.Outbox.DeleteAll(ctx)
				if err != nil {
					return persistenceError("clear outbox", err)
				}
				if err := tx.Conflicts.DeleteAll(ctx); err != nil {
					return persistenceError("clear conflicts", err)
				}
				if err := tx.Entities.ResetSyncVersions(ctx); err != nil {
					return persistenceError("reset sync versions", err)
				}
				switched = AccountSwitchedPayload{PreviousUserID: state.UserID, UserID: userID, DroppedPending: dropped}
				didSwitch = true
				state.ResetForAccount(userID)
			}
			state.IsSyncEnabled = true
			state.UpdatedAt = s.now()
			return persistenceError("save sync state", tx.State.Save(ctx, state))
		})
	})
	if err != nil {
		return false, err
	}

	if didSwitch {
		s.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"previous_user_id": switched.PreviousUserID,
			"user_id":          switched.UserID,
			"dropped_pending":  switched.DroppedPending,
		}).Info("Sync account switched")
		s.events.Publish(TopicSync, WSTypeAccountSwitched, switched)
	}
	return didSwitch, nil
}

// EnqueueLocalSnapshotIfNeeded queues every local row once per account: active
// rows as upserts, tombstoned rows as deletes when they were deleted after the
// last successful sync (or no sync happened yet). It reports whether it ran.
func (s *BootstrapService) EnqueueLocalSnapshotIfNeeded(ctx context.Context) (bool, error) {
	ctx, span := observability.StartServiceSpan(ctx, "bootstrap", "snapshot")
	defer span.End()

	var ran bool
	var counts SnapshotPayload
	err := s.actor.Do(ctx, func() error {
		return s.store.InTx(ctx, func(tx *repository.Store) error {
			state, err := tx.State.Get(ctx)
			if err != nil {
				return persistenceError("load sync state", err)
			}
			if state == nil || !state.IsSyncEnabled {
				return models.ErrSyncDisabled
			}
			if state.DidBootstrapLocalSnapshot {
				return nil
			}

			if counts, err = s.snapshot(ctx, tx, state.LastSuccessfulSyncAt); err != nil {
				return err
			}

			state.DidBootstrapLocalSnapshot = true
			state.UpdatedAt = s.now()
			if err := tx.State.Save(ctx, state); err != nil {
				return persistenceError("save sync state", err)
			}
			ran = true
			return nil
		})
	})
	if err != nil {
		observability.RecordError(span, err)
		return false, err
	}

	if ran {
		s.logger.WithContext(ctx).Infof("Queued local snapshot: %d upserts, %d deletes", counts.Upserts, counts.Deletes)
		s.events.Publish(TopicOutbox, WSTypeSnapshotEnqueued, counts)
	}
	observability.SetSuccess(span)
	return ran, nil
}

func (s *BootstrapService) snapshot(ctx context.Context, tx *repository.Store, watermark *time.Time) (SnapshotPayload, error) {
	var counts SnapshotPayload

	for _, info := range models.SyncableEntities() {
		if info.Type.IsJunction() {
			links, err := tx.Entities.ListLinks(ctx)
			if err != nil {
				return counts, persistenceError("snapshot links", err)
			}
			for _, l := range links {
				if _, err := s.outbox.enqueue(ctx, tx, models.EnqueueRequest{
					Entity:          info.Type,
					EntityID:        l.ID,
					MutationType:    models.MutationUpsert,
					BaseVersion:     l.SyncVersion,
					Payload:         l.Payload(),
					UpdatedAtClient: l.UpdatedAtClient,
				}); err != nil {
					return counts, err
				}
				counts.Upserts++
			}
			continue
		}

		rows, err := tx.Entities.List(ctx, repository.ScopeAll, info.Type)
		if err != nil {
			return counts, persistenceError("snapshot rows", err)
		}
		for _, row := range rows {
			req := models.EnqueueRequest{
				Entity:          row.Entity,
				EntityID:        row.ID,
				MutationType:    models.MutationUpsert,
				BaseVersion:     row.SyncVersion,
				Payload:         row.Payload(),
				UpdatedAtClient: row.UpdatedAtClient,
			}
			if row.IsTombstoned() {
				if !deletedSinceWatermark(row, watermark) {
					continue
				}
				req.MutationType = models.MutationDelete
				req.Payload = nil
			}

			if _, err := s.outbox.enqueue(ctx, tx, req); err != nil {
				return counts, err
			}
			if req.MutationType == models.MutationDelete {
				counts.Deletes++
			} else {
				counts.Upserts++
			}
		}
	}
	return counts, nil
}

// deletedSinceWatermark reports whether a tombstone is unknown to the server:
// always before the first successful sync, otherwise when it was written
// strictly after the watermark
func deletedSinceWatermark(row *models.SyncedRow, watermark *time.Time) bool {
	if watermark == nil {
		return true
	}
	return row.UpdatedAtClient.After(*watermark)
}
