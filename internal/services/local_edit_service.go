package services

import (
	"context"
	"time"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/repository"
)

// LocalEditService writes local rows and queues the matching mutation in the
// same transaction. Edits made before sync was ever enabled are only written;
// the bootstrap snapshot picks them up.
type LocalEditService struct {
	store  *repository.Store
	actor  *StoreActor
	outbox *OutboxService
	logger *observability.Logger
	now    func() time.Time
}

// NewLocalEditService creates a new LocalEditService
func NewLocalEditService(store *repository.Store, actor *StoreActor, outbox *OutboxService, logger *observability.Logger) *LocalEditService {
	return &LocalEditService{
		store:  store,
		actor:  actor,
		outbox: outbox,
		logger: logger.WithField("component", "local_edit"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// edit runs fn under the store actor in one transaction. enqueue is false when
// no account was ever bound.
func (s *LocalEditService) edit(ctx context.Context, fn func(tx *repository.Store, enqueue bool) error) error {
	return s.actor.Do(ctx, func() error {
		return s.store.InTx(ctx, func(tx *repository.Store) error {
			state, err := tx.State.Get(ctx)
			if err != nil {
				return persistenceError("load sync state", err)
			}
			return fn(tx, state != nil)
		})
	})
}

// SaveRow creates or updates a row with the given fields and queues an upsert.
// Saving a tombstoned row brings it back. It returns the opId, or "" when
// nothing was queued.
func (s *LocalEditService) SaveRow(ctx context.Context, entity models.EntityType, id string, fields *models.Payload) (string, error) {
	info, ok := entity.Info()
	if !ok {
		return "", models.ErrUnknownEntity
	}
	if entity.IsJunction() {
		return "", models.ErrJunctionEntity
	}
	id = models.NormalizeID(id)
	if id == "" {
		return "", models.ErrMissingEntityID
	}

	var opID string
	err := s.edit(ctx, func(tx *repository.Store, enqueue bool) error {
		row, err := tx.Entities.Get(ctx, repository.ScopeAll, entity, id)
		if err != nil {
			return persistenceError("load row", err)
		}
		resurrect := row != nil && row.IsTombstoned()
		if row == nil {
			row = &models.SyncedRow{Entity: entity, ID: id}
		}
		if row.Fields == nil {
			row.Fields = models.Doc{}
		}

		for _, k := range fields.Keys() {
			if reservedColumns[k] {
				continue
			}
			v, _ := fields.Get(k)
			row.Fields[k] = v
		}
		if info.ParentKey != "" {
			if parent := row.Fields.String(info.ParentKey); parent != "" {
				parentID := models.NormalizeID(parent)
				row.ParentID = &parentID
			}
		}
		row.Status = models.RowActive
		row.UpdatedAtClient = s.now()

		if err := tx.Entities.Save(ctx, row); err != nil {
			return persistenceError("save row", err)
		}
		if !enqueue {
			return nil
		}

		opID, err = s.outbox.enqueue(ctx, tx, models.EnqueueRequest{
			Entity:          entity,
			EntityID:        id,
			MutationType:    models.MutationUpsert,
			BaseVersion:     row.SyncVersion,
			Payload:         row.Payload(),
			UpdatedAtClient: row.UpdatedAtClient,
			AllowResurrect:  resurrect,
		})
		return err
	})
	return opID, err
}

// DeleteRow tombstones a row and queues a delete
func (s *LocalEditService) DeleteRow(ctx context.Context, entity models.EntityType, id string) (string, error) {
	if _, ok := entity.Info(); !ok {
		return "", models.ErrUnknownEntity
	}
	if entity.IsJunction() {
		return "", models.ErrJunctionEntity
	}
	id = models.NormalizeID(id)

	var opID string
	err := s.edit(ctx, func(tx *repository.Store, enqueue bool) error {
		row, err := tx.Entities.Get(ctx, repository.ScopeActive, entity, id)
		if err != nil {
			return persistenceError("load row", err)
		}
		if row == nil {
			return models.ErrRowNotFound
		}

		now := s.now()
		if _, err := tx.Entities.Tombstone(ctx, entity, id, nil, now); err != nil {
			return persistenceError("tombstone row", err)
		}
		if !enqueue {
			return nil
		}

		opID, err = s.outbox.enqueue(ctx, tx, models.EnqueueRequest{
			Entity:          entity,
			EntityID:        id,
			MutationType:    models.MutationDelete,
			BaseVersion:     row.SyncVersion,
			UpdatedAtClient: now,
		})
		return err
	})
	return opID, err
}

// LinkExercise attaches an exercise to a boulder combination and returns the link id
func (s *LocalEditService) LinkExercise(ctx context.Context, combinationID, exerciseID string) (string, error) {
	combinationID = models.NormalizeID(combinationID)
	exerciseID = models.NormalizeID(exerciseID)
	if combinationID == "" || exerciseID == "" {
		return "", models.ErrMissingEntityID
	}
	id := models.BoulderCombinationExerciseLinkID(combinationID, exerciseID)

	err := s.edit(ctx, func(tx *repository.Store, enqueue bool) error {
		link, err := tx.Entities.GetLink(ctx, id)
		if err != nil {
			return persistenceError("load link", err)
		}
		if link == nil {
			link = &models.CombinationExerciseLink{ID: id, CombinationID: combinationID, ExerciseID: exerciseID}
		}
		link.UpdatedAtClient = s.now()
		if err := tx.Entities.SaveLink(ctx, link); err != nil {
			return persistenceError("save link", err)
		}
		if !enqueue {
			return nil
		}

		_, err = s.outbox.enqueue(ctx, tx, models.EnqueueRequest{
			Entity:          models.EntityBoulderCombinationExercises,
			EntityID:        id,
			MutationType:    models.MutationUpsert,
			BaseVersion:     link.SyncVersion,
			Payload:         link.Payload(),
			UpdatedAtClient: link.UpdatedAtClient,
			AllowResurrect:  true,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UnlinkExercise removes a combination/exercise link and queues its delete.
// It reports whether the link existed.
func (s *LocalEditService) UnlinkExercise(ctx context.Context, combinationID, exerciseID string) (bool, error) {
	id := models.BoulderCombinationExerciseLinkID(models.NormalizeID(combinationID), models.NormalizeID(exerciseID))

	var found bool
	err := s.edit(ctx, func(tx *repository.Store, enqueue bool) error {
		link, err := tx.Entities.GetLink(ctx, id)
		if err != nil {
			return persistenceError("load link", err)
		}
		if link == nil {
			return nil
		}
		found = true
		if _, err := tx.Entities.DeleteLink(ctx, id); err != nil {
			return persistenceError("delete link", err)
		}
		if !enqueue {
			return nil
		}

		_, err = s.outbox.enqueue(ctx, tx, models.EnqueueRequest{
			Entity:          models.EntityBoulderCombinationExercises,
			EntityID:        id,
			MutationType:    models.MutationDelete,
			BaseVersion:     link.SyncVersion,
			UpdatedAtClient: s.now(),
		})
		return err
	})
	return found, err
}

// GetRow returns an active row, or nil
func (s *LocalEditService) GetRow(ctx context.Context, entity models.EntityType, id string) (*models.SyncedRow, error) {
	row, err := s.store.Entities.Get(ctx, repository.ScopeActive, entity, models.NormalizeID(id))
	return row, persistenceError("load row", err)
}

// ListActive returns every active row of an entity
func (s *LocalEditService) ListActive(ctx context.Context, entity models.EntityType) ([]*models.SyncedRow, error) {
	rows, err := s.store.Entities.List(ctx, repository.ScopeActive, entity)
	return rows, persistenceError("list rows", err)
}
