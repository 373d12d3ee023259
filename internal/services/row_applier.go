package services

import (
	"context"
	"time"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/repository"
)

// rowApplier writes server row state into the local store
type rowApplier struct {
	logger *observability.Logger
	now    func() time.Time
}

var reservedColumns = map[string]bool{
	models.ColumnID:              true,
	models.ColumnVersion:         true,
	models.ColumnIsDeleted:       true,
	models.ColumnUpdatedAtClient: true,
}

// upsert creates or overwrites the local row described by doc.
// It reports false when the change was skipped.
func (a *rowApplier) upsert(ctx context.Context, tx *repository.Store, entity models.EntityType, entityID string, version int64, doc models.Doc) (bool, error) {
	id := models.NormalizeID(doc.String(models.ColumnID))
	if id == "" {
		id = models.NormalizeID(entityID)
	}
	if id == "" {
		a.logger.Warnf("Skipping %s upsert without id", entity)
		return false, nil
	}
	if v, ok := doc.Int64(models.ColumnVersion); ok {
		version = v
	}

	updatedAt, ok := doc.Time(models.ColumnUpdatedAtClient)
	if !ok {
		updatedAt = a.now()
	}

	if entity.IsJunction() {
		return a.upsertLink(ctx, tx, id, version, updatedAt, doc)
	}

	existing, err := tx.Entities.Get(ctx, repository.ScopeAll, entity, id)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.SyncVersion > version {
		a.logger.Debugf("Skipping stale %s/%s at version %d (have %d)", entity, id, version, existing.SyncVersion)
		return false, nil
	}

	row := &models.SyncedRow{
		Entity:          entity,
		ID:              id,
		SyncVersion:     version,
		UpdatedAtClient: updatedAt,
		Status:          models.RowActive,
		Fields:          models.Doc{},
	}
	for k, v := range doc {
		if !reservedColumns[k] {
			row.Fields[k] = v
		}
	}
	if doc.Bool(models.ColumnIsDeleted) {
		row.Status = models.RowTombstoned
	}

	// Keep the user's unsent edit visible on top of the server state
	pending, err := tx.Outbox.GetForEntity(ctx, entity, id)
	if err != nil {
		return false, err
	}
	if pending != nil {
		if pending.IsDelete() {
			row.Status = models.RowTombstoned
		} else {
			for _, k := range pending.Payload.Keys() {
				if !reservedColumns[k] {
					v, _ := pending.Payload.Get(k)
					row.Fields[k] = v
				}
			}
		}
	}

	if info, ok := entity.Info(); ok && info.ParentKey != "" {
		if parent := row.Fields.String(info.ParentKey); parent != "" {
			parentID := models.NormalizeID(parent)
			row.ParentID = &parentID
		}
	}

	return true, tx.Entities.Save(ctx, row)
}

func (a *rowApplier) upsertLink(ctx context.Context, tx *repository.Store, id string, version int64, updatedAt time.Time, doc models.Doc) (bool, error) {
	existing, err := a.findLink(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.SyncVersion > version {
		a.logger.Debugf("Skipping stale link %s at version %d (have %d)", id, version, existing.SyncVersion)
		return false, nil
	}

	combinationID := models.NormalizeID(doc.String(models.ColumnCombinationID))
	exerciseID := models.NormalizeID(doc.String(models.ColumnExerciseID))
	if combinationID == "" || exerciseID == "" {
		if existing == nil {
			a.logger.Warnf("Skipping link %s without combination or exercise id", id)
			return false, nil
		}
		combinationID, exerciseID = existing.CombinationID, existing.ExerciseID
	}

	if doc.Bool(models.ColumnIsDeleted) {
		return a.deleteLink(ctx, tx, id)
	}

	// An unsent local unlink keeps the link out of the local store
	pending, err := tx.Outbox.GetForEntity(ctx, models.EntityBoulderCombinationExercises, id)
	if err != nil {
		return false, err
	}
	if pending != nil && pending.IsDelete() {
		a.logger.Debugf("Keeping link %s removed while its delete is pending", id)
		return false, nil
	}

	return true, tx.Entities.SaveLink(ctx, &models.CombinationExerciseLink{
		ID:              id,
		CombinationID:   combinationID,
		ExerciseID:      exerciseID,
		SyncVersion:     version,
		UpdatedAtClient: updatedAt,
	})
}

// delete tombstones a row, or removes a junction link
func (a *rowApplier) delete(ctx context.Context, tx *repository.Store, entity models.EntityType, entityID string, version *int64) (bool, error) {
	id := models.NormalizeID(entityID)
	if entity.IsJunction() {
		return a.deleteLink(ctx, tx, id)
	}
	return tx.Entities.Tombstone(ctx, entity, id, version, a.now())
}

func (a *rowApplier) deleteLink(ctx context.Context, tx *repository.Store, id string) (bool, error) {
	link, err := a.findLink(ctx, tx, id)
	if err != nil || link == nil {
		return false, err
	}
	return tx.Entities.DeleteLink(ctx, link.ID)
}

// findLink resolves a deterministic link id back to its (combination, exercise) pair
func (a *rowApplier) findLink(ctx context.Context, tx *repository.Store, id string) (*models.CombinationExerciseLink, error) {
	links, err := tx.Entities.ListLinks(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if models.BoulderCombinationExerciseLinkID(l.CombinationID, l.ExerciseID) == id || l.ID == id {
			return l, nil
		}
	}
	return nil, nil
}
