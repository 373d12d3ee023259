package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ascentlog/syncclient/internal/models"
)

// RowScope selects which lifecycle states a read returns
type RowScope int

const (
	// ScopeActive returns only rows that are not tombstoned
	ScopeActive RowScope = iota
	// ScopeTombstoned returns only tombstoned rows
	ScopeTombstoned
	// ScopeAll returns rows in every state
	ScopeAll
)

// EntityRepository stores the rows of every syncable table
type EntityRepository struct {
	q Querier
}

// NewEntityRepository creates a new EntityRepository
func NewEntityRepository(q Querier) *EntityRepository {
	return &EntityRepository{q: q}
}

// selectRows is the single read path for synced rows; every caller states its scope
func (r *EntityRepository) selectRows(ctx context.Context, scope RowScope, where string, args ...interface{}) ([]*models.SyncedRow, error) {
	query := `SELECT entity, id, parent_id, sync_version, updated_at_client, status, doc FROM synced_rows WHERE ` + where
	switch scope {
	case ScopeActive:
		query += fmt.Sprintf(` AND status = '%s'`, models.RowActive)
	case ScopeTombstoned:
		query += fmt.Sprintf(` AND status = '%s'`, models.RowTombstoned)
	}
	query += ` ORDER BY updated_at_client ASC, id ASC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SyncedRow
	for rows.Next() {
		row, err := scanSyncedRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Get retrieves a row within scope, or nil
func (r *EntityRepository) Get(ctx context.Context, scope RowScope, entity models.EntityType, id string) (*models.SyncedRow, error) {
	rows, err := r.selectRows(ctx, scope, `entity = $1 AND id = $2`, string(entity), models.NormalizeID(id))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// List returns the rows of a table within scope
func (r *EntityRepository) List(ctx context.Context, scope RowScope, entity models.EntityType) ([]*models.SyncedRow, error) {
	return r.selectRows(ctx, scope, `entity = $1`, string(entity))
}

// ListChildren returns the rows of a table whose parent is parentID
func (r *EntityRepository) ListChildren(ctx context.Context, scope RowScope, entity models.EntityType, parentID string) ([]*models.SyncedRow, error) {
	return r.selectRows(ctx, scope, `entity = $1 AND parent_id = $2`, string(entity), models.NormalizeID(parentID))
}

// Save creates or overwrites a row
func (r *EntityRepository) Save(ctx context.Context, row *models.SyncedRow) error {
	doc, err := json.Marshal(row.Fields)
	if err != nil {
		return err
	}
	if row.Fields == nil {
		doc = []byte("{}")
	}

	var parentID sql.NullString
	if row.ParentID != nil {
		parentID = sql.NullString{String: models.NormalizeID(*row.ParentID), Valid: true}
	}

	status := row.Status
	if status == "" {
		status = models.RowActive
	}

	query := `INSERT INTO synced_rows (entity, id, parent_id, sync_version, updated_at_client, status, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (entity, id) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			sync_version = EXCLUDED.sync_version,
			updated_at_client = EXCLUDED.updated_at_client,
			status = EXCLUDED.status,
			doc = EXCLUDED.doc`

	_, err = r.q.ExecContext(ctx, query,
		string(row.Entity),
		models.NormalizeID(row.ID),
		parentID,
		row.SyncVersion,
		formatTime(row.UpdatedAtClient),
		string(status),
		string(doc),
	)
	return err
}

// Tombstone marks a row deleted. A non-nil version replaces the stored sync version.
func (r *EntityRepository) Tombstone(ctx context.Context, entity models.EntityType, id string, version *int64, updatedAt time.Time) (bool, error) {
	query := `UPDATE synced_rows SET status = $1, updated_at_client = $2,
		sync_version = COALESCE($3, sync_version)
		WHERE entity = $4 AND id = $5`

	var v sql.NullInt64
	if version != nil {
		v = sql.NullInt64{Int64: *version, Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		string(models.RowTombstoned),
		formatTime(updatedAt),
		v,
		string(entity),
		models.NormalizeID(id),
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// ResetSyncVersions marks every local row as unknown to the server
func (r *EntityRepository) ResetSyncVersions(ctx context.Context) error {
	if _, err := r.q.ExecContext(ctx, `UPDATE synced_rows SET sync_version = 0`); err != nil {
		return err
	}
	_, err := r.q.ExecContext(ctx, `UPDATE combination_exercise_links SET sync_version = 0`)
	return err
}

const linkColumns = `id, combination_id, exercise_id, sync_version, updated_at_client`

// GetLink retrieves a link by id
func (r *EntityRepository) GetLink(ctx context.Context, id string) (*models.CombinationExerciseLink, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM combination_exercise_links WHERE id = $1`, models.NormalizeID(id))
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListLinks returns every combination/exercise link
func (r *EntityRepository) ListLinks(ctx context.Context) ([]*models.CombinationExerciseLink, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+linkColumns+` FROM combination_exercise_links ORDER BY combination_id, exercise_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.CombinationExerciseLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SaveLink creates or updates a link. The (combination, exercise) pair is unique.
func (r *EntityRepository) SaveLink(ctx context.Context, l *models.CombinationExerciseLink) error {
	query := `INSERT INTO combination_exercise_links (` + linkColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (combination_id, exercise_id) DO UPDATE SET
			id = EXCLUDED.id,
			sync_version = EXCLUDED.sync_version,
			updated_at_client = EXCLUDED.updated_at_client`

	_, err := r.q.ExecContext(ctx, query,
		models.NormalizeID(l.ID),
		models.NormalizeID(l.CombinationID),
		models.NormalizeID(l.ExerciseID),
		l.SyncVersion,
		formatTime(l.UpdatedAtClient),
	)
	return err
}

// DeleteLink removes a link
func (r *EntityRepository) DeleteLink(ctx context.Context, id string) (bool, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM combination_exercise_links WHERE id = $1`, models.NormalizeID(id))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func scanSyncedRow(s rowScanner) (*models.SyncedRow, error) {
	var (
		row               models.SyncedRow
		entity, status    string
		parentID          sql.NullString
		updatedAt, docStr string
	)
	if err := s.Scan(&entity, &row.ID, &parentID, &row.SyncVersion, &updatedAt, &status, &docStr); err != nil {
		return nil, err
	}

	row.Entity = models.EntityType(entity)
	row.Status = models.RowStatus(status)
	row.ParentID = stringPtr(parentID)
	row.Fields = models.Doc{}
	if err := json.Unmarshal([]byte(docStr), &row.Fields); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", entity, row.ID, err)
	}

	var err error
	if row.UpdatedAtClient, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &row, nil
}

func scanLink(s rowScanner) (*models.CombinationExerciseLink, error) {
	var (
		l         models.CombinationExerciseLink
		updatedAt string
	)
	if err := s.Scan(&l.ID, &l.CombinationID, &l.ExerciseID, &l.SyncVersion, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if l.UpdatedAtClient, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}
