package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ascentlog/syncclient/internal/models"
)

// ConflictRepository persists open push conflicts until they are resolved
type ConflictRepository struct {
	q Querier
}

// NewConflictRepository creates a new ConflictRepository
func NewConflictRepository(q Querier) *ConflictRepository {
	return &ConflictRepository{q: q}
}

const conflictColumns = `op_id, entity, entity_id, reason, server_version, server_doc, detected_at`

// Save creates or replaces the conflict for an opId
func (r *ConflictRepository) Save(ctx context.Context, c *models.SyncPushConflict) error {
	var doc sql.NullString
	if c.ServerDoc != nil {
		data, err := json.Marshal(c.ServerDoc)
		if err != nil {
			return err
		}
		doc = sql.NullString{String: string(data), Valid: true}
	}

	var serverVersion sql.NullInt64
	if c.ServerVersion != nil {
		serverVersion = sql.NullInt64{Int64: *c.ServerVersion, Valid: true}
	}

	query := `INSERT INTO sync_conflicts (` + conflictColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (op_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			server_version = EXCLUDED.server_version,
			server_doc = EXCLUDED.server_doc,
			detected_at = EXCLUDED.detected_at`

	_, err := r.q.ExecContext(ctx, query,
		models.NormalizeID(c.OpID),
		string(c.Entity),
		models.NormalizeID(c.EntityID),
		c.Reason,
		serverVersion,
		doc,
		formatTime(c.DetectedAt),
	)
	return err
}

// Get retrieves the conflict for an opId
func (r *ConflictRepository) Get(ctx context.Context, opID string) (*models.SyncPushConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE op_id = $1`
	c, err := scanConflict(r.q.QueryRowContext(ctx, query, models.NormalizeID(opID)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns all open conflicts, oldest first
func (r *ConflictRepository) List(ctx context.Context) ([]*models.SyncPushConflict, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+conflictColumns+` FROM sync_conflicts ORDER BY detected_at ASC, op_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SyncPushConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes the conflict for an opId
func (r *ConflictRepository) Delete(ctx context.Context, opID string) (bool, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM sync_conflicts WHERE op_id = $1`, models.NormalizeID(opID))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// DeleteAll removes every open conflict
func (r *ConflictRepository) DeleteAll(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM sync_conflicts`)
	return err
}

// Count returns the number of open conflicts
func (r *ConflictRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_conflicts`).Scan(&count)
	return count, err
}

func scanConflict(s rowScanner) (*models.SyncPushConflict, error) {
	var (
		c             models.SyncPushConflict
		entity        string
		serverVersion sql.NullInt64
		doc           sql.NullString
		detectedAt    string
	)
	if err := s.Scan(&c.OpID, &entity, &c.EntityID, &c.Reason, &serverVersion, &doc, &detectedAt); err != nil {
		return nil, err
	}

	c.Entity = models.EntityType(entity)
	if serverVersion.Valid {
		v := serverVersion.Int64
		c.ServerVersion = &v
	}
	if doc.Valid {
		if err := json.Unmarshal([]byte(doc.String), &c.ServerDoc); err != nil {
			return nil, err
		}
	}

	var err error
	if c.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
