package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ascentlog/syncclient/internal/models"
)

// OutboxRepository handles pending mutation persistence
type OutboxRepository struct {
	q Querier
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(q Querier) *OutboxRepository {
	return &OutboxRepository{q: q}
}

const mutationColumns = `m.op_id, m.entity, m.entity_id, m.mutation_type, m.base_version, m.payload,
	m.updated_at_client, m.attempts, m.seq, m.revision, m.created_at`

// GetByOpID retrieves a pending mutation by its operation id
func (r *OutboxRepository) GetByOpID(ctx context.Context, opID string) (*models.PendingMutation, error) {
	query := `SELECT ` + mutationColumns + ` FROM pending_mutations m WHERE m.op_id = $1`
	return r.scanOne(r.q.QueryRowContext(ctx, query, models.NormalizeID(opID)))
}

// GetForEntity retrieves the active mutation for a row, if any
func (r *OutboxRepository) GetForEntity(ctx context.Context, entity models.EntityType, entityID string) (*models.PendingMutation, error) {
	query := `SELECT ` + mutationColumns + ` FROM pending_mutations m WHERE m.entity = $1 AND m.entity_id = $2`
	return r.scanOne(r.q.QueryRowContext(ctx, query, string(entity), models.NormalizeID(entityID)))
}

// FetchPending returns mutations in push priority order: deletes first, then enqueue order.
// When skipConflicted is set, mutations frozen by an open conflict are left out.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int, skipConflicted bool) ([]*models.PendingMutation, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + mutationColumns + ` FROM pending_mutations m`)
	if skipConflicted {
		sb.WriteString(` WHERE NOT EXISTS (SELECT 1 FROM sync_conflicts c WHERE c.op_id = m.op_id)`)
	}
	sb.WriteString(` ORDER BY CASE m.mutation_type WHEN 'delete' THEN 0 ELSE 1 END, m.seq ASC`)

	args := []interface{}{}
	if limit > 0 {
		sb.WriteString(` LIMIT $1`)
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PendingMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// NextSeq returns the next enqueue position
func (r *OutboxRepository) NextSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM pending_mutations`).Scan(&seq)
	return seq, err
}

// Insert adds a new mutation
func (r *OutboxRepository) Insert(ctx context.Context, m *models.PendingMutation) error {
	payload, err := encodePayload(m.Payload)
	if err != nil {
		return err
	}

	query := `INSERT INTO pending_mutations (op_id, entity, entity_id, mutation_type, base_version, payload,
		updated_at_client, attempts, seq, revision, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)`

	_, err = r.q.ExecContext(ctx, query,
		models.NormalizeID(m.OpID),
		string(m.Entity),
		models.NormalizeID(m.EntityID),
		string(m.MutationType),
		m.BaseVersion,
		payload,
		formatTime(m.UpdatedAtClient),
		m.Attempts,
		m.Seq,
		formatTime(m.CreatedAt),
	)
	return err
}

// Update rewrites the coalescable fields of an existing mutation and bumps its revision
func (r *OutboxRepository) Update(ctx context.Context, m *models.PendingMutation) error {
	payload, err := encodePayload(m.Payload)
	if err != nil {
		return err
	}

	query := `UPDATE pending_mutations
		SET mutation_type = $1, base_version = $2, payload = $3, updated_at_client = $4, attempts = $5,
			revision = revision + 1
		WHERE op_id = $6`

	_, err = r.q.ExecContext(ctx, query,
		string(m.MutationType),
		m.BaseVersion,
		payload,
		formatTime(m.UpdatedAtClient),
		m.Attempts,
		models.NormalizeID(m.OpID),
	)
	return err
}

// IncrementAttempts bumps the attempt counter and returns the new value.
// found is false when the opId is not pending.
func (r *OutboxRepository) IncrementAttempts(ctx context.Context, opID string) (attempts int, found bool, err error) {
	id := models.NormalizeID(opID)
	result, err := r.q.ExecContext(ctx, `UPDATE pending_mutations SET attempts = attempts + 1 WHERE op_id = $1`, id)
	if err != nil {
		return 0, false, err
	}
	n, err := result.RowsAffected()
	if err != nil || n == 0 {
		return 0, false, err
	}
	err = r.q.QueryRowContext(ctx, `SELECT attempts FROM pending_mutations WHERE op_id = $1`, id).Scan(&attempts)
	return attempts, err == nil, err
}

// Rebase sets a new base version and clears the attempt counter
func (r *OutboxRepository) Rebase(ctx context.Context, opID string, baseVersion int64) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE pending_mutations SET base_version = $1, attempts = 0 WHERE op_id = $2`,
		baseVersion, models.NormalizeID(opID),
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// Delete removes a mutation
func (r *OutboxRepository) Delete(ctx context.Context, opID string) (bool, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM pending_mutations WHERE op_id = $1`, models.NormalizeID(opID))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// DeleteAtRevision removes a mutation only if it was not coalesced since revision was read
func (r *OutboxRepository) DeleteAtRevision(ctx context.Context, opID string, revision int64) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		`DELETE FROM pending_mutations WHERE op_id = $1 AND revision = $2`,
		models.NormalizeID(opID), revision,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// DeleteAll empties the outbox
func (r *OutboxRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM pending_mutations`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Count returns the number of pending mutations
func (r *OutboxRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_mutations`).Scan(&count)
	return count, err
}

func (r *OutboxRepository) scanOne(row *sql.Row) (*models.PendingMutation, error) {
	m, err := scanMutation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMutation(s rowScanner) (*models.PendingMutation, error) {
	var (
		m                    models.PendingMutation
		entity, mutationType string
		payload              string
		updatedAt, createdAt string
	)
	err := s.Scan(
		&m.OpID,
		&entity,
		&m.EntityID,
		&mutationType,
		&m.BaseVersion,
		&payload,
		&updatedAt,
		&m.Attempts,
		&m.Seq,
		&m.Revision,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	m.Entity = models.EntityType(entity)
	m.MutationType = models.MutationType(mutationType)

	m.Payload = models.NewPayload()
	if err := json.Unmarshal([]byte(payload), m.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", m.OpID, err)
	}
	if m.UpdatedAtClient, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func encodePayload(p *models.Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
