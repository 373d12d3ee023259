package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ascentlog/syncclient/internal/models"
)

// KeyValueRepository stores opaque values grouped by namespace
type KeyValueRepository struct {
	q Querier
}

// NewKeyValueRepository creates a new KeyValueRepository
func NewKeyValueRepository(q Querier) *KeyValueRepository {
	return &KeyValueRepository{q: q}
}

// Put creates or replaces a value
func (r *KeyValueRepository) Put(ctx context.Context, namespace, key string, value []byte) error {
	query := `INSERT INTO kv_entries (namespace, key, value, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value`
	_, err := r.q.ExecContext(ctx, query, namespace, key, string(value), formatTime(time.Now()))
	return err
}

// Get returns a value, or nil when absent
func (r *KeyValueRepository) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value string
	err := r.q.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE namespace = $1 AND key = $2`,
		namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

// List returns every value of a namespace in key order
func (r *KeyValueRepository) List(ctx context.Context, namespace string) ([][]byte, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT value FROM kv_entries WHERE namespace = $1 ORDER BY key ASC`,
		namespace,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, []byte(value))
	}
	return out, rows.Err()
}

// ConflictAuditNamespace holds the conflict resolution audit trail
const ConflictAuditNamespace = "sync_conflict_audit"

// ConflictAuditRepository is the append-only log of conflict resolutions
type ConflictAuditRepository struct {
	kv *KeyValueRepository
}

// NewConflictAuditRepository creates a new ConflictAuditRepository
func NewConflictAuditRepository(kv *KeyValueRepository) *ConflictAuditRepository {
	return &ConflictAuditRepository{kv: kv}
}

// Append stores an event under a time-ordered key
func (r *ConflictAuditRepository) Append(ctx context.Context, event *models.SyncConflictTelemetryEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%020d-%s", event.Timestamp.UnixNano(), uuid.New().String())
	return r.kv.Put(ctx, ConflictAuditNamespace, key, data)
}

// List returns every event, oldest first
func (r *ConflictAuditRepository) List(ctx context.Context) ([]*models.SyncConflictTelemetryEvent, error) {
	values, err := r.kv.List(ctx, ConflictAuditNamespace)
	if err != nil {
		return nil, err
	}

	events := make([]*models.SyncConflictTelemetryEvent, 0, len(values))
	for _, v := range values {
		var e models.SyncConflictTelemetryEvent
		if err := json.Unmarshal(v, &e); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, nil
}
