package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/ascentlog/syncclient/internal/models"
)

// SyncStateRepository handles the singleton sync state row
type SyncStateRepository struct {
	q Querier
}

// NewSyncStateRepository creates a new SyncStateRepository
func NewSyncStateRepository(q Querier) *SyncStateRepository {
	return &SyncStateRepository{q: q}
}

// Get retrieves the sync state, or nil when sync was never enabled
func (r *SyncStateRepository) Get(ctx context.Context) (*models.SyncState, error) {
	query := `SELECT user_id, last_cursor, last_push_cursor, is_sync_enabled, did_bootstrap_local_snapshot,
		last_successful_sync_at, consecutive_failures, next_attempt_at, updated_at
		FROM sync_state WHERE id = 1`

	var (
		state                   models.SyncState
		lastCursor, pushCursor  sql.NullString
		lastSyncAt, nextAttempt sql.NullString
		updatedAt               string
	)
	err := r.q.QueryRowContext(ctx, query).Scan(
		&state.UserID,
		&lastCursor,
		&pushCursor,
		&state.IsSyncEnabled,
		&state.DidBootstrapLocalSnapshot,
		&lastSyncAt,
		&state.ConsecutiveFailures,
		&nextAttempt,
		&updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state.LastCursor = stringPtr(lastCursor)
	state.LastPushCursor = stringPtr(pushCursor)
	if state.LastSuccessfulSyncAt, err = parseNullTime(lastSyncAt); err != nil {
		return nil, err
	}
	if state.NextAttemptAt, err = parseNullTime(nextAttempt); err != nil {
		return nil, err
	}
	if state.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save creates or replaces the sync state
func (r *SyncStateRepository) Save(ctx context.Context, state *models.SyncState) error {
	query := `INSERT INTO sync_state (id, user_id, last_cursor, last_push_cursor, is_sync_enabled,
		did_bootstrap_local_snapshot, last_successful_sync_at, consecutive_failures, next_attempt_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			last_cursor = EXCLUDED.last_cursor,
			last_push_cursor = EXCLUDED.last_push_cursor,
			is_sync_enabled = EXCLUDED.is_sync_enabled,
			did_bootstrap_local_snapshot = EXCLUDED.did_bootstrap_local_snapshot,
			last_successful_sync_at = EXCLUDED.last_successful_sync_at,
			consecutive_failures = EXCLUDED.consecutive_failures,
			next_attempt_at = EXCLUDED.next_attempt_at,
			updated_at = EXCLUDED.updated_at`

	_, err := r.q.ExecContext(ctx, query,
		state.UserID,
		nullString(state.LastCursor),
		nullString(state.LastPushCursor),
		boolToInt(state.IsSyncEnabled),
		boolToInt(state.DidBootstrapLocalSnapshot),
		formatNullTime(state.LastSuccessfulSyncAt),
		state.ConsecutiveFailures,
		formatNullTime(state.NextAttemptAt),
		formatTime(state.UpdatedAt),
	)
	return err
}

// SetLastCursor stores the pull cursor
func (r *SyncStateRepository) SetLastCursor(ctx context.Context, cursor string, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE sync_state SET last_cursor = $1, updated_at = $2 WHERE id = 1`,
		cursor, formatTime(updatedAt),
	)
	return err
}

// SetLastPushCursor stores the push cursor
func (r *SyncStateRepository) SetLastPushCursor(ctx context.Context, cursor string, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE sync_state SET last_push_cursor = $1, updated_at = $2 WHERE id = 1`,
		cursor, formatTime(updatedAt),
	)
	return err
}
