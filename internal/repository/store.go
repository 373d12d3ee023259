package repository

import (
	"context"
	"database/sql"
)

// Store groups the repositories of the local sync database
type Store struct {
	db *DB
	tx *sql.Tx

	State     *SyncStateRepository
	Outbox    *OutboxRepository
	Conflicts *ConflictRepository
	Entities  *EntityRepository
}

// NewStore creates a Store over db
func NewStore(db *DB) *Store {
	return bind(db, nil)
}

func bind(db *DB, tx *sql.Tx) *Store {
	var q Querier = db.DB
	if tx != nil {
		q = tx
	}
	return &Store{
		db:        db,
		tx:        tx,
		State:     NewSyncStateRepository(q),
		Outbox:    NewOutboxRepository(q),
		Conflicts: NewConflictRepository(q),
		Entities:  NewEntityRepository(q),
	}
}

// DB returns the underlying database
func (s *Store) DB() *DB {
	return s.db
}

// InTx runs fn with repositories bound to one transaction.
// A Store already bound to a transaction reuses it.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(bind(s.db, tx))
	})
}
