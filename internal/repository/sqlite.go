package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes the local SQLite store
func NewSQLiteDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	// One writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db, Dialect: DialectSQLite}, nil
}

// NewKeyValueDB opens the SQLite file backing the key-value namespaces
func NewKeyValueDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db, Dialect: DialectSQLite}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Sync binding of this device (single row)
	CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		user_id TEXT NOT NULL,
		last_cursor TEXT,
		last_push_cursor TEXT,
		is_sync_enabled INTEGER NOT NULL DEFAULT 0,
		did_bootstrap_local_snapshot INTEGER NOT NULL DEFAULT 0,
		last_successful_sync_at TEXT,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT,
		updated_at TEXT NOT NULL
	);

	-- Outbox
	CREATE TABLE IF NOT EXISTS pending_mutations (
		op_id TEXT PRIMARY KEY,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		mutation_type TEXT NOT NULL CHECK (mutation_type IN ('upsert', 'delete')),
		base_version INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL DEFAULT '{}',
		updated_at_client TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL,
		revision INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE(entity, entity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_pending_mutations_seq ON pending_mutations(seq);

	-- Open push conflicts awaiting resolution
	CREATE TABLE IF NOT EXISTS sync_conflicts (
		op_id TEXT PRIMARY KEY,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		server_version INTEGER,
		server_doc TEXT,
		detected_at TEXT NOT NULL
	);

	-- Rows of every syncable table
	CREATE TABLE IF NOT EXISTS synced_rows (
		entity TEXT NOT NULL,
		id TEXT NOT NULL,
		parent_id TEXT,
		sync_version INTEGER NOT NULL DEFAULT 0,
		updated_at_client TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'tombstoned')),
		doc TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (entity, id)
	);

	CREATE INDEX IF NOT EXISTS idx_synced_rows_status ON synced_rows(entity, status);
	CREATE INDEX IF NOT EXISTS idx_synced_rows_parent ON synced_rows(entity, parent_id);

	-- Boulder combination to exercise links
	CREATE TABLE IF NOT EXISTS combination_exercise_links (
		id TEXT PRIMARY KEY,
		combination_id TEXT NOT NULL,
		exercise_id TEXT NOT NULL,
		sync_version INTEGER NOT NULL DEFAULT 0,
		updated_at_client TEXT NOT NULL,
		UNIQUE(combination_id, exercise_id)
	);
	`

	_, err := db.Exec(schema)
	return err
}

const kvSchema = `
	CREATE TABLE IF NOT EXISTS kv_entries (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	);
`
