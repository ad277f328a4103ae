// Package backends provides database backend implementations.
package backends

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend wraps the SQLite database connection with additional functionality.
type SQLiteBackend struct {
	DB     *sql.DB
	Config SQLiteConfig

	// Migrator handles schema migrations
	Migrator *SQLiteMigrator

	// Health checker
	Health *SQLiteHealthChecker
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path        string
	JournalMode string
	BusyTimeout int
	ForeignKeys bool
}

// OpenSQLite opens or creates a SQLite database with the given configuration.
func OpenSQLite(config SQLiteConfig) (*SQLiteBackend, error) {
	if config.Path == "" {
		config.Path = "./data/admitdesk.db"
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5000
	}

	// Ensure parent directory exists
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	// Build DSN with options
	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d", config.Path, config.JournalMode, config.BusyTimeout)
	if config.ForeignKeys {
		dsn += "&_foreign_keys=ON"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", config.Path, err)
	}

	// Verify connectivity
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	backend := &SQLiteBackend{
		DB:     db,
		Config: config,
	}

	backend.Migrator = NewSQLiteMigrator(db)
	backend.Health = NewSQLiteHealthChecker(db)

	return backend, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.DB.Close()
}

// SQLiteMigrator handles schema migrations for SQLite.
type SQLiteMigrator struct {
	db *sql.DB
}

// NewSQLiteMigrator creates a new SQLite migrator.
func NewSQLiteMigrator(db *sql.DB) *SQLiteMigrator {
	return &SQLiteMigrator{db: db}
}

// CurrentVersion returns the current schema version.
func (m *SQLiteMigrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		// Table might not exist yet
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// Migrate applies migrations up to the target version.
func (m *SQLiteMigrator) Migrate(target int) error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}

	// Run schema (idempotent via IF NOT EXISTS)
	if _, err := m.db.Exec(SQLiteSchema()); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if current == 0 {
		_, err = m.db.Exec("INSERT INTO schema_version (version) VALUES (1)")
		if err != nil && !isDuplicateKeyError(err) {
			return fmt.Errorf("record migration: %w", err)
		}
	}

	return nil
}

// NeedsMigration returns true if schema is outdated.
func (m *SQLiteMigrator) NeedsMigration() (bool, error) {
	current, err := m.CurrentVersion()
	if err != nil {
		return false, err
	}
	return current < 1, nil // Version 1 is the current schema
}

// SQLiteHealthChecker monitors SQLite database health.
type SQLiteHealthChecker struct {
	db *sql.DB
}

// NewSQLiteHealthChecker creates a new health checker.
func NewSQLiteHealthChecker(db *sql.DB) *SQLiteHealthChecker {
	return &SQLiteHealthChecker{db: db}
}

// Ping checks database connectivity.
func (h *SQLiteHealthChecker) Ping() error {
	return h.db.Ping()
}

// Status returns detailed health status.
func (h *SQLiteHealthChecker) Status() (map[string]any, error) {
	stats := h.db.Stats()

	var version string
	if err := h.db.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
		version = "unknown"
	}

	return map[string]any{
		"healthy":          true,
		"version":          version,
		"open_conns":       stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration_ms": stats.WaitDuration.Milliseconds(),
		"max_open_conns":   stats.MaxOpenConnections,
	}, nil
}

func isDuplicateKeyError(err error) bool {
	return err != nil && (err.Error() == "UNIQUE constraint failed: schema_version.version" ||
		err.Error() == "constraint failed")
}

// SQLiteSchema returns the SQLite schema DDL.
func SQLiteSchema() string {
	return `
-- Conversational agent configurations
CREATE TABLE IF NOT EXISTS agents (
    id                    TEXT PRIMARY KEY,
    operator_id           TEXT NOT NULL,
    name                  TEXT NOT NULL,
    operator_display_name TEXT DEFAULT '',
    agent_type            TEXT NOT NULL DEFAULT 'admissions',
    personality           TEXT NOT NULL DEFAULT 'friendly',
    custom_instructions   TEXT DEFAULT '',
    composed_prompt       TEXT DEFAULT '',
    webhook_status        TEXT DEFAULT '',
    webhook_result        TEXT DEFAULT '',
    webhook_at            TEXT DEFAULT '',
    created_at            TEXT NOT NULL,
    updated_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_operator ON agents(operator_id);

-- Knowledge documents attached to agents
CREATE TABLE IF NOT EXISTS knowledge_documents (
    id                   TEXT PRIMARY KEY,
    agent_id             TEXT NOT NULL,
    display_name         TEXT NOT NULL,
    mime_type            TEXT DEFAULT '',
    storage_location     TEXT NOT NULL,
    transcription_status TEXT NOT NULL DEFAULT 'pending',
    transcription_text   TEXT DEFAULT '',
    raw_worker_result    TEXT DEFAULT '',
    created_at           TEXT NOT NULL,
    updated_at           TEXT NOT NULL,
    FOREIGN KEY (agent_id) REFERENCES agents(id)
);
CREATE INDEX IF NOT EXISTS idx_documents_agent ON knowledge_documents(agent_id);
CREATE INDEX IF NOT EXISTS idx_documents_location ON knowledge_documents(storage_location);

-- Messaging-backend identities (one per operator)
CREATE TABLE IF NOT EXISTS channel_identities (
    operator_id         TEXT PRIMARY KEY,
    display_name        TEXT DEFAULT '',
    email               TEXT DEFAULT '',
    secret              TEXT NOT NULL,
    access_token        TEXT DEFAULT '',
    external_account_id TEXT DEFAULT '',
    external_user_id    TEXT DEFAULT '',
    created_at          TEXT NOT NULL,
    updated_at          TEXT NOT NULL
);

-- Channel pairing sessions / connections
CREATE TABLE IF NOT EXISTS channel_connections (
    id              TEXT PRIMARY KEY,
    operator_id     TEXT NOT NULL,
    agent_id        TEXT DEFAULT '',
    instance_name   TEXT NOT NULL UNIQUE,
    status          TEXT NOT NULL DEFAULT 'connecting',
    phone_number    TEXT DEFAULT '',
    connected_at    TEXT DEFAULT '',
    disconnected_at TEXT DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connections_operator ON channel_connections(operator_id);
CREATE INDEX IF NOT EXISTS idx_connections_instance ON channel_connections(instance_name);

-- Admissions portal: students
CREATE TABLE IF NOT EXISTS students (
    id           TEXT PRIMARY KEY,
    operator_id  TEXT NOT NULL,
    full_name    TEXT NOT NULL,
    email        TEXT DEFAULT '',
    phone        TEXT DEFAULT '',
    program      TEXT DEFAULT '',
    status       TEXT DEFAULT 'applied',
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_students_operator ON students(operator_id);
CREATE INDEX IF NOT EXISTS idx_students_status ON students(status);

-- Admissions portal: fee records
CREATE TABLE IF NOT EXISTS fee_records (
    id          TEXT PRIMARY KEY,
    student_id  TEXT NOT NULL,
    description TEXT NOT NULL,
    amount_cents INTEGER NOT NULL DEFAULT 0,
    currency    TEXT DEFAULT 'USD',
    due_at      TEXT DEFAULT '',
    paid_at     TEXT DEFAULT '',
    created_at  TEXT NOT NULL,
    FOREIGN KEY (student_id) REFERENCES students(id)
);
CREATE INDEX IF NOT EXISTS idx_fees_student ON fee_records(student_id);
`
}
