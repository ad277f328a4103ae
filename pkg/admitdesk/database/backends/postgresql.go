package backends

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// PostgreSQLBackend wraps the PostgreSQL database connection.
type PostgreSQLBackend struct {
	DB     *sql.DB
	Config PostgreSQLConfig

	// Migrator handles schema migrations
	Migrator *PostgreSQLMigrator

	// Health checker
	Health *PostgreSQLHealthChecker

	logger *slog.Logger
}

// PostgreSQLConfig holds PostgreSQL-specific configuration.
type PostgreSQLConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgreSQL opens a PostgreSQL database connection.
func OpenPostgreSQL(config PostgreSQLConfig, logger *slog.Logger) (*PostgreSQLBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 30 * time.Minute
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(config.User),
		url.QueryEscape(config.Password),
		config.Host,
		config.Port,
		config.Database,
		config.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgresql: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgresql %s:%d: %w", config.Host, config.Port, err)
	}

	backend := &PostgreSQLBackend{
		DB:     db,
		Config: config,
		logger: logger.With("component", "postgresql"),
	}

	backend.Migrator = NewPostgreSQLMigrator(db)
	backend.Health = NewPostgreSQLHealthChecker(db)

	return backend, nil
}

// Close closes the database connection.
func (b *PostgreSQLBackend) Close() error {
	return b.DB.Close()
}

// PostgreSQLMigrator handles schema migrations for PostgreSQL.
type PostgreSQLMigrator struct {
	db *sql.DB
}

// NewPostgreSQLMigrator creates a new PostgreSQL migrator.
func NewPostgreSQLMigrator(db *sql.DB) *PostgreSQLMigrator {
	return &PostgreSQLMigrator{db: db}
}

// CurrentVersion returns the current schema version.
func (m *PostgreSQLMigrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// Migrate applies migrations up to the target version.
func (m *PostgreSQLMigrator) Migrate(target int) error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}

	if _, err := m.db.Exec(PostgreSQLSchema()); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if current == 0 {
		_, err = m.db.Exec("INSERT INTO schema_version (version) VALUES (1) ON CONFLICT DO NOTHING")
		if err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
	}

	return nil
}

// NeedsMigration returns true if schema is outdated.
func (m *PostgreSQLMigrator) NeedsMigration() (bool, error) {
	current, err := m.CurrentVersion()
	if err != nil {
		return false, err
	}
	return current < 1, nil
}

// PostgreSQLHealthChecker monitors PostgreSQL database health.
type PostgreSQLHealthChecker struct {
	db *sql.DB
}

// NewPostgreSQLHealthChecker creates a new health checker.
func NewPostgreSQLHealthChecker(db *sql.DB) *PostgreSQLHealthChecker {
	return &PostgreSQLHealthChecker{db: db}
}

// Ping checks database connectivity.
func (h *PostgreSQLHealthChecker) Ping() error {
	return h.db.Ping()
}

// Status returns detailed health status.
func (h *PostgreSQLHealthChecker) Status() (map[string]any, error) {
	stats := h.db.Stats()

	var version string
	if err := h.db.QueryRow("SHOW server_version").Scan(&version); err != nil {
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

// PostgreSQLSchema returns the PostgreSQL schema DDL.
// Mirrors the SQLite schema with PostgreSQL-native types.
func PostgreSQLSchema() string {
	return `
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

CREATE TABLE IF NOT EXISTS knowledge_documents (
    id                   TEXT PRIMARY KEY,
    agent_id             TEXT NOT NULL REFERENCES agents(id),
    display_name         TEXT NOT NULL,
    mime_type            TEXT DEFAULT '',
    storage_location     TEXT NOT NULL,
    transcription_status TEXT NOT NULL DEFAULT 'pending',
    transcription_text   TEXT DEFAULT '',
    raw_worker_result    TEXT DEFAULT '',
    created_at           TEXT NOT NULL,
    updated_at           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_agent ON knowledge_documents(agent_id);
CREATE INDEX IF NOT EXISTS idx_documents_location ON knowledge_documents(storage_location);

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

CREATE TABLE IF NOT EXISTS fee_records (
    id           TEXT PRIMARY KEY,
    student_id   TEXT NOT NULL REFERENCES students(id),
    description  TEXT NOT NULL,
    amount_cents BIGINT NOT NULL DEFAULT 0,
    currency     TEXT DEFAULT 'USD',
    due_at       TEXT DEFAULT '',
    paid_at      TEXT DEFAULT '',
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fees_student ON fee_records(student_id);
`
}
