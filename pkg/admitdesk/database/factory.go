package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/database/backends"
)

// SQLiteFactory creates SQLite backends.
type SQLiteFactory struct{}

// Create creates a new SQLite backend with the given configuration.
func (f *SQLiteFactory) Create(config Config) (*Backend, error) {
	if config.Type != BackendSQLite {
		return nil, fmt.Errorf("sqlite factory cannot create %s backend", config.Type)
	}

	sqliteConfig := backends.SQLiteConfig{
		Path:        config.Path,
		JournalMode: config.JournalMode,
		BusyTimeout: config.BusyTimeout,
		ForeignKeys: true,
	}

	sqliteBackend, err := backends.OpenSQLite(sqliteConfig)
	if err != nil {
		return nil, err
	}

	return &Backend{
		Name:     "sqlite",
		Type:     BackendSQLite,
		DB:       sqliteBackend.DB,
		Config:   config,
		Migrator: &sqliteMigratorWrapper{sqliteBackend.Migrator},
		Health:   &sqliteHealthWrapper{sqliteBackend.Health},
	}, nil
}

// Supports returns true for SQLite backend type.
func (f *SQLiteFactory) Supports(backendType BackendType) bool {
	return backendType == BackendSQLite
}

// PostgreSQLFactory creates PostgreSQL backends.
type PostgreSQLFactory struct {
	Logger *slog.Logger
}

// Create creates a new PostgreSQL backend with the given configuration.
func (f *PostgreSQLFactory) Create(config Config) (*Backend, error) {
	if config.Type != BackendPostgreSQL {
		return nil, fmt.Errorf("postgresql factory cannot create %s backend", config.Type)
	}

	pgConfig := backends.PostgreSQLConfig{
		Host:            config.Host,
		Port:            config.Port,
		Database:        config.Database,
		User:            config.User,
		Password:        config.Password,
		SSLMode:         config.SSLMode,
		MaxOpenConns:    config.MaxOpenConns,
		MaxIdleConns:    config.MaxIdleConns,
		ConnMaxLifetime: config.ConnMaxLifetime,
	}

	pgBackend, err := backends.OpenPostgreSQL(pgConfig, f.Logger)
	if err != nil {
		return nil, err
	}

	return &Backend{
		Name:     "postgresql",
		Type:     BackendPostgreSQL,
		DB:       pgBackend.DB,
		Config:   config,
		Migrator: &pgMigratorWrapper{pgBackend.Migrator},
		Health:   &pgHealthWrapper{pgBackend.Health},
	}, nil
}

// Supports returns true for PostgreSQL backend type.
func (f *PostgreSQLFactory) Supports(backendType BackendType) bool {
	return backendType == BackendPostgreSQL
}

// Open creates and migrates a backend for the given configuration using the
// first factory that supports its type.
func Open(config Config, logger *slog.Logger) (*Backend, error) {
	if config.Type == "" {
		config.Type = BackendSQLite
	}

	factories := []BackendFactory{
		&SQLiteFactory{},
		&PostgreSQLFactory{Logger: logger},
	}

	for _, factory := range factories {
		if !factory.Supports(config.Type) {
			continue
		}
		backend, err := factory.Create(config)
		if err != nil {
			return nil, err
		}
		if err := backend.Migrator.Migrate(context.Background(), 0); err != nil {
			backend.Close()
			return nil, fmt.Errorf("migrate %s backend: %w", config.Type, err)
		}
		return backend, nil
	}

	return nil, fmt.Errorf("unsupported database backend: %s", config.Type)
}

// ── Wrapper types adapting backends package types to database interfaces ──

type sqliteMigratorWrapper struct {
	m *backends.SQLiteMigrator
}

func (w *sqliteMigratorWrapper) CurrentVersion(ctx context.Context) (int, error) {
	return w.m.CurrentVersion()
}

func (w *sqliteMigratorWrapper) Migrate(ctx context.Context, target int) error {
	return w.m.Migrate(target)
}

func (w *sqliteMigratorWrapper) NeedsMigration(ctx context.Context) (bool, error) {
	return w.m.NeedsMigration()
}

type sqliteHealthWrapper struct {
	h *backends.SQLiteHealthChecker
}

func (w *sqliteHealthWrapper) Ping(ctx context.Context) error {
	return w.h.Ping()
}

func (w *sqliteHealthWrapper) Status(ctx context.Context) HealthStatus {
	start := time.Now()
	status, err := w.h.Status()
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	return healthFromMap(status, time.Since(start))
}

type pgMigratorWrapper struct {
	m *backends.PostgreSQLMigrator
}

func (w *pgMigratorWrapper) CurrentVersion(ctx context.Context) (int, error) {
	return w.m.CurrentVersion()
}

func (w *pgMigratorWrapper) Migrate(ctx context.Context, target int) error {
	return w.m.Migrate(target)
}

func (w *pgMigratorWrapper) NeedsMigration(ctx context.Context) (bool, error) {
	return w.m.NeedsMigration()
}

type pgHealthWrapper struct {
	h *backends.PostgreSQLHealthChecker
}

func (w *pgHealthWrapper) Ping(ctx context.Context) error {
	return w.h.Ping()
}

func (w *pgHealthWrapper) Status(ctx context.Context) HealthStatus {
	start := time.Now()
	status, err := w.h.Status()
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	return healthFromMap(status, time.Since(start))
}

func healthFromMap(status map[string]any, latency time.Duration) HealthStatus {
	return HealthStatus{
		Healthy:         extractBool(status, "healthy"),
		Latency:         latency,
		Version:         extractString(status, "version"),
		Error:           extractString(status, "error"),
		OpenConnections: extractInt(status, "open_conns"),
		InUse:           extractInt(status, "in_use"),
		Idle:            extractInt(status, "idle"),
		WaitCount:       int64(extractInt(status, "wait_count")),
		MaxOpenConns:    extractInt(status, "max_open_conns"),
	}
}

func extractBool(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func extractString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func extractInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
