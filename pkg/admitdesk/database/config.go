package database

import (
	"time"
)

// Config represents a database connection configuration.
type Config struct {
	// Type identifies the backend type
	Type BackendType `yaml:"type"`

	// Path is for SQLite databases
	Path string `yaml:"path"`

	// Host is for network databases (PostgreSQL)
	Host string `yaml:"host"`

	// Port is for network databases
	Port int `yaml:"port"`

	// Database name
	Database string `yaml:"database"`

	// User for authentication
	User string `yaml:"user"`

	// Password for authentication
	Password string `yaml:"password"`

	// SSLMode for PostgreSQL: disable, require, verify-full
	SSLMode string `yaml:"ssl_mode"`

	// Connection pooling
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// Journal mode for SQLite (default: WAL)
	JournalMode string `yaml:"journal_mode"`

	// Busy timeout for SQLite in milliseconds (default: 5000)
	BusyTimeout int `yaml:"busy_timeout"`
}

// DefaultConfig returns a zero-configuration SQLite setup.
func DefaultConfig() Config {
	return Config{
		Type:        BackendSQLite,
		Path:        "./data/admitdesk.db",
		JournalMode: "WAL",
		BusyTimeout: 5000,
	}
}
