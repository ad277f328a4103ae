// Package config loads portal configuration from YAML with .env loading and
// environment-variable expansion, and resolves vendor credentials through a
// keyring-backed priority chain.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/channel"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/database"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/knowledge"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/maintenance"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/objectstore"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/webui"
)

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Config is the root portal configuration.
type Config struct {
	// Plan is the billing plan reported to the channel provider.
	Plan string `yaml:"plan"`

	Logging     LoggingConfig                `yaml:"logging"`
	Database    database.Config              `yaml:"database"`
	Objects     objectstore.Config           `yaml:"objects"`
	Web         webui.Config                 `yaml:"web"`
	Worker      knowledge.WorkerClientConfig `yaml:"worker"`
	Channel     channel.ClientConfig         `yaml:"channel"`
	Maintenance maintenance.Config           `yaml:"maintenance"`
}

// DefaultConfig returns the portal defaults.
func DefaultConfig() *Config {
	return &Config{
		Plan:        "standard",
		Logging:     LoggingConfig{Level: "info", Format: "json"},
		Database:    database.DefaultConfig(),
		Objects:     objectstore.DefaultConfig(),
		Web:         webui.DefaultConfig(),
		Maintenance: maintenance.DefaultConfig(),
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} in config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads a YAML configuration file. .env files next to the config and in
// the working directory are loaded first; ${VAR} references in the YAML are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	loadEnvFiles(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	resolveSecrets(cfg)
	return cfg, nil
}

// loadEnvFiles loads .env files, silently ignoring missing ones.
func loadEnvFiles(configPath string) {
	candidates := []string{".env"}
	if dir := filepath.Dir(configPath); dir != "." {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}
	for _, f := range candidates {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars substitutes ${VAR} and ${VAR:-default} from the environment.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		return def
	})
}
