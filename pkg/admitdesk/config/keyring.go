// Keyring-backed credential storage using the operating system's native
// keyring (Linux: Secret Service/GNOME Keyring, macOS: Keychain, Windows:
// Credential Manager).
//
// Priority for resolving secrets:
//  1. Environment variable (ADMITDESK_CHANNEL_API_KEY, ADMITDESK_WORKER_API_KEY)
//  2. OS keyring (encrypted by the OS, requires user session)
//  3. .env file (loaded by godotenv before the environment lookup)
//  4. config.yaml value (least secure — plaintext on disk)
package config

import (
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "admitdesk"

	keyringChannelAPIKey = "channel_api_key"
	keyringWorkerAPIKey  = "worker_api_key"

	envChannelAPIKey = "ADMITDESK_CHANNEL_API_KEY"
	envWorkerAPIKey  = "ADMITDESK_WORKER_API_KEY"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__admitdesk_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// resolveSecrets fills vendor API keys through the priority chain and writes
// the resolved values back into the config.
func resolveSecrets(cfg *Config) {
	cfg.Channel.APIKey = resolveSecret(envChannelAPIKey, keyringChannelAPIKey, cfg.Channel.APIKey)
	cfg.Worker.APIKey = resolveSecret(envWorkerAPIKey, keyringWorkerAPIKey, cfg.Worker.APIKey)
}

func resolveSecret(envName, keyringName, configValue string) string {
	if v := os.Getenv(envName); v != "" {
		return v
	}
	if v := GetKeyring(keyringName); v != "" {
		return v
	}
	return configValue
}
