package config

import (
	"errors"
	"os"
	"strings"
)

// APIKeyEnv is the variable worker processes read their API key from.
const APIKeyEnv = "ANTHROPIC_API_KEY"

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// ResolveAPIKey returns the API key for worker processes and where it came from.
// The environment wins over the config file; unexpanded ${VAR} references are ignored.
func ResolveAPIKey(cfg *Config) (string, KeySource) {
	if key := os.Getenv(APIKeyEnv); key != "" {
		return key, KeySourceEnv
	}
	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig
		}
	}
	return "", KeySourceNone
}

// GetAPIKey returns the API key or ErrNoAPIKey.
func GetAPIKey(cfg *Config) (string, error) {
	key, src := ResolveAPIKey(cfg)
	if src == KeySourceNone {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// WorkerEnv returns the supervisor env with the API key injected when one
// is configured and the env does not already set it.
func WorkerEnv(cfg *Config) map[string]string {
	env := make(map[string]string, len(cfg.Supervisor.Env)+1)
	for k, v := range cfg.Supervisor.Env {
		env[k] = os.ExpandEnv(v)
	}
	if _, set := env[APIKeyEnv]; !set {
		if key, src := ResolveAPIKey(cfg); src == KeySourceConfig {
			env[APIKeyEnv] = key
		}
	}
	return env
}

// MaskAPIKey returns a masked version of the API key for display.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
