package config

import "testing"

func TestGetAPIKey(t *testing.T) {
	t.Run("from environment variable", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "sk-ant-test-key")

		key, err := GetAPIKey(&Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if key != "sk-ant-test-key" {
			t.Errorf("expected 'sk-ant-test-key', got %q", key)
		}
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}}
		key, src := ResolveAPIKey(cfg)
		if key != "sk-ant-config-key" || src != KeySourceConfig {
			t.Errorf("ResolveAPIKey() = %q, %s", key, src)
		}
	})

	t.Run("unexpanded reference is ignored", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "${UNSET_FOREMAN_KEY}"}}
		if _, err := GetAPIKey(cfg); err != ErrNoAPIKey {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})

	t.Run("no key configured", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "")

		if _, err := GetAPIKey(&Config{}); err != ErrNoAPIKey {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})
}

func TestWorkerEnv(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	t.Setenv("FOREMAN_TEST_REGION", "eu")

	cfg := Default()
	cfg.Anthropic.APIKey = "sk-ant-config-key"
	cfg.Supervisor.Env = map[string]string{"REGION": "${FOREMAN_TEST_REGION}"}

	env := WorkerEnv(cfg)
	if env["REGION"] != "eu" {
		t.Errorf("REGION = %q, want expanded eu", env["REGION"])
	}
	if env[APIKeyEnv] != "sk-ant-config-key" {
		t.Errorf("%s = %q, want config key", APIKeyEnv, env[APIKeyEnv])
	}

	cfg.Supervisor.Env[APIKeyEnv] = "explicit"
	if got := WorkerEnv(cfg)[APIKeyEnv]; got != "explicit" {
		t.Errorf("explicit env should win, got %q", got)
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-REDACTED", "sk-ant-...mnop"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := MaskAPIKey(tt.key); got != tt.want {
				t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}
