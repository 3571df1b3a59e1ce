package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://api.anthropic.com", cfg.Model.BaseURL)
	assert.Equal(t, 500, cfg.Conversation.MaxTurns)
	assert.Equal(t, 10, cfg.Conversation.MaxHistoryMessages)
	assert.Equal(t, 30*time.Second, cfg.ScriptTimeout())
	assert.Equal(t, 30*time.Minute, cfg.Retention())
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Model.Model, cfg.Model.Model)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-ant-test-key-0123456789"
	cfg.Gateway.Addr = "127.0.0.1:9999"
	cfg.Gateway.SharedSecret = "s3cret"
	cfg.DataDir = t.TempDir()
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Model.APIKey, loaded.Model.APIKey)
	assert.Equal(t, "127.0.0.1:9999", loaded.Gateway.Addr)
	assert.Equal(t, "s3cret", loaded.Gateway.SharedSecret)
}

func TestEnvOverridesSecrets(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "vigil.json"))

	os.Setenv("VIGIL_API_KEY", "sk-ant-from-env-0123456789")
	os.Setenv("VIGIL_SHARED_SECRET", "env-secret")
	defer os.Unsetenv("VIGIL_API_KEY")
	defer os.Unsetenv("VIGIL_SHARED_SECRET")

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-from-env-0123456789", cfg.Model.APIKey)
	assert.Equal(t, "env-secret", cfg.Gateway.SharedSecret)
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-ant-test-key-0123456789"
	cfg.Gateway.SharedSecret = "s3cret"
	require.NoError(t, v.Validate(cfg))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty api key", func(c *Config) { c.Model.APIKey = "" }},
		{"wrong key prefix", func(c *Config) { c.Model.APIKey = "sk-openai-nope" }},
		{"empty model", func(c *Config) { c.Model.Model = "" }},
		{"bad temperature", func(c *Config) { c.Model.Temperature = 1.5 }},
		{"zero max turns", func(c *Config) { c.Conversation.MaxTurns = 0 }},
		{"zero script timeout", func(c *Config) { c.Script.TimeoutSeconds = 0 }},
		{"bad addr", func(c *Config) { c.Gateway.Addr = "not-an-addr" }},
		{"empty secret", func(c *Config) { c.Gateway.SharedSecret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broken := DefaultConfig()
			broken.Model.APIKey = "sk-ant-test-key-0123456789"
			broken.Gateway.SharedSecret = "s3cret"
			tt.mutate(broken)
			assert.Error(t, v.Validate(broken))
		})
	}
}
