package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flerrors "github.com/flowlens/flowlens/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowlens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingDefaultPathUsesDefaults(t *testing.T) {
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { require.NoError(t, os.Chdir(orig)) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pool.MaxSessions)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.TTL.Std())
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, flerrors.ErrCodeConfigLoad, flerrors.GetCode(err))
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
browser:
  provider_url: https://sessions.example.com
pool:
  max_sessions: 10
  acquire_timeout: 90s
vision:
  model: claude-3-opus-latest
cache:
  enabled: true
  ttl: 48h
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://sessions.example.com", cfg.Browser.ProviderURL)
	assert.Equal(t, 10, cfg.Pool.MaxSessions)
	assert.Equal(t, 90*time.Second, cfg.Pool.AcquireTimeout.Std())
	assert.Equal(t, "claude-3-opus-latest", cfg.Vision.Model)
	assert.Equal(t, 48*time.Hour, cfg.Cache.TTL.Std())
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 1, cfg.Pool.MinSessions)
	assert.Equal(t, "v2", cfg.Vision.PromptVersion)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "pool: [not a map")

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, flerrors.ErrCodeConfigParse, flerrors.GetCode(err))
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
vision:
  api_key: from-file
`)
	t.Setenv("FLOWLENS_VISION_API_KEY", "from-env")
	t.Setenv("FLOWLENS_BROWSER_API_KEY", "browser-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Vision.APIKey)
	assert.Equal(t, "browser-env", cfg.Browser.APIKey)
}

func TestAnthropicKeyFallback(t *testing.T) {
	t.Setenv("FLOWLENS_VISION_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-env")

	cfg := Default()
	cfg.applyEnv()
	assert.Equal(t, "anthropic-env", cfg.Vision.APIKey)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max sessions", func(c *Config) { c.Pool.MaxSessions = 0 }},
		{"negative min sessions", func(c *Config) { c.Pool.MinSessions = -1 }},
		{"min above max", func(c *Config) { c.Pool.MinSessions = 9; c.Pool.MaxSessions = 3 }},
		{"zero acquire timeout", func(c *Config) { c.Pool.AcquireTimeout = 0 }},
		{"missing provider url", func(c *Config) { c.Browser.ProviderURL = "" }},
		{"cache enabled without ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, flerrors.ErrCodeConfigInvalid, flerrors.GetCode(err))
		})
	}
}
