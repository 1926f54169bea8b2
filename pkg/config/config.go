// Package config loads and validates the flowlens configuration file.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	flerrors "github.com/flowlens/flowlens/pkg/errors"
	"github.com/flowlens/flowlens/pkg/flow"
)

// DefaultPath is tried when no --config flag is given.
const DefaultPath = "flowlens.yaml"

// Config is the complete flowlens configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Pool    PoolConfig    `yaml:"pool"`
	Vision  VisionConfig  `yaml:"vision"`
	Cache   CacheConfig   `yaml:"cache"`
	Storage StorageConfig `yaml:"storage"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
}

// BrowserConfig points at the remote browser session provider.
type BrowserConfig struct {
	ProviderURL string `yaml:"provider_url"`
	APIKey      string `yaml:"api_key"`
}

// PoolConfig sizes the browser session pool.
type PoolConfig struct {
	MinSessions     int           `yaml:"min_sessions"`
	MaxSessions     int           `yaml:"max_sessions"`
	SessionLifetime flow.Duration `yaml:"session_lifetime"`
	IdleTimeout     flow.Duration `yaml:"idle_timeout"`
	AcquireTimeout  flow.Duration `yaml:"acquire_timeout"`
}

// VisionConfig configures the vision verification model.
type VisionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	PromptVersion string        `yaml:"prompt_version"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       flow.Duration `yaml:"timeout"`
}

// CacheConfig controls vision verdict caching.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     flow.Duration `yaml:"ttl"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// OutputConfig controls run artifacts.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig controls the JSONL event logs.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Default returns the recommended configuration.
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			ProviderURL: "https://api.browser.test",
		},
		Pool: PoolConfig{
			MinSessions:     1,
			MaxSessions:     5,
			SessionLifetime: flow.Duration(30 * time.Minute),
			IdleTimeout:     flow.Duration(5 * time.Minute),
			AcquireTimeout:  flow.Duration(60 * time.Second),
		},
		Vision: VisionConfig{
			Enabled:       true,
			BaseURL:       "https://api.anthropic.com",
			Model:         "claude-3-5-sonnet-latest",
			PromptVersion: "v2",
			MaxTokens:     1024,
			Timeout:       flow.Duration(60 * time.Second),
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     flow.Duration(7 * 24 * time.Hour),
		},
		Storage: StorageConfig{
			Path: ".flowlens/flowlens.db",
		},
		Output: OutputConfig{
			Dir: ".flowlens/artifacts",
		},
		Logging: LoggingConfig{
			Dir:   ".flowlens/logs",
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, then validates it. A missing explicit path is an
// error; a missing DefaultPath is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, flerrors.Wrap(err, flerrors.ErrCodeConfigParse, "parse config file").
				WithContext("path", path)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults only.
	default:
		return nil, flerrors.Wrap(err, flerrors.ErrCodeConfigLoad, "read config file").
			WithContext("path", path)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays credentials from the environment. Env values win over the
// file so keys can stay out of checked-in configs.
func (c *Config) applyEnv() {
	if v := os.Getenv("FLOWLENS_BROWSER_API_KEY"); v != "" {
		c.Browser.APIKey = v
	}
	if v := os.Getenv("FLOWLENS_VISION_API_KEY"); v != "" {
		c.Vision.APIKey = v
	}
	if c.Vision.APIKey == "" {
		c.Vision.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Pool.MaxSessions <= 0 {
		return flerrors.New(flerrors.ErrCodeConfigInvalid, "pool.max_sessions must be positive")
	}
	if c.Pool.MinSessions < 0 {
		return flerrors.New(flerrors.ErrCodeConfigInvalid, "pool.min_sessions must not be negative")
	}
	if c.Pool.MinSessions > c.Pool.MaxSessions {
		return flerrors.New(flerrors.ErrCodeConfigInvalid, "pool.min_sessions must not exceed pool.max_sessions")
	}
	if c.Pool.AcquireTimeout <= 0 {
		return flerrors.New(flerrors.ErrCodeConfigInvalid, "pool.acquire_timeout must be positive")
	}
	if c.Browser.ProviderURL == "" {
		return flerrors.New(flerrors.ErrCodeConfigInvalid, "browser.provider_url is required")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return flerrors.New(flerrors.ErrCodeConfigInvalid, "cache.ttl must be positive when the cache is enabled")
	}
	if c.Storage.Path == "" {
		return flerrors.New(flerrors.ErrCodeConfigInvalid, "storage.path is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return flerrors.New(flerrors.ErrCodeConfigInvalid, "logging.level must be one of debug, info, warn, error").
			WithContext("level", c.Logging.Level)
	}
	return nil
}
