// Package config resolves the plugin's settings from config.yaml in the
// config directory plus environment overrides. Resolution happens once; the
// result is passed to every store and client rather than re-read per call.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/useorgx/openclaw-plugin/internal/filestore"
)

const (
	DefaultBaseURL      = "https://www.useorgx.com"
	DefaultSyncSchedule = "@every 30s"
	FileName            = "config.yaml"
)

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http, stdout, none
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	ConfigDir string `yaml:"-"`
	OutboxDir string `yaml:"outbox_dir"`

	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	UserID   string `yaml:"user_id"`
	LogLevel string `yaml:"log_level"`

	// SyncSchedule is a robfig/cron expression or descriptor.
	SyncSchedule string `yaml:"sync_schedule"`

	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	CacheTTLSeconds       int `yaml:"cache_ttl_seconds"`
	CacheSize             int `yaml:"cache_size"`

	Telemetry TelemetryConfig `yaml:"telemetry"`

	// NeedsSetup is set when no config.yaml exists yet.
	NeedsSetup bool `yaml:"-"`
}

// RequestTimeout is the per-request timeout for the entity client.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CacheTTL is how long entity list responses are reused.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Configured reports whether an API key is available.
func (c Config) Configured() bool { return strings.TrimSpace(c.APIKey) != "" }

// Fingerprint returns a stable hash of the settings that require rebuilding
// the entity client when they change, the API key included.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "base=%s|key=%s|user=%s|timeout=%d|ttl=%d|size=%d",
		c.BaseURL, c.APIKey, c.UserID, c.RequestTimeoutSeconds, c.CacheTTLSeconds, c.CacheSize)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// ConfigPath returns the path to config.yaml within dir.
func ConfigPath(dir string) string {
	return filepath.Join(dir, FileName)
}

// ConfigDir returns the plugin config directory. ORGX_CONFIG_DIR overrides
// the default ~/.config/useorgx/openclaw-plugin.
func ConfigDir() string {
	if override := os.Getenv("ORGX_CONFIG_DIR"); override != "" {
		return expandHome(override)
	}
	return filepath.Join(userHome(), ".config", "useorgx", "openclaw-plugin")
}

// DefaultOutboxDir is ~/.openclaw/orgx-outbox.
func DefaultOutboxDir() string {
	return filepath.Join(userHome(), ".openclaw", "orgx-outbox")
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return home
}

func expandHome(p string) string {
	if p == "~" {
		return userHome()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(userHome(), p[2:])
	}
	return p
}

func defaultConfig() Config {
	return Config{
		BaseURL:               DefaultBaseURL,
		LogLevel:              "info",
		SyncSchedule:          DefaultSyncSchedule,
		RequestTimeoutSeconds: 15,
		CacheTTLSeconds:       10,
		CacheSize:             256,
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "orgx-openclaw",
			SampleRate:  1.0,
		},
	}
}

// Load resolves the config from ConfigDir.
func Load() (Config, error) {
	return LoadFrom(ConfigDir())
}

// LoadFrom resolves the config from dir. A missing config.yaml yields the
// defaults with NeedsSetup set; a malformed one is an error.
func LoadFrom(dir string) (Config, error) {
	cfg := defaultConfig()
	cfg.ConfigDir = dir

	if err := filestore.EnsureDir(dir); err != nil {
		return cfg, fmt.Errorf("config: create config dir: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsSetup = true
		} else {
			return cfg, fmt.Errorf("config: read %s: %w", FileName, err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", FileName, err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.UserID = strings.TrimSpace(cfg.UserID)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.SyncSchedule) == "" {
		cfg.SyncSchedule = DefaultSyncSchedule
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = 15
	}
	if cfg.CacheTTLSeconds < 0 {
		cfg.CacheTTLSeconds = 0
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if strings.TrimSpace(cfg.OutboxDir) == "" {
		cfg.OutboxDir = DefaultOutboxDir()
	}
	cfg.OutboxDir = expandHome(cfg.OutboxDir)
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = "none"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "orgx-openclaw"
	}
	if cfg.Telemetry.SampleRate <= 0 || cfg.Telemetry.SampleRate > 1 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("ORGX_API_KEY"); raw != "" {
		cfg.APIKey = raw
	}
	if raw := os.Getenv("ORGX_BASE_URL"); raw != "" {
		cfg.BaseURL = raw
	}
	if raw := os.Getenv("ORGX_USER_ID"); raw != "" {
		cfg.UserID = raw
	}
	if raw := os.Getenv("ORGX_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("ORGX_SYNC_SCHEDULE"); raw != "" {
		cfg.SyncSchedule = raw
	}
	if raw := os.Getenv("ORGX_REQUEST_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.RequestTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("ORGX_OUTBOX_DIR"); raw != "" {
		cfg.OutboxDir = raw
	}
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map
// if the file doesn't exist.
func loadRawConfig(path string) (map[string]any, error) {
	raw := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", FileName, err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", FileName, err)
		}
	}
	return raw, nil
}

// saveRawConfig writes raw back to config.yaml owner-only, since it can hold
// the API key.
func saveRawConfig(path string, raw map[string]any) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config: marshal %s: %w", FileName, err)
	}
	return filestore.WriteFileAtomic(path, out, filestore.FilePerm)
}

// SetAPIKey stores key in config.yaml, preserving other settings. An empty
// key removes it.
func SetAPIKey(dir, key string) error {
	return setValue(dir, "api_key", strings.TrimSpace(key))
}

// SetUserID stores the user id in config.yaml, preserving other settings.
func SetUserID(dir, userID string) error {
	return setValue(dir, "user_id", strings.TrimSpace(userID))
}

func setValue(dir, key, value string) error {
	path := ConfigPath(dir)
	raw, err := loadRawConfig(path)
	if err != nil {
		return err
	}
	if value == "" {
		delete(raw, key)
	} else {
		raw[key] = value
	}
	return saveRawConfig(path, raw)
}
