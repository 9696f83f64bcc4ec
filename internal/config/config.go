// Package config loads grouplog configuration files.
//
// Files are JSON or YAML, selected by extension. Durations are strings
// parsed with time.ParseDuration and optional numbers are pointers so an
// explicit zero can be told apart from an omitted key.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"grouplog/internal/cache"
	"grouplog/internal/driver"
	"grouplog/internal/format"
	"grouplog/internal/ingest"
)

const (
	// EnvConfigFile names the environment variable overriding the config path.
	EnvConfigFile = "GROUPLOG_CONFIG_FILE"

	defaultDataDir         = "data/group_logs"
	defaultShutdownTimeout = 10 * time.Second
)

// DefaultCandidates lists the config paths probed when none is given.
var DefaultCandidates = []string{
	"config/grouplog.json",
	"config/grouplog.yaml",
	"config/grouplog.yml",
}

// Config is one validated runtime configuration.
type Config struct {
	LogLevel        slog.Level
	DataDir         string
	MaxHistory      int
	SyncCount       int
	Location        *time.Location
	ShutdownTimeout time.Duration

	Cache      cache.Config
	Format     FormatConfig
	Transcript TranscriptConfig
	Metrics    MetricsConfig

	Drivers []driver.Definition
}

// FormatConfig tunes the formatting engine.
type FormatConfig struct {
	Workers         int
	LookupTimeout   time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	MaxReplyDepth   int
	MaxForwardDepth int
}

// TranscriptConfig tunes transcript rendering.
type TranscriptConfig struct {
	ImageLimit int
}

// MetricsConfig configures the metrics endpoint. An empty Address
// disables serving.
type MetricsConfig struct {
	Address string
}

type fileConfig struct {
	LogLevel        string               `json:"log_level" yaml:"log_level"`
	DataDir         string               `json:"data_dir" yaml:"data_dir"`
	MaxHistory      *int                 `json:"max_history" yaml:"max_history"`
	SyncCount       *int                 `json:"sync_count" yaml:"sync_count"`
	Timezone        string               `json:"timezone" yaml:"timezone"`
	ShutdownTimeout string               `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	Cache           fileCacheConfig      `json:"cache" yaml:"cache"`
	Format          fileFormatConfig     `json:"format" yaml:"format"`
	Transcript      fileTranscriptConfig `json:"transcript" yaml:"transcript"`
	Metrics         fileMetricsConfig    `json:"metrics" yaml:"metrics"`
	Drivers         []fileDriverEntry    `json:"drivers" yaml:"drivers"`
}

type fileCacheConfig struct {
	NameCapacity    *int   `json:"name_capacity" yaml:"name_capacity"`
	MessageCapacity *int   `json:"message_capacity" yaml:"message_capacity"`
	MissCapacity    *int   `json:"miss_capacity" yaml:"miss_capacity"`
	MissTTL         string `json:"miss_ttl" yaml:"miss_ttl"`
}

type fileFormatConfig struct {
	Workers         *int   `json:"workers" yaml:"workers"`
	LookupTimeout   string `json:"lookup_timeout" yaml:"lookup_timeout"`
	MaxRetries      *int   `json:"max_retries" yaml:"max_retries"`
	InitialBackoff  string `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff      string `json:"max_backoff" yaml:"max_backoff"`
	MaxReplyDepth   *int   `json:"max_reply_depth" yaml:"max_reply_depth"`
	MaxForwardDepth *int   `json:"max_forward_depth" yaml:"max_forward_depth"`
}

type fileTranscriptConfig struct {
	ImageLimit *int `json:"image_limit" yaml:"image_limit"`
}

type fileMetricsConfig struct {
	Address string `json:"address" yaml:"address"`
}

type fileDriverEntry struct {
	Name    string         `json:"name" yaml:"name"`
	Type    string         `json:"type" yaml:"type"`
	Enabled *bool          `json:"enabled" yaml:"enabled"`
	Config  map[string]any `json:"config" yaml:"config"`
}

// Default returns the configuration used for omitted keys.
func Default() Config {
	return Config{
		LogLevel:        slog.LevelInfo,
		DataDir:         defaultDataDir,
		MaxHistory:      ingest.DefaultMaxHistory,
		SyncCount:       ingest.DefaultSyncCount,
		Location:        time.Local,
		ShutdownTimeout: defaultShutdownTimeout,
		Cache:           cache.DefaultConfig(),
		Format: FormatConfig{
			Workers:         format.DefaultWorkers,
			LookupTimeout:   format.DefaultLookupTimeout,
			MaxRetries:      format.DefaultMaxRetries,
			InitialBackoff:  format.DefaultInitialBackoff,
			MaxBackoff:      format.DefaultMaxBackoff,
			MaxReplyDepth:   format.MaxReplyDepth,
			MaxForwardDepth: format.MaxForwardDepth,
		},
		Drivers: make([]driver.Definition, 0),
	}
}

// ResolvePath picks the config file: explicit, then EnvConfigFile, then
// the first existing DefaultCandidates entry.
func ResolvePath(explicit string) (string, error) {
	if path := strings.TrimSpace(explicit); path != "" {
		return path, nil
	}
	if path := strings.TrimSpace(os.Getenv(EnvConfigFile)); path != "" {
		return path, nil
	}

	for _, candidate := range DefaultCandidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create one of %s, or set %s",
		strings.Join(DefaultCandidates, ", "),
		EnvConfigFile,
	)
}

// Load reads, applies and validates the config file at path.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes data as YAML when ext is ".yaml" or ".yml" and as JSON
// otherwise, then applies defaults and validation.
func Parse(data []byte, ext string) (Config, error) {
	var parsed fileConfig
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse json: %w", err)
		}
	}

	cfg := Default()
	if err := apply(&cfg, parsed); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("validate: %w", err)
	}

	return cfg, nil
}

func apply(cfg *Config, parsed fileConfig) error {
	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := ParseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = level
	}
	if dataDir := strings.TrimSpace(parsed.DataDir); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if zone := strings.TrimSpace(parsed.Timezone); zone != "" {
		location, err := time.LoadLocation(zone)
		if err != nil {
			return fmt.Errorf("parse timezone: %w", err)
		}
		cfg.Location = location
	}
	cfg.Metrics.Address = strings.TrimSpace(parsed.Metrics.Address)

	positives := []struct {
		key    string
		value  *int
		target *int
	}{
		{key: "max_history", value: parsed.MaxHistory, target: &cfg.MaxHistory},
		{key: "sync_count", value: parsed.SyncCount, target: &cfg.SyncCount},
		{key: "cache.name_capacity", value: parsed.Cache.NameCapacity, target: &cfg.Cache.NameCapacity},
		{key: "cache.message_capacity", value: parsed.Cache.MessageCapacity, target: &cfg.Cache.MessageCapacity},
		{key: "cache.miss_capacity", value: parsed.Cache.MissCapacity, target: &cfg.Cache.MissCapacity},
		{key: "format.workers", value: parsed.Format.Workers, target: &cfg.Format.Workers},
		{key: "format.max_reply_depth", value: parsed.Format.MaxReplyDepth, target: &cfg.Format.MaxReplyDepth},
		{key: "format.max_forward_depth", value: parsed.Format.MaxForwardDepth, target: &cfg.Format.MaxForwardDepth},
	}
	for _, field := range positives {
		if field.value == nil {
			continue
		}
		if *field.value <= 0 {
			return fmt.Errorf("parse %s: must be > 0", field.key)
		}
		*field.target = *field.value
	}

	nonNegatives := []struct {
		key    string
		value  *int
		target *int
	}{
		{key: "format.max_retries", value: parsed.Format.MaxRetries, target: &cfg.Format.MaxRetries},
		{key: "transcript.image_limit", value: parsed.Transcript.ImageLimit, target: &cfg.Transcript.ImageLimit},
	}
	for _, field := range nonNegatives {
		if field.value == nil {
			continue
		}
		if *field.value < 0 {
			return fmt.Errorf("parse %s: must be >= 0", field.key)
		}
		*field.target = *field.value
	}

	durations := []struct {
		key    string
		value  string
		target *time.Duration
	}{
		{key: "shutdown_timeout", value: parsed.ShutdownTimeout, target: &cfg.ShutdownTimeout},
		{key: "cache.miss_ttl", value: parsed.Cache.MissTTL, target: &cfg.Cache.MissTTL},
		{key: "format.lookup_timeout", value: parsed.Format.LookupTimeout, target: &cfg.Format.LookupTimeout},
		{key: "format.initial_backoff", value: parsed.Format.InitialBackoff, target: &cfg.Format.InitialBackoff},
		{key: "format.max_backoff", value: parsed.Format.MaxBackoff, target: &cfg.Format.MaxBackoff},
	}
	for _, field := range durations {
		raw := strings.TrimSpace(field.value)
		if raw == "" {
			continue
		}
		duration, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", field.key, err)
		}
		if duration <= 0 {
			return fmt.Errorf("parse %s: must be > 0", field.key)
		}
		*field.target = duration
	}

	cfg.Drivers = make([]driver.Definition, 0, len(parsed.Drivers))
	for index, entry := range parsed.Drivers {
		if len(entry.Config) == 0 {
			return fmt.Errorf("parse drivers[%d].config: required", index)
		}
		rawConfig, err := json.Marshal(entry.Config)
		if err != nil {
			return fmt.Errorf("parse drivers[%d].config: %w", index, err)
		}

		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg.Drivers = append(cfg.Drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  rawConfig,
		})
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.Format.MaxBackoff < cfg.Format.InitialBackoff {
		return fmt.Errorf("format.max_backoff must be >= format.initial_backoff")
	}

	seen := make(map[string]struct{}, len(cfg.Drivers))
	for index, definition := range cfg.Drivers {
		if definition.Name == "" {
			return fmt.Errorf("drivers[%d].name is required", index)
		}
		if definition.Type == "" {
			return fmt.Errorf("drivers[%s].type is required", definition.Name)
		}
		if _, exists := seen[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		seen[definition.Name] = struct{}{}
	}

	return nil
}

// EnabledDrivers returns the enabled driver definitions.
func (c Config) EnabledDrivers() []driver.Definition {
	enabled := make([]driver.Definition, 0, len(c.Drivers))
	for _, definition := range c.Drivers {
		if definition.Enabled {
			enabled = append(enabled, definition)
		}
	}

	return enabled
}

// ParseLogLevel parses one textual slog level.
func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
