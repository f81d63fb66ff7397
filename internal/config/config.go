// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Package config loads layered configuration with Koanf v2:
// built-in defaults, then an optional YAML file, then VELOROUTE_*
// environment variables (highest priority).
//
// All matching thresholds and sync tuning constants live here. They are
// product tuning values, not derived from first principles, so they are
// configuration rather than hard-coded law.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/veloroute/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "VELOROUTE_CONFIG"

// envPrefix is stripped from environment variables before mapping them to
// koanf paths: VELOROUTE_SYNC_BATCH_SIZE -> sync.batch_size.
const envPrefix = "VELOROUTE_"

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	API     APIConfig     `koanf:"api"`
	Sync    SyncConfig    `koanf:"sync"`
	Route   RouteConfig   `koanf:"route"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig configures the local HTTP control surface.
type ServerConfig struct {
	Host          string        `koanf:"host"`
	Port          int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout       time.Duration `koanf:"timeout"`
	RateLimitReqs int           `koanf:"rate_limit_reqs" validate:"min=1"`
	CORSOrigins   []string      `koanf:"cors_origins"`
}

// StorageConfig configures the BadgerDB-backed blob store.
type StorageConfig struct {
	Path string `koanf:"path" validate:"required"`
	// InMemory switches Badger to in-memory mode. Tests only.
	InMemory bool `koanf:"in_memory"`
}

// APIConfig configures the remote training-data API client, including the
// upstream's documented rate limits (burst cap plus sliding-window
// sustained cap).
type APIConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`
	// Burst is the short-window request cap (requests per BurstWindow).
	Burst       int           `koanf:"burst" validate:"min=1"`
	BurstWindow time.Duration `koanf:"burst_window"`
	// Sustained is the sliding-window cap (requests per SustainedWindow).
	Sustained       int           `koanf:"sustained" validate:"min=1"`
	SustainedWindow time.Duration `koanf:"sustained_window"`
	MaxRetries      uint64        `koanf:"max_retries"`
	RetryInitial    time.Duration `koanf:"retry_initial"`
	RetryMax        time.Duration `koanf:"retry_max"`
}

// SyncConfig tunes the activity sync manager.
type SyncConfig struct {
	// InitialDays is the lookback window for the first sync when no
	// cache exists yet.
	InitialDays int `koanf:"initial_days" validate:"min=1"`
	// Debounce is the quiescence window for coalescing UI-triggered
	// syncDateRange calls (timeline scrubbing).
	Debounce time.Duration `koanf:"debounce"`
	// BatchSize is the number of per-activity bounds fetches per batch.
	BatchSize int `koanf:"batch_size" validate:"min=1"`
	// Concurrency bounds in-flight bounds fetches within a batch.
	Concurrency int `koanf:"concurrency" validate:"min=1"`
}

// RouteConfig tunes route matching and section detection.
type RouteConfig struct {
	// MinMatchPercent is the display-match threshold: low, favors
	// recall. Partial overlaps are still worth telling the user about.
	MinMatchPercent float64 `koanf:"min_match_percent" validate:"min=0,max=100"`
	// MinGroupingPercent is the grouping threshold: high, favors
	// precision. Grouping pollution is worse than under-grouping.
	MinGroupingPercent float64 `koanf:"min_grouping_percent" validate:"min=0,max=100"`
	// SimplifyToleranceM is the Douglas-Peucker tolerance in meters.
	SimplifyToleranceM float64 `koanf:"simplify_tolerance_m" validate:"gt=0"`
	// MaxSignaturePoints caps the simplified point count.
	MaxSignaturePoints int `koanf:"max_signature_points" validate:"min=10"`
	// LoopThresholdM: start/end within this distance marks a loop.
	LoopThresholdM float64 `koanf:"loop_threshold_m" validate:"gt=0"`
	// DistanceTolerancePercent: max relative distance difference for
	// same/reverse classification.
	DistanceTolerancePercent float64 `koanf:"distance_tolerance_percent" validate:"gt=0"`
	// ProximityThresholdM: how close two traces must run to count as
	// the same path segment.
	ProximityThresholdM float64 `koanf:"proximity_threshold_m" validate:"gt=0"`
	// ClusterToleranceM merges near-duplicate section overlaps.
	ClusterToleranceM float64 `koanf:"cluster_tolerance_m" validate:"gt=0"`
	// MinActivities is the visit count for a section to be frequent.
	MinActivities int `koanf:"min_activities" validate:"min=2"`
	// MinSectionLengthM / MaxSectionLengthM bound section length. The
	// upper cap prevents a section from degenerating into the whole
	// route.
	MinSectionLengthM float64 `koanf:"min_section_length_m" validate:"gt=0"`
	MaxSectionLengthM float64 `koanf:"max_section_length_m" validate:"gt=0,gtfield=MinSectionLengthM"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and env
// layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          4817,
			Timeout:       30 * time.Second,
			RateLimitReqs: 100,
			CORSOrigins:   []string{"*"},
		},
		Storage: StorageConfig{
			Path: "/data/veloroute",
		},
		API: APIConfig{
			BaseURL:         "https://api.example-training.com/v1",
			Timeout:         15 * time.Second,
			Burst:           10,
			BurstWindow:     10 * time.Second,
			Sustained:       100,
			SustainedWindow: 15 * time.Minute,
			MaxRetries:      4,
			RetryInitial:    500 * time.Millisecond,
			RetryMax:        30 * time.Second,
		},
		Sync: SyncConfig{
			InitialDays: 90,
			Debounce:    400 * time.Millisecond,
			BatchSize:   25,
			Concurrency: 4,
		},
		Route: RouteConfig{
			MinMatchPercent:          20,
			MinGroupingPercent:       70,
			SimplifyToleranceM:       25,
			MaxSignaturePoints:       100,
			LoopThresholdM:           200,
			DistanceTolerancePercent: 15,
			ProximityThresholdM:      40,
			ClusterToleranceM:        25,
			MinActivities:            3,
			MinSectionLengthM:        300,
			MaxSectionLengthM:        30000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, optional YAML file, and
// environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural constraints plus the cross-field rules the
// validator tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return translateValidationError(err)
	}
	if c.Route.MinGroupingPercent < c.Route.MinMatchPercent {
		return fmt.Errorf("route.min_grouping_percent (%.0f) must not be below route.min_match_percent (%.0f)",
			c.Route.MinGroupingPercent, c.Route.MinMatchPercent)
	}
	return nil
}

func translateValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("field %s failed %q validation", fe.Namespace(), fe.Tag())
	}
	return err
}
