// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the sidecar's configuration.
//
// Values are layered: compiled defaults, then an optional YAML file, then
// SIDECAR_* environment variables. The first underscore after the prefix
// separates the section from the key, so SIDECAR_SERVER_GIN_MODE sets
// server.gin_mode. Durations accept Go syntax ("90s", "72h"); lists accept
// comma-separated values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/pkg/logging"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/validation_router"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIDECAR_"

// Model backends.
const (
	BackendNone   = "none"
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	OTel      OTelConfig      `koanf:"otel"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Logging   LoggingConfig   `koanf:"logging"`
	Rules     RulesConfig     `koanf:"rules"`
	Guard     GuardConfig     `koanf:"guard"`
	Citations CitationsConfig `koanf:"citations"`
	PII       PIIConfig       `koanf:"pii"`
	Router    RouterConfig    `koanf:"router"`
	Queue     QueueConfig     `koanf:"queue"`
	Decisions DecisionsConfig `koanf:"decisions"`
	Model     ModelConfig     `koanf:"model"`
	Auth      AuthConfig      `koanf:"auth"`
}

type ServerConfig struct {
	Port    int    `koanf:"port"`
	GinMode string `koanf:"gin_mode"`
}

// OTelConfig configures trace export. An empty endpoint disables tracing.
type OTelConfig struct {
	Endpoint string `koanf:"endpoint"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
	Dir   string `koanf:"dir"`
}

// RulesConfig selects the rulebook. An empty path uses the embedded one;
// Watch hot-reloads a file-backed rulebook.
type RulesConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

type GuardConfig struct {
	Path string `koanf:"path"`
}

type CitationsConfig struct {
	Path string `koanf:"path"`
}

type PIIConfig struct {
	PatternsPath string        `koanf:"patterns_path"`
	TokenTTL     time.Duration `koanf:"token_ttl"`
	MaxEntries   int           `koanf:"max_entries"`
	SecureMemory bool          `koanf:"secure_memory"`
}

// RouterConfig mirrors validation_router.Policy.
type RouterConfig struct {
	AutoConfidence       float64              `koanf:"auto_confidence"`
	PermissiveConfidence float64              `koanf:"permissive_confidence"`
	AsyncPenalty         float64              `koanf:"async_penalty"`
	HardSafety           []datatypes.Category `koanf:"hard_safety"`
	Permissive           []datatypes.Category `koanf:"permissive"`
	Critical             []datatypes.Category `koanf:"critical"`
}

type QueueConfig struct {
	AsyncTTL      time.Duration `koanf:"async_ttl"`
	SyncTTL       time.Duration `koanf:"sync_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	SnapshotTTL   time.Duration `koanf:"snapshot_ttl"`
	Retention     time.Duration `koanf:"retention"`
}

// DecisionsConfig locates the decision log. An empty path keeps it in
// memory.
type DecisionsConfig struct {
	Path string `koanf:"path"`
}

// ModelConfig selects the model advisor backend.
type ModelConfig struct {
	Backend           string        `koanf:"backend"`
	Name              string        `koanf:"name"`
	BaseURL           string        `koanf:"base_url"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	Timeout           time.Duration `koanf:"timeout"`
}

// AuthConfig maps reviewer bearer tokens to reviewer ids. Without tokens
// every review request is rejected. Admins lists the reviewer ids allowed to
// register reviewers.
type AuthConfig struct {
	ReviewerTokens map[string]string `koanf:"reviewer_tokens"`
	Admins         []string          `koanf:"admins"`
}

// Default returns the compiled defaults.
func Default() *Config {
	policy := validation_router.DefaultPolicy()
	return &Config{
		Server:  ServerConfig{Port: 12210, GinMode: "release"},
		Metrics: MetricsConfig{Enabled: true},
		Logging: LoggingConfig{Level: "info"},
		PII: PIIConfig{
			TokenTTL:     10 * time.Minute,
			MaxEntries:   10000,
			SecureMemory: true,
		},
		Router: RouterConfig{
			AutoConfidence:       policy.AutoConfidence,
			PermissiveConfidence: policy.PermissiveConfidence,
			AsyncPenalty:         policy.AsyncPenalty,
			HardSafety:           policy.HardSafety,
			Permissive:           policy.Permissive,
			Critical:             policy.Critical,
		},
		Queue: QueueConfig{
			AsyncTTL:      policy.AsyncTTL,
			SyncTTL:       policy.SyncTTL,
			SweepInterval: time.Minute,
			SnapshotTTL:   5 * time.Second,
			Retention:     validation_router.DefaultRetention,
		},
		Model: ModelConfig{
			Backend:           BackendNone,
			RequestsPerSecond: 2,
			Burst:             1,
			Timeout:           20 * time.Second,
		},
		Auth: AuthConfig{ReviewerTokens: map[string]string{}},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or missing) and the environment, then validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps SIDECAR_QUEUE_ASYNC_TTL to queue.async_ttl.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Server.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.gin_mode must be debug, release or test, got %q", c.Server.GinMode)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.PII.TokenTTL <= 0 {
		return fmt.Errorf("pii.token_ttl must be positive")
	}
	if c.PII.MaxEntries <= 0 {
		return fmt.Errorf("pii.max_entries must be positive")
	}
	for name, set := range map[string][]datatypes.Category{
		"router.hard_safety": c.Router.HardSafety,
		"router.permissive":  c.Router.Permissive,
		"router.critical":    c.Router.Critical,
	} {
		for _, cat := range set {
			if !cat.Valid() {
				return fmt.Errorf("%s: unknown category %q", name, cat)
			}
		}
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if c.Queue.SweepInterval <= 0 {
		return fmt.Errorf("queue.sweep_interval must be positive")
	}
	switch c.Model.Backend {
	case BackendNone, BackendOpenAI, BackendOllama:
	default:
		return fmt.Errorf("model.backend must be none, openai or ollama, got %q", c.Model.Backend)
	}
	if c.Model.Backend == BackendOllama && (c.Model.BaseURL == "" || c.Model.Name == "") {
		return fmt.Errorf("model.base_url and model.name are required for the ollama backend")
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("model.timeout must be positive")
	}
	return nil
}

// Policy converts the router and queue sections to a routing policy.
func (c *Config) Policy() validation_router.Policy {
	return validation_router.Policy{
		AutoConfidence:       c.Router.AutoConfidence,
		PermissiveConfidence: c.Router.PermissiveConfidence,
		AsyncPenalty:         c.Router.AsyncPenalty,
		HardSafety:           c.Router.HardSafety,
		Permissive:           c.Router.Permissive,
		Critical:             c.Router.Critical,
		AsyncTTL:             c.Queue.AsyncTTL,
		SyncTTL:              c.Queue.SyncTTL,
	}
}

// LogLevel returns the parsed logging level; Validate guarantees it parses.
func (c *Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return level
}
