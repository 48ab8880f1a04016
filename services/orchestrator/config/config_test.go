// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/pkg/logging"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/validation_router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sidecar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 12210, cfg.Server.Port)
	assert.Equal(t, BackendNone, cfg.Model.Backend)
	assert.Equal(t, validation_router.DefaultPolicy(), cfg.Policy())
	assert.Equal(t, logging.LevelInfo, cfg.LogLevel())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8088
  gin_mode: debug
logging:
  level: debug
rules:
  path: /etc/sidecar/rules.yaml
  watch: true
router:
  auto_confidence: 0.95
  hard_safety: [pesticide, chemical, emergency, planting]
queue:
  async_ttl: 48h
  sweep_interval: 30s
decisions:
  path: /var/lib/sidecar/decisions
model:
  backend: ollama
  base_url: http://localhost:11434
  name: llama3
auth:
  reviewer_tokens:
    tok-aysel: rev-aysel
  admins: [rev-aysel]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.GinMode)
	assert.Equal(t, logging.LevelDebug, cfg.LogLevel())
	assert.True(t, cfg.Rules.Watch)
	assert.Equal(t, 0.95, cfg.Router.AutoConfidence)
	assert.Equal(t, validation_router.DefaultPermissiveConfidence, cfg.Router.PermissiveConfidence)
	assert.Contains(t, cfg.Router.HardSafety, datatypes.CategoryPlanting)
	assert.Equal(t, 48*time.Hour, cfg.Queue.AsyncTTL)
	assert.Equal(t, validation_router.DefaultSyncTTL, cfg.Queue.SyncTTL)
	assert.Equal(t, 30*time.Second, cfg.Queue.SweepInterval)
	assert.Equal(t, "/var/lib/sidecar/decisions", cfg.Decisions.Path)
	assert.Equal(t, BackendOllama, cfg.Model.Backend)
	assert.Equal(t, "rev-aysel", cfg.Auth.ReviewerTokens["tok-aysel"])
	assert.Equal(t, []string{"rev-aysel"}, cfg.Auth.Admins)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8088\n")
	t.Setenv("SIDECAR_SERVER_PORT", "9090")
	t.Setenv("SIDECAR_SERVER_GIN_MODE", "test")
	t.Setenv("SIDECAR_PII_TOKEN_TTL", "90s")
	t.Setenv("SIDECAR_ROUTER_PERMISSIVE_CONFIDENCE", "0.8")
	t.Setenv("SIDECAR_MODEL_BACKEND", "openai")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.GinMode)
	assert.Equal(t, 90*time.Second, cfg.PII.TokenTTL)
	assert.Equal(t, 0.8, cfg.Router.PermissiveConfidence)
	assert.Equal(t, BackendOpenAI, cfg.Model.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"port", "server:\n  port: 70000\n"},
		{"gin mode", "server:\n  gin_mode: loud\n"},
		{"log level", "logging:\n  level: chatty\n"},
		{"threshold", "router:\n  auto_confidence: 1.5\n"},
		{"penalty", "router:\n  async_penalty: 0\n"},
		{"category", "router:\n  critical: [volcano]\n"},
		{"backend", "model:\n  backend: oracle\n"},
		{"ollama without url", "model:\n  backend: ollama\n"},
		{"malformed yaml", "server: [port\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SIDECAR_SERVER_PORT":       "server.port",
		"SIDECAR_QUEUE_ASYNC_TTL":   "queue.async_ttl",
		"SIDECAR_PII_SECURE_MEMORY": "pii.secure_memory",
		"SIDECAR_DECISIONS_PATH":    "decisions.path",
		"SIDECAR_MODEL_BURST":       "model.burst",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
