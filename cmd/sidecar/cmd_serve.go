// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/SidecarIntelligence/pkg/logging"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/config"
	"github.com/AleutianAI/SidecarIntelligence/services/pii_gateway"
	"github.com/spf13/cobra"
)

// runServe starts the HTTP service and blocks until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	defer logger.Close()
	slog.SetDefault(logger.Slog())
	defer pii_gateway.PurgeSecureMemory()

	logger.Info("Starting sidecar",
		"port", cfg.Server.Port,
		"model_backend", cfg.Model.Backend,
		"rules_path", cfg.Rules.Path,
		"tracing", cfg.OTel.Endpoint != "")

	svc, err := orchestrator.New(cfg, nil, logger.Slog())
	if err != nil {
		return fmt.Errorf("failed to create sidecar service: %w", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return svc.Run(ctx)
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:   cfg.LogLevel(),
		LogDir:  cfg.Logging.Dir,
		Service: "sidecar",
		JSON:    cfg.Logging.JSON,
	})
}

// commandContext returns cmd's context, or Background when run outside
// Execute (as in tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
