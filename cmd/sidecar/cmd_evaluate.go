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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/config"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

// runEvaluate processes the --request file offline and prints the JSON
// response.
//
// # Description
//
// The configured catalogs are used, but the run is forced into rules-only
// mode with an in-memory decision log, no metrics and no secure memory, so
// nothing leaves the process and nothing is persisted.
func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	offline(cfg)

	data, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	var req datatypes.RecommendationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("failed to parse request %s: %w", requestPath, err)
	}

	components, err := orchestrator.Build(cfg, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	defer components.Close()

	resp, err := components.Pipeline.Process(commandContext(cmd), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// offline strips every outbound or persistent dependency from cfg.
func offline(cfg *config.Config) {
	cfg.Model.Backend = config.BackendNone
	cfg.Decisions.Path = ""
	cfg.Metrics.Enabled = false
	cfg.PII.SecureMemory = false
	cfg.OTel.Endpoint = ""
}
