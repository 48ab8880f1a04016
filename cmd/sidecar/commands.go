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
	"github.com/spf13/cobra"
)

// Catalog kinds accepted by `rules validate --kind`.
const (
	kindRulebook  = "rulebook"
	kindGuard     = "guard"
	kindCitations = "citations"
	kindPII       = "pii"
)

// --- Global Command Variables ---
var (
	configPath  string
	catalogKind string
	requestPath string

	rootCmd = &cobra.Command{
		Use:   "sidecar",
		Short: "Validation sidecar for agricultural recommendations",
		Long: `Sidecar Intelligence checks farm recommendations against an expert
rulebook and hard safety constraints, scores their trust, keeps personal
data away from the model and routes uncertain advice to expert review.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	rulesCmd = &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule catalogs",
	}

	rulesValidateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Load and validate a catalog file, or the embedded catalogs when no file is given",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRulesValidate,
	}

	evaluateCmd = &cobra.Command{
		Use:   "evaluate",
		Short: "Run one request through the pipeline offline (rules only) and print the response",
		Args:  cobra.NoArgs,
		RunE:  runEvaluate,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sidecar.yaml",
		"Configuration file; missing files fall back to defaults and SIDECAR_* variables")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesValidateCmd)
	rulesValidateCmd.Flags().StringVarP(&catalogKind, "kind", "k", kindRulebook,
		"Catalog kind: rulebook, guard, citations or pii")

	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVarP(&requestPath, "request", "r", "",
		"Path to a JSON recommendation request")
	_ = evaluateCmd.MarkFlagRequired("request")
}
