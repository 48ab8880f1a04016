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
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/SidecarIntelligence/services/logic_guard"
	"github.com/AleutianAI/SidecarIntelligence/services/pii_gateway"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
	"github.com/AleutianAI/SidecarIntelligence/services/trust_scorer"
	"github.com/spf13/cobra"
)

// runRulesValidate loads one catalog file of --kind, or every embedded
// catalog when no file is given, and prints a summary line per catalog.
func runRulesValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		for _, kind := range []string{kindRulebook, kindGuard, kindCitations, kindPII} {
			if err := validateCatalog(out, kind, ""); err != nil {
				return err
			}
		}
		return nil
	}
	return validateCatalog(out, catalogKind, args[0])
}

// validateCatalog loads path (empty = embedded) as kind.
func validateCatalog(out io.Writer, kind, path string) error {
	source := path
	if source == "" {
		source = "embedded"
	}
	quiet := slog.New(slog.DiscardHandler)

	switch kind {
	case kindRulebook:
		rb, err := rulebook.Load(path)
		if err != nil {
			return fmt.Errorf("rulebook %s: %w", source, err)
		}
		fmt.Fprintf(out, "rulebook %s: version %s, %d rules, %d pre-approved, %d categories\n",
			source, rb.Version(), rb.Len(), len(rb.PreApprovedIDs()), len(rb.Categories()))
	case kindGuard:
		g, err := logic_guard.Load(path, quiet)
		if err != nil {
			return fmt.Errorf("guard rules %s: %w", source, err)
		}
		fmt.Fprintf(out, "guard %s: version %s, %d rules\n", source, g.Version(), len(g.Rules()))
	case kindCitations:
		c, err := trust_scorer.LoadCatalog(path)
		if err != nil {
			return fmt.Errorf("citations %s: %w", source, err)
		}
		fmt.Fprintf(out, "citations %s: %d citations\n", source, c.Len())
	case kindPII:
		d, err := pii_gateway.LoadDetector(path)
		if err != nil {
			return fmt.Errorf("pii patterns %s: %w", source, err)
		}
		fmt.Fprintf(out, "pii %s: %d categories\n", source, d.Len())
	default:
		return fmt.Errorf("unknown catalog kind %q (want rulebook, guard, citations or pii)", kind)
	}
	return nil
}
