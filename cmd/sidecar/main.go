// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sidecar runs and inspects the Sidecar Intelligence service.
//
// # Usage
//
//	sidecar serve --config sidecar.yaml
//	sidecar rules validate ./rules.yaml
//	sidecar rules validate --kind guard ./guard.yaml
//	sidecar evaluate --request ./request.json
//
// Configuration is read from the --config file (optional) and SIDECAR_*
// environment variables; see services/orchestrator/config.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
