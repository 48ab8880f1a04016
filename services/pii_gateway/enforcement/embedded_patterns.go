// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file bakes the PII detection catalog into the compiled binary so the
gateway's patterns travel with the executable and cannot be weakened on the
host filesystem without recompiling.
*/

package enforcement

import (
	_ "embed"
)

// PIIPatterns holds the raw bytes of 'pii_patterns.yaml'.
//
// Usage:
//
//	err := yaml.Unmarshal(enforcement.PIIPatterns, &patternFile)
//
//go:embed pii_patterns.yaml
var PIIPatterns []byte
