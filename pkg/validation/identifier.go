// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for deployment-provided inputs that are
// used as lookup keys, telemetry tags, or fields of requests to the model
// server. Using these validators keeps control characters and injection
// payloads out of those sinks.
package validation

import (
	"fmt"
	"regexp"
)

// profileNamePattern matches valid generation profile names.
// Allows: lowercase letters, digits, underscores, hyphens
// Max length: 64 characters
var profileNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// modelNamePattern matches valid model identifiers.
// Allows: letters, digits, dots, colons (llama3.1:8b), slashes for
// registry-qualified names, underscores, hyphens
// Max length: 128 characters
var modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:/-]{0,127}$`)

// ValidateProfileName validates a generation profile name.
//
// Profile names become registry lookup keys and telemetry tag values.
//
// Valid names:
//   - 1-64 characters
//   - Lowercase letters a-z
//   - Digits 0-9
//   - Underscores (_) and hyphens (-)
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateProfileName(name); err != nil {
//	    return fmt.Errorf("invalid profile: %w", err)
//	}
func ValidateProfileName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}

	if !profileNamePattern.MatchString(name) {
		return fmt.Errorf("invalid profile name: %q (must be 1-64 lowercase alphanumeric chars, underscores, or hyphens)", name)
	}

	return nil
}

// ValidateProfileNames validates multiple profile names.
// Returns an error listing all invalid names if any fail validation.
func ValidateProfileNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateProfileName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid profile names: %v", invalid)
	}
	return nil
}

// ValidateModelName validates a model identifier.
//
// Model names are sent verbatim to the model server and recorded as
// telemetry tags, so they must stay within a known-safe character set.
//
// Valid names:
//   - 1-128 characters
//   - Letters and digits
//   - Dots (.) and colons (:) for tagged variants like llama3.1:8b
//   - Slashes (/) for registry-qualified names
//   - Underscores (_) and hyphens (-)
//
// Returns an error if the name is invalid.
func ValidateModelName(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	if !modelNamePattern.MatchString(model) {
		return fmt.Errorf("invalid model name: %q (must be 1-128 chars of letters, digits, dots, colons, slashes, underscores, or hyphens)", model)
	}

	return nil
}
