// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profiles

import (
	_ "embed"
)

// DefaultProfilesYAML holds the raw byte content of 'default_profiles.yaml'.
//
// Baked in at compile time so a deployment always carries a working profile
// set even when no override file is configured. An override file replaces
// entries by name; profiles it does not mention keep their embedded values.
//
//go:embed default_profiles.yaml
var DefaultProfilesYAML []byte
