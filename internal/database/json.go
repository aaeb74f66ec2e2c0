// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package database

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// List and document columns are stored as JSON text so rows round-trip
// through database/sql without driver list types.

// toJSON marshals a value for storage in a JSON text column. Nil slices
// marshal as empty documents, never as "null".
func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal column: %w", err)
	}
	s := string(b)
	if s == "null" {
		s = "[]"
	}
	return s, nil
}

// fromJSON unmarshals a JSON text column into dst. Empty strings are
// treated as absent.
func fromJSON(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to unmarshal column: %w", err)
	}
	return nil
}

// mustJSON is toJSON for values that cannot fail (plain string slices and
// structs without custom marshalers). Falls back to an empty document.
func mustJSON(v any) string {
	s, err := toJSON(v)
	if err != nil {
		return "[]"
	}
	return s
}
