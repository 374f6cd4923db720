// Package jobs generates identifiers for pipeline runs.
package jobs

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RunIDPrefix prefixes every run identifier.
const RunIDPrefix = "run-"

// NewRunID returns a run identifier built on a UUIDv7, so IDs sort by
// creation time. That ordering is what the run ledger's sort key relies on.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate run ID")
	}
	return RunIDPrefix + id.String()
}

// IsRunID reports whether s has the shape produced by NewRunID.
func IsRunID(s string) bool {
	rest, ok := strings.CutPrefix(s, RunIDPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

// NormalizeRunID accepts either a full run ID or its bare UUID and returns
// the full form. Operators tend to paste just the UUID from log lines.
func NormalizeRunID(s string) string {
	if strings.HasPrefix(s, RunIDPrefix) {
		return s
	}
	return RunIDPrefix + s
}
