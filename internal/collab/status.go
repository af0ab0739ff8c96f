package collab

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog"
)

// StatusReader serves the flat JSON status files written by companion
// tooling (stall detector, work loop, git-lock monitor, meta-learning).
// The bridge only relays these; their schema belongs to the writers.
type StatusReader struct {
	pathFor func(name string) string
	logger  zerolog.Logger
}

// NewStatusReader creates a reader resolving names through pathFor.
func NewStatusReader(pathFor func(name string) string, logger zerolog.Logger) *StatusReader {
	return &StatusReader{
		pathFor: pathFor,
		logger:  logger.With().Str("component", "collab.status").Logger(),
	}
}

// Read returns the raw JSON content of a named status file. Missing or
// malformed files yield the documented fallback `{"status":"unknown"}`.
func (s *StatusReader) Read(name string) json.RawMessage {
	fallback := json.RawMessage(`{"status":"unknown"}`)

	data, err := os.ReadFile(s.pathFor(name))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug().Err(err).Str("name", name).Msg("status file unreadable")
		}
		return fallback
	}
	if !json.Valid(data) {
		s.logger.Warn().Str("name", name).Msg("status file contains invalid JSON")
		return fallback
	}
	return json.RawMessage(data)
}
