// Package safewrite is the single choke point for persisting JSON
// documents. It models the external write-protection collaborator: every
// document write goes through a Writer, and a refused write is reported as
// blocked rather than silently dropped.
package safewrite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Result reports the outcome of one write attempt.
type Result struct {
	Success bool
	Blocked bool // refused by the loss guard; file left untouched
	Err     error
}

/// Writer persists a document payload. Implementations must be atomic:
// either the whole payload lands or the previous file survives.
type Writer interface {
	Write(path string, data []byte, reason string) Result
}

// GuardedWriter writes through a temp file + rename and refuses writes that
// would shrink an existing document below half its current size — the
// signature of an accidental truncation upstream.
type GuardedWriter struct {
	// MinGuardBytes exempts small documents from the shrink guard so a
	// legitimately emptied store can still be saved.
	MinGuardBytes int64
	logger        zerolog.Logger
}

// NewGuarded creates a GuardedWriter with the default guard threshold.
func NewGuarded(logger zerolog.Logger) *GuardedWriter {
	return &GuardedWriter{
		MinGuardBytes: 1024,
		logger:        logger.With().Str("component", "safewrite").Logger(),
	}
}

// Write persists data to path. The reason string is carried into logs so a
// blocked write can be traced back to its operation.
func (w *GuardedWriter) Write(path string, data []byte, reason string) Result {
	if info, err := os.Stat(path); err == nil {
		current := info.Size()
		if current >= w.MinGuardBytes && int64(len(data)) < current/2 {
			w.logger.Warn().
				Str("path", path).
				Str("reason", reason).
				Int64("current_bytes", current).
				Int("new_bytes", len(data)).
				Msg("write blocked: new document suspiciously small")
			return Result{Blocked: true}
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{Err: fmt.Errorf("creating %s: %w", dir, err)}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return Result{Err: fmt.Errorf("creating temp file: %w", err)}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Result{Err: fmt.Errorf("writing temp file: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Result{Err: fmt.Errorf("closing temp file: %w", err)}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return Result{Err: fmt.Errorf("renaming into place: %w", err)}
	}

	return Result{Success: true}
}
