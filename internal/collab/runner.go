// Package collab wraps the external collaborators the bridge reads state
// from: shell tools, the fleet CLI, status files, and remote HTTP endpoints.
// Every call is bounded by a timeout and resolves to a documented fallback
// on failure — a slow or broken collaborator degrades its own slice of the
// snapshot, nothing more.
package collab

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Runner executes shell commands with a bounded timeout.
type Runner struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRunner creates a Runner. timeout 0 means a 5s default.
func NewRunner(timeout time.Duration, logger zerolog.Logger) *Runner {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Runner{
		timeout: timeout,
		logger:  logger.With().Str("component", "collab.runner").Logger(),
	}
}

// Run executes command via /bin/sh -c and returns trimmed combined output.
// A non-zero exit or timeout returns an error; stdout captured so far is
// still returned for callers that can use partial output.
func (r *Runner) Run(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := strings.TrimSpace(buf.String())

	if ctx.Err() == context.DeadlineExceeded {
		r.logger.Warn().Str("command", command).Dur("timeout", r.timeout).Msg("command timed out")
		return out, fmt.Errorf("command timed out after %s: %s", r.timeout, command)
	}
	if err != nil {
		return out, fmt.Errorf("command failed: %s: %w", command, err)
	}
	return out, nil
}

// RunIn executes command with a working directory.
func (r *Runner) RunIn(ctx context.Context, dir, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := strings.TrimSpace(buf.String())
	if err != nil {
		return out, fmt.Errorf("command failed in %s: %s: %w", dir, command, err)
	}
	return out, nil
}
