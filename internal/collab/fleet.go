package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Session is one live agent session as reported by the fleet CLI.
type Session struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Model    string `json:"model,omitempty"`
	Tokens   int64  `json:"tokens,omitempty"`
	Age      string `json:"age,omitempty"`
	LastSeen string `json:"lastSeen,omitempty"`
}

// CronJob is one scheduled job from the fleet scheduler.
type CronJob struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Enabled  bool   `json:"enabled"`
	LastRun  string `json:"lastRun,omitempty"`
	NextRun  string `json:"nextRun,omitempty"`
}

// Checkpoint is one saved fleet checkpoint.
type Checkpoint struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	CreatedAt string `json:"createdAt"`
}

// Fleet invokes the orchestration platform's CLI and decodes its JSON
// output. Treated as a slow, fallible collaborator: every call degrades to
// an empty result on failure.
type Fleet struct {
	bin    string
	runner *Runner
	logger zerolog.Logger
}

// NewFleet creates a Fleet adapter invoking the given CLI binary.
func NewFleet(bin string, runner *Runner, logger zerolog.Logger) *Fleet {
	if bin == "" {
		bin = "fleet"
	}
	return &Fleet{
		bin:    bin,
		runner: runner,
		logger: logger.With().Str("component", "collab.fleet").Logger(),
	}
}

// Sessions lists live sessions. Empty slice on any failure.
func (f *Fleet) Sessions(ctx context.Context) []Session {
	var sessions []Session
	if err := f.runJSON(ctx, "sessions", &sessions); err != nil {
		f.logger.Warn().Err(err).Msg("fleet sessions unavailable")
		return []Session{}
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions
}

// Cron lists scheduled jobs. Empty slice on any failure.
func (f *Fleet) Cron(ctx context.Context) []CronJob {
	var jobs []CronJob
	if err := f.runJSON(ctx, "cron", &jobs); err != nil {
		f.logger.Warn().Err(err).Msg("fleet cron unavailable")
		return []CronJob{}
	}
	if jobs == nil {
		jobs = []CronJob{}
	}
	return jobs
}

// Checkpoints lists saved checkpoints. Empty slice on any failure.
func (f *Fleet) Checkpoints(ctx context.Context) []Checkpoint {
	var cps []Checkpoint
	if err := f.runJSON(ctx, "checkpoints", &cps); err != nil {
		f.logger.Warn().Err(err).Msg("fleet checkpoints unavailable")
		return []Checkpoint{}
	}
	if cps == nil {
		cps = []Checkpoint{}
	}
	return cps
}

func (f *Fleet) runJSON(ctx context.Context, subcommand string, v any) error {
	out, err := f.runner.Run(ctx, fmt.Sprintf("%s %s --json", f.bin, subcommand))
	if err != nil {
		return err
	}
	if out == "" {
		return fmt.Errorf("fleet %s: empty output", subcommand)
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		return fmt.Errorf("fleet %s: decoding output: %w", subcommand, err)
	}
	return nil
}
