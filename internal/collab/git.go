package collab

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// GitStatus summarizes one repository's working tree.
type GitStatus struct {
	Dir     string `json:"dir"`
	Branch  string `json:"branch"`
	Dirty   bool   `json:"dirty"`
	Changes int    `json:"changes"`
	Ahead   int    `json:"ahead"`
	Behind  int    `json:"behind"`
	Error   string `json:"error,omitempty"`
}

// Git reads working-tree status for a set of watched repositories.
type Git struct {
	runner *Runner
	logger zerolog.Logger
}

// NewGit creates a Git collector.
func NewGit(runner *Runner, logger zerolog.Logger) *Git {
	return &Git{
		runner: runner,
		logger: logger.With().Str("component", "collab.git").Logger(),
	}
}

// Status returns the status of one repository. A failing git invocation
// yields a GitStatus with only Dir and Error set.
func (g *Git) Status(ctx context.Context, dir string) GitStatus {
	st := GitStatus{Dir: dir}

	out, err := g.runner.RunIn(ctx, dir, "git status --porcelain=v1 --branch")
	if err != nil {
		g.logger.Debug().Err(err).Str("dir", dir).Msg("git status failed")
		st.Error = "unavailable"
		return st
	}

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 && strings.HasPrefix(line, "## ") {
			st.Branch, st.Ahead, st.Behind = parseBranchHeader(line[3:])
			continue
		}
		if strings.TrimSpace(line) != "" {
			st.Changes++
		}
	}
	st.Dirty = st.Changes > 0
	return st
}

// StatusAll collects statuses for every watched directory.
func (g *Git) StatusAll(ctx context.Context, dirs []string) []GitStatus {
	statuses := make([]GitStatus, 0, len(dirs))
	for _, dir := range dirs {
		statuses = append(statuses, g.Status(ctx, dir))
	}
	return statuses
}

// parseBranchHeader parses porcelain branch headers like
// "main...origin/main [ahead 2, behind 1]".
func parseBranchHeader(header string) (branch string, ahead, behind int) {
	branch = header
	if idx := strings.Index(header, "..."); idx >= 0 {
		branch = header[:idx]
	}
	if idx := strings.Index(header, "["); idx >= 0 {
		inner := strings.TrimSuffix(header[idx+1:], "]")
		for _, part := range strings.Split(inner, ",") {
			fields := strings.Fields(strings.TrimSpace(part))
			if len(fields) != 2 {
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			switch fields[0] {
			case "ahead":
				ahead = n
			case "behind":
				behind = n
			}
		}
	}
	return branch, ahead, behind
}
