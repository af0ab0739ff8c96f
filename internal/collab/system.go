package collab

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// SystemInfo is one reading of host-level resources. Fields a collaborator
// could not provide stay at their zero value.
type SystemInfo struct {
	CPULoad    float64  `json:"cpuLoad"`
	MemUsedMB  int64    `json:"memUsedMb"`
	MemTotalMB int64    `json:"memTotalMb"`
	DiskUsePct int      `json:"diskUsePct"`
	Uptime     string   `json:"uptime"`
	Containers []string `json:"containers"`
}

// System collects host stats by shelling out to uptime, free, df and docker.
type System struct {
	runner *Runner
	logger zerolog.Logger
}

// NewSystem creates a System collector.
func NewSystem(runner *Runner, logger zerolog.Logger) *System {
	return &System{
		runner: runner,
		logger: logger.With().Str("component", "collab.system").Logger(),
	}
}

// Collect gathers all system fields. Individual tool failures degrade only
// their field; Collect itself never fails.
func (s *System) Collect(ctx context.Context) SystemInfo {
	var info SystemInfo

	if out, err := s.runner.Run(ctx, "uptime"); err == nil {
		info.Uptime = parseUptimePretty(out)
		info.CPULoad = parseLoadAvg(out)
	} else {
		s.logger.Debug().Err(err).Msg("uptime unavailable")
	}

	if out, err := s.runner.Run(ctx, "free -m"); err == nil {
		info.MemUsedMB, info.MemTotalMB = parseFreeMem(out)
	} else {
		s.logger.Debug().Err(err).Msg("free unavailable")
	}

	if out, err := s.runner.Run(ctx, "df -h /"); err == nil {
		info.DiskUsePct = parseDiskUse(out)
	} else {
		s.logger.Debug().Err(err).Msg("df unavailable")
	}

	if out, err := s.runner.Run(ctx, "docker ps --format '{{.Names}}'"); err == nil && out != "" {
		info.Containers = strings.Split(out, "\n")
	}

	return info
}

// parseLoadAvg extracts the 1-minute load average from uptime output.
func parseLoadAvg(out string) float64 {
	idx := strings.Index(out, "load average")
	if idx < 0 {
		return 0
	}
	rest := out[idx:]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return 0
	}
	fields := strings.Split(rest[colon+1:], ",")
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseUptimePretty extracts the "up ..." span from uptime output.
func parseUptimePretty(out string) string {
	idx := strings.Index(out, "up ")
	if idx < 0 {
		return strings.TrimSpace(out)
	}
	rest := out[idx+3:]
	// uptime prints "up 3 days, 4:12,  2 users, ..." — keep everything
	// before the user count.
	if end := strings.Index(rest, " user"); end > 0 {
		if comma := strings.LastIndex(rest[:end], ","); comma > 0 {
			rest = rest[:comma]
		}
	}
	return strings.TrimSpace(strings.TrimSuffix(rest, ","))
}

// parseFreeMem parses `free -m` output into used/total MB.
func parseFreeMem(out string) (used, total int64) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "Mem:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return 0, 0
		}
		total, _ = strconv.ParseInt(fields[1], 10, 64)
		used, _ = strconv.ParseInt(fields[2], 10, 64)
		return used, total
	}
	return 0, 0
}

// parseDiskUse parses `df -h /` output into a use percentage.
func parseDiskUse(out string) int {
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		return 0
	}
	fields := strings.Fields(lines[len(lines)-1])
	for _, f := range fields {
		if strings.HasSuffix(f, "%") {
			v, err := strconv.Atoi(strings.TrimSuffix(f, "%"))
			if err == nil {
				return v
			}
		}
	}
	return 0
}
