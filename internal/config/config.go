// Package config loads bridge server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Port        int    `envconfig:"PORT" default:"8787"`

	// Data root. All document and status paths derive from this directory
	// unless overridden individually.
	Home string `envconfig:"BRIDGE_HOME"`

	TasksFile     string `envconfig:"TASKS_FILE"`
	MessagesFile  string `envconfig:"MESSAGES_FILE"`
	PortfolioFile string `envconfig:"PORTFOLIO_FILE"`

	// Snapshot loop
	SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"5s"`
	DebounceWindow   time.Duration `envconfig:"BROADCAST_DEBOUNCE" default:"100ms"`
	PingInterval     time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`

	// Task store policy
	ArchiveAfterDays int `envconfig:"ARCHIVE_AFTER_DAYS" default:"7"`
	MaxActivity      int `envconfig:"MAX_ACTIVITY" default:"500"`
	MaxLogsPerTask   int `envconfig:"MAX_LOGS_PER_TASK" default:"50"`

	// Collaborators
	FleetBin       string        `envconfig:"FLEET_BIN" default:"fleet"`
	GatewayURL     string        `envconfig:"GATEWAY_URL" default:"http://127.0.0.1:18789/health"`
	WeatherURL     string        `envconfig:"WEATHER_URL" default:"https://wttr.in/?format=j1"`
	GitDirs        string        `envconfig:"GIT_DIRS"` // comma-separated repo paths
	CollabTimeout  time.Duration `envconfig:"COLLAB_TIMEOUT" default:"5s"`
	WeatherTimeout time.Duration `envconfig:"WEATHER_TIMEOUT" default:"15s"`

	// Crew roster override (optional YAML file; built-in rules when empty).
	RosterFile string `envconfig:"ROSTER_FILE"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home dir: %w", err)
		}
		cfg.Home = filepath.Join(home, ".bridge")
	}
	return &cfg, nil
}

// TasksPath returns the tasks document path.
func (c *Config) TasksPath() string {
	if c.TasksFile != "" {
		return c.TasksFile
	}
	return filepath.Join(c.Home, "tasks.json")
}

// MessagesPath returns the messages document path.
func (c *Config) MessagesPath() string {
	if c.MessagesFile != "" {
		return c.MessagesFile
	}
	return filepath.Join(c.Home, "messages.json")
}

// ArchiveDir returns the directory for date-keyed task archives.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.Home, "archive")
}

// PortfolioPath returns the quark portfolio file path.
func (c *Config) PortfolioPath() string {
	if c.PortfolioFile != "" {
		return c.PortfolioFile
	}
	return filepath.Join(c.Home, "quark", "portfolio.json")
}

// StatusPath returns the path of a named status file (stall, work-loop, ...).
func (c *Config) StatusPath(name string) string {
	return filepath.Join(c.Home, "status", name+".json")
}

// GitDirList returns the parsed list of watched git repository paths.
func (c *Config) GitDirList() []string {
	if c.GitDirs == "" {
		return nil
	}
	parts := strings.Split(c.GitDirs, ",")
	dirs := make([]string, 0, len(parts))
	for _, d := range parts {
		d = strings.TrimSpace(d)
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}
