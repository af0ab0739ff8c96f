package snapshot

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/p-blackswan/bridge/internal/cache"
	"github.com/p-blackswan/bridge/internal/collab"
)

// Cache keys and per-source TTLs. The spread is deliberate policy: volatile
// cheap sources refresh fast, expensive remote ones are held much longer.
const (
	KeySystem    = "system"
	KeySessions  = "sessions"
	KeyGit       = "git"
	KeyPortfolio = "portfolio"
	KeyGateway   = "gateway"
	KeyWeather   = "weather"
	KeyCron      = "cron"
	KeyCheckpts  = "checkpoints"

	ttlSystem    = 5 * time.Second
	ttlSessions  = 10 * time.Second
	ttlGit       = 30 * time.Second
	ttlPortfolio = 15 * time.Second
	ttlGateway   = 30 * time.Second
	ttlWeather   = 60 * time.Minute
	ttlCron      = 60 * time.Second
	ttlCheckpts  = 60 * time.Second
)

// Source interfaces keep the aggregator decoupled from the concrete
// adapters so tests can substitute fakes. The collab types satisfy them.
type (
	SystemSource interface {
		Collect(ctx context.Context) collab.SystemInfo
	}
	GitSource interface {
		StatusAll(ctx context.Context, dirs []string) []collab.GitStatus
	}
	FleetSource interface {
		Sessions(ctx context.Context) []collab.Session
		Cron(ctx context.Context) []collab.CronJob
		Checkpoints(ctx context.Context) []collab.Checkpoint
	}
	PortfolioSource interface {
		Read() (collab.Portfolio, error)
	}
	GatewaySource interface {
		Probe(ctx context.Context) collab.GatewayStatus
	}
	WeatherSource interface {
		Fetch(ctx context.Context) (json.RawMessage, error)
	}
)

// Aggregator owns the cache and the collaborator adapters and builds bridge
// snapshots from them.
type Aggregator struct {
	cache   *cache.Cache
	system  SystemSource
	git     GitSource
	fleet   FleetSource
	quark   PortfolioSource
	gateway GatewaySource
	weather WeatherSource
	gitDirs []string
	roster  Roster
	tasks   TaskSource
	logger  zerolog.Logger
	clock   func() time.Time
}

// Deps bundles the aggregator's collaborators.
type Deps struct {
	Cache   *cache.Cache
	System  SystemSource
	Git     GitSource
	Fleet   FleetSource
	Quark   PortfolioSource
	Gateway GatewaySource
	Weather WeatherSource
	GitDirs []string
	Roster  Roster
	Tasks   TaskSource
}

// New creates an Aggregator.
func New(deps Deps, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		cache:   deps.Cache,
		system:  deps.System,
		git:     deps.Git,
		fleet:   deps.Fleet,
		quark:   deps.Quark,
		gateway: deps.Gateway,
		weather: deps.Weather,
		gitDirs: deps.GitDirs,
		roster:  deps.Roster,
		tasks:   deps.Tasks,
		logger:  logger.With().Str("component", "aggregator").Logger(),
		clock:   time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (a *Aggregator) SetClock(clock func() time.Time) { a.clock = clock }

// Cache exposes the underlying cache for invalidation by watchers.
func (a *Aggregator) Cache() *cache.Cache { return a.cache }

// Gather builds one snapshot. Source fetches run in parallel through the
// cache, so a fully warm cache resolves in microseconds and a cold one is
// bounded by the slowest collaborator timeout. Failures degrade only their
// slice; Gather itself never fails.
func (a *Aggregator) Gather(ctx context.Context) Snapshot {
	now := a.clock()

	var (
		sys       collab.SystemInfo
		gw        collab.GatewayStatus
		sessions  []collab.Session
		gitStatus []collab.GitStatus
		portfolio collab.Portfolio
		hasPort   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sys, _ = cache.Fetch(a.cache, KeySystem, ttlSystem, func() (collab.SystemInfo, error) {
			return a.system.Collect(gctx), nil
		})
		return nil
	})
	g.Go(func() error {
		sessions, _ = cache.FetchStale(a.cache, KeySessions, ttlSessions, func() ([]collab.Session, error) {
			return a.fleet.Sessions(gctx), nil
		})
		return nil
	})
	g.Go(func() error {
		gitStatus, _ = cache.FetchStale(a.cache, KeyGit, ttlGit, func() ([]collab.GitStatus, error) {
			return a.git.StatusAll(gctx, a.gitDirs), nil
		})
		return nil
	})
	g.Go(func() error {
		portfolio, hasPort = cache.Fetch(a.cache, KeyPortfolio, ttlPortfolio, a.quark.Read)
		return nil
	})
	g.Go(func() error {
		gw, _ = cache.FetchStale(a.cache, KeyGateway, ttlGateway, func() (collab.GatewayStatus, error) {
			return a.gateway.Probe(gctx), nil
		})
		return nil
	})
	_ = g.Wait() // fetch closures swallow their own errors

	if sessions == nil {
		sessions = []collab.Session{}
	}
	if gitStatus == nil {
		gitStatus = []collab.GitStatus{}
	}
	if gw.Status == "" {
		gw.Status = "OFFLINE"
	}

	snap := Snapshot{
		Timestamp: now,
		Stardate:  Stardate(now),
		System:    sys,
		Gateway:   gw,
		Sessions:  sessions,
		Git:       gitStatus,
		Crew:      a.buildCrew(sessions, portfolio, hasPort, gw),
	}
	return snap
}

// buildCrew derives the per-agent view: session routing by label rules,
// task projections, and the trader's portfolio math.
func (a *Aggregator) buildCrew(sessions []collab.Session, portfolio collab.Portfolio, hasPortfolio bool, gw collab.GatewayStatus) map[string]*CrewMember {
	crew := make(map[string]*CrewMember, len(a.roster.Roles))
	for id, role := range a.roster.Roles {
		crew[id] = &CrewMember{Status: "IDLE", Role: role, Tasks: []TaskRef{}}
	}

	for _, s := range sessions {
		owner := a.roster.Classify(s.Label)
		m, ok := crew[owner]
		if !ok {
			m = &CrewMember{Status: "IDLE", Role: "Unassigned", Tasks: []TaskRef{}}
			crew[owner] = m
		}
		m.Status = "ACTIVE"
		m.Sessions = append(m.Sessions, s.Label)
	}

	if a.tasks != nil {
		for assignee, refs := range a.tasks.TasksByAssignee() {
			m, ok := crew[assignee]
			if !ok {
				continue
			}
			m.Tasks = refs
			for _, ref := range refs {
				if ref.Status == "in_progress" || ref.Status == "assigned" {
					m.ActiveTasks++
				}
			}
		}
	}

	if trader, ok := crew["quark"]; ok {
		if hasPortfolio {
			trader.Portfolio = &PortfolioView{
				StartingBalance: portfolio.StartingBalance,
				Balance:         portfolio.Balance,
				TradeCount:      len(portfolio.Trades),
				Streak:          ComputeStreak(portfolio.Trades),
				Sparkline:       ComputeSparkline(portfolio.StartingBalance, portfolio.Trades),
			}
		} else {
			trader.Status = "OFFLINE"
		}
	}

	if gw.Status != "ONLINE" {
		// Sessions are unverifiable with the gateway down; anyone without a
		// live session reading is reported offline rather than idle.
		for _, m := range crew {
			if len(m.Sessions) == 0 && m.Status == "IDLE" {
				m.Status = "OFFLINE"
			}
		}
	}

	// Session labels in stable order for deterministic payloads.
	for _, m := range crew {
		sort.Strings(m.Sessions)
	}
	return crew
}

// WeatherJSON returns cached weather JSON, refreshed at most hourly.
func (a *Aggregator) WeatherJSON(ctx context.Context) json.RawMessage {
	raw, ok := cache.FetchStale(a.cache, KeyWeather, ttlWeather, func() (json.RawMessage, error) {
		return a.weather.Fetch(ctx)
	})
	if !ok || raw == nil {
		return json.RawMessage(`{"status":"unavailable"}`)
	}
	return raw
}

// Sessions returns cached live session state from the fleet CLI.
func (a *Aggregator) Sessions(ctx context.Context) []collab.Session {
	sessions, _ := cache.FetchStale(a.cache, KeySessions, ttlSessions, func() ([]collab.Session, error) {
		return a.fleet.Sessions(ctx), nil
	})
	if sessions == nil {
		sessions = []collab.Session{}
	}
	return sessions
}

// CronJobs returns cached scheduler state from the fleet CLI.
func (a *Aggregator) CronJobs(ctx context.Context) []collab.CronJob {
	jobs, _ := cache.FetchStale(a.cache, KeyCron, ttlCron, func() ([]collab.CronJob, error) {
		return a.fleet.Cron(ctx), nil
	})
	if jobs == nil {
		jobs = []collab.CronJob{}
	}
	return jobs
}

// Checkpoints returns cached checkpoint state from the fleet CLI.
func (a *Aggregator) Checkpoints(ctx context.Context) []collab.Checkpoint {
	cps, _ := cache.FetchStale(a.cache, KeyCheckpts, ttlCheckpts, func() ([]collab.Checkpoint, error) {
		return a.fleet.Checkpoints(ctx), nil
	})
	if cps == nil {
		cps = []collab.Checkpoint{}
	}
	return cps
}
