package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/bridge/internal/cache"
	"github.com/p-blackswan/bridge/internal/collab"
	"github.com/p-blackswan/bridge/internal/config"
	"github.com/p-blackswan/bridge/internal/hub"
	"github.com/p-blackswan/bridge/internal/message"
	"github.com/p-blackswan/bridge/internal/metrics"
	"github.com/p-blackswan/bridge/internal/safewrite"
	"github.com/p-blackswan/bridge/internal/server"
	"github.com/p-blackswan/bridge/internal/snapshot"
	"github.com/p-blackswan/bridge/internal/task"
	"github.com/p-blackswan/bridge/internal/watcher"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Int("port", cfg.Port).
		Str("home", cfg.Home).
		Dur("snapshot_interval", cfg.SnapshotInterval).
		Msg("starting bridge server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()

	// Collaborator adapters
	runner := collab.NewRunner(cfg.CollabTimeout, logger)
	system := collab.NewSystem(runner, logger)
	git := collab.NewGit(runner, logger)
	fleet := collab.NewFleet(cfg.FleetBin, runner, logger)
	quark := collab.NewQuark(cfg.PortfolioPath(), logger)
	gateway := collab.NewGateway(cfg.GatewayURL, cfg.CollabTimeout, logger)
	weather := collab.NewWeather(cfg.WeatherURL, cfg.WeatherTimeout, logger)
	status := collab.NewStatusReader(cfg.StatusPath, logger)

	roster := snapshot.DefaultRoster()
	if cfg.RosterFile != "" {
		loaded, rosterErr := snapshot.LoadRoster(cfg.RosterFile)
		if rosterErr != nil {
			logger.Warn().Err(rosterErr).Str("path", cfg.RosterFile).Msg("roster load failed, using built-in crew")
		} else {
			roster = loaded
		}
	}

	// Stores behind the guarded writer
	writer := safewrite.NewGuarded(logger)
	tasks := task.NewStore(cfg.TasksPath(), cfg.ArchiveDir(), writer, cfg.MaxActivity, cfg.MaxLogsPerTask, logger)
	messages := message.NewStore(cfg.MessagesPath(), writer, logger)

	ca := cache.New(logger)
	ca.SetStats(m)

	agg := snapshot.New(snapshot.Deps{
		Cache:   ca,
		System:  system,
		Git:     git,
		Fleet:   fleet,
		Quark:   quark,
		Gateway: gateway,
		Weather: weather,
		GitDirs: cfg.GitDirList(),
		Roster:  roster,
		Tasks:   tasks,
	}, logger)

	h := hub.New(cfg.DebounceWindow, logger)
	h.SetStats(m)
	h.OnRegister(func() []hub.Frame {
		frames := []hub.Frame{{Type: hub.TypeInit, Data: agg.Gather(ctx)}}
		if doc, err := tasks.Load(); err == nil {
			frames = append(frames, hub.Frame{Type: hub.TypeTasks, Data: doc})
		}
		if doc, err := messages.Load(); err == nil {
			frames = append(frames, hub.Frame{Type: hub.TypeMessages, Data: doc})
		}
		return frames
	})

	// Store mutations fan out to every connected dashboard.
	tasks.OnChange(func() {
		if doc, err := tasks.Load(); err == nil {
			h.Broadcast(hub.TypeTasksUpdate, doc)
		}
	})
	tasks.OnLog(func(t task.Task, entry task.LogEntry) {
		h.BroadcastNow(hub.TypeTaskLogUpdate, map[string]any{
			"taskId": t.ID,
			"log":    entry,
		})
	})
	tasks.OnDone(func(t task.Task) {
		h.BroadcastNow(hub.TypeTaskCompleted, t)
	})
	messages.OnChange(func() {
		if doc, err := messages.Load(); err == nil {
			h.Broadcast(hub.TypeMessagesUpdate, doc)
		}
	})

	srv := server.New(server.Deps{
		Config:     *cfg,
		Aggregator: agg,
		Tasks:      tasks,
		Messages:   messages,
		Hub:        h,
		Status:     status,
		Metrics:    m,
		Roster:     roster,
	}, logger)

	var wg sync.WaitGroup

	// Periodic snapshot broadcast
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if h.Count() == 0 {
					continue
				}
				start := time.Now()
				snap := agg.Gather(ctx)
				m.SnapshotDuration.Observe(time.Since(start).Seconds())
				h.Broadcast(hub.TypeUpdate, snap)
			}
		}
	}()

	// Websocket liveness pings
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.Run(ctx, cfg.PingInterval)
	}()

	// External file changes invalidate caches and notify clients.
	w := watcher.New([]watcher.Target{
		{
			Path: cfg.PortfolioPath(),
			OnWrite: func() {
				ca.Invalidate(snapshot.KeyPortfolio)
				if p, err := quark.Read(); err == nil {
					h.Broadcast(hub.TypeTradeUpdate, p)
				}
			},
		},
		{
			Path: cfg.TasksPath(),
			OnWrite: func() {
				tasks.Invalidate()
				if doc, err := tasks.Load(); err == nil {
					h.Broadcast(hub.TypeTasksUpdate, doc)
				}
			},
		},
		{
			Path: cfg.MessagesPath(),
			OnWrite: func() {
				messages.Invalidate()
				if doc, err := messages.Load(); err == nil {
					h.Broadcast(hub.TypeMessagesUpdate, doc)
				}
			},
		},
	}, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	// Daily archive sweep for old done tasks
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := tasks.Archive(cfg.ArchiveAfterDays); err != nil {
					logger.Warn().Err(err).Msg("archive sweep failed")
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	h.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("bridge server stopped")
}
