// Package app assembles the daemon: config, logging, storage, fetcher,
// scheduler and the HTTP surface, with live config reload on top.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"dkwatch/internal/config"
	"dkwatch/internal/fetch"
	"dkwatch/internal/scheduler"
	"dkwatch/internal/server"
	"dkwatch/internal/standings"
	"dkwatch/internal/storage"
	"dkwatch/internal/winprob"
	logx "dkwatch/pkg/logx"
)

const (
	pruneJobName     = "prune"
	defaultRetention = 7 * 24 * time.Hour
	outcomeIOBudget  = 5 * time.Second
)

type App struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store  storage.Store
	source fetch.Source
	sched  *scheduler.Service
	srv    *server.Server

	// lastEntryCount carries the parse result of the most recent poll to
	// the outcome hook, which has no other channel to it.
	lastEntryCount atomic.Int64

	// boot-time values of the settings that cannot change in place
	bootDriver string
	bootAddr   string

	watchCancel context.CancelFunc
	updates     chan *config.Config
	wg          sync.WaitGroup
}

// New loads the config and constructs every component. Any error here is
// fatal to the process; nothing has started yet.
func New(configPath string) (*App, error) {
	a := &App{mgr: config.NewManager(configPath)}

	cfg, err := a.mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	logSvc, log, err := logx.New(logConfig(cfg.Logging))
	if err != nil {
		return nil, err
	}
	a.logSvc = logSvc
	a.log = log
	a.mgr.SetLogger(log.With(logx.String("svc", "config")))

	interval, err := cfg.Scheduler.IntervalDuration()
	if err != nil {
		return nil, err
	}
	log.Info("configuration loaded",
		logx.String("path", configPath),
		logx.Duration("interval", interval),
		logx.String("storage", cfg.Storage.Driver))

	store, err := storage.Open(storageConfig(cfg.Storage), log.With(logx.String("svc", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	source, err := fetch.New(fetchConfig(cfg), log.With(logx.String("svc", "fetch")))
	if err != nil {
		a.closeQuiet()
		return nil, err
	}
	a.source = source
	log.Info("watching contest", logx.String("url", source.URL()))

	runTimeout, _ := config.ParseDurationField("scheduler.run_timeout", cfg.Scheduler.RunTimeout)
	sched, err := scheduler.New(scheduler.Config{
		Interval:    interval,
		RunTimeout:  runTimeout,
		HistorySize: cfg.Scheduler.HistorySize,
	}, a.poll, log.With(logx.String("svc", "scheduler")))
	if err != nil {
		a.closeQuiet()
		return nil, err
	}
	a.sched = sched
	sched.SetOutcomeHook(a.recordOutcome)

	if spec := cfg.Scheduler.PruneSchedule; spec != "" && store != nil {
		retention, _ := config.ParseDurationField("scheduler.retention", cfg.Scheduler.Retention)
		if retention <= 0 {
			retention = defaultRetention
		}
		if err := sched.AddCron(pruneJobName, spec, a.pruneJob(retention)); err != nil {
			a.closeQuiet()
			return nil, err
		}
	}

	shutdownTimeout, _ := config.ParseDurationField("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	a.srv = server.New(server.Config{
		Enabled:         cfg.Server.Enabled,
		Addr:            cfg.Server.Addr,
		ReleaseMode:     cfg.Server.ReleaseMode,
		ShutdownTimeout: shutdownTimeout,
	}, store, sched, winprobConfig(cfg.WinProb), log.With(logx.String("svc", "http")))

	a.bootDriver = cfg.Storage.Driver
	a.bootAddr = cfg.Server.Addr
	return a, nil
}

// Start launches the scheduler, the HTTP server, the config watcher and the
// reload loop. It does not block.
func (a *App) Start() error {
	if err := a.sched.Start(); err != nil {
		return err
	}
	if err := a.srv.Start(); err != nil {
		a.sched.Stop(context.Background())
		return fmt.Errorf("start http server: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	a.updates = a.mgr.Subscribe(1)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.mgr.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		for cfg := range a.updates {
			a.applyConfig(cfg)
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	return nil
}

// Stop shuts everything down in reverse order. ctx bounds how long an
// in-flight poll may keep running.
func (a *App) Stop(ctx context.Context) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.srv != nil {
		a.srv.Stop(ctx)
	}
	if a.sched != nil {
		a.sched.Stop(ctx)
	}
	if a.updates != nil {
		a.mgr.Unsubscribe(a.updates)
		a.updates = nil
	}
	a.wg.Wait()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("shutdown complete")
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
}

// poll is the unit of work the scheduler runs every interval: fetch the
// standings page, parse it, persist the snapshot.
func (a *App) poll(ctx context.Context) error {
	a.lastEntryCount.Store(0)

	body, err := a.source.Fetch(ctx)
	if err != nil {
		return err
	}

	entries, err := standings.Parse(body)
	if err != nil {
		return err
	}
	a.lastEntryCount.Store(int64(len(entries)))
	if len(entries) == 0 {
		// Contest page without a standings table, typically pre-lock.
		a.log.Warn("no standings rows on page", logx.Int("bytes", len(body)))
		return nil
	}

	snap := standings.Snapshot{TakenAt: time.Now(), Entries: entries}
	if a.store != nil {
		if _, err := a.store.SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	a.log.Info("standings captured", logx.Int("entries", len(entries)))
	return nil
}

// recordOutcome mirrors each poll outcome into the run history and pets the
// systemd watchdog. Cron outcomes are not recorded as runs.
func (a *App) recordOutcome(out scheduler.Outcome) {
	if out.Name != "poll" {
		return
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	if a.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), outcomeIOBudget)
	defer cancel()
	err := a.store.AppendRun(ctx, storage.Run{
		StartedAt:  out.Started,
		Duration:   out.Duration,
		EntryCount: int(a.lastEntryCount.Load()),
		OK:         out.OK(),
		Error:      out.Error,
	})
	if err != nil {
		a.log.Warn("run history write failed", logx.Err(err))
	}
}

func (a *App) pruneJob(retention time.Duration) scheduler.Job {
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-retention)
		n, err := a.store.PruneBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Info("old snapshots pruned",
				logx.Int("removed", n), logx.Time("cutoff", cutoff))
		}
		return nil
	}
}

// applyConfig handles a hot reload. Only the knobs that are safe to change
// in place are applied; the rest take effect on restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logConfig(cfg.Logging))

	if interval, err := cfg.Scheduler.IntervalDuration(); err == nil {
		if err := a.sched.ApplyInterval(interval); err != nil {
			a.log.Warn("interval not applied", logx.Err(err))
		}
	}

	if cfg.Storage.Driver != a.bootDriver {
		a.log.Warn("storage driver change requires restart",
			logx.String("active", a.bootDriver), logx.String("configured", cfg.Storage.Driver))
	}
	if cfg.Server.Addr != a.bootAddr {
		a.log.Warn("server address change requires restart",
			logx.String("active", a.bootAddr), logx.String("configured", cfg.Server.Addr))
	}
}

func (a *App) closeQuiet() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
}

func logConfig(l config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: l.FileEnabled(),
			Path:    l.FilePath(),
		},
	}
}

func storageConfig(s config.StorageConfig) storage.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	return storage.Config{Driver: s.Driver, Path: s.Path, BusyTimeout: busy}
}

func fetchConfig(c *config.Config) fetch.Config {
	timeout, _ := config.ParseDurationField("fetch.timeout", c.Fetch.Timeout)
	gap, _ := config.ParseDurationField("fetch.min_request_gap", c.Fetch.MinRequestGap)
	return fetch.Config{
		ContestURL:    c.Contest.URL,
		ContestFile:   c.Contest.File,
		AuthStatePath: c.Fetch.AuthStatePath,
		Timeout:       timeout,
		UserAgent:     c.Fetch.UserAgent,
		MinRequestGap: gap,
	}
}

func winprobConfig(w config.WinProbConfig) winprob.Config {
	return winprob.Config{Sigma2: w.Sigma2, Sims: w.Sims}
}
