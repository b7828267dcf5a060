package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "dkwatch/pkg/logx"
)

const (
	pollJobName        = "poll"
	defaultHistorySize = 200
)

// Service owns the poll loop and the cron runner. Interval, job reference
// and cancellation state live here explicitly; nothing is package-global.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	job Job

	parser cron.Parser
	c      *cron.Cron
	crons  []cronDef

	stopCh    chan struct{}
	done      chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc

	interval atomic.Int64 // nanoseconds; mutable via ApplyInterval
	ticks    atomic.Uint64

	onOutcome func(Outcome)

	hmu     sync.Mutex
	history []Outcome
}

type cronDef struct {
	name    string
	spec    string
	job     Job
	state   *runState
	entryID cron.EntryID
}

// New validates the config and builds an idle service around job.
func New(cfg Config, job Job, log logx.Logger) (*Service, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be > 0, got %v", cfg.Interval)
	}
	if job == nil {
		return nil, errors.New("scheduler: job is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg: cfg,
		log: log,
		job: job,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	s.interval.Store(int64(cfg.Interval))
	return s, nil
}

// SetOutcomeHook installs a callback invoked after every tick and cron run,
// in execution order. Must be called before Start.
func (s *Service) SetOutcomeHook(fn func(Outcome)) {
	s.mu.Lock()
	s.onOutcome = fn
	s.mu.Unlock()
}

// AddCron registers a named auxiliary job. Safe before or after Start;
// definitions added while idle are attached on Start.
func (s *Service) AddCron(name, spec string, job Job) error {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	normalized := ps.CronSpec()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.parser.Parse(normalized); err != nil {
		return fmt.Errorf("scheduler: bad spec %q for %s: %w", spec, name, err)
	}
	s.crons = append(s.crons, cronDef{name: name, spec: normalized, job: job, state: &runState{}})
	if s.c != nil {
		return s.attachCronLocked(&s.crons[len(s.crons)-1])
	}
	return nil
}

// Start launches the poll loop and the cron runner. The first tick runs
// immediately. Returns an error if the service is already running.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return errors.New("scheduler: already started")
	}

	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	s.c = cron.New(cron.WithParser(s.parser))
	for i := range s.crons {
		if err := s.attachCronLocked(&s.crons[i]); err != nil {
			s.log.Error("cron attach failed",
				logx.String("job", s.crons[i].name), logx.Err(err))
		}
	}
	s.c.Start()

	go s.loop(s.stopCh, s.runCtx)
	s.log.Info("scheduler started",
		logx.Duration("interval", s.Interval()),
		logx.Int("cron_jobs", len(s.crons)))
	return nil
}

// Stop shuts the loop down cooperatively: no new tick starts, and an
// in-flight tick may finish until ctx expires, after which it is cancelled
// and abandoned.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	done := s.done
	c := s.c
	cancel := s.runCancel
	s.stopCh = nil
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	start := time.Now()
	close(stopCh)
	if c != nil {
		<-c.Stop().Done()
	}

	select {
	case <-done:
	case <-ctx.Done():
		// Deadline passed: abandon the in-flight tick.
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Interval returns the current poll cadence.
func (s *Service) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// ApplyInterval changes the poll cadence. Takes effect when the loop next
// computes its sleep, i.e. after the current tick or sleep period.
func (s *Service) ApplyInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("scheduler: interval must be > 0, got %v", d)
	}
	old := time.Duration(s.interval.Swap(int64(d)))
	if old != d {
		s.log.Info("poll interval changed",
			logx.Duration("old", old), logx.Duration("new", d))
	}
	return nil
}

// Ticks returns the number of completed tick and cron executions.
func (s *Service) Ticks() uint64 { return s.ticks.Load() }

// Snapshot returns a copy of the scheduler state for diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.stopCh != nil
	c := s.c
	var crons []CronInfo
	for i := range s.crons {
		info := CronInfo{Name: s.crons[i].name, Spec: s.crons[i].spec}
		if c != nil && s.crons[i].entryID != 0 {
			e := c.Entry(s.crons[i].entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		crons = append(crons, info)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	hist := append([]Outcome(nil), s.history...)
	s.hmu.Unlock()

	return Snapshot{
		Interval: s.Interval(),
		Running:  running,
		Ticks:    s.ticks.Load(),
		History:  hist,
		Crons:    crons,
	}
}

func (s *Service) loop(stopCh <-chan struct{}, runCtx context.Context) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	defer close(done)

	for {
		// Fast-exit check so a pending stop wins over a due tick.
		select {
		case <-stopCh:
			return
		default:
		}

		start := time.Now()
		s.execute(runCtx, pollJobName, s.job)

		sleep := s.Interval() - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		timer := time.NewTimer(sleep)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Service) attachCronLocked(d *cronDef) error {
	local := d
	id, err := s.c.AddFunc(d.spec, func() {
		if !local.state.tryAcquire() {
			s.log.Debug("cron run skipped (previous run still running)",
				logx.String("job", local.name))
			return
		}
		defer local.state.release()

		s.mu.Lock()
		runCtx := s.runCtx
		s.mu.Unlock()
		if runCtx == nil {
			return
		}
		s.execute(runCtx, local.name, local.job)
	})
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// execute runs one job invocation and records its outcome. Job failures
// (including panics) never escape: they become a FAILURE log entry and a
// history item, and scheduling continues.
func (s *Service) execute(ctx context.Context, name string, job Job) {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
	}
	err := safeRun(runCtx, job)
	if cancel != nil {
		cancel()
	}

	out := Outcome{Name: name, Started: start, Duration: time.Since(start)}
	if err != nil {
		out.Error = err.Error()
		s.log.Error("tick failed",
			logx.String("job", name),
			logx.String("outcome", "FAILURE"),
			logx.Duration("dur", out.Duration),
			logx.Err(err))
	} else {
		s.log.Info("tick completed",
			logx.String("job", name),
			logx.String("outcome", "SUCCESS"),
			logx.Duration("dur", out.Duration))
	}

	s.ticks.Add(1)
	s.appendHistory(out)

	s.mu.Lock()
	hook := s.onOutcome
	s.mu.Unlock()
	if hook != nil {
		hook(out)
	}
}

func (s *Service) appendHistory(out Outcome) {
	size := s.cfg.HistorySize
	if size <= 0 {
		size = defaultHistorySize
	}
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, out)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx)
}
