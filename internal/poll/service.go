// Package poll drives the periodic diff cycles. Two independent jobs run on
// their own timers: rank diffing and award/achievement checks. Cycles of the
// same job class never overlap; a slow cycle simply suppresses the next tick.
package poll

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"retrotrack/internal/eventbus"
	logx "retrotrack/pkg/logx"
)

// Job runs one full poll cycle for its entity class.
type Job func(ctx context.Context) error

// Config configures the two poll timers.
//
// Defaults (when fields are omitted/zero):
//   - rank_interval: 1h
//   - award_interval: 30m
type Config struct {
	Enabled       bool
	RankInterval  time.Duration
	AwardInterval time.Duration
	Timezone      string // IANA TZ; empty means local
}

func (c *Config) defaults() {
	if c.RankInterval <= 0 {
		c.RankInterval = time.Hour
	}
	if c.AwardInterval <= 0 {
		c.AwardInterval = 30 * time.Minute
	}
}

// CycleReport is published on the bus after every completed cycle.
type CycleReport struct {
	Job      string
	Took     time.Duration
	Err      string
	Finished time.Time
}

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	rankJob  Job
	awardJob Job

	// single-flight guards, one per job class
	rankBusy  atomic.Bool
	awardBusy atomic.Bool

	mu      sync.Mutex
	c       *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	cycleWG sync.WaitGroup
}

func New(cfg Config, rankJob, awardJob Job, log logx.Logger, bus eventbus.Bus) *Service {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		rankJob:  rankJob,
		awardJob: awardJob,
	}
}

// Start is idempotent; calling it while running is a no-op. The first cycles
// are kicked immediately so baselines exist long before the first tick.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCtx = runCtx
	s.cancel = cancel

	s.c = cron.New(cron.WithLocation(s.location()))
	_, _ = s.c.AddFunc("@every "+s.cfg.RankInterval.String(), func() { s.runCycle("rank") })
	_, _ = s.c.AddFunc("@every "+s.cfg.AwardInterval.String(), func() { s.runCycle("award") })
	s.c.Start()

	s.spawn("rank")
	s.spawn("award")

	s.log.Info("poll scheduler started",
		logx.Duration("rank_interval", s.cfg.RankInterval),
		logx.Duration("award_interval", s.cfg.AwardInterval))
}

// Stop lets the in-flight cycle finish, then returns. There is no mid-entity
// cancellation: cfg knobs keep individual cycles bounded instead.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	// Stop ticking first so no new cycles begin, then wait for running ones.
	<-c.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.cycleWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Caller gave up waiting; abandon the cycle. Snapshot replacement is
		// atomic, so the abandoned entity is simply re-polled next start.
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
	}

	s.log.Info("poll scheduler stopped")
}

// PollNow triggers one cycle of the named job ("rank" or "award") outside the
// timer, reusing the single-flight guard.
func (s *Service) PollNow(job string) bool {
	s.mu.Lock()
	running := s.c != nil
	s.mu.Unlock()
	if !running {
		return false
	}
	s.spawn(strings.ToLower(strings.TrimSpace(job)))
	return true
}

// spawn runs a cycle on its own goroutine, tracked so Stop can wait for it.
// Cron-ticked cycles don't need this: cron.Stop already waits for its jobs.
func (s *Service) spawn(job string) {
	s.cycleWG.Add(1)
	go func() {
		defer s.cycleWG.Done()
		s.runCycle(job)
	}()
}

func (s *Service) runCycle(job string) {
	var (
		busy *atomic.Bool
		run  Job
	)
	switch job {
	case "rank":
		busy, run = &s.rankBusy, s.rankJob
	case "award":
		busy, run = &s.awardBusy, s.awardJob
	default:
		s.log.Warn("unknown poll job", logx.String("job", job))
		return
	}
	if run == nil {
		return
	}

	if !busy.CompareAndSwap(false, true) {
		s.log.Warn("previous cycle still running, skipping tick", logx.String("job", job))
		return
	}
	defer busy.Store(false)

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	start := time.Now()
	err := run(ctx)
	took := time.Since(start)

	if err != nil && ctx.Err() == nil {
		s.log.Error("poll cycle failed", logx.String("job", job), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Debug("poll cycle finished", logx.String("job", job), logx.Duration("took", took))
	}

	if s.bus != nil {
		report := CycleReport{Job: job, Took: took, Finished: time.Now()}
		if err != nil {
			report.Err = err.Error()
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleDone, Data: report})
	}
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
