package raapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"retrotrack/pkg/logx"
	"retrotrack/pkg/metrics"
)

var (
	ErrBudgetStopped = errors.New("raapi: budget stopped")
	ErrQueueFull     = errors.New("raapi: budget queue full")
)

// BudgetConfig controls outbound call pacing.
//
// Defaults (when fields are omitted/zero):
//   - requests_per_interval: 1
//   - interval: 1200ms
//   - max_retries: 3
//   - retry_delay: 2s
//   - queue_size: 256
type BudgetConfig struct {
	RequestsPerInterval int
	Interval            time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	QueueSize           int
}

func (c *BudgetConfig) defaults() {
	if c.RequestsPerInterval <= 0 {
		c.RequestsPerInterval = 1
	}
	if c.Interval <= 0 {
		c.Interval = 1200 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// Thunk performs one logical upstream request. It must return a *Error (or an
// error wrapping one) on failure so the budget can decide whether to retry.
type Thunk func(ctx context.Context) error

type call struct {
	name string
	fn   Thunk
	done chan error
}

// Budget serializes all outbound API calls through a single drain loop so the
// process as a whole never exceeds the upstream rate ceiling, no matter how
// many callers are waiting. Failed calls are retried in place (the queue does
// not advance past a retrying call) with a fixed delay per attempt.
type Budget struct {
	cfg     BudgetConfig
	limiter *rate.Limiter
	log     logx.Logger
	m       *metrics.Metrics

	mu        sync.Mutex
	queue     chan call
	runCancel context.CancelFunc
	doneCh    chan struct{}
}

// NewBudget creates a stopped budget; call Start before Do.
// m may be nil.
func NewBudget(cfg BudgetConfig, log logx.Logger, m *metrics.Metrics) *Budget {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Budget{
		cfg: cfg,
		// Burst 1: releases are spaced evenly instead of clumping at the
		// window edge, which some upstreams punish.
		limiter: rate.NewLimiter(rate.Every(cfg.Interval/time.Duration(cfg.RequestsPerInterval)), 1),
		log:     log,
		m:       m,
	}
}

func (b *Budget) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.runCancel = cancel
	b.queue = make(chan call, b.cfg.QueueSize)
	b.doneCh = make(chan struct{})
	go b.drain(runCtx, b.queue, b.doneCh)
}

func (b *Budget) Stop() {
	b.mu.Lock()
	cancel := b.runCancel
	done := b.doneCh
	b.runCancel = nil
	b.queue = nil
	b.doneCh = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Do enqueues fn and blocks until it has been released, executed and
// (if needed) retried. The returned error is the thunk's final classified
// error; callers map it to a degraded value instead of aborting their cycle.
func (b *Budget) Do(ctx context.Context, name string, fn Thunk) error {
	b.mu.Lock()
	q := b.queue
	b.mu.Unlock()
	if q == nil {
		return ErrBudgetStopped
	}

	c := call{name: name, fn: fn, done: make(chan error, 1)}
	select {
	case q <- c:
	default:
		return ErrQueueFull
	}

	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		// The drain loop still executes the thunk; the caller just stops
		// waiting for it. Results of abandoned calls are discarded.
		return ctx.Err()
	}
}

func (b *Budget) drain(ctx context.Context, q chan call, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			b.failPending(q)
			return
		case c := <-q:
			c.done <- b.execute(ctx, c)
		}
	}
}

// failPending drains whatever is queued at shutdown so callers unblock.
func (b *Budget) failPending(q chan call) {
	for {
		select {
		case c := <-q:
			c.done <- ErrBudgetStopped
		default:
			return
		}
	}
}

func (b *Budget) execute(ctx context.Context, c call) error {
	maxAttempts := 1 + b.cfg.MaxRetries

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return ErrBudgetStopped
		}
		if b.m != nil {
			b.m.APICall()
		}

		err := c.fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := KindOf(err)
		if !kind.Retryable() {
			b.log.Debug("call failed, not retryable",
				logx.String("call", c.name), logx.String("kind", kind.String()), logx.Err(err))
			if b.m != nil {
				b.m.APIFailure(kind.String())
			}
			return err
		}
		if attempt >= maxAttempts {
			break
		}

		b.log.Debug("call failed, retrying",
			logx.String("call", c.name), logx.String("kind", kind.String()),
			logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if b.m != nil {
			b.m.APIRetry()
		}

		t := time.NewTimer(b.cfg.RetryDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ErrBudgetStopped
		}
	}

	b.log.Warn("call failed after exhausting retries",
		logx.String("call", c.name), logx.Int("attempts", maxAttempts), logx.Err(lastErr))
	if b.m != nil {
		b.m.APIFailure(KindOf(lastErr).String())
	}
	return lastErr
}
