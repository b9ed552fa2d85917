// Package dispatch routes transition events to notification destinations with
// per-entity flood protection and duplicate suppression.
package dispatch

import (
	"context"
	"sync"
	"time"

	"retrotrack/internal/diff"
	"retrotrack/internal/eventbus"
	"retrotrack/internal/sink"
	"retrotrack/internal/storage"
	logx "retrotrack/pkg/logx"
)

// Config is the dispatch policy. Routes maps an event kind to one or more
// destination names; both fan-out and shared destinations are fine.
//
// Defaults (when fields are omitted/zero):
//   - min_alert_interval: 30m
//   - announced_log_cap: 200
type Config struct {
	MinAlertInterval time.Duration
	AnnouncedLogCap  int
	Routes           map[string][]string
}

func (c *Config) defaults() {
	if c.MinAlertInterval <= 0 {
		c.MinAlertInterval = 30 * time.Minute
	}
	if c.AnnouncedLogCap <= 0 {
		c.AnnouncedLogCap = 200
	}
}

// Dispatcher consumes events exactly once. An event is either handed to the
// sink or dropped; nothing is queued or delayed, because a stale rank alert is
// worse than a missing one.
type Dispatcher struct {
	sink  sink.Sink
	store storage.Store
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	mu        sync.Mutex
	cfg       Config
	lastAlert map[string]time.Time // entity id -> last dispatched
}

func New(cfg Config, snk sink.Sink, store storage.Store, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		sink:      snk,
		store:     store,
		log:       log,
		bus:       bus,
		now:       time.Now,
		cfg:       cfg,
		lastAlert: map[string]time.Time{},
	}
}

// Apply updates the dispatch policy at runtime. Throttle state carries over.
func (d *Dispatcher) Apply(cfg Config) {
	cfg.defaults()
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Dispatch routes one event. It never returns an error to the pipeline:
// every failure mode is a logged drop, so a bad destination or a down sink
// cannot abort a poll cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, ev diff.Event) {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	destinations := cfg.Routes[string(ev.Kind)]
	if len(destinations) == 0 {
		// Misconfiguration, not a transient condition. Loud log, silent drop.
		d.log.Error("no destinations routed for event kind, dropping",
			logx.String("kind", string(ev.Kind)), logx.String("entity", ev.EntityID))
		d.publish(eventbus.TypeDispatchUnroutable, ev)
		return
	}

	// Duplicate suppression first: an already-announced achievement is dropped
	// silently and must not consume the entity's throttle window.
	if ev.Kind == diff.KindAchievementEarned {
		seen, err := d.store.HasAnnounced(ctx, ev.SubjectKey, ev.AchievementID)
		if err != nil {
			d.log.Warn("announced lookup failed, dropping event",
				logx.String("subject", ev.SubjectKey), logx.Err(err))
			return
		}
		if seen {
			d.publish(eventbus.TypeDispatchDuplicate, ev)
			return
		}
	}

	now := d.now()
	d.mu.Lock()
	if last, ok := d.lastAlert[ev.EntityID]; ok && now.Sub(last) < cfg.MinAlertInterval {
		d.mu.Unlock()
		d.log.Debug("alert throttled",
			logx.String("entity", ev.EntityID), logx.String("kind", string(ev.Kind)),
			logx.Duration("since_last", now.Sub(last)))
		d.publish(eventbus.TypeDispatchThrottled, ev)
		return
	}
	// Commit the throttle slot before delivery: from here on the event counts
	// as sent, even if the sink fails, so retries can never flood.
	d.lastAlert[ev.EntityID] = now
	d.mu.Unlock()

	if ev.Kind == diff.KindAchievementEarned {
		if err := d.store.RecordAnnounced(ctx, ev.SubjectKey, ev.AchievementID, cfg.AnnouncedLogCap); err != nil {
			d.log.Warn("announced record failed",
				logx.String("subject", ev.SubjectKey), logx.Err(err))
		}
	}

	payload := render(ev)
	for _, dest := range destinations {
		if err := d.sink.Send(ctx, dest, payload); err != nil {
			d.log.Warn("sink delivery failed",
				logx.String("destination", dest), logx.String("kind", string(ev.Kind)), logx.Err(err))
			d.publish(eventbus.TypeDispatchFailed, ev)
			continue
		}
	}
	d.publish(eventbus.TypeDispatchSent, ev)
}

func (d *Dispatcher) publish(typ string, ev diff.Event) {
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}
