package diff

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"retrotrack/internal/eventbus"
	"retrotrack/internal/raapi"
	"retrotrack/internal/storage"
	logx "retrotrack/pkg/logx"
)

// Fetcher is the slice of the API client the engine needs.
//
// BoardEntriesFresh bypasses the response cache; the re-confirmation pass
// depends on actually hitting the upstream twice.
type Fetcher interface {
	BoardEntries(ctx context.Context, boardID string) ([]raapi.BoardEntry, error)
	BoardEntriesFresh(ctx context.Context, boardID string) ([]raapi.BoardEntry, error)
	GameProgress(ctx context.Context, username, gameID string) (raapi.Progress, error)
}

// Emit receives each transition event as it is produced. The poll loop wires
// this to the dispatcher; tests wire it to a recorder.
type Emit func(ctx context.Context, ev Event)

// Config is the diffing policy. All fields are hot-reloadable via Apply.
//
// Defaults (when fields are omitted/zero):
//   - top_k: 3
//   - consistency_tolerance: 0.20 (absolute floor 1)
//   - reconfirm_delay: 2s, reconfirm_overlap: 0.90
//   - entity_delay: 1s
type Config struct {
	TopK                 int
	ConsistencyTolerance float64
	AbsoluteTolerance    int
	ReconfirmDelay       time.Duration
	ReconfirmOverlap     float64
	EntityDelay          time.Duration
}

func (c *Config) defaults() {
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.ConsistencyTolerance <= 0 {
		c.ConsistencyTolerance = 0.20
	}
	if c.AbsoluteTolerance <= 0 {
		c.AbsoluteTolerance = 1
	}
	if c.ReconfirmDelay <= 0 {
		c.ReconfirmDelay = 2 * time.Second
	}
	if c.ReconfirmOverlap <= 0 {
		c.ReconfirmOverlap = 0.90
	}
	if c.EntityDelay <= 0 {
		c.EntityDelay = time.Second
	}
}

// Engine runs the snapshot-diff state machine across all tracked entities.
// One cycle processes entities sequentially in a stable order; a failure in
// one entity never aborts the others.
type Engine struct {
	api   Fetcher
	store storage.Store
	snaps *SnapshotStore
	emit  Emit
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	mu  sync.Mutex
	cfg Config
}

func NewEngine(cfg Config, api Fetcher, store storage.Store, snaps *SnapshotStore, emit Emit, log logx.Logger, bus eventbus.Bus) *Engine {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		api:   api,
		store: store,
		snaps: snaps,
		emit:  emit,
		log:   log,
		bus:   bus,
		now:   time.Now,
		cfg:   cfg,
	}
}

// Apply updates the diffing policy at runtime.
func (e *Engine) Apply(cfg Config) {
	cfg.defaults()
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// RunRankCycle polls every tracked board once and emits rank transition
// events. The returned error covers only setup failures (roster or board list
// unavailable); per-board failures are logged and isolated.
func (e *Engine) RunRankCycle(ctx context.Context) error {
	boards, err := e.store.TrackedBoards(ctx)
	if err != nil {
		return err
	}
	usernames, err := e.usernameIndex(ctx)
	if err != nil {
		return err
	}

	sort.Slice(boards, func(i, j int) bool { return boards[i].ID < boards[j].ID })

	cfg := e.config()
	for i, b := range boards {
		if i > 0 {
			if !sleepCtx(ctx, cfg.EntityDelay) {
				return ctx.Err()
			}
		}
		if err := e.pollBoard(ctx, b, usernames); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			e.log.Warn("board poll failed, skipping this cycle",
				logx.String("board", b.ID), logx.String("kind", raapi.KindOf(err).String()), logx.Err(err))
		}
	}
	return nil
}

func (e *Engine) pollBoard(ctx context.Context, b storage.Board, usernames map[string]string) error {
	cfg := e.config()

	listing, err := e.api.BoardEntries(ctx, b.ID)
	if err != nil {
		return err
	}

	// Volatile boards get a second opinion before the listing is trusted.
	if b.Volatile {
		listing = e.reconfirm(ctx, b.ID, listing, cfg)
	}

	now := e.now()
	current := buildSnapshot(b.ID, listing, usernames, now)

	prev, hasPrev := e.snaps.Get(b.ID)

	// First cycle: only establish the baseline, never emit.
	if !hasPrev {
		e.snaps.Replace(current)
		e.log.Info("baseline established",
			logx.String("board", b.ID), logx.Int("subjects", len(current.Entries)))
		return nil
	}

	// Consistency gate: a sharply shrunken or grown listing is more likely a
	// truncated/duplicated upstream read than a real standings change. Skip
	// diffing, but still take the new snapshot as baseline so one bad read
	// cannot wedge future comparisons.
	if !sizesConsistent(len(prev.Entries), len(current.Entries), cfg) {
		e.snaps.Replace(current)
		e.log.Warn("inconsistent fetch, diff skipped",
			logx.String("board", b.ID),
			logx.Int("prev_size", len(prev.Entries)), logx.Int("new_size", len(current.Entries)))
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: eventbus.TypeDiffInconsistent, Data: b.ID})
		}
		return nil
	}

	for _, ev := range diffSnapshots(prev, current, cfg.TopK, now) {
		e.emitEvent(ctx, ev)
	}

	e.snaps.Replace(current)
	return nil
}

// reconfirm re-fetches the listing once after a short delay and requires the
// two reads to agree. On disagreement the larger (more complete) listing wins.
func (e *Engine) reconfirm(ctx context.Context, boardID string, first []raapi.BoardEntry, cfg Config) []raapi.BoardEntry {
	if !sleepCtx(ctx, cfg.ReconfirmDelay) {
		return first
	}
	second, err := e.api.BoardEntriesFresh(ctx, boardID)
	if err != nil {
		e.log.Debug("reconfirmation fetch failed, keeping first read",
			logx.String("board", boardID), logx.Err(err))
		return first
	}

	sizeDelta := len(first) - len(second)
	if sizeDelta < 0 {
		sizeDelta = -sizeDelta
	}
	if sizeDelta <= 1 && subjectOverlap(first, second) >= cfg.ReconfirmOverlap {
		return first
	}

	e.log.Warn("reconfirmation disagreed, preferring larger listing",
		logx.String("board", boardID),
		logx.Int("first", len(first)), logx.Int("second", len(second)))
	if len(second) > len(first) {
		return second
	}
	return first
}

func (e *Engine) emitEvent(ctx context.Context, ev Event) {
	if e.emit != nil {
		e.emit(ctx, ev)
	}
}

func (e *Engine) usernameIndex(ctx context.Context) (map[string]string, error) {
	roster, err := e.store.Roster(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]string, len(roster))
	for _, s := range roster {
		idx[lower(s.Username)] = s.Key
	}
	return idx, nil
}

// sizesConsistent implements the gate: the size delta must stay within
// max(absolute floor, tolerance * previous size).
func sizesConsistent(prevSize, newSize int, cfg Config) bool {
	if prevSize == 0 {
		return true
	}
	delta := prevSize - newSize
	if delta < 0 {
		delta = -delta
	}
	allowed := int(cfg.ConsistencyTolerance * float64(prevSize))
	if allowed < cfg.AbsoluteTolerance {
		allowed = cfg.AbsoluteTolerance
	}
	return delta <= allowed
}

// subjectOverlap returns the fraction of first's subjects present in second.
func subjectOverlap(first, second []raapi.BoardEntry) float64 {
	if len(first) == 0 {
		return 1
	}
	in := make(map[string]bool, len(second))
	for _, e := range second {
		in[lower(e.Subject)] = true
	}
	match := 0
	for _, e := range first {
		if in[lower(e.Subject)] {
			match++
		}
	}
	return float64(match) / float64(len(first))
}

// diffSnapshots produces the minimal event set between two snapshots,
// bounded to the interesting top-K zone. Events are ordered by current rank,
// then fell-out subjects by key, so cycles are reproducible.
func diffSnapshots(prev, current *Snapshot, topK int, at time.Time) []Event {
	var events []Event

	type mover struct {
		key   string
		entry Entry
	}
	movers := make([]mover, 0, len(current.Entries))
	for key, entry := range current.Entries {
		if entry.CommunityRank <= topK {
			movers = append(movers, mover{key: key, entry: entry})
		}
	}
	sort.Slice(movers, func(i, j int) bool { return movers[i].entry.CommunityRank < movers[j].entry.CommunityRank })

	for _, m := range movers {
		before, wasPresent := prev.Entries[m.key]
		switch {
		case !wasPresent:
			ev := newEvent(KindEnteredTopK, current.EntityID, m.key, at)
			ev.NewRank = m.entry.CommunityRank
			ev.Score = m.entry.Score
			events = append(events, ev)
		case before.CommunityRank > m.entry.CommunityRank:
			ev := newEvent(KindRankImproved, current.EntityID, m.key, at)
			ev.PrevRank = before.CommunityRank
			ev.NewRank = m.entry.CommunityRank
			ev.Score = m.entry.Score
			events = append(events, ev)
		case before.CommunityRank < m.entry.CommunityRank:
			ev := newEvent(KindRankDropped, current.EntityID, m.key, at)
			ev.PrevRank = before.CommunityRank
			ev.NewRank = m.entry.CommunityRank
			ev.Score = m.entry.Score
			events = append(events, ev)
		}
	}

	var fellOut []string
	for key, before := range prev.Entries {
		if before.CommunityRank > topK {
			continue
		}
		after, stillPresent := current.Entries[key]
		if !stillPresent || after.CommunityRank > topK {
			fellOut = append(fellOut, key)
		}
	}
	sort.Strings(fellOut)
	for _, key := range fellOut {
		before := prev.Entries[key]
		ev := newEvent(KindFellOutTopK, current.EntityID, key, at)
		ev.PrevRank = before.CommunityRank
		if after, ok := current.Entries[key]; ok {
			ev.NewRank = after.CommunityRank
		}
		events = append(events, ev)
	}

	return events
}

// sleepCtx sleeps for d unless ctx ends first; returns false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
