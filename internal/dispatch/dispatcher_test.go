package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"retrotrack/internal/diff"
	"retrotrack/internal/sink"
	"retrotrack/internal/storage"
	"retrotrack/pkg/logx"
)

type sent struct {
	dest    string
	payload sink.Payload
}

type fakeSink struct {
	mu    sync.Mutex
	sends []sent
	err   error
}

func (f *fakeSink) Handles(string) bool { return true }

func (f *fakeSink) Send(ctx context.Context, dest string, p sink.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sends = append(f.sends, sent{dest: dest, payload: p})
	return nil
}

func (f *fakeSink) take() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sends
	f.sends = nil
	return out
}

func testDispatcher(t *testing.T, cfg Config, snk sink.Sink, store storage.Store) (*Dispatcher, *time.Time) {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	d := New(cfg, snk, store, logx.Nop(), nil)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	d.now = func() time.Time { return *clock }
	return d, clock
}

func rankEvent(entity, subject string) diff.Event {
	return diff.Event{
		ID: "ev-" + entity + "-" + subject, Kind: diff.KindRankImproved,
		EntityID: entity, SubjectKey: subject, PrevRank: 3, NewRank: 2,
	}
}

func achievementEvent(entity, subject, id string) diff.Event {
	return diff.Event{
		ID: "ev-" + id, Kind: diff.KindAchievementEarned,
		EntityID: entity, SubjectKey: subject, AchievementID: id,
	}
}

func TestDispatchFansOutToAllDestinations(t *testing.T) {
	snk := &fakeSink{}
	d, _ := testDispatcher(t, Config{
		Routes: map[string][]string{string(diff.KindRankImproved): {"chat", "ops"}},
	}, snk, nil)

	d.Dispatch(context.Background(), rankEvent("b1", "alice"))

	sends := snk.take()
	if len(sends) != 2 {
		t.Fatalf("got %d sends, want 2: %+v", len(sends), sends)
	}
	if sends[0].dest != "chat" || sends[1].dest != "ops" {
		t.Fatalf("destinations = %q, %q", sends[0].dest, sends[1].dest)
	}
	if sends[0].payload.Title == "" {
		t.Fatal("payload title must be rendered")
	}
}

func TestDispatchDropsUnroutedKind(t *testing.T) {
	snk := &fakeSink{}
	d, _ := testDispatcher(t, Config{Routes: map[string][]string{}}, snk, nil)

	d.Dispatch(context.Background(), rankEvent("b1", "alice"))
	if sends := snk.take(); len(sends) != 0 {
		t.Fatalf("unrouted kind produced %d sends, want 0", len(sends))
	}
}

func TestDispatchThrottlesPerEntity(t *testing.T) {
	snk := &fakeSink{}
	d, clock := testDispatcher(t, Config{
		MinAlertInterval: 30 * time.Minute,
		Routes:           map[string][]string{string(diff.KindRankImproved): {"chat"}},
	}, snk, nil)

	d.Dispatch(context.Background(), rankEvent("b1", "alice"))
	if len(snk.take()) != 1 {
		t.Fatal("first alert must pass")
	}

	*clock = clock.Add(10 * time.Minute)
	d.Dispatch(context.Background(), rankEvent("b1", "bob"))
	if len(snk.take()) != 0 {
		t.Fatal("second alert inside the window must be throttled")
	}

	// A different entity has its own window.
	d.Dispatch(context.Background(), rankEvent("b2", "bob"))
	if len(snk.take()) != 1 {
		t.Fatal("other entity must not share the throttle window")
	}

	*clock = clock.Add(21 * time.Minute)
	d.Dispatch(context.Background(), rankEvent("b1", "carol"))
	if len(snk.take()) != 1 {
		t.Fatal("alert after the window must pass")
	}
}

func TestDispatchSuppressesDuplicateAchievements(t *testing.T) {
	snk := &fakeSink{}
	st := storage.NewMemory()
	d, clock := testDispatcher(t, Config{
		MinAlertInterval: 30 * time.Minute,
		Routes: map[string][]string{
			string(diff.KindAchievementEarned): {"chat"},
			string(diff.KindRankImproved):      {"chat"},
		},
	}, snk, st)

	d.Dispatch(context.Background(), achievementEvent("ch1", "alice", "a100"))
	if len(snk.take()) != 1 {
		t.Fatal("first achievement must be announced")
	}

	// Same id re-observed on a later cycle: silent drop, and the drop must not
	// consume the entity's throttle window.
	*clock = clock.Add(time.Hour)
	d.Dispatch(context.Background(), achievementEvent("ch1", "alice", "a100"))
	if len(snk.take()) != 0 {
		t.Fatal("duplicate achievement must be suppressed")
	}
	d.Dispatch(context.Background(), rankEvent("ch1", "alice"))
	if len(snk.take()) != 1 {
		t.Fatal("duplicate drop must not consume the throttle slot")
	}
}

func TestDispatchCommitsBeforeDelivery(t *testing.T) {
	snk := &fakeSink{err: errors.New("sink down")}
	st := storage.NewMemory()
	d, _ := testDispatcher(t, Config{
		Routes: map[string][]string{string(diff.KindAchievementEarned): {"chat"}},
	}, snk, st)

	d.Dispatch(context.Background(), achievementEvent("ch1", "alice", "a1"))

	// Delivery failed, but the announcement is committed: no replay flood.
	seen, err := st.HasAnnounced(context.Background(), "alice", "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Fatal("failed delivery must still record the announcement")
	}

	snk.mu.Lock()
	snk.err = nil
	snk.mu.Unlock()
	d.Dispatch(context.Background(), achievementEvent("ch1", "alice", "a1"))
	if len(snk.take()) != 0 {
		t.Fatal("recovered sink must not re-announce a committed achievement")
	}
}

func TestDispatchApplyUpdatesRoutes(t *testing.T) {
	snk := &fakeSink{}
	d, _ := testDispatcher(t, Config{Routes: map[string][]string{}}, snk, nil)

	d.Dispatch(context.Background(), rankEvent("b1", "alice"))
	if len(snk.take()) != 0 {
		t.Fatal("no route yet")
	}

	d.Apply(Config{Routes: map[string][]string{string(diff.KindRankImproved): {"chat"}}})
	d.Dispatch(context.Background(), rankEvent("b2", "alice"))
	if len(snk.take()) != 1 {
		t.Fatal("new route must take effect")
	}
}
