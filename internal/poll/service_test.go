package poll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"retrotrack/internal/eventbus"
	"retrotrack/pkg/logx"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartRunsImmediateCycles(t *testing.T) {
	var rank, award atomic.Int32
	s := New(Config{
		Enabled:       true,
		RankInterval:  time.Hour,
		AwardInterval: time.Hour,
	}, func(ctx context.Context) error {
		rank.Add(1)
		return nil
	}, func(ctx context.Context) error {
		award.Add(1)
		return nil
	}, logx.Nop(), nil)

	s.Start(context.Background())
	defer s.Stop(context.Background())

	waitFor(t, func() bool { return rank.Load() == 1 && award.Load() == 1 },
		"immediate cycles did not run")

	// Second Start is a no-op.
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if rank.Load() != 1 || award.Load() != 1 {
		t.Fatalf("duplicate Start re-ran cycles: rank=%d award=%d", rank.Load(), award.Load())
	}
}

func TestDisabledServiceDoesNothing(t *testing.T) {
	var rank atomic.Int32
	s := New(Config{Enabled: false}, func(ctx context.Context) error {
		rank.Add(1)
		return nil
	}, nil, logx.Nop(), nil)

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if rank.Load() != 0 {
		t.Fatal("disabled service ran a cycle")
	}
	if s.PollNow("rank") {
		t.Fatal("PollNow must report false when not running")
	}
	s.Stop(context.Background())
}

func TestSingleFlightSkipsOverlappingCycle(t *testing.T) {
	release := make(chan struct{})
	var rank atomic.Int32
	s := New(Config{
		Enabled:      true,
		RankInterval: time.Hour, AwardInterval: time.Hour,
	}, func(ctx context.Context) error {
		rank.Add(1)
		<-release
		return nil
	}, func(ctx context.Context) error { return nil }, logx.Nop(), nil)

	s.Start(context.Background())
	waitFor(t, func() bool { return rank.Load() == 1 }, "first cycle did not start")

	// Overlapping request is skipped by the single-flight guard.
	if !s.PollNow("rank") {
		t.Fatal("PollNow on a running service must return true")
	}
	time.Sleep(20 * time.Millisecond)
	if rank.Load() != 1 {
		t.Fatalf("overlapping cycle ran: count=%d", rank.Load())
	}

	close(release)
	waitFor(t, func() bool {
		return s.PollNow("rank") && rank.Load() >= 2
	}, "cycle after release did not run")

	s.Stop(context.Background())
}

func TestStopWaitsForRunningCycle(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	s := New(Config{
		Enabled:      true,
		RankInterval: time.Hour, AwardInterval: time.Hour,
	}, func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}, func(ctx context.Context) error { return nil }, logx.Nop(), nil)

	s.Start(context.Background())
	<-started
	s.Stop(context.Background())
	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight cycle finished")
	}
}

func TestCycleReportPublished(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{
		Enabled:      true,
		RankInterval: time.Hour, AwardInterval: time.Hour,
	}, func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return nil }, logx.Nop(), bus)

	s.Start(context.Background())
	defer s.Stop(context.Background())

	deadline := time.After(2 * time.Second)
	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case ev := <-events:
			if ev.Type != eventbus.TypeCycleDone {
				continue
			}
			r, ok := ev.Data.(CycleReport)
			if !ok {
				t.Fatalf("unexpected report payload %T", ev.Data)
			}
			if r.Err != "" {
				t.Fatalf("cycle reported error: %s", r.Err)
			}
			got[r.Job] = true
		case <-deadline:
			t.Fatalf("missing cycle reports, got %v", got)
		}
	}
}
