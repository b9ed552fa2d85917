package diff

import (
	"testing"
	"time"

	"retrotrack/internal/raapi"
)

func TestBuildSnapshotFiltersAndReranks(t *testing.T) {
	usernames := map[string]string{
		"alice": "alice",
		"bob":   "bob",
		"carol": "carol",
	}
	listing := []raapi.BoardEntry{
		{Subject: "stranger1", Rank: 1, Score: "100"},
		{Subject: "Bob", Rank: 4, Score: "80"},
		{Subject: "stranger2", Rank: 7, Score: "70"},
		{Subject: "ALICE", Rank: 12, Score: "60"},
		{Subject: "carol", Rank: 30, Score: "10"},
	}

	snap := buildSnapshot("board1", listing, usernames, time.Now())
	if len(snap.Entries) != 3 {
		t.Fatalf("got %d entries, want 3 (strangers filtered)", len(snap.Entries))
	}

	// Community ranks are re-assigned among tracked subjects only.
	want := map[string]int{"bob": 1, "alice": 2, "carol": 3}
	for key, rank := range want {
		e, ok := snap.Entries[key]
		if !ok {
			t.Fatalf("missing %q", key)
		}
		if e.CommunityRank != rank {
			t.Errorf("%s community rank = %d, want %d", key, e.CommunityRank, rank)
		}
	}
	if snap.Entries["bob"].APIRank != 4 {
		t.Fatalf("bob api rank = %d, want 4", snap.Entries["bob"].APIRank)
	}
}

func TestBuildSnapshotDropsDuplicateSubjects(t *testing.T) {
	usernames := map[string]string{"alice": "alice"}
	listing := []raapi.BoardEntry{
		{Subject: "alice", Rank: 2, Score: "90"},
		{Subject: "Alice", Rank: 9, Score: "50"},
	}
	snap := buildSnapshot("b", listing, usernames, time.Now())
	if len(snap.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(snap.Entries))
	}
	if snap.Entries["alice"].APIRank != 2 {
		t.Fatalf("kept api rank = %d, want first occurrence 2", snap.Entries["alice"].APIRank)
	}
}

func TestBuildSnapshotTieBreaksByKey(t *testing.T) {
	usernames := map[string]string{"zed": "zed", "amy": "amy"}
	listing := []raapi.BoardEntry{
		{Subject: "zed", Rank: 5},
		{Subject: "amy", Rank: 5},
	}
	snap := buildSnapshot("b", listing, usernames, time.Now())
	if snap.Entries["amy"].CommunityRank != 1 || snap.Entries["zed"].CommunityRank != 2 {
		t.Fatalf("tie break wrong: amy=%d zed=%d",
			snap.Entries["amy"].CommunityRank, snap.Entries["zed"].CommunityRank)
	}
}

func TestSnapshotStoreReplace(t *testing.T) {
	s := NewSnapshotStore()
	if _, ok := s.Get("b"); ok {
		t.Fatal("empty store should miss")
	}
	s.Replace(&Snapshot{EntityID: "b", Entries: map[string]Entry{"a": {CommunityRank: 1}}})
	snap, ok := s.Get("b")
	if !ok || len(snap.Entries) != 1 {
		t.Fatal("snapshot not stored")
	}
	s.Replace(&Snapshot{EntityID: "b", Entries: map[string]Entry{}})
	snap, _ = s.Get("b")
	if len(snap.Entries) != 0 {
		t.Fatal("replacement must be wholesale")
	}
}

func TestLower(t *testing.T) {
	cases := map[string]string{
		"already": "already",
		"MiXeD":   "mixed",
		"ABC":     "abc",
		"":        "",
	}
	for in, want := range cases {
		if got := lower(in); got != want {
			t.Errorf("lower(%q) = %q, want %q", in, got, want)
		}
	}
}
