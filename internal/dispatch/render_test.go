package dispatch

import (
	"strings"
	"testing"

	"retrotrack/internal/awards"
	"retrotrack/internal/diff"
)

func TestRenderTitles(t *testing.T) {
	cases := []struct {
		name string
		ev   diff.Event
		want string
	}{
		{
			"entered",
			diff.Event{Kind: diff.KindEnteredTopK, SubjectKey: "alice", NewRank: 2},
			"alice entered",
		},
		{
			"improved",
			diff.Event{Kind: diff.KindRankImproved, SubjectKey: "bob", PrevRank: 5, NewRank: 3},
			"bob climbed",
		},
		{
			"fell out",
			diff.Event{Kind: diff.KindFellOutTopK, SubjectKey: "carol", PrevRank: 3},
			"carol fell out",
		},
		{
			"tier",
			diff.Event{Kind: diff.KindTierIncreased, SubjectKey: "dave", Tier: awards.TierMastery},
			"MASTERY",
		},
		{
			"achievement",
			diff.Event{Kind: diff.KindAchievementEarned, SubjectKey: "erin", AchievementID: "a1"},
			"erin earned",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := render(tc.ev)
			if !strings.Contains(p.Title, tc.want) {
				t.Fatalf("title %q does not contain %q", p.Title, tc.want)
			}
			if p.Color == 0 {
				t.Fatal("color must be set")
			}
		})
	}
}

func TestRenderFields(t *testing.T) {
	p := render(diff.Event{
		Kind: diff.KindRankImproved, EntityID: "b1", SubjectKey: "alice",
		PrevRank: 4, NewRank: 2, Score: "1:23",
	})
	got := map[string]string{}
	for _, f := range p.Fields {
		got[f.Name] = f.Value
	}
	for name, want := range map[string]string{
		"subject": "alice", "entity": "b1",
		"prev_rank": "4", "new_rank": "2", "score": "1:23",
	} {
		if got[name] != want {
			t.Errorf("field %s = %q, want %q", name, got[name], want)
		}
	}
}
