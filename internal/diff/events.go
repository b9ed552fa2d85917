// Package diff compares freshly fetched standings against the last known
// baseline per tracked entity and turns meaningful changes into transition
// events. It is the only writer of rank snapshots and award records.
package diff

import (
	"time"

	"github.com/google/uuid"

	"retrotrack/internal/awards"
)

// Kind names a transition event type. These values are also the routing keys
// in the dispatch config.
type Kind string

const (
	KindEnteredTopK       Kind = "entered_top_k"
	KindRankImproved      Kind = "rank_improved"
	KindRankDropped       Kind = "rank_dropped"
	KindFellOutTopK       Kind = "fell_out_top_k"
	KindTierIncreased     Kind = "tier_increased"
	KindAchievementEarned Kind = "achievement_earned"
)

// Event is an ephemeral transition record. It is consumed exactly once by the
// dispatcher and never persisted.
type Event struct {
	ID         string
	Kind       Kind
	EntityID   string // board id for rank events, challenge id for award events
	SubjectKey string

	PrevRank int // 0 when not applicable
	NewRank  int
	Score    string

	Tier          awards.Tier
	AchievedCount int
	AchievementID string

	ObservedAt time.Time
}

func newEvent(kind Kind, entityID, subjectKey string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityID:   entityID,
		SubjectKey: subjectKey,
		ObservedAt: at,
	}
}
