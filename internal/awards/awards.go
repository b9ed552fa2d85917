// Package awards classifies a subject's achievement completion into ordered
// award tiers. Everything here is pure: no clocks, no I/O, no upstream types.
package awards

import "time"

// Tier is an ordered award level. Higher is strictly better; persisted tiers
// never regress within a period.
type Tier int

const (
	TierNone Tier = iota
	TierParticipation
	TierBeaten
	TierMastery
)

func (t Tier) String() string {
	switch t {
	case TierMastery:
		return "mastery"
	case TierBeaten:
		return "beaten"
	case TierParticipation:
		return "participation"
	default:
		return "none"
	}
}

// Cap returns t bounded above by max. Shadow challenges cap at TierBeaten;
// the caller applies that so classification itself stays context-free.
func (t Tier) Cap(max Tier) Tier {
	if t > max {
		return max
	}
	return t
}

// Classify maps an earned-in-window achievement set to a tier.
//
// Priority order:
//  1. earned covers the full (non-empty) required set -> mastery
//  2. earned count reaches the win threshold           -> beaten
//  3. anything earned at all                           -> participation
//  4. otherwise                                        -> none
//
// The threshold may be smaller than the required set: a challenge can be
// "beaten" by a designated subset without full completion.
func Classify(required map[string]struct{}, earned map[string]struct{}, threshold int) Tier {
	if len(required) > 0 && covers(earned, required) {
		return TierMastery
	}
	if threshold > 0 && len(earned) >= threshold {
		return TierBeaten
	}
	if len(earned) > 0 {
		return TierParticipation
	}
	return TierNone
}

func covers(earned, required map[string]struct{}) bool {
	for id := range required {
		if _, ok := earned[id]; !ok {
			return false
		}
	}
	return true
}

// InWindow reports whether an earned timestamp counts toward the challenge
// month starting at monthStart. The window is [monthStart, nextMonthStart),
// widened by one calendar day before monthStart to absorb timezone and clock
// skew between this process and the upstream service.
func InWindow(earnedAt, monthStart time.Time) bool {
	if earnedAt.IsZero() {
		return false
	}
	graceStart := monthStart.AddDate(0, 0, -1)
	end := monthStart.AddDate(0, 1, 0)
	return !earnedAt.Before(graceStart) && earnedAt.Before(end)
}

// EarnedInWindow filters an id -> earned-time map down to the set of ids that
// count for the given challenge month.
func EarnedInWindow(earned map[string]time.Time, monthStart time.Time) map[string]struct{} {
	out := make(map[string]struct{}, len(earned))
	for id, at := range earned {
		if InWindow(at, monthStart) {
			out[id] = struct{}{}
		}
	}
	return out
}

// PeriodKey names the challenge month for persistence, e.g. "2026-09".
func PeriodKey(monthStart time.Time) string {
	return monthStart.Format("2006-01")
}

// RequiredSet converts a configured id list into the set shape Classify wants.
func RequiredSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}
