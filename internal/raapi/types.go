package raapi

import "time"

// BoardEntry is one normalized row of a ranked listing.
type BoardEntry struct {
	Subject string // external username as reported upstream
	Rank    int
	Score   string // formatted score text, opaque to the tracker
}

// Progress is a subject's normalized completion state for one game.
type Progress struct {
	// Earned maps achievement id -> earned timestamp (UTC).
	Earned map[string]time.Time
	// TotalAchievements is the size of the game's full achievement set,
	// 0 when the upstream omitted it.
	TotalAchievements int
}
