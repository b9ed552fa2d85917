package storage

import (
	"context"
	"errors"
	"time"

	"retrotrack/internal/awards"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process store (tests, dry runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Board is a tracked leaderboard. Volatile boards get the re-confirmation
// fetch before their listing is trusted.
type Board struct {
	ID       string
	Name     string
	Volatile bool
}

// Challenge is one tracked (game, month) pair subjects earn awards in.
type Challenge struct {
	ID           string
	GameID       string
	MonthStart   time.Time
	RequiredIDs  []string
	WinThreshold int
	Shadow       bool
}

// Subject is one tracked individual.
type Subject struct {
	Key      string // stable internal key
	Username string // external API username
}

// AwardState is the persisted half of an award record for one
// (subject, period, shadow) triple.
type AwardState struct {
	Tier          awards.Tier
	AchievedCount int
}

// Store is the persistence API consumed by the diff engine and dispatcher.
type Store interface {
	TrackedBoards(ctx context.Context) ([]Board, error)
	Challenges(ctx context.Context) ([]Challenge, error)
	Roster(ctx context.Context) ([]Subject, error)

	// Award returns the recorded state for the triple, reporting ok=false
	// when nothing has been recorded yet.
	Award(ctx context.Context, subjectKey, periodKey string, shadow bool) (st AwardState, ok bool, err error)
	// UpsertAward records st, but never lowers an already-recorded tier.
	UpsertAward(ctx context.Context, subjectKey, periodKey string, shadow bool, st AwardState) error

	// HasAnnounced reports whether the achievement id was already notified
	// for the subject.
	HasAnnounced(ctx context.Context, subjectKey, achievementID string) (bool, error)
	// RecordAnnounced logs the id and evicts the subject's oldest entries
	// beyond cap.
	RecordAnnounced(ctx context.Context, subjectKey, achievementID string, cap int) error

	Close() error
}
