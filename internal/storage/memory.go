package storage

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests and dry runs. Announced ids keep
// insertion order so eviction matches the sqlite behavior.
type Memory struct {
	mu sync.Mutex

	boards     []Board
	challenges []Challenge
	roster     []Subject

	awards    map[awardKey]AwardState
	announced map[string][]string // subject -> ids, oldest first
}

type awardKey struct {
	subject string
	period  string
	shadow  bool
}

func NewMemory() *Memory {
	return &Memory{
		awards:    map[awardKey]AwardState{},
		announced: map[string][]string{},
	}
}

// Seed helpers for wiring fixtures.

func (m *Memory) SeedBoards(boards ...Board) {
	m.mu.Lock()
	m.boards = append(m.boards, boards...)
	m.mu.Unlock()
}

func (m *Memory) SeedChallenges(challenges ...Challenge) {
	m.mu.Lock()
	m.challenges = append(m.challenges, challenges...)
	m.mu.Unlock()
}

func (m *Memory) SeedRoster(subjects ...Subject) {
	m.mu.Lock()
	m.roster = append(m.roster, subjects...)
	m.mu.Unlock()
}

func (m *Memory) TrackedBoards(ctx context.Context) ([]Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Board(nil), m.boards...), nil
}

func (m *Memory) Challenges(ctx context.Context) ([]Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Challenge(nil), m.challenges...), nil
}

func (m *Memory) Roster(ctx context.Context) ([]Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Subject(nil), m.roster...), nil
}

func (m *Memory) Award(ctx context.Context, subjectKey, periodKey string, shadow bool) (AwardState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.awards[awardKey{subjectKey, periodKey, shadow}]
	return st, ok, nil
}

func (m *Memory) UpsertAward(ctx context.Context, subjectKey, periodKey string, shadow bool, st AwardState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := awardKey{subjectKey, periodKey, shadow}
	if cur, ok := m.awards[k]; ok && st.Tier <= cur.Tier {
		return nil
	}
	m.awards[k] = st
	return nil
}

func (m *Memory) HasAnnounced(ctx context.Context, subjectKey, achievementID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.announced[subjectKey] {
		if id == achievementID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) RecordAnnounced(ctx context.Context, subjectKey, achievementID string, cap int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.announced[subjectKey]
	for _, id := range ids {
		if id == achievementID {
			return nil
		}
	}
	ids = append(ids, achievementID)
	if cap > 0 && len(ids) > cap {
		ids = append([]string(nil), ids[len(ids)-cap:]...)
	}
	m.announced[subjectKey] = ids
	return nil
}

// AnnouncedIDs returns the subject's current log, oldest first (test hook).
func (m *Memory) AnnouncedIDs(subjectKey string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.announced[subjectKey]...)
}

func (m *Memory) Close() error { return nil }
