package diff

import (
	"sort"
	"sync"
	"time"

	"retrotrack/internal/raapi"
)

// Entry is one tracked subject's position in a snapshot.
type Entry struct {
	CommunityRank int // rank among tracked subjects only, 1-based
	APIRank       int // rank as reported upstream
	Score         string
}

// Snapshot is a full, atomically-replaced view of an entity's tracked
// subjects. It is never patched in place: the engine builds a complete new
// snapshot each cycle and swaps it in wholesale.
type Snapshot struct {
	EntityID string
	AsOf     time.Time
	Entries  map[string]Entry // subject key -> entry
}

// SnapshotStore holds the current baseline per entity for the process
// lifetime. Snapshots are not persisted; after a restart the first cycle
// rebuilds baselines without emitting events.
type SnapshotStore struct {
	mu sync.Mutex
	m  map[string]*Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{m: map[string]*Snapshot{}}
}

func (s *SnapshotStore) Get(entityID string) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.m[entityID]
	return snap, ok
}

func (s *SnapshotStore) Replace(snap *Snapshot) {
	s.mu.Lock()
	s.m[snap.EntityID] = snap
	s.mu.Unlock()
}

// buildSnapshot filters a raw listing down to tracked subjects and re-ranks
// them among themselves. Unknown subjects are discarded here, before any
// comparison, so upstream noise cannot generate events.
//
// usernames maps lower-cased external username -> subject key.
func buildSnapshot(entityID string, listing []raapi.BoardEntry, usernames map[string]string, asOf time.Time) *Snapshot {
	type ranked struct {
		key     string
		apiRank int
		score   string
	}

	tracked := make([]ranked, 0, len(listing))
	seen := map[string]bool{}
	for _, e := range listing {
		key, ok := usernames[lower(e.Subject)]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		tracked = append(tracked, ranked{key: key, apiRank: e.Rank, score: e.Score})
	}

	sort.Slice(tracked, func(i, j int) bool {
		if tracked[i].apiRank != tracked[j].apiRank {
			return tracked[i].apiRank < tracked[j].apiRank
		}
		return tracked[i].key < tracked[j].key
	})

	entries := make(map[string]Entry, len(tracked))
	for i, r := range tracked {
		entries[r.key] = Entry{CommunityRank: i + 1, APIRank: r.apiRank, Score: r.score}
	}
	return &Snapshot{EntityID: entityID, AsOf: asOf, Entries: entries}
}

func lower(s string) string {
	// ASCII usernames upstream; strings.ToLower would also do but this keeps
	// the hot path allocation-free for already-lowercase names.
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			return lowerSlow(s)
		}
	}
	return s
}

func lowerSlow(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
