package raapi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The upstream API is not consistent about field names across endpoints and
// versions. All decoding goes through these pickers so the alias lists live in
// one place and business logic only ever sees the normalized structs.

var (
	subjectAliases = []string{"User", "user", "Username", "username"}
	rankAliases    = []string{"Rank", "rank", "ApiRank", "api_rank"}
	scoreAliases   = []string{"FormattedScore", "formatted_score", "Score", "score"}
	idAliases      = []string{"ID", "id", "AchievementID", "achievement_id"}
	earnedAliases  = []string{"DateEarned", "dateEarned", "date_earned", "Earned"}
	totalAliases   = []string{"NumAchievements", "num_achievements", "TotalAchievements"}
)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

func pickString(m map[string]any, aliases []string) (string, bool) {
	for _, k := range aliases {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				return s, true
			}
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), true
		}
	}
	return "", false
}

func pickInt(m map[string]any, aliases []string) (int, bool) {
	for _, k := range aliases {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case float64:
			return int(x), true
		case int:
			return x, true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func pickTime(m map[string]any, aliases []string) (time.Time, bool) {
	s, ok := pickString(m, aliases)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// decodeBoardEntry normalizes one listing row. Rows without a subject or rank
// are unusable and reported as not-ok; the caller skips them.
func decodeBoardEntry(m map[string]any) (BoardEntry, bool) {
	subject, ok := pickString(m, subjectAliases)
	if !ok {
		return BoardEntry{}, false
	}
	rank, ok := pickInt(m, rankAliases)
	if !ok || rank <= 0 {
		return BoardEntry{}, false
	}
	score, _ := pickString(m, scoreAliases)
	return BoardEntry{Subject: subject, Rank: rank, Score: score}, true
}

// listingRows digs the row array out of whatever envelope the endpoint used:
// a bare array, or an object keyed "Results"/"Entries"/"entries".
func listingRows(v any) ([]map[string]any, error) {
	var raw []any
	switch x := v.(type) {
	case []any:
		raw = x
	case map[string]any:
		for _, k := range []string{"Results", "Entries", "entries", "results"} {
			if arr, ok := x[k].([]any); ok {
				raw = arr
				break
			}
		}
		if raw == nil {
			return nil, fmt.Errorf("listing envelope has no rows (keys: %d)", len(x))
		}
	default:
		return nil, fmt.Errorf("unexpected listing payload %T", v)
	}

	rows := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows, nil
}

// decodeProgress normalizes a game-progress payload. Achievements may arrive
// as a map keyed by id or as an array of objects carrying their own id.
func decodeProgress(v any) (Progress, error) {
	root, ok := v.(map[string]any)
	if !ok {
		return Progress{}, fmt.Errorf("unexpected progress payload %T", v)
	}

	p := Progress{Earned: map[string]time.Time{}}
	if n, ok := pickInt(root, totalAliases); ok {
		p.TotalAchievements = n
	}

	var achievements any
	for _, k := range []string{"Achievements", "achievements"} {
		if a, ok := root[k]; ok {
			achievements = a
			break
		}
	}

	switch a := achievements.(type) {
	case map[string]any:
		for id, item := range a {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if earned, ok := pickTime(m, earnedAliases); ok {
				p.Earned[id] = earned
			}
		}
	case []any:
		for _, item := range a {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, ok := pickString(m, idAliases)
			if !ok {
				continue
			}
			if earned, ok := pickTime(m, earnedAliases); ok {
				p.Earned[id] = earned
			}
		}
	case nil:
		// A subject with no progress record at all is a valid empty result.
	default:
		return Progress{}, fmt.Errorf("unexpected achievements payload %T", achievements)
	}

	if p.TotalAchievements == 0 {
		if a, ok := achievements.(map[string]any); ok {
			p.TotalAchievements = len(a)
		}
	}
	return p, nil
}
