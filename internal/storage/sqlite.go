package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"retrotrack/internal/awards"
	logx "retrotrack/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) TrackedBoards(ctx context.Context) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, volatile FROM boards ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Board
	for rows.Next() {
		var b Board
		var volatile int
		if err := rows.Scan(&b.ID, &b.Name, &volatile); err != nil {
			return nil, err
		}
		b.Volatile = volatile != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Challenges(ctx context.Context) ([]Challenge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, game_id, month_start, required_ids, win_threshold, shadow FROM challenges ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Challenge
	for rows.Next() {
		var (
			c        Challenge
			start    string
			required string
			shadow   int
		)
		if err := rows.Scan(&c.ID, &c.GameID, &start, &required, &c.WinThreshold, &shadow); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			s.log.Warn("challenge has malformed month_start, skipping",
				logx.String("challenge", c.ID), logx.String("month_start", start))
			continue
		}
		c.MonthStart = t.UTC()
		if err := json.Unmarshal([]byte(required), &c.RequiredIDs); err != nil {
			s.log.Warn("challenge has malformed required_ids, skipping",
				logx.String("challenge", c.ID), logx.Err(err))
			continue
		}
		c.Shadow = shadow != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Roster(ctx context.Context) ([]Subject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, username FROM subjects ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.Key, &sub.Username); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Award(ctx context.Context, subjectKey, periodKey string, shadow bool) (AwardState, bool, error) {
	var (
		tier  int
		count int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tier, achieved_count FROM awards WHERE subject_key = ? AND period_key = ? AND shadow = ?`,
		subjectKey, periodKey, boolInt(shadow)).Scan(&tier, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return AwardState{}, false, nil
	}
	if err != nil {
		return AwardState{}, false, err
	}
	return AwardState{Tier: awards.Tier(tier), AchievedCount: count}, true, nil
}

func (s *sqliteStore) UpsertAward(ctx context.Context, subjectKey, periodKey string, shadow bool, st AwardState) error {
	// The WHERE clause keeps tiers monotone even if two processes ever race.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO awards(subject_key, period_key, shadow, tier, achieved_count, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(subject_key, period_key, shadow) DO UPDATE
		   SET tier = excluded.tier, achieved_count = excluded.achieved_count, updated_at = excluded.updated_at
		 WHERE excluded.tier > awards.tier`,
		subjectKey, periodKey, boolInt(shadow), int(st.Tier), st.AchievedCount,
		time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) HasAnnounced(ctx context.Context, subjectKey, achievementID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM announced WHERE subject_key = ? AND achievement_id = ?`,
		subjectKey, achievementID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) RecordAnnounced(ctx context.Context, subjectKey, achievementID string, cap int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO announced(subject_key, achievement_id, announced_at) VALUES(?,?,?)
		 ON CONFLICT(subject_key, achievement_id) DO NOTHING`,
		subjectKey, achievementID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	if cap <= 0 {
		return nil
	}
	// Evict this subject's oldest entries beyond cap. Pagination overlap on
	// the upstream API makes re-seeing old ids routine, hence the bound.
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM announced
		 WHERE subject_key = ?
		   AND seq NOT IN (
		     SELECT seq FROM announced WHERE subject_key = ? ORDER BY seq DESC LIMIT ?
		   )`,
		subjectKey, subjectKey, cap)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
