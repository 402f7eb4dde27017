package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store is the single durable home for agent state: core memory, the episode
// log, insights, strategy versions, rate counters, conversation flags and the
// task queue. One connection, WAL mode; callers serialize mutating cycles
// through the agent's cycle lock, not here.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock replaces the time source used for rows the caller does not
// timestamp explicitly. Tests inject a deterministic clock.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=NORMAL`,
		`PRAGMA temp_store=MEMORY`,
		`PRAGMA busy_timeout=5000`,
		`CREATE TABLE IF NOT EXISTS state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS core_memory (
			block TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			char_limit INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 5.0,
			metadata TEXT NOT NULL DEFAULT '',
			archived INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_created ON episodes(created_at)`,
		`CREATE TABLE IF NOT EXISTS insights (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			insight TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0.5,
			evidence_count INTEGER NOT NULL DEFAULT 1,
			source_episode_ids TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_versions (
			version INTEGER PRIMARY KEY,
			strategy TEXT NOT NULL,
			parent_version INTEGER NOT NULL DEFAULT 0,
			trigger_kind TEXT NOT NULL,
			snapshot TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rate_counters (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_post_at TIMESTAMP,
			last_comment_at TIMESTAMP,
			comments_today INTEGER NOT NULL DEFAULT 0,
			comments_day TEXT NOT NULL DEFAULT ''
		)`,
		`INSERT OR IGNORE INTO rate_counters (id) VALUES (1)`,
		`CREATE TABLE IF NOT EXISTS own_posts (
			post_id TEXT PRIMARY KEY,
			submolt TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS own_comments (
			comment_id TEXT PRIMARY KEY,
			post_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS seen_posts (
			post_id TEXT PRIMARY KEY,
			seen_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS seen_comments (
			comment_id TEXT PRIMARY KEY,
			post_id TEXT NOT NULL,
			replied INTEGER NOT NULL DEFAULT 0,
			seen_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dm_conversations (
			conversation_id TEXT PRIMARY KEY,
			other_agent TEXT NOT NULL DEFAULT '',
			last_seen_message_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'AUTO',
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_pending ON tasks(status, tier, created_at)`,
		`CREATE TABLE IF NOT EXISTS watched_agents (
			name TEXT PRIMARY KEY,
			added_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS digest_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			verdict TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(stmt string) string {
	const max = 48
	compact := make([]byte, 0, len(stmt))
	space := false
	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
		if c == '\n' || c == '\t' || c == ' ' {
			if !space && len(compact) > 0 {
				compact = append(compact, ' ')
			}
			space = true
			continue
		}
		space = false
		compact = append(compact, c)
	}
	if len(compact) > max {
		return string(compact[:max]) + "..."
	}
	return string(compact)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetState reads a value from the generic key/value table.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get state %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

func (s *Store) GetStateInt(ctx context.Context, key string) (int64, error) {
	raw, err := s.GetState(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("state %q is not an integer: %w", key, err)
	}
	return n, nil
}

func (s *Store) SetStateInt(ctx context.Context, key string, n int64) error {
	return s.SetState(ctx, key, strconv.FormatInt(n, 10))
}

// Counters returns the current shield counters.
func (s *Store) Counters(ctx context.Context) (RateCounters, error) {
	var (
		c           RateCounters
		lastPost    sql.NullTime
		lastComment sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_post_at, last_comment_at, comments_today, comments_day
		 FROM rate_counters WHERE id = 1`).
		Scan(&lastPost, &lastComment, &c.CommentsToday, &c.CommentsDay)
	if err != nil {
		return RateCounters{}, fmt.Errorf("read counters: %w", err)
	}
	if lastPost.Valid {
		c.LastPostAt = lastPost.Time
	}
	if lastComment.Valid {
		c.LastCommentAt = lastComment.Time
	}
	return c, nil
}

// CommitApproved applies an approved action's durable effects as one
// transaction: counter update, episode append, audit row. kind must be a
// shield-limited action kind (post, comment) or empty for unlimited actions.
func (s *Store) CommitApproved(ctx context.Context, kind string, ep Episode, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	switch kind {
	case "post":
		if _, err := tx.ExecContext(ctx,
			`UPDATE rate_counters SET last_post_at = ? WHERE id = 1`, now); err != nil {
			return 0, fmt.Errorf("bump post counter: %w", err)
		}
	case "comment", "dm_reply":
		day := now.UTC().Format("2006-01-02")
		if _, err := tx.ExecContext(ctx,
			`UPDATE rate_counters SET
				last_comment_at = ?,
				comments_today = CASE WHEN comments_day = ? THEN comments_today + 1 ELSE 1 END,
				comments_day = ?
			 WHERE id = 1`, now, day, day); err != nil {
			return 0, fmt.Errorf("bump comment counter: %w", err)
		}
	}

	id, err := insertEpisode(ctx, tx, ep, now)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (action, verdict, reason, created_at) VALUES (?, 'approved', '', ?)`,
		ep.Type, now); err != nil {
		return 0, fmt.Errorf("append audit row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit approved action: %w", err)
	}
	return id, nil
}

// RecordAudit logs a shield rejection or other auditable decision outside the
// approved-action path.
func (s *Store) RecordAudit(ctx context.Context, action, verdict, reason string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (action, verdict, reason, created_at) VALUES (?, ?, ?, ?)`,
		action, verdict, reason, now)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM episodes),
		(SELECT COUNT(*) FROM insights),
		(SELECT COALESCE(MAX(version), 0) FROM strategy_versions),
		(SELECT COUNT(*) FROM own_posts),
		(SELECT COUNT(*) FROM own_comments),
		(SELECT COUNT(*) FROM tasks WHERE status = 'pending'),
		(SELECT comments_today FROM rate_counters WHERE id = 1)`)
	if err := row.Scan(&st.Episodes, &st.Insights, &st.StrategyV, &st.Posts, &st.Comments, &st.PendingTasks, &st.CommentsToday); err != nil {
		return Stats{}, fmt.Errorf("read stats: %w", err)
	}

	paused, err := s.GetState(ctx, "paused")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Stats{}, err
	}
	st.Paused = paused == "1"
	return st, nil
}
