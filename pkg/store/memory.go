package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InitCoreBlocks inserts the given blocks only where absent. Existing block
// content survives restarts and upgrades untouched.
func (s *Store) InitCoreBlocks(ctx context.Context, blocks []CoreBlock, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin core init tx: %w", err)
	}
	defer tx.Rollback()

	for _, b := range blocks {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO core_memory (block, content, char_limit, updated_at)
			 VALUES (?, ?, ?, ?)`, b.Name, b.Content, b.CharLimit, now); err != nil {
			return fmt.Errorf("init core block %q: %w", b.Name, err)
		}
	}
	return tx.Commit()
}

func (s *Store) CoreBlocks(ctx context.Context) ([]CoreBlock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT block, content, char_limit, updated_at FROM core_memory ORDER BY block`)
	if err != nil {
		return nil, fmt.Errorf("list core blocks: %w", err)
	}
	defer rows.Close()

	var blocks []CoreBlock
	for rows.Next() {
		var b CoreBlock
		if err := rows.Scan(&b.Name, &b.Content, &b.CharLimit, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan core block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (s *Store) CoreBlock(ctx context.Context, name string) (CoreBlock, error) {
	var b CoreBlock
	err := s.db.QueryRowContext(ctx,
		`SELECT block, content, char_limit, updated_at FROM core_memory WHERE block = ?`, name).
		Scan(&b.Name, &b.Content, &b.CharLimit, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CoreBlock{}, ErrNotFound
	}
	if err != nil {
		return CoreBlock{}, fmt.Errorf("get core block %q: %w", name, err)
	}
	return b, nil
}

func (s *Store) UpdateCoreBlock(ctx context.Context, name, content string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE core_memory SET content = ?, updated_at = ? WHERE block = ?`, content, now, name)
	if err != nil {
		return fmt.Errorf("update core block %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func insertEpisode(ctx context.Context, tx *sql.Tx, ep Episode, now time.Time) (int64, error) {
	if ep.Importance == 0 {
		ep.Importance = 5.0
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = now
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO episodes (type, content, importance, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ep.Type, ep.Content, ep.Importance, ep.Metadata, ep.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append episode: %w", err)
	}
	return res.LastInsertId()
}

// AppendEpisode writes one immutable episode and returns its id.
func (s *Store) AppendEpisode(ctx context.Context, ep Episode) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin episode tx: %w", err)
	}
	defer tx.Rollback()

	id, err := insertEpisode(ctx, tx, ep, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func scanEpisodes(rows *sql.Rows) ([]Episode, error) {
	defer rows.Close()
	var eps []Episode
	for rows.Next() {
		var (
			ep       Episode
			archived int
		)
		if err := rows.Scan(&ep.ID, &ep.Type, &ep.Content, &ep.Importance, &ep.Metadata, &archived, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

// EpisodesAfter returns live episodes with id greater than afterID, ascending.
func (s *Store) EpisodesAfter(ctx context.Context, afterID int64, limit int) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, content, importance, metadata, archived, created_at
		 FROM episodes WHERE id > ? AND archived = 0 ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("episodes after %d: %w", afterID, err)
	}
	return scanEpisodes(rows)
}

// RecentEpisodes returns the newest n live episodes in chronological order.
func (s *Store) RecentEpisodes(ctx context.Context, n int) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, content, importance, metadata, archived, created_at FROM
			(SELECT * FROM episodes WHERE archived = 0 ORDER BY id DESC LIMIT ?)
		 ORDER BY id ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("recent episodes: %w", err)
	}
	return scanEpisodes(rows)
}

// CompressibleEpisodes returns live episodes older than cutoff with
// importance below the threshold, oldest first.
func (s *Store) CompressibleEpisodes(ctx context.Context, cutoff time.Time, maxImportance float64, limit int) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, content, importance, metadata, archived, created_at
		 FROM episodes
		 WHERE archived = 0 AND created_at < ? AND importance < ? AND type != ?
		 ORDER BY id ASC LIMIT ?`, cutoff, maxImportance, EpisodeCompressed, limit)
	if err != nil {
		return nil, fmt.Errorf("compressible episodes: %w", err)
	}
	return scanEpisodes(rows)
}

// ArchiveEpisodes marks compressed source episodes as archived and writes
// their replacement summary in the same transaction. The source rows stay in
// the log for audit; archived episodes are excluded from recall and
// consolidation reads.
func (s *Store) ArchiveEpisodes(ctx context.Context, ids []int64, summary Episode) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE episodes SET archived = 1 WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("archive episode %d: %w", id, err)
		}
	}

	summaryID, err := insertEpisode(ctx, tx, summary, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return summaryID, tx.Commit()
}

func (s *Store) AppendInsight(ctx context.Context, in Insight) (int64, error) {
	now := s.now().UTC()
	if in.Confidence == 0 {
		in.Confidence = 0.5
	}
	if in.EvidenceCount == 0 {
		in.EvidenceCount = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO insights (insight, category, confidence, evidence_count, source_episode_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.Insight, in.Category, in.Confidence, in.EvidenceCount, in.SourceEpisodeIDs, now, now)
	if err != nil {
		return 0, fmt.Errorf("append insight: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) Insights(ctx context.Context, limit int) ([]Insight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, insight, category, confidence, evidence_count, source_episode_ids, created_at, updated_at
		 FROM insights ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		var in Insight
		if err := rows.Scan(&in.ID, &in.Insight, &in.Category, &in.Confidence, &in.EvidenceCount,
			&in.SourceEpisodeIDs, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// AdjustInsightConfidence shifts an insight's confidence by delta, clamped to
// [0, 1]. Used by contradiction resolution; rows are never deleted.
func (s *Store) AdjustInsightConfidence(ctx context.Context, id int64, delta float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE insights SET
			confidence = MAX(0.0, MIN(1.0, confidence + ?)),
			updated_at = ?
		 WHERE id = ?`, delta, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("adjust insight %d: %w", id, err)
	}
	return nil
}

// AppendStrategyVersion assigns the next monotonic version inside one
// transaction and returns it.
func (s *Store) AppendStrategyVersion(ctx context.Context, strategy, trigger, snapshot string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin strategy tx: %w", err)
	}
	defer tx.Rollback()

	var parent int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM strategy_versions`).Scan(&parent); err != nil {
		return 0, fmt.Errorf("read max strategy version: %w", err)
	}

	version := parent + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO strategy_versions (version, strategy, parent_version, trigger_kind, snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		version, strategy, parent, trigger, snapshot, s.now().UTC()); err != nil {
		return 0, fmt.Errorf("append strategy version: %w", err)
	}
	return version, tx.Commit()
}

// CurrentStrategy returns the highest strategy version, or ErrNotFound before
// the first reflection.
func (s *Store) CurrentStrategy(ctx context.Context) (StrategyVersion, error) {
	var sv StrategyVersion
	err := s.db.QueryRowContext(ctx,
		`SELECT version, strategy, parent_version, trigger_kind, snapshot, created_at
		 FROM strategy_versions ORDER BY version DESC LIMIT 1`).
		Scan(&sv.Version, &sv.Strategy, &sv.ParentVersion, &sv.Trigger, &sv.Snapshot, &sv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StrategyVersion{}, ErrNotFound
	}
	if err != nil {
		return StrategyVersion{}, fmt.Errorf("current strategy: %w", err)
	}
	return sv, nil
}

func (s *Store) StrategyVersions(ctx context.Context) ([]StrategyVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, strategy, parent_version, trigger_kind, snapshot, created_at
		 FROM strategy_versions ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("list strategy versions: %w", err)
	}
	defer rows.Close()

	var out []StrategyVersion
	for rows.Next() {
		var sv StrategyVersion
		if err := rows.Scan(&sv.Version, &sv.Strategy, &sv.ParentVersion, &sv.Trigger, &sv.Snapshot, &sv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy version: %w", err)
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}
