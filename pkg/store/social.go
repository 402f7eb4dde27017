package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) RecordOwnPost(ctx context.Context, p OwnPost) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO own_posts (post_id, submolt, title, created_at) VALUES (?, ?, ?, ?)`,
		p.PostID, p.Submolt, p.Title, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("record own post: %w", err)
	}
	return nil
}

// OwnPostsSince returns the agent's posts created after cutoff, newest first,
// capped at limit.
func (s *Store) OwnPostsSince(ctx context.Context, cutoff time.Time, limit int) ([]OwnPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, submolt, title, created_at FROM own_posts
		 WHERE created_at > ? ORDER BY created_at DESC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("own posts since: %w", err)
	}
	defer rows.Close()

	var posts []OwnPost
	for rows.Next() {
		var p OwnPost
		if err := rows.Scan(&p.PostID, &p.Submolt, &p.Title, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan own post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *Store) RecordOwnComment(ctx context.Context, c OwnComment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO own_comments (comment_id, post_id, created_at) VALUES (?, ?, ?)`,
		c.CommentID, c.PostID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("record own comment: %w", err)
	}
	return nil
}

func (s *Store) IsOwnComment(ctx context.Context, commentID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM own_comments WHERE comment_id = ?`, commentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check own comment: %w", err)
	}
	return true, nil
}

func (s *Store) MarkPostsSeen(ctx context.Context, postIDs []string, now time.Time) error {
	if len(postIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seen tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range postIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO seen_posts (post_id, seen_at) VALUES (?, ?)`, id, now); err != nil {
			return fmt.Errorf("mark post seen: %w", err)
		}
	}
	return tx.Commit()
}

// FilterUnseenPosts returns the subset of postIDs not yet marked seen,
// preserving input order.
func (s *Store) FilterUnseenPosts(ctx context.Context, postIDs []string) ([]string, error) {
	var unseen []string
	for _, id := range postIDs {
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM seen_posts WHERE post_id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			unseen = append(unseen, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("check seen post: %w", err)
		}
	}
	return unseen, nil
}

// MarkCommentSeen upserts a comment into the seen set. replied=true is
// sticky; a later non-replied sighting never clears it.
func (s *Store) MarkCommentSeen(ctx context.Context, commentID, postID string, replied bool, now time.Time) error {
	r := 0
	if replied {
		r = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_comments (comment_id, post_id, replied, seen_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(comment_id) DO UPDATE SET replied = MAX(replied, excluded.replied)`,
		commentID, postID, r, now)
	if err != nil {
		return fmt.Errorf("mark comment seen: %w", err)
	}
	return nil
}

func (s *Store) CommentReplied(ctx context.Context, commentID string) (bool, error) {
	var replied int
	err := s.db.QueryRowContext(ctx,
		`SELECT replied FROM seen_comments WHERE comment_id = ?`, commentID).Scan(&replied)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check comment replied: %w", err)
	}
	return replied == 1, nil
}

// UpsertDMConversation creates the conversation row if new. Existing state is
// preserved; only other_agent is refreshed.
func (s *Store) UpsertDMConversation(ctx context.Context, conversationID, otherAgent string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dm_conversations (conversation_id, other_agent, state, updated_at)
		 VALUES (?, ?, 'AUTO', ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET other_agent = excluded.other_agent`,
		conversationID, otherAgent, now)
	if err != nil {
		return fmt.Errorf("upsert dm conversation: %w", err)
	}
	return nil
}

func (s *Store) DMConversation(ctx context.Context, conversationID string) (DMConversation, error) {
	var c DMConversation
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, other_agent, last_seen_message_id, state, updated_at
		 FROM dm_conversations WHERE conversation_id = ?`, conversationID).
		Scan(&c.ConversationID, &c.OtherAgent, &c.LastSeenMessageID, &c.State, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DMConversation{}, ErrNotFound
	}
	if err != nil {
		return DMConversation{}, fmt.Errorf("get dm conversation: %w", err)
	}
	return c, nil
}

// SetDMState transitions a conversation's escalation state. The transition is
// recorded only when it changes the state, so repeated escalations collapse
// into one.
func (s *Store) SetDMState(ctx context.Context, conversationID, state string, now time.Time) (changed bool, err error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dm_conversations SET state = ?, updated_at = ?
		 WHERE conversation_id = ? AND state != ?`, state, now, conversationID, state)
	if err != nil {
		return false, fmt.Errorf("set dm state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SetDMLastSeen(ctx context.Context, conversationID, messageID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE dm_conversations SET last_seen_message_id = ?, updated_at = ?
		 WHERE conversation_id = ?`, messageID, now, conversationID)
	if err != nil {
		return fmt.Errorf("set dm last seen: %w", err)
	}
	return nil
}

func (s *Store) AddWatchedAgent(ctx context.Context, name string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO watched_agents (name, added_at) VALUES (?, ?)`, name, now)
	if err != nil {
		return fmt.Errorf("add watched agent: %w", err)
	}
	return nil
}

func (s *Store) RemoveWatchedAgent(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM watched_agents WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("remove watched agent: %w", err)
	}
	return nil
}

func (s *Store) WatchedAgents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM watched_agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list watched agents: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan watched agent: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) EnqueueDigestItem(ctx context.Context, content string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO digest_items (content, created_at) VALUES (?, ?)`, content, now)
	if err != nil {
		return fmt.Errorf("enqueue digest item: %w", err)
	}
	return nil
}

// DrainDigestItems returns all queued items and clears the queue atomically.
func (s *Store) DrainDigestItems(ctx context.Context) ([]DigestItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin digest tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, content, created_at FROM digest_items ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list digest items: %w", err)
	}

	var items []DigestItem
	for rows.Next() {
		var it DigestItem
		if err := rows.Scan(&it.ID, &it.Content, &it.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan digest item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM digest_items`); err != nil {
		return nil, fmt.Errorf("clear digest items: %w", err)
	}
	return items, tx.Commit()
}

func (s *Store) RecordEvent(ctx context.Context, kind, detail string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_events (kind, detail, created_at) VALUES (?, ?, ?)`, kind, detail, now)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func (s *Store) RecentEvents(ctx context.Context, limit int) ([]AgentEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, detail, created_at FROM agent_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []AgentEvent
	for rows.Next() {
		var ev AgentEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
