package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *Store) EnqueueTask(ctx context.Context, t Task) error {
	now := s.now().UTC()
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, tier, kind, payload, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Tier, t.Kind, t.Payload, t.Status, t.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// ClaimNextTask selects the oldest pending owner-tier task, falling back to
// the oldest autonomous one, and marks it running in the same transaction.
// Returns ErrNotFound when the queue is empty.
func (s *Store) ClaimNextTask(ctx context.Context) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	var t Task
	err = tx.QueryRowContext(ctx,
		`SELECT id, tier, kind, payload, status, result, error, created_at, updated_at
		 FROM tasks WHERE status = 'pending'
		 ORDER BY CASE tier WHEN 'owner' THEN 0 ELSE 1 END, created_at ASC
		 LIMIT 1`).
		Scan(&t.ID, &t.Tier, &t.Kind, &t.Payload, &t.Status, &t.Result, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("select next task: %w", err)
	}

	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'running', updated_at = ? WHERE id = ?`, now, t.ID); err != nil {
		return Task{}, fmt.Errorf("mark task running: %w", err)
	}

	t.Status = TaskRunning
	t.UpdatedAt = now
	return t, tx.Commit()
}

func (s *Store) CompleteTask(ctx context.Context, id, result string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'done', result = ?, updated_at = ? WHERE id = ?`,
		result, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	return nil
}

func (s *Store) FailTask(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'failed', error = ?, updated_at = ? WHERE id = ?`,
		reason, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("fail task %s: %w", id, err)
	}
	return nil
}

func (s *Store) Task(ctx context.Context, id string) (Task, error) {
	var t Task
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tier, kind, payload, status, result, error, created_at, updated_at
		 FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.Tier, &t.Kind, &t.Payload, &t.Status, &t.Result, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}
