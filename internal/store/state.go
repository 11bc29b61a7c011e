package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SetState upserts a single key/value pair scoped to a task, used by agent
// executors to checkpoint progress across retries.
func (s *sqlStore) SetState(ctx context.Context, taskID, key, value string) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO state (task_id, key, value) VALUES (?,?,?)
		ON CONFLICT(task_id, key) DO UPDATE SET value = excluded.value`,
		taskID, key, value)
	if err != nil {
		return fmt.Errorf("set state %s/%s: %w", taskID, key, err)
	}
	return nil
}

func (s *sqlStore) GetState(ctx context.Context, taskID, key string) (string, bool, error) {
	var value string
	err := s.reader.QueryRowContext(ctx, `SELECT value FROM state WHERE task_id = ? AND key = ?`, taskID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %s/%s: %w", taskID, key, err)
	}
	return value, true, nil
}
