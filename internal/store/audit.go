package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/odgrim/abathur/internal/task"
)

// LogAudit appends an immutable audit row. Callers (internal/events) treat
// this as advisory: a failure here must never roll back the task mutation
// that triggered it.
func (s *sqlStore) LogAudit(ctx context.Context, e *task.AuditEntry) error {
	data, err := marshalJSON(e.ActionData)
	if err != nil {
		return fmt.Errorf("marshal action_data: %w", err)
	}
	_, err = s.writer.ExecContext(ctx, `
		INSERT INTO audit (timestamp, task_id, agent_id, action_type, action_data, result)
		VALUES (?,?,?,?,?,?)`,
		e.Timestamp.Format(time.RFC3339Nano), nullStr(e.TaskID), nullStr(e.AgentID),
		e.ActionType, data, e.Result,
	)
	if err != nil {
		return fmt.Errorf("log audit: %w", err)
	}
	return nil
}

func (s *sqlStore) ListAudit(ctx context.Context, taskID string, limit int) ([]*task.AuditEntry, error) {
	query := `SELECT id, timestamp, task_id, agent_id, action_type, action_data, result FROM audit`
	var args []any
	if taskID != "" {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []*task.AuditEntry
	for rows.Next() {
		var e task.AuditEntry
		var timestamp string
		var taskID, agentID sql.NullString
		var actionData sql.NullString

		if err := rows.Scan(&e.ID, &timestamp, &taskID, &agentID, &e.ActionType, &actionData, &e.Result); err != nil {
			return nil, fmt.Errorf("list audit: %w", err)
		}
		if taskID.Valid {
			e.TaskID = taskID.String
		}
		if agentID.Valid {
			e.AgentID = agentID.String
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, fmt.Errorf("list audit: parse timestamp: %w", err)
		}
		if e.ActionData, err = unmarshalJSON(actionData); err != nil {
			return nil, fmt.Errorf("list audit: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
