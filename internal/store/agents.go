package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/odgrim/abathur/internal/task"
)

func scanAgent(row taskScanner) (*task.Agent, error) {
	var a task.Agent
	var state, spawnedAt string
	var terminatedAt sql.NullString
	var resourceUsage sql.NullString
	var specialization, taskID sql.NullString

	if err := row.Scan(&a.ID, &a.Name, &specialization, &taskID, &state, &spawnedAt, &terminatedAt, &resourceUsage); err != nil {
		return nil, err
	}
	a.State = task.AgentState(state)
	if specialization.Valid {
		a.Specialization = specialization.String
	}
	if taskID.Valid {
		a.TaskID = taskID.String
	}

	var err error
	if a.SpawnedAt, err = time.Parse(time.RFC3339Nano, spawnedAt); err != nil {
		return nil, fmt.Errorf("parse spawned_at: %w", err)
	}
	if a.TerminatedAt, err = parseNullableTime(terminatedAt); err != nil {
		return nil, err
	}
	if a.ResourceUsage, err = unmarshalJSON(resourceUsage); err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.ID, err)
	}
	return &a, nil
}

func (s *sqlStore) InsertAgent(ctx context.Context, a *task.Agent) error {
	usage, err := marshalJSON(a.ResourceUsage)
	if err != nil {
		return fmt.Errorf("marshal resource_usage: %w", err)
	}
	_, err = s.writer.ExecContext(ctx, `
		INSERT INTO agents (id, name, specialization, task_id, state, spawned_at, terminated_at, resource_usage)
		VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Specialization, nullStr(a.TaskID), string(a.State),
		a.SpawnedAt.Format(time.RFC3339Nano), nullableTime(a.TerminatedAt), usage,
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *sqlStore) GetAgent(ctx context.Context, id string) (*task.Agent, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT id, name, specialization, task_id, state, spawned_at, terminated_at, resource_usage
		FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

func (s *sqlStore) ListAgents(ctx context.Context, state task.AgentState) ([]*task.Agent, error) {
	query := `SELECT id, name, specialization, task_id, state, spawned_at, terminated_at, resource_usage FROM agents`
	var args []any
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, string(state))
	}
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*task.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *sqlStore) UpdateAgentState(ctx context.Context, id string, state task.AgentState) error {
	var terminatedAtClause string
	args := []any{string(state)}
	if state == task.AgentTerminated {
		terminatedAtClause = ", terminated_at = ?"
		args = append(args, time.Now().Format(time.RFC3339Nano))
	}
	args = append(args, id)

	res, err := s.writer.ExecContext(ctx, `UPDATE agents SET state = ?`+terminatedAtClause+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update agent state %s: %w", id, err)
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
