package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/odgrim/abathur/internal/task"
)

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshal json: %w", err)
	}
	return m, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const taskColumns = `id, summary, prompt, agent_type, source, dependency_type,
	base_priority, calculated_priority, status, input_data, result_data,
	error_message, retry_count, max_retries, max_execution_timeout_seconds,
	submitted_at, started_at, completed_at, last_updated_at,
	parent_task_id, deadline, estimated_duration_seconds, dependency_depth`

// taskScanner is satisfied by both *sql.Row and *sql.Rows.
type taskScanner interface {
	Scan(dest ...any) error
}

func scanTask(row taskScanner) (*task.Task, error) {
	var t task.Task
	var source, depType, status string
	var inputData, resultData, errMsg, parentID sql.NullString
	var submittedAt, lastUpdatedAt string
	var startedAt, completedAt, deadline sql.NullString
	var estimatedSeconds sql.NullInt64

	err := row.Scan(
		&t.ID, &t.Summary, &t.Prompt, &t.AgentType, &source, &depType,
		&t.BasePriority, &t.CalculatedPriority, &status, &inputData, &resultData,
		&errMsg, &t.RetryCount, &t.MaxRetries, &t.MaxExecutionTimeoutSeconds,
		&submittedAt, &startedAt, &completedAt, &lastUpdatedAt,
		&parentID, &deadline, &estimatedSeconds, &t.DependencyDepth,
	)
	if err != nil {
		return nil, err
	}

	t.Source = task.Source(source)
	t.DependencyType = task.DependencyType(depType)
	t.Status = task.Status(status)
	if errMsg.Valid {
		t.ErrorMessage = errMsg.String
	}
	if parentID.Valid {
		t.ParentTaskID = parentID.String
	}

	t.InputData, err = unmarshalJSON(inputData)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.ResultData, err = unmarshalJSON(resultData)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", t.ID, err)
	}

	if t.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt); err != nil {
		return nil, fmt.Errorf("task %s: parse submitted_at: %w", t.ID, err)
	}
	if t.LastUpdatedAt, err = time.Parse(time.RFC3339Nano, lastUpdatedAt); err != nil {
		return nil, fmt.Errorf("task %s: parse last_updated_at: %w", t.ID, err)
	}
	if t.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	if t.Deadline, err = parseNullableTime(deadline); err != nil {
		return nil, err
	}
	if estimatedSeconds.Valid {
		d := time.Duration(estimatedSeconds.Int64) * time.Second
		t.EstimatedDuration = &d
	}

	return &t, nil
}

func (s *sqlStore) InsertTask(ctx context.Context, t *task.Task) error {
	input, err := marshalJSON(t.InputData)
	if err != nil {
		return fmt.Errorf("marshal input_data: %w", err)
	}
	result, err := marshalJSON(t.ResultData)
	if err != nil {
		return fmt.Errorf("marshal result_data: %w", err)
	}

	var estimatedSeconds sql.NullInt64
	if t.EstimatedDuration != nil {
		estimatedSeconds = sql.NullInt64{Int64: int64(t.EstimatedDuration.Seconds()), Valid: true}
	}

	_, err = s.writer.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Summary, t.Prompt, t.AgentType, string(t.Source), string(t.DependencyType),
		t.BasePriority, t.CalculatedPriority, string(t.Status), input, nullStr(result),
		nullStr(t.ErrorMessage), t.RetryCount, t.MaxRetries, t.MaxExecutionTimeoutSeconds,
		t.SubmittedAt.Format(time.RFC3339Nano), nullableTime(t.StartedAt), nullableTime(t.CompletedAt),
		t.LastUpdatedAt.Format(time.RFC3339Nano),
		nullStr(t.ParentTaskID), nullableTime(t.Deadline), estimatedSeconds, t.DependencyDepth,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *sqlStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.reader.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (s *sqlStore) ListTasks(ctx context.Context, filter ListFilter) ([]*task.Task, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ExcludeStatus != "" {
		where = append(where, "status != ?")
		args = append(args, string(filter.ExcludeStatus))
	}
	if filter.ParentTaskID != "" {
		where = append(where, "parent_task_id = ?")
		args = append(args, filter.ParentTaskID)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY calculated_priority DESC, submitted_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var result []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *sqlStore) UpdateTask(ctx context.Context, t *task.Task) error {
	input, err := marshalJSON(t.InputData)
	if err != nil {
		return fmt.Errorf("marshal input_data: %w", err)
	}
	result, err := marshalJSON(t.ResultData)
	if err != nil {
		return fmt.Errorf("marshal result_data: %w", err)
	}

	var estimatedSeconds sql.NullInt64
	if t.EstimatedDuration != nil {
		estimatedSeconds = sql.NullInt64{Int64: int64(t.EstimatedDuration.Seconds()), Valid: true}
	}

	res, err := s.writer.ExecContext(ctx, `
		UPDATE tasks SET
			summary = ?, prompt = ?, agent_type = ?, source = ?, dependency_type = ?,
			base_priority = ?, calculated_priority = ?, status = ?, input_data = ?, result_data = ?,
			error_message = ?, retry_count = ?, max_retries = ?, max_execution_timeout_seconds = ?,
			started_at = ?, completed_at = ?, last_updated_at = ?,
			parent_task_id = ?, deadline = ?, estimated_duration_seconds = ?, dependency_depth = ?
		WHERE id = ?`,
		t.Summary, t.Prompt, t.AgentType, string(t.Source), string(t.DependencyType),
		t.BasePriority, t.CalculatedPriority, string(t.Status), input, nullStr(result),
		nullStr(t.ErrorMessage), t.RetryCount, t.MaxRetries, t.MaxExecutionTimeoutSeconds,
		nullableTime(t.StartedAt), nullableTime(t.CompletedAt), t.LastUpdatedAt.Format(time.RFC3339Nano),
		nullStr(t.ParentTaskID), nullableTime(t.Deadline), estimatedSeconds, t.DependencyDepth,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskStatus performs the minimal-field transition used by most
// lifecycle operations: status, error message, and the started_at /
// completed_at timestamps implied by the transition.
func (s *sqlStore) UpdateTaskStatus(ctx context.Context, id string, status task.Status, errMsg string) error {
	now := time.Now()

	var startedAtClause, completedAtClause string
	args := []any{string(status), nullStr(errMsg), now.Format(time.RFC3339Nano)}

	switch status {
	case task.StatusRunning:
		startedAtClause = ", started_at = ?"
		args = append(args, now.Format(time.RFC3339Nano))
	case task.StatusCompleted, task.StatusFailed, task.StatusCancelled:
		completedAtClause = ", completed_at = ?"
		args = append(args, now.Format(time.RFC3339Nano))
	}

	args = append(args, id)
	query := `UPDATE tasks SET status = ?, error_message = ?, last_updated_at = ?` +
		startedAtClause + completedAtClause + ` WHERE id = ?`

	res, err := s.writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task status %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task status %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DequeueNextTask atomically selects the highest-priority READY task
// (ties broken by earliest submitted_at) and transitions it to RUNNING,
// all within a single IMMEDIATE transaction. Because the writer *sql.DB
// is capped at one connection (see Open), BEGIN IMMEDIATE serialises this
// against every other write, which is what makes the claim atomic: no two
// concurrent calls can observe and claim the same row. The SELECT and
// UPDATE run in the same transaction, never as split statements.
func (s *sqlStore) DequeueNextTask(ctx context.Context) (*task.Task, error) {
	tx, err := s.writer.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("dequeue: begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE status = ? ORDER BY calculated_priority DESC, submitted_at ASC LIMIT 1`,
		string(task.StatusReady))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: scan: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, started_at = ?, last_updated_at = ? WHERE id = ? AND status = ?`,
		string(task.StatusRunning), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), t.ID, string(task.StatusReady)); err != nil {
		return nil, fmt.Errorf("dequeue: claim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dequeue: commit: %w", err)
	}

	t.Status = task.StatusRunning
	t.StartedAt = &now
	t.LastUpdatedAt = now
	return t, nil
}

func (s *sqlStore) GetStaleRunningTasks(ctx context.Context, now time.Time) ([]*task.Task, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ?`, string(task.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("get stale running tasks: %w", err)
	}
	defer rows.Close()

	var stale []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("get stale running tasks: %w", err)
		}
		deadline := t.LastUpdatedAt.Add(time.Duration(t.MaxExecutionTimeoutSeconds) * time.Second)
		if now.After(deadline) {
			stale = append(stale, t)
		}
	}
	return stale, rows.Err()
}

// IncrementRetryCount is the only mutation path for retry_count; the queue
// service's RetryTask must not touch it.
func (s *sqlStore) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	res, err := s.writer.ExecContext(ctx, `UPDATE tasks SET retry_count = retry_count + 1, last_updated_at = ? WHERE id = ?`,
		time.Now().Format(time.RFC3339Nano), id)
	if err != nil {
		return 0, fmt.Errorf("increment retry count %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}

	var retryCount int
	if err := s.writer.QueryRowContext(ctx, `SELECT retry_count FROM tasks WHERE id = ?`, id).Scan(&retryCount); err != nil {
		return 0, fmt.Errorf("increment retry count %s: %w", id, err)
	}
	return retryCount, nil
}

func (s *sqlStore) ListChildren(ctx context.Context, parentID string) ([]*task.Task, error) {
	return s.ListTasks(ctx, ListFilter{ParentTaskID: parentID})
}
