package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/odgrim/abathur/internal/task"
)

func scanDependencyEdge(row taskScanner) (*task.DependencyEdge, error) {
	var e task.DependencyEdge
	var depType, createdAt string
	var resolvedAt sql.NullString

	if err := row.Scan(&e.ID, &e.DependentTaskID, &e.PrerequisiteTaskID, &depType, &createdAt, &resolvedAt); err != nil {
		return nil, err
	}
	e.DependencyType = task.DependencyType(depType)

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if e.ResolvedAt, err = parseNullableTime(resolvedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *sqlStore) InsertDependency(ctx context.Context, e *task.DependencyEdge) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO task_dependencies (id, dependent_task_id, prerequisite_task_id, dependency_type, created_at, resolved_at)
		VALUES (?,?,?,?,?,?)`,
		e.ID, e.DependentTaskID, e.PrerequisiteTaskID, string(e.DependencyType),
		e.CreatedAt.Format(time.RFC3339Nano), nullableTime(e.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	return nil
}

func (s *sqlStore) GetDependencies(ctx context.Context, taskID string) ([]*task.DependencyEdge, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, dependent_task_id, prerequisite_task_id, dependency_type, created_at, resolved_at
		FROM task_dependencies WHERE dependent_task_id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("get dependencies %s: %w", taskID, err)
	}
	defer rows.Close()

	var edges []*task.DependencyEdge
	for rows.Next() {
		e, err := scanDependencyEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("get dependencies %s: %w", taskID, err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *sqlStore) GetDependents(ctx context.Context, taskID string) ([]*task.DependencyEdge, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, dependent_task_id, prerequisite_task_id, dependency_type, created_at, resolved_at
		FROM task_dependencies WHERE prerequisite_task_id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("get dependents %s: %w", taskID, err)
	}
	defer rows.Close()

	var edges []*task.DependencyEdge
	for rows.Next() {
		e, err := scanDependencyEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("get dependents %s: %w", taskID, err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ResolveDependenciesOn marks every edge whose prerequisite is prerequisiteID
// as resolved, called after a task completes. It does not itself flip
// dependent tasks to READY; that decision (all prerequisites resolved)
// belongs to the queue service.
func (s *sqlStore) ResolveDependenciesOn(ctx context.Context, prerequisiteID string, at time.Time) error {
	_, err := s.writer.ExecContext(ctx, `
		UPDATE task_dependencies SET resolved_at = ? WHERE prerequisite_task_id = ? AND resolved_at IS NULL`,
		at.Format(time.RFC3339Nano), prerequisiteID)
	if err != nil {
		return fmt.Errorf("resolve dependencies on %s: %w", prerequisiteID, err)
	}
	return nil
}
