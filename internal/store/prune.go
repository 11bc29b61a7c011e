package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/odgrim/abathur/internal/task"
)

// PrunePredicate narrows prune-by-filter eligibility. Before is compared
// against completed_at when set, else submitted_at. Limit, when > 0,
// bounds the number of rows deleted in one
// call; rows are chosen oldest-first so a limited run never leaves a subtree
// half-deleted in an unpredictable order.
type PrunePredicate struct {
	Before   time.Time
	Statuses []task.Status
	Limit    int
}

// PruneResult summarises a completed (or dry-run) prune.
type PruneResult struct {
	DeletedTasks        int
	DeletedDependencies int
	ByStatus            map[task.Status]int
	VacuumRan           bool
	ReclaimedBytes      int64
}

// DeleteTasksFiltered implements prune-by-filter. Non-dry-run deletion and
// counting happen inside one transaction; the caller (PruneEngine) decides
// whether to run VACUUM afterward based on vacuum_mode and the row count
// returned here.
func (s *sqlStore) DeleteTasksFiltered(ctx context.Context, pred PrunePredicate) (PruneResult, error) {
	result := PruneResult{ByStatus: map[task.Status]int{}}
	if len(pred.Statuses) == 0 {
		return result, fmt.Errorf("prune by filter: at least one status required")
	}

	placeholders := ""
	args := []any{pred.Before.Format(time.RFC3339Nano)}
	for i, st := range pred.Statuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, string(st))
	}

	query := `SELECT id, status FROM tasks
		WHERE COALESCE(completed_at, submitted_at) < ? AND status IN (` + placeholders + `)
		ORDER BY COALESCE(completed_at, submitted_at) ASC`
	if pred.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", pred.Limit)
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("prune by filter: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return result, fmt.Errorf("prune by filter: select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return result, fmt.Errorf("prune by filter: scan: %w", err)
		}
		ids = append(ids, id)
		result.ByStatus[task.Status(status)]++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("prune by filter: %w", err)
	}

	for _, id := range ids {
		depRes, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE dependent_task_id = ? OR prerequisite_task_id = ?`, id, id)
		if err != nil {
			return result, fmt.Errorf("prune by filter: delete dependencies of %s: %w", id, err)
		}
		n, _ := depRes.RowsAffected()
		result.DeletedDependencies += int(n)

		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return result, fmt.Errorf("prune by filter: delete task %s: %w", id, err)
		}
		result.DeletedTasks++
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("prune by filter: commit: %w", err)
	}
	return result, nil
}

// DeleteSubtree implements recursive subtree prune. allowedTerminal lists the
// statuses every node in the subtree must be in; any other status aborts
// with an InvariantViolated-class error and deletes nothing.
func (s *sqlStore) DeleteSubtree(ctx context.Context, rootID string, allowedTerminal map[task.Status]bool) (PruneResult, error) {
	result := PruneResult{ByStatus: map[task.Status]int{}}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("prune subtree: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Collect the subtree breadth-first, root first; reverse for leaf-first
	// deletion order.
	var order []string
	var statuses []task.Status
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return result, task.ErrNotFound(fmt.Sprintf("prune subtree: task %s not found", id))
		}
		if err != nil {
			return result, fmt.Errorf("prune subtree: lookup %s: %w", id, err)
		}
		if !allowedTerminal[task.Status(status)] {
			return result, task.ErrInvariant(fmt.Sprintf("prune subtree: task %s is in non-terminal status %s", id, status))
		}
		order = append(order, id)
		statuses = append(statuses, task.Status(status))

		childRows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE parent_task_id = ?`, id)
		if err != nil {
			return result, fmt.Errorf("prune subtree: children of %s: %w", id, err)
		}
		var children []string
		for childRows.Next() {
			var cid string
			if err := childRows.Scan(&cid); err != nil {
				childRows.Close()
				return result, fmt.Errorf("prune subtree: scan child: %w", err)
			}
			children = append(children, cid)
		}
		childRows.Close()
		if err := childRows.Err(); err != nil {
			return result, fmt.Errorf("prune subtree: %w", err)
		}
		queue = append(queue, children...)
	}

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		depRes, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE dependent_task_id = ? OR prerequisite_task_id = ?`, id, id)
		if err != nil {
			return result, fmt.Errorf("prune subtree: delete dependencies of %s: %w", id, err)
		}
		n, _ := depRes.RowsAffected()
		result.DeletedDependencies += int(n)

		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return result, fmt.Errorf("prune subtree: delete task %s: %w", id, err)
		}
		result.DeletedTasks++
		result.ByStatus[statuses[i]]++
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("prune subtree: commit: %w", err)
	}
	return result, nil
}

// Vacuum runs SQLite's VACUUM and returns the approximate bytes reclaimed
// (page_count delta * page_size), used for PruneEngine's reclaimed-bytes
// report under vacuum_mode always/conditional.
func (s *sqlStore) Vacuum(ctx context.Context) (int64, error) {
	before, err := s.PageCount(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := s.writer.ExecContext(ctx, `VACUUM`); err != nil {
		return 0, fmt.Errorf("vacuum: %w", err)
	}
	after, err := s.PageCount(ctx)
	if err != nil {
		return 0, err
	}

	var pageSize int64
	if err := s.writer.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("vacuum: page_size: %w", err)
	}

	reclaimed := (before - after) * pageSize
	if reclaimed < 0 {
		reclaimed = 0
	}
	return reclaimed, nil
}

func (s *sqlStore) PageCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.writer.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&count); err != nil {
		return 0, fmt.Errorf("page_count: %w", err)
	}
	return count, nil
}
