// Package store provides the durable, transactional persistence layer for
// tasks, dependencies, agents, and the audit log, backed by an embedded
// SQLite database (modernc.org/sqlite, a pure-Go driver — no cgo).
//
// Concurrency model: a single writer connection serialises all mutations;
// a second pooled *sql.DB serves concurrent readers. Readers observe only
// committed state (WAL mode).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/odgrim/abathur/internal/task"
)

// ListFilter narrows ListTasks results.
type ListFilter struct {
	Status        task.Status // zero value: no filter
	ExcludeStatus task.Status // zero value: no filter
	ParentTaskID  string      // zero value: no filter
	Limit         int         // zero value: unbounded
}

// Store is the canonical persistence interface for the orchestration
// engine. All implementations must provide serialisable writes
// to any single task row and an atomic DequeueNextTask.
type Store interface {
	InsertTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, filter ListFilter) ([]*task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error
	UpdateTaskStatus(ctx context.Context, id string, status task.Status, errMsg string) error
	DequeueNextTask(ctx context.Context) (*task.Task, error)
	GetStaleRunningTasks(ctx context.Context, now time.Time) ([]*task.Task, error)
	IncrementRetryCount(ctx context.Context, id string) (int, error)

	InsertDependency(ctx context.Context, e *task.DependencyEdge) error
	GetDependencies(ctx context.Context, taskID string) ([]*task.DependencyEdge, error)
	GetDependents(ctx context.Context, taskID string) ([]*task.DependencyEdge, error)
	ResolveDependenciesOn(ctx context.Context, prerequisiteID string, at time.Time) error

	InsertAgent(ctx context.Context, a *task.Agent) error
	GetAgent(ctx context.Context, id string) (*task.Agent, error)
	ListAgents(ctx context.Context, state task.AgentState) ([]*task.Agent, error)
	UpdateAgentState(ctx context.Context, id string, state task.AgentState) error

	LogAudit(ctx context.Context, e *task.AuditEntry) error
	ListAudit(ctx context.Context, taskID string, limit int) ([]*task.AuditEntry, error)

	SetState(ctx context.Context, taskID, key, value string) error
	GetState(ctx context.Context, taskID, key string) (string, bool, error)

	ListChildren(ctx context.Context, parentID string) ([]*task.Task, error)
	DeleteTasksFiltered(ctx context.Context, pred PrunePredicate) (PruneResult, error)
	DeleteSubtree(ctx context.Context, rootID string, allowedTerminal map[task.Status]bool) (PruneResult, error)
	Vacuum(ctx context.Context) (int64, error)
	PageCount(ctx context.Context) (int64, error)

	Close() error
}

// ErrNotFound is returned by Get* methods when a row does not exist.
var ErrNotFound = fmt.Errorf("not found")

// sqlStore is the SQLite-backed Store implementation.
type sqlStore struct {
	writer *sql.DB
	reader *sql.DB
}

// Open creates (if needed) and opens the SQLite database at path, applying
// the schema. Use ":memory:" for an ephemeral store (tests).
func Open(path string) (Store, error) {
	base := "file:" + path
	if path == ":memory:" {
		// A bare ":memory:" DSN gives each *sql.DB connection its own private
		// database; the writer and reader pools would silently diverge.
		// Shared cache mode backs both by the same in-memory database.
		base = "file::memory:?cache=shared"
	}
	// Pragmas are per-connection, so they ride on the DSN rather than a
	// one-shot Exec. _txlock=immediate makes every writer transaction
	// BEGIN IMMEDIATE, taking the write lock up front.
	pragmas := "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	writer, err := sql.Open("sqlite", base+sep+pragmas+"&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite", base+sep+pragmas)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}

	if _, err := writer.Exec(schema); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &sqlStore{writer: writer, reader: reader}, nil
}

func (s *sqlStore) Close() error {
	werr := s.writer.Close()
	rerr := s.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", v.String, err)
	}
	return &t, nil
}
