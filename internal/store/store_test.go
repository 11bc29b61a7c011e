package store

import (
	"context"
	"testing"
	"time"

	"github.com/odgrim/abathur/internal/task"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestTask(id string, status task.Status, priority float64) *task.Task {
	now := time.Now().UTC()
	return &task.Task{
		ID:                         id,
		Summary:                    "test task",
		Prompt:                     "do the thing",
		AgentType:                  "implementation",
		Source:                     task.SourceHuman,
		DependencyType:             task.DependencySequential,
		BasePriority:               5,
		CalculatedPriority:         priority,
		Status:                     status,
		SubmittedAt:                now,
		LastUpdatedAt:              now,
		MaxRetries:                 3,
		MaxExecutionTimeoutSeconds: 3600,
	}
}

func TestInsertAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := newTestTask(task.NewID(), task.StatusPending, 5)
	tk.InputData = map[string]any{"foo": "bar"}
	if err := s.InsertTask(ctx, tk); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Summary != tk.Summary || got.Status != task.StatusPending {
		t.Errorf("got %+v, want summary/status to match %+v", got, tk)
	}
	if got.InputData["foo"] != "bar" {
		t.Errorf("input_data roundtrip: got %v", got.InputData)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetTask(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDequeueNextTaskOrdersByPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := newTestTask(task.NewID(), task.StatusReady, 1)
	high := newTestTask(task.NewID(), task.StatusReady, 9)
	if err := s.InsertTask(ctx, low); err != nil {
		t.Fatalf("InsertTask low: %v", err)
	}
	if err := s.InsertTask(ctx, high); err != nil {
		t.Fatalf("InsertTask high: %v", err)
	}

	got, err := s.DequeueNextTask(ctx)
	if err != nil {
		t.Fatalf("DequeueNextTask: %v", err)
	}
	if got == nil || got.ID != high.ID {
		t.Fatalf("got %v, want task %s", got, high.ID)
	}
	if got.Status != task.StatusRunning {
		t.Errorf("status: got %s, want running", got.Status)
	}
}

func TestDequeueNextTaskTieBreaksByFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newTestTask(task.NewID(), task.StatusReady, 5)
	first.SubmittedAt = time.Now().UTC().Add(-time.Minute)
	second := newTestTask(task.NewID(), task.StatusReady, 5)
	second.SubmittedAt = time.Now().UTC()

	// Insert in reverse submission order so a naive insertion-order dequeue
	// would pick the wrong one.
	if err := s.InsertTask(ctx, second); err != nil {
		t.Fatalf("InsertTask second: %v", err)
	}
	if err := s.InsertTask(ctx, first); err != nil {
		t.Fatalf("InsertTask first: %v", err)
	}

	got, err := s.DequeueNextTask(ctx)
	if err != nil {
		t.Fatalf("DequeueNextTask: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatalf("got %v, want earlier-submitted task %s on equal priority", got, first.ID)
	}
}

func TestDequeueNextTaskEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.DequeueNextTask(context.Background())
	if err != nil {
		t.Fatalf("DequeueNextTask: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestUpdateTaskStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := newTestTask(task.NewID(), task.StatusReady, 5)
	if err := s.InsertTask(ctx, tk); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	if err := s.UpdateTaskStatus(ctx, tk.ID, task.StatusRunning, ""); err != nil {
		t.Fatalf("UpdateTaskStatus running: %v", err)
	}
	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusRunning || got.StartedAt == nil {
		t.Errorf("got %+v, want running with started_at set", got)
	}

	if err := s.UpdateTaskStatus(ctx, tk.ID, task.StatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	got, err = s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusFailed || got.CompletedAt == nil || got.ErrorMessage != "boom" {
		t.Errorf("got %+v, want failed with completed_at and error set", got)
	}
}

func TestIncrementRetryCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := newTestTask(task.NewID(), task.StatusFailed, 5)
	if err := s.InsertTask(ctx, tk); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	n, err := s.IncrementRetryCount(ctx, tk.ID)
	if err != nil {
		t.Fatalf("IncrementRetryCount: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d, want 1", n)
	}
}

func TestDependenciesAndResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prereq := newTestTask(task.NewID(), task.StatusReady, 5)
	dependent := newTestTask(task.NewID(), task.StatusBlocked, 5)
	if err := s.InsertTask(ctx, prereq); err != nil {
		t.Fatalf("InsertTask prereq: %v", err)
	}
	if err := s.InsertTask(ctx, dependent); err != nil {
		t.Fatalf("InsertTask dependent: %v", err)
	}

	edge := &task.DependencyEdge{
		ID:                 task.NewID(),
		DependentTaskID:    dependent.ID,
		PrerequisiteTaskID: prereq.ID,
		DependencyType:     task.DependencySequential,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.InsertDependency(ctx, edge); err != nil {
		t.Fatalf("InsertDependency: %v", err)
	}

	deps, err := s.GetDependencies(ctx, dependent.ID)
	if err != nil {
		t.Fatalf("GetDependencies: %v", err)
	}
	if len(deps) != 1 || deps[0].ResolvedAt != nil {
		t.Fatalf("got %+v, want one unresolved edge", deps)
	}

	if err := s.ResolveDependenciesOn(ctx, prereq.ID, time.Now().UTC()); err != nil {
		t.Fatalf("ResolveDependenciesOn: %v", err)
	}

	deps, err = s.GetDependencies(ctx, dependent.ID)
	if err != nil {
		t.Fatalf("GetDependencies: %v", err)
	}
	if len(deps) != 1 || deps[0].ResolvedAt == nil {
		t.Fatalf("got %+v, want resolved edge", deps)
	}
}

func TestPruneByFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := newTestTask(task.NewID(), task.StatusCompleted, 5)
	old.SubmittedAt = time.Now().UTC().Add(-48 * time.Hour)
	old.CompletedAt = &old.SubmittedAt
	recent := newTestTask(task.NewID(), task.StatusCompleted, 5)

	if err := s.InsertTask(ctx, old); err != nil {
		t.Fatalf("InsertTask old: %v", err)
	}
	if err := s.InsertTask(ctx, recent); err != nil {
		t.Fatalf("InsertTask recent: %v", err)
	}

	res, err := s.DeleteTasksFiltered(ctx, PrunePredicate{
		Before:   time.Now().UTC().Add(-24 * time.Hour),
		Statuses: []task.Status{task.StatusCompleted},
	})
	if err != nil {
		t.Fatalf("DeleteTasksFiltered: %v", err)
	}
	if res.DeletedTasks != 1 {
		t.Errorf("got %d deleted, want 1", res.DeletedTasks)
	}

	if _, err := s.GetTask(ctx, old.ID); err != ErrNotFound {
		t.Errorf("old task: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetTask(ctx, recent.ID); err != nil {
		t.Errorf("recent task should survive: %v", err)
	}
}

func TestPruneSubtreeRequiresAllTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := newTestTask(task.NewID(), task.StatusCompleted, 5)
	child := newTestTask(task.NewID(), task.StatusRunning, 5)
	child.ParentTaskID = root.ID

	if err := s.InsertTask(ctx, root); err != nil {
		t.Fatalf("InsertTask root: %v", err)
	}
	if err := s.InsertTask(ctx, child); err != nil {
		t.Fatalf("InsertTask child: %v", err)
	}

	allowed := map[task.Status]bool{task.StatusCompleted: true, task.StatusFailed: true, task.StatusCancelled: true}
	if _, err := s.DeleteSubtree(ctx, root.ID, allowed); task.KindOf(err) != task.KindInvariant {
		t.Fatalf("got %v, want invariant violation", err)
	}

	// Root must still exist: nothing was deleted.
	if _, err := s.GetTask(ctx, root.ID); err != nil {
		t.Errorf("root should survive failed subtree prune: %v", err)
	}

	if err := s.UpdateTaskStatus(ctx, child.ID, task.StatusCompleted, ""); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	res, err := s.DeleteSubtree(ctx, root.ID, allowed)
	if err != nil {
		t.Fatalf("DeleteSubtree: %v", err)
	}
	if res.DeletedTasks != 2 {
		t.Errorf("got %d deleted, want 2", res.DeletedTasks)
	}
}
