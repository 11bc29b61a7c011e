package dependency

import (
	"context"
	"testing"
	"time"

	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

func newTestResolver(t *testing.T) (*Resolver, store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewResolver(s, DefaultCacheTTL), s
}

func insertTask(t *testing.T, s store.Store, status task.Status) *task.Task {
	t.Helper()
	now := time.Now().UTC()
	tk := &task.Task{
		ID: task.NewID(), Summary: "t", Prompt: "p", AgentType: "impl",
		Source: task.SourceHuman, DependencyType: task.DependencySequential,
		BasePriority: 5, Status: status, SubmittedAt: now, LastUpdatedAt: now,
		MaxRetries: 3, MaxExecutionTimeoutSeconds: 3600,
	}
	if err := s.InsertTask(context.Background(), tk); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	return tk
}

func link(t *testing.T, s store.Store, dependent, prerequisite *task.Task) {
	t.Helper()
	edge := &task.DependencyEdge{
		ID: task.NewID(), DependentTaskID: dependent.ID, PrerequisiteTaskID: prerequisite.ID,
		DependencyType: task.DependencySequential, CreatedAt: time.Now().UTC(),
	}
	if err := s.InsertDependency(context.Background(), edge); err != nil {
		t.Fatalf("InsertDependency: %v", err)
	}
}

func TestTransitivePrerequisites(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	a := insertTask(t, s, task.StatusCompleted)
	b := insertTask(t, s, task.StatusCompleted)
	c := insertTask(t, s, task.StatusBlocked)
	link(t, s, b, a) // b depends on a
	link(t, s, c, b) // c depends on b

	got, err := r.TransitivePrerequisites(ctx, c.ID)
	if err != nil {
		t.Fatalf("TransitivePrerequisites: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 transitive prerequisites", got)
	}
}

func TestDependencyDepth(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	a := insertTask(t, s, task.StatusCompleted)
	b := insertTask(t, s, task.StatusCompleted)
	c := insertTask(t, s, task.StatusBlocked)
	link(t, s, b, a)
	link(t, s, c, b)

	depth, err := r.DependencyDepth(ctx, c.ID)
	if err != nil {
		t.Fatalf("DependencyDepth: %v", err)
	}
	if depth != 2 {
		t.Errorf("got %d, want 2", depth)
	}
}

func TestWouldCreateCycle(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	a := insertTask(t, s, task.StatusCompleted)
	b := insertTask(t, s, task.StatusBlocked)
	link(t, s, b, a) // b depends on a

	cycle, err := r.WouldCreateCycle(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("WouldCreateCycle: %v", err)
	}
	if !cycle {
		t.Error("expected adding a->b to close a cycle")
	}

	c := insertTask(t, s, task.StatusBlocked)
	cycle, err = r.WouldCreateCycle(ctx, c.ID, a.ID)
	if err != nil {
		t.Fatalf("WouldCreateCycle: %v", err)
	}
	if cycle {
		t.Error("expected c->a not to close a cycle")
	}
}

func TestIsReady(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	a := insertTask(t, s, task.StatusRunning)
	b := insertTask(t, s, task.StatusBlocked)
	link(t, s, b, a)

	ready, err := r.IsReady(ctx, b.ID)
	if err != nil {
		t.Fatalf("IsReady: %v", err)
	}
	if ready {
		t.Error("expected not ready while prerequisite is running")
	}

	if err := s.UpdateTaskStatus(ctx, a.ID, task.StatusCompleted, ""); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	r.InvalidateAll()

	ready, err = r.IsReady(ctx, b.ID)
	if err != nil {
		t.Fatalf("IsReady: %v", err)
	}
	if !ready {
		t.Error("expected ready once prerequisite completed")
	}
}
