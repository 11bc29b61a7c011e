package priority

import (
	"context"
	"testing"
	"time"

	"github.com/odgrim/abathur/internal/dependency"
	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

func newTestCalc(t *testing.T) (*Calculator, store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	r := dependency.NewResolver(s, dependency.DefaultCacheTTL)
	return NewCalculator(r, DefaultParams), s
}

func TestComputeNoDeadlineNoDeps(t *testing.T) {
	calc, s := newTestCalc(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tk := &task.Task{
		ID: task.NewID(), Summary: "t", Prompt: "p", Source: task.SourceHuman,
		DependencyType: task.DependencySequential, BasePriority: 5,
		Status: task.StatusPending, SubmittedAt: now, LastUpdatedAt: now,
		MaxRetries: 3, MaxExecutionTimeoutSeconds: 3600,
	}
	if err := s.InsertTask(ctx, tk); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	got, err := calc.Compute(ctx, tk, now)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// base=5*0.3=1.5, depth=0, urgency=0, blocking=0, source=10*0.1=1.0
	want := 1.5 + 1.0
	if got < want-0.001 || got > want+0.001 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputePastDeadlineSaturatesUrgency(t *testing.T) {
	calc, s := newTestCalc(t)
	ctx := context.Background()
	now := time.Now().UTC()
	deadline := now.Add(-time.Hour)

	tk := &task.Task{
		ID: task.NewID(), Summary: "t", Prompt: "p", Source: task.SourceHuman,
		DependencyType: task.DependencySequential, BasePriority: 0,
		Deadline: &deadline, Status: task.StatusPending, SubmittedAt: now, LastUpdatedAt: now,
		MaxRetries: 3, MaxExecutionTimeoutSeconds: 3600,
	}
	if err := s.InsertTask(ctx, tk); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	got, err := calc.Compute(ctx, tk, now)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// urgency saturates at 10 * weight 0.25 = 2.5, plus source 10*0.1=1.0
	want := 2.5 + 1.0
	if got < want-0.001 || got > want+0.001 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeDeterministic(t *testing.T) {
	calc, s := newTestCalc(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tk := &task.Task{
		ID: task.NewID(), Summary: "t", Prompt: "p", Source: task.SourceAgentPlanner,
		DependencyType: task.DependencySequential, BasePriority: 7,
		Status: task.StatusPending, SubmittedAt: now, LastUpdatedAt: now,
		MaxRetries: 3, MaxExecutionTimeoutSeconds: 3600,
	}
	if err := s.InsertTask(ctx, tk); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	a, err := calc.Compute(ctx, tk, now)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := calc.Compute(ctx, tk, now)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Errorf("non-deterministic: %v != %v", a, b)
	}
}
