package queue

import (
	"context"
	"testing"

	"github.com/odgrim/abathur/internal/dependency"
	"github.com/odgrim/abathur/internal/priority"
	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	resolver := dependency.NewResolver(s, dependency.DefaultCacheTTL)
	calc := priority.NewCalculator(resolver, priority.DefaultParams)
	return New(s, resolver, calc, nil), s
}

func TestSubmitTaskNoDeps(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	id, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "do a thing", Prompt: "do the thing", Source: task.SourceHuman,
		DependencyType: task.DependencySequential, BasePriority: 5,
	})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusReady {
		t.Errorf("status: got %s, want ready", got.Status)
	}
}

func TestSubmitTaskWithDeps(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	prereqID, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "prereq", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential, BasePriority: 5,
	})
	if err != nil {
		t.Fatalf("SubmitTask prereq: %v", err)
	}

	id, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "dependent", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential,
		BasePriority: 5, Dependencies: []string{prereqID},
	})
	if err != nil {
		t.Fatalf("SubmitTask dependent: %v", err)
	}

	tk, err := svc.store.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if tk.Status != task.StatusBlocked {
		t.Errorf("status: got %s, want blocked", tk.Status)
	}
}

func TestSubmitTaskMissingPrerequisite(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.SubmitTask(context.Background(), SubmitInput{
		Summary: "x", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential,
		Dependencies: []string{"does-not-exist"},
	})
	if task.TagOf(err) != "MissingPrerequisite" {
		t.Fatalf("got %v, want MissingPrerequisite", err)
	}
}

func TestSubmitTaskRejectsShortExecutionTimeout(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.SubmitTask(context.Background(), SubmitInput{
		Summary: "x", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential,
		MaxExecutionTimeoutSeconds: 30,
	})
	if task.TagOf(err) != "InvalidField" {
		t.Fatalf("got %v, want InvalidField for timeout below 60s", err)
	}
}

func TestSubmitTaskDefaultsExecutionTimeout(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	id, err := svc.SubmitTask(ctx, SubmitInput{Summary: "x", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.MaxExecutionTimeoutSeconds != task.DefaultMaxExecutionTimeoutSeconds {
		t.Errorf("timeout: got %d, want default %d", got.MaxExecutionTimeoutSeconds, task.DefaultMaxExecutionTimeoutSeconds)
	}
}

func TestCompleteTaskUnblocksDependent(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	prereqID, err := svc.SubmitTask(ctx, SubmitInput{Summary: "a", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	depID, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "b", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential,
		Dependencies: []string{prereqID},
	})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	if err := svc.CompleteTask(ctx, prereqID, nil); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	dep, err := s.GetTask(ctx, depID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if dep.Status != task.StatusReady {
		t.Errorf("dependent status: got %s, want ready", dep.Status)
	}
}

func TestLinearChainDequeuesInDependencyOrder(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	a, err := svc.SubmitTask(ctx, SubmitInput{Summary: "a", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential, BasePriority: 5})
	if err != nil {
		t.Fatalf("SubmitTask a: %v", err)
	}
	b, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "b", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential,
		BasePriority: 5, Dependencies: []string{a},
	})
	if err != nil {
		t.Fatalf("SubmitTask b: %v", err)
	}
	c, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "c", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential,
		BasePriority: 5, Dependencies: []string{b},
	})
	if err != nil {
		t.Fatalf("SubmitTask c: %v", err)
	}

	for _, want := range []string{a, b, c} {
		got, err := svc.GetNextTask(ctx)
		if err != nil {
			t.Fatalf("GetNextTask: %v", err)
		}
		if got == nil || got.ID != want {
			t.Fatalf("dequeue: got %v, want %s", got, want)
		}
		if err := svc.CompleteTask(ctx, got.ID, nil); err != nil {
			t.Fatalf("CompleteTask %s: %v", got.ID, err)
		}
	}

	for _, id := range []string{a, b, c} {
		tk, err := s.GetTask(ctx, id)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if tk.Status != task.StatusCompleted {
			t.Errorf("task %s: got %s, want completed", id, tk.Status)
		}
	}

	got, err := svc.GetNextTask(ctx)
	if err != nil {
		t.Fatalf("GetNextTask on drained queue: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil once the chain is drained", got)
	}
}

func TestDiamondDependencyRequiresAllPrerequisitesComplete(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	root, err := svc.SubmitTask(ctx, SubmitInput{Summary: "root", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential})
	if err != nil {
		t.Fatalf("SubmitTask root: %v", err)
	}
	left, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "left", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencyParallel,
		Dependencies: []string{root},
	})
	if err != nil {
		t.Fatalf("SubmitTask left: %v", err)
	}
	right, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "right", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencyParallel,
		Dependencies: []string{root},
	})
	if err != nil {
		t.Fatalf("SubmitTask right: %v", err)
	}
	join, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "join", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencyParallel,
		Dependencies: []string{left, right},
	})
	if err != nil {
		t.Fatalf("SubmitTask join: %v", err)
	}

	if err := svc.CompleteTask(ctx, root, nil); err != nil {
		t.Fatalf("CompleteTask root: %v", err)
	}

	leftTask, err := s.GetTask(ctx, left)
	if err != nil {
		t.Fatalf("GetTask left: %v", err)
	}
	rightTask, err := s.GetTask(ctx, right)
	if err != nil {
		t.Fatalf("GetTask right: %v", err)
	}
	if leftTask.Status != task.StatusReady || rightTask.Status != task.StatusReady {
		t.Fatalf("left/right should be ready once root completes: left=%s right=%s", leftTask.Status, rightTask.Status)
	}

	joinTask, err := s.GetTask(ctx, join)
	if err != nil {
		t.Fatalf("GetTask join: %v", err)
	}
	if joinTask.Status != task.StatusBlocked {
		t.Fatalf("join should still be blocked with only one side complete, got %s", joinTask.Status)
	}

	if err := svc.CompleteTask(ctx, left, nil); err != nil {
		t.Fatalf("CompleteTask left: %v", err)
	}
	joinTask, err = s.GetTask(ctx, join)
	if err != nil {
		t.Fatalf("GetTask join: %v", err)
	}
	if joinTask.Status != task.StatusBlocked {
		t.Fatalf("join should remain blocked until both branches complete, got %s", joinTask.Status)
	}

	if err := svc.CompleteTask(ctx, right, nil); err != nil {
		t.Fatalf("CompleteTask right: %v", err)
	}
	joinTask, err = s.GetTask(ctx, join)
	if err != nil {
		t.Fatalf("GetTask join: %v", err)
	}
	if joinTask.Status != task.StatusReady {
		t.Fatalf("join should be ready once both branches complete, got %s", joinTask.Status)
	}
}

func TestFailTaskExhaustedCascadesCancel(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	rootID, err := svc.SubmitTask(ctx, SubmitInput{Summary: "root", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential, MaxRetries: 0})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	childID, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "child", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential,
		Dependencies: []string{rootID},
	})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	if err := svc.FailTask(ctx, rootID, "boom"); err != nil {
		t.Fatalf("FailTask: %v", err)
	}

	child, err := s.GetTask(ctx, childID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if child.Status != task.StatusCancelled {
		t.Errorf("child status: got %s, want cancelled", child.Status)
	}
}

func TestCancelTaskOnTerminalIsNoop(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	id, err := svc.SubmitTask(ctx, SubmitInput{Summary: "x", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if err := svc.CompleteTask(ctx, id, nil); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if err := svc.CancelTask(ctx, id, "too late"); err != nil {
		t.Fatalf("CancelTask on terminal task: %v", err)
	}

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Errorf("status: got %s, want completed to stick", got.Status)
	}
}

func TestFailTaskPermanentErrorCascadesDespiteRetryBudget(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	rootID, err := svc.SubmitTask(ctx, SubmitInput{Summary: "root", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential, MaxRetries: 3})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	childID, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "child", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential,
		Dependencies: []string{rootID},
	})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	if err := svc.FailTask(ctx, rootID, "invalid credentials"); err != nil {
		t.Fatalf("FailTask: %v", err)
	}

	child, err := s.GetTask(ctx, childID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if child.Status != task.StatusCancelled {
		t.Errorf("child status: got %s, want cancelled (permanent error)", child.Status)
	}
}

func TestFailTaskTransientWithRetriesLeavesDependentsBlocked(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	rootID, err := svc.SubmitTask(ctx, SubmitInput{Summary: "root", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential, MaxRetries: 3})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	childID, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "child", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential,
		Dependencies: []string{rootID},
	})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	if err := svc.FailTask(ctx, rootID, "connection reset"); err != nil {
		t.Fatalf("FailTask: %v", err)
	}

	child, err := s.GetTask(ctx, childID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if child.Status != task.StatusBlocked {
		t.Errorf("child status: got %s, want blocked (transient failure will be retried)", child.Status)
	}
}

func TestRetryTaskFromFailed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.SubmitTask(ctx, SubmitInput{Summary: "x", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential, MaxRetries: 3})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if err := svc.FailTask(ctx, id, "transient timeout"); err != nil {
		t.Fatalf("FailTask: %v", err)
	}
	if err := svc.RetryTask(ctx, id); err != nil {
		t.Fatalf("RetryTask: %v", err)
	}

	got, err := svc.store.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusReady {
		t.Errorf("status: got %s, want ready", got.Status)
	}
}

func TestQueueStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SubmitTask(ctx, SubmitInput{Summary: "a", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential}); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if _, err := svc.SubmitTask(ctx, SubmitInput{Summary: "b", Prompt: "p", Source: task.SourceAgentPlanner, DependencyType: task.DependencySequential}); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	st, err := svc.QueueStatus(ctx)
	if err != nil {
		t.Fatalf("QueueStatus: %v", err)
	}
	if st.Total != 2 {
		t.Errorf("total: got %d, want 2", st.Total)
	}
	if st.CountByStatus[task.StatusReady] != 2 {
		t.Errorf("ready count: got %d, want 2", st.CountByStatus[task.StatusReady])
	}
}

func TestExecutionPlanOrdersByDepth(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.SubmitTask(ctx, SubmitInput{Summary: "a", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	b, err := svc.SubmitTask(ctx, SubmitInput{
		Summary: "b", Prompt: "p", Source: task.SourceHuman, DependencyType: task.DependencySequential, Dependencies: []string{a},
	})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	plan, err := svc.ExecutionPlan(ctx)
	if err != nil {
		t.Fatalf("ExecutionPlan: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("got %d batches, want 2", len(plan))
	}
	if plan[0].TaskIDs[0] != a || plan[1].TaskIDs[0] != b {
		t.Errorf("got %+v, want a before b", plan)
	}
}
