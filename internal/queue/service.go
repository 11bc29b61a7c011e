// Package queue implements the TaskQueueService: the public operations that
// mutate task state (submit, complete, fail, cancel, retry) plus the
// read-only aggregate views (queue_status, execution_plan).
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/odgrim/abathur/internal/dependency"
	"github.com/odgrim/abathur/internal/events"
	"github.com/odgrim/abathur/internal/priority"
	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

// Service is the task queue: submission, terminal transitions, cascades,
// and readiness propagation over a Store, a dependency Resolver and a
// priority Calculator.
type Service struct {
	store    store.Store
	resolver *dependency.Resolver
	calc     *priority.Calculator
	bus      *events.Bus
}

// New builds a Service. bus may be nil, in which case lifecycle events are
// not published (used by tests that don't care about the audit trail).
func New(s store.Store, resolver *dependency.Resolver, calc *priority.Calculator, bus *events.Bus) *Service {
	return &Service{store: s, resolver: resolver, calc: calc, bus: bus}
}

func (s *Service) publish(typ events.Type, taskID string, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewEvent(typ, taskID, data))
}

// SubmitInput carries the fields accepted by submit_task.
type SubmitInput struct {
	Summary                    string
	Prompt                     string
	AgentType                  string
	Source                     task.Source
	DependencyType             task.DependencyType
	BasePriority               int
	Deadline                   *time.Time
	EstimatedDuration          *time.Duration
	MaxRetries                 int
	MaxExecutionTimeoutSeconds int
	ParentTaskID               string
	Dependencies               []string
	InputData                  map[string]any
}

// SubmitTask validates and inserts a new task, wiring its declared
// dependencies and computing its initial depth and priority. Summary is
// truncated (not rejected) at this layer; empty-after-trim rejection is the
// external interface's job (CLI flag parsing).
func (s *Service) SubmitTask(ctx context.Context, in SubmitInput) (string, error) {
	summary := task.NormalizeSummary(in.Summary)
	if in.Prompt == "" {
		return "", task.ErrInvalidField("prompt must not be empty")
	}
	if in.BasePriority < 0 || in.BasePriority > 10 {
		return "", task.ErrInvalidField("base_priority must be in [0, 10]")
	}

	for _, depID := range in.Dependencies {
		if _, err := s.store.GetTask(ctx, depID); err != nil {
			if err == store.ErrNotFound {
				return "", task.ErrMissingPrerequisite(fmt.Sprintf("prerequisite %s does not exist", depID))
			}
			return "", task.ErrSystem("submit_task: lookup prerequisite", err)
		}
	}

	newID := task.NewID()
	for _, depID := range in.Dependencies {
		cycle, err := s.resolver.WouldCreateCycle(ctx, newID, depID)
		if err != nil {
			return "", task.ErrSystem("submit_task: cycle check", err)
		}
		if cycle {
			return "", task.ErrCycleDetected(fmt.Sprintf("dependency on %s would create a cycle", depID))
		}
	}

	now := time.Now().UTC()
	status := task.StatusReady
	if len(in.Dependencies) > 0 {
		status = task.StatusBlocked
	}

	maxRetries := in.MaxRetries
	maxTimeout := in.MaxExecutionTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = task.DefaultMaxExecutionTimeoutSeconds
	}
	if maxTimeout < task.MinMaxExecutionTimeoutSeconds {
		return "", task.ErrInvalidField(fmt.Sprintf("max_execution_timeout_seconds must be at least %d", task.MinMaxExecutionTimeoutSeconds))
	}

	t := &task.Task{
		ID:                         newID,
		Summary:                    summary,
		Prompt:                     in.Prompt,
		AgentType:                  in.AgentType,
		Source:                     in.Source,
		DependencyType:             in.DependencyType,
		BasePriority:               in.BasePriority,
		Deadline:                   in.Deadline,
		EstimatedDuration:          in.EstimatedDuration,
		Status:                     status,
		SubmittedAt:                now,
		LastUpdatedAt:              now,
		MaxRetries:                 maxRetries,
		MaxExecutionTimeoutSeconds: maxTimeout,
		ParentTaskID:               in.ParentTaskID,
		Dependencies:               in.Dependencies,
		InputData:                  in.InputData,
	}

	if err := s.store.InsertTask(ctx, t); err != nil {
		return "", task.ErrSystem("submit_task: insert", err)
	}

	for _, depID := range in.Dependencies {
		edge := &task.DependencyEdge{
			ID:                 task.NewID(),
			DependentTaskID:    t.ID,
			PrerequisiteTaskID: depID,
			DependencyType:     in.DependencyType,
			CreatedAt:          now,
		}
		if err := s.store.InsertDependency(ctx, edge); err != nil {
			return "", task.ErrSystem("submit_task: insert dependency", err)
		}
	}
	s.resolver.InvalidateAll()

	depth, err := s.resolver.DependencyDepth(ctx, t.ID)
	if err != nil {
		return "", task.ErrSystem("submit_task: compute depth", err)
	}
	t.DependencyDepth = depth

	priority, err := s.calc.Compute(ctx, t, now)
	if err != nil {
		return "", task.ErrSystem("submit_task: compute priority", err)
	}
	t.CalculatedPriority = priority

	if err := s.store.UpdateTask(ctx, t); err != nil {
		return "", task.ErrSystem("submit_task: persist computed fields", err)
	}

	s.publish(events.TaskSubmitted, t.ID, map[string]any{"status": string(status)})
	if status == task.StatusReady {
		s.publish(events.TaskReady, t.ID, nil)
	}
	return t.ID, nil
}

// GetNextTask delegates to the Store's atomic dequeue.
func (s *Service) GetNextTask(ctx context.Context) (*task.Task, error) {
	t, err := s.store.DequeueNextTask(ctx)
	if err != nil {
		return nil, task.ErrSystem("get_next_task", err)
	}
	if t != nil {
		s.publish(events.TaskStarted, t.ID, nil)
	}
	return t, nil
}

// CompleteTask performs the terminal completed transition and propagates
// readiness to direct dependents whose prerequisites are now all satisfied.
// Idempotent: completing an already-completed task is a no-op.
func (s *Service) CompleteTask(ctx context.Context, id string, result map[string]any) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return wrapLookup(err, id)
	}
	if t.Status == task.StatusCompleted {
		return nil
	}
	if t.Status.Terminal() {
		return task.ErrInvariant(fmt.Sprintf("complete_task: %s is already terminal (%s)", id, t.Status))
	}

	t.Status = task.StatusCompleted
	now := time.Now().UTC()
	t.CompletedAt = &now
	t.LastUpdatedAt = now
	t.ResultData = result
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return task.ErrSystem("complete_task: update", err)
	}
	if err := s.store.ResolveDependenciesOn(ctx, id, now); err != nil {
		return task.ErrSystem("complete_task: resolve dependencies", err)
	}
	s.resolver.InvalidateAll()
	s.publish(events.TaskCompleted, id, nil)

	if err := s.unblockDependents(ctx, id, now); err != nil {
		return err
	}
	return nil
}

// unblockDependents transitions each direct dependent of taskID from
// blocked to ready once every one of its prerequisites is completed, and
// recomputes its priority.
func (s *Service) unblockDependents(ctx context.Context, taskID string, now time.Time) error {
	dependents, err := s.resolver.DirectDependents(ctx, taskID)
	if err != nil {
		return task.ErrSystem("unblock dependents: lookup", err)
	}
	for _, depID := range dependents {
		dep, err := s.store.GetTask(ctx, depID)
		if err != nil {
			return task.ErrSystem("unblock dependents: get", err)
		}
		if dep.Status != task.StatusBlocked {
			continue
		}
		ready, err := s.resolver.IsReady(ctx, depID)
		if err != nil {
			return task.ErrSystem("unblock dependents: is_ready", err)
		}
		if !ready {
			continue
		}
		dep.Status = task.StatusReady
		dep.LastUpdatedAt = now
		p, err := s.calc.Compute(ctx, dep, now)
		if err != nil {
			return task.ErrSystem("unblock dependents: compute priority", err)
		}
		dep.CalculatedPriority = p
		if err := s.store.UpdateTask(ctx, dep); err != nil {
			return task.ErrSystem("unblock dependents: update", err)
		}
		s.publish(events.TaskReady, dep.ID, nil)
	}
	return nil
}

// FailTask marks a terminal failure. A transient error with retries
// remaining is left in `failed` for FailureRecovery to reissue; a permanent
// error, or an exhausted retry budget, cascades to every transitive
// dependent.
func (s *Service) FailTask(ctx context.Context, id, errMsg string) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return wrapLookup(err, id)
	}
	if t.Status.Terminal() {
		return task.ErrInvariant(fmt.Sprintf("fail_task: %s is already terminal (%s)", id, t.Status))
	}

	if err := s.store.UpdateTaskStatus(ctx, id, task.StatusFailed, errMsg); err != nil {
		return task.ErrSystem("fail_task: update", err)
	}
	s.resolver.InvalidateAll()
	s.publish(events.TaskFailed, id, map[string]any{"error": errMsg})

	permanent := errMsg != "" && !task.IsTransient(errMsg)
	if permanent || t.RetryCount >= t.MaxRetries {
		reason := fmt.Sprintf("cascaded from permanent failure of %s: %s", id, errMsg)
		if err := s.cascadeCancel(ctx, id, reason); err != nil {
			return err
		}
	}
	return nil
}

// CancelTask transitions a non-terminal task to cancelled and cascades to
// every transitive dependent. Cancelling a running task is a cooperative
// signal only; the Orchestrator observes it at its next status check.
func (s *Service) CancelTask(ctx context.Context, id, reason string) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return wrapLookup(err, id)
	}
	if t.Status.Terminal() {
		return nil
	}

	if err := s.store.UpdateTaskStatus(ctx, id, task.StatusCancelled, reason); err != nil {
		return task.ErrSystem("cancel_task: update", err)
	}
	s.resolver.InvalidateAll()
	s.publish(events.TaskCancelled, id, map[string]any{"reason": reason})

	return s.cascadeCancel(ctx, id, reason)
}

// cascadeCancel visits the transitive dependents of rootID in topological
// (prerequisite-before-dependent) order so that no dependent is observed in
// a terminal state before its own prerequisite is.
func (s *Service) cascadeCancel(ctx context.Context, rootID, reason string) error {
	dependents, err := s.resolver.TransitiveDependents(ctx, rootID)
	if err != nil {
		return task.ErrSystem("cascade cancel: lookup dependents", err)
	}
	ordered, err := s.topologicalOrder(ctx, dependents)
	if err != nil {
		return task.ErrSystem("cascade cancel: order dependents", err)
	}

	for _, id := range ordered {
		t, err := s.store.GetTask(ctx, id)
		if err != nil {
			return task.ErrSystem("cascade cancel: get", err)
		}
		if t.Status.Terminal() {
			continue
		}
		if err := s.store.UpdateTaskStatus(ctx, id, task.StatusCancelled, reason); err != nil {
			return task.ErrSystem("cascade cancel: update", err)
		}
		s.publish(events.TaskCancelled, id, map[string]any{"reason": reason, "cascaded_from": rootID})
	}
	s.resolver.InvalidateAll()
	return nil
}

// RetryTask moves a failed or cancelled task back to pending for a fresh
// readiness check. retry_count itself is owned by FailureRecovery, not this
// call.
func (s *Service) RetryTask(ctx context.Context, id string) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return wrapLookup(err, id)
	}
	if t.Status != task.StatusFailed && t.Status != task.StatusCancelled {
		return task.ErrInvariant(fmt.Sprintf("retry_task: %s is %s, must be failed or cancelled", id, t.Status))
	}

	if err := s.store.UpdateTaskStatus(ctx, id, task.StatusPending, ""); err != nil {
		return task.ErrSystem("retry_task: update", err)
	}
	if err := s.CheckReadiness(ctx, id); err != nil {
		return err
	}
	s.publish(events.TaskRetried, id, nil)
	return nil
}

// CheckReadiness moves a pending task to ready or blocked depending on
// whether all of its prerequisites have completed. Used after retry and
// after FailureRecovery re-queues a stalled task.
func (s *Service) CheckReadiness(ctx context.Context, id string) error {
	ready, err := s.resolver.IsReady(ctx, id)
	if err != nil {
		return task.ErrSystem("readiness check: is_ready", err)
	}
	next := task.StatusBlocked
	if ready {
		next = task.StatusReady
	}
	if err := s.store.UpdateTaskStatus(ctx, id, next, ""); err != nil {
		return task.ErrSystem("readiness check: update", err)
	}
	s.resolver.InvalidateAll()
	return nil
}

func wrapLookup(err error, id string) error {
	if err == store.ErrNotFound {
		return task.ErrNotFound(fmt.Sprintf("task %s not found", id))
	}
	return task.ErrSystem("lookup task "+id, err)
}
