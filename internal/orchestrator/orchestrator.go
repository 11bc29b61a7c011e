// Package orchestrator implements the long-running scheduling loop that
// dequeues ready tasks, admits them to the agent pool, and drives their
// execution through an external Executor.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odgrim/abathur/internal/pool"
	"github.com/odgrim/abathur/internal/queue"
	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

// Executor invokes the external agent process for a task. activity should
// be called by the implementation at each suspension point so the pool's
// idle-timeout clock stays current.
type Executor interface {
	Execute(ctx context.Context, t *task.Task, activity func()) (result map[string]any, err error)
}

// Config holds Orchestrator construction parameters.
type Config struct {
	Queue         *queue.Service
	Store         store.Store
	Pool          *pool.Pool
	Executor      Executor
	PollInterval  time.Duration
	TaskLimit     int // 0 = unbounded
	ShutdownGrace time.Duration
}

// Orchestrator drives the poll, dequeue, admit, execute, translate loop.
type Orchestrator struct {
	cfg Config

	processed   atomic.Int64
	shutdown    atomic.Bool
	wg          sync.WaitGroup
	inFlightCtx context.Context
	cancelAll   context.CancelFunc
}

// New builds an Orchestrator from cfg. A zero ShutdownGrace defaults to 30s.
func New(cfg Config) *Orchestrator {
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &Orchestrator{cfg: cfg}
}

// RequestShutdown stops the loop from accepting new tasks. It does not
// signal in-flight invocations: once the loop exits, Run waits up to
// ShutdownGrace for them to finish and only then cancels their context.
func (o *Orchestrator) RequestShutdown() {
	o.shutdown.Store(true)
}

// Run executes the loop until ctx is cancelled, shutdown is requested, or
// TaskLimit tasks have been dispatched.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.inFlightCtx, o.cancelAll = context.WithCancel(ctx)
	defer o.cancelAll()

	for {
		if o.shutdown.Load() || ctx.Err() != nil {
			break
		}
		if o.cfg.TaskLimit > 0 && o.processed.Load() >= int64(o.cfg.TaskLimit) {
			break
		}

		t, err := o.cfg.Queue.GetNextTask(ctx)
		if err != nil {
			slog.Warn("orchestrator: get_next_task failed", "error", err)
			if !sleepOrDone(ctx, o.cfg.PollInterval) {
				break
			}
			continue
		}
		if t == nil {
			if !sleepOrDone(ctx, o.cfg.PollInterval) {
				break
			}
			continue
		}

		// Pre-increment before spawning: bounds the number of tasks that can
		// be in flight across rapid successive iterations.
		o.processed.Add(1)

		agent := &task.Agent{ID: task.NewAgentID(), Name: "agent-" + t.ID, TaskID: t.ID}
		ok, err := o.cfg.Pool.Acquire(ctx, agent)
		if err != nil {
			slog.Warn("orchestrator: pool acquire error", "task_id", t.ID, "error", err)
		}
		if !ok {
			o.requeue(ctx, t)
			o.processed.Add(-1)
			if !sleepOrDone(ctx, o.cfg.PollInterval) {
				break
			}
			continue
		}

		o.wg.Add(1)
		go o.runTask(o.inFlightCtx, t, agent)
	}

	o.waitForInFlight()
	return nil
}

func (o *Orchestrator) requeue(ctx context.Context, t *task.Task) {
	if err := o.cfg.Store.UpdateTaskStatus(ctx, t.ID, task.StatusReady, ""); err != nil {
		slog.Warn("orchestrator: requeue failed", "task_id", t.ID, "error", err)
	}
}

func (o *Orchestrator) waitForInFlight() {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(o.cfg.ShutdownGrace):
		slog.Warn("orchestrator: shutdown grace period elapsed, cancelling in-flight invocations")
		o.cancelAll()
		<-done
	}
}

func (o *Orchestrator) runTask(ctx context.Context, t *task.Task, agent *task.Agent) {
	defer o.wg.Done()
	defer func() {
		if err := o.cfg.Pool.Release(context.Background(), agent.ID); err != nil {
			slog.Warn("orchestrator: pool release failed", "agent_id", agent.ID, "error", err)
		}
	}()

	activity := func() { o.cfg.Pool.UpdateActivity(agent.ID) }

	if err := o.cfg.Pool.SetBusy(ctx, agent.ID, true); err != nil {
		slog.Warn("orchestrator: mark agent busy failed", "agent_id", agent.ID, "error", err)
	}
	result, err := o.cfg.Executor.Execute(ctx, t, activity)

	bg := context.Background()
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		if cancelErr := o.cfg.Queue.CancelTask(bg, t.ID, "orchestrator shutdown"); cancelErr != nil {
			slog.Warn("orchestrator: cancel_task failed", "task_id", t.ID, "error", cancelErr)
		}
	case err != nil:
		if failErr := o.cfg.Queue.FailTask(bg, t.ID, err.Error()); failErr != nil {
			slog.Warn("orchestrator: fail_task failed", "task_id", t.ID, "error", failErr)
		}
	default:
		if completeErr := o.cfg.Queue.CompleteTask(bg, t.ID, result); completeErr != nil {
			slog.Warn("orchestrator: complete_task failed", "task_id", t.ID, "error", completeErr)
		}
	}
}

// sleepOrDone sleeps for d, returning false early (without sleeping the
// full duration) if ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
