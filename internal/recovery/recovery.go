// Package recovery implements FailureRecovery: a periodic sweep that reaps
// stalled RUNNING tasks and reissues FAILED/CANCELLED tasks eligible for
// retry under an exponential backoff policy.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/odgrim/abathur/internal/queue"
	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

// BackoffPolicy controls the exponential-backoff-with-jitter retry
// schedule.
type BackoffPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

var DefaultBackoffPolicy = BackoffPolicy{
	InitialBackoff: 10 * time.Second,
	MaxBackoff:     300 * time.Second,
	Multiplier:     2.0,
	Jitter:         true,
}

// Backoff returns the wait time before retrying a task with the given
// retry_count, including up to 20% jitter when enabled.
func (p BackoffPolicy) Backoff(retryCount int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(retryCount))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	if p.Jitter {
		backoff += backoff * 0.2 * rand.Float64()
	}
	return time.Duration(backoff)
}

// Stats counts recovery outcomes since process start. It is the only
// observability surface for an otherwise invisible background sweep.
type Stats struct {
	TotalFailures     int
	PermanentFailures int
	TransientFailures int
	RetriedTasks      int
	StalledTasks      int
}

// Recovery runs the stall-detection and retry sweeps.
type Recovery struct {
	store   store.Store
	queue   *queue.Service
	backoff BackoffPolicy

	stats Stats
}

// New builds a Recovery over s, driving retries through svc.
func New(s store.Store, svc *queue.Service, backoff BackoffPolicy) *Recovery {
	return &Recovery{store: s, queue: svc, backoff: backoff}
}

// Stats returns a copy of the current counters.
func (r *Recovery) Stats() Stats { return r.stats }

// Sweep runs one pass of both checks: stalled RUNNING tasks, then
// retry-eligible FAILED/CANCELLED tasks.
func (r *Recovery) Sweep(ctx context.Context) error {
	if err := r.sweepStalled(ctx); err != nil {
		return fmt.Errorf("sweep stalled: %w", err)
	}
	if err := r.sweepRetryable(ctx); err != nil {
		return fmt.Errorf("sweep retryable: %w", err)
	}
	return nil
}

func (r *Recovery) sweepStalled(ctx context.Context) error {
	now := time.Now().UTC()
	stale, err := r.store.GetStaleRunningTasks(ctx, now)
	if err != nil {
		return err
	}

	for _, t := range stale {
		r.stats.StalledTasks++
		retryCount, err := r.store.IncrementRetryCount(ctx, t.ID)
		if err != nil {
			slog.Warn("recovery: increment retry count failed", "task_id", t.ID, "error", err)
			continue
		}

		if retryCount > t.MaxRetries {
			if err := r.queue.FailTask(ctx, t.ID, "task stalled: exceeded max_execution_timeout_seconds"); err != nil {
				slog.Warn("recovery: terminal-fail stalled task failed", "task_id", t.ID, "error", err)
			}
			r.stats.PermanentFailures++
			continue
		}

		if err := r.store.UpdateTaskStatus(ctx, t.ID, task.StatusPending, "stalled: re-queued for readiness check"); err != nil {
			slog.Warn("recovery: requeue stalled task failed", "task_id", t.ID, "error", err)
			continue
		}
		if err := r.queue.CheckReadiness(ctx, t.ID); err != nil {
			slog.Warn("recovery: readiness check failed", "task_id", t.ID, "error", err)
		}
	}
	return nil
}

func (r *Recovery) sweepRetryable(ctx context.Context) error {
	now := time.Now().UTC()

	var candidates []*task.Task
	for _, status := range []task.Status{task.StatusFailed, task.StatusCancelled} {
		tasks, err := r.store.ListTasks(ctx, store.ListFilter{Status: status})
		if err != nil {
			return err
		}
		candidates = append(candidates, tasks...)
	}

	for _, t := range candidates {
		if t.RetryCount >= t.MaxRetries {
			r.stats.PermanentFailures++
			continue
		}
		if task.IsTransient(t.ErrorMessage) {
			r.stats.TransientFailures++
		} else if t.ErrorMessage != "" {
			// Permanent errors skip retry regardless of remaining budget.
			r.stats.PermanentFailures++
			continue
		}

		if t.CompletedAt != nil {
			elapsed := now.Sub(*t.CompletedAt)
			if elapsed < r.backoff.Backoff(t.RetryCount) {
				continue
			}
		}

		// The reissue consumes one retry. The counter moves here, not in
		// RetryTask, so an operator-driven retry can't race a sweep into a
		// double increment.
		if _, err := r.store.IncrementRetryCount(ctx, t.ID); err != nil {
			slog.Warn("recovery: increment retry count failed", "task_id", t.ID, "error", err)
			continue
		}
		if err := r.queue.RetryTask(ctx, t.ID); err != nil {
			slog.Warn("recovery: retry task failed", "task_id", t.ID, "error", err)
			continue
		}
		r.stats.RetriedTasks++
		r.stats.TotalFailures++
	}
	return nil
}

// Run drives Sweep on interval until ctx is cancelled.
func (r *Recovery) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				slog.Warn("recovery sweep failed", "error", err)
			}
		}
	}
}
