// Package executor provides the default orchestrator.Executor. The real
// agent invocation — spawning an LLM-backed worker process and handing it
// a task's prompt — is a thin adapter the core defines the interface for
// but does not implement. NoopExecutor stands in for that adapter so
// `abathur run` has something to drive; a real deployment replaces it with
// one that shells out to (or RPCs) a real agent runtime.
package executor

import (
	"context"

	"github.com/odgrim/abathur/internal/task"
)

// NoopExecutor completes every task immediately with the fixed result
// {"executor": "noop"}. It
// exists so the orchestrator loop is exercisable end to end without a real
// agent backend wired in.
type NoopExecutor struct{}

// Execute satisfies orchestrator.Executor.
func (NoopExecutor) Execute(ctx context.Context, t *task.Task, activity func()) (map[string]any, error) {
	activity()
	return map[string]any{"executor": "noop"}, nil
}
