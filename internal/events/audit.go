package events

import (
	"context"
	"log/slog"

	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

// AuditWriter subscribes to a Bus and persists every event as an audit row.
// It is advisory: a write failure is logged, never propagated, since audit
// logging must not be transactional with the task mutation that produced
// the event.
type AuditWriter struct {
	store store.Store
}

// NewAuditWriter wires s as the persistence target and subscribes it to bus.
// Returns the bus's unsubscribe function.
func NewAuditWriter(bus *Bus, s store.Store) func() {
	w := &AuditWriter{store: s}
	return bus.Subscribe(w.handle)
}

func (w *AuditWriter) handle(e Event) {
	entry := &task.AuditEntry{
		Timestamp:  e.Timestamp,
		TaskID:     e.TaskID,
		AgentID:    e.AgentID,
		ActionType: string(e.Type),
		ActionData: e.Data,
		Result:     e.Result,
	}
	if err := w.store.LogAudit(context.Background(), entry); err != nil {
		slog.Warn("audit log write failed", "error", err, "task_id", e.TaskID, "type", e.Type)
	}
}
