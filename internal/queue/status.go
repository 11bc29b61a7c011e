package queue

import (
	"context"
	"fmt"
	"sort"

	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

// Status is the aggregate queue snapshot: counts by status plus per-source
// and per-agent-type breakdowns.
type Status struct {
	CountByStatus    map[task.Status]int
	CountBySource    map[task.Source]int
	CountByAgentType map[string]int
	AveragePriority  float64
	MaxDepth         int
	Total            int
}

// QueueStatus computes aggregate counters over every task in the store.
func (s *Service) QueueStatus(ctx context.Context) (*Status, error) {
	tasks, err := s.store.ListTasks(ctx, store.ListFilter{})
	if err != nil {
		return nil, task.ErrSystem("queue_status: list", err)
	}

	st := &Status{
		CountByStatus:    map[task.Status]int{},
		CountBySource:    map[task.Source]int{},
		CountByAgentType: map[string]int{},
	}
	var prioritySum float64
	for _, t := range tasks {
		st.CountByStatus[t.Status]++
		st.CountBySource[t.Source]++
		st.CountByAgentType[t.AgentType]++
		prioritySum += t.CalculatedPriority
		if t.DependencyDepth > st.MaxDepth {
			st.MaxDepth = t.DependencyDepth
		}
	}
	st.Total = len(tasks)
	if st.Total > 0 {
		st.AveragePriority = prioritySum / float64(st.Total)
	}
	return st, nil
}

// Batch is one parallel-executable level of the execution plan: every task
// in a batch has all its prerequisites in an earlier batch (or none).
type Batch struct {
	Level   int
	TaskIDs []string
}

// ExecutionPlan returns a topological sort of every non-terminal task,
// grouped into batches that could run in parallel.
func (s *Service) ExecutionPlan(ctx context.Context) ([]Batch, error) {
	tasks, err := s.store.ListTasks(ctx, store.ListFilter{})
	if err != nil {
		return nil, task.ErrSystem("execution_plan: list", err)
	}

	nonTerminal := make(map[string]*task.Task)
	for _, t := range tasks {
		if !t.Status.Terminal() {
			nonTerminal[t.ID] = t
		}
	}

	depth := make(map[string]int, len(nonTerminal))
	for id := range nonTerminal {
		d, err := s.resolver.DependencyDepth(ctx, id)
		if err != nil {
			return nil, task.ErrSystem("execution_plan: depth", err)
		}
		depth[id] = d
	}

	byLevel := map[int][]string{}
	maxLevel := 0
	for id, d := range depth {
		byLevel[d] = append(byLevel[d], id)
		if d > maxLevel {
			maxLevel = d
		}
	}

	var batches []Batch
	for level := 0; level <= maxLevel; level++ {
		ids, ok := byLevel[level]
		if !ok {
			continue
		}
		sort.Strings(ids)
		batches = append(batches, Batch{Level: level, TaskIDs: ids})
	}
	return batches, nil
}

// topologicalOrder sorts ids so that for any edge prerequisite→dependent
// present among ids, the prerequisite comes first. Used by cascadeCancel so
// a dependent is never observed cancelled before its own prerequisite.
func (s *Service) topologicalOrder(ctx context.Context, ids []string) ([]string, error) {
	depthOf := make(map[string]int, len(ids))
	for _, id := range ids {
		d, err := s.resolver.DependencyDepth(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("topological order: depth of %s: %w", id, err)
		}
		depthOf[id] = d
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.SliceStable(sorted, func(i, j int) bool {
		return depthOf[sorted[i]] < depthOf[sorted[j]]
	})
	return sorted, nil
}
