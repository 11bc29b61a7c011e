// Package prune implements PruneEngine: filter-based and subtree-based
// deletion with dry-run support and conditional store compaction.
package prune

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

// VacuumMode controls whether the engine compacts the store after a
// deletion.
type VacuumMode string

const (
	VacuumAlways      VacuumMode = "always"
	VacuumNever       VacuumMode = "never"
	VacuumConditional VacuumMode = "conditional"
)

// allowedFilterStatuses are the only statuses prune-by-filter may target;
// non-terminal tasks are never prunable.
var allowedFilterStatuses = map[task.Status]bool{
	task.StatusCompleted: true,
	task.StatusFailed:    true,
	task.StatusCancelled: true,
}

// allowedSubtreeStatuses are the terminal statuses a subtree prune accepts
// for every node in the tree.
var allowedSubtreeStatuses = map[task.Status]bool{
	task.StatusCompleted: true,
	task.StatusFailed:    true,
	task.StatusCancelled: true,
}

// Engine runs prune operations over a Store, with a configurable threshold
// for conditional compaction.
type Engine struct {
	store                      store.Store
	vacuumConditionalThreshold int
}

// NewEngine builds an Engine. threshold is the row count at or above which
// VacuumConditional triggers a compaction (default 100).
func NewEngine(s store.Store, threshold int) *Engine {
	if threshold <= 0 {
		threshold = 100
	}
	return &Engine{store: s, vacuumConditionalThreshold: threshold}
}

// FilterInput describes a prune-by-filter request.
type FilterInput struct {
	OlderThan  *time.Duration
	BeforeDate *time.Time
	Statuses   []task.Status
	Limit      int
	DryRun     bool
	Vacuum     VacuumMode
}

// PruneByFilter validates and runs a filter-based prune. Exactly one of
// OlderThan or BeforeDate must be set.
func (e *Engine) PruneByFilter(ctx context.Context, in FilterInput) (store.PruneResult, error) {
	if in.OlderThan == nil && in.BeforeDate == nil {
		return store.PruneResult{}, task.ErrInvalidField("prune by filter requires older_than or before_date")
	}
	if in.OlderThan != nil && in.BeforeDate != nil {
		return store.PruneResult{}, task.ErrInvalidField("prune by filter accepts only one of older_than or before_date")
	}
	if len(in.Statuses) == 0 {
		return store.PruneResult{}, task.ErrInvalidField("prune by filter requires at least one status")
	}
	for _, st := range in.Statuses {
		if !allowedFilterStatuses[st] {
			return store.PruneResult{}, task.ErrInvalidField(fmt.Sprintf("status %s is not prunable", st))
		}
	}

	before := time.Now().UTC()
	if in.OlderThan != nil {
		before = before.Add(-*in.OlderThan)
	} else {
		before = *in.BeforeDate
	}

	pred := store.PrunePredicate{Before: before, Statuses: in.Statuses, Limit: in.Limit}

	if in.DryRun {
		return e.dryRunFilter(ctx, pred)
	}

	result, err := e.store.DeleteTasksFiltered(ctx, pred)
	if err != nil {
		return result, fmt.Errorf("prune by filter: %w", err)
	}
	e.maybeVacuum(ctx, &result, in.Vacuum)
	return result, nil
}

// dryRunFilter reports what would be deleted without deleting anything,
// choosing rows oldest-first and honouring pred.Limit as
// DeleteTasksFiltered does. Dependency edges are not counted:
// DeletedDependencies stays zero in a dry-run result.
func (e *Engine) dryRunFilter(ctx context.Context, pred store.PrunePredicate) (store.PruneResult, error) {
	result := store.PruneResult{ByStatus: map[task.Status]int{}}
	type hit struct {
		at     time.Time
		status task.Status
	}
	var hits []hit
	for _, st := range pred.Statuses {
		tasks, err := e.store.ListTasks(ctx, store.ListFilter{Status: st})
		if err != nil {
			return result, fmt.Errorf("prune dry run: %w", err)
		}
		for _, t := range tasks {
			cutoff := t.SubmittedAt
			if t.CompletedAt != nil {
				cutoff = *t.CompletedAt
			}
			if cutoff.Before(pred.Before) {
				hits = append(hits, hit{at: cutoff, status: st})
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].at.Before(hits[j].at) })
	if pred.Limit > 0 && len(hits) > pred.Limit {
		hits = hits[:pred.Limit]
	}
	for _, h := range hits {
		result.DeletedTasks++
		result.ByStatus[h.status]++
	}
	return result, nil
}

// SubtreeInput describes a subtree prune request.
type SubtreeInput struct {
	RootID string
	DryRun bool
	Vacuum VacuumMode
}

// PruneSubtree deletes a parent task and all of its descendants, leaf
// first, in one transaction. A dry run counts the tasks only;
// DeletedDependencies stays zero in a dry-run result.
func (e *Engine) PruneSubtree(ctx context.Context, in SubtreeInput) (store.PruneResult, error) {
	if in.DryRun {
		return e.dryRunSubtree(ctx, in.RootID)
	}

	result, err := e.store.DeleteSubtree(ctx, in.RootID, allowedSubtreeStatuses)
	if err != nil {
		return result, err
	}
	e.maybeVacuum(ctx, &result, in.Vacuum)
	return result, nil
}

func (e *Engine) dryRunSubtree(ctx context.Context, rootID string) (store.PruneResult, error) {
	result := store.PruneResult{ByStatus: map[task.Status]int{}}

	root, err := e.store.GetTask(ctx, rootID)
	if err != nil {
		return result, err
	}
	if !allowedSubtreeStatuses[root.Status] {
		return result, task.ErrInvariant(fmt.Sprintf("prune subtree dry run: %s is in non-terminal status %s", rootID, root.Status))
	}

	queue := []*task.Task{root}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if !allowedSubtreeStatuses[t.Status] {
			return store.PruneResult{ByStatus: map[task.Status]int{}},
				task.ErrInvariant(fmt.Sprintf("prune subtree dry run: %s is in non-terminal status %s", t.ID, t.Status))
		}
		result.DeletedTasks++
		result.ByStatus[t.Status]++

		children, err := e.store.ListChildren(ctx, t.ID)
		if err != nil {
			return result, err
		}
		queue = append(queue, children...)
	}
	return result, nil
}

// maybeVacuum applies the vacuum-mode decision and annotates result with
// the outcome.
func (e *Engine) maybeVacuum(ctx context.Context, result *store.PruneResult, mode VacuumMode) {
	run := false
	switch mode {
	case VacuumAlways:
		run = true
	case VacuumConditional:
		run = result.DeletedTasks >= e.vacuumConditionalThreshold
	case VacuumNever, "":
		run = false
	}
	if !run {
		return
	}

	reclaimed, err := e.store.Vacuum(ctx)
	if err != nil {
		return
	}
	result.VacuumRan = true
	result.ReclaimedBytes = reclaimed
}
