// Package dependency computes prerequisite/dependent relationships over the
// task graph stored in internal/store, including cycle detection and
// dependency depth, behind a small TTL cache.
package dependency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

// DefaultCacheTTL is the resolver's default cache lifetime.
const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	value   any
	expires time.Time
}

// Resolver answers prerequisite/dependent queries over the dependency graph
// held in Store, with a small per-(task,query-kind) TTL cache. Reads are
// safe for concurrent use; any mutation to the graph must go through
// Invalidate so stale answers don't survive a Store write.
type Resolver struct {
	store store.Store
	ttl   time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewResolver builds a Resolver over s with the given cache TTL. A ttl of
// zero disables caching (every call hits the store).
func NewResolver(s store.Store, ttl time.Duration) *Resolver {
	return &Resolver{store: s, ttl: ttl, cache: make(map[string]cacheEntry)}
}

func (r *Resolver) cacheGet(key string) (any, bool) {
	if r.ttl <= 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.value, true
}

func (r *Resolver) cacheSet(key string, value any) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cacheEntry{value: value, expires: time.Now().Add(r.ttl)}
}

// Invalidate drops cached answers for taskID itself. A cached transitive
// closure or depth computed for some other task may still mention taskID
// internally, so callers affecting shared structure (a new edge, a terminal
// transition) should prefer InvalidateAll; Invalidate is the cheap path for
// call sites that know only one key is stale.
func (r *Resolver) Invalidate(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, prefix := range []string{"direct-pre:", "direct-dep:", "trans-pre:", "trans-dep:", "depth:"} {
		delete(r.cache, prefix+taskID)
	}
}

// InvalidateAll drops the entire cache. Called on dependency insert/update
// and on any terminal state transition, since those events can change the
// answer to queries keyed by unrelated task IDs.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
}

// DirectPrerequisites returns the immediate predecessor task IDs of taskID.
func (r *Resolver) DirectPrerequisites(ctx context.Context, taskID string) ([]string, error) {
	key := "direct-pre:" + taskID
	if v, ok := r.cacheGet(key); ok {
		return v.([]string), nil
	}
	edges, err := r.store.GetDependencies(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("direct prerequisites of %s: %w", taskID, err)
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.PrerequisiteTaskID)
	}
	r.cacheSet(key, ids)
	return ids, nil
}

// DirectDependents returns the immediate successor task IDs of taskID.
func (r *Resolver) DirectDependents(ctx context.Context, taskID string) ([]string, error) {
	key := "direct-dep:" + taskID
	if v, ok := r.cacheGet(key); ok {
		return v.([]string), nil
	}
	edges, err := r.store.GetDependents(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("direct dependents of %s: %w", taskID, err)
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.DependentTaskID)
	}
	r.cacheSet(key, ids)
	return ids, nil
}

// TransitivePrerequisites returns the BFS transitive closure of prerequisite
// edges reachable from taskID (taskID itself excluded).
func (r *Resolver) TransitivePrerequisites(ctx context.Context, taskID string) ([]string, error) {
	return r.transitiveClosure(ctx, taskID, "trans-pre:", r.DirectPrerequisites)
}

// TransitiveDependents returns the BFS transitive closure of dependent edges
// reachable from taskID (taskID itself excluded).
func (r *Resolver) TransitiveDependents(ctx context.Context, taskID string) ([]string, error) {
	return r.transitiveClosure(ctx, taskID, "trans-dep:", r.DirectDependents)
}

func (r *Resolver) transitiveClosure(ctx context.Context, taskID, prefix string, direct func(context.Context, string) ([]string, error)) ([]string, error) {
	key := prefix + taskID
	if v, ok := r.cacheGet(key); ok {
		return v.([]string), nil
	}

	visited := map[string]bool{taskID: true}
	var result []string
	queue, err := direct(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		result = append(result, id)

		next, err := direct(ctx, id)
		if err != nil {
			return nil, err
		}
		queue = append(queue, next...)
	}

	r.cacheSet(key, result)
	return result, nil
}

// DependencyDepth computes the longest prerequisite chain beneath taskID via
// memoised DFS.
func (r *Resolver) DependencyDepth(ctx context.Context, taskID string) (int, error) {
	key := "depth:" + taskID
	if v, ok := r.cacheGet(key); ok {
		return v.(int), nil
	}
	depth, err := r.dfsDepth(ctx, taskID, map[string]bool{}, map[string]int{})
	if err != nil {
		return 0, err
	}
	r.cacheSet(key, depth)
	return depth, nil
}

func (r *Resolver) dfsDepth(ctx context.Context, taskID string, visiting map[string]bool, memo map[string]int) (int, error) {
	if d, ok := memo[taskID]; ok {
		return d, nil
	}
	if visiting[taskID] {
		return 0, task.ErrCycleDetected(fmt.Sprintf("dependency depth: cycle through %s", taskID))
	}
	visiting[taskID] = true
	defer delete(visiting, taskID)

	prereqs, err := r.DirectPrerequisites(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if len(prereqs) == 0 {
		return 0, nil
	}

	max := 0
	for _, p := range prereqs {
		d, err := r.dfsDepth(ctx, p, visiting, memo)
		if err != nil {
			return 0, err
		}
		if d+1 > max {
			max = d + 1
		}
	}
	memo[taskID] = max
	return max, nil
}

// WouldCreateCycle reports whether adding an edge dependent→prerequisite
// would close a cycle, i.e. dependent is already a transitive prerequisite
// of prerequisite.
func (r *Resolver) WouldCreateCycle(ctx context.Context, dependentID, prerequisiteID string) (bool, error) {
	if dependentID == prerequisiteID {
		return true, nil
	}
	ancestors, err := r.TransitivePrerequisites(ctx, prerequisiteID)
	if err != nil {
		return false, err
	}
	for _, a := range ancestors {
		if a == dependentID {
			return true, nil
		}
	}
	return false, nil
}

// IsReady reports whether every direct prerequisite of taskID is completed.
func (r *Resolver) IsReady(ctx context.Context, taskID string) (bool, error) {
	prereqs, err := r.DirectPrerequisites(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, p := range prereqs {
		t, err := r.store.GetTask(ctx, p)
		if err != nil {
			return false, fmt.Errorf("is ready %s: prerequisite %s: %w", taskID, p, err)
		}
		if t.Status != task.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}
