// Package pool implements AgentPool: bounded concurrency slots for worker
// agents, with admission control, activity tracking, and an idle-timeout
// health sweep.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

// Config holds pool construction parameters.
type Config struct {
	Store               store.Store
	MaxPoolSize         int
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	MaxSize          int
	ActiveCount      int
	IdleCount        int
	BusyCount        int
	SpawningCount    int
	TerminatingCount int
	TotalSpawned     int
	TotalTerminated  int
}

// Pool is a bounded-concurrency registry of worker agents. Acquire/Release
// is the only operation that holds the mutex across a state change; all
// other methods are safe for concurrent use and the health sweep runs
// independently.
type Pool struct {
	store store.Store

	maxSize     int
	idleTimeout time.Duration
	sweepEvery  time.Duration

	mu              sync.Mutex
	agents          map[string]*task.Agent
	lastActivity    map[string]time.Time
	totalSpawned    int
	totalTerminated int

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New builds a Pool from cfg.
func New(cfg Config) *Pool {
	return &Pool{
		store:        cfg.Store,
		maxSize:      cfg.MaxPoolSize,
		idleTimeout:  cfg.IdleTimeout,
		sweepEvery:   cfg.HealthCheckInterval,
		agents:       make(map[string]*task.Agent),
		lastActivity: make(map[string]time.Time),
	}
}

// Acquire is a non-blocking best-effort admission: if the pool is full it
// returns false; otherwise it registers the agent in the store (spawning →
// idle) and consumes one slot.
func (p *Pool) Acquire(ctx context.Context, a *task.Agent) (bool, error) {
	p.mu.Lock()
	if len(p.agents) >= p.maxSize {
		p.mu.Unlock()
		return false, nil
	}

	a.State = task.AgentSpawning
	a.SpawnedAt = time.Now().UTC()
	p.agents[a.ID] = a
	p.lastActivity[a.ID] = time.Now()
	p.totalSpawned++
	p.mu.Unlock()

	if err := p.store.InsertAgent(ctx, a); err != nil {
		p.mu.Lock()
		delete(p.agents, a.ID)
		delete(p.lastActivity, a.ID)
		p.mu.Unlock()
		return false, fmt.Errorf("acquire: insert agent: %w", err)
	}
	if err := p.store.UpdateAgentState(ctx, a.ID, task.AgentIdle); err != nil {
		return false, fmt.Errorf("acquire: update state: %w", err)
	}
	a.State = task.AgentIdle
	return true, nil
}

// Release transitions an agent through terminating → terminated and frees
// its slot.
func (p *Pool) Release(ctx context.Context, agentID string) error {
	p.mu.Lock()
	if _, ok := p.agents[agentID]; !ok {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.store.UpdateAgentState(ctx, agentID, task.AgentTerminating); err != nil {
		return fmt.Errorf("release: terminating: %w", err)
	}
	if err := p.store.UpdateAgentState(ctx, agentID, task.AgentTerminated); err != nil {
		return fmt.Errorf("release: terminated: %w", err)
	}

	p.mu.Lock()
	delete(p.agents, agentID)
	delete(p.lastActivity, agentID)
	p.totalTerminated++
	p.mu.Unlock()
	return nil
}

// SetBusy flips an agent between idle and busy around an invocation. The
// change is advisory; a store failure is reported but does not unregister
// the agent.
func (p *Pool) SetBusy(ctx context.Context, agentID string, busy bool) error {
	state := task.AgentIdle
	if busy {
		state = task.AgentBusy
	}
	p.mu.Lock()
	a, ok := p.agents[agentID]
	if ok {
		a.State = state
		p.lastActivity[agentID] = time.Now()
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := p.store.UpdateAgentState(ctx, agentID, state); err != nil {
		return fmt.Errorf("set busy: %w", err)
	}
	return nil
}

// UpdateActivity touches agentID's last-activity clock.
func (p *Pool) UpdateActivity(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.lastActivity[agentID]; ok {
		p.lastActivity[agentID] = time.Now()
	}
}

// AvailableCapacity returns the number of unused slots.
func (p *Pool) AvailableCapacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSize - len(p.agents)
}

// IsFull reports whether every slot is occupied.
func (p *Pool) IsFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents) >= p.maxSize
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{MaxSize: p.maxSize, ActiveCount: len(p.agents), TotalSpawned: p.totalSpawned, TotalTerminated: p.totalTerminated}
	for _, a := range p.agents {
		switch a.State {
		case task.AgentIdle:
			st.IdleCount++
		case task.AgentBusy:
			st.BusyCount++
		case task.AgentSpawning:
			st.SpawningCount++
		case task.AgentTerminating:
			st.TerminatingCount++
		}
	}
	return st
}

// StartHealthSweep launches the background idle-agent reaper. Safe to call
// once; a second call is a no-op while a sweep is already running.
func (p *Pool) StartHealthSweep(ctx context.Context) {
	p.mu.Lock()
	if p.sweepCancel != nil {
		p.mu.Unlock()
		return
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	p.sweepCancel = cancel
	p.sweepDone = make(chan struct{})
	p.mu.Unlock()

	go p.healthSweepLoop(sweepCtx)
}

func (p *Pool) healthSweepLoop(ctx context.Context) {
	defer close(p.sweepDone)
	ticker := time.NewTicker(p.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapIdle(ctx)
		}
	}
}

func (p *Pool) reapIdle(ctx context.Context) {
	now := time.Now()
	p.mu.Lock()
	var idle []string
	for id, last := range p.lastActivity {
		if now.Sub(last) > p.idleTimeout {
			idle = append(idle, id)
		}
	}
	p.mu.Unlock()

	for _, id := range idle {
		if err := p.Release(ctx, id); err != nil {
			slog.Warn("health sweep release failed", "agent_id", id, "error", err)
		}
	}
}

// Shutdown stops the sweep and releases every agent still held.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	cancel := p.sweepCancel
	done := p.sweepDone
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	p.mu.Lock()
	ids := make([]string, 0, len(p.agents))
	for id := range p.agents {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.Release(ctx, id); err != nil {
			slog.Warn("shutdown release failed", "agent_id", id, "error", err)
		}
	}
}
