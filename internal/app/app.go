// Package app wires the engine's packages (store, dependency resolver,
// priority calculator, queue service, agent pool, failure recovery,
// orchestrator, prune engine, event bus) into one handle constructed from
// a config.Config rather than from global state.
package app

import (
	"context"
	"fmt"

	"github.com/odgrim/abathur/internal/config"
	"github.com/odgrim/abathur/internal/dependency"
	"github.com/odgrim/abathur/internal/events"
	"github.com/odgrim/abathur/internal/pool"
	"github.com/odgrim/abathur/internal/priority"
	"github.com/odgrim/abathur/internal/prune"
	"github.com/odgrim/abathur/internal/queue"
	"github.com/odgrim/abathur/internal/recovery"
	"github.com/odgrim/abathur/internal/store"
)

// App bundles every constructed service around one open Store.
type App struct {
	Config   *config.Config
	Store    store.Store
	Resolver *dependency.Resolver
	Calc     *priority.Calculator
	Bus      *events.Bus
	Queue    *queue.Service
	Pool     *pool.Pool
	Recovery *recovery.Recovery
	Prune    *prune.Engine

	unsubAudit func()
}

// Open loads cfg's database, wires every service on top of it, and starts
// the audit-log subscriber. Callers must call Close when done.
func Open(cfg *config.Config) (*App, error) {
	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	resolver := dependency.NewResolver(s, cfg.ResolverCacheTTL())
	calc := priority.NewCalculator(resolver, cfg.PriorityParams())
	bus := events.NewBus(1024)
	unsub := events.NewAuditWriter(bus, s)
	q := queue.New(s, resolver, calc, bus)
	p := pool.New(pool.Config{
		Store:               s,
		MaxPoolSize:         cfg.MaxConcurrentAgents,
		IdleTimeout:         cfg.IdleTimeout,
		HealthCheckInterval: cfg.HealthCheckInterval,
	})
	rec := recovery.New(s, q, cfg.BackoffPolicy())
	pr := prune.NewEngine(s, cfg.VacuumConditionalThreshold)

	return &App{
		Config: cfg, Store: s, Resolver: resolver, Calc: calc, Bus: bus,
		Queue: q, Pool: p, Recovery: rec, Prune: pr, unsubAudit: unsub,
	}, nil
}

// Close releases the audit subscription, the event bus, and the store.
func (a *App) Close() error {
	if a.unsubAudit != nil {
		a.unsubAudit()
	}
	a.Bus.Close()
	return a.Store.Close()
}

// RecoverOnStartup runs one FailureRecovery sweep before accepting new
// work, catching tasks left RUNNING by a prior process that never reaped
// them. Only RUNNING tasks whose max_execution_timeout_seconds has elapsed
// since their last update are reset; newer ones are left running.
func (a *App) RecoverOnStartup(ctx context.Context) error {
	return a.Recovery.Sweep(ctx)
}
