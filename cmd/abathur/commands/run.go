package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/odgrim/abathur/internal/app"
	"github.com/odgrim/abathur/internal/executor"
	"github.com/odgrim/abathur/internal/orchestrator"
	"github.com/odgrim/abathur/internal/prune"
	"github.com/odgrim/abathur/internal/schedule"
	"github.com/odgrim/abathur/internal/task"
)

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the orchestrator loop, agent pool health sweep, and failure recovery sweeper",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max-agents", Usage: "Agent pool cap (overrides config)"},
			&cli.IntFlag{Name: "poll-interval", Usage: "Poll interval in seconds (overrides config)"},
			&cli.IntFlag{Name: "task-limit", Usage: "Stop after N tasks dispatched (0 = unbounded)"},
			&cli.StringFlag{Name: "prune-cron", Usage: "5-field cron expression for a recurring background prune of terminal tasks older than 30 days (disabled if unset)"},
		},
		Action: runOrchestrator,
	}
}

func runOrchestrator(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v := cmd.Int("max-agents"); v > 0 {
		cfg.MaxConcurrentAgents = v
	}
	if v := cmd.Int("poll-interval"); v > 0 {
		cfg.PollInterval = time.Duration(v) * time.Second
	}

	a, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if err := a.RecoverOnStartup(runCtx); err != nil {
		slog.Warn("startup recovery sweep failed", "error", err)
	}

	a.Pool.StartHealthSweep(runCtx)
	defer a.Pool.Shutdown(context.Background())

	go a.Recovery.Run(runCtx, cfg.StallDetectionInterval())

	if cronExpr := cmd.String("prune-cron"); cronExpr != "" {
		expr, err := schedule.Parse(cronExpr)
		if err != nil {
			return task.ErrInvalidField("prune-cron: " + err.Error())
		}
		go expr.Run(runCtx, func(tickCtx context.Context) {
			olderThan := 30 * 24 * time.Hour
			_, err := a.Prune.PruneByFilter(tickCtx, prune.FilterInput{
				OlderThan: &olderThan,
				Statuses:  []task.Status{task.StatusCompleted, task.StatusFailed, task.StatusCancelled},
				Vacuum:    prune.VacuumConditional,
			})
			if err != nil {
				slog.Warn("scheduled prune failed", "error", err)
			}
		})
	}

	orc := orchestrator.New(orchestrator.Config{
		Queue:        a.Queue,
		Store:        a.Store,
		Pool:         a.Pool,
		Executor:     executor.NoopExecutor{},
		PollInterval: cfg.PollInterval,
		TaskLimit:    cmd.Int("task-limit"),
	})

	go func() {
		<-runCtx.Done()
		orc.RequestShutdown()
	}()

	return orc.Run(runCtx)
}
