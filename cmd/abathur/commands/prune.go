package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/odgrim/abathur/internal/app"
	"github.com/odgrim/abathur/internal/durationx"
	"github.com/odgrim/abathur/internal/prune"
	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/task"
)

func newPruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete terminal tasks by filter, or a subtree of terminal tasks",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Usage: "Relative span, e.g. 30d, 4w, 6m, 1y"},
			&cli.StringFlag{Name: "before", Usage: "Absolute cutoff, RFC3339"},
			&cli.StringSliceFlag{Name: "status", Usage: "completed|failed|cancelled (repeatable); default: all three"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be deleted without deleting"},
			&cli.StringFlag{Name: "vacuum", Usage: "always|never|conditional", Value: "conditional"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum rows to delete"},
		},
		Action: runPruneFilter,
		Commands: []*cli.Command{
			newPruneSubtreeCommand(),
		},
	}
}

func runPruneFilter(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	in := prune.FilterInput{
		DryRun: cmd.Bool("dry-run"),
		Vacuum: prune.VacuumMode(cmd.String("vacuum")),
		Limit:  cmd.Int("limit"),
	}

	if older := cmd.String("older-than"); older != "" {
		d, err := durationx.Parse(older)
		if err != nil {
			return err
		}
		in.OlderThan = &d
	}
	if before := cmd.String("before"); before != "" {
		t, err := parseRFC3339(before)
		if err != nil {
			return err
		}
		in.BeforeDate = &t
	}

	statuses := cmd.StringSlice("status")
	if len(statuses) == 0 {
		statuses = []string{"completed", "failed", "cancelled"}
	}
	for _, s := range statuses {
		in.Statuses = append(in.Statuses, task.Status(s))
	}

	result, err := a.Prune.PruneByFilter(ctx, in)
	if err != nil {
		return err
	}
	printPruneResult(result, in.DryRun)
	return nil
}

func newPruneSubtreeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subtree",
		Usage:     "Recursively delete a subtree whose tasks are all terminal, children before parent",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be deleted without deleting"},
			&cli.StringFlag{Name: "vacuum", Usage: "always|never|conditional", Value: "conditional"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return task.ErrInvalidField("prune subtree requires a root task id")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := app.Open(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			in := prune.SubtreeInput{
				RootID: id,
				DryRun: cmd.Bool("dry-run"),
				Vacuum: prune.VacuumMode(cmd.String("vacuum")),
			}
			result, err := a.Prune.PruneSubtree(ctx, in)
			if err != nil {
				return err
			}
			printPruneResult(result, in.DryRun)
			return nil
		},
	}
}

func printPruneResult(result store.PruneResult, dryRun bool) {
	verb := "deleted"
	if dryRun {
		verb = "would_delete"
	}
	fmt.Printf("%s_tasks: %d\n", verb, result.DeletedTasks)
	if !dryRun {
		fmt.Printf("%s_dependencies: %d\n", verb, result.DeletedDependencies)
	}
	for status, count := range result.ByStatus {
		fmt.Printf("%s.%s: %d\n", verb, status, count)
	}
	if result.VacuumRan {
		fmt.Printf("reclaimed_bytes: %d\n", result.ReclaimedBytes)
	}
}
