package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/odgrim/abathur/internal/app"
	"github.com/odgrim/abathur/internal/task"
)

func newCancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a task and cascade to its dependents",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Usage: "Cancellation reason"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return task.ErrInvalidField("cancel requires a task id")
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

			reason := cmd.String("reason")
			if reason == "" {
				reason = "cancelled via CLI"
			}
			return a.Queue.CancelTask(ctx, id, reason)
		},
	}
}
