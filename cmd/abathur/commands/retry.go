package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/odgrim/abathur/internal/app"
	"github.com/odgrim/abathur/internal/task"
)

// newRetryCommand lets an operator force a failed/cancelled task back to
// pending without waiting on FailureRecovery's backoff schedule.
func newRetryCommand() *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Move a failed or cancelled task back to pending",
		ArgsUsage: "ID",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return task.ErrInvalidField("retry requires a task id")
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

			return a.Queue.RetryTask(ctx, id)
		},
	}
}
