package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/odgrim/abathur/internal/app"
	"github.com/odgrim/abathur/internal/task"
)

func newFailCommand() *cli.Command {
	return &cli.Command{
		Name:      "fail",
		Usage:     "Mark a task failed",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "error", Usage: "Error message", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return task.ErrInvalidField("fail requires a task id")
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

			return a.Queue.FailTask(ctx, id, cmd.String("error"))
		},
	}
}
