package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/odgrim/abathur/internal/app"
	"github.com/odgrim/abathur/internal/task"
)

func newNextCommand() *cli.Command {
	return &cli.Command{
		Name:  "next",
		Usage: "Dequeue the next ready task and transition it to running",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := app.Open(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.Queue.GetNextTask(ctx)
			if err != nil {
				return err
			}
			if t == nil {
				return task.ErrNotFound("no ready task")
			}
			fmt.Println(t.ID)
			return nil
		},
	}
}
