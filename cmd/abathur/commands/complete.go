package commands

import (
	"context"
	"encoding/json"

	"github.com/urfave/cli/v3"

	"github.com/odgrim/abathur/internal/app"
	"github.com/odgrim/abathur/internal/task"
)

func newCompleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "complete",
		Usage:     "Mark a task completed",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "result-json", Usage: "Result payload as a JSON object"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return task.ErrInvalidField("complete requires a task id")
			}

			var result map[string]any
			if raw := cmd.String("result-json"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &result); err != nil {
					return task.ErrInvalidField("result-json: " + err.Error())
				}
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

			return a.Queue.CompleteTask(ctx, id, result)
		},
	}
}
