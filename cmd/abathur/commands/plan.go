package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/odgrim/abathur/internal/app"
)

func newPlanCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Print the execution plan as parallel-executable batches",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Usage: "text|yaml", Value: "text"},
		},
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

			batches, err := a.Queue.ExecutionPlan(ctx)
			if err != nil {
				return err
			}

			if cmd.String("format") == "yaml" {
				return printYAML(batches)
			}

			for _, b := range batches {
				fmt.Printf("level %d: %s\n", b.Level, strings.Join(b.TaskIDs, ", "))
			}
			return nil
		},
	}
}
