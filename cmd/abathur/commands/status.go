package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/odgrim/abathur/internal/app"
	"github.com/odgrim/abathur/internal/task"
)

func newStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show aggregate queue counters",
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

			st, err := a.Queue.QueueStatus(ctx)
			if err != nil {
				return err
			}

			if cmd.String("format") == "yaml" {
				return printYAML(st)
			}

			fmt.Printf("total: %d\n", st.Total)
			fmt.Printf("average_priority: %.3f\n", st.AveragePriority)
			fmt.Printf("max_depth: %d\n", st.MaxDepth)

			statuses := make([]string, 0, len(st.CountByStatus))
			for s := range st.CountByStatus {
				statuses = append(statuses, string(s))
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Printf("status.%s: %d\n", s, st.CountByStatus[task.Status(s)])
			}
			return nil
		},
	}
}
