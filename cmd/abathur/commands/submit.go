package commands

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/urfave/cli/v3"

	"github.com/odgrim/abathur/internal/app"
	"github.com/odgrim/abathur/internal/queue"
	"github.com/odgrim/abathur/internal/task"
)

func newSubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit a new task",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "summary", Usage: "Short one-line description (rejected if empty or over 140 chars)"},
			&cli.StringFlag{Name: "prompt", Usage: "Task prompt/instructions", Required: true},
			&cli.StringFlag{Name: "agent-type", Usage: "Preferred agent specialization"},
			&cli.IntFlag{Name: "priority", Usage: "Base priority 0-10", Value: 5},
			&cli.StringSliceFlag{Name: "dep", Usage: "Prerequisite task id (repeatable)"},
			&cli.StringFlag{Name: "deadline", Usage: "Deadline, RFC3339"},
			&cli.StringFlag{Name: "source", Usage: "human|agent-requirements|agent-planner|agent-implementation", Value: string(task.SourceHuman)},
			&cli.StringFlag{Name: "parent", Usage: "Parent task id"},
			&cli.IntFlag{Name: "max-retries", Usage: "Max retry attempts (default: max_retries_default from config)"},
			&cli.IntFlag{Name: "timeout-seconds", Usage: "Max execution timeout in seconds"},
		},
		Action: runSubmit,
	}
}

func runSubmit(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	summary := strings.TrimSpace(cmd.String("summary"))
	if cmd.IsSet("summary") {
		if summary == "" {
			return task.ErrInvalidField("summary: must not be empty")
		}
		if utf8.RuneCountInString(summary) > task.MaxSummaryLength {
			return task.ErrInvalidField(fmt.Sprintf("summary: exceeds %d characters", task.MaxSummaryLength))
		}
	}

	a, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	maxRetries := cfg.MaxRetriesDefault
	if cmd.IsSet("max-retries") {
		maxRetries = cmd.Int("max-retries")
	}

	in := queue.SubmitInput{
		Summary:                    summary,
		Prompt:                     cmd.String("prompt"),
		AgentType:                  cmd.String("agent-type"),
		Source:                     task.Source(cmd.String("source")),
		DependencyType:             task.DependencySequential,
		BasePriority:               cmd.Int("priority"),
		MaxRetries:                 maxRetries,
		MaxExecutionTimeoutSeconds: cmd.Int("timeout-seconds"),
		ParentTaskID:               cmd.String("parent"),
		Dependencies:               cmd.StringSlice("dep"),
	}

	if d := cmd.String("deadline"); d != "" {
		t, err := time.Parse(time.RFC3339, d)
		if err != nil {
			return task.ErrInvalidField(fmt.Sprintf("deadline %q: %v", d, err))
		}
		in.Deadline = &t
	}

	id, err := a.Queue.SubmitTask(ctx, in)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
