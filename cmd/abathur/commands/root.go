// Package commands implements the abathur CLI: one subcommand per queue,
// prune, and orchestrator operation, built on urfave/cli/v3.
package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/odgrim/abathur/internal/config"
	"github.com/odgrim/abathur/internal/task"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "abathur",
		Usage: "Task orchestration engine: dependency-aware queue, agent pool, failure recovery",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to JSONC config file",
				Value:   config.ConfigPath(),
			},
		},
		Commands: []*cli.Command{
			newSubmitCommand(),
			newNextCommand(),
			newCompleteCommand(),
			newFailCommand(),
			newCancelCommand(),
			newRetryCommand(),
			newStatusCommand(),
			newPlanCommand(),
			newPruneCommand(),
			newRunCommand(),
		},
	}
}

// ExitCodeFor maps a returned error to the process exit code: 0 success,
// 1 generic, 2 validation, 3 not-found, 4 invariant.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	switch task.KindOf(err) {
	case task.KindValidation:
		return 2
	case task.KindNotFound:
		return 3
	case task.KindInvariant:
		return 4
	default:
		return 1
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	return config.Load(cmd.String("config"))
}
