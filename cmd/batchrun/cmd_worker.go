package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/edvin/batchrun/internal/config"
	"github.com/edvin/batchrun/internal/launcher"
	"github.com/edvin/batchrun/internal/model"
	"github.com/edvin/batchrun/internal/platform"
	"github.com/edvin/batchrun/internal/runner"
)

var workerHwd = &WorkerRunner{}

type WorkerRunner struct{}

func (r *WorkerRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:      launcher.ExecuteRunCommand,
		Usage:     "Run the command of one job run and record its output (worker entrypoint)",
		ArgsUsage: "<run_id>",
		Action:    r.run,
	}
}

func (r *WorkerRunner) run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 || !platform.ValidID(cmd.Args().First()) {
		return cli.Exit("usage: batchrun execute-run <run_id>", 2)
	}
	runID := cmd.Args().First()

	e, err := newEnv(ctx, config.ComponentWorker)
	if err != nil {
		return err
	}
	defer e.Close()

	x := runner.NewExecutor(e.svc.JobRun, e.svc.LogEntry, e.svc.Job, e.logger)
	code, err := x.Execute(ctx, runID)
	if err != nil {
		return fmt.Errorf("execute run %s: %w", runID, err)
	}
	if code != 0 {
		return cli.Exit("", processExitCode(code))
	}
	return nil
}

// processExitCode maps a recorded exit code onto a shell exit status.
func processExitCode(code int) int {
	switch {
	case code == model.SpawnFailedExitCode:
		return 127
	case code < 0:
		return 128 - code
	default:
		return code
	}
}
