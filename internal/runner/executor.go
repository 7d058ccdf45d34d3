package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/batchrun/internal/model"
)

// ErrRunStarted is returned when a worker is pointed at a run that is no
// longer in the created state.
var ErrRunStarted = errors.New("run already started")

// RunStore reads and updates run rows.
type RunStore interface {
	GetByID(ctx context.Context, id string) (*model.JobRun, error)
	SetPID(ctx context.Context, id string, pid int) error
	Finish(ctx context.Context, id string, stoppedAt time.Time, exitCode int) error
}

// RunFinisher records the end of a run.
type RunFinisher interface {
	Finish(ctx context.Context, id string, stoppedAt time.Time, exitCode int) error
}

// ArgvResolver renders the command line of a job.
type ArgvResolver interface {
	Argv(ctx context.Context, jobID string) ([]string, error)
}

// Executor is the body of the execute-run worker: it runs one command and
// records its output and exit status against a run.
type Executor struct {
	runs    RunStore
	entries EntryStore
	argv    ArgvResolver
	logger  zerolog.Logger

	now        func() time.Time
	retries    uint64
	retryDelay time.Duration
}

func NewExecutor(runs RunStore, entries EntryStore, argv ArgvResolver, logger zerolog.Logger) *Executor {
	return &Executor{
		runs:       runs,
		entries:    entries,
		argv:       argv,
		logger:     logger.With().Str("component", "executor").Logger(),
		now:        time.Now,
		retries:    5,
		retryDelay: 200 * time.Millisecond,
	}
}

// Execute runs the command of runID to completion and returns its exit
// code. A command that cannot be started yields model.SpawnFailedExitCode.
func (x *Executor) Execute(ctx context.Context, runID string) (int, error) {
	run, err := x.runs.GetByID(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("load run: %w", err)
	}
	if run.Status() != model.RunStatusCreated {
		return 0, fmt.Errorf("execute run %s: %w (%s)", runID, ErrRunStarted, run.Status())
	}

	argv, err := x.argv.Argv(ctx, run.JobID)
	if err != nil {
		return x.spawnFailed(ctx, runID, err)
	}
	return x.run(ctx, runID, argv)
}

func (x *Executor) run(ctx context.Context, runID string, argv []string) (int, error) {
	logger := x.logger.With().Str("run_id", runID).Str("program", argv[0]).Logger()

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return x.spawnFailed(ctx, runID, fmt.Errorf("create stdout pipe: %w", err))
	}
	defer stdoutR.Close()
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutW.Close()
		return x.spawnFailed(ctx, runID, fmt.Errorf("create stderr pipe: %w", err))
	}
	defer stderrR.Close()

	// Stdin stays nil, which connects the child to the null device.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		return x.spawnFailed(ctx, runID, err)
	}
	logger.Info().Int("pid", cmd.Process.Pid).Strs("argv", argv).Msg("command started")

	if err := x.retry(ctx, func(ctx context.Context) error {
		return x.runs.SetPID(ctx, runID, cmd.Process.Pid)
	}); err != nil {
		logger.Error().Err(err).Msg("failed to record pid")
	}

	var g errgroup.Group
	for kind, r := range map[model.LogEntryKind]*os.File{
		model.LogEntryKindStdout: stdoutR,
		model.LogEntryKindStderr: stderrR,
	} {
		c := NewCollector(runID, kind, x.entries, x.logger)
		g.Go(func() error { return c.Collect(ctx, r) })
	}

	_ = cmd.Wait()
	code := exitCode(cmd.ProcessState)
	stopped := x.now()

	finishErr := x.retry(ctx, func(ctx context.Context) error {
		return x.runs.Finish(ctx, runID, stopped, code)
	})
	collectErr := g.Wait()

	logger.Info().Int("exit_code", code).Str("outcome", Outcome(code)).Msg("command finished")

	if finishErr != nil {
		return code, fmt.Errorf("finish run %s: %w", runID, finishErr)
	}
	if collectErr != nil {
		return code, fmt.Errorf("collect output of run %s: %w", runID, collectErr)
	}
	return code, nil
}

func (x *Executor) spawnFailed(ctx context.Context, runID string, cause error) (int, error) {
	x.logger.Error().Err(cause).Str("run_id", runID).Msg("command could not be started")
	if err := RecordSpawnFailure(ctx, x.runs, x.entries, runID, cause, x.now()); err != nil {
		return model.SpawnFailedExitCode, err
	}
	return model.SpawnFailedExitCode, nil
}

func (x *Executor) retry(ctx context.Context, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(x.retries, retry.NewConstant(x.retryDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		return retryable(fn(ctx))
	})
}

// RecordSpawnFailure finishes a run that never started a process and
// leaves the reason as its only STDERR entry.
func RecordSpawnFailure(ctx context.Context, runs RunFinisher, entries EntryStore, runID string, cause error, now time.Time) error {
	if err := runs.Finish(ctx, runID, now, model.SpawnFailedExitCode); err != nil {
		return fmt.Errorf("record spawn failure of run %s: %w", runID, err)
	}
	err := entries.Create(ctx, &model.LogEntry{
		RunID:      runID,
		Kind:       model.LogEntryKindStderr,
		LineNumber: 1,
		Number:     1,
		Time:       now,
		Text:       fmt.Sprintf("failed to start: %v\n", cause),
	})
	if err != nil {
		return fmt.Errorf("record spawn failure of run %s: %w", runID, err)
	}
	return nil
}

// exitCode reports a signal death as the negated signal number.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// Outcome classifies a recorded exit code.
func Outcome(code int) string {
	switch {
	case code == 0:
		return "success"
	case code == model.SpawnFailedExitCode:
		return "spawn_failed"
	case code < 0:
		return "signal"
	default:
		return "failure"
	}
}
