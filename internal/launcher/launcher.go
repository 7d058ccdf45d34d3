package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/batchrun/internal/metrics"
	"github.com/edvin/batchrun/internal/model"
	"github.com/edvin/batchrun/internal/runner"
)

// ExecuteRunCommand is the CLI command a worker process is started with.
const ExecuteRunCommand = "execute-run"

// reapTimeout bounds the read of a run after its worker exited.
const reapTimeout = 10 * time.Second

// RunStore creates runs, records runs whose worker never started and reads
// back the outcome of finished ones.
type RunStore interface {
	Create(ctx context.Context, jobID string) (*model.JobRun, error)
	GetByID(ctx context.Context, id string) (*model.JobRun, error)
	Finish(ctx context.Context, id string, stoppedAt time.Time, exitCode int) error
}

// Launcher starts one detached worker process per run.
type Launcher struct {
	runs         RunStore
	entries      runner.EntryStore
	workerBinary string
	logger       zerolog.Logger

	wg sync.WaitGroup
}

func New(runs RunStore, entries runner.EntryStore, workerBinary string, logger zerolog.Logger) *Launcher {
	return &Launcher{
		runs:         runs,
		entries:      entries,
		workerBinary: workerBinary,
		logger:       logger.With().Str("component", "launcher").Logger(),
	}
}

// Launch creates a run of jobID and starts `<worker> execute-run <run_id>`
// without waiting for it. The run is returned even when the worker could
// not be started; that failure is recorded on the run.
func (l *Launcher) Launch(ctx context.Context, jobID string) (*model.JobRun, error) {
	run, err := l.runs.Create(ctx, jobID)
	if err != nil {
		metrics.RunsLaunched.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("launch job %s: %w", jobID, err)
	}
	logger := l.logger.With().Str("job_id", jobID).Str("run_id", run.ID).Logger()

	// Nil stdio connects the worker to the null device.
	cmd := exec.Command(l.workerBinary, ExecuteRunCommand, run.ID)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		metrics.RunsLaunched.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Str("worker", l.workerBinary).Msg("failed to start worker")
		if rerr := runner.RecordSpawnFailure(ctx, l.runs, l.entries, run.ID, err, time.Now()); rerr != nil {
			logger.Error().Err(rerr).Msg("failed to record spawn failure")
		}
		metrics.RunsFinished.WithLabelValues(runner.Outcome(model.SpawnFailedExitCode)).Inc()
		return run, fmt.Errorf("start worker for run %s: %w", run.ID, err)
	}
	metrics.RunsLaunched.WithLabelValues("ok").Inc()
	logger.Info().Int("worker_pid", cmd.Process.Pid).Msg("worker started")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.reap(context.WithoutCancel(ctx), cmd, run.ID, logger)
	}()
	return run, nil
}

// reap waits for the worker and counts the outcome recorded on its run. A
// run the worker left unfinished counts as "unfinished".
func (l *Launcher) reap(ctx context.Context, cmd *exec.Cmd, runID string, logger zerolog.Logger) {
	if err := cmd.Wait(); err != nil {
		logger.Debug().Err(err).Msg("worker exited with error")
	} else {
		logger.Debug().Msg("worker exited")
	}

	ctx, cancel := context.WithTimeout(ctx, reapTimeout)
	defer cancel()
	run, err := l.runs.GetByID(ctx, runID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read finished run")
		return
	}
	if run.Status() != model.RunStatusFinished || run.ExitCode == nil {
		logger.Warn().Str("status", run.Status()).Msg("worker exited without finishing its run")
		metrics.RunsFinished.WithLabelValues("unfinished").Inc()
		return
	}
	metrics.RunsFinished.WithLabelValues(runner.Outcome(*run.ExitCode)).Inc()
}

// Wait blocks until every worker started by l has been reaped.
func (l *Launcher) Wait() {
	l.wg.Wait()
}
