package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/edvin/batchrun/internal/config"
	"github.com/edvin/batchrun/internal/launcher"
	"github.com/edvin/batchrun/internal/metrics"
	"github.com/edvin/batchrun/internal/scheduler"
)

var schedulerHwd = &SchedulerRunner{}

type SchedulerRunner struct{}

func (r *SchedulerRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "Run the scheduler loop until SIGINT or SIGTERM",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "drain-timeout",
				Value: 30 * time.Second,
				Usage: "how long to wait for running workers on shutdown; workers outliving it keep running detached",
			},
		},
		Action: r.run,
	}
}

func (r *SchedulerRunner) run(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEnv(ctx, config.ComponentScheduler)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.cfg.MetricsAddr != "" {
		metrics.RegisterPgxPoolMetrics(e.pool)
		srv := metrics.NewServer(e.cfg.MetricsAddr, e.pool)
		go func() {
			e.logger.Info().Str("addr", e.cfg.MetricsAddr).Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	l := launcher.New(e.svc.JobRun, e.svc.LogEntry, e.cfg.WorkerBinary, e.logger)
	s := scheduler.New(e.svc.RunQueue, l, e.logger, scheduler.Options{
		PollInterval: e.cfg.PollInterval,
		PID:          os.Getpid(),
	})
	runErr := s.Run(ctx)

	e.logger.Info().Msg("waiting for workers")
	if !drain(l, cmd.Duration("drain-timeout")) {
		e.logger.Warn().Msg("workers still running after drain timeout")
	}
	if runErr != nil {
		return fmt.Errorf("scheduler: %w", runErr)
	}
	return nil
}

// drain waits for w up to timeout and reports whether it finished.
func drain(w interface{ Wait() }, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
