package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/edvin/batchrun/internal/metrics"
	"github.com/edvin/batchrun/internal/model"
)

const DefaultPollInterval = 10 * time.Second

// Queue is the part of the run queue the scheduler drives.
type Queue interface {
	RefreshAll(ctx context.Context) error
	EarliestClaimable(ctx context.Context) (*model.RunQueueItem, error)
	Claim(ctx context.Context, itemID string, pid int) (*model.RunQueueItem, error)
	RefillByID(ctx context.Context, scheduledJobID string) error
	RemoveExpired(ctx context.Context) (int64, error)
}

type Launcher interface {
	Launch(ctx context.Context, jobID string) (*model.JobRun, error)
}

type Options struct {
	PollInterval time.Duration
	// PID is written to claimed queue items.
	PID int
	// StorageRetries bounds the retries of one queue operation.
	StorageRetries uint64
	RetryDelay     time.Duration
}

// Scheduler sleeps until the next due queue item, claims it and hands its
// job to the launcher. Several schedulers may share one queue.
type Scheduler struct {
	queue    Queue
	launcher Launcher
	logger   zerolog.Logger
	opts     Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(queue Queue, launcher Launcher, logger zerolog.Logger, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.StorageRetries == 0 {
		opts.StorageRetries = 3
	}
	return &Scheduler{
		queue:    queue,
		launcher: launcher,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		opts:     opts,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run refreshes the queue and then loops until ctx is cancelled. It returns
// nil on cancellation and the storage error that stopped it otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("poll_interval", s.opts.PollInterval).Int("pid", s.opts.PID).Msg("scheduler starting")
	if err := s.withRetry(ctx, s.queue.RefreshAll); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("refresh queue: %w", err)
	}

	for {
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info().Msg("scheduler stopped")
				return nil
			}
			return err
		}
	}
}

// Tick runs one iteration: wait for the earliest claimable item, claim it,
// launch its job and top up the queue.
func (s *Scheduler) Tick(ctx context.Context) error {
	var first *model.RunQueueItem
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		first, err = s.queue.EarliestClaimable(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("find earliest claimable item: %w", err)
	}
	if first == nil {
		return s.pause(ctx, s.opts.PollInterval)
	}

	delta := first.RunAt.Sub(s.now())
	if delta > s.opts.PollInterval {
		return s.pause(ctx, s.opts.PollInterval)
	}
	if err := s.pause(ctx, max(delta, 0)); err != nil {
		return err
	}

	var claimed *model.RunQueueItem
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		claimed, err = s.queue.Claim(ctx, first.ID, s.opts.PID)
		return err
	})
	if err != nil {
		return fmt.Errorf("claim queue item %s: %w", first.ID, err)
	}
	if claimed == nil {
		metrics.QueueClaims.WithLabelValues("lost").Inc()
		s.logger.Debug().Str("item_id", first.ID).Msg("claim lost to another scheduler")
		return nil
	}
	metrics.QueueClaims.WithLabelValues("won").Inc()

	logger := s.logger.With().Str("item_id", claimed.ID).Str("scheduled_job_id", claimed.ScheduledJobID).
		Time("run_at", claimed.RunAt).Logger()
	if run, err := s.launcher.Launch(ctx, claimed.JobID); err != nil {
		logger.Error().Err(err).Msg("launch failed")
	} else {
		logger.Info().Str("run_id", run.ID).Msg("job launched")
	}

	if err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.queue.RefillByID(ctx, claimed.ScheduledJobID)
	}); err != nil {
		return fmt.Errorf("refill queue: %w", err)
	}

	var removed int64
	if err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		removed, err = s.queue.RemoveExpired(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("remove expired items: %w", err)
	}
	if removed > 0 {
		logger.Warn().Int64("removed", removed).Msg("removed expired queue items")
	}
	return nil
}

func (s *Scheduler) pause(ctx context.Context, d time.Duration) error {
	metrics.SchedulerSleep.Observe(d.Seconds())
	return s.sleep(ctx, d)
}

func (s *Scheduler) withRetry(ctx context.Context, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(s.opts.StorageRetries, retry.NewConstant(s.opts.RetryDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		s.logger.Warn().Err(err).Msg("queue operation failed")
		return retry.RetryableError(err)
	})
}
