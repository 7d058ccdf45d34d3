package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/edvin/batchrun/internal/config"
	"github.com/edvin/batchrun/internal/core"
	"github.com/edvin/batchrun/internal/db"
	"github.com/edvin/batchrun/internal/model"
	"github.com/edvin/batchrun/internal/recurrence"
	"github.com/edvin/batchrun/internal/seed"
)

var adminHwd = &AdminRunner{}

type AdminRunner struct{}

func (r *AdminRunner) migrateCmd() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply pending database migrations",
		Action: r.migrate,
	}
}

func (r *AdminRunner) seedCmd() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Upsert retention policies, commands, jobs and scheduled jobs from a YAML file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "seed file", Required: true},
		},
		Action: r.seed,
	}
}

func (r *AdminRunner) refreshQueueCmd() *cli.Command {
	return &cli.Command{
		Name:   "refresh-queue",
		Usage:  "Remove expired queue items and refill the queue of every scheduled job",
		Action: r.refreshQueue,
	}
}

func (r *AdminRunner) nextEventsCmd() *cli.Command {
	return &cli.Command{
		Name:      "next-events",
		Usage:     "Print the upcoming run times of a scheduled job",
		ArgsUsage: "<scheduled_job_id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 10, Usage: "number of events"},
			&cli.StringFlag{Name: "from", Usage: "start time with offset, e.g. 2024-06-01T00:00:00+03:00 (default now)"},
		},
		Action: r.nextEvents,
	}
}

func (r *AdminRunner) enableCmd() *cli.Command {
	return &cli.Command{
		Name:      "enable",
		Usage:     "Enable a scheduled job and fill its queue",
		ArgsUsage: "<scheduled_job_id>",
		Action:    r.setEnabled(true),
	}
}

func (r *AdminRunner) disableCmd() *cli.Command {
	return &cli.Command{
		Name:      "disable",
		Usage:     "Disable a scheduled job and drop its unassigned queue items",
		ArgsUsage: "<scheduled_job_id>",
		Action:    r.setEnabled(false),
	}
}

func (r *AdminRunner) showQueueCmd() *cli.Command {
	return &cli.Command{
		Name:      "show-queue",
		Usage:     "Print the queued run times of a scheduled job and who claimed them",
		ArgsUsage: "<scheduled_job_id>",
		Action:    r.showQueue,
	}
}

func (r *AdminRunner) migrate(_ context.Context, _ *cli.Command) error {
	cfg, logger, err := loadConfig(config.ComponentAdmin)
	if err != nil {
		return err
	}
	if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
		return err
	}
	version, err := db.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	logger.Info().Int64("version", version).Msg("migrations applied")
	return nil
}

func (r *AdminRunner) seed(ctx context.Context, cmd *cli.Command) error {
	f, err := seed.Load(cmd.String("file"))
	if err != nil {
		return err
	}

	e, err := newEnv(ctx, config.ComponentAdmin)
	if err != nil {
		return err
	}
	defer e.Close()

	s := &seed.Seeder{
		Policies:      e.svc.RetentionPolicy,
		Commands:      e.svc.Command,
		Jobs:          e.svc.Job,
		ScheduledJobs: e.svc.ScheduledJob,
	}
	sum, err := s.Apply(ctx, f)
	if err != nil {
		return fmt.Errorf("apply seed file: %w", err)
	}
	fmt.Printf("seeded %d retention policies, %d commands, %d jobs, %d scheduled jobs\n",
		sum.RetentionPolicies, sum.Commands, sum.Jobs, sum.ScheduledJobs)
	return nil
}

func (r *AdminRunner) refreshQueue(ctx context.Context, _ *cli.Command) error {
	e, err := newEnv(ctx, config.ComponentAdmin)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.svc.RunQueue.RefreshAll(ctx); err != nil {
		return err
	}
	e.logger.Info().Msg("queue refreshed")
	return nil
}

func (r *AdminRunner) nextEvents(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return cli.Exit("usage: batchrun next-events <scheduled_job_id> [-n 10]", 2)
	}
	n := int(cmd.Int("count"))
	if n <= 0 {
		return cli.Exit("count must be positive", 2)
	}
	start := time.Now()
	if from := cmd.String("from"); from != "" {
		t, err := recurrence.ParseTime(from)
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid --from: %v", err), 2)
		}
		start = t
	}

	e, err := newEnv(ctx, config.ComponentAdmin)
	if err != nil {
		return err
	}
	defer e.Close()

	sj, err := e.svc.ScheduledJob.GetByID(ctx, cmd.Args().First())
	if err != nil {
		return err
	}
	rule, err := core.RuleFor(sj)
	if err != nil {
		return fmt.Errorf("scheduled job %s: %w", sj.Name, err)
	}
	events, err := rule.Next(start, n)
	if err != nil {
		return err
	}
	for _, t := range events {
		fmt.Println(t.In(rule.Location).Format(time.RFC3339))
	}
	if !sj.Enabled {
		fmt.Printf("(scheduled job %s is disabled; nothing is queued)\n", sj.Name)
	}
	return nil
}

func (r *AdminRunner) setEnabled(enabled bool) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() != 1 {
			return cli.Exit(fmt.Sprintf("usage: batchrun %s <scheduled_job_id>", cmd.Name), 2)
		}
		id := cmd.Args().First()

		e, err := newEnv(ctx, config.ComponentAdmin)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.svc.ScheduledJob.SetEnabled(ctx, id, enabled); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return cli.Exit("unknown scheduled job id "+id, 1)
			}
			return err
		}
		e.logger.Info().Str("scheduled_job_id", id).Bool("enabled", enabled).Msg("scheduled job updated")
		return nil
	}
}

func (r *AdminRunner) showQueue(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return cli.Exit("usage: batchrun show-queue <scheduled_job_id>", 2)
	}
	id := cmd.Args().First()

	e, err := newEnv(ctx, config.ComponentAdmin)
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := e.svc.ScheduledJob.GetByID(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return cli.Exit("unknown scheduled job id "+id, 1)
		}
		return err
	}
	items, err := e.svc.RunQueue.ListByScheduledJob(ctx, id)
	if err != nil {
		return err
	}
	return writeQueue(os.Stdout, items)
}

func writeQueue(w io.Writer, items []model.RunQueueItem) error {
	for _, it := range items {
		line := it.RunAt.UTC().Format(time.RFC3339) + " queued"
		if it.AssignedAt != nil && it.AssigneePID != nil {
			line = fmt.Sprintf("%s assigned to pid %d at %s",
				it.RunAt.UTC().Format(time.RFC3339), *it.AssigneePID, it.AssignedAt.UTC().Format(time.RFC3339))
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("write queue: %w", err)
		}
	}
	return nil
}
