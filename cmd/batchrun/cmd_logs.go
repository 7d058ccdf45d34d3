package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/edvin/batchrun/internal/config"
	"github.com/edvin/batchrun/internal/core"
	"github.com/edvin/batchrun/internal/metrics"
	"github.com/edvin/batchrun/internal/model"
)

var logsHwd = &LogsRunner{}

type LogsRunner struct{}

const defaultDropDays = 7

func dryRunFlag() cli.Flag {
	return &cli.BoolFlag{Name: "dry-run", Usage: "report what would change without writing"}
}

func (r *LogsRunner) compactCmd() *cli.Command {
	return &cli.Command{
		Name:      "compact-log",
		Usage:     "Compact the log entries of the given runs",
		ArgsUsage: "<run_id>...",
		Flags:     []cli.Flag{dryRunFlag()},
		Action:    r.compact,
	}
}

func (r *LogsRunner) rotateCmd() *cli.Command {
	return &cli.Command{
		Name:   "log-rotate",
		Usage:  "Compact and delete run history according to retention policies",
		Flags:  []cli.Flag{dryRunFlag()},
		Action: r.rotate,
	}
}

func (r *LogsRunner) dropOldCmd() *cli.Command {
	return &cli.Command{
		Name:      "drop-old-entries",
		Usage:     "Delete finished runs started more than N days before the newest run",
		ArgsUsage: "[N=7]",
		Action:    r.dropOld,
	}
}

func (r *LogsRunner) showCmd() *cli.Command {
	return &cli.Command{
		Name:      "show-log",
		Usage:     "Print the log of a run, compacted and live entries merged",
		ArgsUsage: "<run_id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "print time, stream and line number of each entry"},
		},
		Action: r.show,
	}
}

func (r *LogsRunner) compact(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		return cli.Exit("usage: batchrun compact-log <run_id>... [--dry-run]", 2)
	}
	dryRun := cmd.Bool("dry-run")

	e, err := newEnv(ctx, config.ComponentAdmin)
	if err != nil {
		return err
	}
	defer e.Close()

	missing, err := e.svc.JobRun.Missing(ctx, ids)
	if err != nil {
		return err
	}
	unknown := make(map[string]bool, len(missing))
	for _, id := range missing {
		unknown[id] = true
	}

	compacted := 0
	for _, id := range ids {
		if unknown[id] {
			continue
		}
		res, err := e.svc.CompactLog.CompactRun(ctx, id, dryRun)
		if err != nil {
			return fmt.Errorf("compact run %s: %w", id, err)
		}
		if res.Compacted > 0 {
			compacted++
		}
		fmt.Printf("%s: %s %d entries (%d already compact)\n", id, verb(dryRun, "compacted"), res.Compacted, res.Merged)
	}

	if !dryRun {
		pushCleanup(ctx, e, "compact-log", map[string]int{"compact": compacted})
	}
	if len(missing) > 0 {
		return cli.Exit("unknown run ids: "+strings.Join(missing, ", "), 1)
	}
	return nil
}

func (r *LogsRunner) rotate(ctx context.Context, cmd *cli.Command) error {
	e, err := newEnv(ctx, config.ComponentAdmin)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.svc.Cleaner.Run(ctx, cmd.Bool("dry-run"))
	if err != nil {
		return err
	}
	if !report.DryRun {
		pushCleanup(ctx, e, "log-rotate", cleanupRows(report))
	}
	printReport(report)
	return nil
}

func (r *LogsRunner) dropOld(ctx context.Context, cmd *cli.Command) error {
	days := defaultDropDays
	if cmd.Args().Len() > 1 {
		return cli.Exit("usage: batchrun drop-old-entries [N]", 2)
	}
	if arg := cmd.Args().First(); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return cli.Exit(fmt.Sprintf("invalid number of days %q", arg), 2)
		}
		days = n
	}

	e, err := newEnv(ctx, config.ComponentAdmin)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.svc.Cleaner.DropOldRuns(ctx, days)
	if err != nil {
		return err
	}
	pushCleanup(ctx, e, "drop-old-entries", cleanupRows(report))
	printReport(report)
	return nil
}

func (r *LogsRunner) show(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return cli.Exit("usage: batchrun show-log <run_id> [-v]", 2)
	}
	id := cmd.Args().First()

	e, err := newEnv(ctx, config.ComponentAdmin)
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := e.svc.JobRun.GetByID(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return cli.Exit("unknown run id "+id, 1)
		}
		return err
	}
	entries, err := e.svc.CompactLog.Entries(ctx, id)
	if err != nil {
		return err
	}
	return writeLog(os.Stdout, entries, cmd.Bool("verbose"))
}

// writeLog prints entries as the run wrote them, or one annotated entry per
// line when verbose.
func writeLog(w io.Writer, entries []model.LogEntry, verbose bool) error {
	for _, e := range entries {
		var err error
		if verbose {
			_, err = fmt.Fprintf(w, "%s %s %d.%d %q\n",
				e.Time.Format(time.RFC3339Nano), e.Kind, e.LineNumber, e.Number, e.Text)
		} else {
			_, err = io.WriteString(w, e.Text)
		}
		if err != nil {
			return fmt.Errorf("write log: %w", err)
		}
	}
	return nil
}

func cleanupRows(report *core.CleanupReport) map[string]int {
	return map[string]int{
		"delete_run":         int(report.RunsDeleted),
		"delete_entries":     int(report.EntriesDeleted),
		"delete_compact_log": int(report.CompactLogsDeleted),
		"compact":            report.RunsCompacted,
	}
}

// pushCleanup reports a finished cleanup to the Pushgateway when one is
// configured. A failed push is logged and does not fail the command.
func pushCleanup(ctx context.Context, e *env, job string, rows map[string]int) {
	if e.cfg.PushgatewayURL == "" {
		return
	}
	instance, err := os.Hostname()
	if err != nil {
		instance = e.cfg.ServiceName
	}
	err = metrics.PushCleanup(ctx, e.cfg.PushgatewayURL, metrics.Cleanup{
		Job:      job,
		Instance: instance,
		Rows:     rows,
		Finished: time.Now(),
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("pushgateway", e.cfg.PushgatewayURL).Msg("failed to push cleanup metrics")
	}
}

func printReport(report *core.CleanupReport) {
	if report.DryRun {
		fmt.Printf("would delete %d runs\n", len(report.Plan.DeleteRuns))
		fmt.Printf("would delete logs of %d runs\n", len(report.Plan.DeleteLogs))
		fmt.Printf("would compact %d runs\n", len(report.Plan.Compact))
		return
	}
	fmt.Printf("deleted %d runs\n", report.RunsDeleted)
	fmt.Printf("deleted %d log entries and %d compact logs\n", report.EntriesDeleted, report.CompactLogsDeleted)
	fmt.Printf("compacted %d entries of %d runs\n", report.EntriesCompacted, report.RunsCompacted)
}

func verb(dryRun bool, past string) string {
	if dryRun {
		return "would have " + past
	}
	return past
}
