package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "batchrun",
		Usage: "Schedule, run and rotate the logs of batch jobs",
		Commands: []*cli.Command{
			schedulerHwd.cmd(),
			workerHwd.cmd(),
			logsHwd.compactCmd(),
			logsHwd.rotateCmd(),
			logsHwd.dropOldCmd(),
			logsHwd.showCmd(),
			adminHwd.migrateCmd(),
			adminHwd.seedCmd(),
			adminHwd.refreshQueueCmd(),
			adminHwd.nextEventsCmd(),
			adminHwd.showQueueCmd(),
			adminHwd.enableCmd(),
			adminHwd.disableCmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			os.Exit(exit.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "batchrun: %v\n", err)
		os.Exit(1)
	}
}
