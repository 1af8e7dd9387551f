package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/gradewatch/internal/config"
)

func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run a single poll cycle and exit",
		Long: `Run one poll cycle over every registered subject, sending notifications
for any changes, then exit. Useful from cron or for checking a new deployment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPoll(cmd.Context())
		},
	}
}

func runPoll(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Logging, os.Stderr))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.poll.RunCycle(ctx)
	if err != nil {
		return err
	}

	slog.Info("poll complete",
		"cycle_id", stats.ID,
		"subjects", stats.Subjects,
		"notified", stats.Notified,
		"failed", stats.Failed,
		"duration", stats.Duration,
	)
	return nil
}
