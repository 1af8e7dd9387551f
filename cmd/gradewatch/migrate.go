package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	sqliteadapter "github.com/ericfisherdev/gradewatch/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/gradewatch/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Logging, os.Stderr))

	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		return err
	}

	slog.Info("migrations complete", "path", cfg.DBPath, "version", version)
	return nil
}
