package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/gradewatch/internal/adapter/driving/http"
	telegrambot "github.com/ericfisherdev/gradewatch/internal/adapter/driving/telegram"
	"github.com/ericfisherdev/gradewatch/internal/config"
	"github.com/ericfisherdev/gradewatch/internal/supervisor"
)

const telegramClientTimeout = 90 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poller, the Telegram bot and the status server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	// 1. Load configuration (fail fast on missing required settings).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.Poll.Interval,
		"max_concurrency", cfg.Poll.MaxConcurrency,
		"terms", cfg.Portal.Terms,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Wire adapters and services.
	a, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// 4. Driving adapters.
	bot := telegrambot.NewBot(
		a.bot,
		a.notifier,
		a.registration,
		a.poll,
		a.store,
		a.limiter,
		logger.With("component", "telegram-bot"),
	)

	router := httphandler.NewRouter(
		httphandler.NewHandler(a.health, logger.With("component", "http")),
		logger.With("component", "http"),
	)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 5. Supervise everything.
	tree := supervisor.NewTree(logger, supervisor.TreeConfig{ShutdownTimeout: cfg.ShutdownTimeout})
	tree.AddPoller(a.poll)
	tree.AddCoreRunner("telegram-bot", bot)
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, cfg.ShutdownTimeout))

	slog.Info("gradewatch started", "listen_addr", cfg.ListenAddr)

	// 6. Run until a signal arrives or the store fails.
	if err := tree.Serve(ctx); err != nil {
		return err
	}

	slog.Info("shutdown complete")
	return nil
}
