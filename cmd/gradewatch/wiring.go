package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	portaladapter "github.com/ericfisherdev/gradewatch/internal/adapter/driven/portal"
	sqliteadapter "github.com/ericfisherdev/gradewatch/internal/adapter/driven/sqlite"
	telegramadapter "github.com/ericfisherdev/gradewatch/internal/adapter/driven/telegram"
	"github.com/ericfisherdev/gradewatch/internal/adapter/driven/throttle"
	"github.com/ericfisherdev/gradewatch/internal/application"
	"github.com/ericfisherdev/gradewatch/internal/config"
)

// app holds the wired adapters and services shared by serve and poll.
type app struct {
	db           *sqliteadapter.DB
	store        *sqliteadapter.SubjectRepo
	bot          *tgbotapi.BotAPI
	notifier     *telegramadapter.Notifier
	limiter      *throttle.Limiter
	poll         *application.PollService
	registration *application.RegistrationService
	health       *application.HealthService
}

// openStore opens the database, applies migrations and builds the subject
// repository. The caller closes the returned DB.
func openStore(ctx context.Context, cfg *config.Config) (*sqliteadapter.DB, *sqliteadapter.SubjectRepo, error) {
	key, err := cfg.SecretKeyBytes()
	if err != nil {
		return nil, nil, err
	}

	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("database opened", "path", cfg.DBPath)

	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	slog.Info("migrations complete", "version", version)

	store, err := sqliteadapter.NewSubjectRepo(db, key)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, store, nil
}

// wire builds every adapter and application service from cfg.
func wire(ctx context.Context, cfg *config.Config) (*app, error) {
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Telegram.Token, cfg.Telegram.APIEndpoint,
		&http.Client{Timeout: telegramClientTimeout})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	slog.Info("telegram bot authorized", "username", bot.Self.UserName)

	portal := portaladapter.NewClient(portaladapter.Config{
		Endpoint:          cfg.Portal.Endpoint,
		LoginEndpoint:     cfg.Portal.LoginEndpoint,
		Terms:             cfg.Portal.Terms,
		Timeout:           cfg.Portal.Timeout,
		MaxRetries:        cfg.Portal.MaxRetries,
		RequestsPerSecond: cfg.Portal.RequestsPerSecond,
		UserAgent:         cfg.Portal.UserAgent,
	})

	limiter := throttle.New(throttle.Config{
		MaxAttempts:   cfg.Registration.MaxAttempts,
		Window:        cfg.Registration.AttemptWindow,
		Cooldown:      cfg.Registration.Cooldown,
		FailureWeight: cfg.Registration.FailureWeight,
	})

	notifier := telegramadapter.NewNotifier(bot)
	sessions := application.NewSessionManager(portal, store)
	dispatcher := application.NewDispatcher(notifier)

	pollSvc := application.NewPollService(store, portal, sessions, dispatcher, application.PollConfig{
		Interval:         cfg.Poll.Interval,
		Warmup:           cfg.Poll.Warmup,
		MaxConcurrency:   cfg.Poll.MaxConcurrency,
		NotifyOnBaseline: cfg.Poll.NotifyOnBaseline,
	})

	registration := application.NewRegistrationService(portal, store, limiter, application.CredentialRules{
		UsernameMinLetters: cfg.Registration.UsernameMinLetters,
		UsernameMinDigits:  cfg.Registration.UsernameMinDigits,
		PasswordMinLength:  cfg.Registration.PasswordMinLength,
		PasswordMaxLength:  cfg.Registration.PasswordMaxLength,
		UnsafeCharacters:   cfg.Registration.UnsafeCharacters,
	})

	return &app{
		db:           db,
		store:        store,
		bot:          bot,
		notifier:     notifier,
		limiter:      limiter,
		poll:         pollSvc,
		registration: registration,
		health:       application.NewHealthService(store, pollSvc),
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
