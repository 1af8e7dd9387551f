// Package telegrambot is the chat driving adapter. It turns bot updates into
// registration steps and grade queries.
package telegrambot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/gradewatch/internal/application"
	"github.com/ericfisherdev/gradewatch/internal/domain/model"
	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
)

// ErrUpdatesClosed is returned by Run when the update channel closes while
// the bot is still supposed to be running.
var ErrUpdatesClosed = errors.New("telegram update channel closed")

const (
	maxConcurrentUpdates = 16
	refreshTimeout       = 2 * time.Minute
	longPollTimeout      = 60
)

// UpdateSource yields incoming bot updates and performs raw API requests.
// *tgbotapi.BotAPI satisfies it.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Registrar runs the registration flow.
type Registrar interface {
	Start(ctx context.Context, id int64) (application.Step, error)
	Submit(ctx context.Context, id int64, input string) (application.Step, error)
	Cancel(id int64) application.Step
	Flow(id int64) (application.Registration, bool)
}

// Refresher polls one subject on demand.
type Refresher interface {
	RefreshSubject(ctx context.Context, subjectID int64) (application.SubjectOutcome, error)
}

// Cooldown reports how long a chat identity stays blocked from logging in.
type Cooldown interface {
	RetryAfter(id int64) time.Duration
}

// Bot dispatches chat commands and free text to the application services.
type Bot struct {
	updates      UpdateSource
	replies      driven.Notifier
	registration Registrar
	refresher    Refresher
	store        driven.SubjectStore
	cooldown     Cooldown
	logger       *slog.Logger

	chatLocks sync.Map // int64 -> *sync.Mutex
}

// NewBot creates a Bot with all required dependencies.
func NewBot(
	updates UpdateSource,
	replies driven.Notifier,
	registration Registrar,
	refresher Refresher,
	store driven.SubjectStore,
	cooldown Cooldown,
	logger *slog.Logger,
) *Bot {
	return &Bot{
		updates:      updates,
		replies:      replies,
		registration: registration,
		refresher:    refresher,
		store:        store,
		cooldown:     cooldown,
		logger:       logger,
	}
}

// Run long-polls for updates until ctx is canceled. Updates from different
// chats are handled concurrently; updates from one chat are handled in order.
// In-flight handlers are waited for before Run returns. A subject store
// failure in any handler stops Run with that error.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = longPollTimeout
	cfg.AllowedUpdates = []string{"message"}

	updates := b.updates.GetUpdatesChan(cfg)
	defer b.updates.StopReceivingUpdates()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUpdates)

	b.logger.Info("telegram bot receiving updates")

	for {
		select {
		case <-gctx.Done():
			return g.Wait()
		case update, ok := <-updates:
			if !ok {
				if err := g.Wait(); err != nil {
					return err
				}
				return ErrUpdatesClosed
			}
			msg := update.Message
			if msg == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
				continue
			}
			g.Go(func() error {
				lock := b.chatLock(msg.Chat.ID)
				lock.Lock()
				defer lock.Unlock()
				return b.HandleMessage(ctx, msg)
			})
		}
	}
}

// HandleMessage processes one private chat message. It returns an error only
// for subject store failures; everything else is answered in the chat.
func (b *Bot) HandleMessage(ctx context.Context, msg *tgbotapi.Message) (err error) {
	id := msg.Chat.ID

	defer func() {
		if v := recover(); v != nil {
			b.logger.Error("panic handling telegram message", "subject_id", id, "panic", v)
			err = nil
		}
	}()

	if msg.IsCommand() {
		return b.handleCommand(ctx, id, msg.Command())
	}

	if msg.Text == "" {
		return nil
	}

	flow, active := b.registration.Flow(id)
	if !active {
		b.reply(ctx, id, unknownInputText)
		return nil
	}

	if flow.State == application.StateAwaitingPassword {
		b.deleteMessage(id, msg.MessageID)
	}

	step, err := b.registration.Submit(ctx, id, msg.Text)
	if err != nil {
		return b.registrationFailed(ctx, id, err)
	}
	b.replyStep(ctx, id, step)
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, id int64, command string) error {
	switch command {
	case "start":
		b.reply(ctx, id, welcomeText)
	case "help":
		b.reply(ctx, id, helpText)
	case "register":
		step, err := b.registration.Start(ctx, id)
		if err != nil {
			return b.registrationFailed(ctx, id, err)
		}
		b.replyStep(ctx, id, step)
	case "cancel":
		b.replyStep(ctx, id, b.registration.Cancel(id))
	case "grades":
		b.handleGrades(ctx, id)
	case "profile":
		b.handleProfile(ctx, id)
	default:
		b.reply(ctx, id, unknownCommandText)
	}
	return nil
}

// registrationFailed answers a failed registration step. Store failures are
// returned so the bot stops; other errors end with the reply.
func (b *Bot) registrationFailed(ctx context.Context, id int64, err error) error {
	b.logger.Error("registration step failed", "subject_id", id, "error", err)
	b.reply(ctx, id, internalErrorText)
	if errors.Is(err, application.ErrStore) {
		return err
	}
	return nil
}

// handleGrades refreshes the subject and replies with the full grade list.
// A failed refresh falls back to the stored snapshot.
func (b *Bot) handleGrades(ctx context.Context, id int64) {
	subject, ok := b.registeredSubject(ctx, id)
	if !ok {
		return
	}

	refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	outcome, err := b.refresher.RefreshSubject(refreshCtx, id)
	cancel()

	note := ""
	switch {
	case errors.Is(err, application.ErrNotRegistered):
		b.reply(ctx, id, notRegisteredText)
		return
	case err != nil:
		b.logger.Warn("on-demand refresh failed", "subject_id", id, "error", err)
		note = refreshFailedText
	case outcome.Failed():
		note = refreshFailedText
	}

	// The refresh may have replaced the snapshot.
	if fresh, err := b.store.Get(ctx, id); err == nil && fresh != nil {
		subject = fresh
	}

	if note != "" {
		b.reply(ctx, id, note+"\n\n"+application.RenderSnapshot(subject))
		return
	}
	b.reply(ctx, id, application.RenderSnapshot(subject))
}

func (b *Bot) handleProfile(ctx context.Context, id int64) {
	subject, ok := b.registeredSubject(ctx, id)
	if !ok {
		return
	}
	b.reply(ctx, id, application.RenderProfile(subject))
}

// registeredSubject loads id's subject, replying on its own when the subject
// cannot be used.
func (b *Bot) registeredSubject(ctx context.Context, id int64) (*model.Subject, bool) {
	subject, err := b.store.Get(ctx, id)
	if err != nil {
		b.logger.Error("loading subject failed", "subject_id", id, "error", err)
		b.reply(ctx, id, internalErrorText)
		return nil, false
	}
	if subject == nil || subject.Stale {
		b.reply(ctx, id, notRegisteredText)
		return nil, false
	}
	return subject, true
}

func (b *Bot) replyStep(ctx context.Context, id int64, step application.Step) {
	var text string
	switch step.Outcome {
	case application.OutcomePromptUsername:
		text = promptUsernameText
	case application.OutcomeInvalidUsername:
		text = invalidUsernameText
	case application.OutcomePromptPassword:
		text = promptPasswordText
	case application.OutcomeInvalidPassword:
		text = invalidPasswordText
	case application.OutcomeLoginFailed:
		text = loginFailedText
	case application.OutcomeRegistered:
		text = registeredText
	case application.OutcomeAlreadyRegistered:
		text = alreadyRegisteredText
	case application.OutcomeRateLimited:
		text = rateLimitedText(b.cooldown.RetryAfter(id))
	case application.OutcomeCancelled:
		text = cancelledText
	default:
		text = noFlowText
	}
	b.reply(ctx, id, text)
}

func (b *Bot) reply(ctx context.Context, id int64, text string) {
	if err := b.replies.Send(ctx, id, text); err != nil {
		b.logger.Warn("telegram reply failed", "subject_id", id, "error", err)
	}
}

// deleteMessage removes a message holding a password. Failure is logged and
// otherwise ignored: the bot may lack the right in some chats.
func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if _, err := b.updates.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.logger.Warn("deleting password message failed", "subject_id", chatID, "error", err)
	}
}

func (b *Bot) chatLock(id int64) *sync.Mutex {
	lock, _ := b.chatLocks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func rateLimitedText(wait time.Duration) string {
	if wait <= 0 {
		return "Too many login attempts. Please try again later."
	}
	minutes := int(math.Ceil(wait.Minutes()))
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Too many login attempts. Please try again in %d %s.", minutes, unit)
}

const (
	welcomeText = "**Welcome to gradewatch**\n\n" +
		"I watch your university portal and message you when a grade is published or changes.\n\n" +
		"Send /register to link your portal account, or /help for all commands."

	helpText = "**Commands**\n\n" +
		"/register link your portal account\n" +
		"/cancel abandon registration\n" +
		"/grades fetch and show your current grades\n" +
		"/profile show your linked account\n" +
		"/help show this message"

	promptUsernameText    = "Send your portal username: letters followed by digits, for example ENG2324901."
	invalidUsernameText   = "That username does not look right. It must be letters followed by digits. Try again or send /cancel."
	promptPasswordText    = "Now send your portal password. The message is deleted as soon as it is read."
	invalidPasswordText   = "That password has an unsupported length or character. Try again or send /cancel."
	loginFailedText       = "The portal rejected these credentials. Send your username again to retry, or /cancel."
	registeredText        = "**You are registered.** I will message you whenever your grades change. Send /grades to see them now."
	alreadyRegisteredText = "You are already registered. Send /grades to see your grades or /profile for your account."
	cancelledText         = "Registration cancelled."
	noFlowText            = "There is no registration in progress. Send /register to start one."
	notRegisteredText     = "You are not registered yet. Send /register to link your portal account."
	refreshFailedText     = "_The portal could not be reached, showing the last stored grades._"
	internalErrorText     = "Something went wrong on our side. Please try again later."
	unknownCommandText    = "Unknown command. Send /help for the list of commands."
	unknownInputText      = "I did not understand that. Send /help for the list of commands."
)
