// Package telegram implements the Notifier port on the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*Notifier)(nil)

// Sender is the part of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier delivers markdown messages as Telegram HTML.
type Notifier struct {
	sender Sender
}

// NewNotifier creates a Notifier that sends through sender.
func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// Send formats text and delivers it to the chat recipientID. Messages over
// Telegram's size limit are split on line boundaries. The first failed chunk
// aborts delivery.
func (n *Notifier) Send(ctx context.Context, recipientID int64, text string) error {
	body := FormatHTML(text)
	if body == "" {
		return nil
	}

	for _, chunk := range splitMessage(body, maxMessageRunes) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", driven.ErrRecipientUnreachable, err)
		}

		msg := tgbotapi.NewMessage(recipientID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true

		if _, err := n.sender.Send(msg); err != nil {
			return classifySendError(err)
		}
	}
	return nil
}

// classifySendError maps Bot API failures onto the delivery sentinels.
// Forbidden and bad-request answers are rejections; anything else counts as
// the recipient being unreachable.
func classifySendError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusForbidden, http.StatusBadRequest:
			return fmt.Errorf("%w: %s", driven.ErrDeliveryRejected, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", driven.ErrRecipientUnreachable, apiErr.Message)
	}
	return fmt.Errorf("%w: %w", driven.ErrRecipientUnreachable, err)
}
