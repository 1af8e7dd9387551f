package driven

import (
	"context"
	"errors"
)

// Sentinel errors returned by Notifier implementations.
var (
	// ErrRecipientUnreachable indicates the message could not be delivered
	// for transport reasons.
	ErrRecipientUnreachable = errors.New("recipient unreachable")

	// ErrDeliveryRejected indicates the chat platform refused the message,
	// for example because the recipient blocked the bot.
	ErrDeliveryRejected = errors.New("delivery rejected")
)

// Notifier delivers rendered markdown text to a chat identity.
type Notifier interface {
	Send(ctx context.Context, recipientID int64, text string) error
}
