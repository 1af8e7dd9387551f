package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestNotifier_Send(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender)

	err := n.Send(context.Background(), 42, "**Grades updated**\n\n**Physics** \\(PHY101\\)\n• Total: 80 → 85\n")

	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.True(t, msg.DisableWebPagePreview)
	assert.Equal(t, "<strong>Grades updated</strong>\n\n<strong>Physics</strong> (PHY101)\n• Total: 80 → 85", msg.Text)
}

func TestNotifier_SendEmptyIsNoop(t *testing.T) {
	sender := &fakeSender{}

	require.NoError(t, NewNotifier(sender).Send(context.Background(), 1, ""))
	assert.Empty(t, sender.sent)
}

func TestNotifier_SendSplitsLongMessages(t *testing.T) {
	sender := &fakeSender{}
	line := strings.Repeat("x", 100)
	var b strings.Builder
	for range 100 {
		b.WriteString(line)
		b.WriteString("\n")
	}

	err := NewNotifier(sender).Send(context.Background(), 1, b.String())

	require.NoError(t, err)
	require.Greater(t, len(sender.sent), 1)
	for _, msg := range sender.sent {
		assert.LessOrEqual(t, len([]rune(msg.Text)), maxMessageRunes)
	}
}

func TestNotifier_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"blocked by user", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}, driven.ErrDeliveryRejected},
		{"chat not found", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, driven.ErrDeliveryRejected},
		{"flood control", &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}, driven.ErrRecipientUnreachable},
		{"network", errors.New("dial tcp: i/o timeout"), driven.ErrRecipientUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNotifier(&fakeSender{err: tt.err})
			err := n.Send(context.Background(), 1, "hello")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNotifier_CanceledContext(t *testing.T) {
	sender := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewNotifier(sender).Send(ctx, 1, "hello")

	assert.ErrorIs(t, err, driven.ErrRecipientUnreachable)
	assert.Empty(t, sender.sent)
}

func TestFormatHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"bold", "**hi**", "<strong>hi</strong>"},
		{"escaped punctuation", "a \\(b\\) 9\\.5", "a (b) 9.5"},
		{"ampersand", "R&D", "R&amp;D"},
		{"paragraphs", "one\n\ntwo", "one\n\ntwo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatHTML(tt.in))
		})
	}
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, splitMessage("aaaa\nbbbb\ncccc", 10))
	assert.Equal(t, []string{"abcde", "fghij", "k"}, splitMessage("abcdefghijk", 5))
}
