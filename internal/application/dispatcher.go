package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/gradewatch/internal/domain/model"
	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
	"github.com/ericfisherdev/gradewatch/internal/metrics"
)

// Dispatcher turns change sets into chat messages. Delivery is at most once:
// failures are logged and reported to the caller, never retried.
type Dispatcher struct {
	notifier driven.Notifier
}

// NewDispatcher creates a Dispatcher that delivers through notifier.
func NewDispatcher(notifier driven.Notifier) *Dispatcher {
	return &Dispatcher{notifier: notifier}
}

// Dispatch sends one message describing every record in changes. Previous
// values are taken from subject.Snapshot. An empty change set sends nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, subject *model.Subject, changes []model.Record) error {
	if len(changes) == 0 {
		return nil
	}

	text := RenderChanges(subject, changes)
	if err := d.notifier.Send(ctx, subject.ID, text); err != nil {
		result := "unreachable"
		if errors.Is(err, driven.ErrDeliveryRejected) {
			result = "rejected"
		}
		metrics.Notifications.WithLabelValues(result).Inc()
		slog.Warn("notification delivery failed",
			"subject_id", subject.ID,
			"changes", len(changes),
			"result", result,
			"error", err,
		)
		return err
	}

	metrics.Notifications.WithLabelValues("sent").Inc()
	slog.Info("notification sent", "subject_id", subject.ID, "changes", len(changes))
	return nil
}

// RenderChanges renders a change set as markdown. A field shows "old → new"
// only when a previous value exists and differs from the new one.
func RenderChanges(subject *model.Subject, changes []model.Record) string {
	prev := previousByKey(subject.Snapshot)

	var b strings.Builder
	b.WriteString("**Grades updated")
	if name := subject.DisplayName(); name != "" {
		b.WriteString(" for ")
		b.WriteString(escapeMarkdown(name))
	}
	b.WriteString("**\n")

	for _, rec := range changes {
		old := prev[rec.Key()]
		b.WriteString("\n")
		writeRecordHeading(&b, rec)
		writeField(&b, "Coursework", old.Coursework, rec.Coursework)
		writeField(&b, "Final exam", old.FinalExam, rec.FinalExam)
		writeField(&b, "Total", old.Total, rec.Total)
	}

	return b.String()
}

// RenderSnapshot renders a subject's full stored grade list as markdown.
func RenderSnapshot(subject *model.Subject) string {
	var b strings.Builder
	b.WriteString("**Current grades")
	if name := subject.DisplayName(); name != "" {
		b.WriteString(" for ")
		b.WriteString(escapeMarkdown(name))
	}
	b.WriteString("**\n")

	if len(subject.Snapshot) == 0 {
		b.WriteString("\nNo grades have been published yet.\n")
		return b.String()
	}

	for _, rec := range subject.Snapshot {
		b.WriteString("\n")
		writeRecordHeading(&b, rec)
		if ects := strings.TrimSpace(rec.ECTS); ects != "" {
			writeLine(&b, "ECTS", ects)
		}
		writeField(&b, "Coursework", "", rec.Coursework)
		writeField(&b, "Final exam", "", rec.FinalExam)
		writeField(&b, "Total", "", rec.Total)
	}

	return b.String()
}

// RenderProfile renders the stored account details. The secret and token are
// never included.
func RenderProfile(subject *model.Subject) string {
	var b strings.Builder
	b.WriteString("**Profile**\n\n")
	if name := subject.Profile.FullName; name != "" {
		writeLine(&b, "Name", name)
	}
	writeLine(&b, "Username", subject.Username)
	if email := subject.Profile.Email; email != "" {
		writeLine(&b, "Email", email)
	}
	if id := subject.Profile.PortalUserID; id != "" {
		writeLine(&b, "Portal ID", id)
	}
	if !subject.RegisteredAt.IsZero() {
		writeLine(&b, "Registered", subject.RegisteredAt.UTC().Format("2006-01-02"))
	}
	if subject.HasBaseline() {
		writeLine(&b, "Last update", subject.SnapshotAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}

func writeRecordHeading(b *strings.Builder, rec model.Record) {
	b.WriteString("**")
	b.WriteString(escapeMarkdown(rec.DisplayName()))
	b.WriteString("**")
	if code := strings.TrimSpace(rec.Code); code != "" && code != rec.DisplayName() {
		b.WriteString(" \\(")
		b.WriteString(escapeMarkdown(code))
		b.WriteString("\\)")
	}
	b.WriteString("\n")
}

func writeField(b *strings.Builder, label, oldValue, newValue string) {
	oldValue = strings.TrimSpace(oldValue)
	newValue = strings.TrimSpace(newValue)

	switch {
	case newValue == "" && oldValue == "":
		return
	case oldValue != "" && oldValue != newValue:
		writeLine(b, label, oldValue+" → "+displayValue(newValue))
	default:
		writeLine(b, label, newValue)
	}
}

func writeLine(b *strings.Builder, label, value string) {
	b.WriteString("• ")
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(escapeMarkdown(value))
	b.WriteString("\n")
}

func displayValue(v string) string {
	if v == "" {
		return "n/a"
	}
	return v
}

// markdownPunctuation is the set of ASCII punctuation CommonMark lets us
// backslash-escape.
const markdownPunctuation = "\\`*_{}[]()#+-.!|<>~=&"

func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownPunctuation, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
