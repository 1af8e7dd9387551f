package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/gradewatch/internal/application"
	"github.com/ericfisherdev/gradewatch/internal/domain/model"
	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
)

func TestDispatch_EmptyChangeSetSendsNothing(t *testing.T) {
	notifier := &mockNotifier{}
	d := application.NewDispatcher(notifier)
	subject := activeSubject(1)

	err := d.Dispatch(context.Background(), &subject, nil)

	require.NoError(t, err)
	assert.Empty(t, notifier.messages())
}

func TestDispatch_SendsOneMessage(t *testing.T) {
	notifier := &mockNotifier{}
	d := application.NewDispatcher(notifier)
	subject := activeSubject(42, model.Record{Name: "Physics", Code: "PHY101", Total: "80"})

	err := d.Dispatch(context.Background(), &subject, []model.Record{
		{Name: "Physics", Code: "PHY101", Total: "85"},
		{Name: "Chemistry", Code: "CHE101", Total: "70"},
	})

	require.NoError(t, err)
	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].RecipientID)
	assert.Contains(t, msgs[0].Text, "Physics")
	assert.Contains(t, msgs[0].Text, "Chemistry")
}

func TestDispatch_PropagatesDeliveryError(t *testing.T) {
	notifier := &mockNotifier{err: driven.ErrRecipientUnreachable}
	d := application.NewDispatcher(notifier)
	subject := activeSubject(1)

	err := d.Dispatch(context.Background(), &subject, []model.Record{{Code: "C1", Total: "1"}})

	assert.ErrorIs(t, err, driven.ErrRecipientUnreachable)
}

func TestRenderChanges(t *testing.T) {
	subject := activeSubject(1, model.Record{Name: "Physics", Code: "PHY101", Coursework: "20", FinalExam: "60", Total: "80"})
	subject.Profile.FullName = "Sara Ali"

	text := application.RenderChanges(&subject, []model.Record{
		{Name: "Physics", Code: "PHY101", Coursework: "20", FinalExam: "65", Total: "85"},
	})

	assert.Contains(t, text, "**Grades updated for Sara Ali**")
	assert.Contains(t, text, "**Physics** \\(PHY101\\)")
	assert.Contains(t, text, "• Coursework: 20\n")
	assert.Contains(t, text, "• Final exam: 60 → 65\n")
	assert.Contains(t, text, "• Total: 80 → 85\n")
}

func TestRenderChanges_ClearedValue(t *testing.T) {
	subject := activeSubject(1, model.Record{Code: "C1", Total: "80"})

	text := application.RenderChanges(&subject, []model.Record{{Code: "C1", Total: ""}})

	assert.Contains(t, text, "• Total: 80 → n/a\n")
}

func TestRenderChanges_EscapesMarkdown(t *testing.T) {
	subject := activeSubject(1)

	text := application.RenderChanges(&subject, []model.Record{{Name: "C++ [lab]", Code: "CS-1", Total: "9.5"}})

	assert.Contains(t, text, "**C\\+\\+ \\[lab\\]** \\(CS\\-1\\)")
	assert.Contains(t, text, "• Total: 9\\.5\n")
}

func TestRenderSnapshot(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		subject := activeSubject(1)
		assert.Contains(t, application.RenderSnapshot(&subject), "No grades have been published yet.")
	})

	t.Run("lists records", func(t *testing.T) {
		subject := activeSubject(1,
			model.Record{Name: "Physics", Code: "PHY101", ECTS: "6", Total: "85"},
			model.Record{Name: "Ethics", Total: ""},
		)

		text := application.RenderSnapshot(&subject)

		assert.Contains(t, text, "**Current grades")
		assert.Contains(t, text, "• ECTS: 6\n")
		assert.Contains(t, text, "• Total: 85\n")
		assert.Contains(t, text, "**Ethics**\n")
	})
}

func TestRenderProfile(t *testing.T) {
	subject := model.Subject{
		ID:       7,
		Username: "ENG2324901",
		Secret:   "hunter22",
		Token:    "tok",
		Profile: model.Profile{
			PortalUserID: "991",
			FullName:     "Sara Ali",
			Email:        "sara@example.edu",
		},
		RegisteredAt: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}

	got := application.RenderProfile(&subject)

	assert.Contains(t, got, "**Profile**")
	assert.Contains(t, got, "• Name: Sara Ali\n")
	assert.Contains(t, got, "• Username: ENG2324901\n")
	assert.Contains(t, got, "• Email: sara@example\\.edu\n")
	assert.Contains(t, got, "• Portal ID: 991\n")
	assert.Contains(t, got, "• Registered: 2026\\-02\\-10\n")
	assert.NotContains(t, got, "Last update")
	assert.NotContains(t, got, "hunter22")
	assert.NotContains(t, got, "tok\n")
}
