package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/gradewatch/internal/domain/model"
	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
	"github.com/ericfisherdev/gradewatch/internal/metrics"
)

// SessionManager keeps each subject's portal token usable. Concurrent
// requests for the same subject share a single login; different subjects
// never wait on each other.
type SessionManager struct {
	portal  driven.PortalClient
	store   driven.SubjectStore
	flights singleflight.Group
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(portal driven.PortalClient, store driven.SubjectStore) *SessionManager {
	return &SessionManager{portal: portal, store: store}
}

// EnsureToken returns a token the portal currently accepts for subject. A
// stored token that passes TestToken is returned unchanged. Otherwise the
// subject logs in again with its stored credentials and the fresh token is
// persisted before it is returned; subject.Token is updated in place.
//
// Errors: ErrNoCredentials when no secret is stored, driven.ErrLoginFailed
// when the login does not produce a token, and ErrStore when the new token
// cannot be saved.
func (m *SessionManager) EnsureToken(ctx context.Context, subject *model.Subject) (string, error) {
	if subject.Token != "" && m.portal.TestToken(ctx, subject.Token) {
		return subject.Token, nil
	}

	if !subject.HasSecret() {
		return "", ErrNoCredentials
	}

	v, err, _ := m.flights.Do(strconv.FormatInt(subject.ID, 10), func() (any, error) {
		return m.relogin(ctx, subject.ID, subject.Username, subject.Secret)
	})
	if err != nil {
		return "", err
	}

	token := v.(string)
	subject.Token = token
	return token, nil
}

func (m *SessionManager) relogin(ctx context.Context, id int64, username, secret string) (string, error) {
	token, err := m.portal.Login(ctx, username, secret)
	if err != nil {
		metrics.Reauthentications.WithLabelValues("failed").Inc()
		if errors.Is(err, driven.ErrLoginFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", driven.ErrLoginFailed, err)
	}

	if err := m.store.UpdateToken(ctx, id, token); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStore, err)
	}

	metrics.Reauthentications.WithLabelValues("ok").Inc()
	slog.Debug("session renewed", "subject_id", id)
	return token, nil
}
