package application_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/gradewatch/internal/domain/model"
	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
)

// --- Portal ---

type mockPortal struct {
	loginFn     func(ctx context.Context, username, secret string) (string, error)
	testTokenFn func(ctx context.Context, token string) bool
	fetchFn     func(ctx context.Context, token string) (*model.UserData, error)

	logins  atomic.Int32
	fetches atomic.Int32
}

var _ driven.PortalClient = (*mockPortal)(nil)

func (m *mockPortal) Login(ctx context.Context, username, secret string) (string, error) {
	m.logins.Add(1)
	if m.loginFn == nil {
		return "fresh-token", nil
	}
	return m.loginFn(ctx, username, secret)
}

func (m *mockPortal) TestToken(ctx context.Context, token string) bool {
	if m.testTokenFn == nil {
		return token != ""
	}
	return m.testTokenFn(ctx, token)
}

func (m *mockPortal) FetchUserData(ctx context.Context, token string) (*model.UserData, error) {
	m.fetches.Add(1)
	if m.fetchFn == nil {
		return &model.UserData{}, nil
	}
	return m.fetchFn(ctx, token)
}

// --- Store ---

type mockStore struct {
	mu           sync.Mutex
	subjects     map[int64]model.Subject
	tokenUpdates map[int64][]string
	snapshots    map[int64][][]model.Record
	staleMarks   []int64
	saves        []model.Subject

	getErr          error
	listErr         error
	saveErr         error
	updateTokenErr  error
	saveSnapshotErr error
	pingErr         error
}

var _ driven.SubjectStore = (*mockStore)(nil)

func newMockStore(subjects ...model.Subject) *mockStore {
	s := &mockStore{
		subjects:     make(map[int64]model.Subject),
		tokenUpdates: make(map[int64][]string),
		snapshots:    make(map[int64][][]model.Record),
	}
	for _, subject := range subjects {
		s.subjects[subject.ID] = subject
	}
	return s
}

func (m *mockStore) Get(_ context.Context, id int64) (*model.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	subject, ok := m.subjects[id]
	if !ok {
		return nil, nil
	}
	return &subject, nil
}

func (m *mockStore) ListAll(_ context.Context) ([]model.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.Subject, 0, len(m.subjects))
	for _, subject := range m.subjects {
		out = append(out, subject)
	}
	return out, nil
}

func (m *mockStore) Save(_ context.Context, subject model.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	subject.Snapshot = nil
	subject.SnapshotAt = time.Time{}
	subject.Stale = false
	m.subjects[subject.ID] = subject
	m.saves = append(m.saves, subject)
	return nil
}

func (m *mockStore) UpdateToken(_ context.Context, id int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateTokenErr != nil {
		return m.updateTokenErr
	}
	m.tokenUpdates[id] = append(m.tokenUpdates[id], token)
	subject := m.subjects[id]
	subject.Token = token
	m.subjects[id] = subject
	return nil
}

func (m *mockStore) SaveSnapshot(_ context.Context, id int64, records []model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveSnapshotErr != nil {
		return m.saveSnapshotErr
	}
	m.snapshots[id] = append(m.snapshots[id], records)
	subject := m.subjects[id]
	subject.Snapshot = records
	subject.SnapshotAt = time.Now()
	m.subjects[id] = subject
	return nil
}

func (m *mockStore) MarkStale(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleMarks = append(m.staleMarks, id)
	subject := m.subjects[id]
	subject.Stale = true
	m.subjects[id] = subject
	return nil
}

func (m *mockStore) Ping(_ context.Context) error {
	return m.pingErr
}

func (m *mockStore) snapshotCount(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots[id])
}

func (m *mockStore) tokenUpdateCount(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokenUpdates[id])
}

// --- Notifier ---

type sentMessage struct {
	RecipientID int64
	Text        string
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

var _ driven.Notifier = (*mockNotifier)(nil)

func (m *mockNotifier) Send(_ context.Context, recipientID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{RecipientID: recipientID, Text: text})
	return nil
}

func (m *mockNotifier) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

// --- Limiter ---

type attemptCall struct {
	ID      int64
	Success bool
}

type mockLimiter struct {
	mu       sync.Mutex
	allowed  func(id int64) bool
	attempts []attemptCall
}

var _ driven.AttemptLimiter = (*mockLimiter)(nil)

func (m *mockLimiter) CheckAttemptAllowed(id int64) bool {
	if m.allowed == nil {
		return true
	}
	return m.allowed(id)
}

func (m *mockLimiter) RecordAttempt(id int64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attemptCall{ID: id, Success: success})
}

// --- Fixtures ---

func activeSubject(id int64, snapshot ...model.Record) model.Subject {
	subject := model.Subject{
		ID:       id,
		Username: "abc1234",
		Secret:   "secret-pass",
		Token:    "valid-token",
		Snapshot: snapshot,
	}
	if snapshot != nil {
		subject.SnapshotAt = time.Now().Add(-time.Hour)
	}
	return subject
}
