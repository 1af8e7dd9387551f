package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/gradewatch/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by SubjectStore operations when
// GRADEWATCH_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set GRADEWATCH_SECRET_KEY")

// SubjectStore defines the driven port for subject persistence. Secrets cross
// this boundary as plaintext; the adapter encrypts them at rest.
type SubjectStore interface {
	// Get returns the subject with the given id, or (nil, nil) if none exists.
	Get(ctx context.Context, id int64) (*model.Subject, error)

	// ListAll returns every stored subject, stale ones included.
	ListAll(ctx context.Context) ([]model.Subject, error)

	// Save inserts or replaces the subject's credentials, token and profile.
	// A replaced subject has its snapshot cleared and its stale flag reset.
	Save(ctx context.Context, subject model.Subject) error

	// UpdateToken replaces the subject's session token.
	UpdateToken(ctx context.Context, id int64, token string) error

	// SaveSnapshot replaces the subject's stored records wholesale.
	SaveSnapshot(ctx context.Context, id int64, records []model.Record) error

	// MarkStale excludes the subject from polling until it registers again.
	MarkStale(ctx context.Context, id int64) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
