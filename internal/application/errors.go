package application

import "errors"

var (
	// ErrNoCredentials indicates a subject has no stored secret, so its session
	// cannot be renewed. The subject is marked stale until it registers again.
	ErrNoCredentials = errors.New("no stored credentials")

	// ErrBadFormat indicates registration input failed format validation.
	ErrBadFormat = errors.New("input has invalid format")

	// ErrRateLimited indicates the attempt limiter refused a registration attempt.
	ErrRateLimited = errors.New("too many registration attempts")

	// ErrNotRegistered indicates an operation targeted an unknown or stale subject.
	ErrNotRegistered = errors.New("subject not registered")

	// ErrStore wraps subject store failures. Store failures are fatal for the
	// poll loop: the process stops instead of continuing with lost writes.
	ErrStore = errors.New("subject store failure")
)
