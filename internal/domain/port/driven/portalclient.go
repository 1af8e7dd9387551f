package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/gradewatch/internal/domain/model"
)

// Sentinel errors returned by PortalClient implementations.
var (
	// ErrLoginFailed indicates the portal rejected the credentials or did not
	// issue a token.
	ErrLoginFailed = errors.New("portal login failed")

	// ErrPortalUnavailable indicates a transport failure, timeout, non-success
	// status or open circuit.
	ErrPortalUnavailable = errors.New("portal unavailable")

	// ErrMalformedData indicates the portal answered but the payload could not
	// be interpreted.
	ErrMalformedData = errors.New("portal returned malformed data")
)

// PortalClient defines the driven port for the university portal.
type PortalClient interface {
	// Login exchanges credentials for a session token.
	Login(ctx context.Context, username, secret string) (string, error)

	// TestToken reports whether the token is still accepted. Any failure
	// counts as invalid.
	TestToken(ctx context.Context, token string) bool

	// FetchUserData returns the profile and current grade records.
	FetchUserData(ctx context.Context, token string) (*model.UserData, error)
}
