package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
)

// Login exchanges portal credentials for a bearer token. Transient failures
// are retried with exponential backoff up to MaxRetries times; rejected
// credentials and a missing token are not retried.
func (c *Client) Login(ctx context.Context, username, secret string) (string, error) {
	req := graphqlRequest{
		OperationName: "signinUser",
		Query:         loginMutation,
		Variables: map[string]any{
			"username": username,
			"password": secret,
		},
	}

	attempt := 0
	operation := func() (string, error) {
		attempt++
		body, err := c.post(ctx, c.cfg.LoginEndpoint, "login", req, "")
		if err != nil {
			if errors.Is(err, errUnauthorized) {
				return "", backoff.Permanent(fmt.Errorf("%w: %w", driven.ErrLoginFailed, err))
			}
			slog.Debug("portal login attempt failed", "attempt", attempt, "error", err)
			return "", err
		}

		var resp loginResponse
		if err := decode(body, &resp); err != nil {
			return "", backoff.Permanent(err)
		}
		if resp.Data.Login == nil || strings.TrimSpace(*resp.Data.Login) == "" {
			reason := "no token in response"
			if len(resp.Errors) > 0 {
				reason = joinErrors(resp.Errors)
			}
			return "", backoff.Permanent(fmt.Errorf("%w: %s", driven.ErrLoginFailed, reason))
		}
		return strings.TrimSpace(*resp.Data.Login), nil
	}

	token, err := backoff.RetryWithData(operation, c.loginBackOff(ctx))
	if err != nil {
		return "", err
	}
	return token, nil
}

func (c *Client) loginBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retryInterval
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0

	retries := max(c.cfg.MaxRetries, 0)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// TestToken reports whether the portal still accepts token. Any failure,
// including an unreachable portal, counts as rejection.
func (c *Client) TestToken(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	body, err := c.post(ctx, c.cfg.Endpoint, "test_token", graphqlRequest{
		OperationName: "TestToken",
		Query:         testTokenQuery,
	}, token)
	if err != nil {
		slog.Debug("portal token probe failed", "error", err)
		return false
	}

	var resp userResponse
	if err := decode(body, &resp); err != nil {
		return false
	}
	return resp.Data.GetGUI != nil && resp.Data.GetGUI.User != nil
}
