package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ericfisherdev/gradewatch/internal/application"
)

// Poller runs the poll loop until ctx is canceled.
type Poller interface {
	Start(ctx context.Context) error
}

// PollerService supervises the poll loop. Store failures are fatal; any
// other error is returned so suture restarts the loop.
type PollerService struct {
	poller    Poller
	terminate func(error) error
}

// NewPollerService wraps p. terminate is called with store failures and its
// result is returned to the supervisor.
func NewPollerService(p Poller, terminate func(error) error) *PollerService {
	return &PollerService{poller: p, terminate: terminate}
}

// Serve implements suture.Service.
func (s *PollerService) Serve(ctx context.Context) error {
	err := s.poller.Start(ctx)
	switch {
	case err == nil:
		return ctx.Err()
	case errors.Is(err, application.ErrStore):
		return s.terminate(err)
	default:
		return fmt.Errorf("poller stopped: %w", err)
	}
}

func (s *PollerService) String() string {
	return "poller"
}

// Runner is a blocking loop that stops when ctx is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService supervises a Runner such as the chat bot.
type RunnerService struct {
	runner    Runner
	name      string
	terminate func(error) error
}

// NewRunnerService wraps r under the given service name. Every error it
// returns is restarted.
func NewRunnerService(name string, r Runner) *RunnerService {
	return &RunnerService{runner: r, name: name}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	switch {
	case err == nil:
		return ctx.Err()
	case s.terminate != nil && errors.Is(err, application.ErrStore):
		return s.terminate(fmt.Errorf("%s stopped: %w", s.name, err))
	default:
		return fmt.Errorf("%s stopped: %w", s.name, err)
	}
}

func (s *RunnerService) String() string {
	return s.name
}

// HTTPServer matches the *http.Server lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server as a supervised service and shuts it
// down gracefully when the tree stops.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService creates the wrapper. A non-positive shutdownTimeout
// defaults to 10s.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve implements suture.Service. http.ErrServerClosed is expected on
// shutdown and is not reported.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The tree context is already canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}

		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string {
	return "http-server"
}
