package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/ericfisherdev/gradewatch/internal/application"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastTree() *Tree {
	return NewTree(testLogger(), TreeConfig{
		FailureBackoff:  10 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})
}

type fakePoller struct {
	starts atomic.Int32
	err    error
}

func (p *fakePoller) Start(ctx context.Context) error {
	p.starts.Add(1)
	if p.err != nil {
		return p.err
	}
	<-ctx.Done()
	return nil
}

type fakeRunner struct {
	runs atomic.Int32
	fail atomic.Int32
}

func (r *fakeRunner) Run(ctx context.Context) error {
	r.runs.Add(1)
	if r.fail.Load() > 0 {
		r.fail.Add(-1)
		return errors.New("update channel closed")
	}
	<-ctx.Done()
	return nil
}

func serveInBackground(t *testing.T, tree *Tree, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
		return nil
	}
}

func TestNewTree_AppliesDefaults(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{})

	assert.Equal(t, DefaultTreeConfig(), tree.config)
}

func TestTree_StopsOnCancel(t *testing.T) {
	tree := fastTree()
	poller := &fakePoller{}
	runner := &fakeRunner{}
	tree.AddPoller(poller)
	tree.AddCoreService(NewRunnerService("telegram-bot", runner))

	ctx, cancel := context.WithCancel(context.Background())
	done := serveInBackground(t, tree, ctx)

	require.Eventually(t, func() bool {
		return poller.starts.Load() == 1 && runner.runs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
}

func TestTree_StoreFailureIsFatal(t *testing.T) {
	tree := fastTree()
	poller := &fakePoller{err: fmt.Errorf("%w: disk I/O error", application.ErrStore)}
	tree.AddPoller(poller)

	done := serveInBackground(t, tree, context.Background())
	err := waitDone(t, done)

	require.Error(t, err)
	assert.ErrorIs(t, err, application.ErrStore)
	assert.Equal(t, int32(1), poller.starts.Load(), "fatal errors are not restarted")
}

type storeFailingRunner struct {
	runs atomic.Int32
}

func (r *storeFailingRunner) Run(context.Context) error {
	r.runs.Add(1)
	return fmt.Errorf("%w: database is locked", application.ErrStore)
}

func TestTree_RunnerStoreFailureIsFatal(t *testing.T) {
	tree := fastTree()
	runner := &storeFailingRunner{}
	tree.AddCoreRunner("telegram-bot", runner)

	done := serveInBackground(t, tree, context.Background())
	err := waitDone(t, done)

	require.Error(t, err)
	assert.ErrorIs(t, err, application.ErrStore)
	assert.Equal(t, int32(1), runner.runs.Load(), "fatal errors are not restarted")
}

func TestTree_RestartsFailedRunner(t *testing.T) {
	tree := fastTree()
	runner := &fakeRunner{}
	runner.fail.Store(2)
	tree.AddCoreService(NewRunnerService("telegram-bot", runner))

	ctx, cancel := context.WithCancel(context.Background())
	done := serveInBackground(t, tree, ctx)

	require.Eventually(t, func() bool { return runner.runs.Load() == 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
}

func TestPollerService_Serve(t *testing.T) {
	var terminated error
	terminate := func(err error) error {
		terminated = err
		return fmt.Errorf("%w: %w", suture.ErrTerminateSupervisorTree, err)
	}

	t.Run("store failure terminates", func(t *testing.T) {
		terminated = nil
		svc := NewPollerService(&fakePoller{err: application.ErrStore}, terminate)

		err := svc.Serve(context.Background())

		assert.ErrorIs(t, err, suture.ErrTerminateSupervisorTree)
		assert.ErrorIs(t, terminated, application.ErrStore)
	})

	t.Run("other errors restart", func(t *testing.T) {
		terminated = nil
		svc := NewPollerService(&fakePoller{err: errors.New("boom")}, terminate)

		err := svc.Serve(context.Background())

		require.Error(t, err)
		assert.NotErrorIs(t, err, suture.ErrTerminateSupervisorTree)
		assert.NoError(t, terminated)
	})

	t.Run("cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		svc := NewPollerService(&fakePoller{}, terminate)

		assert.ErrorIs(t, svc.Serve(ctx), context.Canceled)
	})
}

type fakeHTTPServer struct {
	listenErr error
	stop      chan struct{}
	shutdowns atomic.Int32
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{stop: make(chan struct{})}
}

func (s *fakeHTTPServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.stop
	return http.ErrServerClosed
}

func (s *fakeHTTPServer) Shutdown(_ context.Context) error {
	s.shutdowns.Add(1)
	close(s.stop)
	return nil
}

func TestHTTPServerService_ShutsDownOnCancel(t *testing.T) {
	server := newFakeHTTPServer()
	svc := NewHTTPServerService(server, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()

	err := waitDone(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), server.shutdowns.Load())
}

func TestHTTPServerService_ListenFailure(t *testing.T) {
	server := newFakeHTTPServer()
	server.listenErr = errors.New("address already in use")
	svc := NewHTTPServerService(server, 0)

	err := svc.Serve(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
	assert.Equal(t, 10*time.Second, svc.shutdownTimeout)
	assert.Equal(t, "http-server", svc.String())
}
