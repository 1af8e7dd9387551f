// Package supervisor runs the long-lived services under a suture tree so a
// crashed poller, bot or HTTP server is restarted with backoff instead of
// taking the process down.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig configures restart behavior for every supervisor in the tree.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is how long each service gets to stop.
	// Default: 60s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns the restart settings used for zero fields.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  60 * time.Second,
	}
}

// Tree is a two-branch supervision tree:
//
//	gradewatch
//	├── core  (poller, chat bot)
//	└── api   (status HTTP server)
type Tree struct {
	root   *suture.Supervisor
	core   *suture.Supervisor
	api    *suture.Supervisor
	logger *slog.Logger
	config TreeConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	fatal  error
}

// NewTree builds the tree. Supervisor events are logged through logger.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = def.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = def.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}

	// MustHook has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}

	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("gradewatch", rootSpec)
	core := suture.New("core", childSpec)
	api := suture.New("api", childSpec)
	root.Add(core)
	root.Add(api)

	return &Tree{
		root:   root,
		core:   core,
		api:    api,
		logger: logger,
		config: config,
	}
}

// AddPoller supervises the grade poller. A store failure reported by the
// poller stops the whole tree and is returned from Serve.
func (t *Tree) AddPoller(p Poller) suture.ServiceToken {
	return t.core.Add(NewPollerService(p, t.terminate))
}

// AddCoreRunner supervises r on the core branch. Like the poller, a store
// failure from r stops the whole tree.
func (t *Tree) AddCoreRunner(name string, r Runner) suture.ServiceToken {
	svc := NewRunnerService(name, r)
	svc.terminate = t.terminate
	return t.core.Add(svc)
}

// AddCoreService supervises a service on the core branch.
func (t *Tree) AddCoreService(svc suture.Service) suture.ServiceToken {
	return t.core.Add(svc)
}

// AddAPIService supervises a service on the api branch.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is canceled or a service terminates it. It
// returns nil on cancellation and the fatal error otherwise.
func (t *Tree) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	err := t.root.Serve(ctx)

	if report, rerr := t.root.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			t.logger.Warn("service did not stop within timeout", "service", svc.Name)
		}
	}

	if fatal := t.fatalErr(); fatal != nil {
		return fatal
	}
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// terminate records err as the tree's exit error and stops the tree.
func (t *Tree) terminate(err error) error {
	t.mu.Lock()
	if t.fatal == nil {
		t.fatal = err
	}
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return fmt.Errorf("%w: %w", suture.ErrTerminateSupervisorTree, err)
}

func (t *Tree) fatalErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fatal
}
