// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/gradewatch/internal/domain/model"
	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
	"github.com/ericfisherdev/gradewatch/internal/metrics"
)

// SubjectOutcome classifies how polling one subject ended.
type SubjectOutcome string

const (
	SubjectNotified       SubjectOutcome = "notified"
	SubjectUnchanged      SubjectOutcome = "unchanged"
	SubjectBaseline       SubjectOutcome = "baseline"
	SubjectNoCredentials  SubjectOutcome = "no_credentials"
	SubjectAuthFailed     SubjectOutcome = "auth_failed"
	SubjectFetchFailed    SubjectOutcome = "fetch_failed"
	SubjectDeliveryFailed SubjectOutcome = "delivery_failed"
	SubjectSkipped        SubjectOutcome = "skipped"
	SubjectPanicked       SubjectOutcome = "panicked"
)

// Failed reports whether the outcome counts as a per-subject failure.
func (o SubjectOutcome) Failed() bool {
	switch o {
	case SubjectAuthFailed, SubjectFetchFailed, SubjectDeliveryFailed, SubjectPanicked, SubjectNoCredentials:
		return true
	}
	return false
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Subjects  int
	Stale     int
	Notified  int
	Failed    int
	Skipped   int
}

// PollConfig holds the scheduler settings.
type PollConfig struct {
	Interval         time.Duration
	Warmup           time.Duration
	MaxConcurrency   int
	NotifyOnBaseline bool
}

// refreshRequest represents an on-demand poll of one subject.
type refreshRequest struct {
	subjectID int64
	done      chan refreshResult
}

type refreshResult struct {
	outcome SubjectOutcome
	err     error
}

// PollService runs poll cycles on a fixed interval measured between cycle
// completions and fans each cycle out over at most MaxConcurrency subjects.
type PollService struct {
	store            driven.SubjectStore
	portal           driven.PortalClient
	sessions         *SessionManager
	dispatcher       *Dispatcher
	interval         time.Duration
	warmup           time.Duration
	concurrency      int
	notifyOnBaseline bool
	refreshCh        chan refreshRequest

	mu        sync.RWMutex
	lastCycle CycleStats
	hasCycle  bool
}

// NewPollService creates a new PollService with all required dependencies.
func NewPollService(
	store driven.SubjectStore,
	portal driven.PortalClient,
	sessions *SessionManager,
	dispatcher *Dispatcher,
	cfg PollConfig,
) *PollService {
	concurrency := cfg.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &PollService{
		store:            store,
		portal:           portal,
		sessions:         sessions,
		dispatcher:       dispatcher,
		interval:         cfg.Interval,
		warmup:           cfg.Warmup,
		concurrency:      concurrency,
		notifyOnBaseline: cfg.NotifyOnBaseline,
		refreshCh:        make(chan refreshRequest),
	}
}

// Start runs the polling loop until ctx is canceled. The first cycle starts
// after the warm-up delay; each following cycle starts one interval after the
// previous one finished, so cycles never overlap. Refresh requests are served
// between cycles. Start returns an error wrapping ErrStore when the subject
// store fails, and nil on cancellation.
func (s *PollService) Start(ctx context.Context) error {
	timer := time.NewTimer(s.warmup)
	defer timer.Stop()

	slog.Info("poll service started",
		"interval", s.interval,
		"warmup", s.warmup,
		"max_concurrency", s.concurrency,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poll service stopped")
			return nil
		case <-timer.C:
			_, err := s.RunCycle(ctx)
			if ctx.Err() != nil {
				slog.Info("poll service stopped")
				return nil
			}
			if err != nil {
				return err
			}
			timer.Reset(s.interval)
		case req := <-s.refreshCh:
			outcome, err := s.refreshSubject(ctx, req.subjectID)
			req.done <- refreshResult{outcome: outcome, err: err}
			if errors.Is(err, ErrStore) {
				return err
			}
		}
	}
}

// RefreshSubject polls a single subject right away through the running loop,
// so it never races with a cycle processing the same subject. It blocks until
// the poll completes or ctx is canceled. Unknown and stale subjects yield
// ErrNotRegistered.
func (s *PollService) RefreshSubject(ctx context.Context, subjectID int64) (SubjectOutcome, error) {
	req := refreshRequest{
		subjectID: subjectID,
		done:      make(chan refreshResult, 1),
	}

	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.outcome, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// LastCycle returns the most recent cycle summary, if any cycle has run.
func (s *PollService) LastCycle() (CycleStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCycle, s.hasCycle
}

// RunCycle polls every non-stale subject once. A listing interrupted by ctx
// returns the context error rather than ErrStore.
func (s *PollService) RunCycle(ctx context.Context) (CycleStats, error) {
	stats := CycleStats{ID: uuid.NewString(), StartedAt: time.Now()}

	all, err := s.store.ListAll(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, ctxErr
		}
		err = fmt.Errorf("%w: list subjects: %w", ErrStore, err)
		metrics.RecordPollCycle(time.Since(stats.StartedAt), err)
		slog.Error("poll cycle failed", "cycle_id", stats.ID, "error", err)
		return stats, err
	}

	active := make([]model.Subject, 0, len(all))
	for _, subject := range all {
		if subject.Stale {
			stats.Stale++
			continue
		}
		active = append(active, subject)
	}
	stats.Subjects = len(active)

	tally, err := s.pollSubjects(ctx, active)
	stats.Notified = tally.notified
	stats.Failed = tally.failed
	stats.Skipped = tally.skipped
	stats.Duration = time.Since(stats.StartedAt)

	metrics.RecordPollCycle(stats.Duration, err)
	s.mu.Lock()
	s.lastCycle = stats
	s.hasCycle = true
	s.mu.Unlock()

	if err != nil {
		slog.Error("poll cycle failed", "cycle_id", stats.ID, "error", err)
		return stats, err
	}

	slog.Info("poll cycle complete",
		"cycle_id", stats.ID,
		"subjects", stats.Subjects,
		"stale", stats.Stale,
		"notified", stats.Notified,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration", stats.Duration.Round(time.Millisecond),
	)
	return stats, nil
}

// PollSubjects polls the given subjects with at most MaxConcurrency in
// flight and returns how many were notified. Per-subject failures are logged
// and never abort the others; only a store failure is returned. Once ctx is
// canceled no further subject starts, while subjects already started finish
// on a context that ignores the cancellation.
func (s *PollService) PollSubjects(ctx context.Context, subjects []model.Subject) (int, error) {
	tally, err := s.pollSubjects(ctx, subjects)
	return tally.notified, err
}

type cycleTally struct {
	notified int
	failed   int
	skipped  int
}

func (s *PollService) pollSubjects(ctx context.Context, subjects []model.Subject) (cycleTally, error) {
	var (
		mu    sync.Mutex
		tally cycleTally
	)
	record := func(outcome SubjectOutcome) {
		metrics.SubjectsPolled.WithLabelValues(string(outcome)).Inc()
		mu.Lock()
		defer mu.Unlock()
		switch {
		case outcome == SubjectNotified:
			tally.notified++
		case outcome == SubjectSkipped:
			tally.skipped++
		case outcome.Failed():
			tally.failed++
		}
	}

	// gctx gates dispatch: it ends on shutdown or the first store failure.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	work := context.WithoutCancel(ctx)

	dispatched := 0
	for _, subject := range subjects {
		if gctx.Err() != nil {
			break
		}
		dispatched++
		g.Go(func() error {
			if gctx.Err() != nil {
				record(SubjectSkipped)
				return nil
			}
			outcome, err := s.pollOne(work, subject)
			if err != nil {
				return err
			}
			record(outcome)
			return nil
		})
	}

	err := g.Wait()
	for range len(subjects) - dispatched {
		record(SubjectSkipped)
	}
	return tally, err
}

// pollOne isolates one subject: panics are logged and contained.
func (s *PollService) pollOne(ctx context.Context, subject model.Subject) (outcome SubjectOutcome, err error) {
	metrics.PollInFlight.Inc()
	defer metrics.PollInFlight.Dec()

	defer func() {
		if v := recover(); v != nil {
			slog.Error("subject poll panicked", "subject_id", subject.ID, "panic", v)
			outcome, err = SubjectPanicked, nil
		}
	}()

	return s.processSubject(ctx, subject)
}

// processSubject is the per-subject pipeline: token, fetch, diff, notify,
// persist. Only store failures are returned as errors.
func (s *PollService) processSubject(ctx context.Context, subject model.Subject) (SubjectOutcome, error) {
	token, err := s.sessions.EnsureToken(ctx, &subject)
	switch {
	case err == nil:
	case errors.Is(err, ErrStore):
		return "", err
	case errors.Is(err, ErrNoCredentials):
		if err := s.store.MarkStale(ctx, subject.ID); err != nil {
			return "", fmt.Errorf("%w: %w", ErrStore, err)
		}
		slog.Warn("subject has no stored secret, marked stale", "subject_id", subject.ID)
		return SubjectNoCredentials, nil
	default:
		slog.Warn("session unavailable, skipping subject", "subject_id", subject.ID, "error", err)
		return SubjectAuthFailed, nil
	}

	data, err := s.portal.FetchUserData(ctx, token)
	if err != nil {
		slog.Warn("grade fetch failed, skipping subject", "subject_id", subject.ID, "error", err)
		return SubjectFetchFailed, nil
	}
	if data == nil || len(data.Records) == 0 {
		slog.Warn("portal returned no grade records, keeping previous snapshot", "subject_id", subject.ID)
		return SubjectFetchFailed, nil
	}

	outcome := SubjectUnchanged
	changes := DiffRecords(subject.Snapshot, data.Records)
	if len(changes) > 0 {
		switch {
		case !subject.HasBaseline() && !s.notifyOnBaseline:
			outcome = SubjectBaseline
		case s.dispatcher.Dispatch(ctx, &subject, changes) != nil:
			outcome = SubjectDeliveryFailed
		default:
			outcome = SubjectNotified
		}
	}

	if err := s.store.SaveSnapshot(ctx, subject.ID, data.Records); err != nil {
		return outcome, fmt.Errorf("%w: %w", ErrStore, err)
	}

	slog.Debug("subject polled",
		"subject_id", subject.ID,
		"records", len(data.Records),
		"changes", len(changes),
		"outcome", string(outcome),
	)
	return outcome, nil
}

// refreshSubject handles a RefreshSubject request inside the loop.
func (s *PollService) refreshSubject(ctx context.Context, subjectID int64) (SubjectOutcome, error) {
	subject, err := s.store.Get(ctx, subjectID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %w", ErrStore, err)
	}
	if subject == nil || subject.Stale {
		return "", ErrNotRegistered
	}

	outcome, err := s.pollOne(context.WithoutCancel(ctx), *subject)
	if err != nil {
		return "", err
	}
	metrics.SubjectsPolled.WithLabelValues(string(outcome)).Inc()
	slog.Info("subject refreshed", "subject_id", subjectID, "outcome", string(outcome))
	return outcome, nil
}
