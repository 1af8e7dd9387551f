package application

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
)

// CycleReporter exposes the last poll cycle summary.
type CycleReporter interface {
	LastCycle() (CycleStats, bool)
}

// StatusReport is the operational view served on the status endpoint.
type StatusReport struct {
	Subjects      int
	StaleSubjects int
	LastCycle     *CycleStats
	CheckedAt     time.Time
}

// HealthService answers liveness and status queries. It depends only on port
// interfaces and the poll loop's cycle summary.
type HealthService struct {
	store  driven.SubjectStore
	cycles CycleReporter
	now    func() time.Time
}

// NewHealthService creates a new HealthService with the required dependencies.
func NewHealthService(store driven.SubjectStore, cycles CycleReporter) *HealthService {
	return &HealthService{
		store:  store,
		cycles: cycles,
		now:    time.Now,
	}
}

// Check verifies the subject store is reachable.
func (s *HealthService) Check(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// Status counts subjects and attaches the last cycle summary.
func (s *HealthService) Status(ctx context.Context) (*StatusReport, error) {
	subjects, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	report := &StatusReport{CheckedAt: s.now().UTC()}
	for _, subject := range subjects {
		if subject.Stale {
			report.StaleSubjects++
			continue
		}
		report.Subjects++
	}

	if s.cycles != nil {
		if last, ok := s.cycles.LastCycle(); ok {
			report.LastCycle = &last
		}
	}

	return report, nil
}
