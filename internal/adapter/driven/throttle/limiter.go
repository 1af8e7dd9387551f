// Package throttle implements the AttemptLimiter port with an in-memory
// sliding window per chat identity.
package throttle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AttemptLimiter = (*Limiter)(nil)

// Config holds the limiter settings.
type Config struct {
	// MaxAttempts is the attempt weight allowed inside Window.
	MaxAttempts int
	// Window is the sliding window attempts are counted over.
	Window time.Duration
	// Cooldown is how long an identity stays blocked once the budget is spent.
	Cooldown time.Duration
	// FailureWeight is how many attempts a failed login counts as.
	FailureWeight int
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		Window:        5 * time.Minute,
		Cooldown:      15 * time.Minute,
		FailureWeight: 3,
	}
}

type attempt struct {
	at     time.Time
	weight int
}

type entry struct {
	attempts     []attempt
	blockedUntil time.Time
}

// Limiter tracks login attempts per identity. State is process-local and
// starts empty on every restart.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	entries map[int64]*entry
}

// New creates a Limiter. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.FailureWeight <= 0 {
		cfg.FailureWeight = def.FailureWeight
	}

	return &Limiter{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[int64]*entry),
	}
}

// CheckAttemptAllowed reports whether id may attempt a login now.
func (l *Limiter) CheckAttemptAllowed(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return true
	}

	now := l.now()
	if now.Before(e.blockedUntil) {
		return false
	}

	l.prune(e, now)
	if len(e.attempts) == 0 {
		delete(l.entries, id)
		return true
	}
	return weight(e.attempts) < l.cfg.MaxAttempts
}

// RecordAttempt records one login attempt for id. A success clears the
// identity's history; spending the budget blocks it for Cooldown.
func (l *Limiter) RecordAttempt(id int64, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if success {
		delete(l.entries, id)
		return
	}

	now := l.now()
	e, ok := l.entries[id]
	if !ok {
		e = &entry{}
		l.entries[id] = e
	}
	l.prune(e, now)
	e.attempts = append(e.attempts, attempt{at: now, weight: l.cfg.FailureWeight})

	if weight(e.attempts) >= l.cfg.MaxAttempts {
		e.blockedUntil = now.Add(l.cfg.Cooldown)
		e.attempts = nil
		slog.Warn("registration attempts exhausted, identity blocked",
			"subject_id", id,
			"cooldown", l.cfg.Cooldown,
		)
	}
}

// RetryAfter returns how long id remains blocked, or zero.
func (l *Limiter) RetryAfter(id int64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return 0
	}
	return max(e.blockedUntil.Sub(l.now()), 0)
}

func (l *Limiter) prune(e *entry, now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	kept := e.attempts[:0]
	for _, a := range e.attempts {
		if a.at.After(cutoff) {
			kept = append(kept, a)
		}
	}
	e.attempts = kept
}

func weight(attempts []attempt) int {
	total := 0
	for _, a := range attempts {
		total += a.weight
	}
	return total
}
