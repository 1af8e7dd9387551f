package application

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ericfisherdev/gradewatch/internal/domain/model"
	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
	"github.com/ericfisherdev/gradewatch/internal/metrics"
)

// RegistrationState is a state of the registration flow.
type RegistrationState string

const (
	StateAwaitingUsername RegistrationState = "awaiting_username"
	StateAwaitingPassword RegistrationState = "awaiting_password"
	StateCompleted        RegistrationState = "completed"
	StateCancelled        RegistrationState = "cancelled"
)

// Terminal reports whether the flow has ended.
func (s RegistrationState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// RegistrationOutcome tells the chat adapter which reply to send after a step.
type RegistrationOutcome string

const (
	OutcomePromptUsername    RegistrationOutcome = "prompt_username"
	OutcomeInvalidUsername   RegistrationOutcome = "invalid_username"
	OutcomePromptPassword    RegistrationOutcome = "prompt_password"
	OutcomeInvalidPassword   RegistrationOutcome = "invalid_password"
	OutcomeLoginFailed       RegistrationOutcome = "login_failed"
	OutcomeRegistered        RegistrationOutcome = "registered"
	OutcomeAlreadyRegistered RegistrationOutcome = "already_registered"
	OutcomeRateLimited       RegistrationOutcome = "rate_limited"
	OutcomeCancelled         RegistrationOutcome = "cancelled"
	OutcomeNoFlow            RegistrationOutcome = "no_flow"
)

// Registration is the in-progress flow for one chat identity.
type Registration struct {
	SubjectID int64
	State     RegistrationState
	Username  string
}

// Step is the result of feeding one input into the flow. Err carries the
// validation or auth error behind a corrective outcome, if any.
type Step struct {
	State   RegistrationState
	Outcome RegistrationOutcome
	Err     error
	Subject *model.Subject
}

// CredentialRules constrain what the flow accepts as portal credentials.
type CredentialRules struct {
	UsernameMinLetters int
	UsernameMinDigits  int
	PasswordMinLength  int
	PasswordMaxLength  int
	UnsafeCharacters   string
}

// RegistrationService runs the conversational onboarding flow. Flows live in
// memory, keyed by chat identity; a subject is written only after a
// successful login.
type RegistrationService struct {
	portal  driven.PortalClient
	store   driven.SubjectStore
	limiter driven.AttemptLimiter
	rules   CredentialRules
	pattern *regexp.Regexp

	mu    sync.Mutex
	flows map[int64]*Registration
}

// NewRegistrationService creates a RegistrationService.
func NewRegistrationService(
	portal driven.PortalClient,
	store driven.SubjectStore,
	limiter driven.AttemptLimiter,
	rules CredentialRules,
) *RegistrationService {
	pattern := regexp.MustCompile(fmt.Sprintf(`^[A-Za-z]{%d,}[0-9]{%d,}$`,
		max(rules.UsernameMinLetters, 1), max(rules.UsernameMinDigits, 1)))

	return &RegistrationService{
		portal:  portal,
		store:   store,
		limiter: limiter,
		rules:   rules,
		pattern: pattern,
		flows:   make(map[int64]*Registration),
	}
}

// Start begins (or restarts) a flow for id. A registered, non-stale subject
// completes immediately with OutcomeAlreadyRegistered.
func (s *RegistrationService) Start(ctx context.Context, id int64) (Step, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return Step{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if existing != nil && !existing.Stale {
		s.drop(id)
		return s.step(id, Step{State: StateCompleted, Outcome: OutcomeAlreadyRegistered, Subject: existing}), nil
	}

	if !s.limiter.CheckAttemptAllowed(id) {
		s.drop(id)
		return s.step(id, Step{State: StateCancelled, Outcome: OutcomeRateLimited, Err: ErrRateLimited}), nil
	}

	s.mu.Lock()
	s.flows[id] = &Registration{SubjectID: id, State: StateAwaitingUsername}
	s.mu.Unlock()

	return s.step(id, Step{State: StateAwaitingUsername, Outcome: OutcomePromptUsername}), nil
}

// Submit feeds one chat message into id's flow.
func (s *RegistrationService) Submit(ctx context.Context, id int64, input string) (Step, error) {
	s.mu.Lock()
	flow, ok := s.flows[id]
	var current Registration
	if ok {
		current = *flow
	}
	s.mu.Unlock()

	if !ok {
		return Step{Outcome: OutcomeNoFlow}, nil
	}

	switch current.State {
	case StateAwaitingUsername:
		return s.submitUsername(id, flow, input), nil
	case StateAwaitingPassword:
		return s.submitPassword(ctx, id, flow, current.Username, input)
	default:
		s.drop(id)
		return Step{State: current.State, Outcome: OutcomeNoFlow}, nil
	}
}

// Cancel abandons id's flow, if any.
func (s *RegistrationService) Cancel(id int64) Step {
	s.mu.Lock()
	_, ok := s.flows[id]
	delete(s.flows, id)
	s.mu.Unlock()

	if !ok {
		return Step{Outcome: OutcomeNoFlow}
	}
	return s.step(id, Step{State: StateCancelled, Outcome: OutcomeCancelled})
}

// Active reports whether id has a flow in progress.
func (s *RegistrationService) Active(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.flows[id]
	return ok
}

// Flow returns a copy of id's flow.
func (s *RegistrationService) Flow(id int64) (Registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[id]
	if !ok {
		return Registration{}, false
	}
	return *flow, true
}

// ValidateUsername checks the letters-then-digits portal username shape.
func (s *RegistrationService) ValidateUsername(username string) error {
	if !s.pattern.MatchString(username) {
		return fmt.Errorf("%w: username must be at least %d letters followed by at least %d digits",
			ErrBadFormat, s.rules.UsernameMinLetters, s.rules.UsernameMinDigits)
	}
	return nil
}

// ValidatePassword checks length bounds and the unsafe character set.
func (s *RegistrationService) ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < s.rules.PasswordMinLength || (s.rules.PasswordMaxLength > 0 && n > s.rules.PasswordMaxLength) {
		return fmt.Errorf("%w: password must be %d to %d characters",
			ErrBadFormat, s.rules.PasswordMinLength, s.rules.PasswordMaxLength)
	}
	if s.rules.UnsafeCharacters != "" && strings.ContainsAny(password, s.rules.UnsafeCharacters) {
		return fmt.Errorf("%w: password contains a disallowed character", ErrBadFormat)
	}
	return nil
}

func (s *RegistrationService) submitUsername(id int64, flow *Registration, input string) Step {
	username := strings.TrimSpace(input)
	if err := s.ValidateUsername(username); err != nil {
		return s.step(id, Step{State: StateAwaitingUsername, Outcome: OutcomeInvalidUsername, Err: err})
	}

	s.mu.Lock()
	if s.flows[id] == flow {
		flow.Username = username
		flow.State = StateAwaitingPassword
	}
	s.mu.Unlock()

	return s.step(id, Step{State: StateAwaitingPassword, Outcome: OutcomePromptPassword})
}

func (s *RegistrationService) submitPassword(ctx context.Context, id int64, flow *Registration, username, input string) (Step, error) {
	password := strings.TrimRight(input, "\r\n")
	if err := s.ValidatePassword(password); err != nil {
		return s.step(id, Step{State: StateAwaitingPassword, Outcome: OutcomeInvalidPassword, Err: err}), nil
	}

	token, err := s.portal.Login(ctx, username, password)
	var data *model.UserData
	if err == nil {
		data, err = s.portal.FetchUserData(ctx, token)
	}
	s.limiter.RecordAttempt(id, err == nil)

	s.mu.Lock()
	if s.flows[id] != flow {
		s.mu.Unlock()
		return s.step(id, Step{State: StateCancelled, Outcome: OutcomeCancelled}), nil
	}
	if err != nil {
		slog.Info("registration login failed", "subject_id", id, "error", err)
		if !s.limiter.CheckAttemptAllowed(id) {
			delete(s.flows, id)
			s.mu.Unlock()
			return s.step(id, Step{State: StateCancelled, Outcome: OutcomeRateLimited, Err: ErrRateLimited}), nil
		}
		flow.State = StateAwaitingUsername
		flow.Username = ""
		s.mu.Unlock()
		return s.step(id, Step{State: StateAwaitingUsername, Outcome: OutcomeLoginFailed, Err: err}), nil
	}
	delete(s.flows, id)
	s.mu.Unlock()

	subject := model.Subject{
		ID:       id,
		Username: username,
		Secret:   password,
		Token:    token,
	}
	if data != nil {
		subject.Profile = data.Profile
	}
	if err := s.store.Save(ctx, subject); err != nil {
		return Step{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	slog.Info("subject registered", "subject_id", id)
	return s.step(id, Step{State: StateCompleted, Outcome: OutcomeRegistered, Subject: &subject}), nil
}

func (s *RegistrationService) drop(id int64) {
	s.mu.Lock()
	delete(s.flows, id)
	s.mu.Unlock()
}

func (s *RegistrationService) step(id int64, st Step) Step {
	metrics.Registrations.WithLabelValues(string(st.Outcome)).Inc()
	slog.Debug("registration step", "subject_id", id, "state", string(st.State), "outcome", string(st.Outcome))
	return st
}
