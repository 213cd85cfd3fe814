package diagnosis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultTopK = 5
	maxTopK     = 20
)

// Manager owns session identity, state and stored results. All session
// mutation goes through Transition, which enforces the state machine
// pending -> processing -> {completed, failed}. The backing store is passed
// in explicitly; the manager performs no retrieval or generation itself.
type Manager struct {
	store Store
	log   zerolog.Logger
}

func NewManager(store Store, log zerolog.Logger) *Manager {
	return &Manager{store: store, log: log.With().Str("component", "sessions").Logger()}
}

// ValidateInput normalizes and checks patient input. A failed validation is
// reported with ErrValidation and the input is never enqueued.
func ValidateInput(in *PatientInput) error {
	in.Complaints = cleanTerms(in.Complaints)
	in.Symptoms = cleanTerms(in.Symptoms)
	in.History = strings.TrimSpace(in.History)

	if len(in.Complaints) == 0 && len(in.Symptoms) == 0 {
		return fmt.Errorf("%w: at least one complaint or symptom is required", ErrValidation)
	}
	if in.TopK == 0 {
		in.TopK = defaultTopK
	}
	if in.TopK < 1 || in.TopK > maxTopK {
		return fmt.Errorf("%w: top_k must be between 1 and %d", ErrValidation, maxTopK)
	}
	return nil
}

// cleanTerms copies into a fresh slice; the input slice is aliased by the
// caller and must not be rewritten in place.
func cleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Create validates the input and persists a new pending session.
func (m *Manager) Create(ctx context.Context, input PatientInput) (*Session, error) {
	if err := ValidateInput(&input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.New(),
		PatientID: input.PatientID,
		State:     StatePending,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Insert(ctx, s); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	m.log.Info().Str("session", s.ID.String()).Msg("session created")
	return s, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Transition moves a session to newState, writing the mutation atomically.
// The required predecessor state is derived from the state machine; any
// other current state fails with ErrInvalidTransition and no side effect.
func (m *Manager) Transition(ctx context.Context, id uuid.UUID, newState State, mut Mutation) (*Session, error) {
	from, ok := validTransitions[newState]
	if !ok {
		return nil, fmt.Errorf("%w: no transition leads to %q", ErrInvalidTransition, newState)
	}

	s, err := m.store.UpdateState(ctx, id, from, newState, mut)
	if err != nil {
		return nil, err
	}
	m.log.Info().
		Str("session", id.String()).
		Str("state", string(newState)).
		Bool("degraded", mut.Degraded).
		Msg("session transitioned")
	return s, nil
}

// Delete removes the session. A job already in flight for it will find the
// session gone when committing and discard its result.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.log.Info().Str("session", id.String()).Msg("session deleted")
	return nil
}

// SubmitFeedback stores a clinician verdict for an existing session.
func (m *Manager) SubmitFeedback(ctx context.Context, sessionID uuid.UUID, rating, comments, correctDiagnosis string) (*Feedback, error) {
	switch rating {
	case "positive", "negative":
	default:
		return nil, fmt.Errorf("%w: rating must be \"positive\" or \"negative\"", ErrValidation)
	}
	if _, err := m.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	f := &Feedback{
		ID:               uuid.New(),
		SessionID:        sessionID,
		Rating:           rating,
		Comments:         strings.TrimSpace(comments),
		CorrectDiagnosis: strings.TrimSpace(correctDiagnosis),
		CreatedAt:        time.Now().UTC(),
	}
	if err := m.store.SaveFeedback(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}
