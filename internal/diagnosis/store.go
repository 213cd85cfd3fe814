package diagnosis

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mutation carries the fields a state transition writes alongside the new
// state.
type Mutation struct {
	Result   *Result
	Error    string
	Degraded bool
}

// Store is the durable backing for sessions, queued jobs and feedback.
// UpdateState must be atomic with respect to concurrent readers: a reader
// sees either the pre- or post-transition session, never a partial one.
type Store interface {
	Insert(ctx context.Context, s *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	UpdateState(ctx context.Context, id uuid.UUID, from, to State, mut Mutation) (*Session, error)
	Delete(ctx context.Context, id uuid.UUID) error

	InsertJob(ctx context.Context, j *Job) error
	DeleteJob(ctx context.Context, jobID string) error
	PendingJobs(ctx context.Context) ([]Job, error)

	SaveFeedback(ctx context.Context, f *Feedback) error
}

// MemoryStore keeps everything in process memory. Used in tests and when the
// server runs without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]Session
	jobs     map[string]Job
	feedback map[uuid.UUID][]Feedback
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[uuid.UUID]Session{},
		jobs:     map[string]Job{},
		feedback: map[uuid.UUID][]Feedback{},
	}
}

func (m *MemoryStore) Insert(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := s
	return &copied, nil
}

func (m *MemoryStore) UpdateState(_ context.Context, id uuid.UUID, from, to State, mut Mutation) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.State != from {
		return nil, ErrInvalidTransition
	}
	s.State = to
	s.Result = mut.Result
	s.Error = mut.Error
	s.Degraded = mut.Degraded
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	copied := s
	return &copied, nil
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	delete(m.feedback, id)
	return nil
}

func (m *MemoryStore) InsertJob(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = *j
	return nil
}

func (m *MemoryStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *MemoryStore) PendingJobs(_ context.Context) ([]Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	// ULID job ids sort by enqueue time.
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (m *MemoryStore) SaveFeedback(_ context.Context, f *Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[f.SessionID]; !ok {
		return ErrSessionNotFound
	}
	m.feedback[f.SessionID] = append(m.feedback[f.SessionID], *f)
	return nil
}

// FeedbackFor returns stored feedback for a session, oldest first.
func (m *MemoryStore) FeedbackFor(id uuid.UUID) []Feedback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Feedback, len(m.feedback[id]))
	copy(out, m.feedback[id])
	return out
}
