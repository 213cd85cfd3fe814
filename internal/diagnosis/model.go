package diagnosis

import (
	"time"

	"github.com/google/uuid"
)

// State is the session lifecycle: pending -> processing -> {completed, failed}.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// validTransitions is the full session state machine. Anything not listed is
// rejected with ErrInvalidTransition.
var validTransitions = map[State]State{
	StateProcessing: StatePending,
	StateCompleted:  StateProcessing,
	StateFailed:     StateProcessing,
}

// PatientInput is the patient-reported data a diagnosis is computed from.
// It is immutable once attached to a session.
type PatientInput struct {
	PatientID  string         `json:"patientId,omitempty"`
	Complaints []string       `json:"complaints"`
	Symptoms   []string       `json:"symptoms"`
	Vitals     map[string]any `json:"vitals,omitempty"`
	History    string         `json:"history,omitempty"`
	TopK       int            `json:"top_k"`
}

// Session binds one patient input to one in-flight or finished diagnosis.
type Session struct {
	ID        uuid.UUID    `json:"sessionId"`
	PatientID string       `json:"patientId,omitempty"`
	State     State        `json:"status"`
	Input     PatientInput `json:"input"`
	Result    *Result      `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	Degraded  bool         `json:"degraded,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Result is the canonical diagnosis record. DifferentialDiagnosis is sorted
// by descending confidence, all confidence/similarity values lie in [0,100],
// and SimilarCases holds at most the requested top_k entries.
type Result struct {
	DifferentialDiagnosis []Condition   `json:"differentialDiagnosis"`
	RecommendedActions    []Action      `json:"recommendedActions"`
	FollowUpQuestions     []Question    `json:"followUpQuestions"`
	SimilarCases          []SimilarCase `json:"similarCases"`
}

type Condition struct {
	Condition   string  `json:"condition"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
	ICD10       string  `json:"icd10"`
}

type Action struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Priority string `json:"priority"`
	Category string `json:"category"`
}

type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type SimilarCase struct {
	CaseID     string  `json:"caseId"`
	Similarity float64 `json:"similarity"`
	Diagnosis  string  `json:"diagnosis"`
	Outcome    string  `json:"outcome,omitempty"`
}

// Job is one queued unit of diagnosis work. Consumed exactly once per
// attempt by the task executor and discarded once the session is terminal.
type Job struct {
	ID         string       `json:"id"`
	SessionID  uuid.UUID    `json:"sessionId"`
	Input      PatientInput `json:"input"`
	EnqueuedAt time.Time    `json:"enqueuedAt"`
	Attempt    int          `json:"attempt"`
}

// Feedback is a clinician's verdict on a finished session.
type Feedback struct {
	ID               uuid.UUID `json:"feedbackId"`
	SessionID        uuid.UUID `json:"sessionId"`
	Rating           string    `json:"rating"`
	Comments         string    `json:"comments,omitempty"`
	CorrectDiagnosis string    `json:"correctDiagnosis,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}
