// Package llm abstracts the generative model behind a single Client
// interface with a networked provider and a deterministic offline provider.
package llm

import (
	"context"
	"errors"
)

// Provider error taxonomy. Timeout and rate-limit errors are transient and
// retried by the task executor; anything else triggers the offline fallback.
var (
	ErrTimeout     = errors.New("provider timeout")
	ErrRateLimited = errors.New("provider rate limited")
	ErrProvider    = errors.New("provider error")
)

// Vital is a single named measurement, e.g. {hr, 95}.
type Vital struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CaseContext is a retrieved prior case as seen by the prompt.
type CaseContext struct {
	ID         string   `json:"caseId"`
	Diagnosis  string   `json:"diagnosis"`
	Outcome    string   `json:"outcome,omitempty"`
	Similarity float64  `json:"similarity"`
	Symptoms   []string `json:"symptoms,omitempty"`
}

// Fact is one knowledge-graph triplet carried into the prompt.
type Fact struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// PromptContext is the composed, bounded input to a generation call. It is a
// plain value: identical contexts always render identical prompts.
type PromptContext struct {
	Complaints []string      `json:"complaints"`
	Symptoms   []string      `json:"symptoms"`
	Vitals     []Vital       `json:"vitals,omitempty"`
	History    string        `json:"history,omitempty"`
	Cases      []CaseContext `json:"cases,omitempty"`
	Facts      []Fact        `json:"facts,omitempty"`
	TopK       int           `json:"topK"`
}

// Payload is the raw structured answer of a provider, before validation and
// normalization by the result aggregator.
type Payload struct {
	DifferentialDiagnosis []RawCondition `json:"differential_diagnosis"`
	RecommendedActions    []RawAction    `json:"recommended_actions"`
	FollowUpQuestions     []RawQuestion  `json:"follow_up_questions"`
}

type RawCondition struct {
	Condition   string  `json:"condition"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
	ICD10       string  `json:"icd10"`
}

type RawAction struct {
	Text     string `json:"text"`
	Priority string `json:"priority"`
	Category string `json:"category"`
}

type RawQuestion struct {
	Text string `json:"text"`
}

// Client produces a raw diagnosis payload from a composed prompt context.
type Client interface {
	Generate(ctx context.Context, pc PromptContext) (*Payload, error)
	Name() string
}
