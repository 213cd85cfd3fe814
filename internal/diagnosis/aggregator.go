package diagnosis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"medrag/internal/llm"
	"medrag/internal/retrieval"
)

// Synthetic ids for actions and questions are uuid v5 over the entry text,
// so normalizing the same payload twice yields byte-identical results.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("medrag.result"))

func syntheticID(kind, text string) string {
	return uuid.NewSHA1(idNamespace, []byte(kind+":"+text)).String()
}

// Normalize validates and canonicalizes a raw provider payload into a
// Result. Malformed entries are dropped rather than failing the whole
// result; confidence and similarity are clamped to [0,100]; the
// differential is re-sorted by descending confidence. It fails with
// ErrMalformedPayload only when no usable diagnosis entry remains.
func Normalize(payload *llm.Payload, cases []retrieval.Case, topK int) (*Result, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}

	result := &Result{
		DifferentialDiagnosis: []Condition{},
		RecommendedActions:    []Action{},
		FollowUpQuestions:     []Question{},
		SimilarCases:          []SimilarCase{},
	}

	for _, raw := range payload.DifferentialDiagnosis {
		name := strings.TrimSpace(raw.Condition)
		if name == "" {
			continue
		}
		result.DifferentialDiagnosis = append(result.DifferentialDiagnosis, Condition{
			Condition:   name,
			Confidence:  clamp(raw.Confidence),
			Description: strings.TrimSpace(raw.Description),
			ICD10:       strings.TrimSpace(raw.ICD10),
		})
	}
	if len(result.DifferentialDiagnosis) == 0 {
		return nil, fmt.Errorf("%w: no usable diagnosis entries", ErrMalformedPayload)
	}
	sort.SliceStable(result.DifferentialDiagnosis, func(i, j int) bool {
		return result.DifferentialDiagnosis[i].Confidence > result.DifferentialDiagnosis[j].Confidence
	})

	for _, raw := range payload.RecommendedActions {
		text := strings.TrimSpace(raw.Text)
		if text == "" {
			continue
		}
		result.RecommendedActions = append(result.RecommendedActions, Action{
			ID:       syntheticID("action", text),
			Text:     text,
			Priority: normalizePriority(raw.Priority),
			Category: strings.ToLower(strings.TrimSpace(raw.Category)),
		})
	}

	for _, raw := range payload.FollowUpQuestions {
		text := strings.TrimSpace(raw.Text)
		if text == "" {
			continue
		}
		result.FollowUpQuestions = append(result.FollowUpQuestions, Question{
			ID:   syntheticID("question", text),
			Text: text,
		})
	}

	for i, c := range cases {
		if topK > 0 && i >= topK {
			break
		}
		result.SimilarCases = append(result.SimilarCases, SimilarCase{
			CaseID:     c.ID,
			Similarity: clamp(c.Similarity),
			Diagnosis:  c.Diagnosis,
			Outcome:    c.Outcome,
		})
	}

	return result, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}
