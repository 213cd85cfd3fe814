package diagnosis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"medrag/internal/kg"
	"medrag/internal/llm"
	"medrag/internal/retrieval"
)

// PromptLimits bounds the size of the composed context so downstream request
// size stays fixed regardless of how much the earlier stages returned.
type PromptLimits struct {
	MaxCases int
	MaxFacts int
}

func (l PromptLimits) withDefaults() PromptLimits {
	if l.MaxCases <= 0 {
		l.MaxCases = 3
	}
	if l.MaxFacts <= 0 {
		l.MaxFacts = 5
	}
	return l
}

// ComposePrompt merges patient input, retrieved cases and the graph
// expansion into one bounded context for the generation client. Pure
// function: identical inputs always yield an identical context (vitals are
// rendered in sorted key order).
func ComposePrompt(input PatientInput, cases []retrieval.Case, expansion kg.Expansion, limits PromptLimits) llm.PromptContext {
	limits = limits.withDefaults()

	pc := llm.PromptContext{
		Complaints: append([]string(nil), input.Complaints...),
		Symptoms:   append([]string(nil), input.Symptoms...),
		History:    input.History,
		TopK:       input.TopK,
	}

	if len(input.Vitals) > 0 {
		names := make([]string, 0, len(input.Vitals))
		for name := range input.Vitals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			pc.Vitals = append(pc.Vitals, llm.Vital{Name: name, Value: formatVital(input.Vitals[name])})
		}
	}

	for i, c := range cases {
		if i >= limits.MaxCases {
			break
		}
		pc.Cases = append(pc.Cases, llm.CaseContext{
			ID:         c.ID,
			Diagnosis:  c.Diagnosis,
			Outcome:    c.Outcome,
			Similarity: c.Similarity,
			Symptoms:   append([]string(nil), c.Symptoms...),
		})
	}

	for i, t := range expansion.Triplets {
		if i >= limits.MaxFacts {
			break
		}
		pc.Facts = append(pc.Facts, llm.Fact{Subject: t.Subject, Predicate: t.Predicate, Object: t.Object})
	}

	return pc
}

// formatVital renders vital values the same way regardless of whether they
// arrived as JSON numbers or strings.
func formatVital(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// BuildQuery renders the retrieval query text from patient input, mirroring
// how case index entries are embedded.
func BuildQuery(input PatientInput) string {
	return fmt.Sprintf("Patient complaints: %s. Symptoms: %s",
		strings.Join(input.Complaints, ", "), strings.Join(input.Symptoms, ", "))
}
