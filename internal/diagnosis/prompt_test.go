package diagnosis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medrag/internal/kg"
	"medrag/internal/retrieval"
)

func TestComposePromptDeterministic(t *testing.T) {
	input := PatientInput{
		Complaints: []string{"chest pain"},
		Symptoms:   []string{"heartburn"},
		Vitals:     map[string]any{"temp": 37.2, "hr": 95, "bp": "120/80"},
		History:    "smoker",
		TopK:       5,
	}
	cases := []retrieval.Case{{ID: "c1", Diagnosis: "GERD", Similarity: 87.5}}
	expansion := kg.Expansion{Triplets: []kg.Triplet{{Subject: "chest pain", Predicate: "indicates", Object: "gerd"}}}

	first := ComposePrompt(input, cases, expansion, PromptLimits{})
	second := ComposePrompt(input, cases, expansion, PromptLimits{})
	assert.Equal(t, first, second)
}

func TestComposePromptVitalsSortedAndFormatted(t *testing.T) {
	input := PatientInput{
		Complaints: []string{"fever"},
		Vitals:     map[string]any{"temp": 38.5, "hr": float64(102), "alert": true, "bp": "120/80"},
		TopK:       5,
	}

	pc := ComposePrompt(input, nil, kg.Expansion{}, PromptLimits{})
	require.Len(t, pc.Vitals, 4)
	assert.Equal(t, "alert", pc.Vitals[0].Name)
	assert.Equal(t, "true", pc.Vitals[0].Value)
	assert.Equal(t, "bp", pc.Vitals[1].Name)
	assert.Equal(t, "120/80", pc.Vitals[1].Value)
	assert.Equal(t, "hr", pc.Vitals[2].Name)
	assert.Equal(t, "102", pc.Vitals[2].Value)
	assert.Equal(t, "temp", pc.Vitals[3].Name)
	assert.Equal(t, "38.5", pc.Vitals[3].Value)
}

func TestComposePromptTruncates(t *testing.T) {
	input := PatientInput{Complaints: []string{"fever"}, TopK: 5}
	cases := []retrieval.Case{
		{ID: "c1"}, {ID: "c2"}, {ID: "c3"}, {ID: "c4"}, {ID: "c5"},
	}
	var triplets []kg.Triplet
	for i := 0; i < 10; i++ {
		triplets = append(triplets, kg.Triplet{Subject: "a", Predicate: "p", Object: string(rune('a' + i))})
	}

	pc := ComposePrompt(input, cases, kg.Expansion{Triplets: triplets}, PromptLimits{MaxCases: 2, MaxFacts: 3})
	assert.Len(t, pc.Cases, 2)
	assert.Len(t, pc.Facts, 3)

	// Defaults apply when limits are zero.
	pc = ComposePrompt(input, cases, kg.Expansion{Triplets: triplets}, PromptLimits{})
	assert.Len(t, pc.Cases, 3)
	assert.Len(t, pc.Facts, 5)
}

func TestComposePromptCopiesInput(t *testing.T) {
	complaints := []string{"fever"}
	input := PatientInput{Complaints: complaints, TopK: 5}

	pc := ComposePrompt(input, nil, kg.Expansion{}, PromptLimits{})
	complaints[0] = "mutated"
	assert.Equal(t, "fever", pc.Complaints[0])
}

func TestBuildQuery(t *testing.T) {
	q := BuildQuery(PatientInput{
		Complaints: []string{"chest pain", "nausea"},
		Symptoms:   []string{"heartburn"},
	})
	assert.Equal(t, "Patient complaints: chest pain, nausea. Symptoms: heartburn", q)
}
