package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineGenerateDeterministic(t *testing.T) {
	c := NewOfflineClient()
	pc := PromptContext{
		Complaints: []string{"chest pain"},
		Symptoms:   []string{"heartburn"},
		Facts:      []Fact{{Subject: "chest pain", Predicate: "indicates", Object: "gerd"}},
		TopK:       5,
	}

	first, err := c.Generate(context.Background(), pc)
	require.NoError(t, err)
	second, err := c.Generate(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOfflineChestPainRule(t *testing.T) {
	c := NewOfflineClient()
	payload, err := c.Generate(context.Background(), PromptContext{
		Complaints: []string{"Chest pain after meals"},
		TopK:       5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, payload.DifferentialDiagnosis)

	byICD := map[string]bool{}
	for _, d := range payload.DifferentialDiagnosis {
		byICD[d.ICD10] = true
	}
	assert.True(t, byICD["K21.9"], "expected GERD in chest pain differential")
	assert.True(t, byICD["M94.0"], "expected costochondritis in chest pain differential")
	assert.NotEmpty(t, payload.RecommendedActions)
	assert.Len(t, payload.FollowUpQuestions, 3)
}

func TestOfflineGraphFactsRankFirst(t *testing.T) {
	c := NewOfflineClient()
	payload, err := c.Generate(context.Background(), PromptContext{
		Complaints: []string{"chest pain"},
		Facts: []Fact{
			{Subject: "chest pain", Predicate: "indicates", Object: "angina"},
			{Subject: "chest pain", Predicate: "treated_with", Object: "rest"},
		},
		TopK: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, payload.DifferentialDiagnosis)

	assert.Equal(t, "angina", payload.DifferentialDiagnosis[0].Condition)
	assert.Equal(t, 82.0, payload.DifferentialDiagnosis[0].Confidence)
	for _, d := range payload.DifferentialDiagnosis {
		assert.NotEqual(t, "rest", d.Condition, "non-indicates facts must not become conditions")
	}
}

func TestOfflineDefaultsWhenNoRuleMatches(t *testing.T) {
	c := NewOfflineClient()
	payload, err := c.Generate(context.Background(), PromptContext{
		Complaints: []string{"itchy elbow"},
		TopK:       5,
	})
	require.NoError(t, err)
	require.Len(t, payload.DifferentialDiagnosis, 2)
	assert.Equal(t, "J06.9", payload.DifferentialDiagnosis[0].ICD10)
}

func TestOfflineTopKLimit(t *testing.T) {
	c := NewOfflineClient()
	payload, err := c.Generate(context.Background(), PromptContext{
		Complaints: []string{"chest pain and headache and fever"},
		TopK:       2,
	})
	require.NoError(t, err)
	assert.Len(t, payload.DifferentialDiagnosis, 2)
}

func TestOfflineDeduplicatesConditions(t *testing.T) {
	c := NewOfflineClient()
	// "fever" rule and the defaults both contribute viral URI; the graph fact
	// repeats it too.
	payload, err := c.Generate(context.Background(), PromptContext{
		Symptoms: []string{"fever"},
		Facts:    []Fact{{Subject: "fever", Predicate: "indicates", Object: "Viral upper respiratory infection"}},
		TopK:     10,
	})
	require.NoError(t, err)

	seen := map[string]int{}
	for _, d := range payload.DifferentialDiagnosis {
		seen[d.Condition]++
	}
	assert.Equal(t, 1, seen["Viral upper respiratory infection"])
}
