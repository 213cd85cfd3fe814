package kg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGraph = `
triplets:
  - subject: chest pain
    predicate: indicates
    object: gerd
    subjectType: symptom
    objectType: condition
    weight: 0.8
  - subject: heartburn
    predicate: indicates
    object: gerd
    subjectType: symptom
    objectType: condition
    weight: 0.9
  - subject: gerd
    predicate: treated_with
    object: ppi trial
    subjectType: condition
    objectType: action
    weight: 0.7
  - subject: ppi trial
    predicate: follows
    object: endoscopy
    subjectType: action
    objectType: action
    weight: 0.4
  - subject: fever
    predicate: indicates
    object: pneumonia
    subjectType: symptom
    objectType: condition

diseases:
  gerd:
    description: Acid reflux disease
    icd10: K21.9
    symptoms: [chest pain, heartburn]
    actions: [ppi trial]
`

func loadTestEngine(t *testing.T, yaml string) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	e := NewEngine(zerolog.Nop())
	require.NoError(t, e.Load(path))
	return e
}

func TestLoadMissingFile(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	assert.Error(t, e.Load(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.False(t, e.Stats().Loaded)
}

func TestLoadDefaultsWeight(t *testing.T) {
	e := loadTestEngine(t, testGraph)
	rels := e.SymptomRelations("fever", 10)
	require.Len(t, rels, 1)
	assert.Equal(t, 1.0, rels[0].Weight)
}

func TestExpandDepthBound(t *testing.T) {
	e := loadTestEngine(t, testGraph)

	// One hop from chest pain reaches only the gerd edge.
	exp, err := e.Expand(context.Background(), []string{"chest pain"}, 1)
	require.NoError(t, err)
	require.Len(t, exp.Triplets, 1)
	assert.Equal(t, "gerd", exp.Triplets[0].Object)

	// Two hops adds gerd's own edges but not ppi trial's.
	exp, err = e.Expand(context.Background(), []string{"chest pain"}, 2)
	require.NoError(t, err)
	assert.Len(t, exp.Triplets, 3)
	for _, tr := range exp.Triplets {
		assert.NotEqual(t, "endoscopy", tr.Object)
	}
}

func TestExpandDeduplicatesTriplets(t *testing.T) {
	e := loadTestEngine(t, testGraph)

	// Both seeds reach gerd; its edges must appear once.
	exp, err := e.Expand(context.Background(), []string{"chest pain", "heartburn"}, 2)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, tr := range exp.Triplets {
		key := tr.Subject + "|" + tr.Predicate + "|" + tr.Object
		assert.False(t, seen[key], "duplicate triplet %s", key)
		seen[key] = true
	}
	assert.Equal(t, []string{"chest pain", "heartburn"}, exp.Seeds)
}

func TestExpandUnknownSeeds(t *testing.T) {
	e := loadTestEngine(t, testGraph)

	exp, err := e.Expand(context.Background(), []string{"unicorn syndrome"}, 2)
	require.NoError(t, err)
	assert.True(t, exp.Empty())
	assert.Empty(t, exp.Seeds)

	// Known and unknown seeds mix: the unknown one is skipped silently.
	exp, err = e.Expand(context.Background(), []string{"unicorn syndrome", "fever"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"fever"}, exp.Seeds)
	assert.Len(t, exp.Triplets, 1)
}

func TestExpandSortedByWeight(t *testing.T) {
	e := loadTestEngine(t, testGraph)
	exp, err := e.Expand(context.Background(), []string{"chest pain", "heartburn"}, 2)
	require.NoError(t, err)
	for i := 1; i < len(exp.Triplets); i++ {
		assert.GreaterOrEqual(t, exp.Triplets[i-1].Weight, exp.Triplets[i].Weight)
	}
}

func TestExpandNormalizesTerms(t *testing.T) {
	e := loadTestEngine(t, testGraph)
	exp, err := e.Expand(context.Background(), []string{"  Chest   PAIN "}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"chest pain"}, exp.Seeds)
}

func TestExpandCancelledContext(t *testing.T) {
	e := loadTestEngine(t, testGraph)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Expand(ctx, []string{"fever"}, 1)
	assert.Error(t, err)
}

func TestExpandOnEmptyEngine(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	exp, err := e.Expand(context.Background(), []string{"fever"}, 2)
	require.NoError(t, err)
	assert.True(t, exp.Empty())
}

func TestDiseaseInfo(t *testing.T) {
	e := loadTestEngine(t, testGraph)

	d, ok := e.DiseaseInfo("  GERD ")
	require.True(t, ok)
	assert.Equal(t, "K21.9", d.ICD10)

	_, ok = e.DiseaseInfo("lupus")
	assert.False(t, ok)
}

func TestSymptomRelations(t *testing.T) {
	e := loadTestEngine(t, testGraph)

	rels := e.SymptomRelations("gerd", 10)
	require.Len(t, rels, 3)
	for i := 1; i < len(rels); i++ {
		assert.GreaterOrEqual(t, rels[i-1].Weight, rels[i].Weight)
	}
	assert.Equal(t, "heartburn", rels[0].Node)

	assert.Len(t, e.SymptomRelations("gerd", 2), 2)
	assert.Empty(t, e.SymptomRelations("unknown", 10))
}

func TestPathBetween(t *testing.T) {
	e := loadTestEngine(t, testGraph)

	path, ok := e.PathBetween("chest pain", "endoscopy")
	require.True(t, ok)
	assert.Equal(t, []string{"chest pain", "gerd", "ppi trial", "endoscopy"}, path)

	path, ok = e.PathBetween("fever", "fever")
	require.True(t, ok)
	assert.Equal(t, []string{"fever"}, path)

	_, ok = e.PathBetween("fever", "gerd")
	assert.False(t, ok)

	_, ok = e.PathBetween("fever", "unknown")
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	e := loadTestEngine(t, testGraph)
	st := e.Stats()
	assert.True(t, st.Loaded)
	assert.Equal(t, 7, st.Nodes)
	assert.Equal(t, 5, st.Triplets)
	assert.Equal(t, 1, st.Diseases)
	assert.Greater(t, st.Density, 0.0)
}
