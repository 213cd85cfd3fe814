// Package retrieval finds prior cases similar to a patient query by
// nearest-neighbor search over locally computed case embeddings.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// ErrIndexUnavailable is returned when the case index has not been loaded.
// Callers treat it as transient: the pipeline retries and then degrades to an
// empty case list instead of failing the session.
var ErrIndexUnavailable = errors.New("case index unavailable")

// Case is one search hit from the index. Similarity is a percentage in
// [0,100], highest first.
type Case struct {
	ID         string   `json:"caseId"`
	Similarity float64  `json:"similarity"`
	Diagnosis  string   `json:"diagnosis"`
	Outcome    string   `json:"outcome,omitempty"`
	Symptoms   []string `json:"symptoms,omitempty"`
	Summary    string   `json:"summary,omitempty"`
}

// caseRecord is the on-disk index entry shape.
type caseRecord struct {
	ID        string   `json:"id"`
	Diagnosis string   `json:"diagnosis"`
	Outcome   string   `json:"outcome"`
	Symptoms  []string `json:"symptoms"`
	Summary   string   `json:"summary"`
}

type indexedCase struct {
	caseRecord
	embedding Vector
}

// Stats describes the loaded index.
type Stats struct {
	Loaded    bool   `json:"loaded"`
	Cases     int    `json:"cases"`
	Dims      int    `json:"dims"`
	IndexPath string `json:"indexPath,omitempty"`
}

// Engine answers top-K similarity queries against a snapshot of prior cases.
// The index is loaded once at startup and is read-only afterwards.
type Engine struct {
	embedder Embedder
	cases    []indexedCase
	loaded   bool
	path     string
	log      zerolog.Logger
}

func NewEngine(embedder Embedder, log zerolog.Logger) *Engine {
	return &Engine{embedder: embedder, log: log.With().Str("component", "retrieval").Logger()}
}

// LoadIndex reads the case metadata file and embeds every case. The embedded
// text concatenates symptoms, diagnosis and summary, mirroring how queries
// are built from complaints and symptoms.
func (e *Engine) LoadIndex(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read case index: %w", err)
	}
	var records []caseRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse case index %s: %w", path, err)
	}

	cases := make([]indexedCase, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		text := strings.Join(rec.Symptoms, " ") + " " + rec.Diagnosis + " " + rec.Summary
		cases = append(cases, indexedCase{caseRecord: rec, embedding: e.embedder.Embed(text)})
	}

	e.cases = cases
	e.loaded = true
	e.path = path
	e.log.Info().Int("cases", len(cases)).Int("dims", e.embedder.Dims()).Msg("case index loaded")
	return nil
}

// Search returns up to k cases ordered by descending similarity. Ties are
// broken by case id ascending so results are reproducible.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !e.loaded {
		return nil, ErrIndexUnavailable
	}
	if k <= 0 {
		return nil, nil
	}

	queryVec := e.embedder.Embed(query)

	results := make([]Case, 0, len(e.cases))
	for _, c := range e.cases {
		sim := CosineSimilarity(queryVec, c.embedding) * 100
		if sim < 0 {
			sim = 0
		}
		results = append(results, Case{
			ID:         c.ID,
			Similarity: sim,
			Diagnosis:  c.Diagnosis,
			Outcome:    c.Outcome,
			Symptoms:   c.Symptoms,
			Summary:    c.Summary,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// CaseByID returns the raw metadata for a single case.
func (e *Engine) CaseByID(id string) (Case, bool) {
	for _, c := range e.cases {
		if c.ID == id {
			return Case{ID: c.ID, Diagnosis: c.Diagnosis, Outcome: c.Outcome, Symptoms: c.Symptoms, Summary: c.Summary}, true
		}
	}
	return Case{}, false
}

func (e *Engine) Stats() Stats {
	return Stats{Loaded: e.loaded, Cases: len(e.cases), Dims: e.embedder.Dims(), IndexPath: e.path}
}
