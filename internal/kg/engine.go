// Package kg holds the medical knowledge graph: symptom, condition and
// action nodes connected by weighted relations, loaded from a YAML snapshot.
package kg

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// NodeType classifies graph nodes.
type NodeType string

const (
	NodeSymptom   NodeType = "symptom"
	NodeCondition NodeType = "condition"
	NodeAction    NodeType = "action"
)

// Triplet is one (subject, relation, object) fact.
type Triplet struct {
	Subject     string   `json:"subject" yaml:"subject"`
	Predicate   string   `json:"predicate" yaml:"predicate"`
	Object      string   `json:"object" yaml:"object"`
	SubjectType NodeType `json:"subjectType" yaml:"subjectType"`
	ObjectType  NodeType `json:"objectType" yaml:"objectType"`
	Weight      float64  `json:"weight" yaml:"weight"`
}

// Disease is an ontology entry keyed by condition name.
type Disease struct {
	Description string   `json:"description" yaml:"description"`
	ICD10       string   `json:"icd10" yaml:"icd10"`
	Symptoms    []string `json:"symptoms" yaml:"symptoms"`
	Actions     []string `json:"actions" yaml:"actions"`
}

// Expansion is the depth-bounded neighborhood reachable from a set of seed
// terms. Seeds lists the input terms that resolved to graph nodes.
type Expansion struct {
	Seeds    []string  `json:"seeds"`
	Triplets []Triplet `json:"triplets"`
}

func (e Expansion) Empty() bool { return len(e.Triplets) == 0 }

// Relation is one neighbor of a node, used by the exploratory query surface.
type Relation struct {
	Node      string   `json:"node"`
	Type      NodeType `json:"type"`
	Predicate string   `json:"predicate"`
	Weight    float64  `json:"weight"`
}

// Stats summarizes the loaded graph.
type Stats struct {
	Loaded   bool    `json:"loaded"`
	Nodes    int     `json:"nodes"`
	Edges    int     `json:"edges"`
	Triplets int     `json:"triplets"`
	Diseases int     `json:"diseases"`
	Density  float64 `json:"density"`
}

type graphFile struct {
	Triplets []Triplet          `yaml:"triplets"`
	Diseases map[string]Disease `yaml:"diseases"`
}

type edge struct {
	peer    string
	triplet Triplet
}

// Engine is an in-memory, read-only view of the knowledge graph. A missing
// or empty graph is valid: every query degrades to an empty answer so graph
// absence never blocks a diagnosis.
type Engine struct {
	nodes    map[string]NodeType
	adj      map[string][]edge
	triplets []Triplet
	diseases map[string]Disease
	loaded   bool
	log      zerolog.Logger
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		nodes:    map[string]NodeType{},
		adj:      map[string][]edge{},
		diseases: map[string]Disease{},
		log:      log.With().Str("component", "kg").Logger(),
	}
}

// Load reads the graph snapshot. Edges are stored in both directions so
// traversal can walk symptom->condition and condition->symptom alike.
func (e *Engine) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read knowledge graph: %w", err)
	}
	var gf graphFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return fmt.Errorf("parse knowledge graph %s: %w", path, err)
	}

	for _, t := range gf.Triplets {
		subj, obj := normalizeTerm(t.Subject), normalizeTerm(t.Object)
		if subj == "" || obj == "" {
			continue
		}
		t.Subject, t.Object = subj, obj
		if t.Weight == 0 {
			t.Weight = 1
		}
		e.setNode(subj, t.SubjectType)
		e.setNode(obj, t.ObjectType)
		e.adj[subj] = append(e.adj[subj], edge{peer: obj, triplet: t})
		e.adj[obj] = append(e.adj[obj], edge{peer: subj, triplet: t})
		e.triplets = append(e.triplets, t)
	}
	for name, d := range gf.Diseases {
		e.diseases[normalizeTerm(name)] = d
	}

	e.loaded = true
	st := e.Stats()
	e.log.Info().Int("nodes", st.Nodes).Int("triplets", st.Triplets).Int("diseases", st.Diseases).Msg("knowledge graph loaded")
	return nil
}

func (e *Engine) setNode(name string, t NodeType) {
	if existing, ok := e.nodes[name]; ok && existing != "" {
		return
	}
	e.nodes[name] = t
}

// Expand walks breadth-first from every resolved seed term up to maxDepth
// hops and returns the deduplicated triplets along the way. Unknown terms
// are skipped; if no seed resolves the expansion is empty, not an error.
func (e *Engine) Expand(ctx context.Context, terms []string, maxDepth int) (Expansion, error) {
	if err := ctx.Err(); err != nil {
		return Expansion{}, err
	}
	if maxDepth <= 0 {
		maxDepth = 2
	}

	var seeds []string
	for _, term := range terms {
		norm := normalizeTerm(term)
		if _, ok := e.nodes[norm]; ok {
			seeds = append(seeds, norm)
		}
	}
	if len(seeds) == 0 {
		return Expansion{}, nil
	}

	type queued struct {
		node  string
		depth int
	}
	visited := make(map[string]bool, len(seeds))
	seen := make(map[string]bool)
	var out []Triplet

	queue := make([]queued, 0, len(seeds))
	for _, s := range seeds {
		if !visited[s] {
			visited[s] = true
			queue = append(queue, queued{node: s})
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, ed := range e.adj[cur.node] {
			key := ed.triplet.Subject + "|" + ed.triplet.Predicate + "|" + ed.triplet.Object
			if !seen[key] {
				seen[key] = true
				out = append(out, ed.triplet)
			}
			if !visited[ed.peer] {
				visited[ed.peer] = true
				queue = append(queue, queued{node: ed.peer, depth: cur.depth + 1})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Object < out[j].Object
	})

	return Expansion{Seeds: seeds, Triplets: out}, nil
}

// DiseaseInfo looks up an ontology entry by condition name.
func (e *Engine) DiseaseInfo(name string) (Disease, bool) {
	d, ok := e.diseases[normalizeTerm(name)]
	return d, ok
}

// SymptomRelations returns up to max neighbors of a term, heaviest first.
func (e *Engine) SymptomRelations(term string, max int) []Relation {
	norm := normalizeTerm(term)
	edges := e.adj[norm]
	rels := make([]Relation, 0, len(edges))
	for _, ed := range edges {
		rels = append(rels, Relation{
			Node:      ed.peer,
			Type:      e.nodes[ed.peer],
			Predicate: ed.triplet.Predicate,
			Weight:    ed.triplet.Weight,
		})
	}
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].Weight != rels[j].Weight {
			return rels[i].Weight > rels[j].Weight
		}
		return rels[i].Node < rels[j].Node
	})
	if max > 0 && len(rels) > max {
		rels = rels[:max]
	}
	return rels
}

// PathBetween finds a shortest path between two nodes, or ok=false when the
// nodes are unknown or disconnected.
func (e *Engine) PathBetween(a, b string) ([]string, bool) {
	src, dst := normalizeTerm(a), normalizeTerm(b)
	if _, ok := e.nodes[src]; !ok {
		return nil, false
	}
	if _, ok := e.nodes[dst]; !ok {
		return nil, false
	}
	if src == dst {
		return []string{src}, true
	}

	prev := map[string]string{src: src}
	queue := []string{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ed := range e.adj[cur] {
			if _, ok := prev[ed.peer]; ok {
				continue
			}
			prev[ed.peer] = cur
			if ed.peer == dst {
				var path []string
				for n := dst; n != src; n = prev[n] {
					path = append([]string{n}, path...)
				}
				return append([]string{src}, path...), true
			}
			queue = append(queue, ed.peer)
		}
	}
	return nil, false
}

func (e *Engine) Stats() Stats {
	n := len(e.nodes)
	edges := len(e.triplets)
	density := 0.0
	if n > 1 {
		density = float64(2*edges) / float64(n*(n-1))
	}
	return Stats{
		Loaded:   e.loaded,
		Nodes:    n,
		Edges:    edges,
		Triplets: len(e.triplets),
		Diseases: len(e.diseases),
		Density:  density,
	}
}

func normalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
