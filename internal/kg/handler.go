package kg

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"medrag/internal/metrics"
)

// Handler exposes the read-only knowledge-graph query surface. It is
// independent of the diagnosis job lifecycle.
type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"knowledgeGraph": h.engine.Stats()})
}

func (h *Handler) Explore(w http.ResponseWriter, r *http.Request) {
	node := chi.URLParam(r, "node")
	radius := queryInt(r, "radius", 1)
	if radius < 1 || radius > 3 {
		http.Error(w, "radius must be between 1 and 3", http.StatusBadRequest)
		return
	}

	expansion, err := h.engine.Expand(r.Context(), []string{node}, radius)
	if err != nil {
		http.Error(w, "expansion failed", http.StatusInternalServerError)
		return
	}
	metrics.KGQueries.Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"node":      node,
		"radius":    radius,
		"neighbors": h.engine.SymptomRelations(node, 10),
		"triplets":  expansion.Triplets,
	})
}

func (h *Handler) Path(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	target := chi.URLParam(r, "target")

	path, ok := h.engine.PathBetween(source, target)
	metrics.KGQueries.Inc()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"source":  source,
			"target":  target,
			"path":    nil,
			"message": "no path found between nodes",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"source":     source,
		"target":     target,
		"path":       path,
		"pathLength": len(path) - 1,
	})
}

func (h *Handler) Disease(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	info, ok := h.engine.DiseaseInfo(name)
	if !ok {
		http.Error(w, "disease not found: "+name, http.StatusNotFound)
		return
	}
	metrics.KGQueries.Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"disease":   name,
		"info":      info,
		"relations": h.engine.SymptomRelations(name, 10),
	})
}

func (h *Handler) Symptom(w http.ResponseWriter, r *http.Request) {
	term := chi.URLParam(r, "term")
	max := queryInt(r, "max_relations", 10)
	if max < 1 || max > 50 {
		http.Error(w, "max_relations must be between 1 and 50", http.StatusBadRequest)
		return
	}

	expansion, err := h.engine.Expand(r.Context(), []string{term}, 2)
	if err != nil {
		http.Error(w, "expansion failed", http.StatusInternalServerError)
		return
	}
	metrics.KGQueries.Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"symptom":   term,
		"neighbors": h.engine.SymptomRelations(term, max),
		"triplets":  expansion.Triplets,
	})
}

type analyzeRequest struct {
	Symptoms []string `json:"symptoms"`
	MaxDepth int      `json:"maxDepth"`
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if len(req.Symptoms) == 0 {
		http.Error(w, "no symptoms provided", http.StatusBadRequest)
		return
	}
	if req.MaxDepth == 0 {
		req.MaxDepth = 2
	}

	expansion, err := h.engine.Expand(r.Context(), req.Symptoms, req.MaxDepth)
	if err != nil {
		http.Error(w, "expansion failed", http.StatusInternalServerError)
		return
	}
	metrics.KGQueries.Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"symptoms":      req.Symptoms,
		"resolvedSeeds": expansion.Seeds,
		"triplets":      expansion.Triplets,
		"analysis": map[string]any{
			"totalTriplets": len(expansion.Triplets),
		},
	})
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/kg/stats", h.Stats)
	r.Get("/kg/explore/{node}", h.Explore)
	r.Get("/kg/path/{source}/{target}", h.Path)
	r.Get("/kg/disease/{name}", h.Disease)
	r.Get("/kg/symptoms/{term}", h.Symptom)
	r.Post("/kg/analyze", h.Analyze)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
