package diagnosis

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"medrag/internal/metrics"
)

// Exporter renders a completed session in a requested format.
type Exporter interface {
	Render(format string, s *Session, exposeDegraded bool) (data []byte, contentType string, err error)
}

type Handler struct {
	executor       *Executor
	mgr            *Manager
	exporter       Exporter
	exposeDegraded bool
}

func NewHandler(executor *Executor, mgr *Manager, exporter Exporter, exposeDegraded bool) *Handler {
	return &Handler{executor: executor, mgr: mgr, exporter: exporter, exposeDegraded: exposeDegraded}
}

type submitResponse struct {
	SessionID string `json:"sessionId"`
	Status    State  `json:"status"`
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var input PatientInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := h.executor.Submit(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrQueueFull):
			http.Error(w, "diagnosis queue is full, try again later", http.StatusServiceUnavailable)
		default:
			http.Error(w, "failed to start diagnosis", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{SessionID: sess.ID.String(), Status: sess.State})
}

type statusResponse struct {
	SessionID string  `json:"sessionId"`
	Status    State   `json:"status"`
	Result    *Result `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
	Degraded  *bool   `json:"degraded,omitempty"`
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	resp := statusResponse{
		SessionID: sess.ID.String(),
		Status:    sess.State,
		Result:    sess.Result,
		Error:     sess.Error,
	}
	if h.exposeDegraded && sess.State == StateCompleted {
		resp.Degraded = &sess.Degraded
	}
	writeJSON(w, http.StatusOK, resp)
}

type exportRequest struct {
	Format string `json:"format"`
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if sess.State != StateCompleted || sess.Result == nil {
		http.Error(w, ErrSessionNotReady.Error(), http.StatusConflict)
		return
	}

	data, contentType, err := h.exporter.Render(req.Format, sess, h.exposeDegraded)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "export failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type summaryResponse struct {
	SessionID    string  `json:"sessionId"`
	Status       State   `json:"status"`
	CreatedAt    string  `json:"createdAt"`
	PatientID    string  `json:"patientId,omitempty"`
	TopDiagnosis string  `json:"topDiagnosis,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	resp := summaryResponse{
		SessionID: sess.ID.String(),
		Status:    sess.State,
		CreatedAt: sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		PatientID: sess.PatientID,
	}
	if sess.Result != nil && len(sess.Result.DifferentialDiagnosis) > 0 {
		top := sess.Result.DifferentialDiagnosis[0]
		resp.TopDiagnosis = top.Condition
		resp.Confidence = top.Confidence
	}
	writeJSON(w, http.StatusOK, resp)
}

type feedbackRequest struct {
	Rating           string `json:"rating"`
	Comments         string `json:"comments"`
	CorrectDiagnosis string `json:"correctDiagnosis"`
}

func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	fb, err := h.mgr.SubmitFeedback(r.Context(), id, req.Rating, req.Comments, req.CorrectDiagnosis)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrSessionNotFound):
			http.Error(w, "session not found", http.StatusNotFound)
		default:
			http.Error(w, "failed to submit feedback", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"feedbackId": fb.ID.String(),
		"message":    "feedback submitted",
	})
}

// SessionGraph returns the knowledge-graph neighborhood of a session's
// reported complaints and symptoms.
func (h *Handler) SessionGraph(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	expansion, err := h.executor.ExpandInput(r.Context(), sess.Input)
	if err != nil {
		http.Error(w, "graph expansion failed", http.StatusInternalServerError)
		return
	}
	metrics.KGQueries.Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID.String(),
		"seeds":     expansion.Seeds,
		"triplets":  expansion.Triplets,
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := h.mgr.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"sessionId": id.String(),
		"status":    "deleted",
	})
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return nil, false
	}
	sess, err := h.mgr.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return nil, false
		}
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/diagnosis", h.Submit)
	r.Get("/diagnosis/{sessionID}", h.Status)
	r.Post("/diagnosis/{sessionID}/export", h.Export)
	r.Get("/diagnosis/{sessionID}/summary", h.Summary)
	r.Post("/diagnosis/{sessionID}/feedback", h.Feedback)
	r.Delete("/diagnosis/{sessionID}", h.Delete)
	r.Get("/kg/sessions/{sessionID}", h.SessionGraph)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
