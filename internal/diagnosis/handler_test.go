package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medrag/internal/kg"
	"medrag/internal/retrieval"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

type stubExporter struct{}

func (stubExporter) Render(format string, s *Session, _ bool) ([]byte, string, error) {
	if format != "json" {
		return nil, "", fmt.Errorf("%w: unsupported export format %q", ErrValidation, format)
	}
	return []byte(`{"sessionId":"` + s.ID.String() + `"}`), "application/json", nil
}

func newTestRouter(t *testing.T) (*chi.Mux, *harness) {
	t.Helper()
	h := newHarness(t, nil, nil, nil, ExecutorConfig{}, true)
	handler := NewHandler(h.executor, h.mgr, stubExporter{}, true)

	r := chi.NewRouter()
	RegisterRoutes(r, handler)
	return r, h
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerSubmitAndStatus(t *testing.T) {
	r, h := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/diagnosis", chestPainInput())
	require.Equal(t, http.StatusAccepted, w.Code)

	var submitted submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	assert.Equal(t, StatePending, submitted.Status)

	sessID := submitted.SessionID
	require.NotEmpty(t, sessID)

	// Wait for the pipeline, then read the final status over HTTP.
	sess, err := h.mgr.Get(context.Background(), mustUUID(t, sessID))
	require.NoError(t, err)
	waitForState(t, h.mgr, sess.ID, StateCompleted)

	w = doJSON(t, r, http.MethodGet, "/diagnosis/"+sessID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, StateCompleted, status.Status)
	require.NotNil(t, status.Result)
	assert.NotEmpty(t, status.Result.DifferentialDiagnosis)
	require.NotNil(t, status.Degraded)
	assert.False(t, *status.Degraded)
}

func TestHandlerSubmitValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/diagnosis", PatientInput{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/diagnosis", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerStatusNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/diagnosis/9e5de2a0-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodGet, "/diagnosis/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerExportBeforeCompletion(t *testing.T) {
	r, h := newTestRouter(t)

	sess, err := h.mgr.Create(context.Background(), chestPainInput())
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodPost, "/diagnosis/"+sess.ID.String()+"/export", exportRequest{Format: "json"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), ErrSessionNotReady.Error())
}

func TestHandlerExportCompleted(t *testing.T) {
	r, h := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/diagnosis", chestPainInput())
	require.Equal(t, http.StatusAccepted, w.Code)
	var submitted submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))

	id := mustUUID(t, submitted.SessionID)
	waitForState(t, h.mgr, id, StateCompleted)

	w = doJSON(t, r, http.MethodPost, "/diagnosis/"+submitted.SessionID+"/export", exportRequest{Format: "json"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), submitted.SessionID)

	w = doJSON(t, r, http.MethodPost, "/diagnosis/"+submitted.SessionID+"/export", exportRequest{Format: "docx"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerSummary(t *testing.T) {
	r, h := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/diagnosis", chestPainInput())
	require.Equal(t, http.StatusAccepted, w.Code)
	var submitted submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))

	id := mustUUID(t, submitted.SessionID)
	waitForState(t, h.mgr, id, StateCompleted)

	w = doJSON(t, r, http.MethodGet, "/diagnosis/"+submitted.SessionID+"/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary summaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, StateCompleted, summary.Status)
	assert.NotEmpty(t, summary.TopDiagnosis)
	assert.Greater(t, summary.Confidence, 0.0)
}

func TestHandlerFeedback(t *testing.T) {
	r, h := newTestRouter(t)

	sess, err := h.mgr.Create(context.Background(), chestPainInput())
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodPost, "/diagnosis/"+sess.ID.String()+"/feedback", feedbackRequest{Rating: "positive"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, h.store.FeedbackFor(sess.ID), 1)

	w = doJSON(t, r, http.MethodPost, "/diagnosis/"+sess.ID.String()+"/feedback", feedbackRequest{Rating: "amazing"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerDelete(t *testing.T) {
	r, h := newTestRouter(t)

	sess, err := h.mgr.Create(context.Background(), chestPainInput())
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodDelete, "/diagnosis/"+sess.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/diagnosis/"+sess.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/diagnosis/"+sess.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerSessionGraph(t *testing.T) {
	graph := expanderFunc(func(_ context.Context, terms []string, _ int) (kg.Expansion, error) {
		return kg.Expansion{
			Seeds:    []string{"chest pain"},
			Triplets: []kg.Triplet{{Subject: "chest pain", Predicate: "indicates", Object: "gerd", Weight: 0.8}},
		}, nil
	})
	h := newHarness(t, nil, nil, graph, ExecutorConfig{}, false)
	handler := NewHandler(h.executor, h.mgr, stubExporter{}, true)
	r := chi.NewRouter()
	RegisterRoutes(r, handler)

	sess, err := h.mgr.Create(context.Background(), chestPainInput())
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodGet, "/kg/sessions/"+sess.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string       `json:"sessionId"`
		Seeds     []string     `json:"seeds"`
		Triplets  []kg.Triplet `json:"triplets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, sess.ID.String(), resp.SessionID)
	assert.Equal(t, []string{"chest pain"}, resp.Seeds)
	require.Len(t, resp.Triplets, 1)
	assert.Equal(t, "gerd", resp.Triplets[0].Object)

	w = doJSON(t, r, http.MethodGet, "/kg/sessions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerHidesDegradedWhenDisabled(t *testing.T) {
	h := newHarness(t, nil, searcherFunc(func(context.Context, string, int) ([]retrieval.Case, error) {
		return nil, retrieval.ErrIndexUnavailable
	}), nil, ExecutorConfig{MaxAttempts: 1}, true)
	handler := NewHandler(h.executor, h.mgr, stubExporter{}, false)
	r := chi.NewRouter()
	RegisterRoutes(r, handler)

	w := doJSON(t, r, http.MethodPost, "/diagnosis", chestPainInput())
	require.Equal(t, http.StatusAccepted, w.Code)
	var submitted submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))

	id := mustUUID(t, submitted.SessionID)
	waitForState(t, h.mgr, id, StateCompleted)

	w = doJSON(t, r, http.MethodGet, "/diagnosis/"+submitted.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "degraded")
}
