package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medrag/internal/diagnosis"
)

func completedSession() *diagnosis.Session {
	return &diagnosis.Session{
		ID:        uuid.MustParse("3f2f6c2a-9b1e-4b3e-8c5d-1a2b3c4d5e6f"),
		PatientID: "p-42",
		State:     diagnosis.StateCompleted,
		Degraded:  true,
		UpdatedAt: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		Result: &diagnosis.Result{
			DifferentialDiagnosis: []diagnosis.Condition{
				{Condition: "GERD", Confidence: 78.2, Description: "acid reflux", ICD10: "K21.9"},
				{Condition: "Costochondritis", Confidence: 65.4, ICD10: "M94.0"},
			},
			RecommendedActions: []diagnosis.Action{
				{ID: "a1", Text: "Order ECG", Priority: "high", Category: "imaging"},
			},
			FollowUpQuestions: []diagnosis.Question{{ID: "q1", Text: "How long?"}},
			SimilarCases: []diagnosis.SimilarCase{
				{CaseID: "c1", Similarity: 91.0, Diagnosis: "GERD"},
			},
		},
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	r := NewRenderer()
	_, _, err := r.Render("docx", completedSession(), false)
	assert.ErrorIs(t, err, diagnosis.ErrValidation)
}

func TestRenderJSON(t *testing.T) {
	r := NewRenderer()
	data, contentType, err := r.Render("json", completedSession(), true)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	var out struct {
		SessionID string            `json:"sessionId"`
		Data      *diagnosis.Result `json:"data"`
		Degraded  *bool             `json:"degraded"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "3f2f6c2a-9b1e-4b3e-8c5d-1a2b3c4d5e6f", out.SessionID)
	require.NotNil(t, out.Data)
	assert.Equal(t, "GERD", out.Data.DifferentialDiagnosis[0].Condition)
	require.NotNil(t, out.Degraded)
	assert.True(t, *out.Degraded)
}

func TestRenderJSONHidesDegraded(t *testing.T) {
	r := NewRenderer()
	data, _, err := r.Render("json", completedSession(), false)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "degraded")
}

func TestRenderFormatCaseInsensitive(t *testing.T) {
	r := NewRenderer()
	_, contentType, err := r.Render("JSON", completedSession(), false)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
}

func TestRenderHL7(t *testing.T) {
	r := NewRenderer()
	data, contentType, err := r.Render("hl7", completedSession(), false)
	require.NoError(t, err)
	assert.Equal(t, "application/hl7-v2", contentType)

	msg := string(data)
	segments := strings.Split(strings.TrimRight(msg, "\r\n"), "\r\n")
	require.GreaterOrEqual(t, len(segments), 4)
	assert.True(t, strings.HasPrefix(segments[0], "MSH|"))
	assert.Contains(t, segments[0], "ORU^R01")
	assert.Contains(t, segments[0], "20260314103000")
	assert.True(t, strings.HasPrefix(segments[1], "PID|1||p-42"))
	assert.Contains(t, segments[2], "OBX|1|")
	assert.Contains(t, segments[2], "GERD^K21.9")
	assert.Contains(t, segments[3], "OBX|2|")
}

func TestRenderHL7WithoutPatient(t *testing.T) {
	r := NewRenderer()
	s := completedSession()
	s.PatientID = ""
	data, _, err := r.Render("hl7", s, false)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "PID|")
}

func TestRenderPDF(t *testing.T) {
	r := NewRenderer()
	data, contentType, err := r.Render("pdf", completedSession(), false)
	if err != nil && strings.Contains(err.Error(), "failed to load font") {
		t.Skip("DejaVu fonts not installed")
	}
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
}
