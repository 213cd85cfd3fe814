// Package report renders a completed diagnosis session for export.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"medrag/internal/diagnosis"
)

// Supported export formats.
const (
	FormatJSON = "json"
	FormatPDF  = "pdf"
	FormatHL7  = "hl7"
)

// Renderer serializes a DiagnosisResult in the requested format.
type Renderer struct {
	fontPaths []string
}

func NewRenderer() *Renderer {
	return &Renderer{
		// Common DejaVuSans locations across distros.
		fontPaths: []string{
			"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
			"/usr/share/fonts/dejavu/DejaVuSans.ttf",
			"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		},
	}
}

func (r *Renderer) Render(format string, s *diagnosis.Session, exposeDegraded bool) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return r.renderJSON(s, exposeDegraded)
	case FormatPDF:
		data, err := r.renderPDF(s)
		return data, "application/pdf", err
	case FormatHL7:
		return r.renderHL7(s)
	default:
		return nil, "", fmt.Errorf("%w: unsupported export format %q", diagnosis.ErrValidation, format)
	}
}

type jsonExport struct {
	SessionID string            `json:"sessionId"`
	Data      *diagnosis.Result `json:"data"`
	Degraded  *bool             `json:"degraded,omitempty"`
}

func (r *Renderer) renderJSON(s *diagnosis.Session, exposeDegraded bool) ([]byte, string, error) {
	export := jsonExport{SessionID: s.ID.String(), Data: s.Result}
	if exposeDegraded {
		export.Degraded = &s.Degraded
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func (r *Renderer) renderPDF(s *diagnosis.Session) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range r.fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, fmt.Errorf("failed to load font for PDF, ensure ttf-dejavu is installed: %w", fontErr)
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Differential Diagnosis Report")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 12); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Date: %s", time.Now().Format("02.01.2006 15:04")))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Session: %s", s.ID))
	pdf.Br(15)
	if s.PatientID != "" {
		pdf.Cell(nil, fmt.Sprintf("Patient: %s", s.PatientID))
		pdf.Br(15)
	}
	pdf.Br(10)

	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Differential diagnosis:")
	pdf.Br(15)

	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return nil, err
	}
	for _, d := range s.Result.DifferentialDiagnosis {
		line := fmt.Sprintf("- %s (%.1f%%, %s): %s", d.Condition, d.Confidence, d.ICD10, d.Description)
		lines, _ := pdf.SplitText(line, 500)
		for _, l := range lines {
			pdf.Cell(nil, l)
			pdf.Br(12)
		}
		pdf.Br(5)
	}
	pdf.Br(10)

	if len(s.Result.RecommendedActions) > 0 {
		if err := pdf.SetFont("DejaVu", "", 14); err != nil {
			return nil, err
		}
		pdf.Cell(nil, "Recommended actions:")
		pdf.Br(15)
		if err := pdf.SetFont("DejaVu", "", 11); err != nil {
			return nil, err
		}
		for _, a := range s.Result.RecommendedActions {
			line := fmt.Sprintf("- [%s/%s] %s", a.Priority, a.Category, a.Text)
			lines, _ := pdf.SplitText(line, 500)
			for _, l := range lines {
				pdf.Cell(nil, l)
				pdf.Br(12)
			}
		}
		pdf.Br(10)
	}

	if len(s.Result.SimilarCases) > 0 {
		if err := pdf.SetFont("DejaVu", "", 14); err != nil {
			return nil, err
		}
		pdf.Cell(nil, "Similar cases:")
		pdf.Br(15)
		if err := pdf.SetFont("DejaVu", "", 11); err != nil {
			return nil, err
		}
		for _, c := range s.Result.SimilarCases {
			pdf.Cell(nil, fmt.Sprintf("- Case %s: %s (%.1f%%)", c.CaseID, c.Diagnosis, c.Similarity))
			pdf.Br(12)
		}
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// renderHL7 emits a minimal ORU^R01 observation message carrying the ranked
// differential. Enough for downstream interface engines to route on; not a
// full HL7 implementation.
func (r *Renderer) renderHL7(s *diagnosis.Session) ([]byte, string, error) {
	var b strings.Builder
	ts := s.UpdatedAt.Format("20060102150405")

	fmt.Fprintf(&b, "MSH|^~\\&|MEDRAG|DIAGNOSIS|||%s||ORU^R01|%s|P|2.5\r\n", ts, s.ID)
	if s.PatientID != "" {
		fmt.Fprintf(&b, "PID|1||%s\r\n", s.PatientID)
	}
	for i, d := range s.Result.DifferentialDiagnosis {
		fmt.Fprintf(&b, "OBX|%d|ST|DDX^Differential Diagnosis||%s^%s|%.1f\r\n",
			i+1, d.Condition, d.ICD10, d.Confidence)
	}
	return []byte(b.String()), "application/hl7-v2", nil
}
