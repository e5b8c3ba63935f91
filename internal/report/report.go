// Package report renders a one-page PDF summary of an assessment.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/Skufu/veincheck/internal/triage"
)

const disclaimer = "This screening is not a diagnosis. Please consult a qualified vein specialist for a medical evaluation."

func Filename(rec triage.AssessmentRecord) string {
	return fmt.Sprintf("veincheck_report_%s.pdf", rec.ID.String()[:8])
}

// Render writes the PDF for rec. It uses the core Helvetica font, so text
// is transcoded to cp1252 and characters outside it are dropped.
func Render(w io.Writer, rec triage.AssessmentRecord) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("VeinCheck assessment", true)
	pdf.SetCreator("veincheck", true)
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 18)
	pdf.SetCreationDate(rec.Timestamp)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	width, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	body := width - left - right

	heading := func(text string) {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(body, 7, tr(text), "B", 1, "L", false, 0, "")
		pdf.Ln(1)
	}
	line := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(45, 6, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(body-45, 6, tr(value), "", "L", false)
	}
	bullets := func(items []string) {
		pdf.SetFont("Helvetica", "", 10)
		for _, item := range items {
			pdf.MultiCell(body, 6, tr("- "+item), "", "L", false)
		}
	}

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(body, 10, "VeinCheck Assessment", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(body, 5, tr(fmt.Sprintf("%s  |  %s UTC", rec.ID, rec.Timestamp.UTC().Format("2006-01-02 15:04"))), "", 1, "L", false, 0, "")

	heading("Patient")
	line("Name", rec.Patient.Name)
	line("Age", fmt.Sprintf("%d", rec.Patient.Age))
	line("City", rec.Patient.Location)
	if rec.Patient.Phone != "" {
		line("Phone", rec.Patient.Phone)
	}

	heading("Answers")
	for _, q := range triage.Questions() {
		line(string(rec.Answers.Get(q.ID)), q.Prompt)
	}

	heading("Result")
	line("Severity", fmt.Sprintf("Level %d of 4 (%s)", rec.Level, rec.Category))
	line("Stage", rec.Recommendation.Title)
	if rec.Recommendation.Description != "" {
		line("Summary", rec.Recommendation.Description)
	}
	if a := rec.Analysis; a != nil {
		detail := fmt.Sprintf("%.0f%% confidence", a.Confidence*100)
		if len(a.Findings) > 0 {
			detail += "; " + strings.Join(a.Findings, ", ")
		}
		line("Photo analysis", detail)
	}

	heading("Recommended treatments")
	bullets(rec.Recommendation.Treatments)

	heading("Next steps")
	bullets(rec.Recommendation.NextSteps)

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.MultiCell(body, 4, tr(disclaimer), "", "L", false)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return pdf.Output(w)
}
