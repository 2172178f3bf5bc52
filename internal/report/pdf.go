package report

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/go-pdf/fpdf"
)

// BuildPDF renders the certificate page.
func BuildPDF(doc Document) ([]byte, error) {
	c := doc.Certificate
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Medical Model Certificate "+c.EvaluationID, true)
	pdf.SetCreator(c.Generator.Name+" "+c.Generator.Version, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 14, "Medical Model Certificate", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 28)
	if c.Status == "PASS" {
		pdf.SetTextColor(0, 128, 0)
	} else {
		pdf.SetTextColor(192, 0, 0)
	}
	pdf.CellFormat(0, 16, c.Status, "", 1, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, "Overall score "+c.OverallScore, "", 1, "C", false, 0, "")
	pdf.Ln(6)

	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(50, 7, label, "1", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 7, tr(value), "1", 1, "L", false, 0, "")
	}
	row("Evaluation ID", c.EvaluationID)
	if c.ModelName != "" {
		row("Model", c.ModelName)
	}
	row("Domain", c.Domain)
	row("Task", c.TaskType)
	row("Cases evaluated", fmt.Sprint(c.CasesEvaluated))
	row("Benchmark", c.BenchmarkPath)
	if c.BenchmarkDigest != "" {
		row("Benchmark digest", c.BenchmarkDigest)
	}
	row("Record digest", c.RecordDigest)
	row("Issued", c.IssuedAt)
	row("Certificate ID", c.CertificateID)
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Metrics", "", 1, "L", false, 0, "")
	names := make([]string, 0, len(c.Metrics))
	for name := range c.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		row(name, c.Metrics[name])
	}

	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		for _, item := range items {
			pdf.MultiCell(0, 6, tr("- "+item), "", "L", false)
		}
	}
	section("Failures", c.Failures)
	section("Warnings", c.Warnings)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}

func WritePDF(path string, doc Document) error {
	raw, err := BuildPDF(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
