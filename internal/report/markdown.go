package report

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ogulcanaydogan/medcert/internal/metrics"
	"github.com/ogulcanaydogan/medcert/pkg/types"
)

func BuildMarkdown(doc Document) string {
	c := doc.Certificate
	rec := doc.Evaluation
	var b strings.Builder
	b.WriteString("# Medical Model Certification Summary\n\n")
	b.WriteString(fmt.Sprintf("- Status: **%s**\n", c.Status))
	b.WriteString(fmt.Sprintf("- Overall Score: `%s`\n", c.OverallScore))
	b.WriteString(fmt.Sprintf("- Evaluation ID: `%s`\n", c.EvaluationID))
	if c.ModelName != "" {
		b.WriteString(fmt.Sprintf("- Model: `%s`\n", c.ModelName))
	}
	b.WriteString(fmt.Sprintf("- Domain: `%s`\n", c.Domain))
	b.WriteString(fmt.Sprintf("- Task: `%s`\n", c.TaskType))
	b.WriteString(fmt.Sprintf("- Benchmark: `%s`\n", c.BenchmarkPath))
	if c.BenchmarkDigest != "" {
		b.WriteString(fmt.Sprintf("- Benchmark Digest: `%s`\n", c.BenchmarkDigest))
	}
	b.WriteString(fmt.Sprintf("- Record Digest: `%s`\n", c.RecordDigest))
	b.WriteString(fmt.Sprintf("- Issued: `%s`\n\n", c.IssuedAt))

	b.WriteString("## Cases\n\n")
	b.WriteString("| Loaded | Dropped | Successful | Failed |\n")
	b.WriteString("|---:|---:|---:|---:|\n")
	b.WriteString(fmt.Sprintf("| %d | %d | %d | %d |\n\n", rec.LoadedCases, rec.DroppedCases, rec.SuccessfulPredictions, rec.FailedPredictions))

	b.WriteString("## Metrics\n\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("|---|---:|\n")
	names := make([]string, 0, len(c.Metrics))
	for name := range c.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(fmt.Sprintf("| %s | %s |\n", name, c.Metrics[name]))
	}

	writeList(&b, "Failures", c.Failures)
	writeList(&b, "Warnings", c.Warnings)

	if len(rec.DomainMetrics) > 0 {
		b.WriteString("\n## Domains\n\n")
		b.WriteString("| Domain | Accuracy | Precision | Recall | F1 |\n")
		b.WriteString("|---|---:|---:|---:|---:|\n")
		domains := make([]string, 0, len(rec.DomainMetrics))
		for d := range rec.DomainMetrics {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		for _, d := range domains {
			m := rec.DomainMetrics[d]
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n", escape(d),
				Score(m[types.MetricAccuracy]), Score(m[types.MetricPrecision]),
				Score(m[types.MetricRecall]), Score(m[types.MetricF1])))
		}
	}

	if len(rec.ClassReport) > 0 {
		b.WriteString("\n## Classes\n\n")
		b.WriteString("| Class | Precision | Recall | F1 | Support |\n")
		b.WriteString("|---|---:|---:|---:|---:|\n")
		for _, l := range metrics.Labels(rec.ClassReport) {
			s := rec.ClassReport[l]
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d |\n", escape(l), Score(s.Precision), Score(s.Recall), Score(s.F1), s.Support))
		}
	}

	if len(rec.SafetyIssues) > 0 {
		b.WriteString("\n## Safety Issues\n\n")
		b.WriteString("| Case | Severity | Score | Issues |\n")
		b.WriteString("|---|---|---:|---|\n")
		for _, f := range rec.SafetyIssues {
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n", escape(f.CaseID), f.Severity, Score(f.Score), escape(strings.Join(f.Issues, "; "))))
		}
	}

	if len(rec.ErrorDetails) > 0 {
		b.WriteString("\n## Failed Cases\n\n")
		for _, e := range rec.ErrorDetails {
			b.WriteString(fmt.Sprintf("- `%s`: %s\n", e.CaseID, e.Error))
		}
	}

	if g := rec.Generalization; g != nil {
		b.WriteString("\n## Generalization\n\n")
		b.WriteString(fmt.Sprintf("- Status: `%s`\n", g.Status))
		if len(g.DomainsTested) > 0 {
			b.WriteString(fmt.Sprintf("- Domains: %s\n", strings.Join(g.DomainsTested, ", ")))
		}
		if g.Note != "" {
			b.WriteString(fmt.Sprintf("- Note: %s\n", g.Note))
		}
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n## " + title + "\n\n")
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func WriteMarkdown(path string, doc Document) error {
	return os.WriteFile(path, []byte(BuildMarkdown(doc)), 0o644)
}
