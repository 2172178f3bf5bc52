package report

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/medcert/pkg/types"
	"github.com/shopspring/decimal"
)

const (
	schemaVersion = "1.0.0"
	version       = "0.1.0"
	scorePlaces   = 3
)

// Generator identifies the tool that issued a certificate.
type Generator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// Certificate is the human-facing summary of a finished evaluation.
// Scores are fixed-precision strings so they render identically everywhere.
type Certificate struct {
	SchemaVersion   string            `json:"schema_version"`
	CertificateID   string            `json:"certificate_id"`
	EvaluationID    string            `json:"evaluation_id"`
	ModelName       string            `json:"model_name,omitempty"`
	Status          string            `json:"status"`
	OverallScore    string            `json:"overall_score"`
	Domain          string            `json:"domain"`
	TaskType        string            `json:"task_type"`
	IssuedAt        string            `json:"issued_at"`
	Generator       Generator         `json:"generator"`
	BenchmarkPath   string            `json:"benchmark_path"`
	BenchmarkDigest string            `json:"benchmark_digest,omitempty"`
	RecordDigest    string            `json:"record_digest"`
	CasesEvaluated  int               `json:"cases_evaluated"`
	Metrics         map[string]string `json:"metrics"`
	Failures        []string          `json:"failures"`
	Warnings        []string          `json:"warnings"`
}

// NewCertificate summarizes rec. recordDigest pins the certificate to the
// exact record it was issued for.
func NewCertificate(rec types.EvaluationRecord, recordDigest, generator string, now time.Time) Certificate {
	if generator == "" {
		generator = "medcert"
	}
	c := Certificate{
		SchemaVersion:   schemaVersion,
		CertificateID:   uuid.NewString(),
		EvaluationID:    rec.EvaluationID,
		ModelName:       rec.ModelName,
		Status:          rec.EvaluationStatus,
		OverallScore:    Score(0),
		Domain:          rec.Domain,
		TaskType:        rec.TaskType,
		IssuedAt:        now.UTC().Format(time.RFC3339),
		Generator:       Generator{Name: generator, Version: version, GitSHA: readGitSHA()},
		BenchmarkPath:   rec.BenchmarkPath,
		BenchmarkDigest: rec.BenchmarkDigest,
		RecordDigest:    recordDigest,
		CasesEvaluated:  rec.LoadedCases,
		Metrics:         make(map[string]string, len(rec.Metrics)),
		Failures:        []string{},
		Warnings:        []string{},
	}
	for _, name := range rec.Metrics.Names() {
		c.Metrics[name] = Score(rec.Metrics[name])
	}
	if v := rec.Verdict; v != nil {
		c.OverallScore = Score(v.OverallScore)
		c.Failures = append(c.Failures, v.Failures...)
		c.Warnings = append(c.Warnings, v.Warnings...)
	}
	return c
}

// Score formats v with three decimal places.
func Score(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(scorePlaces)
}

func readGitSHA() string {
	if v := os.Getenv("GITHUB_SHA"); v != "" {
		return v
	}
	return "local"
}
