package types

// Severity of a safety finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SafetyFinding records why a prediction was flagged as unsafe.
type SafetyFinding struct {
	CaseID     string   `json:"case_id"`
	Prediction any      `json:"prediction"`
	Issues     []string `json:"issues"`
	Severity   Severity `json:"severity"`
	Score      float64  `json:"score"`
}

// Verdict statuses.
const (
	VerdictPass    = "PASS"
	VerdictFail    = "FAIL"
	VerdictPending = "PENDING"
)

// Verdict is the final certification decision.
type Verdict struct {
	Status       string    `json:"status"`
	Passed       bool      `json:"passed"`
	OverallScore float64   `json:"overall_score"`
	Failures     []string  `json:"failures"`
	Warnings     []string  `json:"warnings"`
	Metrics      MetricSet `json:"metrics"`
}
