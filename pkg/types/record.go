package types

import "time"

// Status is the orchestrator state of an evaluation run.
type Status string

const (
	StatusInitialized         Status = "initialized"
	StatusLoadingTestData     Status = "loading_test_data"
	StatusTestDataLoaded      Status = "test_data_loaded"
	StatusRunningEvaluation   Status = "running_evaluation"
	StatusEvaluationCompleted Status = "evaluation_completed"
	StatusCalculatingScores   Status = "calculating_scores"
	StatusScoresCalculated    Status = "scores_calculated"
	StatusEvaluatingSafety    Status = "evaluating_safety"
	StatusSafetyEvalCompleted Status = "safety_evaluation_completed"
	StatusGeneratingReport    Status = "generating_report"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
)

// Step names recorded in EvaluationRecord.CurrentStep.
const (
	StepLoadTestData     = "load_test_data"
	StepRunEvaluation    = "run_evaluation"
	StepCalculateScores  = "calculate_scores"
	StepSafetyEvaluation = "safety_evaluation"
	StepGenerateReport   = "generate_report"
	StepCompleted        = "completed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EvaluationRecord is the aggregate threaded through the pipeline stages.
type EvaluationRecord struct {
	EvaluationID string `json:"evaluation_id"`
	ModelName    string `json:"model_name,omitempty"`
	Status       Status `json:"status"`
	CurrentStep  string `json:"current_step"`
	Error        string `json:"error,omitempty"`

	BenchmarkPath   string `json:"benchmark_path"`
	BenchmarkFormat string `json:"benchmark_format"`
	BenchmarkDigest string `json:"benchmark_digest,omitempty"`
	MaxCases        int    `json:"max_cases,omitempty"`
	TaskType        string `json:"task_type"`
	Domain          string `json:"domain"`
	EndpointURL     string `json:"endpoint_url"`
	EndpointType    string `json:"endpoint_type"`

	Cases        []BenchmarkCase `json:"test_cases,omitempty"`
	GroundTruth  []GroundTruth   `json:"ground_truth,omitempty"`
	TotalCases   int             `json:"total_test_cases"`
	LoadedCases  int             `json:"loaded_test_cases"`
	DroppedCases int             `json:"dropped_test_cases"`

	Predictions           []Prediction `json:"predictions,omitempty"`
	SuccessfulPredictions int          `json:"successful_predictions"`
	FailedPredictions     int          `json:"failed_predictions"`
	FailedCases           []string     `json:"failed_cases,omitempty"`
	ErrorDetails          []CaseError  `json:"error_details,omitempty"`

	Metrics        MetricSet             `json:"metrics"`
	ClassReport    map[string]ClassStats `json:"classification_report,omitempty"`
	DomainMetrics  map[string]MetricSet  `json:"domain_metrics,omitempty"`
	Generalization *Generalization       `json:"generalization,omitempty"`

	SafetyIssues             []SafetyFinding `json:"safety_issues,omitempty"`
	LikelyHallucinations     []string        `json:"likely_hallucinations,omitempty"`
	SafetyEvaluatedCount     int             `json:"safety_evaluated"`
	HallucinationScoredCount int             `json:"hallucination_scored"`

	Verdict          *Verdict `json:"pass_fail_result,omitempty"`
	EvaluationStatus string   `json:"evaluation_status"`

	Artifacts Artifacts `json:"artifacts"`

	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
}

// Generalization summarizes cross-domain coverage of the run.
type Generalization struct {
	Status        string   `json:"status"`
	DomainsTested []string `json:"domains_tested,omitempty"`
	Note          string   `json:"note,omitempty"`
}

// Artifacts lists what the report emitter produced.
type Artifacts struct {
	ReportPath      string   `json:"report_path,omitempty"`
	SummaryPath     string   `json:"summary_path,omitempty"`
	CertificatePath string   `json:"certificate_path,omitempty"`
	RecordDigest    string   `json:"record_digest,omitempty"`
	Uploaded        []string `json:"uploaded,omitempty"`
}

// NewRecord creates a record in the initialized state.
func NewRecord(evaluationID string, now time.Time) EvaluationRecord {
	return EvaluationRecord{
		EvaluationID:     evaluationID,
		Status:           StatusInitialized,
		Metrics:          MetricSet{},
		EvaluationStatus: VerdictPending,
		StartedAt:        now.UTC(),
	}
}

// Advance moves the record into a running state for the given step.
func (r *EvaluationRecord) Advance(status Status, step string) {
	r.Status = status
	if step != "" {
		r.CurrentStep = step
	}
}

// MarkFailed moves the record into the absorbing failed state.
func (r *EvaluationRecord) MarkFailed(err error) {
	r.Status = StatusFailed
	if err != nil {
		r.Error = err.Error()
	}
	r.EvaluationStatus = VerdictFail
}

// Stamp sets the completion time and run duration.
func (r *EvaluationRecord) Stamp(now time.Time) {
	t := now.UTC()
	r.CompletedAt = &t
	if !r.StartedAt.IsZero() {
		r.DurationSeconds = t.Sub(r.StartedAt).Seconds()
	}
}

// MarkCompleted moves the record into the completed state. A completion time
// already stamped for report emission is kept.
func (r *EvaluationRecord) MarkCompleted(now time.Time) {
	r.Status = StatusCompleted
	r.CurrentStep = StepCompleted
	if r.CompletedAt == nil {
		r.Stamp(now)
	}
}
