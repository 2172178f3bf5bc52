// Package pipeline drives one evaluation run through its fixed sequence of
// stages: load, infer, score, safety check, verdict and report.
package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/medcert/internal/errs"
	"github.com/ogulcanaydogan/medcert/internal/loader"
	"github.com/ogulcanaydogan/medcert/internal/logging"
	"github.com/ogulcanaydogan/medcert/internal/metrics"
	"github.com/ogulcanaydogan/medcert/internal/policy"
	"github.com/ogulcanaydogan/medcert/internal/safety"
	"github.com/ogulcanaydogan/medcert/pkg/types"
	"go.uber.org/zap"
)

type CaseLoader interface {
	Load(ctx context.Context, source string, maxCases int, format string) (loader.Result, error)
}

type Predictor interface {
	Run(ctx context.Context, cases []types.BenchmarkCase) ([]types.Prediction, error)
}

type Scorer interface {
	Calculate(preds []types.Prediction, gts []types.GroundTruth, task string) (metrics.Result, error)
	CalculateByDomain(preds []types.Prediction, gts []types.GroundTruth, task string) (map[string]metrics.Result, error)
}

type SafetyChecker interface {
	Evaluate(preds []types.Prediction, gts []types.GroundTruth) safety.Report
}

// Emitter renders the finished record into report artifacts.
type Emitter interface {
	Emit(ctx context.Context, rec types.EvaluationRecord) (types.Artifacts, error)
}

// Request names what to evaluate.
type Request struct {
	EvaluationID  string
	ModelName     string
	BenchmarkPath string
	Format        string
	MaxCases      int
	TaskType      string
	Domain        string
	EndpointURL   string
	EndpointType  string
}

type Deps struct {
	Loader     CaseLoader
	Predictor  Predictor
	Scorer     Scorer
	Safety     SafetyChecker
	Thresholds policy.Thresholds
	// Emitter is optional.
	Emitter Emitter
	Logger  *zap.Logger
	Now     func() time.Time
}

type Orchestrator struct {
	loader     CaseLoader
	predictor  Predictor
	scorer     Scorer
	safety     SafetyChecker
	thresholds policy.Thresholds
	emitter    Emitter
	log        *zap.Logger
	now        func() time.Time
}

func New(d Deps) (*Orchestrator, error) {
	if d.Loader == nil || d.Predictor == nil || d.Scorer == nil || d.Safety == nil {
		return nil, errs.Configuration("new pipeline", "loader, predictor, scorer and safety checker are required")
	}
	o := &Orchestrator{
		loader:     d.Loader,
		predictor:  d.Predictor,
		scorer:     d.Scorer,
		safety:     d.Safety,
		thresholds: d.Thresholds,
		emitter:    d.Emitter,
		log:        logging.OrNop(d.Logger),
		now:        d.Now,
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

type stageFunc func(ctx context.Context, rec types.EvaluationRecord) (types.EvaluationRecord, error)

type stage struct {
	step    string
	running types.Status
	done    types.Status
	run     stageFunc
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{types.StepLoadTestData, types.StatusLoadingTestData, types.StatusTestDataLoaded, o.loadTestData},
		{types.StepRunEvaluation, types.StatusRunningEvaluation, types.StatusEvaluationCompleted, o.runEvaluation},
		{types.StepCalculateScores, types.StatusCalculatingScores, types.StatusScoresCalculated, o.calculateScores},
		{types.StepSafetyEvaluation, types.StatusEvaluatingSafety, types.StatusSafetyEvalCompleted, o.evaluateSafety},
		{types.StepGenerateReport, types.StatusGeneratingReport, "", o.generateReport},
	}
}

// Run executes every stage in order. On the first error the record is
// marked failed and returned together with the error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (types.EvaluationRecord, error) {
	rec := o.newRecord(req)
	o.log.Info("evaluation started",
		zap.String("evaluation_id", rec.EvaluationID),
		zap.String("benchmark", rec.BenchmarkPath),
		zap.String("task", rec.TaskType))

	for _, s := range o.stages() {
		rec.Advance(s.running, s.step)
		o.log.Info("stage started", zap.String("step", s.step), zap.String("status", string(rec.Status)))
		next, err := s.run(ctx, rec)
		if err != nil {
			err = errs.AsStage(s.step, err)
			rec.MarkFailed(err)
			o.log.Error("stage failed",
				zap.String("evaluation_id", rec.EvaluationID),
				zap.String("step", s.step),
				zap.Error(err))
			return rec, err
		}
		rec = next
		if s.done != "" {
			rec.Advance(s.done, "")
		}
		o.log.Info("stage finished", zap.String("step", s.step), zap.String("status", string(rec.Status)))
	}

	rec.MarkCompleted(o.now())
	o.log.Info("evaluation completed",
		zap.String("evaluation_id", rec.EvaluationID),
		zap.String("verdict", rec.EvaluationStatus),
		zap.Float64("duration_seconds", rec.DurationSeconds))
	return rec, nil
}

func (o *Orchestrator) newRecord(req Request) types.EvaluationRecord {
	id := req.EvaluationID
	if id == "" {
		id = "eval_" + uuid.NewString()
	}
	rec := types.NewRecord(id, o.now())
	rec.ModelName = req.ModelName
	rec.BenchmarkPath = req.BenchmarkPath
	rec.BenchmarkFormat = req.Format
	rec.MaxCases = req.MaxCases
	rec.TaskType = req.TaskType
	rec.Domain = req.Domain
	rec.EndpointURL = req.EndpointURL
	rec.EndpointType = req.EndpointType
	if rec.TaskType == "" {
		rec.TaskType = types.TaskClassification
	}
	if rec.Domain == "" {
		rec.Domain = "general"
	}
	return rec
}

func (o *Orchestrator) loadTestData(ctx context.Context, rec types.EvaluationRecord) (types.EvaluationRecord, error) {
	res, err := o.loader.Load(ctx, rec.BenchmarkPath, rec.MaxCases, rec.BenchmarkFormat)
	if err != nil {
		return rec, err
	}
	rec.Cases = res.Cases
	rec.GroundTruth = res.GroundTruth
	rec.BenchmarkDigest = res.Digest
	rec.TotalCases = res.Parsed + res.Malformed
	rec.LoadedCases = len(res.Cases)
	rec.DroppedCases = rec.TotalCases - rec.LoadedCases
	return rec, nil
}

func (o *Orchestrator) runEvaluation(ctx context.Context, rec types.EvaluationRecord) (types.EvaluationRecord, error) {
	preds, err := o.predictor.Run(ctx, rec.Cases)
	if err != nil {
		return rec, err
	}
	ok, failed := types.PartitionPredictions(preds)
	rec.Predictions = preds
	rec.SuccessfulPredictions = len(ok)
	rec.FailedPredictions = len(failed)
	rec.FailedCases = nil
	rec.ErrorDetails = nil
	for _, p := range failed {
		rec.FailedCases = append(rec.FailedCases, p.CaseID)
		rec.ErrorDetails = append(rec.ErrorDetails, types.CaseError{CaseID: p.CaseID, Error: p.Error})
	}
	return rec, nil
}

func (o *Orchestrator) calculateScores(_ context.Context, rec types.EvaluationRecord) (types.EvaluationRecord, error) {
	res, err := o.scorer.Calculate(rec.Predictions, rec.GroundTruth, rec.TaskType)
	if err != nil {
		return rec, err
	}
	if rec.Metrics == nil {
		rec.Metrics = types.MetricSet{}
	}
	rec.Metrics.Merge(res.Metrics)
	rec.ClassReport = res.ClassReport

	rec.DomainMetrics = nil
	if hasDomains(rec.Predictions, rec.GroundTruth) {
		byDomain, err := o.scorer.CalculateByDomain(rec.Predictions, rec.GroundTruth, rec.TaskType)
		if err != nil {
			return rec, err
		}
		rec.DomainMetrics = make(map[string]types.MetricSet, len(byDomain))
		for d, r := range byDomain {
			rec.DomainMetrics[d] = r.Metrics
		}
	}
	rec.Generalization = generalization(rec.DomainMetrics)
	return rec, nil
}

func (o *Orchestrator) evaluateSafety(_ context.Context, rec types.EvaluationRecord) (types.EvaluationRecord, error) {
	rep := o.safety.Evaluate(rec.Predictions, rec.GroundTruth)
	rec.Metrics.Merge(rep.Metrics())
	rec.SafetyIssues = rep.Findings
	rec.LikelyHallucinations = rep.LikelyHallucinations
	rec.SafetyEvaluatedCount = rep.TotalEvaluated
	rec.HallucinationScoredCount = rep.HallucinationScored
	return rec, nil
}

func (o *Orchestrator) generateReport(ctx context.Context, rec types.EvaluationRecord) (types.EvaluationRecord, error) {
	v := policy.Evaluate(o.thresholds, rec.Metrics, rec.Domain)
	rec.Verdict = &v
	rec.EvaluationStatus = v.Status
	o.log.Info("verdict",
		zap.String("evaluation_id", rec.EvaluationID),
		zap.String("status", v.Status),
		zap.Float64("overall_score", v.OverallScore),
		zap.Strings("failures", v.Failures))

	rec.Stamp(o.now())
	if o.emitter == nil {
		return rec, nil
	}
	arts, err := o.emitter.Emit(ctx, rec)
	if err != nil {
		return rec, err
	}
	rec.Artifacts = arts
	return rec, nil
}

func hasDomains(preds []types.Prediction, gts []types.GroundTruth) bool {
	for _, g := range gts {
		if g.Domain() != "" {
			return true
		}
	}
	for _, p := range preds {
		if p.Domain() != "" {
			return true
		}
	}
	return false
}

func generalization(domainMetrics map[string]types.MetricSet) *types.Generalization {
	if len(domainMetrics) == 0 {
		return &types.Generalization{Status: "skipped", Note: "no domain tags in benchmark metadata"}
	}
	domains := make([]string, 0, len(domainMetrics))
	for d := range domainMetrics {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return &types.Generalization{Status: "completed", DomainsTested: domains}
}
