package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ogulcanaydogan/medcert/internal/errs"
	"github.com/ogulcanaydogan/medcert/internal/loader"
	"github.com/ogulcanaydogan/medcert/internal/metrics"
	"github.com/ogulcanaydogan/medcert/internal/policy"
	"github.com/ogulcanaydogan/medcert/internal/runner"
	"github.com/ogulcanaydogan/medcert/internal/safety"
	"github.com/ogulcanaydogan/medcert/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var labels = []string{"A", "B", "C", "D", "A", "B", "C", "D", "A", "B"}

// writeCases writes ten classification cases whose input carries the answer
// the fake model will give.
func writeCases(t *testing.T, answers map[int]string) string {
	t.Helper()
	var b strings.Builder
	for i, l := range labels {
		answer := l
		if a, ok := answers[i]; ok {
			answer = a
		}
		line, err := json.Marshal(map[string]any{
			"case_id":        fmt.Sprintf("case-%02d", i),
			"input":          map[string]any{"answer": answer},
			"expected_label": l,
		})
		require.NoError(t, err)
		b.Write(line)
		b.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "cases.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

// answerServer replies with the "answer" field of the case input, or a 500
// when the answer is "<500>".
func answerServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input struct {
				Answer string `json:"answer"`
			} `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Input.Answer == "<500>" {
			http.Error(w, "model unavailable", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"prediction": req.Input.Answer})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recordingEmitter struct {
	got   *types.EvaluationRecord
	calls int
	err   error
}

func (e *recordingEmitter) Emit(_ context.Context, rec types.EvaluationRecord) (types.Artifacts, error) {
	e.calls++
	e.got = &rec
	if e.err != nil {
		return types.Artifacts{}, e.err
	}
	return types.Artifacts{ReportPath: "report_" + rec.EvaluationID + ".json"}, nil
}

func newOrchestrator(t *testing.T, url string, emitter Emitter, log *zap.Logger) *Orchestrator {
	t.Helper()
	run, err := runner.New(runner.Options{URL: url, Parallel: true, Workers: 4, Logger: log})
	require.NoError(t, err)
	sc, err := safety.New(safety.Options{EnableSafety: true, EnableHallucination: true, Logger: log})
	require.NoError(t, err)
	o, err := New(Deps{
		Loader:     loader.New(nil, log),
		Predictor:  run,
		Scorer:     metrics.New(log),
		Safety:     sc,
		Thresholds: policy.Default(),
		Emitter:    emitter,
		Logger:     log,
	})
	require.NoError(t, err)
	return o
}

func request(path, url string) Request {
	return Request{
		EvaluationID:  "eval_test",
		ModelName:     "triage-v2",
		BenchmarkPath: path,
		Format:        loader.FormatJSONL,
		TaskType:      types.TaskClassification,
		EndpointURL:   url,
	}
}

func TestRun_AllCorrectPasses(t *testing.T) {
	srv := answerServer(t)
	em := &recordingEmitter{}
	o := newOrchestrator(t, srv.URL, em, nil)

	rec, err := o.Run(context.Background(), request(writeCases(t, nil), srv.URL))
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, rec.Status)
	assert.Equal(t, types.StepCompleted, rec.CurrentStep)
	assert.Equal(t, types.VerdictPass, rec.EvaluationStatus)
	require.NotNil(t, rec.Verdict)
	assert.True(t, rec.Verdict.Passed)
	assert.Empty(t, rec.Verdict.Failures)
	assert.InDelta(t, 1.0, rec.Verdict.OverallScore, 1e-9)

	assert.Equal(t, 10, rec.LoadedCases)
	assert.Equal(t, 10, rec.SuccessfulPredictions)
	assert.Equal(t, 0, rec.FailedPredictions)
	assert.Equal(t, 1.0, rec.Metrics[types.MetricAccuracy])
	assert.Equal(t, 1.0, rec.Metrics[types.MetricSafetyScore])
	assert.Equal(t, 0.0, rec.Metrics[types.MetricHallucinationScore])
	assert.Equal(t, 0.0, rec.Metrics[types.MetricUnsafeResponses])
	assert.NotEmpty(t, rec.BenchmarkDigest)
	require.NotNil(t, rec.Generalization)
	assert.Equal(t, "skipped", rec.Generalization.Status)

	require.Equal(t, 1, em.calls)
	assert.Equal(t, types.VerdictPass, em.got.EvaluationStatus)
	assert.Equal(t, "report_eval_test.json", rec.Artifacts.ReportPath)
	require.NotNil(t, rec.CompletedAt)
	require.NotNil(t, em.got.CompletedAt, "emitted record carries its completion time")
	assert.Equal(t, *em.got.CompletedAt, *rec.CompletedAt)
	raw, err := json.Marshal(em.got)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "0001-01-01")
}

func TestRun_SingleLethalAnswerFails(t *testing.T) {
	srv := answerServer(t)
	o := newOrchestrator(t, srv.URL, nil, nil)

	rec, err := o.Run(context.Background(), request(writeCases(t, map[int]string{3: "D) lethal arrhythmia"}), srv.URL))
	require.NoError(t, err, "a FAIL verdict is not a pipeline error")

	assert.Equal(t, types.StatusCompleted, rec.Status)
	assert.Equal(t, types.VerdictFail, rec.EvaluationStatus)
	assert.Equal(t, 1.0, rec.Metrics[types.MetricAccuracy])
	assert.Equal(t, 1.0, rec.Metrics[types.MetricUnsafeResponses])
	require.Len(t, rec.SafetyIssues, 1)
	assert.Equal(t, "case-03", rec.SafetyIssues[0].CaseID)
	assert.Equal(t, types.SeverityHigh, rec.SafetyIssues[0].Severity)
	assert.Equal(t, []string{"Unsafe responses 1 exceeds maximum 0"}, rec.Verdict.Failures)
}

func TestRun_SafetyCountsFailedPredictions(t *testing.T) {
	srv := answerServer(t)
	o := newOrchestrator(t, srv.URL, nil, nil)

	answers := map[int]string{1: "<500>", 6: "<500>", 3: "D) lethal arrhythmia"}
	rec, err := o.Run(context.Background(), request(writeCases(t, answers), srv.URL))
	require.NoError(t, err)

	assert.Equal(t, 8, rec.SuccessfulPredictions)
	assert.Equal(t, 2, rec.FailedPredictions)
	assert.Equal(t, 10, rec.SafetyEvaluatedCount)
	assert.Equal(t, 8, rec.HallucinationScoredCount)
	// failed calls count as safe: (9*1.0 + 0.7) / 10
	assert.InDelta(t, 0.97, rec.Metrics[types.MetricSafetyScore], 1e-9)
	assert.Equal(t, 1.0, rec.Metrics[types.MetricUnsafeResponses])
	require.Len(t, rec.SafetyIssues, 1)
	assert.Equal(t, "case-03", rec.SafetyIssues[0].CaseID)
}

func TestRun_MissingBenchmarkMarksFailed(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	em := &recordingEmitter{}
	o := newOrchestrator(t, "http://unused", em, zap.New(core))

	rec, err := o.Run(context.Background(), request(filepath.Join(t.TempDir(), "none.jsonl"), "http://unused"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Equal(t, types.StepLoadTestData, rec.CurrentStep)
	assert.Equal(t, types.VerdictFail, rec.EvaluationStatus)
	assert.Contains(t, rec.Error, "not found")
	assert.Nil(t, rec.Verdict)
	assert.Equal(t, 0, em.calls, "no report for a fatal failure")
	assert.Equal(t, 1, logs.FilterMessage("stage failed").Len())
}

func TestRun_EmitterErrorIsStageFailure(t *testing.T) {
	srv := answerServer(t)
	o := newOrchestrator(t, srv.URL, &recordingEmitter{err: errors.New("disk full")}, nil)

	rec, err := o.Run(context.Background(), request(writeCases(t, nil), srv.URL))
	require.Error(t, err)
	assert.Equal(t, errs.KindStage, errs.KindOf(err))
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Equal(t, types.StepGenerateReport, rec.CurrentStep)
	assert.Equal(t, "generate_report: disk full", rec.Error)
}

type fakeLoader struct{ res loader.Result }

func (f fakeLoader) Load(context.Context, string, int, string) (loader.Result, error) {
	return f.res, nil
}

type fakePredictor struct{ preds []types.Prediction }

func (f fakePredictor) Run(context.Context, []types.BenchmarkCase) ([]types.Prediction, error) {
	return f.preds, nil
}

func TestRun_StageOrderAndDomainMetrics(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core)
	cases := []types.BenchmarkCase{
		{CaseID: "c1", Input: json.RawMessage(`{}`), ExpectedLabel: "A", Metadata: map[string]any{"domain": "cardiology"}},
		{CaseID: "c2", Input: json.RawMessage(`{}`), ExpectedLabel: "B", Metadata: map[string]any{"domain": "oncology"}},
		{CaseID: "c3", Input: json.RawMessage(`{}`), ExpectedLabel: "C"},
	}
	res := loader.Result{Cases: cases, Parsed: 3}
	for _, c := range cases {
		res.GroundTruth = append(res.GroundTruth, c.GroundTruth())
	}
	preds := []types.Prediction{
		{CaseID: "c2", Prediction: "B", Success: true},
		types.FailedPrediction("c3", errors.New("status 503")),
		{CaseID: "c1", Prediction: "A", Success: true},
	}
	sc, err := safety.New(safety.Options{EnableSafety: true, EnableHallucination: true})
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o, err := New(Deps{
		Loader:     fakeLoader{res: res},
		Predictor:  fakePredictor{preds: preds},
		Scorer:     metrics.New(nil),
		Safety:     sc,
		Thresholds: policy.Default(),
		Logger:     log,
		Now:        func() time.Time { return fixed },
	})
	require.NoError(t, err)

	rec, err := o.Run(context.Background(), Request{BenchmarkPath: "mem"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.EvaluationID, "eval_"))
	assert.Equal(t, "general", rec.Domain)
	assert.Equal(t, []string{"c3"}, rec.FailedCases)
	assert.Equal(t, []types.CaseError{{CaseID: "c3", Error: "status 503"}}, rec.ErrorDetails)
	assert.Equal(t, 1.0, rec.Metrics[types.MetricAccuracy])
	assert.Equal(t, 3, rec.SafetyEvaluatedCount)
	assert.Equal(t, 2, rec.HallucinationScoredCount)
	require.NotNil(t, rec.Generalization)
	assert.Equal(t, "completed", rec.Generalization.Status)
	assert.Equal(t, []string{"cardiology", "oncology"}, rec.Generalization.DomainsTested)
	assert.Equal(t, 0.0, rec.DurationSeconds)

	var steps []string
	for _, e := range logs.FilterMessage("stage finished").All() {
		steps = append(steps, e.ContextMap()["status"].(string))
	}
	assert.Equal(t, []string{
		string(types.StatusTestDataLoaded),
		string(types.StatusEvaluationCompleted),
		string(types.StatusScoresCalculated),
		string(types.StatusSafetyEvalCompleted),
		string(types.StatusGeneratingReport),
	}, steps)
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := New(Deps{})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}
