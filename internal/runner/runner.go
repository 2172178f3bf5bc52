// Package runner issues one prediction call per benchmark case against the
// model endpoint, with bounded concurrency and per-case failure isolation.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/medcert/internal/errs"
	"github.com/ogulcanaydogan/medcert/internal/logging"
	"github.com/ogulcanaydogan/medcert/pkg/types"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second
	defaultWorkers = 5
	maxErrorBody   = 512
)

type Options struct {
	URL      string
	Shape    string
	APIKey   string
	Timeout  time.Duration
	Workers  int
	Parallel bool
	// Delay separates sequential calls. Zero or negative disables it.
	Delay   time.Duration
	Client  *http.Client
	Metrics *Metrics
	Logger  *zap.Logger
}

type Runner struct {
	url      string
	shape    shape
	apiKey   string
	timeout  time.Duration
	workers  int
	parallel bool
	delay    time.Duration
	client   *http.Client
	metrics  *Metrics
	log      *zap.Logger
}

func New(opts Options) (*Runner, error) {
	if opts.URL == "" {
		return nil, errs.Configuration("new runner", "model endpoint url is required")
	}
	sh, err := shapeFor(opts.Shape)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		url:      opts.URL,
		shape:    sh,
		apiKey:   opts.APIKey,
		timeout:  opts.Timeout,
		workers:  opts.Workers,
		parallel: opts.Parallel,
		delay:    opts.Delay,
		client:   opts.Client,
		metrics:  opts.Metrics,
		log:      logging.OrNop(opts.Logger),
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.workers <= 0 {
		r.workers = defaultWorkers
	}
	if r.delay < 0 {
		r.delay = 0
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	return r, nil
}

// Run returns exactly one prediction per case. Parallel results arrive in
// completion order.
func (r *Runner) Run(ctx context.Context, cases []types.BenchmarkCase) ([]types.Prediction, error) {
	if len(cases) == 0 {
		return nil, errs.InvalidInput("run inference", "no test cases to evaluate")
	}
	r.log.Info("running inference",
		zap.Int("cases", len(cases)),
		zap.Bool("parallel", r.parallel && len(cases) > 1),
		zap.String("shape", r.shape.name))

	var preds []types.Prediction
	if r.parallel && len(cases) > 1 {
		var err error
		if preds, err = r.runParallel(ctx, cases); err != nil {
			return nil, err
		}
	} else {
		preds = r.runSequential(ctx, cases)
	}

	ok, failed := types.PartitionPredictions(preds)
	r.log.Info("inference finished", zap.Int("successful", len(ok)), zap.Int("failed", len(failed)))
	return preds, nil
}

func (r *Runner) runSequential(ctx context.Context, cases []types.BenchmarkCase) []types.Prediction {
	out := make([]types.Prediction, 0, len(cases))
	for i, c := range cases {
		if i > 0 && r.delay > 0 {
			time.Sleep(r.delay)
		}
		out = append(out, r.safePredict(ctx, c))
	}
	return out
}

type task struct {
	ctx     context.Context
	c       types.BenchmarkCase
	results chan<- types.Prediction
}

func (r *Runner) runParallel(ctx context.Context, cases []types.BenchmarkCase) ([]types.Prediction, error) {
	results := make(chan types.Prediction, len(cases))
	pool, err := ants.NewPoolWithFunc(min(r.workers, len(cases)), func(arg any) {
		t := arg.(*task)
		t.results <- r.safePredict(t.ctx, t.c)
	})
	if err != nil {
		return nil, fmt.Errorf("create inference pool: %w", err)
	}
	defer pool.Release()

	for _, c := range cases {
		if err := pool.Invoke(&task{ctx: ctx, c: c, results: results}); err != nil {
			results <- types.FailedPrediction(c.CaseID, fmt.Errorf("submit: %w", err))
		}
	}
	out := make([]types.Prediction, 0, len(cases))
	for range cases {
		out = append(out, <-results)
	}
	return out, nil
}

// safePredict converts a panic inside a call into a failed prediction.
func (r *Runner) safePredict(ctx context.Context, c types.BenchmarkCase) (p types.Prediction) {
	defer func() {
		if rec := recover(); rec != nil {
			p = types.FailedPrediction(c.CaseID, fmt.Errorf("panic: %v", rec))
			r.log.Error("inference panicked", zap.String("case_id", c.CaseID), zap.Any("panic", rec))
		}
	}()
	return r.Predict(ctx, c)
}

// Predict performs the call for a single case. Failures are returned as data.
func (r *Runner) Predict(ctx context.Context, c types.BenchmarkCase) types.Prediction {
	r.metrics.inc()
	defer r.metrics.dec()
	start := time.Now()

	resp, err := r.call(ctx, c.Input)
	r.metrics.observe(r.shape.name, err == nil, time.Since(start).Seconds())
	if err != nil {
		r.log.Error("inference failed", zap.String("case_id", c.CaseID), zap.Error(err))
		return types.FailedPrediction(c.CaseID, err)
	}
	value, confidence, metadata := outcome(r.shape.unwrap(resp))
	return types.Prediction{
		CaseID:     c.CaseID,
		Prediction: value,
		Confidence: confidence,
		Metadata:   metadata,
		Success:    true,
	}
}

func (r *Runner) call(ctx context.Context, payload json.RawMessage) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := r.shape.body(payload)
	if err != nil {
		return nil, errs.Transport("build request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.shape.target(r.url), bytes.NewReader(body))
	if err != nil {
		return nil, errs.Transport("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, errs.Transport("call endpoint", err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errs.Transport("read response", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, errs.Transport("call endpoint", fmt.Errorf("status %d: %s", res.StatusCode, bytes.TrimSpace(raw)))
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errs.Transport("decode response", err)
	}
	return decoded, nil
}
