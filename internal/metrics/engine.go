// Package metrics aligns predictions with ground truth by case identity and
// scores them as classification, generation or general answers.
package metrics

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ogulcanaydogan/medcert/internal/errs"
	"github.com/ogulcanaydogan/medcert/internal/logging"
	"github.com/ogulcanaydogan/medcert/pkg/types"
	"go.uber.org/zap"
)

// maxReportClasses bounds the per-class breakdown.
const maxReportClasses = 10

const numericTolerance = 0.001

// Result is the metric set of one calculation.
type Result struct {
	Metrics     types.MetricSet
	ClassReport map[string]types.ClassStats
	// Scored is the number of aligned pairs that contributed.
	Scored int
}

type pair struct {
	pred types.Prediction
	gt   types.GroundTruth
}

type Engine struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Engine {
	return &Engine{log: logging.OrNop(log)}
}

// Calculate scores preds against gts in the given task mode. The collections
// must have equal length; pairing is by case_id.
func (e *Engine) Calculate(preds []types.Prediction, gts []types.GroundTruth, task string) (Result, error) {
	pairs, err := align(preds, gts)
	if err != nil {
		return Result{}, err
	}
	res := score(pairs, task)
	e.log.Info("calculated metrics",
		zap.String("task", task),
		zap.Int("scored", res.Scored),
		zap.Float64("accuracy", res.Metrics[types.MetricAccuracy]))
	return res, nil
}

// CalculateByDomain runs the same calculation once per domain tag.
func (e *Engine) CalculateByDomain(preds []types.Prediction, gts []types.GroundTruth, task string) (map[string]Result, error) {
	pairs, err := align(preds, gts)
	if err != nil {
		return nil, err
	}
	groups := map[string][]pair{}
	for _, p := range pairs {
		d := p.pred.Domain()
		if d == "" {
			d = p.gt.Domain()
		}
		if d == "" {
			d = types.UnknownDomain
		}
		groups[d] = append(groups[d], p)
	}
	out := make(map[string]Result, len(groups))
	for d, group := range groups {
		out[d] = score(group, task)
	}
	return out, nil
}

// align pairs successful predictions with ground truth by case_id, in
// ground-truth order.
func align(preds []types.Prediction, gts []types.GroundTruth) ([]pair, error) {
	if len(preds) != len(gts) {
		return nil, errs.InvalidInput("calculate metrics",
			"prediction count %d does not match ground truth count %d", len(preds), len(gts))
	}
	byID := make(map[string]types.Prediction, len(preds))
	for _, p := range preds {
		if p.Success {
			byID[p.CaseID] = p
		}
	}
	pairs := make([]pair, 0, len(gts))
	for _, gt := range gts {
		if p, ok := byID[gt.CaseID]; ok {
			pairs = append(pairs, pair{pred: p, gt: gt})
		}
	}
	return pairs, nil
}

func score(pairs []pair, task string) Result {
	switch task {
	case types.TaskClassification:
		return classification(pairs)
	case types.TaskGeneration:
		return generation(pairs)
	default:
		return general(pairs)
	}
}

func uniform(v float64) types.MetricSet {
	return types.MetricSet{
		types.MetricAccuracy:  v,
		types.MetricPrecision: v,
		types.MetricRecall:    v,
		types.MetricF1:        v,
	}
}

func classification(pairs []pair) Result {
	yTrue := make([]string, 0, len(pairs))
	yPred := make([]string, 0, len(pairs))
	for _, p := range pairs {
		// A null on either side carries no label to compare.
		want := p.gt.Label()
		if want == nil || p.pred.Prediction == nil {
			continue
		}
		yTrue = append(yTrue, Label(want))
		yPred = append(yPred, Label(p.pred.Prediction))
	}
	if len(yTrue) == 0 {
		return Result{Metrics: uniform(0)}
	}

	type counts struct{ tp, predicted, support int }
	per := map[string]*counts{}
	get := func(l string) *counts {
		c, ok := per[l]
		if !ok {
			c = &counts{}
			per[l] = c
		}
		return c
	}
	correct := 0
	for i := range yTrue {
		get(yTrue[i]).support++
		get(yPred[i]).predicted++
		if yTrue[i] == yPred[i] {
			correct++
			per[yTrue[i]].tp++
		}
	}

	n := float64(len(yTrue))
	var precision, recall, f1 float64
	report := make(map[string]types.ClassStats, len(per))
	for label, c := range per {
		p := ratio(c.tp, c.predicted)
		r := ratio(c.tp, c.support)
		f := 0.0
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		w := float64(c.support) / n
		precision += w * p
		recall += w * r
		f1 += w * f
		report[label] = types.ClassStats{Precision: p, Recall: r, F1: f, Support: c.support}
	}
	res := Result{
		Metrics: types.MetricSet{
			types.MetricAccuracy:  float64(correct) / n,
			types.MetricPrecision: precision,
			types.MetricRecall:    recall,
			types.MetricF1:        f1,
		},
		Scored: len(yTrue),
	}
	if len(per) <= maxReportClasses {
		res.ClassReport = report
	}
	return res
}

func generation(pairs []pair) Result {
	var total float64
	scored := 0
	for _, p := range pairs {
		pred := Normalize(Text(p.pred.Prediction))
		want := Normalize(Text(p.gt.Expected()))
		if pred == "" || want == "" {
			continue
		}
		total += Similarity(pred, want)
		scored++
	}
	if scored == 0 {
		m := uniform(0)
		m[types.MetricTextSimilarity] = 0
		return Result{Metrics: m}
	}
	mean := total / float64(scored)
	m := uniform(mean)
	m[types.MetricTextSimilarity] = mean
	return Result{Metrics: m, Scored: scored}
}

func general(pairs []pair) Result {
	if len(pairs) == 0 {
		return Result{Metrics: uniform(0)}
	}
	correct := 0
	for _, p := range pairs {
		if Matches(Text(p.pred.Prediction), Text(p.gt.Expected())) {
			correct++
		}
	}
	return Result{Metrics: uniform(float64(correct) / float64(len(pairs))), Scored: len(pairs)}
}

// Matches reports whether pred answers want: equal after normalization,
// one containing the other, or numerically within tolerance.
func Matches(pred, want string) bool {
	pred, want = Normalize(pred), Normalize(want)
	if pred == want {
		return true
	}
	if pred != "" && want != "" && (strings.Contains(pred, want) || strings.Contains(want, pred)) {
		return true
	}
	a, errA := strconv.ParseFloat(pred, 64)
	b, errB := strconv.ParseFloat(want, 64)
	return errA == nil && errB == nil && math.Abs(a-b) < numericTolerance
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Labels returns the sorted class labels of a report.
func Labels(report map[string]types.ClassStats) []string {
	out := make([]string, 0, len(report))
	for l := range report {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
