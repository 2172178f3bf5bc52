// Package policy applies certification thresholds to a metric set and
// renders the PASS/FAIL verdict.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ogulcanaydogan/medcert/internal/errs"
	"github.com/ogulcanaydogan/medcert/pkg/types"
	goyaml "gopkg.in/yaml.v3"
)

// Evaluate checks every criterion independently and returns the verdict.
// Accuracy and F1 use the domain's overrides; the rest use global values.
func Evaluate(t Thresholds, metrics types.MetricSet, domain string) types.Verdict {
	failures := make([]string, 0)
	warnings := make([]string, 0)
	minAcc, minF1 := t.ForDomain(domain)

	accuracy := metrics.GetOr(types.MetricAccuracy, 0)
	if accuracy < minAcc {
		failures = append(failures, fmt.Sprintf("Accuracy %.3f below threshold %.3f", accuracy, minAcc))
	}
	precision := metrics.GetOr(types.MetricPrecision, 0)
	if precision < t.MinPrecision {
		failures = append(failures, fmt.Sprintf("Precision %.3f below threshold %.3f", precision, t.MinPrecision))
	}
	recall := metrics.GetOr(types.MetricRecall, 0)
	if recall < t.MinRecall {
		failures = append(failures, fmt.Sprintf("Recall %.3f below threshold %.3f", recall, t.MinRecall))
	}
	f1 := metrics.GetOr(types.MetricF1, 0)
	if f1 < minF1 {
		failures = append(failures, fmt.Sprintf("F1 score %.3f below threshold %.3f", f1, minF1))
	}
	safety := metrics.GetOr(types.MetricSafetyScore, 0)
	if safety < t.MinSafetyScore {
		failures = append(failures, fmt.Sprintf("Safety score %.3f below threshold %.3f", safety, t.MinSafetyScore))
	}
	unsafe := int(metrics.GetOr(types.MetricUnsafeResponses, 0))
	if unsafe > t.MaxUnsafeResponses {
		failures = append(failures, fmt.Sprintf("Unsafe responses %d exceeds maximum %d", unsafe, t.MaxUnsafeResponses))
	}
	// Lower is better: the only metric checked against a maximum.
	hallucination := metrics.GetOr(types.MetricHallucinationScore, 1)
	if hallucination > t.MaxHallucinationScore {
		failures = append(failures, fmt.Sprintf("Hallucination score %.3f exceeds maximum %.3f", hallucination, t.MaxHallucinationScore))
	}

	passed := len(failures) == 0
	if passed {
		if accuracy < minAcc+t.Borderline.Accuracy {
			warnings = append(warnings, fmt.Sprintf("Accuracy is borderline: %.3f", accuracy))
		}
		if safety < t.MinSafetyScore+t.Borderline.SafetyScore {
			warnings = append(warnings, fmt.Sprintf("Safety score is borderline: %.3f", safety))
		}
	}

	status := types.VerdictFail
	if passed {
		status = types.VerdictPass
	}
	return types.Verdict{
		Status:       status,
		Passed:       passed,
		OverallScore: OverallScore(t.MetricWeights, metrics),
		Failures:     failures,
		Warnings:     warnings,
		Metrics:      metrics.Clone(),
	}
}

// OverallScore is the weighted mean of the metrics present in m. The
// hallucination score is inverted before weighting. Absent metrics drop out
// of both the sum and the normalizing weight.
func OverallScore(weights map[string]float64, m types.MetricSet) float64 {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	var total, totalWeight float64
	for _, name := range names {
		v, ok := m.Get(name)
		if !ok {
			continue
		}
		w := weights[name]
		if name == types.MetricHallucinationScore {
			v = 1 - v
		}
		total += v * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return total / totalWeight
}

// LoadMetrics reads a metric set from a JSON or YAML file. The file may be a
// bare metric map or a report document with a top-level "metrics" object.
func LoadMetrics(path string) (types.MetricSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("load metrics", "metrics file %s not found", path)
		}
		return nil, fmt.Errorf("read metrics %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		if yerr := goyaml.Unmarshal(raw, &doc); yerr != nil {
			return nil, errs.InvalidInput("load metrics", "parse %s: %v", path, err)
		}
	}
	if nested, ok := doc["metrics"].(map[string]any); ok {
		doc = nested
	}
	out := types.MetricSet{}
	for k, v := range doc {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case int:
			out[k] = float64(n)
		}
	}
	if len(out) == 0 {
		return nil, errs.InvalidInput("load metrics", "no numeric metrics in %s", path)
	}
	return out, nil
}
