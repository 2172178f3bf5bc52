package types

import "sort"

// Metric names used across the metric set, thresholds and weights.
const (
	MetricAccuracy           = "accuracy"
	MetricPrecision          = "precision"
	MetricRecall             = "recall"
	MetricF1                 = "f1_score"
	MetricTextSimilarity     = "text_similarity"
	MetricSafetyScore        = "safety_score"
	MetricHallucinationScore = "hallucination_score"
	MetricUnsafeResponses    = "unsafe_responses"
)

// Task types understood by the metrics engine.
const (
	TaskClassification = "classification"
	TaskGeneration     = "generation"
	TaskGeneral        = "general"
)

// MetricSet maps metric names to values.
type MetricSet map[string]float64

// Get returns the metric value and whether it is present.
func (m MetricSet) Get(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

// GetOr returns the metric value or def when absent.
func (m MetricSet) GetOr(name string, def float64) float64 {
	if v, ok := m[name]; ok {
		return v
	}
	return def
}

// Merge copies every entry of other into m, overwriting existing names.
func (m MetricSet) Merge(other MetricSet) {
	for k, v := range other {
		m[k] = v
	}
}

// Clone returns an independent copy.
func (m MetricSet) Clone() MetricSet {
	out := make(MetricSet, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Names returns the metric names in sorted order.
func (m MetricSet) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ClassStats is the per-class breakdown attached to classification results.
type ClassStats struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}
