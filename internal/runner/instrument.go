package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments endpoint calls.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	r, _ := runner.New(runner.Options{URL: url, Metrics: runner.NewMetrics(reg)})
//	_ = prometheus.WriteToTextfile("medcert.prom", reg)
type Metrics struct {
	// Requests counts endpoint calls.
	// Labels: shape (generic|batch|custom), outcome (success|error)
	Requests *prometheus.CounterVec

	// Latency measures endpoint call duration in seconds.
	// Labels: shape
	Latency *prometheus.HistogramVec

	// InFlight is the number of calls currently awaiting a response.
	InFlight prometheus.Gauge
}

// NewMetrics registers the runner collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medcert_inference_requests_total",
				Help: "Total number of model endpoint calls by shape and outcome",
			},
			[]string{"shape", "outcome"},
		),
		Latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medcert_inference_request_duration_seconds",
				Help:    "Duration of model endpoint calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"shape"},
		),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "medcert_inference_in_flight",
			Help: "Model endpoint calls awaiting a response",
		}),
	}
}

func (m *Metrics) observe(shape string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.Requests.WithLabelValues(shape, outcome).Inc()
	m.Latency.WithLabelValues(shape).Observe(seconds)
}

func (m *Metrics) inc() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) dec() {
	if m != nil {
		m.InFlight.Dec()
	}
}
