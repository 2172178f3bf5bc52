package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ogulcanaydogan/medcert/internal/errs"
	"github.com/ogulcanaydogan/medcert/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCases(n int) []types.BenchmarkCase {
	out := make([]types.BenchmarkCase, n)
	for i := range out {
		out[i] = types.BenchmarkCase{
			CaseID: fmt.Sprintf("c%02d", i),
			Input:  json.RawMessage(fmt.Sprintf(`{"text":"case %d"}`, i)),
		}
	}
	return out
}

func caseIDs(preds []types.Prediction) []string {
	ids := make([]string, 0, len(preds))
	for _, p := range preds {
		ids = append(ids, p.CaseID)
	}
	sort.Strings(ids)
	return ids
}

// echoServer answers every request with the request's "input.text".
func echoServer(t *testing.T, seen *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen.Add(1)
		}
		var body struct {
			Input struct {
				Text string `json:"text"`
			} `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"prediction": body.Input.Text,
			"confidence": 0.9,
			"metadata":   map[string]any{"domain": "cardiology"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_EmptyCasesIsInvalidInput(t *testing.T) {
	r, err := New(Options{URL: "http://unused"})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), nil)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
	_, err = New(Options{URL: "http://x", Shape: "grpc"})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestRun_ParallelOnePredictionPerCase(t *testing.T) {
	var seen atomic.Int32
	srv := echoServer(t, &seen)
	reg := prometheus.NewRegistry()
	r, err := New(Options{URL: srv.URL, Parallel: true, Workers: 3, Metrics: NewMetrics(reg)})
	require.NoError(t, err)

	cases := makeCases(12)
	preds, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Len(t, preds, 12)
	assert.Equal(t, int32(12), seen.Load())

	want := make([]string, 0, len(cases))
	for _, c := range cases {
		want = append(want, c.CaseID)
	}
	assert.Equal(t, want, caseIDs(preds))
	for _, p := range preds {
		assert.True(t, p.Success)
		require.NotNil(t, p.Confidence)
		assert.InDelta(t, 0.9, *p.Confidence, 1e-9)
		assert.Equal(t, "cardiology", p.Domain())
	}
	assert.Equal(t, 12.0, testutil.ToFloat64(r.metrics.Requests.WithLabelValues("generic", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.metrics.InFlight))
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		switch {
		case strings.Contains(string(raw), "case 1\""):
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		case strings.Contains(string(raw), "case 2\""):
			_, _ = w.Write([]byte("not json"))
		default:
			_, _ = w.Write([]byte(`{"output":"ok"}`))
		}
	}))
	defer srv.Close()
	reg := prometheus.NewRegistry()
	r, err := New(Options{URL: srv.URL, Parallel: true, Metrics: NewMetrics(reg)})
	require.NoError(t, err)

	preds, err := r.Run(context.Background(), makeCases(5))
	require.NoError(t, err)
	require.Len(t, preds, 5)

	ok, failed := types.PartitionPredictions(preds)
	assert.Len(t, ok, 3)
	require.Len(t, failed, 2)
	for _, p := range failed {
		assert.Nil(t, p.Prediction)
		assert.NotEmpty(t, p.Error)
	}
	for _, p := range ok {
		assert.Equal(t, "ok", p.Prediction)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.Requests.WithLabelValues("generic", "error")))
}

func TestRun_TimeoutIsPerCaseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	r, err := New(Options{URL: srv.URL, Timeout: 50 * time.Millisecond, Delay: -1})
	require.NoError(t, err)

	preds, err := r.Run(context.Background(), makeCases(2))
	require.NoError(t, err)
	require.Len(t, preds, 2)
	for _, p := range preds {
		assert.False(t, p.Success)
	}
}

func TestNew_ZeroDelayDisablesPacing(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		r, err := New(Options{URL: "http://model", Delay: d})
		require.NoError(t, err)
		assert.Zero(t, r.delay, "delay %v", d)
	}
	r, err := New(Options{URL: "http://model", Delay: 250 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, r.delay)
}

func TestRun_SequentialPreservesOrderAndDelays(t *testing.T) {
	srv := echoServer(t, nil)
	r, err := New(Options{URL: srv.URL, Parallel: false, Delay: 20 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	preds, err := r.Run(context.Background(), makeCases(3))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	require.Len(t, preds, 3)
	for i, p := range preds {
		assert.Equal(t, fmt.Sprintf("c%02d", i), p.CaseID)
		assert.Equal(t, fmt.Sprintf("case %d", i), p.Prediction)
	}
}

func TestPredict_RequestShapes(t *testing.T) {
	tests := []struct {
		shape    string
		path     string
		wantPath string
		wantBody string
		respond  string
		want     any
	}{
		{shape: "generic", wantPath: "/predict", wantBody: `{"input":{"q":1}}`, respond: `{"prediction":"A"}`, want: "A"},
		{shape: "generic", path: "/predict", wantPath: "/predict", wantBody: `{"input":{"q":1}}`, respond: `{"output":"B"}`, want: "B"},
		{shape: "batch", path: "/v1/models/m:predict", wantPath: "/v1/models/m:predict", wantBody: `{"instances":[{"q":1}]}`, respond: `{"predictions":[{"prediction":"C"}]}`, want: "C"},
		{shape: "custom", path: "/score", wantPath: "/score", wantBody: `{"q":1}`, respond: `{"label":"D"}`, want: map[string]any{"label": "D"}},
	}
	for _, tt := range tests {
		t.Run(tt.shape+tt.path, func(t *testing.T) {
			var gotPath, gotBody, gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				raw, _ := io.ReadAll(r.Body)
				gotPath, gotBody, gotAuth = r.URL.Path, string(raw), r.Header.Get("Authorization")
				_, _ = w.Write([]byte(tt.respond))
			}))
			defer srv.Close()

			r, err := New(Options{URL: srv.URL + tt.path, Shape: tt.shape, APIKey: "secret"})
			require.NoError(t, err)
			p := r.Predict(context.Background(), types.BenchmarkCase{CaseID: "c1", Input: json.RawMessage(`{"q":1}`)})
			require.True(t, p.Success, p.Error)
			assert.Equal(t, tt.wantPath, gotPath)
			assert.JSONEq(t, tt.wantBody, gotBody)
			assert.Equal(t, "Bearer secret", gotAuth)
			assert.Equal(t, tt.want, p.Prediction)
		})
	}
}

func TestPredict_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"prediction":null}`))
	}))
	defer srv.Close()
	r, err := New(Options{URL: srv.URL})
	require.NoError(t, err)
	p := r.Predict(context.Background(), types.BenchmarkCase{CaseID: "c1", Input: json.RawMessage(`"x"`)})
	assert.True(t, p.Success)
	assert.Nil(t, p.Prediction)
	assert.Empty(t, gotAuth)
}

type panicTransport struct{}

func (panicTransport) RoundTrip(*http.Request) (*http.Response, error) { panic("boom") }

func TestRun_PanicBecomesFailedPrediction(t *testing.T) {
	r, err := New(Options{URL: "http://model", Parallel: true, Client: &http.Client{Transport: panicTransport{}}})
	require.NoError(t, err)
	preds, err := r.Run(context.Background(), makeCases(4))
	require.NoError(t, err)
	require.Len(t, preds, 4)
	for _, p := range preds {
		assert.False(t, p.Success)
		assert.Contains(t, p.Error, "panic: boom")
	}
}
