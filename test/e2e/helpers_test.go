//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ogulcanaydogan/medcert/internal/loader"
	"github.com/ogulcanaydogan/medcert/internal/metrics"
	"github.com/ogulcanaydogan/medcert/internal/pipeline"
	"github.com/ogulcanaydogan/medcert/internal/policy"
	"github.com/ogulcanaydogan/medcert/internal/report"
	"github.com/ogulcanaydogan/medcert/internal/runner"
	"github.com/ogulcanaydogan/medcert/internal/safety"
	"github.com/ogulcanaydogan/medcert/internal/store"
	"go.uber.org/zap/zaptest"
)

type benchCase struct {
	id, domain, label, answer string
}

// writeBenchmark writes cases as JSONL. The endpoint under test answers
// with whatever each case's input carries.
func writeBenchmark(t *testing.T, dir string, cases []benchCase) string {
	t.Helper()
	var b strings.Builder
	for _, c := range cases {
		line, err := json.Marshal(map[string]any{
			"case_id":        c.id,
			"input":          map[string]any{"question": "q-" + c.id, "answer": c.answer},
			"expected_label": c.label,
			"metadata":       map[string]any{"domain": c.domain},
		})
		if err != nil {
			t.Fatal(err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	path := filepath.Join(dir, "benchmark.jsonl")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func labelledCases(n int, domain string) []benchCase {
	out := make([]benchCase, n)
	for i := range out {
		label := string(rune('A' + i%4))
		out[i] = benchCase{id: fmt.Sprintf("%s-%02d", domain, i), domain: domain, label: label, answer: label}
	}
	return out
}

// modelServer echoes input.answer as the prediction. Answers equal to
// "<500>" produce a server error.
func modelServer(t *testing.T) *httptest.Server {
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
		_ = json.NewEncoder(w).Encode(map[string]any{"prediction": req.Input.Answer, "confidence": 0.7})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newPipeline(t *testing.T, endpoint, outDir string) *pipeline.Orchestrator {
	t.Helper()
	log := zaptest.NewLogger(t)
	run, err := runner.New(runner.Options{
		URL:      endpoint,
		Shape:    "generic",
		Timeout:  5 * time.Second,
		Workers:  4,
		Parallel: true,
		Logger:   log,
	})
	if err != nil {
		t.Fatal(err)
	}
	checker, err := safety.New(safety.Options{EnableSafety: true, EnableHallucination: true, Logger: log})
	if err != nil {
		t.Fatal(err)
	}
	orch, err := pipeline.New(pipeline.Deps{
		Loader:     loader.New(store.Sources{}, log),
		Predictor:  run,
		Scorer:     metrics.New(log),
		Safety:     checker,
		Thresholds: policy.Default(),
		Emitter:    &report.Emitter{OutputDir: outDir, Logger: log},
		Logger:     log,
	})
	if err != nil {
		t.Fatal(err)
	}
	return orch
}
