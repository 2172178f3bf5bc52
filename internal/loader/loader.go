// Package loader reads benchmark files into validated cases and their
// ground-truth projections.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/ogulcanaydogan/medcert/internal/errs"
	"github.com/ogulcanaydogan/medcert/internal/hash"
	"github.com/ogulcanaydogan/medcert/internal/logging"
	"github.com/ogulcanaydogan/medcert/internal/store"
	"github.com/ogulcanaydogan/medcert/pkg/schema"
	"github.com/ogulcanaydogan/medcert/pkg/types"
	"go.uber.org/zap"
)

const (
	FormatJSONL = "jsonl"
	FormatJSON  = "json"
)

// Result is the outcome of one Load call.
type Result struct {
	Cases       []types.BenchmarkCase
	GroundTruth []types.GroundTruth
	// Parsed counts records that decoded as JSON objects.
	Parsed     int
	Malformed  int
	Invalid    int
	Duplicates int
	Digest     string
}

// Dropped is the number of parsed records excluded by validation.
func (r Result) Dropped() int { return r.Invalid + r.Duplicates }

type Loader struct {
	src store.Reader
	log *zap.Logger
}

func New(src store.Reader, log *zap.Logger) *Loader {
	if src == nil {
		src = store.Sources{}
	}
	return &Loader{src: src, log: logging.OrNop(log)}
}

// Load reads up to maxCases records from source (0 means unbounded).
func (l *Loader) Load(ctx context.Context, source string, maxCases int, format string) (Result, error) {
	if strings.TrimSpace(source) == "" {
		return Result{}, errs.Configuration("load test data", "benchmark source is empty")
	}
	if format == "" {
		format = FormatJSONL
	}
	raw, err := l.src.Read(ctx, source)
	if err != nil {
		return Result{}, err
	}

	var records []json.RawMessage
	res := Result{Digest: hash.DigestBytes(raw)}
	switch format {
	case FormatJSONL:
		records, res.Malformed, err = l.splitLines(raw, maxCases)
	case FormatJSON:
		records, res.Malformed, err = l.splitDocument(raw, maxCases)
	default:
		return Result{}, errs.Configuration("load test data", "unsupported benchmark format %q", format)
	}
	if err != nil {
		return Result{}, err
	}
	res.Parsed = len(records)

	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		c, reason := l.validate(rec)
		if reason != "" {
			res.Invalid++
			l.log.Warn("dropping invalid test case", zap.String("case_id", c.CaseID), zap.String("reason", reason))
			continue
		}
		if _, dup := seen[c.CaseID]; dup {
			res.Duplicates++
			l.log.Warn("dropping duplicate test case", zap.String("case_id", c.CaseID))
			continue
		}
		seen[c.CaseID] = struct{}{}
		res.Cases = append(res.Cases, c)
		res.GroundTruth = append(res.GroundTruth, c.GroundTruth())
	}
	l.log.Info("loaded test data",
		zap.String("source", source),
		zap.Int("loaded", len(res.Cases)),
		zap.Int("malformed", res.Malformed),
		zap.Int("dropped", res.Dropped()))
	return res, nil
}

func (l *Loader) splitLines(raw []byte, maxCases int) ([]json.RawMessage, int, error) {
	var (
		out       []json.RawMessage
		malformed int
	)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !isObject(line) {
			malformed++
			l.log.Warn("skipping malformed line", zap.Int("line", lineNo))
			continue
		}
		out = append(out, json.RawMessage(append([]byte(nil), line...)))
		if maxCases > 0 && len(out) >= maxCases {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, errs.InvalidInput("load test data", "scan benchmark: %v", err)
	}
	return out, malformed, nil
}

func (l *Loader) splitDocument(raw []byte, maxCases int) ([]json.RawMessage, int, error) {
	var items []json.RawMessage
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc struct {
			TestCases []json.RawMessage `json:"test_cases"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, 0, errs.InvalidInput("load test data", "parse benchmark document: %v", err)
		}
		items = doc.TestCases
	} else if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, 0, errs.InvalidInput("load test data", "parse benchmark document: %v", err)
	}

	out := make([]json.RawMessage, 0, len(items))
	malformed := 0
	for i, item := range items {
		if !isObject(item) {
			malformed++
			l.log.Warn("skipping malformed record", zap.Int("index", i))
			continue
		}
		out = append(out, item)
		if maxCases > 0 && len(out) >= maxCases {
			break
		}
	}
	return out, malformed, nil
}

// validate decodes rec and returns a non-empty reason when it must be dropped.
func (l *Loader) validate(rec json.RawMessage) (types.BenchmarkCase, string) {
	var c types.BenchmarkCase
	violations, err := schema.ValidateCaseJSON(rec)
	if err != nil {
		return c, err.Error()
	}
	decodeErr := json.Unmarshal(rec, &c)
	if len(violations) > 0 {
		return c, strings.Join(violations, "; ")
	}
	if decodeErr != nil {
		return c, decodeErr.Error()
	}
	return c, ""
}

func isObject(b []byte) bool {
	var obj map[string]json.RawMessage
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{' && json.Unmarshal(b, &obj) == nil
}
