package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ogulcanaydogan/medcert/internal/errs"
	"github.com/ogulcanaydogan/medcert/internal/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func writeBenchmark(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newObserved() (*Loader, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return New(nil, zap.New(core)), logs
}

const mixedJSONL = `{"case_id":"c1","input":{"text":"chest pain"},"expected_label":"A","metadata":{"domain":"cardiology"}}

not json at all
{"case_id":"c2","input":"fever","expected_output":"infection"}
["an","array"]
{"input":"no id"}
{"case_id":"c3"}
{"case_id":"c1","input":"duplicate"}
{"case_id":"c4","input":null,"expected_class":2}
`

func TestLoad_JSONLSkipsAndDrops(t *testing.T) {
	l, logs := newObserved()
	path := writeBenchmark(t, "cases.jsonl", mixedJSONL)

	res, err := l.Load(context.Background(), path, 0, FormatJSONL)
	require.NoError(t, err)

	ids := make([]string, 0, len(res.Cases))
	for _, c := range res.Cases {
		ids = append(ids, c.CaseID)
	}
	assert.Equal(t, []string{"c1", "c2", "c4"}, ids)
	assert.Equal(t, 2, res.Malformed)
	assert.Equal(t, 6, res.Parsed)
	assert.Equal(t, 2, res.Invalid)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 3, res.Dropped())

	// non-blank lines minus malformed minus dropped
	nonBlank := 0
	for _, line := range strings.Split(mixedJSONL, "\n") {
		if strings.TrimSpace(line) != "" {
			nonBlank++
		}
	}
	assert.Equal(t, nonBlank-res.Malformed-res.Dropped(), len(res.Cases))

	require.Len(t, res.GroundTruth, 3)
	assert.Equal(t, "A", res.GroundTruth[0].ExpectedLabel)
	assert.Equal(t, "cardiology", res.GroundTruth[0].Domain())
	assert.Equal(t, "infection", res.GroundTruth[1].ExpectedOutput)
	assert.NotNil(t, res.GroundTruth[1].Metadata)
	// first occurrence of c1 wins over the later duplicate
	assert.JSONEq(t, `{"text":"chest pain"}`, string(res.Cases[0].Input))
	assert.Equal(t, "null", string(res.Cases[2].Input))

	assert.Equal(t, 2, logs.FilterMessage("skipping malformed line").Len())
	assert.Equal(t, 2, logs.FilterMessage("dropping invalid test case").Len())
	assert.Equal(t, 1, logs.FilterMessage("dropping duplicate test case").Len())
	malformed := logs.FilterMessage("skipping malformed line").All()
	assert.Equal(t, int64(3), malformed[0].ContextMap()["line"])
}

func TestLoad_MaxCasesStopsEarly(t *testing.T) {
	l := New(nil, nil)
	path := writeBenchmark(t, "cases.jsonl", mixedJSONL)

	res, err := l.Load(context.Background(), path, 2, FormatJSONL)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Parsed)
	assert.Len(t, res.Cases, 2)
	assert.Equal(t, 1, res.Malformed, "lines after the limit are never read")
}

func TestLoad_JSONDocumentShapes(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()

	arr := writeBenchmark(t, "cases.json", `[{"case_id":"a","input":1},{"case_id":"b","input":2},7]`)
	res, err := l.Load(ctx, arr, 0, FormatJSON)
	require.NoError(t, err)
	assert.Len(t, res.Cases, 2)
	assert.Equal(t, 1, res.Malformed)

	obj := writeBenchmark(t, "suite.json", `{"name":"cardio","test_cases":[{"case_id":"a","input":1},{"case_id":"b","input":2},{"case_id":"c","input":3}]}`)
	res, err = l.Load(ctx, obj, 2, FormatJSON)
	require.NoError(t, err)
	assert.Len(t, res.Cases, 2)

	bad := writeBenchmark(t, "broken.json", `{"test_cases": [`)
	_, err = l.Load(ctx, bad, 0, FormatJSON)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}

func TestLoad_Errors(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()

	_, err := l.Load(ctx, filepath.Join(t.TempDir(), "missing.jsonl"), 0, FormatJSONL)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	_, err = l.Load(ctx, "s3://benchmarks/cases.jsonl", 0, FormatJSONL)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	path := writeBenchmark(t, "cases.csv", "case_id,input\n")
	_, err = l.Load(ctx, path, 0, "csv")
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestLoad_DigestMatchesFile(t *testing.T) {
	path := writeBenchmark(t, "cases.jsonl", `{"case_id":"a","input":1}`+"\n")
	res, err := New(nil, nil).Load(context.Background(), path, 0, "")
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, hash.DigestBytes(raw), res.Digest)
}

type memReader map[string]string

func (m memReader) Read(_ context.Context, source string) ([]byte, error) {
	body, ok := m[source]
	if !ok {
		return nil, errs.NotFound("read source", "%s", source)
	}
	return []byte(body), nil
}

func TestLoad_CustomReader(t *testing.T) {
	l := New(memReader{"s3://bench/cases.jsonl": `{"case_id":"x","input":"y"}`}, nil)
	res, err := l.Load(context.Background(), "s3://bench/cases.jsonl", 0, FormatJSONL)
	require.NoError(t, err)
	require.Len(t, res.Cases, 1)
	assert.Equal(t, "x", res.Cases[0].CaseID)
}
