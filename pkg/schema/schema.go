// Package schema validates benchmark documents against embedded JSON schemas.
package schema

import (
	_ "embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

var (
	//go:embed benchmark_case.schema.json
	benchmarkCaseSchema string
	//go:embed thresholds.schema.json
	thresholdsSchemaSrc string

	caseSchema       = mustCompile(benchmarkCaseSchema)
	thresholdsSchema = mustCompile(thresholdsSchemaSrc)
)

func mustCompile(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile embedded schema: %v", err))
	}
	return s
}

// ValidateCaseJSON checks one raw benchmark record and returns the
// violations, if any.
func ValidateCaseJSON(raw []byte) ([]string, error) {
	return collect(caseSchema.Validate(gojsonschema.NewBytesLoader(raw)))
}

// ValidateThresholds checks a decoded thresholds document. Unknown keys are
// violations, so a misspelled threshold cannot silently fall back to its
// default.
func ValidateThresholds(doc any) ([]string, error) {
	return collect(thresholdsSchema.Validate(gojsonschema.NewGoLoader(doc)))
}

func collect(result *gojsonschema.Result, err error) ([]string, error) {
	if err != nil {
		return nil, fmt.Errorf("validate document: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
