package types

import (
	"encoding/json"
	"fmt"
)

// DomainKey is the metadata key carrying a case's domain tag.
const DomainKey = "domain"

// UnknownDomain groups cases whose metadata carries no domain tag.
const UnknownDomain = "unknown"

// BenchmarkCase is one labeled evaluation input. Input is kept as raw JSON
// so it can be forwarded to the model endpoint byte for byte.
type BenchmarkCase struct {
	CaseID         string          `json:"case_id"`
	Input          json.RawMessage `json:"input"`
	ExpectedOutput any             `json:"expected_output,omitempty"`
	ExpectedLabel  any             `json:"expected_label,omitempty"`
	ExpectedClass  any             `json:"expected_class,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// GroundTruth projects the expected-value fields of the case.
func (c BenchmarkCase) GroundTruth() GroundTruth {
	md := c.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return GroundTruth{
		CaseID:         c.CaseID,
		ExpectedOutput: c.ExpectedOutput,
		ExpectedLabel:  c.ExpectedLabel,
		ExpectedClass:  c.ExpectedClass,
		Metadata:       md,
	}
}

// GroundTruth is the expected outcome for one case.
type GroundTruth struct {
	CaseID         string         `json:"case_id"`
	ExpectedOutput any            `json:"expected_output,omitempty"`
	ExpectedLabel  any            `json:"expected_label,omitempty"`
	ExpectedClass  any            `json:"expected_class,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Label returns the value compared in classification mode: the expected
// label, then the expected class, then the expected output.
func (g GroundTruth) Label() any {
	return firstPresent(g.ExpectedLabel, g.ExpectedClass, g.ExpectedOutput)
}

// Expected returns the value compared in general mode and used as reference
// text: the expected output, then the label, then the class.
func (g GroundTruth) Expected() any {
	return firstPresent(g.ExpectedOutput, g.ExpectedLabel, g.ExpectedClass)
}

// HasExpected reports whether any expected-value field is set.
func (g GroundTruth) HasExpected() bool {
	return g.Expected() != nil
}

// Domain returns the metadata domain tag, or "" when absent.
func (g GroundTruth) Domain() string {
	return metadataString(g.Metadata, DomainKey)
}

func firstPresent(values ...any) any {
	for _, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return v
	}
	return nil
}

func metadataString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	switch v := md[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
