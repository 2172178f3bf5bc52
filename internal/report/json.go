package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ogulcanaydogan/medcert/internal/errs"
	"github.com/ogulcanaydogan/medcert/pkg/types"
)

// Document is the detailed machine-readable report.
type Document struct {
	Certificate Certificate            `json:"certificate"`
	Evaluation  types.EvaluationRecord `json:"evaluation"`
}

func MarshalJSON(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

func WriteJSON(path string, doc Document) error {
	raw, err := MarshalJSON(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// ReadJSON loads a report written by WriteJSON.
func ReadJSON(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, errs.NotFound("read report", "report %s not found", path)
		}
		return Document{}, fmt.Errorf("read report %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, errs.InvalidInput("read report", "parse %s: %v", path, err)
	}
	return doc, nil
}
