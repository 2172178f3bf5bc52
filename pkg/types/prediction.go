package types

// Prediction is the model's output for one case. Failed calls carry a nil
// Prediction value and the captured error text.
type Prediction struct {
	CaseID     string         `json:"case_id"`
	Prediction any            `json:"prediction"`
	Confidence *float64       `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
}

// FailedPrediction builds the placeholder recorded for a failed call.
func FailedPrediction(caseID string, err error) Prediction {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Prediction{CaseID: caseID, Success: false, Error: msg}
}

// Domain returns the metadata domain tag reported by the model, or "".
func (p Prediction) Domain() string {
	return metadataString(p.Metadata, DomainKey)
}

// CaseError pairs a failed case with its error text.
type CaseError struct {
	CaseID string `json:"case_id"`
	Error  string `json:"error"`
}

// PartitionPredictions splits predictions into successful and failed ones.
func PartitionPredictions(preds []Prediction) (succeeded, failed []Prediction) {
	for _, p := range preds {
		if p.Success {
			succeeded = append(succeeded, p)
		} else {
			failed = append(failed, p)
		}
	}
	return succeeded, failed
}
