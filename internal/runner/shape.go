package runner

import (
	"encoding/json"
	"strings"

	"github.com/ogulcanaydogan/medcert/internal/config"
	"github.com/ogulcanaydogan/medcert/internal/errs"
)

// shape is one endpoint call convention: where to POST, how to wrap the
// case payload and how to unwrap the response.
type shape struct {
	name   string
	target func(url string) string
	body   func(payload json.RawMessage) ([]byte, error)
	unwrap func(resp any) any
}

var shapes = map[string]shape{
	config.EndpointGeneric: {
		name: config.EndpointGeneric,
		target: func(url string) string {
			url = strings.TrimRight(url, "/")
			if strings.HasSuffix(url, "/predict") {
				return url
			}
			return url + "/predict"
		},
		body: func(payload json.RawMessage) ([]byte, error) {
			return json.Marshal(map[string]json.RawMessage{"input": orNull(payload)})
		},
		unwrap: identity,
	},
	config.EndpointBatch: {
		name:   config.EndpointBatch,
		target: identityURL,
		body: func(payload json.RawMessage) ([]byte, error) {
			return json.Marshal(map[string][]json.RawMessage{"instances": {orNull(payload)}})
		},
		unwrap: func(resp any) any {
			obj, ok := resp.(map[string]any)
			if !ok {
				return resp
			}
			if preds, ok := obj["predictions"].([]any); ok && len(preds) > 0 {
				return preds[0]
			}
			return resp
		},
	},
	config.EndpointCustom: {
		name:   config.EndpointCustom,
		target: identityURL,
		body: func(payload json.RawMessage) ([]byte, error) {
			return orNull(payload), nil
		},
		unwrap: identity,
	},
}

func shapeFor(name string) (shape, error) {
	if name == "" {
		name = config.EndpointGeneric
	}
	s, ok := shapes[name]
	if !ok {
		return shape{}, errs.Configuration("new runner", "unsupported endpoint type %q", name)
	}
	return s, nil
}

func identity(v any) any            { return v }
func identityURL(url string) string { return url }

func orNull(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage("null")
	}
	return p
}

// outcome pulls the prediction fields out of an unwrapped response body:
// "prediction", else "output", else the whole body.
func outcome(resp any) (value any, confidence *float64, metadata map[string]any) {
	obj, ok := resp.(map[string]any)
	if !ok {
		return resp, nil, nil
	}
	if v, ok := obj["prediction"]; ok {
		value = v
	} else if v, ok := obj["output"]; ok {
		value = v
	} else {
		value = resp
	}
	if c, ok := obj["confidence"].(float64); ok {
		confidence = &c
	}
	if md, ok := obj["metadata"].(map[string]any); ok {
		metadata = md
	}
	return value, confidence, metadata
}
