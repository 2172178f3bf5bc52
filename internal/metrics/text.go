package metrics

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// choicePrefix matches multiple-choice answers such as "B) Aspirin".
var choicePrefix = regexp.MustCompile(`^\s*([A-Za-z0-9]{1,3})\)\s+`)

// Similarity is the character-sequence match ratio of a and b, in [0,1].
func Similarity(a, b string) float64 {
	return difflib.NewMatcher(chars(a), chars(b)).Ratio()
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Normalize lowercases and trims s.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Text renders a prediction or expected value as comparable text. Nil is
// empty and structured values are JSON-encoded.
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool, int, int64:
		return fmt.Sprint(x)
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	}
}

// Label extracts the comparable class label from a value.
func Label(v any) string {
	switch x := v.(type) {
	case string:
		if m := choicePrefix.FindStringSubmatch(x); m != nil {
			return m[1]
		}
		return x
	case map[string]any:
		for _, key := range []string{"label", "class"} {
			if inner, ok := x[key]; ok && inner != nil {
				return Label(inner)
			}
		}
		return Text(x)
	default:
		return Text(x)
	}
}
