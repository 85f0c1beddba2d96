package matching

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ohler55/ojg/jp"
)

// evalBodyJSONPath checks every JSONPath condition against a JSON request
// body. All conditions must hold. A body that is not valid JSON simply does
// not match; a JSONPath expression that does not parse is an error and the
// caller skips the rule.
func evalBodyJSONPath(conditions map[string]any, body string) (bool, error) {
	var data any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return false, nil
	}

	for path, expected := range conditions {
		x, err := jp.ParseString(path)
		if err != nil {
			return false, fmt.Errorf("parse jsonpath %q: %w", path, err)
		}
		results := x.Get(data)
		if len(results) == 0 {
			return false, nil
		}
		matched := false
		for _, got := range results {
			if jsonValuesEqual(got, expected) {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

// jsonValuesEqual compares a JSONPath result with an expected value,
// normalizing numbers so YAML ints compare equal to JSON float64s.
func jsonValuesEqual(got, expected any) bool {
	if gf, ok := toFloat(got); ok {
		if ef, ok := toFloat(expected); ok {
			return gf == ef
		}
		return false
	}
	return reflect.DeepEqual(got, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
