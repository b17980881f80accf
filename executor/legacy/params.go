package legacy

import (
	"fmt"

	"github.com/docstruct/docstruct/runtime/execution"
)

// requireString returns a required string parameter or a declared failure
// naming the missing key.
func requireString(ec execution.Context, name string) (string, error) {
	v, ok := ec.StringParam(name)
	if !ok {
		return "", Errorf("missing required parameter %q", name)
	}
	return v, nil
}

// intParam reads an integer parameter. JSON decoding yields float64 for
// numbers, so both forms are accepted.
func intParam(params map[string]any, name string, def int) int {
	switch v := params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func boolParam(params map[string]any, name string) bool {
	b, _ := params[name].(bool)
	return b
}

func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}

func mapParam(params map[string]any, name string) map[string]any {
	m, _ := params[name].(map[string]any)
	return m
}

func stringSliceParam(params map[string]any, name string) []string {
	switch v := params[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return nil
	}
}
