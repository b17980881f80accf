package prompt

// SanitizeNA walks a structured output and replaces every string equal to
// the NA sentinel, at any nesting depth, with nil. Maps and slices are
// rewritten in place where possible; the sanitized value is returned either
// way. The pass is idempotent.
func SanitizeNA(v any) any {
	switch val := v.(type) {
	case string:
		if IsNA(val) {
			return nil
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = SanitizeNA(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = SanitizeNA(item)
		}
		return val
	default:
		return v
	}
}
