package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

const customDataPrefix = "custom_data."

var (
	// staticVarPattern matches {{name}} and {{custom_data.key}} occurrences.
	staticVarPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)
	// backRefPattern matches %name% back-references to earlier prompts.
	backRefPattern = regexp.MustCompile(`%([A-Za-z0-9_.-]+)%`)
)

// CustomDataError reports a {{custom_data.key}} reference whose key is not
// present in the run's custom data.
type CustomDataError struct {
	Key string
}

func (e *CustomDataError) Error() string {
	return fmt.Sprintf("custom data has no key %q", e.Key)
}

// IsVariablesPresent reports whether text contains any {{...}} variable.
func IsVariablesPresent(text string) bool {
	return staticVarPattern.MatchString(text)
}

// ReplaceVariablesInPrompt resolves {{name}} against structuredOutput and
// {{custom_data.key}} against customData. Static variables with no
// accumulated value are left untouched so the model sees the author's
// literal text; a missing custom-data key is an error because the caller
// explicitly promised that data.
func ReplaceVariablesInPrompt(text string, structuredOutput, customData map[string]any) (string, error) {
	var missing *CustomDataError
	out := staticVarPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if key, ok := strings.CutPrefix(name, customDataPrefix); ok {
			value, found := customData[key]
			if !found {
				if missing == nil {
					missing = &CustomDataError{Key: key}
				}
				return match
			}
			return stringify(value)
		}
		if value, found := structuredOutput[name]; found {
			return stringify(value)
		}
		return match
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// ExtractVariable resolves %name% back-references against earlier prompts'
// structured output. Unlike static variables, a dangling back-reference is
// always an authoring error.
func ExtractVariable(text string, structuredOutput map[string]any) (string, error) {
	var dangling string
	out := backRefPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		value, found := structuredOutput[name]
		if !found {
			if dangling == "" {
				dangling = name
			}
			return match
		}
		return stringify(value)
	})
	if dangling != "" {
		return "", fmt.Errorf("prompt references %%%s%% but no earlier prompt produced %q", dangling, dangling)
	}
	return out, nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
