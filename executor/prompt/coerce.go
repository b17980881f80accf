package prompt

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/docstruct/docstruct/adapter"
)

// Canned prompts for the second-pass coercion calls. Each takes the first
// answer verbatim and asks for the bare typed value, with NA as the escape
// hatch so the sanitation pass can null it out.
const (
	numberCoercionPrompt = "Extract the number from the following text. Return only the number with no formatting, units or explanation. If there is no number return NA.\n\nText: %s\n\nNumber:"

	emailCoercionPrompt = "Extract the email address from the following text. Return only the email address with no explanation. If there is no email address return NA.\n\nText: %s\n\nEmail:"

	dateCoercionPrompt = "Extract the date from the following text and return it in ISO 8601 format (YYYY-MM-DD). Return only the date with no explanation. If there is no date return NA.\n\nText: %s\n\nDate:"

	booleanCoercionPrompt = "Does the following text state an affirmative? Answer with exactly yes or no.\n\nText: %s\n\nAnswer:"
)

// CoerceNumber resolves a raw answer into a float. NA answers and unparsable
// second-pass answers both resolve to nil rather than failing the prompt.
func CoerceNumber(ctx context.Context, llm adapter.LLM, answer string) (any, error) {
	if IsNA(answer) {
		return nil, nil
	}
	refined, err := secondPass(ctx, llm, numberCoercionPrompt, answer)
	if err != nil {
		return nil, err
	}
	if IsNA(refined) {
		return nil, nil
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(refined), 64)
	if err != nil {
		return nil, nil
	}
	return n, nil
}

// CoerceEmail resolves a raw answer into a bare email address, nil on NA.
func CoerceEmail(ctx context.Context, llm adapter.LLM, answer string) (any, error) {
	return coerceString(ctx, llm, emailCoercionPrompt, answer)
}

// CoerceDate resolves a raw answer into an ISO date string, nil on NA.
func CoerceDate(ctx context.Context, llm adapter.LLM, answer string) (any, error) {
	return coerceString(ctx, llm, dateCoercionPrompt, answer)
}

// CoerceBoolean resolves a raw answer into true or false via a yes/no second
// pass, nil on NA.
func CoerceBoolean(ctx context.Context, llm adapter.LLM, answer string) (any, error) {
	if IsNA(answer) {
		return nil, nil
	}
	refined, err := secondPass(ctx, llm, booleanCoercionPrompt, answer)
	if err != nil {
		return nil, err
	}
	if IsNA(refined) {
		return nil, nil
	}
	return strings.EqualFold(strings.TrimSpace(refined), "yes"), nil
}

func coerceString(ctx context.Context, llm adapter.LLM, template, answer string) (any, error) {
	if IsNA(answer) {
		return nil, nil
	}
	refined, err := secondPass(ctx, llm, template, answer)
	if err != nil {
		return nil, err
	}
	if IsNA(refined) {
		return nil, nil
	}
	return strings.TrimSpace(refined), nil
}

func secondPass(ctx context.Context, llm adapter.LLM, template, answer string) (string, error) {
	resp, err := llm.Complete(ctx, adapter.CompletionRequest{
		Prompt: strings.Replace(template, "%s", answer, 1),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// HighlightHook post-processes a raw JSON answer when the highlight path is
// active for the prompt. The production hook maps answer fragments back to
// page coordinates; absent a hook the answer passes through untouched.
type HighlightHook func(rawAnswer string, parsed any, metadata map[string]any)

// HandleJSON coerces a raw answer into parsed JSON. NA and empty-list
// answers resolve to nil; a parse failure falls back to a repair pass before
// giving up and returning the raw string. When hook is non-nil it runs on
// every non-nil outcome.
func HandleJSON(answer, promptName string, metadata map[string]any, hook HighlightHook) any {
	trimmed := strings.TrimSpace(answer)
	if IsNA(trimmed) || trimmed == "[]" {
		return nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		repaired, ok := RepairJSON(trimmed)
		if !ok {
			// Not valid JSON even after repair; keep the raw text so the
			// caller can surface what the model actually said.
			if hook != nil {
				hook(answer, trimmed, promptMetadata(metadata, promptName))
			}
			return trimmed
		}
		parsed = repaired
	}
	if hook != nil {
		hook(answer, parsed, promptMetadata(metadata, promptName))
	}
	return parsed
}

// RepairJSON attempts a second-chance parse of a malformed model answer. It
// strips Markdown code fences and leading prose, then extracts the widest
// brace- or bracket-delimited span and parses that.
func RepairJSON(raw string) (any, bool) {
	s := strings.TrimSpace(raw)
	if fenced, ok := stripCodeFence(s); ok {
		s = fenced
	}
	if span, ok := widestJSONSpan(s); ok {
		s = span
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

func stripCodeFence(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line, e.g. "```json".
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

// widestJSONSpan returns the substring from the first opening brace or
// bracket to the matching last closer.
func widestJSONSpan(s string) (string, bool) {
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(s, pair[0])
		end := strings.LastIndexByte(s, pair[1])
		if start >= 0 && end > start {
			return s[start : end+1], true
		}
	}
	return "", false
}
