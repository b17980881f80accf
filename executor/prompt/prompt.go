// Package prompt holds the pure helpers of the answer loop: prompt assembly,
// completion bookkeeping, variable replacement, type coercion, and the
// whole-output NA sanitation pass. Everything here is deterministic given its
// inputs; adapter calls are taken as interfaces so the helpers stay testable
// without a provider.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/docstruct/docstruct/adapter"
)

// NA is the sentinel the models are instructed to answer when the context
// does not contain the requested value.
const NA = "NA"

// IsNA reports whether answer is the not-available sentinel, ignoring case
// and surrounding whitespace.
func IsNA(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), NA)
}

type (
	// GrammarEntry declares a domain synonym the model should treat as
	// equivalent to its canonical word.
	GrammarEntry struct {
		Word     string   `json:"word"`
		Synonyms []string `json:"synonyms"`
	}

	// Input carries every part of the assembled prompt. Zero-value fields
	// render as empty segments.
	Input struct {
		Preamble                string
		Prompt                  string
		Postamble               string
		Grammar                 []GrammarEntry
		Context                 []string
		PlatformPostamble       string
		WordConfidencePostamble string
	}
)

// Construct assembles the completion prompt. The layout is a wire contract
// with prompt-studio projects: changing the segment order or separators
// changes answers for every deployed project.
func Construct(in Input) string {
	var b strings.Builder
	b.WriteString(in.Preamble)
	b.WriteString("\n\nQuestion or Instruction: ")
	b.WriteString(in.Prompt)
	if notes := grammarNotes(in.Grammar); notes != "" {
		b.WriteString("\n")
		b.WriteString(notes)
	}
	b.WriteString("\n\n")
	b.WriteString(in.Postamble)
	if in.WordConfidencePostamble != "" {
		b.WriteString("\n\n")
		b.WriteString(in.WordConfidencePostamble)
	}
	b.WriteString("\n\nContext:\n---\n")
	b.WriteString(strings.Join(in.Context, "\n"))
	b.WriteString("\n---\n\n")
	if in.PlatformPostamble != "" {
		b.WriteString(in.PlatformPostamble)
		b.WriteString("\n\n")
	}
	b.WriteString("Answer:")
	return b.String()
}

// grammarNotes renders grammar entries as human-readable equivalence lines.
func grammarNotes(entries []GrammarEntry) string {
	var lines []string
	for _, e := range entries {
		if e.Word == "" || len(e.Synonyms) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("Note: the word %s is same as %s", e.Word, strings.Join(e.Synonyms, ", ")))
	}
	return strings.Join(lines, "\n")
}

// RunCompletion submits text to the LLM, records the provider's highlight
// and confidence payloads into metadata under promptName, and records token
// usage into metrics under "<usage reason>_llm". The returned answer is the
// raw completion text.
func RunCompletion(ctx context.Context, llm adapter.LLM, text, promptName string, metadata, metrics map[string]any) (string, error) {
	resp, err := llm.Complete(ctx, adapter.CompletionRequest{Prompt: text})
	if err != nil {
		return "", err
	}
	if metrics != nil && promptName != "" && len(resp.Usage) > 0 {
		entry := promptMetadata(metrics, promptName)
		entry[string(llm.UsageReason())+"_llm"] = resp.Usage
	}
	if metadata != nil && promptName != "" {
		entry := promptMetadata(metadata, promptName)
		if len(resp.Highlight) > 0 {
			entry["highlight_data"] = resp.Highlight
		}
		if len(resp.LineNumbers) > 0 {
			entry["line_numbers"] = resp.LineNumbers
		}
		if resp.WhisperHash != "" {
			entry["whisper_hash"] = resp.WhisperHash
		}
		if len(resp.Confidence) > 0 {
			entry["confidence_data"] = resp.Confidence
		}
	}
	return resp.Text, nil
}

// promptMetadata returns the per-prompt submap of metadata, creating it when
// absent.
func promptMetadata(metadata map[string]any, promptName string) map[string]any {
	if entry, ok := metadata[promptName].(map[string]any); ok {
		return entry
	}
	entry := make(map[string]any)
	metadata[promptName] = entry
	return entry
}
