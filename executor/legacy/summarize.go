package legacy

import (
	"context"
	"strings"

	"github.com/docstruct/docstruct/adapter"
	"github.com/docstruct/docstruct/runtime/execution"
)

// summarize condenses the full extracted text for summarize-as-source runs.
func (e *Executor) summarize(ctx context.Context, ec execution.Context) (map[string]any, error) {
	llmID, err := requireString(ec, "llm_adapter_instance_id")
	if err != nil {
		return nil, err
	}
	text, err := requireString(ec, "context")
	if err != nil {
		return nil, err
	}
	summarizePrompt := stringParam(ec.ExecutorParams, "summarize_prompt")
	promptKeys := stringSliceParam(ec.ExecutorParams, "prompt_keys")

	llm, err := e.deps.Factory.LLM(ctx, llmID, adapter.UsageSummarize)
	if err != nil {
		return nil, Errorf("SummarizeError: resolve llm adapter %q: %s", llmID, err)
	}

	var b strings.Builder
	b.WriteString(summarizePrompt)
	if len(promptKeys) > 0 {
		b.WriteString("\n\nFocus on these fields: ")
		b.WriteString(strings.Join(promptKeys, ", "))
	}
	b.WriteString("\n\nContext:\n---\n")
	b.WriteString(text)
	b.WriteString("\n---\n\nSummary:")

	resp, err := llm.Complete(ctx, adapter.CompletionRequest{Prompt: b.String()})
	if err != nil {
		return nil, Errorf("SummarizeError: %s", err)
	}
	return map[string]any{"data": resp.Text}, nil
}
