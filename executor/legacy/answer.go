package legacy

import (
	"context"
	"strings"

	"github.com/docstruct/docstruct/adapter"
	"github.com/docstruct/docstruct/executor/prompt"
	"github.com/docstruct/docstruct/executor/retrieval"
	"github.com/docstruct/docstruct/runtime/execution"
)

// Prompt output types with dedicated coercion behavior.
const (
	typeText     = "text"
	typeNumber   = "number"
	typeEmail    = "email"
	typeDate     = "date"
	typeBoolean  = "boolean"
	typeJSON     = "json"
	typeTable    = "table"
	typeLineItem = "line-item"
)

// answerPrompt runs the prompt loop once per entry of the payload's outputs
// list, in payload order. single_pass_extraction shares this handler: the
// single-round vs per-prompt distinction is the caller's payload shape, not
// a branch here.
func (e *Executor) answerPrompt(ctx context.Context, ec execution.Context) (map[string]any, error) {
	rawOutputs, ok := ec.Param("outputs")
	if !ok {
		return nil, Errorf("missing required parameter %q", "outputs")
	}
	outputs, ok := rawOutputs.([]any)
	if !ok {
		return nil, Errorf("parameter %q must be a list of prompt specs", "outputs")
	}
	toolSettings := mapParam(ec.ExecutorParams, "tool_settings")
	filePath := stringParam(ec.ExecutorParams, "file_path")
	fileHash := stringParam(ec.ExecutorParams, "file_hash")
	customData := mapParam(ec.ExecutorParams, "custom_data")

	structured := make(map[string]any)
	contexts := make(map[string]any)
	// required_fields records every prompt name the payload asked for, null
	// until downstream consumers fill in review state. Present even when the
	// outputs list is empty.
	required := make(map[string]any)
	metadata := map[string]any{"run_id": ec.RunID, "context": contexts, "required_fields": required}
	metrics := make(map[string]any)

	for _, raw := range outputs {
		spec, ok := raw.(map[string]any)
		if !ok {
			return nil, Errorf("prompt spec must be an object, got %T", raw)
		}
		if err := e.answerOne(ctx, ec, spec, toolSettings, answerState{
			structured: structured,
			contexts:   contexts,
			required:   required,
			metadata:   metadata,
			metrics:    metrics,
			filePath:   filePath,
			fileHash:   fileHash,
			customData: customData,
		}); err != nil {
			return nil, err
		}
	}

	prompt.SanitizeNA(structured)
	return map[string]any{"output": structured, "metadata": metadata, "metrics": metrics}, nil
}

// answerState is the accumulating state threaded through the prompt loop.
type answerState struct {
	structured map[string]any
	contexts   map[string]any
	required   map[string]any
	metadata   map[string]any
	metrics    map[string]any
	filePath   string
	fileHash   string
	customData map[string]any
}

func (e *Executor) answerOne(ctx context.Context, ec execution.Context, spec, toolSettings map[string]any, st answerState) error {
	name := stringParam(spec, "name")
	if name == "" {
		return Errorf("prompt spec missing %q", "name")
	}
	st.required[name] = nil
	text := stringParam(spec, "prompt")

	ptype := stringParam(spec, "type")
	if ptype == "" {
		ptype = typeText
	}
	if ptype == typeTable || ptype == typeLineItem {
		return &Error{Message: "prompt type " + ptype + " requires a plugin that is not bundled in this build"}
	}

	// Variable replacement runs before anything touches adapters so a
	// dangling reference fails fast.
	var err error
	if prompt.IsVariablesPresent(text) {
		text, err = prompt.ReplaceVariablesInPrompt(text, st.structured, st.customData)
		if err != nil {
			return err
		}
	}
	text, err = prompt.ExtractVariable(text, st.structured)
	if err != nil {
		return err
	}

	chunkSize := intParam(spec, "chunk_size", 0)
	chunkOverlap := intParam(spec, "chunk_overlap", 0)
	llmID := stringParam(spec, "llm")
	embeddingID := stringParam(spec, "embedding")
	vectorDBID := stringParam(spec, "vector-db")
	x2textID := stringParam(spec, "x2text_adapter")
	docID := GenerateDocID(vectorDBID, embeddingID, x2textID, chunkSize, chunkOverlap, st.fileHash)

	llm, err := e.deps.Factory.LLM(ctx, llmID, adapter.UsageExtraction)
	if err != nil {
		return Errorf("AnswerPromptError: resolve llm adapter %q: %s", llmID, err)
	}

	answer := prompt.NA
	strategy := stringParam(spec, "retrieval_strategy")
	if retrieval.KnownStrategy(strategy) {
		chunks, err := e.retrieveContext(ctx, ec, llm, spec, docID, text, strategy, chunkSize, chunkOverlap, st)
		if err != nil {
			return err
		}
		st.contexts[name] = chunks

		built := prompt.Construct(prompt.Input{
			Preamble:          stringParam(toolSettings, "preamble"),
			Prompt:            text,
			Postamble:         stringParam(toolSettings, "postamble"),
			Grammar:           grammarEntries(toolSettings),
			Context:           chunks,
			PlatformPostamble: stringParam(toolSettings, "platform_postamble"),
		})
		answer, err = prompt.RunCompletion(ctx, llm, built, name, st.metadata, st.metrics)
		if err != nil {
			return Errorf("AnswerPromptError: completion for prompt %q: %s", name, err)
		}
	} else {
		// Unrecognized strategy: skip retrieval and completion; the answer
		// stays NA and nulls out in the sanitation pass.
		e.deps.Logger.Warn(ctx, "unknown retrieval strategy, skipping retrieval",
			"prompt", name, "strategy", strategy)
	}

	coerced, err := e.coerce(ctx, llm, ptype, name, answer, toolSettings, st)
	if err != nil {
		return err
	}
	st.structured[name] = coerced
	return nil
}

// retrieveContext selects the context chunks for one prompt. Chunk size zero
// reads the whole extracted text; otherwise the vector store is opened for
// exactly this prompt and closed before returning.
func (e *Executor) retrieveContext(ctx context.Context, ec execution.Context, llm adapter.LLM, spec map[string]any, docID, query, strategy string, chunkSize, chunkOverlap int, st answerState) ([]string, error) {
	name := stringParam(spec, "name")
	if chunkSize == 0 {
		fs, err := e.deps.Roots.Select(ec.ExecutionSource)
		if err != nil {
			return nil, Errorf("AnswerPromptError: %s", err)
		}
		chunks, err := e.deps.Retrieval.CompleteContext(fs, st.filePath, st.metrics, name)
		if err != nil {
			return nil, Errorf("AnswerPromptError: %s", err)
		}
		return chunks, nil
	}

	embeddingID := stringParam(spec, "embedding")
	embedding, err := e.deps.Factory.Embedding(ctx, embeddingID)
	if err != nil {
		return nil, Errorf("AnswerPromptError: resolve embedding adapter %q: %s", embeddingID, err)
	}
	vectorDBID := stringParam(spec, "vector-db")
	vdb, err := e.deps.Factory.VectorDB(ctx, vectorDBID, embedding)
	if err != nil {
		return nil, Errorf("AnswerPromptError: resolve vector db adapter %q: %s", vectorDBID, err)
	}
	defer func() {
		if cerr := vdb.Close(); cerr != nil {
			e.deps.Logger.Warn(ctx, "vector db close failed", "prompt", name, "error", cerr.Error())
		}
	}()

	topK := intParam(spec, "similarity_top_k", 3)
	chunks, err := e.deps.Retrieval.Run(ctx, query, docID, llm, vdb, strategy, topK, st.metrics, name)
	if err != nil {
		return nil, Errorf("AnswerPromptError: retrieval for prompt %q: %s", name, err)
	}
	return chunks, nil
}

// coerce applies the per-type post-processing table to the raw answer.
func (e *Executor) coerce(ctx context.Context, llm adapter.LLM, ptype, name, answer string, toolSettings map[string]any, st answerState) (any, error) {
	var (
		coerced any
		err     error
	)
	switch ptype {
	case typeNumber:
		coerced, err = prompt.CoerceNumber(ctx, llm, answer)
	case typeEmail:
		coerced, err = prompt.CoerceEmail(ctx, llm, answer)
	case typeDate:
		coerced, err = prompt.CoerceDate(ctx, llm, answer)
	case typeBoolean:
		coerced, err = prompt.CoerceBoolean(ctx, llm, answer)
	case typeJSON:
		var hook prompt.HighlightHook
		if boolParam(toolSettings, "enable_highlight") {
			hook = e.deps.Highlight
		}
		coerced = prompt.HandleJSON(answer, name, st.metadata, hook)
	default:
		coerced = strings.TrimRight(answer, "\n")
	}
	if err != nil {
		return nil, Errorf("AnswerPromptError: coerce %q to %s: %s", name, ptype, err)
	}
	return coerced, nil
}

// grammarEntries decodes the tool settings grammar list.
func grammarEntries(toolSettings map[string]any) []prompt.GrammarEntry {
	raw, ok := toolSettings["grammar"].([]any)
	if !ok {
		return nil
	}
	var entries []prompt.GrammarEntry
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entries = append(entries, prompt.GrammarEntry{
			Word:     stringParam(m, "word"),
			Synonyms: stringSliceParam(m, "synonyms"),
		})
	}
	return entries
}
