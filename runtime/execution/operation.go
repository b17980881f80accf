package execution

import (
	"fmt"
	"strings"
)

// Operation names a unit of executor work. Operation values are stable wire
// constants: they appear in task names and queue routing and must never be
// rewritten when crossing the queue boundary.
type Operation string

const (
	// OpExtract converts a source document into plain text.
	OpExtract Operation = "extract"
	// OpIndex chunks and embeds extracted text into a vector store.
	OpIndex Operation = "index"
	// OpAnswerPrompt runs the per-prompt retrieval and completion loop.
	OpAnswerPrompt Operation = "answer_prompt"
	// OpSinglePassExtraction answers all prompts in one LLM round. Wire
	// behavior is identical to answer_prompt; the payload shape differs.
	OpSinglePassExtraction Operation = "single_pass_extraction"
	// OpSummarize condenses extracted text for summarize-as-source runs.
	OpSummarize Operation = "summarize"
	// OpAgenticExtraction is reserved for the agentic plugin seam.
	OpAgenticExtraction Operation = "agentic_extraction"
)

// Operations returns all declared operations in stable order.
func Operations() []Operation {
	return []Operation{
		OpExtract,
		OpIndex,
		OpAnswerPrompt,
		OpSinglePassExtraction,
		OpSummarize,
		OpAgenticExtraction,
	}
}

// ParseOperation canonicalizes s into an Operation. Matching is
// case-insensitive and ignores surrounding whitespace so both enum-rendered
// and raw wire strings land on the same stored value.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// Valid reports whether op is one of the declared operations.
func (op Operation) Valid() bool {
	switch op {
	case OpExtract, OpIndex, OpAnswerPrompt, OpSinglePassExtraction, OpSummarize, OpAgenticExtraction:
		return true
	}
	return false
}

// String returns the canonical wire value.
func (op Operation) String() string { return string(op) }
