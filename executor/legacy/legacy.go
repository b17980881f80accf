// Package legacy implements the operation state machine behind the
// "executor" queue. One executor instance handles exactly one execution; the
// registry hands out a fresh instance per dispatch so handlers can keep
// per-run scratch state without locking.
package legacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/docstruct/docstruct/adapter"
	"github.com/docstruct/docstruct/executor/prompt"
	"github.com/docstruct/docstruct/executor/retrieval"
	"github.com/docstruct/docstruct/runtime/execution"
	"github.com/docstruct/docstruct/runtime/logstream"
	"github.com/docstruct/docstruct/runtime/telemetry"
	"github.com/docstruct/docstruct/storage"
)

// ExecutorName is the registry name dispatch contexts select.
const ExecutorName = "legacy"

type (
	// Error is the typed failure envelope handlers raise for declared
	// failures. It maps to a failed result; any other error is rendered with
	// its type prefix like a trapped panic.
	Error struct {
		Message string
		Code    string
	}

	// Deps carries the executor's collaborators. Factory is required.
	Deps struct {
		Factory   adapter.Factory
		Roots     storage.Roots
		Retrieval *retrieval.Service
		Logger    telemetry.Logger
		Publisher logstream.Publisher
		// Highlight, when set, post-processes raw JSON answers for prompts
		// whose tool settings enable highlighting.
		Highlight prompt.HighlightHook
	}

	// Executor dispatches operations through a fixed handler map.
	Executor struct {
		deps Deps
	}

	handler func(ctx context.Context, ec execution.Context) (map[string]any, error)
)

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// Errorf constructs an *Error from a format string.
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// New constructs an Executor. Nil optional deps default to no-ops.
func New(deps Deps) *Executor {
	if deps.Retrieval == nil {
		deps.Retrieval = retrieval.New()
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}
	if deps.Publisher == nil {
		deps.Publisher = logstream.NewNoopPublisher()
	}
	return &Executor{deps: deps}
}

// Register installs a fresh-instance factory for this executor on reg.
func Register(reg *execution.Registry, deps Deps) error {
	return reg.Register(func() execution.Executor { return New(deps) })
}

// Name implements execution.Executor.
func (e *Executor) Name() string { return ExecutorName }

// Execute implements execution.Executor. Declared failures return as failed
// results; programming errors panic and are trapped by the orchestrator.
func (e *Executor) Execute(ctx context.Context, ec execution.Context) execution.Result {
	h, ok := e.handlers()[ec.Operation]
	if !ok {
		return execution.Failuref("unsupported operation %q", ec.Operation)
	}
	data, err := h(ctx, ec)
	if err != nil {
		var le *Error
		if errors.As(err, &le) {
			var meta map[string]any
			if le.Code != "" {
				meta = map[string]any{"code": le.Code}
			}
			return execution.Failure(le.Message, meta)
		}
		return execution.Failure(fmt.Sprintf("%T: %s", err, err.Error()), nil)
	}
	return execution.Succeed(data, nil)
}

func (e *Executor) handlers() map[execution.Operation]handler {
	return map[execution.Operation]handler{
		execution.OpExtract:              e.extract,
		execution.OpIndex:                e.index,
		execution.OpAnswerPrompt:         e.answerPrompt,
		execution.OpSinglePassExtraction: e.answerPrompt,
		execution.OpSummarize:            e.summarize,
		execution.OpAgenticExtraction:    e.agenticExtraction,
	}
}

// agenticExtraction stays a declared operation so queue routing is stable,
// but the agentic runtime ships as a separate plugin.
func (e *Executor) agenticExtraction(context.Context, execution.Context) (map[string]any, error) {
	return nil, &Error{Message: "agentic_extraction requires the agentic plugin, which is not yet available"}
}
