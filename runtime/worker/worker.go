// Package worker binds the execution orchestrator to a task backend. It
// registers one backend task per operation, decoding the wire context,
// running the orchestrator, and encoding the result back onto the wire. A
// handler returns an error only when the payload cannot be decoded or the
// result cannot be encoded; executor failures travel inside the result.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/docstruct/docstruct/runtime/backend"
	"github.com/docstruct/docstruct/runtime/dispatch"
	"github.com/docstruct/docstruct/runtime/execution"
	"github.com/docstruct/docstruct/runtime/telemetry"
)

type (
	// Worker consumes execution tasks from a backend.
	Worker struct {
		backend      backend.Backend
		orchestrator *execution.Orchestrator
		logger       telemetry.Logger
		queues       []string
		concurrency  int
	}

	// Option configures a Worker.
	Option func(*Worker)
)

// WithLogger overrides the no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New constructs a Worker and registers a backend task named
// "execute_<operation>" for every operation. cfg supplies the queues and
// concurrency the worker consumes with.
func New(b backend.Backend, orch *execution.Orchestrator, cfg backend.Config, opts ...Option) (*Worker, error) {
	if b == nil {
		return nil, errors.New("task backend is required")
	}
	if orch == nil {
		return nil, errors.New("orchestrator is required")
	}
	w := &Worker{
		backend:      b,
		orchestrator: orch,
		logger:       telemetry.NewNoopLogger(),
		queues:       cfg.Queues,
		concurrency:  cfg.Concurrency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if len(w.queues) == 0 {
		w.queues = []string{dispatch.ExecutorQueue}
	}
	for _, op := range execution.Operations() {
		if err := b.RegisterTask(dispatch.TaskName(op), w.handler()); err != nil {
			return nil, fmt.Errorf("register task for operation %q: %w", op, err)
		}
	}
	return w, nil
}

// Run blocks consuming tasks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info(ctx, "worker starting",
		"queues", fmt.Sprintf("%v", w.queues), "concurrency", w.concurrency)
	return w.backend.RunWorker(ctx, w.queues, w.concurrency)
}

// handler adapts the orchestrator to the backend handler signature. Every
// operation shares one handler; the context names its own operation.
func (w *Worker) handler() backend.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		ec, err := execution.ContextFromWire(payload)
		if err != nil {
			return nil, fmt.Errorf("decode execution context: %w", err)
		}
		res := w.orchestrator.Execute(ctx, ec)
		wire, err := res.ToWire()
		if err != nil {
			return nil, fmt.Errorf("encode execution result: %w", err)
		}
		return wire, nil
	}
}
