package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/docstruct/docstruct/runtime/telemetry"
)

type (
	// Orchestrator performs in-process dispatch: registry lookup, panic
	// trapping, and elapsed-time accounting. It is what the worker-side task
	// wraps: the worker decodes wire bytes, calls Execute, and encodes the
	// result back.
	Orchestrator struct {
		registry *Registry
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		now      func() time.Time
	}

	// OrchestratorOption configures an Orchestrator.
	OrchestratorOption func(*Orchestrator)
)

// WithLogger overrides the no-op logger.
func WithLogger(l telemetry.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics overrides the no-op metrics recorder.
func WithMetrics(m telemetry.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source. Test support.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator constructs an orchestrator over reg. A nil registry binds
// the process-wide default.
func NewOrchestrator(reg *Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		now:      time.Now,
	}
	if o.registry == nil {
		o.registry = Default()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Execute resolves the executor named by ec and runs it. The contract:
// an unknown executor yields a failed result, a panicking handler yields a
// failed result carrying elapsed_seconds metadata, a graceful failure from
// the handler passes through unwrapped, and a successful result is returned
// as-is. Execute itself never panics.
func (o *Orchestrator) Execute(ctx context.Context, ec Context) (res Result) {
	start := o.now()
	exec, err := o.registry.Get(ec.ExecutorName)
	if err != nil {
		o.logger.Warn(ctx, "executor lookup failed",
			"executor", ec.ExecutorName, "operation", string(ec.Operation), "run_id", ec.RunID)
		return Failure(err.Error(), nil)
	}
	defer func() {
		elapsed := o.now().Sub(start)
		if r := recover(); r != nil {
			res = Failure(panicMessage(r), map[string]any{
				"elapsed_seconds": elapsed.Seconds(),
			})
			o.logger.Error(ctx, "executor panicked",
				"executor", ec.ExecutorName, "operation", string(ec.Operation),
				"run_id", ec.RunID, "panic", res.Error)
		}
		status := "success"
		if !res.Success {
			status = "failure"
		}
		o.metrics.IncCounter("executor_executions", 1, "operation", string(ec.Operation), "status", status)
		o.metrics.RecordTimer("executor_execution_duration", elapsed, "operation", string(ec.Operation))
	}()
	return exec.Execute(ctx, ec)
}

// panicMessage renders a recovered panic value as "<type>: <message>".
func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return fmt.Sprintf("%T: %s", err, err.Error())
	}
	return fmt.Sprintf("%T: %v", r, r)
}
