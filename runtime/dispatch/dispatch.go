// Package dispatch submits execution contexts across the process boundary:
// it serializes the context, routes it onto the queue that owns the
// operation, blocks on the result with a timeout, and deserializes. A failed
// or timed-out remote task comes back as a failed result, never as an error;
// Dispatch returns a non-result error only when the dispatcher was
// constructed without a backend.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/docstruct/docstruct/runtime/backend"
	"github.com/docstruct/docstruct/runtime/execution"
	"github.com/docstruct/docstruct/runtime/telemetry"
)

// Queue names. The operation → queue table is a stable wire contract.
const (
	// ExecutorQueue carries every operation the legacy executor owns.
	ExecutorQueue = "executor"
	// AgenticExecutorQueue carries agentic extraction only.
	AgenticExecutorQueue = "agentic_executor"
)

// EnvResultTimeout overrides the default result wait, in seconds.
const EnvResultTimeout = "EXECUTOR_RESULT_TIMEOUT"

// DefaultResultTimeout applies when neither an explicit option nor the
// environment sets one.
const DefaultResultTimeout = 3600 * time.Second

// QueueFor returns the queue that owns op.
func QueueFor(op execution.Operation) string {
	if op == execution.OpAgenticExtraction {
		return AgenticExecutorQueue
	}
	return ExecutorQueue
}

// TaskName returns the wire task name for op: "execute_<operation>".
func TaskName(op execution.Operation) string {
	return "execute_" + string(op)
}

type (
	// Dispatcher performs cross-process dispatch over a task backend.
	Dispatcher struct {
		backend backend.Backend
		logger  telemetry.Logger
		now     func() time.Time
	}

	// Option configures a Dispatcher.
	Option func(*Dispatcher)

	// DispatchOption customizes one Dispatch call.
	DispatchOption func(*dispatchConfig)

	dispatchConfig struct {
		timeout time.Duration
	}
)

// WithLogger overrides the no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock overrides the time source. Test support.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithTimeout sets an explicit result wait for one Dispatch call. It takes
// precedence over EXECUTOR_RESULT_TIMEOUT and the default.
func WithTimeout(timeout time.Duration) DispatchOption {
	return func(c *dispatchConfig) { c.timeout = timeout }
}

// New constructs a Dispatcher over b.
func New(b backend.Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend: b,
		logger:  telemetry.NewNoopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch submits ec and blocks until the result arrives or the timeout
// elapses. Timeouts, broker errors, and remote failures come back as failed
// results carrying elapsed_seconds metadata.
func (d *Dispatcher) Dispatch(ctx context.Context, ec execution.Context, opts ...DispatchOption) (execution.Result, error) {
	if d.backend == nil {
		return execution.Result{}, errors.New("dispatcher has no task backend configured")
	}
	cfg := dispatchConfig{timeout: resolveTimeout()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	start := d.now()
	handle, err := d.submit(ctx, ec)
	if err != nil {
		return d.failure(err, start), nil
	}
	payload, err := d.backend.Result(ctx, handle, cfg.timeout)
	if err != nil {
		if errors.Is(err, backend.ErrResultTimeout) {
			err = fmt.Errorf("TimeoutError: task %s exceeded %s waiting for result", handle.Name, cfg.timeout)
			return execution.Failure(err.Error(), d.metadata(start)), nil
		}
		return d.failure(err, start), nil
	}
	res, err := execution.ResultFromWire(payload)
	if err != nil {
		return d.failure(err, start), nil
	}
	return res, nil
}

// DispatchAsync submits ec without waiting and returns the backend task ID.
func (d *Dispatcher) DispatchAsync(ctx context.Context, ec execution.Context) (string, error) {
	if d.backend == nil {
		return "", errors.New("dispatcher has no task backend configured")
	}
	handle, err := d.submit(ctx, ec)
	if err != nil {
		return "", err
	}
	return handle.TaskID, nil
}

func (d *Dispatcher) submit(ctx context.Context, ec execution.Context) (backend.Handle, error) {
	wire, err := ec.ToWire()
	if err != nil {
		return backend.Handle{}, err
	}
	queue := QueueFor(ec.Operation)
	name := TaskName(ec.Operation)
	d.logger.Debug(ctx, "dispatching task",
		"task", name, "queue", queue, "run_id", ec.RunID, "request_id", ec.RequestID)
	return d.backend.SendTask(ctx, name, queue, wire)
}

// failure renders err as "<type>: <message>" like a trapped handler panic so
// callers see one failure shape regardless of which side failed.
func (d *Dispatcher) failure(err error, start time.Time) execution.Result {
	return execution.Failure(fmt.Sprintf("%T: %s", err, err.Error()), d.metadata(start))
}

func (d *Dispatcher) metadata(start time.Time) map[string]any {
	return map[string]any{"elapsed_seconds": d.now().Sub(start).Seconds()}
}

// resolveTimeout reads EXECUTOR_RESULT_TIMEOUT (seconds) and falls back to
// the default.
func resolveTimeout() time.Duration {
	if v := os.Getenv(EnvResultTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return DefaultResultTimeout
}
