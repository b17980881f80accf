// Package temporal implements the task backend on Temporal. Every submitted
// task runs as one execution of a generic task workflow that schedules the
// named handler as an activity, so task handlers keep their plain
// payload-in/payload-out signature and Temporal supplies durability and
// retries.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/docstruct/docstruct/runtime/backend"
	"github.com/docstruct/docstruct/runtime/telemetry"
)

const (
	// taskWorkflowName is the generic workflow wrapping every task handler.
	taskWorkflowName = "execute_task"

	// Soft and hard task limits. The activity gets the soft limit per
	// attempt and the hard limit overall, including retries.
	softTaskLimit = 7000 * time.Second
	hardTaskLimit = 7200 * time.Second
)

type (
	// Backend implements backend.Backend on Temporal.
	Backend struct {
		cfg    backend.TemporalConfig
		logger telemetry.Logger

		mu       sync.RWMutex
		client   client.Client
		handlers map[string]backend.Handler
		open     bool

		disableInstrumentation bool
	}

	// Option configures the backend.
	Option func(*Backend)

	// taskInput is the workflow argument.
	taskInput struct {
		Name    string `json:"name"`
		Payload []byte `json:"payload"`
	}
)

// WithLogger overrides the no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithoutInstrumentation skips the OTEL tracing interceptor and metrics
// handler. Test support.
func WithoutInstrumentation() Option {
	return func(b *Backend) { b.disableInstrumentation = true }
}

// New constructs a Temporal backend from cfg. The server is not dialed until
// Connect.
func New(cfg backend.TemporalConfig, opts ...Option) (*Backend, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, errors.New("temporal host and port are required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("temporal namespace is required")
	}
	b := &Backend{
		cfg:      cfg,
		logger:   telemetry.NewNoopLogger(),
		handlers: make(map[string]backend.Handler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Connect implements backend.Backend. The client is lazy: the connection is
// established on first use, so Connect validates options and constructs the
// client without requiring the server to be up yet.
func (b *Backend) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return nil
	}
	opts := client.Options{
		HostPort:  fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port),
		Namespace: b.cfg.Namespace,
	}
	if !b.disableInstrumentation {
		tracing, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return fmt.Errorf("temporal tracing interceptor: %w", err)
		}
		opts.Interceptors = append(opts.Interceptors, tracing)
		opts.MetricsHandler = temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{})
	}
	cli, err := client.NewLazyClient(opts)
	if err != nil {
		return fmt.Errorf("create temporal client: %w", err)
	}
	b.client = cli
	b.open = true
	return nil
}

// Connected implements backend.Backend.
func (b *Backend) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.open
}

// Ping satisfies goa.design/clue/health.Pinger for the dependencies probe.
func (b *Backend) Ping(ctx context.Context) error {
	b.mu.RLock()
	cli := b.client
	b.mu.RUnlock()
	if cli == nil {
		return backend.ErrNotConnected
	}
	_, err := cli.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err
}

// Name satisfies goa.design/clue/health.Pinger.
func (b *Backend) Name() string { return "task-backend-temporal" }

// RegisterTask implements backend.Backend.
func (b *Backend) RegisterTask(name string, fn backend.Handler) error {
	if name == "" {
		return errors.New("task name must not be empty")
	}
	if fn == nil {
		return errors.New("task handler must not be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.handlers[name]; dup {
		return fmt.Errorf("task %q already registered", name)
	}
	b.handlers[name] = fn
	return nil
}

// SendTask implements backend.Backend.
func (b *Backend) SendTask(ctx context.Context, name, queue string, payload []byte) (backend.Handle, error) {
	b.mu.RLock()
	cli := b.client
	open := b.open
	b.mu.RUnlock()
	if !open {
		return backend.Handle{}, backend.ErrNotConnected
	}
	if queue == "" {
		return backend.Handle{}, errors.New("queue name must not be empty")
	}
	run, err := cli.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       fmt.Sprintf("task-%s-%s", name, uuid.NewString()),
		TaskQueue:                queue,
		WorkflowExecutionTimeout: hardTaskLimit,
	}, taskWorkflowName, taskInput{Name: name, Payload: payload})
	if err != nil {
		return backend.Handle{}, fmt.Errorf("start task workflow %q: %w", name, err)
	}
	return backend.Handle{TaskID: run.GetID() + "/" + run.GetRunID(), Name: name, Queue: queue}, nil
}

// Result implements backend.Backend.
func (b *Backend) Result(ctx context.Context, h backend.Handle, timeout time.Duration) ([]byte, error) {
	b.mu.RLock()
	cli := b.client
	open := b.open
	b.mu.RUnlock()
	if !open {
		return nil, backend.ErrNotConnected
	}
	workflowID, runID := splitTaskID(h.TaskID)
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var payload []byte
	err := cli.GetWorkflow(waitCtx, workflowID, runID).Get(waitCtx, &payload)
	switch {
	case err == nil:
		return payload, nil
	case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
		return nil, backend.ErrResultTimeout
	default:
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("unknown task %q", h.TaskID)
		}
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) {
			return nil, errors.New(appErr.Message())
		}
		return nil, err
	}
}

// RunWorker implements backend.Backend. One Temporal worker is started per
// queue; all registered tasks are available on every queue.
func (b *Backend) RunWorker(ctx context.Context, queues []string, concurrency int) error {
	b.mu.RLock()
	cli := b.client
	open := b.open
	handlers := make(map[string]backend.Handler, len(b.handlers))
	for name, fn := range b.handlers {
		handlers[name] = fn
	}
	b.mu.RUnlock()
	if !open {
		return backend.ErrNotConnected
	}
	if len(queues) == 0 {
		return errors.New("at least one queue is required")
	}
	if concurrency < 1 {
		concurrency = 1
	}

	workers := make([]worker.Worker, 0, len(queues))
	for _, q := range queues {
		w := worker.New(cli, q, worker.Options{
			MaxConcurrentActivityExecutionSize:     concurrency,
			MaxConcurrentWorkflowTaskExecutionSize: concurrency,
		})
		w.RegisterWorkflowWithOptions(taskWorkflow, workflow.RegisterOptions{Name: taskWorkflowName})
		for name, fn := range handlers {
			w.RegisterActivityWithOptions(activityFor(fn), activity.RegisterOptions{Name: name})
		}
		if err := w.Start(); err != nil {
			for _, started := range workers {
				started.Stop()
			}
			return fmt.Errorf("start worker for queue %q: %w", q, err)
		}
		workers = append(workers, w)
	}
	<-ctx.Done()
	for _, w := range workers {
		w.Stop()
	}
	return ctx.Err()
}

// taskWorkflow schedules the named handler activity on the workflow's own
// task queue and returns its result payload.
func taskWorkflow(wctx workflow.Context, in taskInput) ([]byte, error) {
	actx := workflow.WithActivityOptions(wctx, workflow.ActivityOptions{
		StartToCloseTimeout:    softTaskLimit,
		ScheduleToCloseTimeout: hardTaskLimit,
		RetryPolicy:            &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var payload []byte
	if err := workflow.ExecuteActivity(actx, in.Name, in.Payload).Get(actx, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func activityFor(fn backend.Handler) func(context.Context, []byte) ([]byte, error) {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		return fn(ctx, payload)
	}
}

func splitTaskID(taskID string) (workflowID, runID string) {
	for i := 0; i < len(taskID); i++ {
		if taskID[i] == '/' {
			return taskID[:i], taskID[i+1:]
		}
	}
	return taskID, ""
}
