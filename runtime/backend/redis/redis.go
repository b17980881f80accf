// Package redis implements the task backend over Redis streams via
// goa.design/pulse. Each queue is one stream; workers join a shared consumer
// group so a task is delivered to exactly one worker. Results travel on a
// short-lived per-task reply stream that the submitter destroys after the
// result arrives.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	"goa.design/pulse/streaming/options"

	"github.com/docstruct/docstruct/features/pulse"
	"github.com/docstruct/docstruct/runtime/backend"
	"github.com/docstruct/docstruct/runtime/telemetry"
)

const (
	// workerGroup is the consumer group queue streams are read through. A
	// stable name keeps pending entries owned across worker restarts.
	workerGroup = "executor-workers"
	// resultEventKey names the canonical result event on reply streams.
	resultEventKey = "result"
)

type (
	// Backend implements backend.Backend over Redis streams.
	Backend struct {
		cfg    backend.RedisConfig
		logger telemetry.Logger

		mu       sync.RWMutex
		redis    *goredis.Client
		client   pulse.Client
		handlers map[string]backend.Handler
		open     bool
	}

	// Option configures the backend.
	Option func(*Backend)

	// taskEnvelope is the queue wire format.
	taskEnvelope struct {
		TaskID  string          `json:"task_id"`
		Name    string          `json:"name"`
		Payload json.RawMessage `json:"payload"`
	}

	// resultEnvelope is the reply wire format.
	resultEnvelope struct {
		TaskID  string          `json:"task_id"`
		Payload json.RawMessage `json:"payload,omitempty"`
		Error   string          `json:"error,omitempty"`
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

// New constructs a Redis streams backend from cfg. The broker is not dialed
// until Connect.
func New(cfg backend.RedisConfig, opts ...Option) (*Backend, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("redis broker URL is required")
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

// Connect implements backend.Backend.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return nil
	}
	ropts, err := goredis.ParseURL(b.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse redis broker URL: %w", err)
	}
	rdb := goredis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("ping redis broker: %w", err)
	}
	client, err := pulse.New(pulse.Options{Redis: rdb, StreamMaxLen: b.cfg.StreamMaxLen})
	if err != nil {
		_ = rdb.Close()
		return err
	}
	b.redis = rdb
	b.client = client
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
	rdb := b.redis
	b.mu.RUnlock()
	if rdb == nil {
		return backend.ErrNotConnected
	}
	return rdb.Ping(ctx).Err()
}

// Name satisfies goa.design/clue/health.Pinger.
func (b *Backend) Name() string { return "task-backend-redis" }

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
	client, err := b.pulseClient()
	if err != nil {
		return backend.Handle{}, err
	}
	if queue == "" {
		return backend.Handle{}, errors.New("queue name must not be empty")
	}
	env := taskEnvelope{TaskID: uuid.NewString(), Name: name, Payload: payload}
	body, err := json.Marshal(env)
	if err != nil {
		return backend.Handle{}, fmt.Errorf("encode task envelope: %w", err)
	}
	stream, err := client.Stream(queueStream(queue))
	if err != nil {
		return backend.Handle{}, err
	}
	if _, err := stream.Add(ctx, name, body); err != nil {
		return backend.Handle{}, fmt.Errorf("submit task %q to queue %q: %w", name, queue, err)
	}
	return backend.Handle{TaskID: env.TaskID, Name: name, Queue: queue}, nil
}

// Result implements backend.Backend. It subscribes to the task's reply
// stream starting at the oldest event so a result published before the sink
// existed is not missed, and destroys the stream once the result is read.
func (b *Backend) Result(ctx context.Context, h backend.Handle, timeout time.Duration) ([]byte, error) {
	client, err := b.pulseClient()
	if err != nil {
		return nil, err
	}
	stream, err := client.Stream(replyStream(h.TaskID))
	if err != nil {
		return nil, err
	}
	sink, err := stream.NewSink(ctx, "submitter", options.WithSinkStartAtOldest())
	if err != nil {
		return nil, fmt.Errorf("create sink for reply stream of task %q: %w", h.TaskID, err)
	}
	defer sink.Close(ctx)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	events := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, backend.ErrResultTimeout
		case ev, ok := <-events:
			if !ok {
				return nil, errors.New("reply stream subscription closed")
			}
			if ev.EventName != resultEventKey {
				if err := sink.Ack(ctx, ev); err != nil {
					return nil, fmt.Errorf("ack non-result event: %w", err)
				}
				continue
			}
			var res resultEnvelope
			if err := json.Unmarshal(ev.Payload, &res); err != nil {
				if ackErr := sink.Ack(ctx, ev); ackErr != nil {
					return nil, fmt.Errorf("ack malformed result: %w", ackErr)
				}
				continue
			}
			if res.TaskID != h.TaskID {
				if err := sink.Ack(ctx, ev); err != nil {
					return nil, fmt.Errorf("ack unrelated result: %w", err)
				}
				continue
			}
			if err := sink.Ack(ctx, ev); err != nil {
				return nil, fmt.Errorf("ack result: %w", err)
			}
			if err := stream.Destroy(ctx); err != nil {
				b.logger.Warn(ctx, "destroy reply stream failed", "task_id", h.TaskID, "error", err.Error())
			}
			if res.Error != "" {
				return nil, errors.New(res.Error)
			}
			return res.Payload, nil
		}
	}
}

// RunWorker implements backend.Backend. Each queue gets one consumer-group
// sink shared by concurrency goroutines, so one task is delivered to one
// worker slot.
func (b *Backend) RunWorker(ctx context.Context, queues []string, concurrency int) error {
	client, err := b.pulseClient()
	if err != nil {
		return err
	}
	if len(queues) == 0 {
		return errors.New("at least one queue is required")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for _, q := range queues {
		stream, err := client.Stream(queueStream(q))
		if err != nil {
			return err
		}
		sink, err := stream.NewSink(ctx, workerGroup)
		if err != nil {
			return fmt.Errorf("create worker sink for queue %q: %w", q, err)
		}
		events := sink.Subscribe()
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func(queue string, sink pulse.Sink, events <-chan *streaming.Event) {
				defer wg.Done()
				b.consume(ctx, queue, sink, events)
			}(q, sink, events)
		}
		defer sink.Close(context.Background())
	}
	wg.Wait()
	return ctx.Err()
}

func (b *Backend) consume(ctx context.Context, queue string, sink pulse.Sink, events <-chan *streaming.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.handle(ctx, queue, ev)
			if err := sink.Ack(ctx, ev); err != nil {
				b.logger.Error(ctx, "ack task event failed", "queue", queue, "error", err.Error())
			}
		}
	}
}

func (b *Backend) handle(ctx context.Context, queue string, ev *streaming.Event) {
	var env taskEnvelope
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		b.logger.Error(ctx, "malformed task envelope", "queue", queue, "error", err.Error())
		return
	}
	b.mu.RLock()
	fn, ok := b.handlers[env.Name]
	b.mu.RUnlock()

	res := resultEnvelope{TaskID: env.TaskID}
	if !ok {
		res.Error = fmt.Sprintf("no handler registered for task %q", env.Name)
	} else {
		payload, err := fn(ctx, env.Payload)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Payload = payload
		}
	}
	b.reply(ctx, env.TaskID, res)
}

func (b *Backend) reply(ctx context.Context, taskID string, res resultEnvelope) {
	client, err := b.pulseClient()
	if err != nil {
		b.logger.Error(ctx, "reply without broker connection", "task_id", taskID)
		return
	}
	body, err := json.Marshal(res)
	if err != nil {
		b.logger.Error(ctx, "encode result envelope failed", "task_id", taskID, "error", err.Error())
		return
	}
	stream, err := client.Stream(replyStream(taskID))
	if err != nil {
		b.logger.Error(ctx, "open reply stream failed", "task_id", taskID, "error", err.Error())
		return
	}
	if _, err := stream.Add(ctx, resultEventKey, body); err != nil {
		b.logger.Error(ctx, "publish result failed", "task_id", taskID, "error", err.Error())
	}
}

func (b *Backend) pulseClient() (pulse.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.open || b.client == nil {
		return nil, backend.ErrNotConnected
	}
	return b.client, nil
}

func queueStream(queue string) string { return "queue/" + queue }

func replyStream(taskID string) string { return "task-result/" + taskID }
