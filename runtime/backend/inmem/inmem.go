// Package inmem provides an in-process task backend for development and
// tests. Tasks submitted with SendTask queue onto buffered per-queue channels
// and execute on worker goroutines; Result waits on a per-task completion
// channel. Nothing is durable.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docstruct/docstruct/runtime/backend"
)

type (
	// Backend implements backend.Backend in-process.
	Backend struct {
		mu       sync.RWMutex
		handlers map[string]backend.Handler
		queues   map[string]chan *task
		results  map[string]*result
		open     bool

		// queueDepth bounds pending tasks per queue.
		queueDepth int
	}

	task struct {
		id      string
		name    string
		payload []byte
	}

	result struct {
		done    chan struct{}
		payload []byte
		err     error
	}

	// Option configures the in-memory backend.
	Option func(*Backend)
)

// WithQueueDepth overrides the per-queue buffer (default 128).
func WithQueueDepth(depth int) Option {
	return func(b *Backend) {
		if depth > 0 {
			b.queueDepth = depth
		}
	}
}

// New constructs an in-memory backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		handlers:   make(map[string]backend.Handler),
		queues:     make(map[string]chan *task),
		results:    make(map[string]*result),
		queueDepth: 128,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Connect implements backend.Backend.
func (b *Backend) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = true
	return nil
}

// Connected implements backend.Backend.
func (b *Backend) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.open
}

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
	if !b.Connected() {
		return backend.Handle{}, backend.ErrNotConnected
	}
	if queue == "" {
		return backend.Handle{}, errors.New("queue name must not be empty")
	}
	t := &task{id: uuid.NewString(), name: name, payload: payload}
	b.mu.Lock()
	b.results[t.id] = &result{done: make(chan struct{})}
	ch := b.queue(queue)
	b.mu.Unlock()

	select {
	case ch <- t:
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.results, t.id)
		b.mu.Unlock()
		return backend.Handle{}, ctx.Err()
	}
	return backend.Handle{TaskID: t.id, Name: name, Queue: queue}, nil
}

// Result implements backend.Backend.
func (b *Backend) Result(ctx context.Context, h backend.Handle, timeout time.Duration) ([]byte, error) {
	b.mu.RLock()
	res, ok := b.results[h.TaskID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown task %q", h.TaskID)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-res.done:
	case <-timer.C:
		return nil, backend.ErrResultTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	b.mu.Lock()
	delete(b.results, h.TaskID)
	b.mu.Unlock()
	return res.payload, res.err
}

// RunWorker implements backend.Backend. It spawns concurrency goroutines per
// queue and blocks until ctx is canceled.
func (b *Backend) RunWorker(ctx context.Context, queues []string, concurrency int) error {
	if !b.Connected() {
		return backend.ErrNotConnected
	}
	if concurrency < 1 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for _, q := range queues {
		b.mu.Lock()
		ch := b.queue(q)
		b.mu.Unlock()
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func(ch chan *task) {
				defer wg.Done()
				b.consume(ctx, ch)
			}(ch)
		}
	}
	wg.Wait()
	return ctx.Err()
}

func (b *Backend) consume(ctx context.Context, ch chan *task) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ch:
			b.run(ctx, t)
		}
	}
}

func (b *Backend) run(ctx context.Context, t *task) {
	b.mu.RLock()
	fn, ok := b.handlers[t.name]
	res := b.results[t.id]
	b.mu.RUnlock()
	if res == nil {
		return
	}
	if !ok {
		res.err = fmt.Errorf("no handler registered for task %q", t.name)
		close(res.done)
		return
	}
	payload, err := fn(ctx, t.payload)
	res.payload = payload
	res.err = err
	close(res.done)
}

// queue returns the channel for q, creating it if needed. Callers hold b.mu.
func (b *Backend) queue(q string) chan *task {
	ch, ok := b.queues[q]
	if !ok {
		ch = make(chan *task, b.queueDepth)
		b.queues[q] = ch
	}
	return ch
}
