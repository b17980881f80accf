// Package backend abstracts the task queue broker behind one uniform
// interface so a worker binds to Redis streams, Temporal, or an in-process
// queue without the execution kernel knowing which. The wire contract is
// identical across backends: task payloads and results are single JSON
// documents.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrResultTimeout reports that a result wait exceeded its deadline. Callers
// translate it into a failed execution result; the task may still complete on
// the worker afterwards.
var ErrResultTimeout = errors.New("timed out waiting for task result")

// ErrNotConnected reports an operation against a backend whose Connect has
// not succeeded.
var ErrNotConnected = errors.New("task backend is not connected")

type (
	// Handler processes one task payload and returns the result payload.
	Handler func(ctx context.Context, payload []byte) ([]byte, error)

	// Handle identifies one submitted task.
	Handle struct {
		// TaskID is the backend-assigned identifier.
		TaskID string
		// Name is the task name the handle was submitted under.
		Name string
		// Queue is the queue the task was routed to.
		Queue string
	}

	// Backend is the uniform submit/register/run-worker surface over a queue
	// broker. Implementations own their broker connections and pooling.
	Backend interface {
		// Connect dials the broker. Safe to call once at startup; operations
		// before a successful Connect fail with ErrNotConnected.
		Connect(ctx context.Context) error
		// RegisterTask binds fn under name. Duplicate names fail loudly.
		RegisterTask(name string, fn Handler) error
		// SendTask submits one payload under name onto queue.
		SendTask(ctx context.Context, name, queue string, payload []byte) (Handle, error)
		// Result blocks until the task completes or timeout elapses. A
		// deadline overrun yields ErrResultTimeout; a remote handler error is
		// returned as-is.
		Result(ctx context.Context, h Handle, timeout time.Duration) ([]byte, error)
		// RunWorker consumes the queues until ctx is canceled. Concurrency is
		// the worker slot count; each slot executes one task at a time.
		RunWorker(ctx context.Context, queues []string, concurrency int) error
		// Connected reports whether the broker connection is established.
		Connected() bool
	}
)
