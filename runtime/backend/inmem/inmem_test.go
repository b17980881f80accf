package inmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docstruct/docstruct/runtime/backend"
)

func TestSendTaskRoundTrip(t *testing.T) {
	t.Parallel()

	b := New()
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := b.RegisterTask("echo", func(_ context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.RunWorker(ctx, []string{"q"}, 2) }()

	h, err := b.SendTask(ctx, "echo", "q", []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := b.Result(ctx, h, time.Second)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if string(got) != `{"n":1}` {
		t.Fatalf("payload = %q, want %q", got, `{"n":1}`)
	}
}

func TestDuplicateTaskRegistrationFails(t *testing.T) {
	t.Parallel()

	b := New()
	h := func(context.Context, []byte) ([]byte, error) { return nil, nil }
	if err := b.RegisterTask("once", h); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := b.RegisterTask("once", h); err == nil {
		t.Fatal("second register succeeded, want error")
	}
}

func TestSendBeforeConnectFails(t *testing.T) {
	t.Parallel()

	b := New()
	_, err := b.SendTask(context.Background(), "echo", "q", nil)
	if !errors.Is(err, backend.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestResultTimeout(t *testing.T) {
	t.Parallel()

	b := New()
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := b.RegisterTask("slow", func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.RunWorker(ctx, []string{"q"}, 1) }()

	h, err := b.SendTask(ctx, "slow", "q", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	_, err = b.Result(ctx, h, 20*time.Millisecond)
	if !errors.Is(err, backend.ErrResultTimeout) {
		t.Fatalf("err = %v, want ErrResultTimeout", err)
	}
}

func TestHandlerErrorPropagates(t *testing.T) {
	t.Parallel()

	b := New()
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	boom := errors.New("decode failed")
	if err := b.RegisterTask("bad", func(context.Context, []byte) ([]byte, error) {
		return nil, boom
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.RunWorker(ctx, []string{"q"}, 1) }()

	h, err := b.SendTask(ctx, "bad", "q", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err = b.Result(ctx, h, time.Second); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
