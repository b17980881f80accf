package execution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedExecutor struct {
	name string
	run  func(ctx context.Context, ec Context) Result
}

func (e *scriptedExecutor) Name() string { return e.name }

func (e *scriptedExecutor) Execute(ctx context.Context, ec Context) Result {
	return e.run(ctx, ec)
}

func registryWith(t *testing.T, name string, run func(ctx context.Context, ec Context) Result) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(func() Executor { return &scriptedExecutor{name: name, run: run} })
	return reg
}

func testContext(t *testing.T) Context {
	t.Helper()
	ec, err := NewContext("legacy", OpExtract, "run-1", SourceTool)
	require.NoError(t, err)
	return ec
}

func TestOrchestratorUnknownExecutor(t *testing.T) {
	t.Parallel()

	orch := NewOrchestrator(NewRegistry())
	res := orch.Execute(context.Background(), testContext(t))

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "no such executor")
}

func TestOrchestratorTrapsPanics(t *testing.T) {
	t.Parallel()

	reg := registryWith(t, "legacy", func(context.Context, Context) Result {
		panic(errors.New("adapter exploded"))
	})
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	ticks := 0
	orch := NewOrchestrator(reg, WithClock(func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks-1) * 2 * time.Second)
	}))

	res := orch.Execute(context.Background(), testContext(t))

	require.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "*errors.errorString: "), "got %q", res.Error)
	assert.Contains(t, res.Error, "adapter exploded")
	require.NotNil(t, res.Metadata)
	elapsed, ok := res.Metadata["elapsed_seconds"].(float64)
	require.True(t, ok, "elapsed_seconds missing: %v", res.Metadata)
	assert.Greater(t, elapsed, 0.0)
}

func TestOrchestratorTrapsNonErrorPanics(t *testing.T) {
	t.Parallel()

	reg := registryWith(t, "legacy", func(context.Context, Context) Result {
		panic("boom")
	})
	orch := NewOrchestrator(reg)

	res := orch.Execute(context.Background(), testContext(t))

	require.False(t, res.Success)
	assert.Equal(t, "string: boom", res.Error)
}

func TestOrchestratorPassesFailuresThroughUnwrapped(t *testing.T) {
	t.Parallel()

	graceful := Failure("ExtractionError: no text layer", map[string]any{"adapter": "x2text"})
	reg := registryWith(t, "legacy", func(context.Context, Context) Result {
		return graceful
	})
	orch := NewOrchestrator(reg)

	res := orch.Execute(context.Background(), testContext(t))

	assert.Equal(t, graceful, res, "graceful failure must not be double-wrapped")
}

func TestOrchestratorReturnsSuccessAsIs(t *testing.T) {
	t.Parallel()

	ok := Succeed(map[string]any{"extracted_text": "Revenue is $1M"}, map[string]any{"elapsed_seconds": 0.5})
	reg := registryWith(t, "legacy", func(context.Context, Context) Result {
		return ok
	})
	orch := NewOrchestrator(reg)

	res := orch.Execute(context.Background(), testContext(t))

	assert.Equal(t, ok, res)
}

func TestOrchestratorNilRegistryUsesDefault(t *testing.T) {
	// Not parallel: mutates the process-wide default registry.
	Default().Clear()
	defer Default().Clear()
	MustRegister(func() Executor {
		return &scriptedExecutor{name: "legacy", run: func(context.Context, Context) Result {
			return Succeed(nil, nil)
		}}
	})

	orch := NewOrchestrator(nil)
	res := orch.Execute(context.Background(), testContext(t))
	assert.True(t, res.Success)
}
