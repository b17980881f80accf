package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstruct/docstruct/runtime/backend"
	"github.com/docstruct/docstruct/runtime/execution"
)

// fakeBackend records the submitted task and plays back a scripted result.
type fakeBackend struct {
	sentName  string
	sentQueue string
	sentBody  []byte
	sendErr   error

	resultPayload []byte
	resultErr     error
	gotTimeout    time.Duration
}

func (f *fakeBackend) Connect(context.Context) error                 { return nil }
func (f *fakeBackend) Connected() bool                               { return true }
func (f *fakeBackend) RegisterTask(string, backend.Handler) error    { return nil }
func (f *fakeBackend) RunWorker(context.Context, []string, int) error { return nil }

func (f *fakeBackend) SendTask(_ context.Context, name, queue string, payload []byte) (backend.Handle, error) {
	f.sentName, f.sentQueue, f.sentBody = name, queue, payload
	if f.sendErr != nil {
		return backend.Handle{}, f.sendErr
	}
	return backend.Handle{TaskID: "task-1", Name: name, Queue: queue}, nil
}

func (f *fakeBackend) Result(_ context.Context, _ backend.Handle, timeout time.Duration) ([]byte, error) {
	f.gotTimeout = timeout
	return f.resultPayload, f.resultErr
}

func testEC(t *testing.T, op execution.Operation) execution.Context {
	t.Helper()
	ec, err := execution.NewContext("legacy", op, "run-1", execution.SourceTool)
	require.NoError(t, err)
	return ec
}

func TestQueueRouting(t *testing.T) {
	t.Parallel()

	for _, op := range []execution.Operation{
		execution.OpExtract,
		execution.OpIndex,
		execution.OpAnswerPrompt,
		execution.OpSinglePassExtraction,
		execution.OpSummarize,
	} {
		assert.Equal(t, ExecutorQueue, QueueFor(op), "operation %s", op)
	}
	assert.Equal(t, AgenticExecutorQueue, QueueFor(execution.OpAgenticExtraction))
	assert.Equal(t, "execute_answer_prompt", TaskName(execution.OpAnswerPrompt))
}

func TestDispatchRoundTrip(t *testing.T) {
	t.Parallel()

	remote := execution.Succeed(map[string]any{"extracted_text": "hello"}, nil)
	wire, err := remote.ToWire()
	require.NoError(t, err)
	fb := &fakeBackend{resultPayload: wire}
	d := New(fb)

	res, err := d.Dispatch(context.Background(), testEC(t, execution.OpExtract))

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "execute_extract", fb.sentName)
	assert.Equal(t, ExecutorQueue, fb.sentQueue)

	sent, err := execution.ContextFromWire(fb.sentBody)
	require.NoError(t, err)
	assert.Equal(t, execution.OpExtract, sent.Operation)
}

func TestDispatchAgenticQueue(t *testing.T) {
	t.Parallel()

	remote, err := execution.Succeed(nil, nil).ToWire()
	require.NoError(t, err)
	fb := &fakeBackend{resultPayload: remote}
	d := New(fb)

	_, err = d.Dispatch(context.Background(), testEC(t, execution.OpAgenticExtraction))
	require.NoError(t, err)
	assert.Equal(t, AgenticExecutorQueue, fb.sentQueue)
}

func TestDispatchTimeoutBecomesFailure(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{resultErr: backend.ErrResultTimeout}
	d := New(fb)

	res, err := d.Dispatch(context.Background(), testEC(t, execution.OpIndex), WithTimeout(5*time.Second))

	require.NoError(t, err, "timeouts must surface as failed results")
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "TimeoutError")
	assert.Contains(t, res.Error, "execute_index")
	assert.Equal(t, 5*time.Second, fb.gotTimeout)
	_, ok := res.Metadata["elapsed_seconds"]
	assert.True(t, ok)
}

func TestDispatchBrokerErrorBecomesFailure(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{sendErr: errors.New("broker down")}
	d := New(fb)

	res, err := d.Dispatch(context.Background(), testEC(t, execution.OpExtract))

	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "broker down")
	assert.Contains(t, res.Error, ": ", "failure message carries the error type prefix")
}

func TestDispatchRemoteErrorBecomesFailure(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{resultErr: errors.New("no handler registered for task \"execute_extract\"")}
	d := New(fb)

	res, err := d.Dispatch(context.Background(), testEC(t, execution.OpExtract))

	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "no handler registered")
}

func TestDispatchWithoutBackendErrors(t *testing.T) {
	t.Parallel()

	d := New(nil)
	_, err := d.Dispatch(context.Background(), testEC(t, execution.OpExtract))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no task backend")
}

func TestDispatchTimeoutFromEnv(t *testing.T) {
	t.Setenv(EnvResultTimeout, "120")

	remote, err := execution.Succeed(nil, nil).ToWire()
	require.NoError(t, err)
	fb := &fakeBackend{resultPayload: remote}
	d := New(fb)

	_, err = d.Dispatch(context.Background(), testEC(t, execution.OpSummarize))
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, fb.gotTimeout)
}

func TestDispatchDefaultTimeout(t *testing.T) {
	t.Setenv(EnvResultTimeout, "")

	remote, err := execution.Succeed(nil, nil).ToWire()
	require.NoError(t, err)
	fb := &fakeBackend{resultPayload: remote}
	d := New(fb)

	_, err = d.Dispatch(context.Background(), testEC(t, execution.OpSummarize))
	require.NoError(t, err)
	assert.Equal(t, DefaultResultTimeout, fb.gotTimeout)
}

func TestDispatchAsyncReturnsTaskID(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{}
	d := New(fb)

	id, err := d.DispatchAsync(context.Background(), testEC(t, execution.OpExtract))
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
}

func TestDispatchAsyncPropagatesSendError(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{sendErr: errors.New("broker down")}
	d := New(fb)

	_, err := d.DispatchAsync(context.Background(), testEC(t, execution.OpExtract))
	require.Error(t, err)
}
