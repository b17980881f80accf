package rmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstruct/docstruct/workflow"
)

type fakeMap struct {
	values map[string]string
}

func (m *fakeMap) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *fakeMap) Set(_ context.Context, key, value string) (string, error) {
	prev := m.values[key]
	m.values[key] = value
	return prev, nil
}

func TestUnknownExecutionReadsExecuting(t *testing.T) {
	t.Parallel()

	g := &Gate{m: &fakeMap{values: map[string]string{}}}
	status, err := g.Status(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusExecuting, status)
}

func TestSetStatusRoundTrip(t *testing.T) {
	t.Parallel()

	g := &Gate{m: &fakeMap{values: map[string]string{}}}
	ctx := context.Background()
	require.NoError(t, g.SetStatus(ctx, "exec-1", workflow.StatusStopped))

	status, err := g.Status(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusStopped, status)
}

func TestEmptyExecutionIDRejected(t *testing.T) {
	t.Parallel()

	g := &Gate{m: &fakeMap{values: map[string]string{}}}
	_, err := g.Status(context.Background(), "")
	require.Error(t, err)
	require.Error(t, g.SetStatus(context.Background(), "", workflow.StatusStopped))
}
