// Package rmap implements workflow.StatusGate on top of a goa.design/pulse
// replicated map. The API server writes execution status transitions into the
// map; workers read it at STOP checkpoints without touching the relational
// store.
package rmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/docstruct/docstruct/workflow"
)

type (
	// statusMap is the subset of rmap.Map the gate uses.
	statusMap interface {
		Get(key string) (string, bool)
		Set(ctx context.Context, key, value string) (string, error)
	}

	// Gate reads and writes workflow execution statuses through a replicated
	// map shared by all processes joined to it.
	Gate struct {
		m statusMap
	}
)

// MapName is the replicated map holding execution statuses.
const MapName = "workflow_status"

// Join connects to the shared status map on rdb and returns a gate bound to
// it.
func Join(ctx context.Context, rdb *redis.Client) (*Gate, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	m, err := rmap.Join(ctx, MapName, rdb)
	if err != nil {
		return nil, fmt.Errorf("join status map: %w", err)
	}
	return &Gate{m: m}, nil
}

// Status implements workflow.StatusGate. An execution the map has never seen
// reads as EXECUTING so an unprimed gate does not stop the pipeline.
func (g *Gate) Status(_ context.Context, executionID string) (workflow.Status, error) {
	if executionID == "" {
		return "", errors.New("execution id is required")
	}
	raw, ok := g.m.Get(executionID)
	if !ok || raw == "" {
		return workflow.StatusExecuting, nil
	}
	return workflow.Status(raw), nil
}

// SetStatus implements workflow.StatusGate.
func (g *Gate) SetStatus(ctx context.Context, executionID string, status workflow.Status) error {
	if executionID == "" {
		return errors.New("execution id is required")
	}
	if _, err := g.m.Set(ctx, executionID, string(status)); err != nil {
		return fmt.Errorf("set status for %s: %w", executionID, err)
	}
	return nil
}
