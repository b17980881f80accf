// Package execution defines the envelopes, registry, and in-process
// orchestrator of the task dispatch kernel. An ExecutionContext crosses the
// queue boundary to a worker, which resolves the named executor from the
// registry and returns an ExecutionResult. Both envelopes round-trip through
// JSON without loss.
package execution

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Source selects file-storage roots and log routing for one execution.
type Source string

const (
	// SourceIDE runs against the persistent remote workspace.
	SourceIDE Source = "ide"
	// SourceTool runs against the shared temporary workspace.
	SourceTool Source = "tool"
	// SourceAPI runs against the local workspace of an API deployment.
	SourceAPI Source = "api"
)

// ParseSource canonicalizes s into a Source.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	switch src {
	case SourceIDE, SourceTool, SourceAPI:
		return src, nil
	}
	return "", fmt.Errorf("unknown execution source %q", s)
}

type (
	// Context is the immutable request envelope submitted to an executor.
	// Construct with NewContext; the zero value does not validate.
	Context struct {
		// ExecutorName selects a registered executor, e.g. "legacy".
		ExecutorName string `json:"executor_name"`
		// Operation is the canonical operation constant.
		Operation Operation `json:"operation"`
		// RunID is stable per file execution and threads through logs and
		// adapter usage tracking.
		RunID string `json:"run_id"`
		// ExecutionSource selects storage roots and log routing.
		ExecutionSource Source `json:"execution_source"`
		// OrganizationID scopes the tenant. Empty for public calls.
		OrganizationID string `json:"organization_id,omitempty"`
		// ExecutorParams carries the operation-specific payload.
		ExecutorParams map[string]any `json:"executor_params,omitempty"`
		// RequestID threads trace context across workers. Generated when
		// absent, never overwritten when supplied.
		RequestID string `json:"request_id"`
	}

	// ContextOption customizes optional Context fields.
	ContextOption func(*Context)
)

// WithOrganizationID sets the tenant scope.
func WithOrganizationID(id string) ContextOption {
	return func(c *Context) { c.OrganizationID = id }
}

// WithExecutorParams sets the operation payload.
func WithExecutorParams(params map[string]any) ContextOption {
	return func(c *Context) { c.ExecutorParams = params }
}

// WithRequestID supplies an externally generated request ID.
func WithRequestID(id string) ContextOption {
	return func(c *Context) { c.RequestID = id }
}

// NewContext validates and constructs a Context. The operation is accepted
// either as an Operation constant or any casing of its wire value and is
// stored canonicalized. A missing request ID is assigned a fresh UUID.
func NewContext(executorName string, operation Operation, runID string, source Source, opts ...ContextOption) (Context, error) {
	c := Context{
		ExecutorName: strings.TrimSpace(executorName),
		RunID:        strings.TrimSpace(runID),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	op, err := ParseOperation(string(operation))
	if err != nil {
		return Context{}, err
	}
	c.Operation = op
	src, err := ParseSource(string(source))
	if err != nil {
		return Context{}, err
	}
	c.ExecutionSource = src
	if c.ExecutorName == "" {
		return Context{}, errors.New("executor_name must not be empty")
	}
	if c.RunID == "" {
		return Context{}, errors.New("run_id must not be empty")
	}
	if c.RequestID == "" {
		c.RequestID = uuid.NewString()
	}
	return c, nil
}

// ToWire serializes the context to its JSON wire form.
func (c Context) ToWire() ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

// ContextFromWire deserializes and validates a wire-form context. Optional
// fields (organization_id, executor_params) may be absent; a missing
// request_id is assigned. The operation and source are canonicalized.
func ContextFromWire(data []byte) (Context, error) {
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return Context{}, fmt.Errorf("malformed execution context: %w", err)
	}
	op, err := ParseOperation(string(c.Operation))
	if err != nil {
		return Context{}, err
	}
	c.Operation = op
	src, err := ParseSource(string(c.ExecutionSource))
	if err != nil {
		return Context{}, err
	}
	c.ExecutionSource = src
	if c.RequestID == "" {
		c.RequestID = uuid.NewString()
	}
	if err := c.validate(); err != nil {
		return Context{}, err
	}
	return c, nil
}

func (c Context) validate() error {
	if c.ExecutorName == "" {
		return errors.New("executor_name must not be empty")
	}
	if !c.Operation.Valid() {
		return fmt.Errorf("unknown operation %q", c.Operation)
	}
	if c.RunID == "" {
		return errors.New("run_id must not be empty")
	}
	switch c.ExecutionSource {
	case SourceIDE, SourceTool, SourceAPI:
	default:
		return fmt.Errorf("unknown execution source %q", c.ExecutionSource)
	}
	if c.RequestID == "" {
		return errors.New("request_id must not be empty")
	}
	return nil
}

// Param returns the named executor parameter and whether it was present.
func (c Context) Param(name string) (any, bool) {
	if c.ExecutorParams == nil {
		return nil, false
	}
	v, ok := c.ExecutorParams[name]
	return v, ok
}

// StringParam returns the named parameter as a non-empty string.
func (c Context) StringParam(name string) (string, bool) {
	v, ok := c.Param(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
