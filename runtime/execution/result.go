package execution

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Result is the immutable response envelope produced by an executor. A failed
// result always carries a non-empty Error; a successful result never
// serializes one.
type Result struct {
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Succeed constructs a successful result.
func Succeed(data, metadata map[string]any) Result {
	return Result{Success: true, Data: data, Metadata: metadata}
}

// Failure constructs a failed result. An empty message is replaced with a
// generic one so the failed-result invariant holds.
func Failure(message string, metadata map[string]any) Result {
	if message == "" {
		message = "unspecified execution failure"
	}
	return Result{Success: false, Error: message, Metadata: metadata}
}

// Failuref constructs a failed result from a format string.
func Failuref(format string, args ...any) Result {
	return Failure(fmt.Sprintf(format, args...), nil)
}

// Validate enforces the result invariant: success = false implies a non-empty
// error message.
func (r Result) Validate() error {
	if !r.Success && r.Error == "" {
		return errors.New("failed result must carry an error message")
	}
	return nil
}

// ToWire serializes the result to its JSON wire form. A successful result's
// error field is dropped from the serialized form.
func (r Result) ToWire() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.Success {
		r.Error = ""
	}
	return json.Marshal(r)
}

// ResultFromWire deserializes and validates a wire-form result.
func ResultFromWire(data []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("malformed execution result: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	if r.Success {
		r.Error = ""
	}
	return r, nil
}
