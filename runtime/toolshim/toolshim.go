// Package toolshim provides the minimal "tool context" object handed to
// adapter libraries. It surfaces exactly four behaviors: required-env lookup,
// log streaming, UI update streaming, and error streaming. A shim lives
// inside a worker, so it never terminates the process; every fatal path is a
// returned error.
package toolshim

import (
	"context"
	"fmt"
	"os"

	"github.com/docstruct/docstruct/runtime/logstream"
	"github.com/docstruct/docstruct/runtime/telemetry"
)

// PlatformKeyEnv is the environment key answered from the shim's stored
// platform API key instead of the process environment.
const PlatformKeyEnv = "PLATFORM_SERVICE_API_KEY"

type (
	// Shim is the capability bundle passed to adapter calls. It is
	// constructed fresh for each task invocation and carries no per-request
	// state beyond the fields listed in Options.
	Shim struct {
		platformAPIKey  string
		executionID     string
		fileExecutionID string
		sourceFileName  string
		execMetadata    map[string]any
		channel         string
		logger          telemetry.Logger
		publisher       logstream.Publisher
	}

	// Options configures a Shim.
	Options struct {
		// PlatformAPIKey answers RequireEnv(PlatformKeyEnv).
		PlatformAPIKey string
		// ExecutionID identifies the parent workflow execution.
		ExecutionID string
		// FileExecutionID identifies the per-file execution.
		FileExecutionID string
		// SourceFileName is the display name of the file being processed.
		SourceFileName string
		// ExecMetadata is the opaque execution metadata blob.
		ExecMetadata map[string]any
		// Channel is the telemetry channel. Empty outside workflow
		// executions; stream calls then log without publishing.
		Channel string
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
		// Publisher defaults to a no-op publisher.
		Publisher logstream.Publisher
	}

	// EnvError reports a required environment variable that is unset or
	// empty.
	EnvError struct {
		Key string
	}

	// ExitError is returned where the original tool SDK would terminate the
	// process. Callers treat it as a fatal task failure.
	ExitError struct {
		Message string
		Cause   error
	}
)

// Error implements the error interface.
func (e *EnvError) Error() string {
	return fmt.Sprintf("required environment variable %s is unset or empty", e.Key)
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap supports errors.Is/As over the cause chain.
func (e *ExitError) Unwrap() error { return e.Cause }

// New constructs a Shim. Nil telemetry bindings default to no-ops.
func New(opts Options) *Shim {
	s := &Shim{
		platformAPIKey:  opts.PlatformAPIKey,
		executionID:     opts.ExecutionID,
		fileExecutionID: opts.FileExecutionID,
		sourceFileName:  opts.SourceFileName,
		execMetadata:    opts.ExecMetadata,
		channel:         opts.Channel,
		logger:          opts.Logger,
		publisher:       opts.Publisher,
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	if s.publisher == nil {
		s.publisher = logstream.NewNoopPublisher()
	}
	return s
}

// RequireEnv returns the value of key. PLATFORM_SERVICE_API_KEY is answered
// from the stored platform key; everything else reads the process
// environment. An unset or empty value yields an *EnvError.
func (s *Shim) RequireEnv(key string) (string, error) {
	if key == PlatformKeyEnv && s.platformAPIKey != "" {
		return s.platformAPIKey, nil
	}
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", &EnvError{Key: key}
}

// StreamLog emits a structured log line and, in workflow-execution contexts,
// publishes it on the telemetry channel.
func (s *Shim) StreamLog(ctx context.Context, message string, level logstream.Level, stage logstream.Stage) {
	s.logger.Info(ctx, message,
		"level", string(level), "stage", string(stage),
		"execution_id", s.executionID, "file_execution_id", s.fileExecutionID)
	if s.channel == "" {
		return
	}
	ev := logstream.LogEvent{
		Stage:          stage,
		Message:        message,
		Level:          level,
		ExecutionID:    s.executionID,
		OrganizationID: s.organizationID(),
	}
	if err := s.publisher.Publish(ctx, s.channel, ev); err != nil {
		s.logger.Warn(ctx, "log event publish failed", "channel", s.channel, "error", err.Error())
	}
}

// StreamUpdate emits an INPUT_UPDATE/OUTPUT_UPDATE style UI marker.
func (s *Shim) StreamUpdate(ctx context.Context, message string, state logstream.UpdateState) {
	s.logger.Info(ctx, message, "state", string(state), "execution_id", s.executionID)
	if s.channel == "" {
		return
	}
	ev := logstream.UpdateEvent{State: state, Message: message}
	if err := s.publisher.Publish(ctx, s.channel, ev); err != nil {
		s.logger.Warn(ctx, "update event publish failed", "channel", s.channel, "error", err.Error())
	}
}

// StreamError reports a fatal condition and returns the error the caller
// should propagate. It never calls os.Exit: the shim lives in a worker and
// exiting would kill the worker.
func (s *Shim) StreamError(ctx context.Context, message string, cause error) error {
	s.logger.Error(ctx, message, "execution_id", s.executionID, "file_execution_id", s.fileExecutionID)
	if s.channel != "" {
		ev := logstream.UpdateEvent{State: logstream.StateError, Message: message}
		if err := s.publisher.Publish(ctx, s.channel, ev); err != nil {
			s.logger.Warn(ctx, "error event publish failed", "channel", s.channel, "error", err.Error())
		}
	}
	return &ExitError{Message: message, Cause: cause}
}

// ExecMetadata returns the execution metadata blob supplied at construction.
func (s *Shim) ExecMetadata() map[string]any { return s.execMetadata }

// ExecutionID returns the parent workflow execution ID.
func (s *Shim) ExecutionID() string { return s.executionID }

// FileExecutionID returns the per-file execution ID.
func (s *Shim) FileExecutionID() string { return s.fileExecutionID }

// SourceFileName returns the display name of the processed file.
func (s *Shim) SourceFileName() string { return s.sourceFileName }

func (s *Shim) organizationID() string {
	if s.execMetadata == nil {
		return ""
	}
	if v, ok := s.execMetadata["organization_id"].(string); ok {
		return v
	}
	return ""
}
