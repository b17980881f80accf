// Package structtool drives the per-file extraction pipeline. One task
// invocation resolves the prompt-studio project, dispatches extract, index,
// and answer operations to the executor queue, and writes the structured
// output artifact into the execution data directory. The driver itself never
// opens adapter handles; everything model-shaped happens behind dispatch.
package structtool

import (
	"context"
	"time"

	"github.com/docstruct/docstruct/platform"
	"github.com/docstruct/docstruct/runtime/dispatch"
	"github.com/docstruct/docstruct/runtime/execution"
	"github.com/docstruct/docstruct/runtime/logstream"
	"github.com/docstruct/docstruct/runtime/telemetry"
	"github.com/docstruct/docstruct/storage"
	"github.com/docstruct/docstruct/workflow"
)

type (
	// ToolInstanceMetadata carries the prompt-registry binding and the
	// feature flags set on the tool instance.
	ToolInstanceMetadata struct {
		PromptRegistryID         string `json:"prompt_registry_id"`
		EnableChallenge          bool   `json:"enable_challenge"`
		SummarizeAsSource        bool   `json:"summarize_as_source"`
		SinglePassExtractionMode bool   `json:"single_pass_extraction_mode"`
		EnableHighlight          bool   `json:"enable_highlight"`
		ChallengeLLMAdapterID    string `json:"challenge_llm_adapter_id"`
	}

	// Task is one per-file pipeline invocation.
	Task struct {
		OrganizationID        string               `json:"organization_id"`
		WorkflowID            string               `json:"workflow_id"`
		ExecutionID           string               `json:"execution_id"`
		FileExecutionID       string               `json:"file_execution_id"`
		ToolInstanceMetadata  ToolInstanceMetadata `json:"tool_instance_metadata"`
		PlatformServiceAPIKey string               `json:"platform_service_api_key"`
		InputFilePath         string               `json:"input_file_path"`
		OutputDirPath         string               `json:"output_dir_path"`
		SourceFileName        string               `json:"source_file_name"`
		ExecutionDataDir      string               `json:"execution_data_dir"`
		MessagingChannel      string               `json:"messaging_channel"`
		FileHash              string               `json:"file_hash"`
		ExecMetadata          map[string]any       `json:"exec_metadata"`
	}

	// Outcome is the pipeline result. Stopped marks a cooperative STOP; the
	// artifact is only present on success.
	Outcome struct {
		Stopped bool
		Output  map[string]any
	}

	// PlatformAPI is the slice of the platform client the driver uses.
	PlatformAPI interface {
		GetPromptStudioTool(ctx context.Context, promptRegistryID string) (*platform.ExportedTool, error)
		GetAgenticStudioTool(ctx context.Context, agenticRegistryID string) (*platform.ExportedTool, error)
		GetLLMProfile(ctx context.Context, profileID string) (*platform.LLMProfile, error)
	}

	// TaskDispatcher submits execution contexts and waits for results.
	TaskDispatcher interface {
		Dispatch(ctx context.Context, ec execution.Context, opts ...dispatch.DispatchOption) (execution.Result, error)
	}

	// Deps carries the driver's collaborators. Platform and Dispatcher are
	// required; a nil Gate disables STOP checkpoints.
	Deps struct {
		Platform   PlatformAPI
		Dispatcher TaskDispatcher
		Roots      storage.Roots
		Gate       workflow.StatusGate
		Logger     telemetry.Logger
		Publisher  logstream.Publisher
	}

	// Driver runs pipelines.
	Driver struct {
		deps Deps
		now  func() time.Time
	}

	// Option configures a Driver.
	Option func(*Driver)
)

// WithClock overrides the time source. Test support.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// New constructs a Driver. Nil telemetry deps default to no-ops.
func New(deps Deps, opts ...Option) *Driver {
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}
	if deps.Publisher == nil {
		deps.Publisher = logstream.NewNoopPublisher()
	}
	d := &Driver{deps: deps, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// stopRequested consults the workflow status gate at a cooperative
// checkpoint. Gate errors fail open: a broken gate must not wedge the
// pipeline.
func (d *Driver) stopRequested(ctx context.Context, executionID string) bool {
	if d.deps.Gate == nil || executionID == "" {
		return false
	}
	status, err := d.deps.Gate.Status(ctx, executionID)
	if err != nil {
		d.deps.Logger.Warn(ctx, "status gate read failed", "execution_id", executionID, "error", err.Error())
		return false
	}
	return status == workflow.StatusStopped
}
