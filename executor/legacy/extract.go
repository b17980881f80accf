package legacy

import (
	"context"

	"github.com/docstruct/docstruct/adapter"
	"github.com/docstruct/docstruct/runtime/execution"
	"github.com/docstruct/docstruct/runtime/logstream"
	"github.com/docstruct/docstruct/runtime/toolshim"
	"github.com/docstruct/docstruct/storage"
)

// extract converts the source document into plain text through the bound
// x2text adapter.
func (e *Executor) extract(ctx context.Context, ec execution.Context) (map[string]any, error) {
	x2textID, err := requireString(ec, "x2text_instance_id")
	if err != nil {
		return nil, err
	}
	filePath, err := requireString(ec, "file_path")
	if err != nil {
		return nil, err
	}
	apiKey, err := requireString(ec, "platform_api_key")
	if err != nil {
		return nil, err
	}

	shim := toolshim.New(toolshim.Options{
		PlatformAPIKey: apiKey,
		ExecutionID:    ec.RunID,
		ExecMetadata:   mapParam(ec.ExecutorParams, "tool_execution_metadata"),
		Logger:         e.deps.Logger,
		Publisher:      e.deps.Publisher,
	})

	client, err := e.deps.Factory.X2Text(ctx, x2textID)
	if err != nil {
		return nil, Errorf("ExtractionError: resolve x2text adapter %q: %s", x2textID, err)
	}

	// Highlight is only honored by whisperer variants; everything else gets
	// a plain extraction regardless of the flag.
	enableHighlight := boolParam(ec.ExecutorParams, "enable_highlight") && client.SupportsHighlight()

	shim.StreamLog(ctx, "Extracting text from "+filePath, logstream.LevelInfo, logstream.StageRun)
	resp, err := client.Process(ctx, adapter.ExtractRequest{
		FilePath:        filePath,
		OutputFilePath:  stringParam(ec.ExecutorParams, "output_file_path"),
		EnableHighlight: enableHighlight,
		Tags:            stringSliceParam(ec.ExecutorParams, "tags"),
	})
	if err != nil {
		return nil, Errorf("ExtractionError: %s", err)
	}

	if enableHighlight && resp.WhisperHash != "" && ec.ExecutionSource == execution.SourceTool {
		if err := e.persistWhisperHash(ec, resp.WhisperHash); err != nil {
			return nil, err
		}
	}
	return map[string]any{"extracted_text": resp.Text}, nil
}

// persistWhisperHash merges the whisper hash into METADATA.json under the
// execution data dir so the answer path can key highlight lookups later.
func (e *Executor) persistWhisperHash(ec execution.Context, whisperHash string) error {
	dir, ok := ec.StringParam("execution_data_dir")
	if !ok {
		return nil
	}
	fs, err := e.deps.Roots.Select(ec.ExecutionSource)
	if err != nil {
		return Errorf("ExtractionError: %s", err)
	}
	ws, err := storage.NewWorkspace(fs, dir)
	if err != nil {
		return Errorf("ExtractionError: open execution data dir: %s", err)
	}
	if err := ws.MergeMetadata(map[string]any{"whisper_hash": whisperHash}); err != nil {
		return Errorf("ExtractionError: persist whisper hash: %s", err)
	}
	return nil
}
