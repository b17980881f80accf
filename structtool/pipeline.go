package structtool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/spf13/afero"

	"github.com/docstruct/docstruct/executor/legacy"
	"github.com/docstruct/docstruct/platform"
	"github.com/docstruct/docstruct/runtime/execution"
	"github.com/docstruct/docstruct/runtime/logstream"
	"github.com/docstruct/docstruct/runtime/toolshim"
	"github.com/docstruct/docstruct/storage"
)

// Profile overlay fields, shared between tool settings and prompt specs.
var profileFields = []string{
	"chunk_size", "chunk_overlap", "embedding", "llm",
	"vector-db", "x2text_adapter", "similarity_top_k", "retrieval_strategy",
}

// runState accumulates pipeline state across steps.
type runState struct {
	extractedText string
	// filePath is the extracted-text path handed to index and answer
	// dispatches. The summarize branch rebinds it to the SUMMARIZE file.
	filePath string
	// skipExtractAndIndex is the smart-table shortcut.
	skipExtractAndIndex bool
	// skipIndexing is set by the summarize branch.
	skipIndexing bool
	indexMetrics map[string]any
}

// Run executes the full per-file pipeline. A failed dispatch stops the
// pipeline and its error message propagates verbatim. A STOP request observed
// at a checkpoint yields Outcome.Stopped without an artifact.
func (d *Driver) Run(ctx context.Context, task Task) (*Outcome, error) {
	if err := task.validate(); err != nil {
		return nil, err
	}
	fs, err := d.deps.Roots.Select(execution.SourceTool)
	if err != nil {
		return nil, err
	}
	ws, err := storage.NewWorkspace(fs, task.ExecutionDataDir)
	if err != nil {
		return nil, err
	}
	shim := toolshim.New(toolshim.Options{
		PlatformAPIKey:  task.PlatformServiceAPIKey,
		ExecutionID:     task.ExecutionID,
		FileExecutionID: task.FileExecutionID,
		SourceFileName:  task.SourceFileName,
		ExecMetadata:    task.ExecMetadata,
		Channel:         task.MessagingChannel,
		Logger:          d.deps.Logger,
		Publisher:       d.deps.Publisher,
	})

	tool, err := d.resolveTool(ctx, task)
	if err != nil {
		return nil, err
	}
	if err := d.applyLLMProfile(ctx, task, tool); err != nil {
		return nil, err
	}
	mergeFlags(tool.ToolSettings, task.ToolInstanceMetadata)

	shim.StreamUpdate(ctx, fmt.Sprintf("Loaded project %q (agentic=%t)", tool.Name, tool.IsAgentic), logstream.StateInputUpdate)
	shim.StreamUpdate(ctx, fmt.Sprintf("Processing %q with %d prompts", task.SourceFileName, len(tool.Outputs)), logstream.StateOutputUpdate)

	st := &runState{indexMetrics: make(map[string]any)}
	st.skipExtractAndIndex = smartTableShortcut(tool.Outputs)

	if !st.skipExtractAndIndex {
		if d.stopRequested(ctx, task.ExecutionID) {
			return &Outcome{Stopped: true}, nil
		}
		if err := d.extractText(ctx, task, ws, tool, st); err != nil {
			return nil, err
		}
		if task.ToolInstanceMetadata.SummarizeAsSource {
			if err := d.summarizeSource(ctx, task, ws, tool, st); err != nil {
				return nil, err
			}
		}
	}

	if !st.skipExtractAndIndex && !st.skipIndexing {
		if d.stopRequested(ctx, task.ExecutionID) {
			return &Outcome{Stopped: true}, nil
		}
		if err := d.indexPrompts(ctx, task, ws, tool, st); err != nil {
			return nil, err
		}
	}

	if d.stopRequested(ctx, task.ExecutionID) {
		return &Outcome{Stopped: true}, nil
	}
	answer, err := d.answerPass(ctx, task, tool, st)
	if err != nil {
		return nil, err
	}

	blob := d.postProcess(task, answer, st)
	if err := d.writeArtifact(fs, ws, task, blob); err != nil {
		return nil, err
	}
	shim.StreamUpdate(ctx, "Structured output written", logstream.StateSuccess)
	return &Outcome{Output: blob}, nil
}

func (t Task) validate() error {
	for _, field := range []struct{ name, value string }{
		{"execution_id", t.ExecutionID},
		{"file_execution_id", t.FileExecutionID},
		{"input_file_path", t.InputFilePath},
		{"output_dir_path", t.OutputDirPath},
		{"source_file_name", t.SourceFileName},
		{"execution_data_dir", t.ExecutionDataDir},
		{"platform_service_api_key", t.PlatformServiceAPIKey},
		{"prompt_registry_id", t.ToolInstanceMetadata.PromptRegistryID},
	} {
		if field.value == "" {
			return fmt.Errorf("task field %s must not be empty", field.name)
		}
	}
	return nil
}

// resolveTool fetches the exported tool, falling back to the agentic
// registry when prompt studio does not know the ID.
func (d *Driver) resolveTool(ctx context.Context, task Task) (*platform.ExportedTool, error) {
	registryID := task.ToolInstanceMetadata.PromptRegistryID
	tool, err := d.deps.Platform.GetPromptStudioTool(ctx, registryID)
	if err == nil {
		return tool, nil
	}
	var apiErr *platform.APIError
	if !errors.As(err, &apiErr) || !apiErr.NotFound() {
		return nil, fmt.Errorf("resolve prompt registry %q: %w", registryID, err)
	}
	tool, err = d.deps.Platform.GetAgenticStudioTool(ctx, registryID)
	if err != nil {
		return nil, fmt.Errorf("prompt registry %q not found in prompt studio or agentic registry: %w", registryID, err)
	}
	tool.IsAgentic = true
	return tool, nil
}

// applyLLMProfile overlays the run's LLM profile onto the tool settings and
// every prompt spec.
func (d *Driver) applyLLMProfile(ctx context.Context, task Task, tool *platform.ExportedTool) error {
	profileID, _ := task.ExecMetadata["llm_profile_id"].(string)
	if profileID == "" {
		return nil
	}
	profile, err := d.deps.Platform.GetLLMProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("fetch llm profile %q: %w", profileID, err)
	}
	overrides := map[string]any{
		"chunk_size":         profile.ChunkSize,
		"chunk_overlap":      profile.ChunkOverlap,
		"embedding":          profile.EmbeddingModelID,
		"llm":                profile.LLMID,
		"vector-db":          profile.VectorStoreID,
		"x2text_adapter":     profile.X2TextID,
		"similarity_top_k":   profile.SimilarityTopK,
		"retrieval_strategy": profile.RetrievalStrategy,
	}
	changed := 0
	if tool.ToolSettings == nil {
		tool.ToolSettings = make(map[string]any)
	}
	changed += overlay(tool.ToolSettings, overrides)
	for _, spec := range tool.Outputs {
		changed += overlay(spec, overrides)
	}
	d.deps.Logger.Info(ctx, "applied llm profile",
		"profile_id", profileID, "changed_fields", changed)
	return nil
}

func overlay(target map[string]any, overrides map[string]any) int {
	changed := 0
	for _, field := range profileFields {
		value := overrides[field]
		if value == nil || value == "" || value == 0 {
			continue
		}
		if target[field] != value {
			target[field] = value
			changed++
		}
	}
	return changed
}

// mergeFlags copies the tool-instance feature flags into the tool settings
// the executor sees.
func mergeFlags(settings map[string]any, flags ToolInstanceMetadata) {
	settings["enable_challenge"] = flags.EnableChallenge
	settings["challenge_llm"] = flags.ChallengeLLMAdapterID
	settings["enable_single_pass_extraction"] = flags.SinglePassExtractionMode
	settings["summarize_as_source"] = flags.SummarizeAsSource
	settings["enable_highlight"] = flags.EnableHighlight
}

// smartTableShortcut reports whether every extraction input is already inline:
// a prompt with a table_settings block whose prompt text parses as a JSON
// object carries its own data, so extract and index are skipped.
func smartTableShortcut(outputs []map[string]any) bool {
	for _, spec := range outputs {
		if _, ok := spec["table_settings"].(map[string]any); !ok {
			continue
		}
		text, _ := spec["prompt"].(string)
		var obj map[string]any
		if json.Unmarshal([]byte(text), &obj) == nil {
			return true
		}
	}
	return false
}

// dispatchOp submits one operation for this file and turns a failed result
// into a pipeline error carrying the executor's message verbatim.
func (d *Driver) dispatchOp(ctx context.Context, task Task, op execution.Operation, params map[string]any) (execution.Result, error) {
	ec, err := execution.NewContext(legacy.ExecutorName, op, task.FileExecutionID, execution.SourceTool,
		execution.WithOrganizationID(task.OrganizationID),
		execution.WithExecutorParams(params))
	if err != nil {
		return execution.Result{}, err
	}
	res, err := d.deps.Dispatcher.Dispatch(ctx, ec)
	if err != nil {
		return res, err
	}
	if !res.Success {
		return res, errors.New(res.Error)
	}
	return res, nil
}

// extractText dispatches extract unless the EXTRACT cache already holds the
// text, and persists the result for downstream dispatches.
func (d *Driver) extractText(ctx context.Context, task Task, ws *storage.Workspace, tool *platform.ExportedTool, st *runState) error {
	st.filePath = ws.Path(storage.ExtractFile)
	cached, err := ws.Exists(storage.ExtractFile)
	if err != nil {
		return err
	}
	if cached {
		data, err := ws.Read(storage.ExtractFile)
		if err != nil {
			return err
		}
		st.extractedText = string(data)
		return nil
	}
	res, err := d.dispatchOp(ctx, task, execution.OpExtract, map[string]any{
		"x2text_instance_id": stringSetting(tool.ToolSettings, "x2text_adapter"),
		"file_path":          task.InputFilePath,
		"platform_api_key":   task.PlatformServiceAPIKey,
		"enable_highlight":   task.ToolInstanceMetadata.EnableHighlight,
		"execution_data_dir": task.ExecutionDataDir,
	})
	if err != nil {
		return err
	}
	text, _ := res.Data["extracted_text"].(string)
	st.extractedText = text
	return ws.Write(storage.ExtractFile, []byte(text))
}

// summarizeSource replaces the extracted text with a summary for the rest of
// the pipeline and skips indexing: the summary always fits a full-context
// answer pass.
func (d *Driver) summarizeSource(ctx context.Context, task Task, ws *storage.Workspace, tool *platform.ExportedTool, st *runState) error {
	st.skipIndexing = true
	st.filePath = ws.Path(storage.SummarizeFile)
	cached, err := ws.Exists(storage.SummarizeFile)
	if err != nil {
		return err
	}
	if cached {
		return nil
	}
	res, err := d.dispatchOp(ctx, task, execution.OpSummarize, map[string]any{
		"llm_adapter_instance_id": stringSetting(tool.ToolSettings, "llm"),
		"summarize_prompt":        stringSetting(tool.ToolSettings, "summarize_prompt"),
		"context":                 st.extractedText,
		"prompt_keys":             promptNames(tool.Outputs),
		"platform_api_key":        task.PlatformServiceAPIKey,
	})
	if err != nil {
		return err
	}
	summary, _ := res.Data["data"].(string)
	return ws.Write(storage.SummarizeFile, []byte(summary))
}

// indexPrompts dispatches index once per distinct chunking tuple with a
// non-zero chunk size, recording per-prompt indexing time.
func (d *Driver) indexPrompts(ctx context.Context, task Task, ws *storage.Workspace, tool *platform.ExportedTool, st *runState) error {
	seen := make(map[string]struct{})
	for _, spec := range tool.Outputs {
		name, _ := spec["name"].(string)
		chunkSize := intSetting(spec, "chunk_size")
		if chunkSize == 0 {
			continue
		}
		chunkOverlap := intSetting(spec, "chunk_overlap")
		embeddingID := stringSetting(spec, "embedding")
		vectorDBID := stringSetting(spec, "vector-db")
		x2textID := stringSetting(spec, "x2text_adapter")
		tuple := fmt.Sprintf("%d|%d|%s|%s|%s", chunkSize, chunkOverlap, vectorDBID, embeddingID, x2textID)
		if _, dup := seen[tuple]; dup {
			continue
		}
		seen[tuple] = struct{}{}

		start := d.now()
		if _, err := d.dispatchOp(ctx, task, execution.OpIndex, map[string]any{
			"embedding_instance_id": embeddingID,
			"vector_db_instance_id": vectorDBID,
			"x2text_instance_id":    x2textID,
			"file_path":             ws.Path(storage.ExtractFile),
			"chunk_size":            chunkSize,
			"chunk_overlap":         chunkOverlap,
			"file_hash":             task.FileHash,
			"platform_api_key":      task.PlatformServiceAPIKey,
		}); err != nil {
			return err
		}
		if name != "" {
			st.indexMetrics[name] = map[string]any{
				"indexing": map[string]any{"time_taken_s": d.now().Sub(start).Seconds()},
			}
		}
	}
	return nil
}

// answerPass dispatches the answer operation once, in single-pass or
// per-prompt mode depending on the tool instance flags.
func (d *Driver) answerPass(ctx context.Context, task Task, tool *platform.ExportedTool, st *runState) (execution.Result, error) {
	outputs := make([]any, 0, len(tool.Outputs))
	for _, spec := range tool.Outputs {
		if ts, ok := spec["table_settings"].(map[string]any); ok {
			ts["input_file"] = task.InputFilePath
			if _, set := ts["is_directory_mode"]; !set {
				ts["is_directory_mode"] = false
			}
		}
		outputs = append(outputs, spec)
	}
	op := execution.OpAnswerPrompt
	if task.ToolInstanceMetadata.SinglePassExtractionMode {
		op = execution.OpSinglePassExtraction
	}
	params := map[string]any{
		"tool_settings":    tool.ToolSettings,
		"outputs":          outputs,
		"file_path":        st.filePath,
		"file_hash":        task.FileHash,
		"platform_api_key": task.PlatformServiceAPIKey,
	}
	if custom, ok := task.ExecMetadata["custom_data"].(map[string]any); ok {
		params["custom_data"] = custom
	}
	return d.dispatchOp(ctx, task, op, params)
}

// postProcess stamps file identity and the raw text onto the answer payload
// and merges the driver's indexing metrics.
func (d *Driver) postProcess(task Task, answer execution.Result, st *runState) map[string]any {
	blob := answer.Data
	if blob == nil {
		blob = make(map[string]any)
	}
	metadata, ok := blob["metadata"].(map[string]any)
	if !ok {
		metadata = make(map[string]any)
		blob["metadata"] = metadata
	}
	metadata["file_name"] = task.SourceFileName
	metadata["extracted_text"] = st.extractedText

	metrics, ok := blob["metrics"].(map[string]any)
	if !ok {
		metrics = make(map[string]any)
		blob["metrics"] = metrics
	}
	for name, m := range st.indexMetrics {
		entry, ok := metrics[name].(map[string]any)
		if !ok {
			entry = make(map[string]any)
			metrics[name] = entry
		}
		for k, v := range m.(map[string]any) {
			entry[k] = v
		}
	}
	return blob
}

// writeArtifact writes the final blob to <output_dir>/<stem>.json and to the
// INFILE handed to the next tool in the chain.
func (d *Driver) writeArtifact(fs afero.Fs, ws *storage.Workspace, task Task, blob map[string]any) error {
	raw, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output artifact: %w", err)
	}
	if err := fs.MkdirAll(task.OutputDirPath, 0o755); err != nil {
		return fmt.Errorf("create output dir %q: %w", task.OutputDirPath, err)
	}
	target := path.Join(task.OutputDirPath, storage.ArtifactName(task.SourceFileName))
	if err := afero.WriteFile(fs, target, raw, 0o644); err != nil {
		return fmt.Errorf("write output artifact %q: %w", target, err)
	}
	return ws.Write(storage.InfileFile, raw)
}

func promptNames(outputs []map[string]any) []string {
	names := make([]string, 0, len(outputs))
	for _, spec := range outputs {
		if name, _ := spec["name"].(string); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func stringSetting(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intSetting(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
