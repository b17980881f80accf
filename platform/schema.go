package platform

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// exportedToolSchema constrains the exported-tool documents the platform
// returns. A malformed export fails here instead of surfacing later as an
// opaque per-prompt error inside a worker.
const exportedToolSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "tool_settings", "outputs"],
  "properties": {
    "tool_id": {"type": "string"},
    "name": {"type": "string", "minLength": 1},
    "tool_settings": {"type": "object"},
    "outputs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "prompt", "type"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "prompt": {"type": "string"},
          "type": {
            "type": "string",
            "enum": ["text", "number", "email", "date", "boolean", "json", "table", "line-item"]
          },
          "chunk_size": {"type": "integer", "minimum": 0},
          "chunk_overlap": {"type": "integer", "minimum": 0},
          "similarity_top_k": {"type": "integer", "minimum": 0},
          "retrieval_strategy": {"type": "string"}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func toolSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(exportedToolSchema), &doc); err != nil {
			schemaErr = fmt.Errorf("unmarshal exported-tool schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("exported_tool.json", doc); err != nil {
			schemaErr = fmt.Errorf("add exported-tool schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile("exported_tool.json")
	})
	return compiledSchema, schemaErr
}

// decodeExportedTool validates raw against the exported-tool schema and
// decodes it.
func decodeExportedTool(raw json.RawMessage, agentic bool) (*ExportedTool, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("platform response has no tool_metadata")
	}
	schema, err := toolSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode exported tool: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("exported tool failed schema validation: %w", err)
	}
	var tool ExportedTool
	if err := json.Unmarshal(raw, &tool); err != nil {
		return nil, fmt.Errorf("decode exported tool: %w", err)
	}
	tool.IsAgentic = agentic
	return &tool, nil
}
