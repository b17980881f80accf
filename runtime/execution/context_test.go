package execution

import (
	"strings"
	"testing"
)

func TestNewContextValidation(t *testing.T) {
	cases := []struct {
		name     string
		executor string
		op       Operation
		runID    string
		source   Source
		wantErr  string
	}{
		{"empty executor", "", OpExtract, "run-1", SourceTool, "executor_name"},
		{"blank executor", "   ", OpExtract, "run-1", SourceTool, "executor_name"},
		{"empty run id", "legacy", OpExtract, "", SourceTool, "run_id"},
		{"unknown operation", "legacy", Operation("compress"), "run-1", SourceTool, "unknown operation"},
		{"empty operation", "legacy", Operation(""), "run-1", SourceTool, "unknown operation"},
		{"unknown source", "legacy", OpExtract, "run-1", Source("cli"), "unknown execution source"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewContext(tc.executor, tc.op, tc.runID, tc.source)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestNewContextRequestID(t *testing.T) {
	c1, err := NewContext("legacy", OpExtract, "run-1", SourceTool)
	if err != nil {
		t.Fatal(err)
	}
	if c1.RequestID == "" {
		t.Fatal("request id was not assigned")
	}
	c2, err := NewContext("legacy", OpExtract, "run-1", SourceTool, WithRequestID("req-42"))
	if err != nil {
		t.Fatal(err)
	}
	if c2.RequestID != "req-42" {
		t.Fatalf("supplied request id was overwritten: %q", c2.RequestID)
	}
}

func TestNewContextCanonicalizesOperation(t *testing.T) {
	c, err := NewContext("legacy", Operation(" ANSWER_PROMPT "), "run-1", Source("TOOL"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Operation != OpAnswerPrompt {
		t.Fatalf("operation not canonicalized: %q", c.Operation)
	}
	if c.ExecutionSource != SourceTool {
		t.Fatalf("source not canonicalized: %q", c.ExecutionSource)
	}
}

func TestContextFromWireToleratesMissingOptionalFields(t *testing.T) {
	wire := []byte(`{
		"executor_name": "legacy",
		"operation": "extract",
		"run_id": "run-7",
		"execution_source": "api",
		"request_id": "req-7"
	}`)
	c, err := ContextFromWire(wire)
	if err != nil {
		t.Fatal(err)
	}
	if c.OrganizationID != "" {
		t.Fatalf("organization id should be empty, got %q", c.OrganizationID)
	}
	if c.ExecutorParams != nil {
		t.Fatalf("executor params should be nil, got %v", c.ExecutorParams)
	}
}

func TestContextFromWireAssignsRequestID(t *testing.T) {
	wire := []byte(`{
		"executor_name": "legacy",
		"operation": "summarize",
		"run_id": "run-7",
		"execution_source": "tool"
	}`)
	c, err := ContextFromWire(wire)
	if err != nil {
		t.Fatal(err)
	}
	if c.RequestID == "" {
		t.Fatal("request id was not assigned on decode")
	}
}

func TestContextFromWireRejectsMalformedEnvelopes(t *testing.T) {
	cases := []struct {
		name string
		wire string
	}{
		{"not json", `{{`},
		{"missing executor", `{"operation":"extract","run_id":"r","execution_source":"tool"}`},
		{"bad operation", `{"executor_name":"legacy","operation":"compress","run_id":"r","execution_source":"tool"}`},
		{"missing run id", `{"executor_name":"legacy","operation":"extract","execution_source":"tool"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ContextFromWire([]byte(tc.wire)); err == nil {
				t.Fatal("expected decode error, got nil")
			}
		})
	}
}

func TestContextParamHelpers(t *testing.T) {
	c, err := NewContext("legacy", OpExtract, "run-1", SourceTool,
		WithExecutorParams(map[string]any{"file_path": "in/a.pdf", "count": 3, "empty": ""}))
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := c.StringParam("file_path"); !ok || v != "in/a.pdf" {
		t.Fatalf("StringParam(file_path) = %q, %v", v, ok)
	}
	if _, ok := c.StringParam("count"); ok {
		t.Fatal("non-string param should not satisfy StringParam")
	}
	if _, ok := c.StringParam("empty"); ok {
		t.Fatal("empty string param should not satisfy StringParam")
	}
	if _, ok := c.Param("missing"); ok {
		t.Fatal("missing param reported present")
	}
}
