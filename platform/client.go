// Package platform implements the HTTP client for the platform service RPCs
// the execution core consumes: exported prompt-studio tools, LLM profiles,
// and adapter configurations. Every request carries the X-Platform-Key
// header; constructing a client without a key is a startup failure.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// KeyHeader authenticates platform calls.
const KeyHeader = "X-Platform-Key"

type (
	// Option configures the HTTP client.
	Option func(*Client)

	// Client talks to the platform service.
	Client struct {
		baseURL string
		apiKey  string
		http    *http.Client
		headers http.Header
	}

	// APIError is a non-2xx platform response.
	APIError struct {
		StatusCode int
		Message    string
	}

	// ExportedTool is a prompt-studio project document: global tool settings
	// plus the list of prompt specs.
	ExportedTool struct {
		ToolID       string           `json:"tool_id,omitempty"`
		Name         string           `json:"name"`
		ToolSettings map[string]any   `json:"tool_settings"`
		Outputs      []map[string]any `json:"outputs"`
		// IsAgentic marks documents resolved through the agentic registry
		// fallback.
		IsAgentic bool `json:"is_agentic,omitempty"`
	}

	// LLMProfile is a per-run override set applied over a tool's settings and
	// prompt specs.
	LLMProfile struct {
		ProfileName       string `json:"profile_name"`
		LLMID             string `json:"llm_id"`
		EmbeddingModelID  string `json:"embedding_model_id"`
		VectorStoreID     string `json:"vector_store_id"`
		X2TextID          string `json:"x2text_id"`
		ChunkSize         int    `json:"chunk_size"`
		ChunkOverlap      int    `json:"chunk_overlap"`
		SimilarityTopK    int    `json:"similarity_top_k"`
		RetrievalStrategy string `json:"retrieval_strategy"`
	}

	// AdapterConfig carries a decrypted adapter instance configuration.
	AdapterConfig struct {
		AdapterID       string         `json:"adapter_id"`
		AdapterMetadata map[string]any `json:"adapter_metadata"`
	}

	// X2TextRequest asks the platform text-extraction service to process one
	// file through a bound x2text adapter instance.
	X2TextRequest struct {
		AdapterInstanceID string   `json:"adapter_instance_id"`
		FilePath          string   `json:"file_path"`
		OutputFilePath    string   `json:"output_file_path,omitempty"`
		EnableHighlight   bool     `json:"enable_highlight,omitempty"`
		Tags              []string `json:"tags,omitempty"`
	}

	// X2TextResponse is the extraction outcome returned by the platform.
	X2TextResponse struct {
		ExtractedText string `json:"extracted_text"`
		WhisperHash   string `json:"whisper_hash,omitempty"`
	}
)

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("platform service status %d: %s", e.StatusCode, e.Message)
}

// NotFound reports whether e is a 404.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) Option {
	return func(cl *Client) {
		if cl.headers == nil {
			cl.headers = make(http.Header)
		}
		cl.headers.Add(name, value)
	}
}

// New constructs a platform client. The base URL and API key are required.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("platform service base URL is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("platform service API key is required")
	}
	cl := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	if cl.http == nil {
		cl.http = &http.Client{Timeout: 30 * time.Second}
	}
	return cl, nil
}

// GetPromptStudioTool fetches the exported tool for a prompt registry ID. The
// document is validated against the exported-tool schema before it is
// returned.
func (c *Client) GetPromptStudioTool(ctx context.Context, promptRegistryID string) (*ExportedTool, error) {
	var body struct {
		ToolMetadata json.RawMessage `json:"tool_metadata"`
	}
	q := url.Values{"prompt_registry_id": {promptRegistryID}}
	if err := c.get(ctx, "/v2/prompt-studio/export", q, &body); err != nil {
		return nil, err
	}
	return decodeExportedTool(body.ToolMetadata, false)
}

// GetAgenticStudioTool fetches the exported tool for an agentic registry ID.
// Used as a fallback when the prompt-studio registry does not know the ID.
func (c *Client) GetAgenticStudioTool(ctx context.Context, agenticRegistryID string) (*ExportedTool, error) {
	var body struct {
		ToolMetadata json.RawMessage `json:"tool_metadata"`
	}
	q := url.Values{"agentic_registry_id": {agenticRegistryID}}
	if err := c.get(ctx, "/v2/agentic-studio/export", q, &body); err != nil {
		return nil, err
	}
	return decodeExportedTool(body.ToolMetadata, true)
}

// GetLLMProfile fetches an LLM profile by ID.
func (c *Client) GetLLMProfile(ctx context.Context, profileID string) (*LLMProfile, error) {
	var profile LLMProfile
	q := url.Values{"profile_id": {profileID}}
	if err := c.get(ctx, "/v2/llm-profile", q, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetAdapterConfig fetches the decrypted configuration for an adapter
// instance.
func (c *Client) GetAdapterConfig(ctx context.Context, adapterInstanceID string) (*AdapterConfig, error) {
	var cfg AdapterConfig
	q := url.Values{"adapter_instance_id": {adapterInstanceID}}
	if err := c.get(ctx, "/v2/adapter-config", q, &cfg); err != nil {
		return nil, err
	}
	if cfg.AdapterID == "" {
		return nil, fmt.Errorf("adapter instance %q has no adapter_id", adapterInstanceID)
	}
	return &cfg, nil
}

// ExtractText runs a document through the platform text-extraction service.
func (c *Client) ExtractText(ctx context.Context, req X2TextRequest) (*X2TextResponse, error) {
	if req.AdapterInstanceID == "" {
		return nil, errors.New("x2text adapter instance ID is required")
	}
	if req.FilePath == "" {
		return nil, errors.New("file path is required")
	}
	var resp X2TextResponse
	if err := c.post(ctx, "/v2/x2text/process", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform service request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode platform response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform service request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode platform response: %w", err)
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set(KeyHeader, c.apiKey)
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

func (c *Client) apiError(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		if body.Error != "" {
			msg = body.Error
		} else if body.Message != "" {
			msg = body.Message
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
