// Package platform implements adapter.X2Text on the platform text-extraction
// service. The service fronts the concrete extraction backends; whisperer
// variants additionally produce highlight metadata keyed by a whisper hash.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docstruct/docstruct/adapter"
	"github.com/docstruct/docstruct/platform"
)

// Extractor is the subset of the platform client used by the adapter. It is
// satisfied by *platform.Client.
type Extractor interface {
	ExtractText(ctx context.Context, req platform.X2TextRequest) (*platform.X2TextResponse, error)
}

// Options configures the x2text binding.
type Options struct {
	Client Extractor
	// InstanceID is the x2text adapter instance the platform routes to.
	InstanceID string
	// AdapterID names the concrete backend; whisperer variants support
	// highlight extraction.
	AdapterID string
}

// Client implements adapter.X2Text through the platform service.
type Client struct {
	platform   Extractor
	instanceID string
	whisperer  bool
}

// New builds an x2text client bound to one adapter instance.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("platform client is required")
	}
	if opts.InstanceID == "" {
		return nil, errors.New("adapter instance id is required")
	}
	return &Client{
		platform:   opts.Client,
		instanceID: opts.InstanceID,
		whisperer:  strings.Contains(strings.ToLower(opts.AdapterID), "whisper"),
	}, nil
}

// SupportsHighlight implements adapter.X2Text.
func (c *Client) SupportsHighlight() bool { return c.whisperer }

// Process implements adapter.X2Text.
func (c *Client) Process(ctx context.Context, req adapter.ExtractRequest) (*adapter.ExtractResponse, error) {
	if req.FilePath == "" {
		return nil, errors.New("file path is required")
	}
	resp, err := c.platform.ExtractText(ctx, platform.X2TextRequest{
		AdapterInstanceID: c.instanceID,
		FilePath:          req.FilePath,
		OutputFilePath:    req.OutputFilePath,
		EnableHighlight:   req.EnableHighlight && c.whisperer,
		Tags:              req.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("platform text extraction: %w", err)
	}
	return &adapter.ExtractResponse{
		Text:        resp.ExtractedText,
		WhisperHash: resp.WhisperHash,
	}, nil
}
