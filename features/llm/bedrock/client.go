// Package bedrock implements adapter.LLM on the AWS Bedrock Converse API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/docstruct/docstruct/adapter"
)

type (
	// ConverseClient is the subset of the AWS Bedrock runtime client used by
	// the adapter. It matches *bedrockruntime.Client.
	ConverseClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	}

	// Options configures the Bedrock adapter.
	Options struct {
		Client    ConverseClient
		ModelID   string
		MaxTokens int
		Reason    adapter.UsageReason
	}

	// Client implements adapter.LLM on top of AWS Bedrock Converse.
	Client struct {
		runtime   ConverseClient
		modelID   string
		maxTokens int
		reason    adapter.UsageReason
		now       func() time.Time
	}
)

// New builds a Bedrock-backed LLM from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.ModelID == "" {
		return nil, errors.New("model id is required")
	}
	return &Client{
		runtime:   opts.Client,
		modelID:   opts.ModelID,
		maxTokens: opts.MaxTokens,
		reason:    opts.Reason,
		now:       time.Now,
	}, nil
}

// NewFromCredentials constructs a client from static AWS credentials. The
// platform stores decrypted access keys per adapter instance, so the worker
// never relies on ambient AWS configuration.
func NewFromCredentials(region, accessKeyID, secretAccessKey, modelID string, reason adapter.UsageReason) (*Client, error) {
	if region == "" {
		return nil, errors.New("region is required")
	}
	if accessKeyID == "" || secretAccessKey == "" {
		return nil, errors.New("access key id and secret access key are required")
	}
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			Source:          "platform adapter config",
		}, nil
	})
	rt := bedrockruntime.New(bedrockruntime.Options{Region: region, Credentials: creds})
	return New(Options{Client: rt, ModelID: modelID, Reason: reason})
}

// UsageReason implements adapter.LLM.
func (c *Client) UsageReason() adapter.UsageReason { return c.reason }

// Complete implements adapter.LLM.
func (c *Client) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
		}},
	}
	cfg := &brtypes.InferenceConfiguration{}
	configured := false
	if tokens := c.effectiveMaxTokens(req.MaxTokens); tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec // AWS SDK requires int32
		configured = true
	}
	if req.Temperature != nil {
		cfg.Temperature = aws.Float32(float32(*req.Temperature))
		configured = true
	}
	if configured {
		input.InferenceConfig = cfg
	}

	start := c.now()
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", adapter.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}
	text, err := extractText(output)
	if err != nil {
		return nil, err
	}
	usage := map[string]any{"latency_ms": c.now().Sub(start).Milliseconds()}
	if output.Usage != nil {
		usage["prompt_tokens"] = aws.ToInt32(output.Usage.InputTokens)
		usage["completion_tokens"] = aws.ToInt32(output.Usage.OutputTokens)
		usage["total_tokens"] = aws.ToInt32(output.Usage.TotalTokens)
	}
	return &adapter.CompletionResponse{Text: text, Usage: usage}, nil
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTokens
}

func extractText(output *bedrockruntime.ConverseOutput) (string, error) {
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("bedrock converse: unexpected output type %T", output.Output)
	}
	var text string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	return text, nil
}

func isRateLimited(err error) bool {
	var throttle *brtypes.ThrottlingException
	if errors.As(err, &throttle) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429
}
