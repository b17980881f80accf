// Package adapter declares the capability contracts the execution core
// consumes: LLM completion, text embedding, vector search, and document text
// extraction. The core never constructs concrete clients directly; a Factory
// resolves platform adapter-instance IDs into bound clients so handlers stay
// testable and the worker binary decides which providers ship.
package adapter

import (
	"context"
	"errors"
)

// ErrRateLimited marks provider 429 responses so middleware can back off.
// Providers wrap the underlying error with %w.
var ErrRateLimited = errors.New("rate limited by provider")

// UsageReason tags adapter calls for usage accounting.
type UsageReason string

const (
	// UsageExtraction marks completions issued by the prompt answering loop.
	UsageExtraction UsageReason = "extraction"
	// UsageSummarize marks completions issued by the summarize handler.
	UsageSummarize UsageReason = "summarize"
	// UsageChallenge marks completions issued by the challenge comparator.
	UsageChallenge UsageReason = "challenge"
)

type (
	// CompletionRequest is one LLM completion round.
	CompletionRequest struct {
		// Prompt is the fully assembled prompt text.
		Prompt string
		// MaxTokens caps the completion length. Zero uses the client default.
		MaxTokens int
		// Temperature overrides the client default when non-nil.
		Temperature *float64
	}

	// CompletionResponse carries the completion text plus provider metrics.
	CompletionResponse struct {
		Text string
		// Usage holds provider token/latency accounting, keyed the way the
		// provider reports it (prompt_tokens, completion_tokens, latency_ms).
		Usage map[string]any
		// Highlight carries adapter-produced highlight coordinates, when the
		// extraction backend supports them.
		Highlight map[string]any
		// LineNumbers maps answer fragments to source line positions.
		LineNumbers []int
		// Confidence carries per-field confidence scores, when available.
		Confidence map[string]any
		// WhisperHash identifies the upstream extraction artifact the
		// completion was grounded on, when the whisperer path produced one.
		WhisperHash string
	}

	// LLM is a completion-capable model bound to one adapter instance.
	LLM interface {
		Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
		// UsageReason returns the reason the client was constructed for.
		UsageReason() UsageReason
	}

	// Embedding converts text into vectors.
	Embedding interface {
		Embed(ctx context.Context, text string) ([]float32, error)
	}

	// Chunk is one retrieved fragment of indexed text.
	Chunk struct {
		Text  string
		Score float64
	}

	// VectorDB is a vector index bound to one adapter instance and one
	// embedding model. Handles own remote connections: every opened handle
	// must be closed by the same handler invocation that opened it.
	VectorDB interface {
		// IsDocumentIndexed reports whether docID already has entries.
		IsDocumentIndexed(ctx context.Context, docID string) (bool, error)
		// Index chunks text and writes the embeddings under docID. When the
		// document is already indexed and reindex is false this is a no-op.
		Index(ctx context.Context, docID, text string, chunkSize, chunkOverlap int, reindex bool) error
		// Query returns the topK most similar chunks for query within docID.
		Query(ctx context.Context, docID, query string, topK int) ([]Chunk, error)
		// Close releases the handle's remote connections.
		Close() error
	}

	// ExtractRequest asks an x2text backend to convert one file to text.
	ExtractRequest struct {
		// FilePath locates the source document on the execution storage.
		FilePath string
		// OutputFilePath, when set, asks the backend to persist the text.
		OutputFilePath string
		// EnableHighlight requests highlight metadata from whisperer
		// variants. Ignored by backends that do not support it.
		EnableHighlight bool
		// Tags propagate workflow tags into usage accounting.
		Tags []string
	}

	// ExtractResponse is the extraction outcome.
	ExtractResponse struct {
		Text string
		// WhisperHash is set by whisperer variants; it keys highlight lookups
		// and is persisted into the execution metadata.
		WhisperHash string
	}

	// X2Text converts documents into plain text.
	X2Text interface {
		Process(ctx context.Context, req ExtractRequest) (*ExtractResponse, error)
		// SupportsHighlight reports whether the bound adapter is a whisperer
		// variant that honors ExtractRequest.EnableHighlight.
		SupportsHighlight() bool
	}

	// Factory resolves adapter-instance IDs into bound clients. The platform
	// stores which provider and credentials each instance ID maps to.
	Factory interface {
		LLM(ctx context.Context, instanceID string, reason UsageReason) (LLM, error)
		Embedding(ctx context.Context, instanceID string) (Embedding, error)
		VectorDB(ctx context.Context, instanceID string, embedding Embedding) (VectorDB, error)
		X2Text(ctx context.Context, instanceID string) (X2Text, error)
	}
)
