// Package factory resolves platform adapter-instance IDs into bound provider
// clients. The platform stores which provider family and credentials each
// instance maps to; the factory fetches the decrypted configuration and
// constructs the matching features binding. Handlers only ever see the
// adapter interfaces.
package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/docstruct/docstruct/adapter"
	embopenai "github.com/docstruct/docstruct/features/embedding/openai"
	llmanthropic "github.com/docstruct/docstruct/features/llm/anthropic"
	llmbedrock "github.com/docstruct/docstruct/features/llm/bedrock"
	llmopenai "github.com/docstruct/docstruct/features/llm/openai"
	vecmongo "github.com/docstruct/docstruct/features/vectordb/mongo"
	x2tplatform "github.com/docstruct/docstruct/features/x2text/platform"
	"github.com/docstruct/docstruct/platform"
	"github.com/docstruct/docstruct/runtime/telemetry"
)

// Adapter family prefixes. adapter_id is "<family>|<uuid>".
const (
	familyOpenAI    = "openai"
	familyAnthropic = "anthropic"
	familyBedrock   = "bedrock"
	familyMongo     = "mongodb"
)

type (
	// ConfigSource is the subset of the platform client the factory needs.
	// Satisfied by *platform.Client.
	ConfigSource interface {
		GetAdapterConfig(ctx context.Context, adapterInstanceID string) (*platform.AdapterConfig, error)
		ExtractText(ctx context.Context, req platform.X2TextRequest) (*platform.X2TextResponse, error)
	}

	// Options configures the factory.
	Options struct {
		Platform ConfigSource
		// LLMMiddleware wraps every constructed LLM, typically with the
		// adaptive rate limiter. Optional.
		LLMMiddleware func(adapter.LLM) adapter.LLM
		Logger        telemetry.Logger
	}

	// Option mutates Options.
	Option func(*Options)

	// Factory implements adapter.Factory against the platform adapter
	// registry.
	Factory struct {
		platform ConfigSource
		wrap     func(adapter.LLM) adapter.LLM
		logger   telemetry.Logger
	}
)

var _ adapter.Factory = (*Factory)(nil)

// WithLLMMiddleware wraps every constructed LLM.
func WithLLMMiddleware(wrap func(adapter.LLM) adapter.LLM) Option {
	return func(o *Options) { o.LLMMiddleware = wrap }
}

// WithLogger overrides the no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// New constructs a Factory bound to the platform config source.
func New(source ConfigSource, opts ...Option) (*Factory, error) {
	if source == nil {
		return nil, errors.New("platform config source is required")
	}
	options := Options{Platform: source, Logger: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return &Factory{
		platform: options.Platform,
		wrap:     options.LLMMiddleware,
		logger:   options.Logger,
	}, nil
}

// LLM implements adapter.Factory.
func (f *Factory) LLM(ctx context.Context, instanceID string, reason adapter.UsageReason) (adapter.LLM, error) {
	cfg, err := f.platform.GetAdapterConfig(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	llm, err := f.buildLLM(cfg, reason)
	if err != nil {
		return nil, err
	}
	if f.wrap != nil {
		llm = f.wrap(llm)
	}
	return llm, nil
}

func (f *Factory) buildLLM(cfg *platform.AdapterConfig, reason adapter.UsageReason) (adapter.LLM, error) {
	model := stringMeta(cfg.AdapterMetadata, "model", "model_name")
	switch family(cfg.AdapterID) {
	case familyOpenAI:
		return llmopenai.NewFromAPIKey(stringMeta(cfg.AdapterMetadata, "api_key"), model, reason)
	case familyAnthropic:
		return llmanthropic.NewFromAPIKey(stringMeta(cfg.AdapterMetadata, "api_key"), model, reason)
	case familyBedrock:
		return llmbedrock.NewFromCredentials(
			stringMeta(cfg.AdapterMetadata, "region", "region_name"),
			stringMeta(cfg.AdapterMetadata, "access_key_id"),
			stringMeta(cfg.AdapterMetadata, "secret_access_key"),
			model,
			reason,
		)
	default:
		return nil, fmt.Errorf("unsupported llm adapter family %q", family(cfg.AdapterID))
	}
}

// Embedding implements adapter.Factory.
func (f *Factory) Embedding(ctx context.Context, instanceID string) (adapter.Embedding, error) {
	cfg, err := f.platform.GetAdapterConfig(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	switch family(cfg.AdapterID) {
	case familyOpenAI:
		return embopenai.NewFromAPIKey(
			stringMeta(cfg.AdapterMetadata, "api_key"),
			stringMeta(cfg.AdapterMetadata, "model", "model_name"),
		)
	default:
		return nil, fmt.Errorf("unsupported embedding adapter family %q", family(cfg.AdapterID))
	}
}

// VectorDB implements adapter.Factory. The returned handle owns a dedicated
// Mongo connection; callers must Close it.
func (f *Factory) VectorDB(ctx context.Context, instanceID string, embedding adapter.Embedding) (adapter.VectorDB, error) {
	cfg, err := f.platform.GetAdapterConfig(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	switch family(cfg.AdapterID) {
	case familyMongo:
		uri := stringMeta(cfg.AdapterMetadata, "connection_string", "uri")
		if uri == "" {
			return nil, fmt.Errorf("vector db instance %q has no connection string", instanceID)
		}
		client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(uri))
		if err != nil {
			return nil, fmt.Errorf("connect vector db: %w", err)
		}
		return vecmongo.New(vecmongo.Options{
			Client:     client,
			Database:   stringMeta(cfg.AdapterMetadata, "database", "db"),
			Collection: stringMeta(cfg.AdapterMetadata, "collection"),
			IndexName:  stringMeta(cfg.AdapterMetadata, "index_name"),
			Embedding:  embedding,
			OwnsClient: true,
		})
	default:
		return nil, fmt.Errorf("unsupported vector db adapter family %q", family(cfg.AdapterID))
	}
}

// X2Text implements adapter.Factory. Extraction always runs through the
// platform service; the family only decides highlight support.
func (f *Factory) X2Text(ctx context.Context, instanceID string) (adapter.X2Text, error) {
	cfg, err := f.platform.GetAdapterConfig(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return x2tplatform.New(x2tplatform.Options{
		Client:     f.platform,
		InstanceID: instanceID,
		AdapterID:  cfg.AdapterID,
	})
}

// family extracts the provider family from an adapter ID of the form
// "<family>|<uuid>".
func family(adapterID string) string {
	fam := adapterID
	if i := strings.IndexByte(fam, '|'); i >= 0 {
		fam = fam[:i]
	}
	return strings.ToLower(strings.TrimSpace(fam))
}

// stringMeta returns the first non-empty string value under any of the keys.
func stringMeta(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := meta[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
