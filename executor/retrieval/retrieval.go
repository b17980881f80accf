// Package retrieval selects the context chunks a prompt is answered
// against. Two strategies run against the vector index; a third path bypasses
// the index entirely and hands the whole extracted text to the model, which
// is what chunk size zero means everywhere in the system.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/docstruct/docstruct/adapter"
)

// Strategy names. Values outside this set make the caller skip retrieval.
const (
	StrategySimple      = "simple"
	StrategySubquestion = "subquestion"
	// StrategyFullContext tags metrics for the chunk-size-zero bypass.
	StrategyFullContext = "full_context"
)

// KnownStrategy reports whether s names a retrieval strategy this package
// implements.
func KnownStrategy(s string) bool {
	return s == StrategySimple || s == StrategySubquestion
}

const subquestionPrompt = "Break the following question into simpler sub-questions that can each be answered from a document excerpt. Return one sub-question per line with no numbering or explanation.\n\nQuestion: %s\n\nSub-questions:"

type (
	// Service runs retrieval and records per-prompt metrics.
	Service struct {
		now func() time.Time
	}

	// Option configures a Service.
	Option func(*Service)
)

// WithClock overrides the time source. Test support.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a retrieval Service.
func New(opts ...Option) *Service {
	s := &Service{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run retrieves chunks for query from docID using the named strategy and
// records sink[promptName].context_retrieval.
func (s *Service) Run(ctx context.Context, query, docID string, llm adapter.LLM, vdb adapter.VectorDB, strategy string, topK int, sink map[string]any, promptName string) ([]string, error) {
	start := s.now()
	var (
		chunks []string
		err    error
	)
	switch strategy {
	case StrategySimple:
		chunks, err = s.simple(ctx, query, docID, vdb, topK)
	case StrategySubquestion:
		chunks, err = s.subquestion(ctx, query, docID, llm, vdb, topK)
	default:
		return nil, fmt.Errorf("unknown retrieval strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}
	s.record(sink, promptName, strategy, len(chunks), start)
	return chunks, nil
}

// CompleteContext is the chunk-size-zero path: the whole extracted text is
// returned as a single chunk read straight from execution storage.
func (s *Service) CompleteContext(fs afero.Fs, filePath string, sink map[string]any, promptName string) ([]string, error) {
	start := s.now()
	data, err := afero.ReadFile(fs, filePath)
	if err != nil {
		return nil, fmt.Errorf("read extracted text %q: %w", filePath, err)
	}
	s.record(sink, promptName, StrategyFullContext, 1, start)
	return []string{string(data)}, nil
}

func (s *Service) simple(ctx context.Context, query, docID string, vdb adapter.VectorDB, topK int) ([]string, error) {
	if topK < 1 {
		topK = 1
	}
	found, err := vdb.Query(ctx, docID, query, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	chunks := make([]string, 0, len(found))
	for _, c := range found {
		chunks = append(chunks, c.Text)
	}
	return chunks, nil
}

// subquestion decomposes the query with one LLM call, retrieves per
// sub-question, and unions the chunks preserving first-seen order.
func (s *Service) subquestion(ctx context.Context, query, docID string, llm adapter.LLM, vdb adapter.VectorDB, topK int) ([]string, error) {
	resp, err := llm.Complete(ctx, adapter.CompletionRequest{
		Prompt: fmt.Sprintf(subquestionPrompt, query),
	})
	if err != nil {
		return nil, fmt.Errorf("decompose question: %w", err)
	}
	subqs := splitLines(resp.Text)
	if len(subqs) == 0 {
		subqs = []string{query}
	}
	seen := make(map[string]struct{})
	var union []string
	for _, sq := range subqs {
		chunks, err := s.simple(ctx, sq, docID, vdb, topK)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			union = append(union, c)
		}
	}
	return union, nil
}

func (s *Service) record(sink map[string]any, promptName, strategy string, count int, start time.Time) {
	if sink == nil || promptName == "" {
		return
	}
	entry, ok := sink[promptName].(map[string]any)
	if !ok {
		entry = make(map[string]any)
		sink[promptName] = entry
	}
	entry["context_retrieval"] = map[string]any{
		"time_taken_s": s.now().Sub(start).Seconds(),
		"chunk_count":  count,
		"strategy":     strategy,
	}
}

func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
