// Package mongo implements adapter.VectorDB on MongoDB Atlas vector search.
// Each indexed document becomes one row per chunk: {doc_id, chunk_no, text,
// embedding}. Queries run a $vectorSearch aggregation filtered to the doc_id
// so tenants sharing a collection never cross-read.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/docstruct/docstruct/adapter"
)

const (
	defaultIndexName     = "vector_index"
	defaultNumCandidates = 150
	defaultOpTimeout     = 30 * time.Second
)

type (
	// Options configures the vector store handle.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		// IndexName is the Atlas vector search index on the embedding field.
		IndexName string
		// Embedding converts text to vectors on both the index and query
		// paths. Required.
		Embedding adapter.Embedding
		// NumCandidates is the $vectorSearch candidate pool size. Zero uses
		// the default.
		NumCandidates int
		Timeout       time.Duration
		// OwnsClient makes Close disconnect the Mongo client. Set when the
		// factory built a dedicated connection for this handle.
		OwnsClient bool
	}

	// Store is one adapter.VectorDB handle.
	Store struct {
		mongo      *mongodriver.Client
		coll       *mongodriver.Collection
		index      string
		embedding  adapter.Embedding
		candidates int
		timeout    time.Duration
		ownsClient bool
	}

	chunkDocument struct {
		DocID     string    `bson:"doc_id"`
		ChunkNo   int       `bson:"chunk_no"`
		Text      string    `bson:"text"`
		Embedding []float32 `bson:"embedding"`
	}

	queryResult struct {
		Text  string  `bson:"text"`
		Score float64 `bson:"score"`
	}
)

// New returns a vector store handle bound to one collection and embedding
// model.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" || opts.Collection == "" {
		return nil, errors.New("database and collection names are required")
	}
	if opts.Embedding == nil {
		return nil, errors.New("embedding model is required")
	}
	index := opts.IndexName
	if index == "" {
		index = defaultIndexName
	}
	candidates := opts.NumCandidates
	if candidates <= 0 {
		candidates = defaultNumCandidates
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{
		mongo:      opts.Client,
		coll:       opts.Client.Database(opts.Database).Collection(opts.Collection),
		index:      index,
		embedding:  opts.Embedding,
		candidates: candidates,
		timeout:    timeout,
		ownsClient: opts.OwnsClient,
	}, nil
}

// IsDocumentIndexed implements adapter.VectorDB.
func (s *Store) IsDocumentIndexed(ctx context.Context, docID string) (bool, error) {
	if docID == "" {
		return false, errors.New("doc id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	count, err := s.coll.CountDocuments(ctx, bson.M{"doc_id": docID})
	if err != nil {
		return false, fmt.Errorf("count chunks for %s: %w", docID, err)
	}
	return count > 0, nil
}

// Index implements adapter.VectorDB. When the document is already indexed and
// reindex is false this is a no-op; reindex replaces the existing chunks.
func (s *Store) Index(ctx context.Context, docID, text string, chunkSize, chunkOverlap int, reindex bool) error {
	if docID == "" {
		return errors.New("doc id is required")
	}
	if chunkSize <= 0 {
		return fmt.Errorf("chunk size %d must be positive", chunkSize)
	}
	indexed, err := s.IsDocumentIndexed(ctx, docID)
	if err != nil {
		return err
	}
	if indexed && !reindex {
		return nil
	}
	chunks := SplitChunks(text, chunkSize, chunkOverlap)
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]any, 0, len(chunks))
	for i, chunk := range chunks {
		vec, err := s.embedding.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embed chunk %d of %s: %w", i, docID, err)
		}
		docs = append(docs, chunkDocument{DocID: docID, ChunkNo: i, Text: chunk, Embedding: vec})
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if indexed {
		if _, err := s.coll.DeleteMany(ctx, bson.M{"doc_id": docID}); err != nil {
			return fmt.Errorf("drop chunks for %s: %w", docID, err)
		}
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert chunks for %s: %w", docID, err)
	}
	return nil
}

// Query implements adapter.VectorDB.
func (s *Store) Query(ctx context.Context, docID, query string, topK int) ([]adapter.Chunk, error) {
	if docID == "" {
		return nil, errors.New("doc id is required")
	}
	if topK <= 0 {
		topK = 1
	}
	vec, err := s.embedding.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	pipeline := mongodriver.Pipeline{
		{{Key: "$vectorSearch", Value: bson.M{
			"index":         s.index,
			"path":          "embedding",
			"queryVector":   vec,
			"numCandidates": s.candidates,
			"limit":         topK,
			"filter":        bson.M{"doc_id": docID},
		}}},
		{{Key: "$project", Value: bson.M{
			"text":  1,
			"score": bson.M{"$meta": "vectorSearchScore"},
		}}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("vector search for %s: %w", docID, err)
	}
	var results []queryResult
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode vector search results: %w", err)
	}
	chunks := make([]adapter.Chunk, len(results))
	for i, r := range results {
		chunks[i] = adapter.Chunk{Text: r.Text, Score: r.Score}
	}
	return chunks, nil
}

// Close implements adapter.VectorDB.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.mongo.Disconnect(ctx)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
