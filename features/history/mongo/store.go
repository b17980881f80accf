// Package mongo implements the workflow file-history and file-execution
// stores on MongoDB. Unique indexes back the duplicate detection the in-flight
// guard relies on: a lost insert race between workers surfaces as
// workflow.ErrDuplicateFileExecution instead of a second row.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/docstruct/docstruct/workflow"
)

const (
	defaultHistoryCollection    = "file_history"
	defaultExecutionsCollection = "file_executions"
	defaultTimeout              = 5 * time.Second
	storeName                   = "history-mongo"
)

type (
	// Options configures the Mongo-backed stores.
	Options struct {
		Client               *mongodriver.Client
		Database             string
		HistoryCollection    string
		ExecutionsCollection string
		Timeout              time.Duration
	}

	// Store implements workflow.HistoryStore and workflow.FileExecutionStore
	// on a shared Mongo database.
	Store struct {
		mongo      *mongodriver.Client
		history    *mongodriver.Collection
		executions *mongodriver.Collection
		timeout    time.Duration
	}

	historyDocument struct {
		WorkflowID  string    `bson:"workflow_id"`
		CacheKey    string    `bson:"cache_key"`
		FilePath    string    `bson:"file_path"`
		Status      string    `bson:"status"`
		Result      string    `bson:"result,omitempty"`
		IsCompleted bool      `bson:"is_completed"`
		CreatedAt   time.Time `bson:"created_at"`
	}

	executionDocument struct {
		ID                  string `bson:"_id"`
		WorkflowExecutionID string `bson:"workflow_execution_id"`
		FileHash            string `bson:"file_hash,omitempty"`
		FilePath            string `bson:"file_path"`
		ProviderFileUUID    string `bson:"provider_file_uuid,omitempty"`
		Status              string `bson:"status"`
		ExecutionTimeMS     int64  `bson:"execution_time_ms,omitempty"`
		ExecutionError      string `bson:"execution_error,omitempty"`
	}
)

// New returns a Store backed by the provided MongoDB client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	historyColl := opts.HistoryCollection
	if historyColl == "" {
		historyColl = defaultHistoryCollection
	}
	execColl := opts.ExecutionsCollection
	if execColl == "" {
		execColl = defaultExecutionsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &Store{
		mongo:      opts.Client,
		history:    db.Collection(historyColl),
		executions: db.Collection(execColl),
		timeout:    timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return storeName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Lookup implements workflow.HistoryStore.
func (s *Store) Lookup(ctx context.Context, workflowID, cacheKey, filePath string) (*workflow.HistoryEntry, error) {
	if workflowID == "" || cacheKey == "" {
		return nil, errors.New("workflow id and cache key are required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"workflow_id": workflowID, "cache_key": cacheKey, "file_path": filePath}
	var doc historyDocument
	if err := s.history.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("history lookup: %w", err)
	}
	return &workflow.HistoryEntry{
		WorkflowID:  doc.WorkflowID,
		CacheKey:    doc.CacheKey,
		FilePath:    doc.FilePath,
		Status:      workflow.Status(doc.Status),
		Result:      doc.Result,
		IsCompleted: doc.IsCompleted,
		CreatedAt:   doc.CreatedAt,
	}, nil
}

// Record implements workflow.HistoryStore. Re-runs overwrite the previous
// row.
func (s *Store) Record(ctx context.Context, entry workflow.HistoryEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := entry.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	doc := historyDocument{
		WorkflowID:  entry.WorkflowID,
		CacheKey:    entry.CacheKey,
		FilePath:    entry.FilePath,
		Status:      string(entry.Status),
		Result:      entry.Result,
		IsCompleted: entry.IsCompleted,
		CreatedAt:   now.UTC(),
	}
	filter := bson.M{"workflow_id": entry.WorkflowID, "cache_key": entry.CacheKey, "file_path": entry.FilePath}
	update := bson.M{"$set": doc}
	_, err := s.history.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("history record: %w", err)
	}
	return nil
}

// Create implements workflow.FileExecutionStore.
func (s *Store) Create(ctx context.Context, fe workflow.FileExecution) error {
	if fe.ID == "" {
		return errors.New("file execution id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := executionDocument{
		ID:                  fe.ID,
		WorkflowExecutionID: fe.WorkflowExecutionID,
		FileHash:            fe.FileHash,
		FilePath:            fe.FilePath,
		ProviderFileUUID:    fe.ProviderFileUUID,
		Status:              string(fe.Status),
		ExecutionTimeMS:     fe.ExecutionTime.Milliseconds(),
		ExecutionError:      fe.ExecutionError,
	}
	if _, err := s.executions.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return workflow.ErrDuplicateFileExecution
		}
		return fmt.Errorf("create file execution: %w", err)
	}
	return nil
}

// UpdateStatus implements workflow.FileExecutionStore.
func (s *Store) UpdateStatus(ctx context.Context, id string, status workflow.Status, execError string) error {
	if id == "" {
		return errors.New("file execution id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	update := bson.M{"$set": bson.M{"status": string(status), "execution_error": execError}}
	res, err := s.executions.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update file execution %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("no file execution %q", id)
	}
	return nil
}

// AnyInFlight implements workflow.FileExecutionStore.
func (s *Store) AnyInFlight(ctx context.Context, q workflow.InFlightQuery) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	inflight := bson.A{
		string(workflow.StatusPending),
		string(workflow.StatusExecuting),
		string(workflow.StatusQueued),
	}
	var identity bson.A
	if q.FileHash != "" {
		identity = append(identity, bson.M{"file_hash": q.FileHash})
	}
	if q.ProviderFileUUID != "" {
		identity = append(identity, bson.M{"provider_file_uuid": q.ProviderFileUUID})
	}
	if len(identity) == 0 {
		return false, nil
	}
	filter := bson.M{
		"workflow_execution_id": q.WorkflowExecutionID,
		"file_path":             q.FilePath,
		"status":                bson.M{"$in": inflight},
		"$or":                   identity,
	}
	count, err := s.executions.CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("in-flight probe: %w", err)
	}
	return count > 0, nil
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

// ensureIndexes creates the history lookup index and the two partial unique
// indexes behind duplicate detection. Partial filters keep rows without a
// hash or provider UUID from colliding on the sparse field.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.history.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "workflow_id", Value: 1}, {Key: "cache_key", Value: 1}, {Key: "file_path", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create history index: %w", err)
	}
	_, err = s.executions.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys: bson.D{{Key: "workflow_execution_id", Value: 1}, {Key: "file_hash", Value: 1}, {Key: "file_path", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"file_hash": bson.M{"$exists": true}}),
		},
		{
			Keys: bson.D{{Key: "workflow_execution_id", Value: 1}, {Key: "provider_file_uuid", Value: 1}, {Key: "file_path", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"provider_file_uuid": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return fmt.Errorf("create execution indexes: %w", err)
	}
	return nil
}
