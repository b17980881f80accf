package legacy

import (
	"context"

	"github.com/spf13/afero"

	"github.com/docstruct/docstruct/runtime/execution"
)

// index chunks and embeds the extracted text into the vector store under a
// deterministic doc ID. Chunk size zero bypasses indexing entirely; the
// answer path then runs in full-context mode.
func (e *Executor) index(ctx context.Context, ec execution.Context) (map[string]any, error) {
	embeddingID, err := requireString(ec, "embedding_instance_id")
	if err != nil {
		return nil, err
	}
	vectorDBID, err := requireString(ec, "vector_db_instance_id")
	if err != nil {
		return nil, err
	}
	x2textID, err := requireString(ec, "x2text_instance_id")
	if err != nil {
		return nil, err
	}
	filePath, err := requireString(ec, "file_path")
	if err != nil {
		return nil, err
	}
	chunkSize := intParam(ec.ExecutorParams, "chunk_size", 0)
	chunkOverlap := intParam(ec.ExecutorParams, "chunk_overlap", 0)
	fileHash := stringParam(ec.ExecutorParams, "file_hash")

	docID := GenerateDocID(vectorDBID, embeddingID, x2textID, chunkSize, chunkOverlap, fileHash)
	if chunkSize == 0 {
		// Full-context mode: no vector store involved, so the constructor
		// must not even run.
		return map[string]any{"doc_id": docID}, nil
	}

	fs, err := e.deps.Roots.Select(ec.ExecutionSource)
	if err != nil {
		return nil, Errorf("IndexingError: %s", err)
	}
	text, err := afero.ReadFile(fs, filePath)
	if err != nil {
		return nil, Errorf("IndexingError: read extracted text %q: %s", filePath, err)
	}

	embedding, err := e.deps.Factory.Embedding(ctx, embeddingID)
	if err != nil {
		return nil, Errorf("IndexingError: resolve embedding adapter %q: %s", embeddingID, err)
	}
	vdb, err := e.deps.Factory.VectorDB(ctx, vectorDBID, embedding)
	if err != nil {
		return nil, Errorf("IndexingError: resolve vector db adapter %q: %s", vectorDBID, err)
	}
	defer func() {
		if cerr := vdb.Close(); cerr != nil {
			e.deps.Logger.Warn(ctx, "vector db close failed", "doc_id", docID, "error", cerr.Error())
		}
	}()

	indexed, err := vdb.IsDocumentIndexed(ctx, docID)
	if err != nil {
		return nil, Errorf("IndexingError: indexed check for %q: %s", docID, err)
	}
	reindex := boolParam(ec.ExecutorParams, "reindex")
	if !indexed || reindex {
		if err := vdb.Index(ctx, docID, string(text), chunkSize, chunkOverlap, reindex); err != nil {
			return nil, Errorf("IndexingError: %s", err)
		}
	}
	return map[string]any{"doc_id": docID}, nil
}
