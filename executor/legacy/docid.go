package legacy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// GenerateDocID derives the deterministic vector-store document ID for one
// file under one chunking configuration. The same quintuple plus file hash
// always yields the same ID, which is what makes index deduplication and the
// answer path's per-prompt regeneration line up.
func GenerateDocID(vectorDBID, embeddingID, x2textID string, chunkSize, chunkOverlap int, fileHash string) string {
	key := fmt.Sprintf("%s|%s|%s|%d|%d|%s", vectorDBID, embeddingID, x2textID, chunkSize, chunkOverlap, fileHash)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
