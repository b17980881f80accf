// Package connector lists the files a workflow execution will process. The
// filesystem connector walks remote directory listings; the API connector
// ingests uploaded blobs. Both produce workflow.FileHash records keyed by
// file path and apply the same three dedup guards: content hash, provider
// UUID, and in-flight execution rows.
package connector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
)

// MaxDepth bounds recursive directory walks.
const MaxDepth = 20

// DefaultMaxFiles bounds a single listing when the workflow does not set its
// own limit.
const DefaultMaxFiles = 100

// hashChunkSize is the read granularity for content hashing. Files are never
// buffered whole.
const hashChunkSize = 4 << 20

// Extension group names accepted in connector settings.
const (
	GroupPDFDocuments  = "PDF_DOCUMENTS"
	GroupTextDocuments = "TEXT_DOCUMENTS"
	GroupImages        = "IMAGES"
)

// extensionGroups maps group names to case-insensitive glob patterns.
var extensionGroups = map[string][]string{
	GroupPDFDocuments:  {"*.pdf"},
	GroupTextDocuments: {"*.txt", "*.md", "*.csv", "*.json", "*.doc", "*.docx"},
	GroupImages:        {"*.png", "*.jpg", "*.jpeg", "*.tif", "*.tiff", "*.bmp", "*.gif", "*.webp"},
}

// supportedPatterns is the union of every group: the format allow-list files
// must pass regardless of the configured groups.
func supportedPatterns() []string {
	var out []string
	for _, patterns := range extensionGroups {
		out = append(out, patterns...)
	}
	return out
}

// patternsFor derives glob patterns from configured extension groups. Empty
// or unknown-only input falls back to matching everything.
func patternsFor(groups []string) []string {
	var out []string
	for _, g := range groups {
		if patterns, ok := extensionGroups[strings.ToUpper(strings.TrimSpace(g))]; ok {
			out = append(out, patterns...)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// matchAny reports whether the bare file name matches any pattern,
// case-insensitively.
func matchAny(patterns []string, name string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if ok, err := path.Match(strings.ToLower(p), lower); err == nil && ok {
			return true
		}
	}
	return false
}

// hashStream copies r to w while hashing, in fixed-size chunks. A nil w
// hashes without persisting.
func hashStream(w io.Writer, r io.Reader) (string, int64, error) {
	h := sha256.New()
	dst := io.Writer(h)
	if w != nil {
		dst = io.MultiWriter(w, h)
	}
	buf := make([]byte, hashChunkSize)
	n, err := io.CopyBuffer(dst, r, buf)
	if err != nil {
		return "", n, fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
