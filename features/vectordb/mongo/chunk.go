package mongo

import "strings"

// SplitChunks cuts text into rune windows of size with the given overlap
// between consecutive windows. Window boundaries prefer the last whitespace
// inside the window so words survive intact when possible. A non-positive
// size returns the whole text as one chunk; overlap is clamped below size.
func SplitChunks(text string, size, overlap int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if size <= 0 {
		return []string{trimmed}
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	runes := []rune(trimmed)
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			chunk := strings.TrimSpace(string(runes[start:]))
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}
		cut := end
		// Back up to the last whitespace, but never shrink below half a
		// window or progress stalls on unbroken text.
		for i := end; i > start+size/2; i-- {
			if isSpace(runes[i-1]) {
				cut = i
				break
			}
		}
		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		next := cut - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
