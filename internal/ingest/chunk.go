package ingest

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk splits text into windows of at most size runes, each overlapping
// the previous by overlap runes. Whitespace runs are collapsed to a single
// space first. A window prefers to end at a space when one falls in its
// second half. Non-positive size uses DefaultChunkSize; an overlap outside
// [0, size) falls back to a fifth of size.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}

	runes := []rune(strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " "))
	n := len(runes)
	if n == 0 {
		return nil
	}

	var out []string
	start := 0
	for start < n {
		end := min(start+size, n)
		if end < n {
			if cut := lastSpace(runes[start:end]); cut > size/2 {
				end = start + cut
			}
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == ' ' {
			return i
		}
	}
	return -1
}
