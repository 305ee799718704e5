package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_Empty(t *testing.T) {
	assert.Nil(t, Chunk("", 100, 10))
	assert.Nil(t, Chunk(" \n\t ", 100, 10))
}

func TestChunk_ShortTextSingleChunk(t *testing.T) {
	got := Chunk("The  heart\n\npumps   blood.", 100, 10)
	assert.Equal(t, []string{"The heart pumps blood."}, got)
}

func TestChunk_WindowsAndOverlap(t *testing.T) {
	words := make([]string, 100)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	got := Chunk(text, 50, 10)
	require.Greater(t, len(got), 1)
	for _, c := range got {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50)
		assert.False(t, strings.HasPrefix(c, " "))
	}
	// Every word survives chunking.
	joined := strings.Join(got, " ")
	assert.GreaterOrEqual(t, strings.Count(joined, "word"), 100)
}

func TestChunk_CountsRunes(t *testing.T) {
	text := strings.Repeat("é", 30)
	got := Chunk(text, 10, 0)
	require.Len(t, got, 3)
	for _, c := range got {
		assert.Equal(t, 10, utf8.RuneCountInString(c))
	}
}

func TestChunk_BadOverlapFallsBack(t *testing.T) {
	text := strings.Repeat("a", 25)
	got := Chunk(text, 10, 10)
	// overlap falls back to 2, so windows start at 0, 8, 16.
	require.Len(t, got, 3)
	assert.Equal(t, 9, len(got[2]))
}

func TestChunk_DefaultSize(t *testing.T) {
	text := strings.Repeat("b", DefaultChunkSize+1)
	got := Chunk(text, 0, -1)
	require.Len(t, got, 2)
	assert.Len(t, got[0], DefaultChunkSize)
}
