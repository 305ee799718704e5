package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MinChunkLength is the shortest text, in characters, that AddChunk will index.
const MinChunkLength = 50

var (
	// ErrTooShort means the chunk text was below MinChunkLength.
	ErrTooShort = errors.New("chunk text shorter than minimum length")
	// ErrEmbedFailed means the gateway returned no vector for the chunk.
	ErrEmbedFailed = errors.New("embedding failed")
	// ErrDimensionMismatch means the vector length differs from the index's.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Chunk is an indexed text fragment. Chunks are immutable once added.
type Chunk struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"-"`
}

// Scored is a Chunk with its cosine similarity to a query.
type Scored struct {
	Chunk
	Score float32 `json:"score"`
}

// AddResult reports what AddChunk did with one text. A chunk that was not
// added is not an error for the caller; Err says why it was skipped.
type AddResult struct {
	Chunk Chunk
	Err   error
}

// Added reports whether the chunk was stored.
func (r AddResult) Added() bool { return r.Err == nil }

// Index holds embedded chunks in insertion order and answers top-k cosine
// similarity queries by linear scan. The embedding dimension is fixed by the
// first chunk stored after construction or Clear.
type Index struct {
	gw     Gateway
	logger *slog.Logger

	mu     sync.RWMutex
	chunks []Chunk
	dim    int
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithLogger sets the logger used for skipped chunks and failed queries.
func WithLogger(l *slog.Logger) IndexOption {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// NewIndex creates an empty Index that embeds text through gw.
func NewIndex(gw Gateway, opts ...IndexOption) *Index {
	ix := &Index{gw: gw, logger: slog.Default()}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// AddChunk embeds text and stores it. Texts shorter than MinChunkLength are
// skipped without calling the gateway. A gateway failure drops the chunk;
// ingestion of the rest of a corpus continues.
func (ix *Index) AddChunk(ctx context.Context, text string, metadata map[string]string) AddResult {
	if utf8.RuneCountInString(text) < MinChunkLength {
		return AddResult{Err: ErrTooShort}
	}

	vec, err := ix.gw.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		if err == nil {
			err = errors.New("empty vector")
		}
		ix.logger.Warn("dropping chunk: embedding failed", "error", err, "length", len(text))
		return AddResult{Err: fmt.Errorf("%w: %v", ErrEmbedFailed, err)}
	}

	c := Chunk{
		ID:        uuid.New().String(),
		Text:      text,
		Metadata:  cloneMetadata(metadata),
		Embedding: vec,
	}
	if err := ix.insert(c); err != nil {
		ix.logger.Warn("dropping chunk", "error", err)
		return AddResult{Err: err}
	}
	return AddResult{Chunk: c}
}

// AddChunks adds texts serially in order. metadata[i] belongs to texts[i];
// a short or nil metadata slice yields empty metadata. Returns the number of
// chunks stored.
func (ix *Index) AddChunks(ctx context.Context, texts []string, metadata []map[string]string) int {
	added := 0
	for i, text := range texts {
		var md map[string]string
		if i < len(metadata) {
			md = metadata[i]
		}
		if ix.AddChunk(ctx, text, md).Added() {
			added++
		}
	}
	return added
}

// Restore loads chunks that already carry embeddings, such as chunks read
// back from storage, without calling the gateway. Chunks with no embedding or
// a mismatched dimension are skipped. Returns the number restored.
func (ix *Index) Restore(chunks []Chunk) int {
	restored := 0
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.Metadata = cloneMetadata(c.Metadata)
		c.Embedding = append([]float32(nil), c.Embedding...)
		if err := ix.insert(c); err != nil {
			ix.logger.Warn("skipping restored chunk", "id", c.ID, "error", err)
			continue
		}
		restored++
	}
	return restored
}

func (ix *Index) insert(c Chunk) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dim == 0 {
		ix.dim = len(c.Embedding)
	} else if len(c.Embedding) != ix.dim {
		return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(c.Embedding), ix.dim)
	}
	ix.chunks = append(ix.chunks, c)
	return nil
}

// Search returns up to k chunks most similar to query, best first.
// An empty index, k <= 0, or a query that fails to embed yields an empty
// result, never an error.
func (ix *Index) Search(ctx context.Context, query string, k int) []Chunk {
	scored := ix.SearchScored(ctx, query, k)
	out := make([]Chunk, len(scored))
	for i, s := range scored {
		out[i] = s.Chunk
	}
	return out
}

// SearchScored is Search with the similarity score of each result.
// Equal scores keep insertion order.
func (ix *Index) SearchScored(ctx context.Context, query string, k int) []Scored {
	ix.mu.RLock()
	snapshot := ix.chunks
	ix.mu.RUnlock()

	if len(snapshot) == 0 || k <= 0 {
		return []Scored{}
	}

	q, err := ix.gw.Embed(ctx, query)
	if err != nil || len(q) == 0 {
		ix.logger.Warn("search query could not be embedded", "error", err)
		return []Scored{}
	}

	qNorm := norm(q)
	scored := make([]Scored, len(snapshot))
	for i, c := range snapshot {
		scored[i] = Scored{Chunk: c, Score: cosine(q, c.Embedding, qNorm)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

// Clear resets the index to empty, including its dimension.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.chunks = nil
	ix.dim = 0
}

// Len returns the number of stored chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Dimensions returns the embedding size fixed by the first stored chunk,
// or 0 for an empty index.
func (ix *Index) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Chunks returns the stored chunks in insertion order.
func (ix *Index) Chunks() []Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Chunk, len(ix.chunks))
	copy(out, ix.chunks)
	return out
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
