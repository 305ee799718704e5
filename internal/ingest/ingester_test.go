package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/cardsmith/internal/retrieval"
)

// lengthGateway embeds text as a two-dimensional vector derived from its
// length, failing for texts containing "FAIL".
type lengthGateway struct{}

func (lengthGateway) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "FAIL") {
		return nil, errors.New("model unavailable")
	}
	return []float32{float32(len(text)), 1}, nil
}

type memStore struct {
	saved map[string][]retrieval.Chunk
	model string
	err   error
}

func (m *memStore) SaveChunks(collection, embedModel string, chunks []retrieval.Chunk) error {
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = map[string][]retrieval.Chunk{}
	}
	m.model = embedModel
	m.saved[collection] = append(m.saved[collection], chunks...)
	return nil
}

type countingProgress struct {
	total, done int
	finished    bool
}

func (p *countingProgress) Start(total int) { p.total = total }
func (p *countingProgress) Increment()      { p.done++ }
func (p *countingProgress) Finish()         { p.finished = true }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newIndex() *retrieval.Index {
	return retrieval.NewIndex(lengthGateway{}, retrieval.WithLogger(quietLogger()))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const paragraph = "The mitochondrion is the site of aerobic respiration and produces most of the cell's ATP supply."

func TestIngestFile_PlainText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", strings.Repeat(paragraph+" ", 5))

	ix := newIndex()
	store := &memStore{}
	progress := &countingProgress{}
	in := New(ix, WithStore(store, "nomic-embed-text"), WithChunking(200, 40), WithProgress(progress), WithLogger(quietLogger()))

	rep, err := in.IngestFile(context.Background(), "bio", path)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Files)
	assert.Greater(t, rep.Chunks, 1)
	assert.Equal(t, rep.Chunks, rep.Added)
	assert.Equal(t, 0, rep.Dropped())
	assert.Empty(t, rep.Skipped)

	assert.Equal(t, rep.Added, ix.Len())
	require.Len(t, store.saved["bio"], rep.Added)
	assert.Equal(t, "nomic-embed-text", store.model)
	first := store.saved["bio"][0]
	assert.Equal(t, path, first.Metadata["source"])
	assert.Equal(t, "0", first.Metadata["chunk"])
	assert.NotEmpty(t, first.Embedding)

	assert.Equal(t, rep.Chunks, progress.total)
	assert.Equal(t, rep.Chunks, progress.done)
	assert.True(t, progress.finished)
}

func TestIngestFile_DropsFailedAndShortChunks(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mixed.txt", paragraph+" FAIL "+paragraph)

	ix := newIndex()
	in := New(ix, WithChunking(60, 0), WithLogger(quietLogger()))

	rep, err := in.IngestFile(context.Background(), "bio", path)
	require.NoError(t, err)
	assert.Greater(t, rep.Dropped(), 0)
	assert.Equal(t, rep.Added, ix.Len())
}

func TestIngestFile_MissingAndBinarySkipped(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(bin, []byte{0xff, 0x00, 0xfe}, 0o644))
	in := New(newIndex(), WithLogger(quietLogger()))

	rep, err := in.IngestFile(context.Background(), "c", filepath.Join(dir, "nope.txt"))
	require.NoError(t, err)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, "file not found", rep.Skipped[0].Reason)

	rep, err = in.IngestFile(context.Background(), "c", bin)
	require.NoError(t, err)
	require.Len(t, rep.Skipped, 1)
	assert.Contains(t, rep.Skipped[0].Reason, "unsupported")
}

func TestIngestFile_CorruptPDFSkipped(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.pdf", "this is not a pdf")

	rep, err := New(newIndex(), WithLogger(quietLogger())).IngestFile(context.Background(), "c", path)
	require.NoError(t, err)
	assert.Len(t, rep.Skipped, 1)
	assert.Equal(t, 0, rep.Added)
}

func TestIngestFile_StoreErrorReturned(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.md", paragraph)
	store := &memStore{err: errors.New("disk full")}

	_, err := New(newIndex(), WithStore(store, "m"), WithLogger(quietLogger())).IngestFile(context.Background(), "c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestIngestGlob(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", paragraph)
	writeFile(t, root, "nested/deeper/b.md", paragraph+" Second file.")
	writeFile(t, root, "nested/ignored.txt", paragraph)

	ix := newIndex()
	store := &memStore{}
	progress := &countingProgress{}
	in := New(ix, WithStore(store, "m"), WithProgress(progress), WithLogger(quietLogger()))

	rep, err := in.IngestGlob(context.Background(), "notes", root, "**/*.md")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Files)
	assert.Equal(t, 2, rep.Added)
	assert.Equal(t, 2, progress.total)
	assert.Equal(t, 2, progress.done)

	sources := []string{store.saved["notes"][0].Metadata["source"], store.saved["notes"][1].Metadata["source"]}
	assert.Equal(t, []string{"a.md", "nested/deeper/b.md"}, sources)
}

func TestIngestGlob_BadPattern(t *testing.T) {
	_, err := New(newIndex()).IngestGlob(context.Background(), "c", t.TempDir(), "[")
	assert.Error(t, err)
}

func TestIngestGlob_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", paragraph)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(newIndex(), WithLogger(quietLogger())).IngestGlob(ctx, "c", root, "*.md")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestText(t *testing.T) {
	ix := newIndex()
	store := &memStore{}
	in := New(ix, WithStore(store, "nomic-embed-text"), WithChunking(200, 40), WithLogger(quietLogger()))

	rep, err := in.IngestText(context.Background(), "bio", "pasted", strings.Repeat(paragraph+" ", 3))
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Files)
	assert.Equal(t, rep.Chunks, rep.Added)
	require.NotEmpty(t, store.saved["bio"])
	assert.Equal(t, "pasted", store.saved["bio"][0].Metadata["source"])
	assert.NotContains(t, store.saved["bio"][0].Metadata, "page")
}

func TestIngestText_Blank(t *testing.T) {
	in := New(newIndex(), WithLogger(quietLogger()))

	rep, err := in.IngestText(context.Background(), "bio", "pasted", "   \n\t ")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Chunks)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, "no text", rep.Skipped[0].Reason)
}
