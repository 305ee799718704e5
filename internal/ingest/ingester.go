// Package ingest turns documents on disk into indexed chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kalambet/cardsmith/internal/retrieval"
)

// Indexer embeds and stores one chunk. *retrieval.Index satisfies it.
type Indexer interface {
	AddChunk(ctx context.Context, text string, metadata map[string]string) retrieval.AddResult
}

// ChunkStore persists chunks that made it into the index.
type ChunkStore interface {
	SaveChunks(collection, embedModel string, chunks []retrieval.Chunk) error
}

// ProgressReporter receives progress as chunks or files are processed.
type ProgressReporter interface {
	Start(total int)
	Increment()
	Finish()
}

// Skip records a file that could not be ingested.
type Skip struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarizes an ingest run.
type Report struct {
	Files   int    `json:"files"`
	Chunks  int    `json:"chunks"`
	Added   int    `json:"added"`
	Skipped []Skip `json:"skipped,omitempty"`
}

// Dropped is the number of chunks that were produced but not indexed.
func (r Report) Dropped() int { return r.Chunks - r.Added }

func (r *Report) merge(o Report) {
	r.Files += o.Files
	r.Chunks += o.Chunks
	r.Added += o.Added
	r.Skipped = append(r.Skipped, o.Skipped...)
}

// Ingester extracts, chunks and indexes documents. Chunks are embedded one
// at a time in document order.
type Ingester struct {
	index      Indexer
	store      ChunkStore
	embedModel string
	size       int
	overlap    int
	progress   ProgressReporter
	logger     *slog.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithStore persists added chunks under the collection name. embedModel is
// recorded alongside so a collection is not reloaded with another model.
func WithStore(s ChunkStore, embedModel string) Option {
	return func(in *Ingester) {
		in.store = s
		in.embedModel = embedModel
	}
}

// WithChunking overrides the chunk size and overlap, in runes.
func WithChunking(size, overlap int) Option {
	return func(in *Ingester) {
		in.size = size
		in.overlap = overlap
	}
}

// WithProgress reports progress to p.
func WithProgress(p ProgressReporter) Option {
	return func(in *Ingester) { in.progress = p }
}

// WithLogger sets the logger for skipped files.
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingester) {
		if l != nil {
			in.logger = l
		}
	}
}

// New creates an Ingester feeding index.
func New(index Indexer, opts ...Option) *Ingester {
	in := &Ingester{
		index:   index,
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// IngestFile indexes one file. A file that cannot be read or parsed is
// recorded in Report.Skipped rather than returned as an error; the error
// result is reserved for cancellation and storage failures.
func (in *Ingester) IngestFile(ctx context.Context, collection, path string) (Report, error) {
	return in.ingest(ctx, collection, path, path, true)
}

// IngestGlob indexes every regular file under root matching pattern, in
// lexical order. Patterns use doublestar syntax, so "**/*.pdf" matches at
// any depth.
func (in *Ingester) IngestGlob(ctx context.Context, collection, root, pattern string) (Report, error) {
	if !doublestar.ValidatePattern(pattern) {
		return Report{}, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return Report{}, fmt.Errorf("expanding %q: %w", pattern, err)
	}
	sort.Strings(matches)

	if in.progress != nil {
		in.progress.Start(len(matches))
		defer in.progress.Finish()
	}

	var total Report
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rep, err := in.ingest(ctx, collection, filepath.Join(root, filepath.FromSlash(rel)), rel, false)
		total.merge(rep)
		if err != nil {
			return total, err
		}
		if in.progress != nil {
			in.progress.Increment()
		}
	}
	return total, nil
}

// ingest processes one file. source is the name recorded in chunk metadata.
// When perChunk is set, progress advances per chunk instead of per file.
func (in *Ingester) ingest(ctx context.Context, collection, path, source string, perChunk bool) (Report, error) {
	rep := Report{Files: 1}

	pages, err := ExtractText(path)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, fs.ErrNotExist) {
			reason = "file not found"
		}
		in.logger.Warn("skipping file", "path", path, "error", err)
		rep.Skipped = append(rep.Skipped, Skip{Path: path, Reason: reason})
		return rep, nil
	}

	rep, err = in.indexPages(ctx, collection, path, source, pages, perChunk)
	rep.Files = 1
	if err != nil {
		return rep, err
	}
	if rep.Chunks > 0 {
		in.logger.Info("ingested file", "path", path, "chunks", rep.Chunks, "added", rep.Added)
	}
	return rep, nil
}

// IngestText indexes text that did not come from a file, such as a pasted
// note or a request body. source names it in chunk metadata.
func (in *Ingester) IngestText(ctx context.Context, collection, source, text string) (Report, error) {
	rep, err := in.indexPages(ctx, collection, source, source, []Page{{Number: 1, Text: text}}, false)
	if err != nil {
		return rep, err
	}
	in.logger.Info("ingested text", "source", source, "chunks", rep.Chunks, "added", rep.Added)
	return rep, nil
}

func (in *Ingester) indexPages(ctx context.Context, collection, path, source string, pages []Page, perChunk bool) (Report, error) {
	var rep Report

	type piece struct {
		text string
		page int
	}
	var pieces []piece
	for _, p := range pages {
		for _, c := range Chunk(p.Text, in.size, in.overlap) {
			pieces = append(pieces, piece{text: c, page: p.Number})
		}
	}
	rep.Chunks = len(pieces)
	if len(pieces) == 0 {
		rep.Skipped = append(rep.Skipped, Skip{Path: path, Reason: "no text"})
		return rep, nil
	}

	if perChunk && in.progress != nil {
		in.progress.Start(len(pieces))
		defer in.progress.Finish()
	}

	var added []retrieval.Chunk
	for i, p := range pieces {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		md := map[string]string{
			"source": source,
			"chunk":  strconv.Itoa(i),
		}
		if len(pages) > 1 || p.page > 1 {
			md["page"] = strconv.Itoa(p.page)
		}
		if res := in.index.AddChunk(ctx, p.text, md); res.Added() {
			added = append(added, res.Chunk)
		}
		if perChunk && in.progress != nil {
			in.progress.Increment()
		}
	}
	rep.Added = len(added)

	if in.store != nil && len(added) > 0 {
		if err := in.store.SaveChunks(collection, in.embedModel, added); err != nil {
			return rep, fmt.Errorf("saving chunks for %s: %w", path, err)
		}
	}
	return rep, nil
}
