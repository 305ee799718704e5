package storage

import (
	"fmt"

	"github.com/kalambet/cardsmith/internal/retrieval"
)

// LoadIndex rebuilds an in-memory index for collection from its persisted
// chunks. No embeddings are recomputed; gw is only used for later queries
// and additions.
func (s *Store) LoadIndex(collection string, gw retrieval.Gateway, opts ...retrieval.IndexOption) (*retrieval.Index, error) {
	chunks, err := s.LoadChunks(collection)
	if err != nil {
		return nil, err
	}
	ix := retrieval.NewIndex(gw, opts...)
	if n := ix.Restore(chunks); n != len(chunks) {
		return ix, fmt.Errorf("restored %d of %d chunks for %q", n, len(chunks), collection)
	}
	return ix, nil
}
