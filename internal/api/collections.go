package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/cardsmith/internal/generate"
	"github.com/kalambet/cardsmith/internal/ingest"
	"github.com/kalambet/cardsmith/internal/retrieval"
	"github.com/kalambet/cardsmith/internal/storage"
)

// IngestRequest carries text to chunk and index into a collection.
type IngestRequest struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// RecallRequest is a similarity query against one collection.
type RecallRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

func handleListCollections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cols, err := deps.Store.ListCollections()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list collections: %v", err)
			return
		}
		if cols == nil {
			cols = []storage.Collection{}
		}
		writeJSON(w, http.StatusOK, cols)
	}
}

func handleDeleteCollection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		err := deps.Store.DeleteCollection(name)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "collection %q not found", name)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete collection: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleIngestText(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}

		name := chi.URLParam(r, "name")
		ix, err := deps.loadIndex(name)
		if errors.Is(err, storage.ErrNotFound) {
			ix = retrieval.NewIndex(deps.Gateway, retrieval.WithLogger(deps.logger()))
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load collection: %v", err)
			return
		}

		opts := append(slices.Clone(deps.IngestOptions),
			ingest.WithStore(deps.Store, deps.EmbedModel),
			ingest.WithLogger(deps.logger()),
		)
		rep, err := ingest.New(ix, opts...).IngestText(r.Context(), name, req.Source, req.Content)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "ingest failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// ChunksRequest adds pre-split texts to a collection. Metadata, when given,
// is matched to Texts by position.
type ChunksRequest struct {
	Texts    []string            `json:"texts"`
	Metadata []map[string]string `json:"metadata,omitempty"`
}

func handleAddChunks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req ChunksRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Texts) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "texts is required")
			return
		}

		name := chi.URLParam(r, "name")
		ix, err := deps.loadIndex(name)
		if errors.Is(err, storage.ErrNotFound) {
			ix = retrieval.NewIndex(deps.Gateway, retrieval.WithLogger(deps.logger()))
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load collection: %v", err)
			return
		}

		before := ix.Len()
		added := ix.AddChunks(r.Context(), req.Texts, req.Metadata)
		if added > 0 {
			if err := deps.Store.SaveChunks(name, deps.EmbedModel, ix.Chunks()[before:]); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save chunks: %v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]int{
			"submitted": len(req.Texts),
			"added":     added,
			"dropped":   len(req.Texts) - added,
		})
	}
}

func handleRecall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RecallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		k := req.K
		if k <= 0 {
			k = deps.topK()
		}
		k = min(k, maxRecallResults)

		name := chi.URLParam(r, "name")
		ix, err := deps.loadIndex(name)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "collection %q not found", name)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load collection: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"results": ix.SearchScored(r.Context(), req.Query, k),
		})
	}
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Chat == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "card generation is not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req generate.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Topic) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "topic is required")
			return
		}

		opts := append(slices.Clone(deps.GenerateOptions), generate.WithLogger(deps.logger()))
		if req.Context {
			name := chi.URLParam(r, "name")
			ix, err := deps.loadIndex(name)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				httpError(w, http.StatusNotFound, "not_found", "collection %q not found", name)
				return
			case err != nil:
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load collection: %v", err)
				return
			}
			opts = append(opts, generate.WithSearcher(ix, deps.topK()))
		}

		out, err := generate.New(deps.Chat, deps.ChatModel, opts...).Generate(r.Context(), req)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "generation failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cards": out})
	}
}
