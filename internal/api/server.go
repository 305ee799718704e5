// Package api exposes the ingestion core over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/cardsmith/internal/anki"
	"github.com/kalambet/cardsmith/internal/generate"
	"github.com/kalambet/cardsmith/internal/history"
	"github.com/kalambet/cardsmith/internal/ingest"
	"github.com/kalambet/cardsmith/internal/pipeline"
	"github.com/kalambet/cardsmith/internal/retrieval"
	"github.com/kalambet/cardsmith/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxIngestBodySize  = 10 << 20 // 10MB
	maxRecallResults   = 50
)

// StatusChecker probes the flashcard store. *anki.Client satisfies it.
type StatusChecker interface {
	CheckConnectivity(ctx context.Context) (bool, string)
}

// NoteDeliverer pushes formatted notes straight to the flashcard store,
// bypassing history. *anki.Client satisfies it.
type NoteDeliverer interface {
	Deliver(ctx context.Context, notes []anki.Note, single bool) anki.Delivery
}

// Deps holds what the HTTP and MCP surfaces need.
type Deps struct {
	Store      *storage.Store
	Gateway    retrieval.Gateway
	EmbedModel string
	Ledger     *history.FileLedger
	Syncer     *pipeline.Syncer
	Anki       StatusChecker

	// Notes is optional; without it direct note pushes are unavailable.
	Notes       NoteDeliverer
	DefaultDeck string

	// Chat is optional; without it generation is unavailable.
	Chat            generate.Chatter
	ChatModel       string
	GenerateOptions []generate.Option
	IngestOptions   []ingest.Option

	TopK   int
	Token  string
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) topK() int {
	if d.TopK > 0 {
		return d.TopK
	}
	return 5
}

// loadIndex rebuilds the named collection's index from storage.
func (d Deps) loadIndex(name string) (*retrieval.Index, error) {
	return d.Store.LoadIndex(name, d.Gateway, retrieval.WithLogger(d.logger()))
}

// NewHandler returns the HTTP API. Everything except /health sits behind
// BearerAuth when deps.Token is set.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/collections", handleListCollections(deps))
		r.Delete("/collections/{name}", handleDeleteCollection(deps))
		r.Post("/collections/{name}/ingest", handleIngestText(deps))
		r.Post("/collections/{name}/chunks", handleAddChunks(deps))
		r.Post("/collections/{name}/recall", handleRecall(deps))
		r.Post("/collections/{name}/generate", handleGenerate(deps))

		r.Post("/cards/dedupe", handleDedupe(deps))
		r.Post("/users/{user}/sync", handleSync(deps))
		r.Get("/users/{user}/runs", handleListRuns(deps))

		r.Get("/users/{user}/history", handleHistory(deps))
		r.Delete("/users/{user}/history", handleClearHistory(deps))
		r.Get("/users/{user}/history/stats", handleHistoryStats(deps))
		r.Get("/users/{user}/history/decks", handleHistoryDecks(deps))
		r.Delete("/users/{user}/history/decks", handleDeleteDeck(deps))
		r.Get("/users/{user}/history/export", handleExportHistory(deps))

		r.Get("/anki/status", handleAnkiStatus(deps))
		r.Post("/anki/notes", handlePushNotes(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleAnkiStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Anki == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "AnkiConnect is not configured")
			return
		}
		ok, msg := deps.Anki.CheckConnectivity(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"connected": ok, "message": msg})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseBoolParam(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
