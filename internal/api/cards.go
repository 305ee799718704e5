package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/cardsmith/internal/anki"
	"github.com/kalambet/cardsmith/internal/cards"
	"github.com/kalambet/cardsmith/internal/pipeline"
	"github.com/kalambet/cardsmith/internal/storage"
)

// DedupeRequest filters rows against existing fronts. When User is set the
// user's recorded history is added to Existing.
type DedupeRequest struct {
	User     string      `json:"user,omitempty"`
	Rows     []cards.Row `json:"rows"`
	Existing []string    `json:"existing,omitempty"`
}

// SyncRequest submits a batch for one user. TSV, when set, is parsed and
// appended to Cards.
type SyncRequest struct {
	Cards  []cards.Candidate `json:"cards"`
	TSV    string            `json:"tsv,omitempty"`
	Deck   string            `json:"deck,omitempty"`
	Tag    string            `json:"tag,omitempty"`
	Push   bool              `json:"push"`
	Source string            `json:"source,omitempty"`
}

// Candidates returns the request's cards plus any parsed from TSV. Deck and
// Tag fill in blanks.
func (r SyncRequest) Candidates() []cards.Candidate {
	out := append([]cards.Candidate{}, r.Cards...)
	if r.TSV != "" {
		out = append(out, cards.ParseTSV(r.TSV)...)
	}
	for i := range out {
		if out[i].Deck == "" {
			out[i].Deck = r.Deck
		}
		if out[i].Tag == "" {
			out[i].Tag = r.Tag
		}
	}
	return out
}

func handleDedupe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req DedupeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		existing := req.Existing
		if req.User != "" && deps.Ledger != nil {
			existing = append(deps.Ledger.Questions(req.User), existing...)
		}
		kept := cards.DedupeRows(req.Rows, existing)
		writeJSON(w, http.StatusOK, map[string]any{
			"rows":       kept,
			"kept":       len(kept),
			"duplicates": len(req.Rows) - len(kept),
		})
	}
}

func handleSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req SyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		batch := req.Candidates()
		if len(batch) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no cards in request")
			return
		}

		user := chi.URLParam(r, "user")
		rep := deps.Syncer.Sync(r.Context(), user, batch, pipeline.Options{Push: req.Push, Source: req.Source})
		writeJSON(w, http.StatusOK, rep)
	}
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		runs, err := deps.Store.RecentSyncRuns(chi.URLParam(r, "user"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sync runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.SyncRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// PushNotesRequest sends tabular rows straight to AnkiConnect without
// touching history. Deck fills rows that have none. Single pushes one note
// per call.
type PushNotesRequest struct {
	Rows   []cards.Row `json:"rows"`
	Deck   string      `json:"deck,omitempty"`
	Single bool        `json:"single,omitempty"`
}

func handlePushNotes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Notes == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "AnkiConnect is not configured")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req PushNotesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Rows) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "rows is required")
			return
		}
		deck := req.Deck
		if deck == "" {
			deck = deps.DefaultDeck
		}
		writeJSON(w, http.StatusOK, deps.Notes.Deliver(r.Context(), anki.NotesFromRows(req.Rows, deck), req.Single))
	}
}
