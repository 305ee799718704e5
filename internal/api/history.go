package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/cardsmith/internal/history"
)

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		recs := deps.Ledger.Query(chi.URLParam(r, "user"), history.Filter{
			Search:      q.Get("search"),
			Deck:        q.Get("deck"),
			OldestFirst: parseBoolParam(r, "oldest"),
			Limit:       parseIntParam(r, "limit", 100, 1000),
		})
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleHistoryStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Ledger.Stats(chi.URLParam(r, "user"), time.Now()))
	}
}

func handleHistoryDecks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Ledger.Decks(chi.URLParam(r, "user")))
	}
}

// handleDeleteDeck takes the deck as a query parameter since deck names
// may contain "/" and "::".
func handleDeleteDeck(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deck := strings.TrimSpace(r.URL.Query().Get("deck"))
		if deck == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "deck is required")
			return
		}
		n, err := deps.Ledger.DeleteDeck(chi.URLParam(r, "user"), deck, parseBoolParam(r, "subdecks"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete deck history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Ledger.Clear(chi.URLParam(r, "user")); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func handleExportHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+history.SafeName(user)+`.csv"`)
		if err := deps.Ledger.ExportCSV(user, w); err != nil {
			deps.logger().Error("history export failed", "user", user, "error", err)
		}
	}
}
