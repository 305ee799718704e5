// Package pipeline runs a batch of candidates through deduplication,
// history and AnkiConnect.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/cardsmith/internal/anki"
	"github.com/kalambet/cardsmith/internal/cards"
	"github.com/kalambet/cardsmith/internal/history"
	"github.com/kalambet/cardsmith/internal/storage"
)

// Pusher is the subset of *anki.Client the pipeline uses.
type Pusher interface {
	EnsureDeck(ctx context.Context, deck string) anki.Result
	PushBatch(ctx context.Context, notes []anki.Note) anki.Outcome
}

// Journal records completed runs. *storage.Store satisfies it.
type Journal interface {
	SaveSyncRun(r storage.SyncRun) error
}

// Options control one Sync call.
type Options struct {
	// Push sends kept cards to AnkiConnect; otherwise they are only recorded.
	Push bool
	// Source labels the records in history, e.g. "Generated" or "Imported".
	Source string
}

// DeckTally counts push results for one deck.
type DeckTally struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Report describes what Sync did.
type Report struct {
	Submitted   int                  `json:"submitted"`
	Kept        int                  `json:"kept"`
	Duplicates  int                  `json:"duplicates"`
	Cards       []cards.Candidate    `json:"cards"`
	Pushed      bool                 `json:"pushed"`
	Outcome     anki.Outcome         `json:"outcome"`
	Decks       map[string]DeckTally `json:"decks,omitempty"`
	DeckErrors  []string             `json:"deck_errors,omitempty"`
	LedgerError string               `json:"ledger_error,omitempty"`
	DurationMs  int64                `json:"duration_ms"`
}

// Syncer wires the ledger, the AnkiConnect client and an optional journal.
type Syncer struct {
	ledger      history.Ledger
	pusher      Pusher
	journal     Journal
	defaultDeck string
	logger      *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithJournal records each run.
func WithJournal(j Journal) Option {
	return func(s *Syncer) { s.journal = j }
}

// WithDefaultDeck sets the deck for candidates that carry none.
func WithDefaultDeck(deck string) Option {
	return func(s *Syncer) {
		if deck != "" {
			s.defaultDeck = deck
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSyncer creates a Syncer. pusher may be nil when runs never push.
func NewSyncer(ledger history.Ledger, pusher Pusher, opts ...Option) *Syncer {
	s := &Syncer{
		ledger:      ledger,
		pusher:      pusher,
		defaultDeck: cards.DefaultDeck,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync runs candidates for user through the pipeline:
//  1. Load the user's recorded fronts (unreadable history reads as empty)
//  2. Drop candidates already recorded or repeated within the batch
//  3. Record the kept candidates in history
//  4. If pushing, create each distinct deck once, then push in one batch
//  5. Journal the run
//
// Failures in steps 3 to 5 are reported, not returned: the caller always
// gets a Report.
func (s *Syncer) Sync(ctx context.Context, user string, candidates []cards.Candidate, opts Options) (rep Report) {
	start := time.Now()
	defer func() {
		rep.DurationMs = time.Since(start).Milliseconds()
	}()

	source := opts.Source
	if source == "" {
		source = "Generated"
	}

	// Fill in the default deck before dedup so history and push agree.
	batch := make([]cards.Candidate, len(candidates))
	for i, c := range candidates {
		c.Deck = c.DeckOr(s.defaultDeck)
		batch[i] = c
	}

	kept := cards.Dedupe(batch, s.ledger.Questions(user))
	rep.Submitted = len(candidates)
	rep.Kept = len(kept)
	rep.Duplicates = rep.Submitted - rep.Kept
	rep.Cards = kept
	rep.Outcome = anki.Outcome{Errors: []string{}}

	if err := s.ledger.Append(user, kept, source); err != nil {
		s.logger.Error("recording history failed", "user", user, "error", err)
		rep.LedgerError = err.Error()
	}

	if opts.Push && s.pusher != nil && len(kept) > 0 {
		rep.Pushed = true
		rep.DeckErrors = s.ensureDecks(ctx, kept)

		notes := make([]anki.Note, len(kept))
		for i, c := range kept {
			notes[i] = anki.NoteFromCandidate(c, s.defaultDeck)
		}
		rep.Outcome = s.pusher.PushBatch(ctx, notes)
		rep.Decks = tally(kept, rep.Outcome)
	}

	s.logger.Info("sync complete",
		"user", user,
		"submitted", rep.Submitted,
		"kept", rep.Kept,
		"pushed", rep.Pushed,
		"succeeded", rep.Outcome.Succeeded,
		"errors", len(rep.Outcome.Errors),
	)

	if s.journal != nil {
		run := storage.SyncRun{
			User:       user,
			Source:     source,
			Submitted:  rep.Submitted,
			Kept:       rep.Kept,
			Duplicates: rep.Duplicates,
			Pushed:     rep.Pushed,
			Succeeded:  rep.Outcome.Succeeded,
			Errors:     append(append([]string{}, rep.DeckErrors...), rep.Outcome.Errors...),
		}
		if err := s.journal.SaveSyncRun(run); err != nil {
			s.logger.Warn("journaling sync run failed", "error", err)
		}
	}
	return rep
}

// ensureDecks creates every distinct deck in order of first appearance and
// returns a message per failure.
func (s *Syncer) ensureDecks(ctx context.Context, kept []cards.Candidate) []string {
	var errs []string
	seen := map[string]bool{}
	for _, c := range kept {
		if seen[c.Deck] {
			continue
		}
		seen[c.Deck] = true
		if res := s.pusher.EnsureDeck(ctx, c.Deck); !res.OK {
			errs = append(errs, c.Deck+": "+res.Reason)
		}
	}
	return errs
}

// tally splits a batch outcome by deck. When the batch failed as a whole
// every card counts as failed.
func tally(kept []cards.Candidate, out anki.Outcome) map[string]DeckTally {
	decks := make(map[string]DeckTally)
	for i, c := range kept {
		t := decks[c.Deck]
		if out.Accepted != nil && i < len(out.Accepted) && out.Accepted[i] {
			t.Succeeded++
		} else {
			t.Failed++
		}
		decks[c.Deck] = t
	}
	return decks
}
