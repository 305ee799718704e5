package anki

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/cardsmith/internal/cards"
)

// Note is an AnkiConnect note in the Basic model.
type Note struct {
	DeckName  string      `json:"deckName"`
	ModelName string      `json:"modelName"`
	Fields    NoteFields  `json:"fields"`
	Options   NoteOptions `json:"options"`
	Tags      []string    `json:"tags"`
}

// NoteFields holds the Basic model's two fields.
type NoteFields struct {
	Front string `json:"Front"`
	Back  string `json:"Back"`
}

// NoteOptions controls AnkiConnect's own duplicate check.
type NoteOptions struct {
	AllowDuplicate bool   `json:"allowDuplicate"`
	DuplicateScope string `json:"duplicateScope"`
}

// NewNote builds a Basic note that AnkiConnect rejects if the same front
// already exists in deck.
func NewNote(front, back, deck string, tags []string) Note {
	if tags == nil {
		tags = []string{}
	}
	return Note{
		DeckName:  deck,
		ModelName: "Basic",
		Fields:    NoteFields{Front: front, Back: back},
		Options:   NoteOptions{AllowDuplicate: false, DuplicateScope: "deck"},
		Tags:      tags,
	}
}

// NoteFromCandidate converts a candidate, falling back to defaultDeck.
func NoteFromCandidate(c cards.Candidate, defaultDeck string) Note {
	return NewNote(c.Front, c.Back, c.DeckOr(defaultDeck), splitTags(c.Tag))
}

// NotesFromRows converts tabular rows keyed Front, Back, Deck and Tag.
// A missing or blank Tag yields no tags; a missing Deck uses defaultDeck.
func NotesFromRows(rows []cards.Row, defaultDeck string) []Note {
	out := make([]Note, 0, len(rows))
	for _, r := range rows {
		deck := strings.TrimSpace(r["Deck"])
		if deck == "" {
			deck = defaultDeck
		}
		if deck == "" {
			deck = cards.DefaultDeck
		}
		out = append(out, NewNote(r["Front"], r["Back"], deck, splitTags(r["Tag"])))
	}
	return out
}

// splitTags treats tag as a whitespace-separated list, the form Anki uses.
func splitTags(tag string) []string {
	return strings.Fields(tag)
}

// Result is the outcome of a best-effort step such as deck creation.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Outcome aggregates a batch push. Errors has one entry per rejected note,
// or a single entry when the batch failed as a whole.
type Outcome struct {
	Succeeded int      `json:"succeeded"`
	Errors    []string `json:"errors"`
	// Accepted reports per-note success in submission order. It is nil when
	// the batch failed as a whole.
	Accepted []bool `json:"-"`
}

// EnsureDeck creates deck if it does not exist. AnkiConnect treats an
// existing deck as success, and the result may be the deck id or null.
// Failure is logged and returned, never raised.
func (c *Client) EnsureDeck(ctx context.Context, deck string) Result {
	if err := c.call(ctx, c.singleTimeout, "createDeck", map[string]string{"deck": deck}, nil); err != nil {
		reason := c.describe(err)
		c.logger.Warn("anki create deck failed", "deck", deck, "error", err)
		return Result{Reason: reason}
	}
	return Result{OK: true}
}

// PushSingle adds one note. It returns true only when AnkiConnect reports
// no error.
func (c *Client) PushSingle(ctx context.Context, n Note) bool {
	if n.Tags == nil {
		n.Tags = []string{}
	}
	err := c.call(ctx, c.singleTimeout, "addNote", map[string]any{"note": n}, nil)
	if err != nil {
		c.logger.Warn("anki add note failed", "deck", n.DeckName, "error", err)
		return false
	}
	return true
}

// PushBatch adds notes in one call. Per-note failures are counted by
// position; a transport failure or top-level error fails the whole batch.
// An empty batch makes no call.
func (c *Client) PushBatch(ctx context.Context, notes []Note) Outcome {
	if len(notes) == 0 {
		return Outcome{Errors: []string{}, Accepted: []bool{}}
	}
	notes = append([]Note(nil), notes...)
	for i := range notes {
		if notes[i].Tags == nil {
			notes[i].Tags = []string{}
		}
	}

	var ids []any
	err := c.call(ctx, c.batchTimeout(), "addNotes", map[string]any{"notes": notes}, &ids)
	if err != nil {
		c.logger.Warn("anki batch push failed", "notes", len(notes), "error", err)
		return Outcome{Errors: []string{"Batch push failed: " + c.describe(err)}}
	}

	out := Outcome{Errors: []string{}, Accepted: make([]bool, len(notes))}
	for i := range notes {
		if i < len(ids) && truthy(ids[i]) {
			out.Succeeded++
			out.Accepted[i] = true
			continue
		}
		out.Errors = append(out.Errors, fmt.Sprintf("Failed to add note %d", i+1))
	}
	return out
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	}
	return true
}

// Delivery is the result of Deliver.
type Delivery struct {
	Outcome    Outcome  `json:"outcome"`
	DeckErrors []string `json:"deck_errors,omitempty"`
}

// Deliver ensures each distinct deck once, in order of first appearance,
// then pushes notes. With single set every note is its own addNote call,
// so a transport failure costs one note rather than the batch.
func (c *Client) Deliver(ctx context.Context, notes []Note, single bool) Delivery {
	var d Delivery
	seen := make(map[string]bool)
	for _, n := range notes {
		if seen[n.DeckName] {
			continue
		}
		seen[n.DeckName] = true
		if res := c.EnsureDeck(ctx, n.DeckName); !res.OK {
			d.DeckErrors = append(d.DeckErrors, n.DeckName+": "+res.Reason)
		}
	}

	if !single {
		d.Outcome = c.PushBatch(ctx, notes)
		return d
	}
	d.Outcome = Outcome{Errors: []string{}, Accepted: make([]bool, len(notes))}
	for i, n := range notes {
		if c.PushSingle(ctx, n) {
			d.Outcome.Succeeded++
			d.Outcome.Accepted[i] = true
			continue
		}
		d.Outcome.Errors = append(d.Outcome.Errors, fmt.Sprintf("Failed to add note %d", i+1))
	}
	return d
}
