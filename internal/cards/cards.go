// Package cards holds the flashcard candidate type and the pure functions
// that operate on batches of candidates: comparison keys, deduplication and
// parsing of model-generated TSV.
package cards

import "strings"

// DefaultDeck is used when a candidate carries no deck.
const DefaultDeck = "Default"

// Candidate is a proposed flashcard. Front is the question and Back the
// answer. Tag may be empty.
type Candidate struct {
	Front  string `json:"front"`
	Back   string `json:"back"`
	Deck   string `json:"deck"`
	Tag    string `json:"tag"`
	Source string `json:"source,omitempty"`
}

// DeckOr returns the candidate's deck, or fallback when it has none.
func (c Candidate) DeckOr(fallback string) string {
	if c.Deck != "" {
		return c.Deck
	}
	if fallback != "" {
		return fallback
	}
	return DefaultDeck
}

// Key is the comparison key for a front: surrounding whitespace trimmed and
// lowercased. Two candidates are duplicates iff their keys are equal.
func Key(front string) string {
	return strings.ToLower(strings.TrimSpace(front))
}

// Row is one record in the tabular shape used by TSV import and the
// AnkiConnect formatter. Keys are Front, Back, Deck and Tag.
type Row map[string]string

// Rows converts candidates to tabular rows. Empty Deck and Tag are omitted.
func Rows(cs []Candidate) []Row {
	out := make([]Row, 0, len(cs))
	for _, c := range cs {
		r := Row{"Front": c.Front, "Back": c.Back}
		if c.Deck != "" {
			r["Deck"] = c.Deck
		}
		if c.Tag != "" {
			r["Tag"] = c.Tag
		}
		out = append(out, r)
	}
	return out
}

// FromRows converts tabular rows to candidates, stamping source on each.
func FromRows(rows []Row, source string) []Candidate {
	out := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, Candidate{
			Front:  r["Front"],
			Back:   r["Back"],
			Deck:   r["Deck"],
			Tag:    r["Tag"],
			Source: source,
		})
	}
	return out
}
