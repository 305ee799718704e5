package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Filter narrows Query results. Zero value returns everything, newest first.
type Filter struct {
	// Search is a case-insensitive substring matched against front and back.
	Search string
	// Deck keeps only records in exactly this deck.
	Deck string
	// OldestFirst reverses the default newest-first order.
	OldestFirst bool
	// Limit caps the result size when positive.
	Limit int
}

// Query returns user's records matching f.
func (f *FileLedger) Query(user string, q Filter) []Record {
	recs := f.Records(user)
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if q.Deck != "" && r.Deck != q.Deck {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.Front), needle) &&
			!strings.Contains(strings.ToLower(r.Back), needle) {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.OldestFirst {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Decks returns the distinct decks in user's history, sorted.
func (f *FileLedger) Decks(user string) []string {
	set := map[string]struct{}{}
	for _, r := range f.Records(user) {
		set[r.Deck] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Stats summarizes a user's history.
type Stats struct {
	Total    int       `json:"total"`
	Decks    int       `json:"decks"`
	Today    int       `json:"today"`
	LastWeek int       `json:"last_week"`
	Latest   time.Time `json:"latest,omitzero"`
}

// Stats computes totals relative to now. Today counts records since local
// midnight; LastWeek counts records in the seven days before now.
func (f *FileLedger) Stats(user string, now time.Time) Stats {
	recs := f.Records(user)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekAgo := now.AddDate(0, 0, -7)

	st := Stats{Total: len(recs)}
	decks := map[string]struct{}{}
	for _, r := range recs {
		decks[r.Deck] = struct{}{}
		if !r.Timestamp.Before(midnight) {
			st.Today++
		}
		if r.Timestamp.After(weekAgo) {
			st.LastWeek++
		}
		if r.Timestamp.After(st.Latest) {
			st.Latest = r.Timestamp
		}
	}
	st.Decks = len(decks)
	return st
}

// ExportCSV writes user's history as CSV with a header row.
func (f *FileLedger) ExportCSV(user string, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"front", "back", "deck", "tag", "source", "timestamp"}); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	for _, r := range f.Records(user) {
		row := []string{r.Front, r.Back, r.Deck, r.Tag, r.Source, ""}
		if !r.Timestamp.IsZero() {
			row[5] = r.Timestamp.Format(time.RFC3339)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}
