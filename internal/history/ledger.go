// Package history persists the cards each user has accepted, so later
// batches can be deduplicated against them.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/kalambet/cardsmith/internal/cards"
)

// Ledger is the history capability the sync pipeline depends on.
type Ledger interface {
	// Questions returns the front of every recorded card for user.
	// Unreadable history reads as empty.
	Questions(user string) []string
	// Append records candidates for user, stamped with source and the
	// current time.
	Append(user string, candidates []cards.Candidate, source string) error
	// DeleteDeck removes records in deck and, if includeSubdecks, in any
	// deck named deck + "::" + ... . It returns the number removed.
	DeleteDeck(user, deck string, includeSubdecks bool) (int, error)
}

// Record is one persisted card.
type Record struct {
	Front     string    `json:"front"`
	Back      string    `json:"back"`
	Deck      string    `json:"deck"`
	Tag       string    `json:"tag"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`

	// rawTimestamp holds a timestamp that did not parse, so rewriting the
	// file keeps it as it was.
	rawTimestamp string
}

// Zone-less forms older history files use, read as local time.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, true
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// UnmarshalJSON accepts RFC 3339 timestamps and zone-less ones. A timestamp
// in any other form leaves Timestamp zero and is kept verbatim.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux.plain)
	if aux.Timestamp == "" {
		return nil
	}
	if ts, ok := parseTimestamp(aux.Timestamp); ok {
		r.Timestamp = ts
	} else {
		r.rawTimestamp = aux.Timestamp
	}
	return nil
}

// MarshalJSON writes Timestamp as RFC 3339, or the original text when it
// never parsed.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	ts := r.Timestamp.Format(time.RFC3339Nano)
	if r.Timestamp.IsZero() && r.rawTimestamp != "" {
		ts = r.rawTimestamp
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(struct {
		plain
		Timestamp string `json:"timestamp"`
	}{plain(r), ts})
	return bytes.TrimRight(buf.Bytes(), "\n"), err
}

// FileLedger stores each user's history as a JSON array in its own file
// under dir.
type FileLedger struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a FileLedger.
type Option func(*FileLedger)

// WithLogger sets the logger for load failures and writes.
func WithLogger(l *slog.Logger) Option {
	return func(f *FileLedger) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClock overrides the time source used to stamp appended records.
func WithClock(now func() time.Time) Option {
	return func(f *FileLedger) { f.now = now }
}

// NewFileLedger creates the history directory if needed.
func NewFileLedger(dir string, opts ...Option) (*FileLedger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	f := &FileLedger{dir: dir, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Path returns the file that holds user's history.
func (f *FileLedger) Path(user string) string {
	return filepath.Join(f.dir, SafeName(user)+".json")
}

// SafeName maps a user identifier to a filename stem: "@" becomes "_at_"
// and dots, path separators and whitespace become "_". An empty user maps
// to "guest".
func SafeName(user string) string {
	user = strings.TrimSpace(user)
	if user == "" {
		return "guest"
	}
	user = strings.ReplaceAll(user, "@", "_at_")
	return strings.Map(func(r rune) rune {
		if r == '.' || r == '/' || r == '\\' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, user)
}

func (f *FileLedger) Questions(user string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	recs := f.load(user)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Front
	}
	return out
}

func (f *FileLedger) Append(user string, candidates []cards.Candidate, source string) error {
	if len(candidates) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	recs := f.load(user)
	ts := f.now().Truncate(time.Second)
	for _, c := range candidates {
		recs = append(recs, Record{
			Front:     c.Front,
			Back:      c.Back,
			Deck:      c.DeckOr(cards.DefaultDeck),
			Tag:       c.Tag,
			Source:    source,
			Timestamp: ts,
		})
	}
	if err := f.save(user, recs); err != nil {
		return err
	}
	f.logger.Info("history appended", "user", user, "cards", len(candidates))
	return nil
}

func (f *FileLedger) DeleteDeck(user, deck string, includeSubdecks bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	recs := f.load(user)
	prefix := deck + "::"
	kept := recs[:0:0]
	for _, r := range recs {
		if r.Deck == deck || (includeSubdecks && strings.HasPrefix(r.Deck, prefix)) {
			continue
		}
		kept = append(kept, r)
	}

	deleted := len(recs) - len(kept)
	if deleted == 0 {
		return 0, nil
	}
	if err := f.save(user, kept); err != nil {
		return 0, err
	}
	f.logger.Info("history deck deleted", "user", user, "deck", deck, "cards", deleted)
	return deleted, nil
}

// Records returns user's full history in append order.
func (f *FileLedger) Records(user string) []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load(user)
}

// Count returns the number of records for user.
func (f *FileLedger) Count(user string) int {
	return len(f.Records(user))
}

// Clear removes user's history file. A missing file is not an error.
func (f *FileLedger) Clear(user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.Path(user))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing history: %w", err)
	}
	f.logger.Info("history cleared", "user", user)
	return nil
}

// load reads user's records. A missing file is empty history; an unreadable
// or malformed one is logged and also read as empty.
func (f *FileLedger) load(user string) []Record {
	path := f.Path(user)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("history unreadable, treating as empty", "path", path, "error", err)
		}
		return []Record{}
	}

	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		f.logger.Warn("history corrupt, treating as empty", "path", path, "error", err)
		return []Record{}
	}
	if recs == nil {
		recs = []Record{}
	}
	for _, r := range recs {
		if r.rawTimestamp != "" {
			f.logger.Debug("history timestamp not understood, keeping it as text", "path", path, "timestamp", r.rawTimestamp)
		}
	}
	return recs
}

// save writes records to a temp file in the same directory and renames it
// over the user's file.
func (f *FileLedger) save(user string, recs []Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	data := buf.Bytes()

	tmp, err := os.CreateTemp(f.dir, "."+SafeName(user)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing history: %w", err)
	}
	if err := os.Rename(tmpName, f.Path(user)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing history: %w", err)
	}
	return nil
}
