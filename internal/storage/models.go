package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Collection is a named set of persisted chunks.
type Collection struct {
	Name       string    `json:"name"`
	EmbedModel string    `json:"embed_model,omitempty"`
	Dimensions int       `json:"dimensions"`
	Chunks     int       `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SyncRun is the journal entry for one pipeline run.
type SyncRun struct {
	ID         string    `json:"id"`
	User       string    `json:"user"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Submitted  int       `json:"submitted"`
	Kept       int       `json:"kept"`
	Duplicates int       `json:"duplicates"`
	Pushed     bool      `json:"pushed"`
	Succeeded  int       `json:"succeeded"`
	Errors     []string  `json:"errors"`
}
