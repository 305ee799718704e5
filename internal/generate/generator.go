// Package generate produces flashcard candidates from a chat model,
// optionally grounded in chunks retrieved from an index.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/cardsmith/internal/cards"
	"github.com/kalambet/cardsmith/internal/ollama"
	"github.com/kalambet/cardsmith/internal/retrieval"
)

// Source is stamped on every generated candidate.
const Source = "Generated"

const (
	defaultTimeout = 2 * time.Minute
	defaultCount   = 10
	maxCount       = 50
	defaultTopK    = 5
)

// Chatter is the chat completion capability. *ollama.Client satisfies it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, opts *ollama.ChatOptions) (string, error)
}

// Searcher retrieves ranked context. *retrieval.Index satisfies it.
type Searcher interface {
	SearchScored(ctx context.Context, query string, k int) []retrieval.Scored
}

// Request describes one generation run.
type Request struct {
	Topic string `json:"topic"`
	Deck  string `json:"deck,omitempty"`
	Tag   string `json:"tag,omitempty"`
	Count int    `json:"count,omitempty"`
	// Context pulls the top chunks for Topic from the index into the prompt.
	Context bool `json:"context,omitempty"`
}

// Generator turns a Request into candidates.
type Generator struct {
	chat        Chatter
	model       string
	search      Searcher
	topK        int
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithSearcher enables context retrieval with up to topK chunks.
func WithSearcher(s Searcher, topK int) Option {
	return func(g *Generator) {
		g.search = s
		if topK > 0 {
			g.topK = topK
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithTimeout bounds each chat call.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Generator using model on chat.
func New(chat Chatter, model string, opts ...Option) *Generator {
	g := &Generator{
		chat:        chat,
		model:       model,
		topK:        defaultTopK,
		temperature: 0.3,
		timeout:     defaultTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the model for cards and parses its reply. Lines that are
// not front/back pairs are skipped; a reply with no usable lines is an
// error. Candidates carry req.Deck, req.Tag and Source.
func (g *Generator) Generate(ctx context.Context, req Request) ([]cards.Candidate, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	count := req.Count
	if count <= 0 {
		count = defaultCount
	}
	count = min(count, maxCount)

	var chunks []retrieval.Scored
	if req.Context && g.search != nil {
		chunks = g.search.SearchScored(ctx, topic, g.topK)
		g.logger.Debug("retrieved context", "topic", topic, "chunks", len(chunks))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reply, err := g.chat.Chat(ctx, g.model, BuildPrompt(topic, count, chunks, 0), &ollama.ChatOptions{Temperature: g.temperature})
	if err != nil {
		return nil, fmt.Errorf("generating cards: %w", err)
	}

	parsed := cards.ParseTSV(reply)
	if len(parsed) == 0 {
		g.logger.Warn("model reply had no cards", "model", g.model, "reply_len", len(reply))
		return nil, errors.New("model returned no parseable cards")
	}

	out := make([]cards.Candidate, 0, len(parsed))
	for _, c := range parsed {
		c.Deck = req.Deck
		c.Tag = req.Tag
		c.Source = Source
		out = append(out, c)
	}
	return out, nil
}
