package retrieval

import (
	"context"
	"fmt"
	"time"
)

// Gateway turns text into a fixed-dimension vector. Any error, or an empty
// vector, means the text could not be embedded.
type Gateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ModelEmbedder is the model-server capability an Embedder wraps.
// *ollama.Client satisfies it.
type ModelEmbedder interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

const defaultEmbedTimeout = 30 * time.Second

// Embedder binds a ModelEmbedder to one embedding model and a per-call
// timeout, producing a Gateway.
type Embedder struct {
	client  ModelEmbedder
	model   string
	timeout time.Duration
}

// NewEmbedder creates an Embedder using the given client and model name.
func NewEmbedder(client ModelEmbedder, model string) *Embedder {
	return &Embedder{client: client, model: model, timeout: defaultEmbedTimeout}
}

// WithTimeout returns a copy of e that bounds each call by d.
// Non-positive values keep the current timeout.
func (e *Embedder) WithTimeout(d time.Duration) *Embedder {
	out := *e
	if d > 0 {
		out.timeout = d
	}
	return &out
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding text: model %s returned an empty vector", e.model)
	}
	return vec, nil
}
