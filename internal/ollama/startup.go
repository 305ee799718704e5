package ollama

import (
	"context"
	"fmt"
	"io"
)

// CheckReady verifies the server is reachable and reports, one line per model
// on w, whether each required model is present. Missing models are not
// pulled; the caller decides whether a missing model is fatal.
// It returns the names of missing models, or an error if the server is down.
func CheckReady(ctx context.Context, c *Client, models []string, w io.Writer) ([]string, error) {
	if !c.IsRunning(ctx) {
		return nil, fmt.Errorf("Ollama is not running at %s. Start it with: ollama serve", c.BaseURL())
	}

	var missing []string
	for _, model := range models {
		if model == "" {
			continue
		}
		if c.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		fmt.Fprintf(w, "model %s: missing (run: ollama pull %s)\n", model, model)
		missing = append(missing, model)
	}
	return missing, nil
}
