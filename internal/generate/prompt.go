package generate

import (
	"fmt"
	"strings"

	"github.com/kalambet/cardsmith/internal/ollama"
	"github.com/kalambet/cardsmith/internal/retrieval"
)

const defaultMaxContextTokens = 3000

const systemPrompt = `You write flashcards for spaced-repetition study. Output ONLY the cards, one per line, as two tab-separated columns: the question, then the answer. No header row, no numbering, no markdown, no commentary.

Rules:
- One atomic fact per card.
- Questions must be answerable without seeing other cards.
- Keep answers short; prefer a phrase over a sentence.
- Never repeat a question.`

// BuildPrompt constructs the chat messages for generating count cards about
// topic. Context chunks are inlined in rank order until the token budget
// runs out; a chunk that does not fit is skipped.
func BuildPrompt(topic string, count int, chunks []retrieval.Scored, maxContextTokens int) []ollama.Message {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}

	var sb strings.Builder
	sb.WriteString(systemPrompt)

	if len(chunks) > 0 {
		header := "\n\n[Source Material]\n"
		remaining := maxContextTokens - EstimateTokens(header)
		var entries []string
		for _, ch := range chunks {
			entry := formatChunk(ch)
			tokens := EstimateTokens(entry)
			if tokens > remaining {
				continue
			}
			entries = append(entries, entry)
			remaining -= tokens
		}
		if len(entries) > 0 {
			sb.WriteString(header)
			for _, e := range entries {
				sb.WriteString(e)
			}
			sb.WriteString("Base every card on the source material above.")
		}
	}

	return []ollama.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: fmt.Sprintf("Write %d flashcards about: %s", count, topic)},
	}
}

func formatChunk(ch retrieval.Scored) string {
	src := ch.Metadata["source"]
	if page := ch.Metadata["page"]; page != "" {
		src += " p." + page
	}
	if src == "" {
		return fmt.Sprintf("(Score: %.2f)\n%s\n\n", ch.Score, ch.Text)
	}
	return fmt.Sprintf("(Score: %.2f, Source: %s)\n%s\n\n", ch.Score, src, ch.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
