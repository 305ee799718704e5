package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/cardsmith/internal/cards"
	"github.com/kalambet/cardsmith/internal/history"
	"github.com/kalambet/cardsmith/internal/pipeline"
	"github.com/kalambet/cardsmith/internal/retrieval"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

func TestNewMCPServer_Builds(t *testing.T) {
	env := newTestEnv(t, "")
	if NewMCPServer(env.deps, "test") == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_Recall(t *testing.T) {
	env := newTestEnv(t, "")
	ingestText(t, env, "bio", "heart.txt", heartText)
	ingestText(t, env, "bio", "lung.txt", lungText)

	result := callTool(t, mcpRecall(env.deps), "recall", map[string]any{
		"collection": "bio",
		"query":      "lung capacity",
		"limit":      1,
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var got []retrieval.Scored
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(got) != 1 || got[0].Metadata["source"] != "lung.txt" {
		t.Fatalf("results = %+v, want lung.txt first", got)
	}
}

func TestMCPTool_Recall_Errors(t *testing.T) {
	env := newTestEnv(t, "")
	h := mcpRecall(env.deps)

	result := callTool(t, h, "recall", map[string]any{"collection": "bio"})
	if !result.IsError || toolText(t, result) != "query is required" {
		t.Errorf("missing query: %s", toolText(t, result))
	}

	result = callTool(t, h, "recall", map[string]any{"collection": "nope", "query": "heart"})
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("unknown collection: %s", toolText(t, result))
	}
}

func TestMCPTool_Dedupe(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.ledger.Append("bob", []cards.Candidate{{Front: "Q1", Back: "A"}}, "Imported"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	result := callTool(t, mcpDedupe(env.deps), "dedupe_cards", map[string]any{
		"user":  "bob",
		"cards": `[{"front":"  q1 ","back":"x"},{"front":"Q2","back":"y"},{"front":"q2","back":"z"}]`,
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var kept []cards.Candidate
	if err := json.Unmarshal([]byte(toolText(t, result)), &kept); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(kept) != 1 || kept[0].Back != "y" {
		t.Errorf("kept = %+v, want only the first Q2", kept)
	}

	result = callTool(t, mcpDedupe(env.deps), "dedupe_cards", map[string]any{"user": "bob", "cards": "not json"})
	if !result.IsError {
		t.Error("expected error for invalid JSON")
	}
}

func TestMCPTool_Sync(t *testing.T) {
	env := newTestEnv(t, "")
	h := mcpSync(env.deps)

	result := callTool(t, h, "sync_cards", map[string]any{
		"user": "bob",
		"tsv":  "Q1\tA1\nQ2\tA2",
		"deck": "Bio",
		"push": true,
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var rep pipeline.Report
	if err := json.Unmarshal([]byte(toolText(t, result)), &rep); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rep.Kept != 2 || rep.Outcome.Succeeded != 2 {
		t.Errorf("report = %+v", rep)
	}

	recs := env.ledger.Records("bob")
	if len(recs) != 2 || recs[0].Source != "MCP" || recs[0].Deck != "Bio" {
		t.Errorf("records = %+v", recs)
	}

	result = callTool(t, h, "sync_cards", map[string]any{"user": "bob", "tsv": "nothing"})
	if !result.IsError {
		t.Error("expected error for tsv without cards")
	}
}

func TestMCPTool_HistoryStatsAndDeleteDeck(t *testing.T) {
	env := newTestEnv(t, "")
	batch := []cards.Candidate{
		{Front: "Q1", Back: "A", Deck: "Bio"},
		{Front: "Q2", Back: "B", Deck: "Bio::Cells"},
	}
	if err := env.ledger.Append("bob", batch, "Imported"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	result := callTool(t, mcpHistoryStats(env.deps), "history_stats", map[string]any{"user": "bob"})
	var st history.Stats
	if err := json.Unmarshal([]byte(toolText(t, result)), &st); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if st.Total != 2 || st.Decks != 2 {
		t.Errorf("stats = %+v", st)
	}

	result = callTool(t, mcpDeleteDeck(env.deps), "delete_deck_history", map[string]any{
		"user": "bob", "deck": "Bio",
	})
	if toolText(t, result) != "Deleted 1 cards from Bio" {
		t.Errorf("exact delete: %s", toolText(t, result))
	}

	result = callTool(t, mcpDeleteDeck(env.deps), "delete_deck_history", map[string]any{
		"user": "bob", "deck": "Bio", "subdecks": true,
	})
	if toolText(t, result) != "Deleted 1 cards from Bio" {
		t.Errorf("subdeck delete: %s", toolText(t, result))
	}
	if env.ledger.Count("bob") != 0 {
		t.Error("history not empty")
	}
}

func TestMCPTool_AnkiStatus(t *testing.T) {
	env := newTestEnv(t, "")

	result := callTool(t, mcpAnkiStatus(env.deps), "anki_status", nil)
	if result.IsError || !strings.HasPrefix(toolText(t, result), "Connected") {
		t.Errorf("status = %s", toolText(t, result))
	}

	env.deps.Anki = stubStatus{ok: false, msg: "Connection refused"}
	result = callTool(t, mcpAnkiStatus(env.deps), "anki_status", nil)
	if !result.IsError {
		t.Error("expected error result when AnkiConnect is down")
	}
}

func TestMCPResource_Collections(t *testing.T) {
	env := newTestEnv(t, "")
	ingestText(t, env, "bio", "heart.txt", heartText)

	contents, err := mcpResourceCollections(env.deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "cardsmith://collections"},
	})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, `"name":"bio"`) {
		t.Errorf("resource = %s", text)
	}
}
