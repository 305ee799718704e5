package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/cardsmith/internal/cards"
	"github.com/kalambet/cardsmith/internal/pipeline"
	"github.com/kalambet/cardsmith/internal/storage"
)

// NewMCPServer creates an MCP server exposing recall, deduplication, sync
// and history tools over deps.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"cardsmith",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("cardsmith: recall indexed study material and sync flashcards to Anki without duplicates."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Return the chunks of a collection most similar to a query."),
			mcp.WithString("collection", mcp.Description("Collection name"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("dedupe_cards",
			mcp.WithDescription("Drop cards whose front already appears in the user's history or earlier in the batch."),
			mcp.WithString("user", mcp.Description("User whose history to check"), mcp.Required()),
			mcp.WithString("cards", mcp.Description("JSON array of {front, back, deck, tag} objects"), mcp.Required()),
		),
		mcpDedupe(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_cards",
			mcp.WithDescription("Deduplicate TSV cards against history, record them, and optionally push them to Anki."),
			mcp.WithString("user", mcp.Description("User to sync for"), mcp.Required()),
			mcp.WithString("tsv", mcp.Description("One card per line: front<TAB>back"), mcp.Required()),
			mcp.WithString("deck", mcp.Description("Deck for the cards")),
			mcp.WithString("tag", mcp.Description("Tag for the cards")),
			mcp.WithBoolean("push", mcp.Description("Push kept cards to AnkiConnect (default false)")),
		),
		mcpSync(deps),
	)

	s.AddTool(
		mcp.NewTool("history_stats",
			mcp.WithDescription("Summarize a user's card history."),
			mcp.WithString("user", mcp.Description("User"), mcp.Required()),
		),
		mcpHistoryStats(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_deck_history",
			mcp.WithDescription("Forget the recorded cards of one deck so they can be created again."),
			mcp.WithString("user", mcp.Description("User"), mcp.Required()),
			mcp.WithString("deck", mcp.Description("Deck name"), mcp.Required()),
			mcp.WithBoolean("subdecks", mcp.Description("Also delete Deck::* subdecks")),
		),
		mcpDeleteDeck(deps),
	)

	s.AddTool(
		mcp.NewTool("anki_status",
			mcp.WithDescription("Check whether AnkiConnect is reachable."),
		),
		mcpAnkiStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"cardsmith://collections",
			"Collections",
			mcp.WithResourceDescription("Indexed collections with chunk counts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCollections(deps),
	)

	return s
}

func mcpRecall(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		collection, err := req.RequireString("collection")
		if err != nil {
			return mcpError("collection is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", deps.topK())
		if limit <= 0 {
			limit = deps.topK()
		}
		limit = min(limit, maxRecallResults)

		ix, err := deps.loadIndex(collection)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("collection %q not found", collection)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}

		return mcpJSON(ix.SearchScored(ctx, query, limit))
	}
}

func mcpDedupe(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		raw, err := req.RequireString("cards")
		if err != nil {
			return mcpError("cards is required"), nil
		}

		var batch []cards.Candidate
		if err := json.Unmarshal([]byte(raw), &batch); err != nil {
			return mcpError(fmt.Sprintf("invalid cards JSON: %v", err)), nil
		}
		return mcpJSON(cards.Dedupe(batch, deps.Ledger.Questions(user)))
	}
}

func mcpSync(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		tsv, err := req.RequireString("tsv")
		if err != nil {
			return mcpError("tsv is required"), nil
		}

		batch := SyncRequest{
			TSV:  tsv,
			Deck: req.GetString("deck", ""),
			Tag:  req.GetString("tag", ""),
		}.Candidates()
		if len(batch) == 0 {
			return mcpError("no cards found in tsv"), nil
		}

		rep := deps.Syncer.Sync(ctx, user, batch, pipeline.Options{
			Push:   req.GetBool("push", false),
			Source: "MCP",
		})
		return mcpJSON(rep)
	}
}

func mcpHistoryStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		return mcpJSON(deps.Ledger.Stats(user, time.Now()))
	}
}

func mcpDeleteDeck(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		deck, err := req.RequireString("deck")
		if err != nil || deck == "" {
			return mcpError("deck is required"), nil
		}

		n, err := deps.Ledger.DeleteDeck(user, deck, req.GetBool("subdecks", false))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to delete deck history: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted %d cards from %s", n, deck)), nil
	}
}

func mcpAnkiStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Anki == nil {
			return mcpError("AnkiConnect is not configured"), nil
		}
		ok, msg := deps.Anki.CheckConnectivity(ctx)
		if !ok {
			return mcpError(msg), nil
		}
		return mcpText(msg), nil
	}
}

func mcpResourceCollections(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		cols, err := deps.Store.ListCollections()
		if err != nil {
			return nil, fmt.Errorf("failed to list collections: %w", err)
		}
		if cols == nil {
			cols = []storage.Collection{}
		}

		b, err := json.Marshal(cols)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal collections: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
