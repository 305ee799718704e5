package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/cardsmith/internal/config"
	"github.com/kalambet/cardsmith/internal/ingest"
	"github.com/kalambet/cardsmith/internal/pipeline"
	"github.com/kalambet/cardsmith/internal/storage"
)

var ctx = context.Background()

// fakeAnki answers AnkiConnect actions and records them.
type fakeAnki struct {
	server  *httptest.Server
	actions []string
	decks   []string
	notes   int
	singles int
}

func newFakeAnki(t *testing.T) *fakeAnki {
	t.Helper()
	f := &fakeAnki{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action string          `json:"action"`
			Params json.RawMessage `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.actions = append(f.actions, req.Action)

		switch req.Action {
		case "version":
			w.Write([]byte(`{"result":6,"error":null}`))
		case "createDeck":
			var p struct {
				Deck string `json:"deck"`
			}
			json.Unmarshal(req.Params, &p)
			f.decks = append(f.decks, p.Deck)
			w.Write([]byte(`{"result":1,"error":null}`))
		case "addNote":
			f.notes++
			f.singles++
			w.Write([]byte(`{"result":2000,"error":null}`))
		case "addNotes":
			var p struct {
				Notes []json.RawMessage `json:"notes"`
			}
			json.Unmarshal(req.Params, &p)
			ids := make([]int, len(p.Notes))
			for i := range ids {
				ids[i] = 1000 + i
			}
			f.notes += len(ids)
			json.NewEncoder(w).Encode(map[string]any{"result": ids, "error": nil})
		default:
			w.Write([]byte(`{"result":null,"error":"unsupported action"}`))
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

// newFakeOllama embeds by counting a few words and replies to chat with
// reply.
func newFakeOllama(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req struct {
				Input string `json:"input"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			lower := strings.ToLower(req.Input)
			vec := []float32{
				float32(strings.Count(lower, "heart")),
				float32(strings.Count(lower, "lung")),
				1,
			}
			json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{vec}})
		case "/api/chat":
			json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": reply},
			})
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func useConfig(t *testing.T, ankiURL, ollamaURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	var cfg config.Config
	cfg.Storage.DataDir = dir
	cfg.History.Dir = filepath.Join(dir, "history")
	cfg.Anki.URL = ankiURL
	cfg.Anki.DefaultDeck = "Default"
	cfg.Ollama.BaseURL = ollamaURL
	cfg.Ollama.EmbedModel = "test-embed"
	cfg.Ollama.ChatModel = "test-chat"
	cfg.Retrieval.TopK = 5
	cfg.Ingest.ChunkSize = 1000
	cfg.Ingest.ChunkOverlap = 200

	old := loadConfig
	loadConfig = func() (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = old })
	return cfg
}

// resetFlags restores every flag in the tree to its default so global
// commands do not leak state between tests.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	old := notices
	notices = &out
	defer func() { notices = old }()
	rootCmd.SetArgs(append([]string{"--no-color"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestSyncCommand_PushesThenDeduplicates(t *testing.T) {
	anki := newFakeAnki(t)
	useConfig(t, anki.server.URL, "http://127.0.0.1:1")
	path := writeFile(t, "cards.tsv", "What pumps blood?\tThe heart\nWhat exchanges gas?\tThe lung\n")

	out, err := runCLI(t, "sync", path, "--deck", "Anatomy", "-u", "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.Contains(out, "2 submitted, 2 new, 0 duplicates") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "2 added to Anki") || !strings.Contains(out, "Anatomy: 2 added") {
		t.Errorf("output = %q", out)
	}
	if anki.notes != 2 || len(anki.decks) != 1 || anki.decks[0] != "Anatomy" {
		t.Errorf("anki saw notes=%d decks=%v", anki.notes, anki.decks)
	}

	out, err = runCLI(t, "sync", path, "--deck", "Anatomy", "-u", "alice")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if !strings.Contains(out, "2 submitted, 0 new, 2 duplicates") {
		t.Errorf("second output = %q", out)
	}
	if anki.notes != 2 {
		t.Errorf("second run pushed again: notes=%d", anki.notes)
	}

	out, err = runCLI(t, "history", "list", "-u", "alice")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if !strings.Contains(out, "What pumps blood?") || !strings.Contains(out, "Anatomy") {
		t.Errorf("history list = %q", out)
	}

	out, err = runCLI(t, "history", "runs", "-u", "alice")
	if err != nil {
		t.Fatalf("history runs: %v", err)
	}
	if strings.Count(out, "submitted") != 2 {
		t.Errorf("runs = %q", out)
	}

	out, err = runCLI(t, "history", "stats", "-u", "alice")
	if err != nil {
		t.Fatalf("history stats: %v", err)
	}
	if !strings.Contains(out, "User:") || !strings.Contains(out, "alice") || !strings.Contains(out, "Cards:") {
		t.Errorf("stats = %q", out)
	}

	out, err = runCLI(t, "history", "delete-deck", "Anatomy", "-u", "alice")
	if err != nil {
		t.Fatalf("delete-deck: %v", err)
	}
	if !strings.Contains(out, "Deleted 2 cards from Anatomy") {
		t.Errorf("delete-deck = %q", out)
	}
	out, _ = runCLI(t, "history", "decks", "-u", "alice")
	if strings.TrimSpace(out) != "" {
		t.Errorf("decks after delete = %q", out)
	}
}

func TestSyncCommand_AnkiDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	down.Close()
	useConfig(t, down.URL, "http://127.0.0.1:1")
	path := writeFile(t, "cards.tsv", "Q1\tA1\n")

	_, err := runCLI(t, "sync", path)
	if err == nil || !strings.Contains(err.Error(), "--no-push") {
		t.Fatalf("err = %v, want hint about --no-push", err)
	}

	out, err := runCLI(t, "sync", path, "--no-push")
	if err != nil {
		t.Fatalf("sync --no-push: %v", err)
	}
	if !strings.Contains(out, "1 submitted, 1 new") || strings.Contains(out, "added to Anki") {
		t.Errorf("output = %q", out)
	}
}

func TestSyncCommand_NoCards(t *testing.T) {
	useConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	path := writeFile(t, "empty.tsv", "just a heading\n\n")

	_, err := runCLI(t, "sync", path)
	if err == nil || !strings.Contains(err.Error(), "no cards") {
		t.Fatalf("err = %v, want no cards error", err)
	}
}

func TestIngestAndRecallCommands(t *testing.T) {
	ollamaSrv := newFakeOllama(t, "")
	useConfig(t, "http://127.0.0.1:1", ollamaSrv.URL)
	heart := writeFile(t, "heart.txt", "The heart is a muscular organ. The heart pumps blood through the body and the heart has four chambers.")
	lung := writeFile(t, "lung.txt", "The lung exchanges oxygen and carbon dioxide. Each lung is divided into lobes separated by fissures.")

	out, err := runCLI(t, "ingest", heart, lung, "-c", "bio", "--no-progress")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !strings.Contains(out, "bio: 2 files, 2 chunks, 2 added") {
		t.Errorf("ingest output = %q", out)
	}

	out, err = runCLI(t, "recall", "lung", "lobes", "-c", "bio", "--limit", "1")
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if !strings.Contains(out, "Result 1") || !strings.Contains(out, "lung.txt") || strings.Contains(out, "Result 2") {
		t.Errorf("recall output = %q", out)
	}

	out, err = runCLI(t, "collections", "list")
	if err != nil {
		t.Fatalf("collections list: %v", err)
	}
	if !strings.Contains(out, "bio  2 chunks  3 dims  test-embed") {
		t.Errorf("collections = %q", out)
	}

	if _, err := runCLI(t, "recall", "heart", "-c", "missing"); err == nil {
		t.Error("expected error for unknown collection")
	}
}

func TestIngestCommand_MissingArgs(t *testing.T) {
	useConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	_, err := runCLI(t, "ingest")
	if err == nil || !strings.Contains(err.Error(), "--glob") {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerateCommand_PrintsTSV(t *testing.T) {
	ollamaSrv := newFakeOllama(t, "Here are your cards:\nWhat pumps blood?\tThe heart\nWhat exchanges gas?\tThe lung\n")
	useConfig(t, "http://127.0.0.1:1", ollamaSrv.URL)

	out, err := runCLI(t, "generate", "circulation", "--count", "2")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "What pumps blood?\tThe heart\nWhat exchanges gas?\tThe lung\n" {
		t.Errorf("output = %q", out)
	}
}

func TestGenerateCommand_Sync(t *testing.T) {
	anki := newFakeAnki(t)
	ollamaSrv := newFakeOllama(t, "Q1\tA1\nQ2\tA2\n")
	useConfig(t, anki.server.URL, ollamaSrv.URL)

	out, err := runCLI(t, "generate", "topic", "--sync", "--deck", "Gen")
	if err != nil {
		t.Fatalf("generate --sync: %v", err)
	}
	if !strings.Contains(out, "2 submitted, 2 new") || anki.notes != 2 {
		t.Errorf("output = %q, notes = %d", out, anki.notes)
	}
}

func TestReadCandidates(t *testing.T) {
	path := writeFile(t, "cards.tsv", "Q1\tA1\nQ2|A2\n")
	got, err := readCandidates(path, nil, "Bio", "ch1")
	if err != nil {
		t.Fatalf("readCandidates: %v", err)
	}
	if len(got) != 2 || got[1].Back != "A2" || got[0].Deck != "Bio" || got[1].Tag != "ch1" {
		t.Errorf("got %+v", got)
	}

	got, err = readCandidates("-", strings.NewReader("Q3,A3"), "", "")
	if err != nil || len(got) != 1 || got[0].Front != "Q3" {
		t.Errorf("stdin: got %+v, err %v", got, err)
	}

	if _, err := readCandidates(filepath.Join(t.TempDir(), "nope.tsv"), nil, "", ""); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRenderSyncReport(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var buf bytes.Buffer
	renderSyncReport(&buf, pipeline.Report{
		Submitted:  3,
		Kept:       2,
		Duplicates: 1,
		Pushed:     true,
		Decks:      map[string]pipeline.DeckTally{"B": {Succeeded: 1}, "A": {Failed: 1}},
		DeckErrors: []string{"A: permission denied"},
	})
	out := buf.String()
	if !strings.HasPrefix(out, "3 submitted, 2 new, 1 duplicates\n") {
		t.Errorf("output = %q", out)
	}
	if strings.Index(out, "A: 0 added, 1 failed") > strings.Index(out, "B: 1 added") {
		t.Errorf("decks not sorted: %q", out)
	}
	if !strings.Contains(out, "deck: A: permission denied") {
		t.Errorf("missing deck error: %q", out)
	}
}

func TestRenderIngestReport(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var buf bytes.Buffer
	renderIngestReport(&buf, "bio", ingest.Report{
		Files: 2, Chunks: 5, Added: 4,
		Skipped: []ingest.Skip{{Path: "x.bin", Reason: "file not found"}},
	})
	want := "bio: 2 files, 5 chunks, 4 added, 1 dropped\n  skipped x.bin: file not found\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "test message"); result != "test message" {
		t.Errorf("result = %q, want plain text", result)
	}

	noColor = false
	if result := colorize(colorGreen, "test message"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClientAuth(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "my-secret-token", httpClient: ts.Client()}
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", auth)
	}

	client.token = ""
	resp, err = client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if auth != "" {
		t.Errorf("auth = %q, want none without a token", auth)
	}
}

func TestAPIClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	_, err := client.get(ctx, "/health")
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Fatalf("err = %v, want not reachable", err)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "bad-token", httpClient: ts.Client()}
	resp, err := client.get(ctx, "/collections")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "unauthorized") {
		t.Fatalf("err = %v, want 401 error with message", err)
	}
}

func TestAPIClient_GetJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections":
			w.Write([]byte(`[{"name":"bio","chunks":2}]`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		}
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	var cols []storage.Collection
	if err := client.getJSON(ctx, "/collections", &cols); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if len(cols) != 1 || cols[0].Name != "bio" || cols[0].Chunks != 2 {
		t.Errorf("cols = %+v", cols)
	}

	err := client.getJSON(ctx, "/other", &cols)
	if err == nil || !strings.Contains(err.Error(), "502: upstream down") {
		t.Errorf("err = %v, want raw body in error", err)
	}
}

func TestLabels(t *testing.T) {
	if got := userLabel("  "); got != "guest" {
		t.Errorf("userLabel(blank) = %q", got)
	}
	if got := userLabel("alice"); got != "alice" {
		t.Errorf("userLabel(alice) = %q", got)
	}
	cols := []storage.Collection{{Chunks: 3}, {Chunks: 4}}
	if got := collectionsLabel(cols); got != "2 (7 chunks)" {
		t.Errorf("collectionsLabel = %q", got)
	}
	if got := sourceLabel(map[string]string{"source": "a.pdf", "page": "3"}); got != "a.pdf p.3" {
		t.Errorf("sourceLabel = %q", got)
	}
	if got := truncate("héllo", 2); got != "hé..." {
		t.Errorf("truncate = %q", got)
	}
}

func TestAnkiPushCommand(t *testing.T) {
	anki := newFakeAnki(t)
	useConfig(t, anki.server.URL, "http://127.0.0.1:1")
	path := writeFile(t, "cards.tsv", "Q1\tA1\nQ2\tA2\n")

	out, err := runCLI(t, "anki", "push", path, "--deck", "Bio", "--single", "-u", "alice")
	if err != nil {
		t.Fatalf("anki push: %v", err)
	}
	if !strings.Contains(out, "2 added to Anki") {
		t.Errorf("output = %q", out)
	}
	if anki.singles != 2 || len(anki.decks) != 1 || anki.decks[0] != "Bio" {
		t.Errorf("anki saw singles=%d decks=%v", anki.singles, anki.decks)
	}

	if _, err := runCLI(t, "anki", "push", path); err != nil {
		t.Fatalf("anki push batch: %v", err)
	}
	if anki.notes != 4 || anki.singles != 2 {
		t.Errorf("after batch push notes=%d singles=%d", anki.notes, anki.singles)
	}

	out, err = runCLI(t, "history", "list", "-u", "alice")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if !strings.Contains(out, "No cards found.") {
		t.Errorf("anki push recorded history: %q", out)
	}
}
