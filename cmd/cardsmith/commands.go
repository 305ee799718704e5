package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/cardsmith/internal/cards"
	"github.com/kalambet/cardsmith/internal/generate"
	"github.com/kalambet/cardsmith/internal/ingest"
	"github.com/kalambet/cardsmith/internal/pipeline"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Chunk, embed and store documents in a collection",
	Long: `Chunk, embed and store documents in a collection.

Examples:
  cardsmith ingest notes.pdf lecture.html -c biology
  cardsmith ingest ./course --glob "**/*.pdf" -c biology`,
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		pattern, _ := cmd.Flags().GetString("glob")
		noProgress, _ := cmd.Flags().GetBool("no-progress")

		if pattern == "" && len(args) == 0 {
			return fmt.Errorf("at least one path or --glob is required")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ix, err := a.index(collection, true)
		if err != nil {
			return err
		}
		opts := append(a.ingestOptions(),
			ingest.WithStore(a.store, a.embed.Model()),
			ingest.WithProgress(newProgress(!noProgress && progressEnabled(), "ingesting")),
		)
		in := ingest.New(ix, opts...)

		var total ingest.Report
		if pattern != "" {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			rep, err := in.IngestGlob(cmd.Context(), collection, root, pattern)
			total = rep
			if err != nil {
				return err
			}
		} else {
			for _, path := range args {
				rep, err := in.IngestFile(cmd.Context(), collection, path)
				total.Files += rep.Files
				total.Chunks += rep.Chunks
				total.Added += rep.Added
				total.Skipped = append(total.Skipped, rep.Skipped...)
				if err != nil {
					return err
				}
			}
		}

		renderIngestReport(cmd.OutOrStdout(), collection, total)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringP("collection", "c", "default", "collection to add chunks to")
	ingestCmd.Flags().String("glob", "", "doublestar pattern matched under the first path (default .)")
	ingestCmd.Flags().Bool("no-progress", false, "disable the progress bar")
}

func renderIngestReport(w io.Writer, collection string, rep ingest.Report) {
	fmt.Fprintf(w, "%s %d files, %d chunks, %d added", colorize(colorBold, collection+":"), rep.Files, rep.Chunks, rep.Added)
	if d := rep.Dropped(); d > 0 {
		fmt.Fprintf(w, ", %s", colorize(colorYellow, fmt.Sprintf("%d dropped", d)))
	}
	fmt.Fprintln(w)
	for _, s := range rep.Skipped {
		fmt.Fprintf(w, "  %s %s: %s\n", colorize(colorYellow, "skipped"), s.Path, s.Reason)
	}
}

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Show the chunks most similar to a query",
	Args:  requireArgs(1, "query"),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		collection, _ := cmd.Flags().GetString("collection")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ix, err := a.index(collection, false)
		if err != nil {
			return err
		}
		if limit <= 0 {
			limit = a.cfg.Retrieval.TopK
		}

		results := ix.SearchScored(cmd.Context(), query, limit)
		w := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(w, "No results found.")
			return nil
		}
		for i, r := range results {
			fmt.Fprintf(w, "\n%s [score: %.3f]", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Score)
			if src := r.Metadata["source"]; src != "" {
				fmt.Fprintf(w, " %s", colorize(colorCyan, sourceLabel(r.Metadata)))
			}
			fmt.Fprintf(w, "\n  %s\n", truncate(r.Text, 500))
		}
		return nil
	},
}

func init() {
	recallCmd.Flags().StringP("collection", "c", "default", "collection to search")
	recallCmd.Flags().Int("limit", 0, "maximum number of results (default retrieval.top_k)")
}

func sourceLabel(md map[string]string) string {
	if p := md["page"]; p != "" {
		return md["source"] + " p." + p
	}
	return md["source"]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <topic>",
	Short: "Generate flashcards for a topic with the local model",
	Long: `Generate flashcards for a topic with the local model.

Cards are printed as TSV unless --sync is given, in which case they go
through deduplication and history and, unless --no-push, to Anki.`,
	Args: requireArgs(1, "topic"),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		deck, _ := cmd.Flags().GetString("deck")
		tag, _ := cmd.Flags().GetString("tag")
		count, _ := cmd.Flags().GetInt("count")
		withContext, _ := cmd.Flags().GetBool("context")
		doSync, _ := cmd.Flags().GetBool("sync")
		noPush, _ := cmd.Flags().GetBool("no-push")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		opts := a.generateOptions()
		if withContext {
			ix, err := a.index(collection, false)
			if err != nil {
				return err
			}
			opts = append(opts, generate.WithSearcher(ix, a.cfg.Retrieval.TopK))
		}
		gen := generate.New(a.ollama, a.cfg.Ollama.ChatModel, opts...)

		stopSpinner := startSpinner(progressEnabled(), "generating")
		batch, err := gen.Generate(cmd.Context(), generate.Request{
			Topic:   strings.Join(args, " "),
			Deck:    deck,
			Tag:     tag,
			Count:   count,
			Context: withContext,
		})
		stopSpinner()
		if err != nil {
			return err
		}

		if !doSync {
			writeTSV(cmd.OutOrStdout(), batch)
			return nil
		}
		rep := a.syncer().Sync(cmd.Context(), user, batch, pipeline.Options{Push: !noPush, Source: generate.Source})
		renderSyncReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringP("collection", "c", "default", "collection to draw context from")
	generateCmd.Flags().String("deck", "", "deck for the cards (default anki.default_deck)")
	generateCmd.Flags().String("tag", "", "tag for the cards")
	generateCmd.Flags().Int("count", 10, "number of cards to ask for (max 50)")
	generateCmd.Flags().Bool("context", false, "include the most relevant chunks of the collection in the prompt")
	generateCmd.Flags().Bool("sync", false, "record the cards and push them to Anki")
	generateCmd.Flags().Bool("no-push", false, "with --sync, record in history without pushing")
}

func writeTSV(w io.Writer, batch []cards.Candidate) {
	for _, c := range batch {
		fmt.Fprintf(w, "%s\t%s\n", c.Front, c.Back)
	}
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync <file.tsv>",
	Short: "Deduplicate cards against history, record them, and push them to Anki",
	Long: `Deduplicate cards against history, record them, and push them to Anki.

The file holds one card per line as front<TAB>back; "|" and "," also work
as separators. Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deck, _ := cmd.Flags().GetString("deck")
		tag, _ := cmd.Flags().GetString("tag")
		source, _ := cmd.Flags().GetString("source")
		noPush, _ := cmd.Flags().GetBool("no-push")

		batch, err := readCandidates(args[0], cmd.InOrStdin(), deck, tag)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return fmt.Errorf("no cards found in %s", args[0])
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if !noPush {
			if ok, msg := a.anki.CheckConnectivity(cmd.Context()); !ok {
				return fmt.Errorf("%s (use --no-push to only record history)", msg)
			}
		}

		rep := a.syncer().Sync(cmd.Context(), user, batch, pipeline.Options{Push: !noPush, Source: source})
		renderSyncReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("deck", "", "deck for cards (default anki.default_deck)")
	syncCmd.Flags().String("tag", "", "tag for cards")
	syncCmd.Flags().String("source", "Imported", "label recorded in history")
	syncCmd.Flags().Bool("no-push", false, "record in history without pushing to Anki")
}

// readCandidates parses TSV from path, or stdin for "-", stamping deck and tag.
func readCandidates(path string, stdin io.Reader, deck, tag string) ([]cards.Candidate, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading cards: %w", err)
	}

	batch := cards.ParseTSV(string(data))
	for i := range batch {
		batch[i].Deck = deck
		batch[i].Tag = tag
	}
	return batch, nil
}

func renderSyncReport(w io.Writer, rep pipeline.Report) {
	fmt.Fprintf(w, "%d submitted, %d new, %d duplicates\n", rep.Submitted, rep.Kept, rep.Duplicates)
	if rep.LedgerError != "" {
		fmt.Fprintf(w, "%s history not saved: %s\n", colorize(colorRed, "✗"), rep.LedgerError)
	}
	if !rep.Pushed {
		return
	}
	fmt.Fprintf(w, "%s %d added to Anki\n", colorize(colorGreen, "✓"), rep.Outcome.Succeeded)
	for _, deck := range sortedKeys(rep.Decks) {
		t := rep.Decks[deck]
		fmt.Fprintf(w, "  %s %d added", colorize(colorBold, deck+":"), t.Succeeded)
		if t.Failed > 0 {
			fmt.Fprintf(w, ", %s", colorize(colorRed, fmt.Sprintf("%d failed", t.Failed)))
		}
		fmt.Fprintln(w)
	}
	for _, e := range rep.DeckErrors {
		fmt.Fprintf(w, "  %s %s\n", colorize(colorYellow, "deck:"), e)
	}
	for _, e := range rep.Outcome.Errors {
		fmt.Fprintf(w, "  %s %s\n", colorize(colorRed, "✗"), e)
	}
}
