package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/cardsmith/internal/anki"
	"github.com/kalambet/cardsmith/internal/cards"
	"github.com/kalambet/cardsmith/internal/config"
	"github.com/kalambet/cardsmith/internal/history"
	"github.com/kalambet/cardsmith/internal/storage"
)

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or edit the cards recorded for a user",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded cards, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		search, _ := cmd.Flags().GetString("search")
		deck, _ := cmd.Flags().GetString("deck")
		limit, _ := cmd.Flags().GetInt("limit")
		oldest, _ := cmd.Flags().GetBool("oldest")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		recs := a.ledger.Query(user, history.Filter{Search: search, Deck: deck, Limit: limit, OldestFirst: oldest})
		renderRecords(cmd.OutOrStdout(), recs)
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.ledger.Stats(user, time.Now())
		printStatus("User", "%s", userLabel(user))
		printStatus("Cards", "%d", st.Total)
		printStatus("Decks", "%d", st.Decks)
		printStatus("Today", "%d", st.Today)
		printStatus("Last 7 days", "%d", st.LastWeek)
		if !st.Latest.IsZero() {
			printStatus("Latest", "%s", st.Latest.Local().Format(time.DateTime))
		}
		return nil
	},
}

var historyDecksCmd = &cobra.Command{
	Use:   "decks",
	Short: "List decks in history",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, d := range a.ledger.Decks(user) {
			fmt.Fprintln(cmd.OutOrStdout(), d)
		}
		return nil
	},
}

var historyDeleteDeckCmd = &cobra.Command{
	Use:   "delete-deck <deck>",
	Short: "Forget a deck's cards so they can be created again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subdecks, _ := cmd.Flags().GetBool("subdecks")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.ledger.DeleteDeck(user, args[0], subdecks)
		if err != nil {
			return err
		}
		printSuccess("Deleted %d cards from %s", n, args[0])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the user's entire history",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL recorded cards for %s. Use --confirm to proceed.", userLabel(user))
			return nil
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ledger.Clear(user); err != nil {
			return err
		}
		printSuccess("History cleared for %s", userLabel(user))
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export history as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		w := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if err := a.ledger.ExportCSV(user, w); err != nil {
			return err
		}
		if output != "" {
			printSuccess("History exported to %s", output)
		}
		return nil
	},
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.store.RecentSyncRuns(user, limit)
		if err != nil {
			return err
		}
		renderRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	historyListCmd.Flags().String("search", "", "case-insensitive text to match in front or back")
	historyListCmd.Flags().String("deck", "", "only this deck")
	historyListCmd.Flags().Int("limit", 50, "maximum number of cards")
	historyListCmd.Flags().Bool("oldest", false, "oldest first")
	historyDeleteDeckCmd.Flags().Bool("subdecks", false, "also delete <deck>::* subdecks")
	historyClearCmd.Flags().Bool("confirm", false, "confirm deletion")
	historyExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	historyRunsCmd.Flags().Int("limit", 20, "maximum number of runs")

	historyCmd.AddCommand(historyListCmd, historyStatsCmd, historyDecksCmd,
		historyDeleteDeckCmd, historyClearCmd, historyExportCmd, historyRunsCmd)
}

func renderRecords(w io.Writer, recs []history.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No cards found.")
		return
	}
	for _, r := range recs {
		fmt.Fprintf(w, "%s  %s  %s\n",
			colorize(colorCyan, r.Timestamp.Local().Format(time.DateTime)),
			colorize(colorBold, r.Deck),
			truncate(r.Front, 80),
		)
	}
}

func renderRuns(w io.Writer, runs []storage.SyncRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No sync runs recorded.")
		return
	}
	for _, r := range runs {
		pushed := "recorded"
		if r.Pushed {
			pushed = fmt.Sprintf("pushed %d", r.Succeeded)
		}
		fmt.Fprintf(w, "%s  %-10s %d submitted, %d new, %s",
			colorize(colorCyan, r.CreatedAt.Local().Format(time.DateTime)),
			r.Source, r.Submitted, r.Kept, pushed)
		if len(r.Errors) > 0 {
			fmt.Fprintf(w, ", %s", colorize(colorRed, fmt.Sprintf("%d errors", len(r.Errors))))
		}
		fmt.Fprintln(w)
	}
}

// --- collections ---

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage indexed collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		cols, err := a.store.ListCollections()
		if err != nil {
			return err
		}
		renderCollections(cmd.OutOrStdout(), cols)
		return nil
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.DeleteCollection(args[0]); err != nil {
			return fmt.Errorf("deleting %q: %w", args[0], err)
		}
		printSuccess("Deleted collection %s", args[0])
		return nil
	},
}

func init() {
	collectionsCmd.AddCommand(collectionsListCmd, collectionsDeleteCmd)
}

func renderCollections(w io.Writer, cols []storage.Collection) {
	if len(cols) == 0 {
		fmt.Fprintln(w, "No collections yet. Use cardsmith ingest to create one.")
		return
	}
	for _, c := range cols {
		fmt.Fprintf(w, "%s  %d chunks  %d dims  %s  updated %s\n",
			colorize(colorBold, c.Name), c.Chunks, c.Dimensions, c.EmbedModel,
			c.UpdatedAt.Local().Format(time.DateTime))
	}
}

// --- anki ---

var ankiCmd = &cobra.Command{
	Use:   "anki",
	Short: "AnkiConnect utilities",
}

var ankiStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the connection to AnkiConnect",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ok, msg := a.anki.CheckConnectivity(cmd.Context())
		if !ok {
			return fmt.Errorf("%s", msg)
		}
		printSuccess("%s", msg)
		return nil
	},
}

var ankiPushCmd = &cobra.Command{
	Use:   "push <file.tsv|->",
	Short: "Push cards straight to Anki without recording history",
	Long: `Push cards straight to Anki without recording history or deduplicating.

Cards go in one addNotes call unless --single is given, in which case each
card is its own request and one bad card cannot fail the rest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deck, _ := cmd.Flags().GetString("deck")
		tag, _ := cmd.Flags().GetString("tag")
		single, _ := cmd.Flags().GetBool("single")

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

		if ok, msg := a.anki.CheckConnectivity(cmd.Context()); !ok {
			return fmt.Errorf("%s", msg)
		}
		notes := anki.NotesFromRows(cards.Rows(batch), a.cfg.Anki.DefaultDeck)
		renderDelivery(cmd.OutOrStdout(), a.anki.Deliver(cmd.Context(), notes, single))
		return nil
	},
}

func init() {
	ankiPushCmd.Flags().String("deck", "", "deck for cards (default anki.default_deck)")
	ankiPushCmd.Flags().String("tag", "", "tag for cards")
	ankiPushCmd.Flags().Bool("single", false, "send one request per card")
	ankiCmd.AddCommand(ankiStatusCmd, ankiPushCmd)
}

func renderDelivery(w io.Writer, d anki.Delivery) {
	fmt.Fprintf(w, "%s %d added to Anki\n", colorize(colorGreen, "✓"), d.Outcome.Succeeded)
	for _, e := range d.DeckErrors {
		fmt.Fprintf(w, "  %s %s\n", colorize(colorYellow, "deck:"), e)
	}
	for _, e := range d.Outcome.Errors {
		fmt.Fprintf(w, "  %s %s\n", colorize(colorRed, "✗"), e)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:       "unset <key>",
	Short:     "Reset a configuration value to its default",
	Args:      cobra.ExactArgs(1),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
