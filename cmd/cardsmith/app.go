package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/cardsmith/internal/anki"
	"github.com/kalambet/cardsmith/internal/api"
	"github.com/kalambet/cardsmith/internal/config"
	"github.com/kalambet/cardsmith/internal/generate"
	"github.com/kalambet/cardsmith/internal/history"
	"github.com/kalambet/cardsmith/internal/ingest"
	"github.com/kalambet/cardsmith/internal/ollama"
	"github.com/kalambet/cardsmith/internal/pipeline"
	"github.com/kalambet/cardsmith/internal/retrieval"
	"github.com/kalambet/cardsmith/internal/storage"
)

// app wires the components every command draws on.
type app struct {
	cfg    config.Config
	store  *storage.Store
	ledger *history.FileLedger
	ollama *ollama.Client
	embed  *retrieval.Embedder
	anki   *anki.Client
	logger *slog.Logger
}

// loadConfig is swapped in tests.
var loadConfig = config.Load

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newApp(cfg, nil)
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	ledger, err := history.NewFileLedger(cfg.History.Dir, history.WithLogger(logger))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening history: %w", err)
	}

	oc := ollama.New(cfg.Ollama.BaseURL)
	return &app{
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		ollama: oc,
		embed:  retrieval.NewEmbedder(oc, cfg.Ollama.EmbedModel),
		anki: anki.New(cfg.Anki.URL,
			anki.WithHosted(cfg.Anki.Hosted),
			anki.WithTimeouts(0, cfg.Anki.SingleTimeout()),
			anki.WithLogger(logger),
		),
		logger: logger,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) syncer() *pipeline.Syncer {
	return pipeline.NewSyncer(a.ledger, a.anki,
		pipeline.WithJournal(a.store),
		pipeline.WithDefaultDeck(a.cfg.Anki.DefaultDeck),
		pipeline.WithLogger(a.logger),
	)
}

// index loads collection from storage, or returns an empty index when the
// collection does not exist yet and create is set.
func (a *app) index(collection string, create bool) (*retrieval.Index, error) {
	ix, err := a.store.LoadIndex(collection, a.embed, retrieval.WithLogger(a.logger))
	if errors.Is(err, storage.ErrNotFound) {
		if !create {
			return nil, fmt.Errorf("collection %q not found", collection)
		}
		return retrieval.NewIndex(a.embed, retrieval.WithLogger(a.logger)), nil
	}
	if err != nil {
		return nil, err
	}
	return ix, nil
}

func (a *app) ingestOptions() []ingest.Option {
	return []ingest.Option{
		ingest.WithChunking(a.cfg.Ingest.ChunkSize, a.cfg.Ingest.ChunkOverlap),
		ingest.WithLogger(a.logger),
	}
}

func (a *app) generateOptions() []generate.Option {
	return []generate.Option{
		generate.WithTemperature(a.cfg.Generate.Temperature),
		generate.WithLogger(a.logger),
	}
}

func (a *app) deps() api.Deps {
	return api.Deps{
		Store:           a.store,
		Gateway:         a.embed,
		EmbedModel:      a.embed.Model(),
		Ledger:          a.ledger,
		Syncer:          a.syncer(),
		Anki:            a.anki,
		Notes:           a.anki,
		DefaultDeck:     a.cfg.Anki.DefaultDeck,
		Chat:            a.ollama,
		ChatModel:       a.cfg.Ollama.ChatModel,
		GenerateOptions: a.generateOptions(),
		IngestOptions:   a.ingestOptions(),
		TopK:            a.cfg.Retrieval.TopK,
		Token:           a.cfg.Server.Token,
		Logger:          a.logger,
	}
}
