package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/db"
	"document-qa/internal/embedding"
	"document-qa/internal/ingest"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
	"document-qa/internal/retriever"
	"document-qa/internal/server"
	"document-qa/internal/session"
)

// app holds the capabilities shared by every command
type app struct {
	cfg       *config.Config
	embedder  *embedding.LazyEmbedder
	vectors   *chromemdb.VectorDBManager // nil when the store could not be opened
	retriever *retriever.VectorRetriever
	llm       *llmservice.Registry
	history   rag.HistoryStore
	docs      *ingest.Service
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	embedder, err := embedding.New(cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	a.embedder = embedder
	log.Debug().
		Str("provider", cfg.EmbedLLM.Provider).
		Str("base_url", cfg.EmbedLLM.BaseURL).
		Str("model", cfg.EmbedLLM.Model).
		Int("dimension", cfg.EmbedLLM.Dimension).
		Msg("embedding config")

	var index ingest.Index = unavailableIndex{}
	vectors, err := chromemdb.NewVectorDBManager(cfg.VectorStore, embedder)
	if err != nil {
		log.Error().Err(err).Msg("Vector store unavailable, answering without document context")
	} else {
		a.vectors = vectors
		a.retriever = retriever.NewVectorRetriever(vectors, cfg.RAG)
		index = vectors
	}

	a.llm = llmservice.NewRegistry(cfg.LLM)
	log.Debug().
		Str("provider", cfg.LLM.Provider).
		Str("base_url", cfg.LLM.BaseURL).
		Strs("models", cfg.LLM.Models).
		Str("default_model", cfg.LLM.DefaultModel).
		Bool("credential", llmservice.HasCredential(cfg.LLM.Key)).
		Msg("llm config")
	if !a.llm.Configured() {
		log.Warn().Msg("No LLM API key configured, answers will fall back to the apology message")
	}

	var bdb *bun.DB
	if cfg.Database.Driver != "memory" {
		if bdb, err = openDB(ctx, cfg.Database); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bdb.Close)
	}

	var catalog ingest.Catalog = ingest.NewMemoryCatalog()
	if bdb != nil {
		catalog = db.NewDocumentRepo(bdb)
	}
	a.docs = ingest.NewService(cfg.Upload, parser.NewParser(cfg), catalog, index)

	switch cfg.History.Backend {
	case "redis":
		store := session.NewRedisStore(session.NewRedisClient(cfg.Redis), cfg.Redis.Prefix, cfg.Redis.TTL)
		if err := store.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Redis.Addr, err)
		}
		a.history = store
		a.closers = append(a.closers, store.Close)
	case "database":
		if bdb != nil {
			a.history = db.NewHistoryRepo(bdb)
			break
		}
		fallthrough
	default:
		a.history = session.NewMemoryStore()
	}
	return a, nil
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*bun.DB, error) {
	sqldb, err := db.ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	bdb := db.NewDB(sqldb, cfg.Debug)
	if err := bdb.PingContext(ctx); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := db.InitDB(ctx, bdb); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return bdb, nil
}

// pipeline builds the conversation pipeline, limited to one document when documentID > 0
func (a *app) pipeline(documentID int64) *rag.Pipeline {
	var retr retriever.Retriever = retriever.EmptyRetriever{}
	if a.retriever != nil {
		retr = a.retriever
		if documentID > 0 {
			retr = a.retriever.ForDocument(documentID)
		}
	}
	return rag.NewPipeline(a.cfg.RAG, a.llm, retr, a.history)
}

func (a *app) status(context.Context) server.Status {
	return server.Status{
		VectorStore:          a.vectors != nil,
		Embeddings:           a.embedder.State(),
		GenerationConfigured: a.llm.Configured(),
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

// unavailableIndex rejects writes when the vector store could not be opened
type unavailableIndex struct{}

func (unavailableIndex) AddChunks(context.Context, []models.Chunk) error {
	return models.ErrIndexUnavailable
}

func (unavailableIndex) DeleteDocument(context.Context, int64) error {
	return models.ErrIndexUnavailable
}

func (unavailableIndex) Count() int { return 0 }
