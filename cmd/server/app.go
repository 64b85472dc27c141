package main

import (
	"fmt"
	"log"

	"persona-kb/internal/chunker"
	"persona-kb/internal/config"
	"persona-kb/internal/db"
	"persona-kb/internal/embedding"
	"persona-kb/internal/openai"
	"persona-kb/internal/repository"
	"persona-kb/internal/services"
	"persona-kb/internal/vectorindex"
)

// app holds the wired pipeline shared by the server and the CLI commands.
type app struct {
	cfg      *config.Config
	database *db.GormDB

	openaiClient *openai.Client
	sources      *repository.SourceRepositoryImpl
	chunks       *repository.ChunkRepositoryImpl
	index        *vectorindex.PGVector
	embedder     embedding.Provider

	processor *services.SourceProcessor
	retriever *services.Retriever
	stats     *services.StatsReporter
}

// newApp connects to the database and builds the services. publisher may be nil.
func newApp(cfg *config.Config, publisher services.StatusPublisher) (*app, error) {
	database, err := db.NewGorm(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		database: database,
		sources:  repository.NewSourceRepository(database.DB),
		chunks:   repository.NewChunkRepository(database.DB),
		index:    vectorindex.NewPGVector(database.DB, cfg.VectorTable, cfg.IndexTimeout),
	}

	if cfg.EmbeddingConfigured() {
		a.openaiClient = openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ChatModel)
		log.Println("✓ OpenAI client initialized")
	}
	a.embedder = embedding.New(cfg, a.openaiClient)

	// Only retrieval queries go through the cache.
	queryEmbedder, err := embedding.NewCached(a.embedder, cfg.EmbeddingCacheSize)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	a.processor = services.NewSourceProcessor(
		a.sources,
		a.chunks,
		a.index,
		a.embedder,
		chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
		publisher,
	)
	a.retriever = services.NewRetriever(queryEmbedder, a.index, cfg.RetrievalTopK)
	a.stats = services.NewStatsReporter(a.sources, a.chunks, a.index, a.embedder)

	return a, nil
}

// responder returns the chat model client, or nil when none is configured.
func (a *app) responder() services.Responder {
	if a.openaiClient == nil {
		return nil
	}
	return a.openaiClient
}

func (a *app) Close() error {
	return a.database.Close()
}
