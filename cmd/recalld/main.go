package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/taskweave/recall/internal/api"
	"github.com/taskweave/recall/internal/completion"
	"github.com/taskweave/recall/internal/config"
	"github.com/taskweave/recall/internal/embedding"
	"github.com/taskweave/recall/internal/memory"
	"github.com/taskweave/recall/internal/search"
	"github.com/taskweave/recall/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Stores
	memoryStore := store.NewMemoryStore(db)
	tagStore := store.NewTagStore(db)
	assocStore := store.NewAssociationStore(db)
	retrievalStore := store.NewRetrievalStore(db, memoryStore)
	statsStore := store.NewStatsStore(db)
	lexicalStore := store.NewLexicalStore(db)
	embCacheStore := store.NewEmbeddingCacheStore(db)

	// External services
	embClient := embedding.NewClient(
		cfg.Embedding.BaseURL, cfg.Embedding.APIKey,
		cfg.Embedding.Model, cfg.Embedding.Dim, cfg.RequestTimeout())
	embedder := embedding.NewCachedEmbedder(embClient, embCacheStore, cfg.Embedding.Model, cfg.Embedding.Dim)
	completer := completion.NewClient(
		cfg.Completion.BaseURL, cfg.Completion.APIKey,
		cfg.Completion.Model, cfg.RequestTimeout())

	// Search
	vectorSearcher := search.NewVectorSearcher(memoryStore, embedder)
	hybridSearcher := search.NewHybridSearcher(
		lexicalStore, vectorSearcher, memoryStore,
		cfg.VectorWeight, cfg.BM25Weight, cfg.RRFK, logger)
	expander := search.NewQueryExpander(completer, logger)
	expandedSearcher := search.NewExpandedSearcher(expander, lexicalStore, memoryStore)

	// Facade
	dedup := memory.NewDeduplicator(memoryStore, cfg.DedupThreshold)
	svc := memory.NewService(
		db, memoryStore, tagStore, assocStore, retrievalStore, statsStore,
		lexicalStore, embedder, completer,
		hybridSearcher, vectorSearcher, expandedSearcher, dedup,
		cfg.DefaultLimit, cfg.MinScore, logger)

	router := api.NewRouter(svc, cfg.APIKey, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("recall server starting", "addr", addr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
