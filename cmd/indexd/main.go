// Command indexd keeps the qdrant index in sync with the archive by
// consuming saved-post events from NATS. Postgres stays the source of
// truth; this index is a rebuildable search cache.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/hexalog/xarchive/engine/archive"
	"github.com/hexalog/xarchive/engine/embed"
	"github.com/hexalog/xarchive/engine/semantic"
)

// Config holds all environment-based configuration.
type Config struct {
	NATSURL    string
	QdrantURL  string
	Collection string
	EmbedURL   string
	EmbedModel string
}

func loadConfig() Config {
	return Config{
		NATSURL:    envOr("NATS_URL", nats.DefaultURL),
		QdrantURL:  envOr("QDRANT_URL", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", semantic.DefaultCollection),
		EmbedURL:   envOr("EMBED_URL", "http://localhost:11434"),
		EmbedModel: envOr("EMBED_MODEL", embed.DefaultModel),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("indexd exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder := embed.NewClient(cfg.EmbedURL, cfg.EmbedModel)

	index, err := semantic.New(cfg.QdrantURL, cfg.Collection, embedder)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer index.Close()
	if err := index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}
	logger.Info("connected to qdrant", "collection", cfg.Collection)

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	sub, err := archive.StartIndexConsumer(nc, archive.IndexerDeps{Index: index, Logger: logger})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	logger.Info("indexd running", "subject", archive.SavedSubject)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	if err := sub.Drain(); err != nil {
		logger.Warn("drain failed", "error", err)
	}
	return nil
}
