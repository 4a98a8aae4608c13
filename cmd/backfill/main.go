// Command backfill extracts descriptions for archived images that have
// none: posts saved before image extraction existed, or whose extraction
// failed. One-shot by default, periodic with -every.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hexalog/xarchive/engine/embed"
	"github.com/hexalog/xarchive/engine/importer"
	"github.com/hexalog/xarchive/engine/store"
	"github.com/hexalog/xarchive/engine/vision"
)

func main() {
	var (
		dryRun     = flag.Bool("dry-run", false, "report pending media without describing")
		limit      = flag.Int("limit", 0, "max media items to process (0 = all)")
		regenerate = flag.Bool("regenerate-embeddings", false, "rebuild embeddings for affected posts")
		delay      = flag.Duration("delay", importer.DefaultImageDelay, "delay between vision calls")
		every      = flag.String("every", "", "cron spec for periodic runs (e.g. '0 3 * * *'); empty = one-shot")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := store.Open(os.Getenv("DATABASE_URL"), logger)
	if err != nil {
		logger.Error("database connect failed", "error", err)
		os.Exit(1)
	}

	describer, err := vision.New(vision.Options{APIKey: os.Getenv("ANTHROPIC_API_KEY"), Logger: logger})
	if err != nil {
		logger.Error("vision setup failed", "error", err)
		os.Exit(1)
	}

	var embedder importer.Embedder
	if *regenerate {
		embedder = embed.NewClient(envOr("EMBED_URL", "http://localhost:11434"), os.Getenv("EMBED_MODEL"))
	}

	b := &importer.Backfiller{DB: db, Describer: describer, Embedder: embedder, Logger: logger}
	opts := importer.BackfillOptions{
		DryRun:     *dryRun,
		Limit:      *limit,
		Regenerate: *regenerate,
		Delay:      *delay,
	}

	runOnce := func() {
		sum, err := b.Run(ctx, opts)
		if err != nil {
			logger.Error("backfill failed", "error", err)
			return
		}
		fmt.Printf("Described %d, failed %d, re-embedded %d of %d pending.\n",
			sum.Described, sum.Failed, sum.Reembedded, sum.Pending)
	}

	if *every == "" {
		runOnce()
		return
	}

	// Periodic mode. Overlapping runs are skipped, not queued.
	var mu sync.Mutex
	c := cron.New()
	_, err = c.AddFunc(*every, func() {
		if !mu.TryLock() {
			logger.Warn("previous backfill still running, skipping this tick")
			return
		}
		defer mu.Unlock()
		runOnce()
	})
	if err != nil {
		logger.Error("bad cron spec", "spec", *every, "error", err)
		os.Exit(1)
	}

	logger.Info("periodic backfill scheduled", "spec", *every)
	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("backfill still running at shutdown")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
