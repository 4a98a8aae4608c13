// Command migrate moves the legacy flat-file archive (Markdown + YAML
// front matter) into the Postgres store, generating embeddings on the way.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/hexalog/xarchive/engine/embed"
	"github.com/hexalog/xarchive/engine/filestore"
	"github.com/hexalog/xarchive/engine/importer"
	"github.com/hexalog/xarchive/engine/store"
)

func main() {
	var (
		archiveDir = flag.String("archive", ".", "root of the file archive (holds archive/posts/)")
		dryRun     = flag.Bool("dry-run", false, "report what would be migrated without writing")
		force      = flag.Bool("force", false, "overwrite posts that already exist in the database")
		noEmbed    = flag.Bool("no-embed", false, "skip embedding generation")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	files := filestore.New(*archiveDir, logger)
	total := files.Count()
	if total == 0 {
		fmt.Printf("No posts found under %s\n", *archiveDir)
		return
	}
	fmt.Printf("Found %d archived posts under %s\n", total, *archiveDir)

	db, err := store.Open(os.Getenv("DATABASE_URL"), logger)
	if err != nil {
		logger.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Error("database migrate failed", "error", err)
		os.Exit(1)
	}

	var embedder importer.Embedder
	if !*noEmbed {
		embedder = embed.NewClient(envOr("EMBED_URL", "http://localhost:11434"), os.Getenv("EMBED_MODEL"))
	}

	m := &importer.Migrator{Files: files, DB: db, Embedder: embedder, Logger: logger}
	sum, err := m.Run(ctx, importer.MigrateOptions{DryRun: *dryRun, Force: *force})
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\nDone. Migrated %d (embedded %d), skipped %d, failed %d of %d.\n",
		sum.Migrated, sum.Embedded, sum.Skipped, sum.Failed, sum.Total)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
