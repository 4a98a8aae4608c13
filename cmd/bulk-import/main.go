// Command bulk-import archives every X/Twitter link found in a Markdown
// export (bookmarks, notes, a reading list) in one batch run.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/hexalog/xarchive/engine/archive"
	"github.com/hexalog/xarchive/engine/embed"
	"github.com/hexalog/xarchive/engine/fetcher"
	"github.com/hexalog/xarchive/engine/importer"
	"github.com/hexalog/xarchive/engine/store"
)

func main() {
	var (
		file        = flag.String("file", "", "Markdown export to import (required)")
		dryRun      = flag.Bool("dry-run", false, "show what would be imported without fetching")
		force       = flag.Bool("force", false, "re-import posts that already exist")
		noEmbed     = flag.Bool("no-embed", false, "skip embedding generation")
		skipConfirm = flag.Bool("skip-confirm", false, "skip the confirmation prompt")
		delay       = flag.Duration("delay", importer.DefaultDelay, "delay between fetches")
		errorLog    = flag.String("error-log", "bulk_import_errors.log", "where to write failed URLs")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: bulk-import -file <export.md> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	urls, err := importer.ParseExportFile(*file)
	if err != nil {
		logger.Error("parse export failed", "error", err)
		os.Exit(1)
	}
	if len(urls) == 0 {
		fmt.Println("No X/Twitter URLs found in the export.")
		return
	}
	fmt.Printf("Found %d unique post URLs in %s\n", len(urls), *file)

	db, err := store.Open(os.Getenv("DATABASE_URL"), logger)
	if err != nil {
		logger.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Error("database migrate failed", "error", err)
		os.Exit(1)
	}

	var embedder archive.Embedder
	if !*noEmbed {
		embedder = embed.NewClient(envOr("EMBED_URL", "http://localhost:11434"), os.Getenv("EMBED_MODEL"))
	}

	archiver, err := archive.New(archive.Options{Store: db, Embedder: embedder, Logger: logger})
	if err != nil {
		logger.Error("archiver setup failed", "error", err)
		os.Exit(1)
	}

	im := &importer.Importer{
		Fetcher: fetcher.NewClient(fetcher.Options{Logger: logger}),
		Store:   db,
		Saver:   archiver,
		Logger:  logger,
	}

	fresh, dups, err := im.Partition(ctx, urls)
	if err != nil {
		logger.Error("duplicate check failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("New: %d, already archived: %d\n", len(fresh), len(dups))

	if *dryRun {
		for _, u := range fresh {
			fmt.Println("would import:", u)
		}
		return
	}
	if !*skipConfirm && !confirm(len(fresh), *force, len(urls)) {
		fmt.Println("Aborted.")
		return
	}

	sum, err := im.Run(ctx, urls, importer.RunOptions{
		Force:    *force,
		Delay:    *delay,
		ErrorLog: *errorLog,
	})
	if err != nil {
		logger.Error("import failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\nDone. Imported %d, skipped %d, failed %d of %d.\n",
		sum.Imported, sum.Skipped, len(sum.Failures), sum.Total)
	if len(sum.Failures) > 0 {
		fmt.Printf("Failed URLs written to %s\n", *errorLog)
	}
}

func confirm(fresh int, force bool, total int) bool {
	n := fresh
	if force {
		n = total
	}
	fmt.Printf("Import %d posts? [y/N] ", n)
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(sc.Text()))
	return answer == "y" || answer == "yes"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
