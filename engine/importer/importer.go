package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hexalog/xarchive/engine/archive"
	"github.com/hexalog/xarchive/engine/domain"
	"github.com/hexalog/xarchive/engine/fetcher"
	"github.com/hexalog/xarchive/pkg/fn"
)

// DefaultDelay paces fetches so the mirrors aren't hammered.
const DefaultDelay = time.Second

// ThreadFetcher fetches one thread by status URL.
type ThreadFetcher interface {
	FetchThread(ctx context.Context, url string) (*fetcher.Thread, error)
}

// ExistsChecker reports whether a post id is already archived.
type ExistsChecker interface {
	PostExists(ctx context.Context, id string) (bool, error)
}

// Saver persists one fetched thread.
type Saver interface {
	Save(ctx context.Context, t *fetcher.Thread, url string, meta archive.Meta) (*domain.Post, error)
}

// Importer runs bulk imports from markdown exports.
type Importer struct {
	Fetcher ThreadFetcher
	Store   ExistsChecker
	Saver   Saver
	Logger  *slog.Logger
}

// RunOptions controls one import run.
type RunOptions struct {
	DryRun   bool
	Force    bool // re-import posts that already exist
	Delay    time.Duration
	ErrorLog string // path for the failure log; empty disables it
}

// Failure records one URL that could not be imported.
type Failure struct {
	URL   string
	Error string
}

// Summary is the outcome of an import run.
type Summary struct {
	Total    int
	Skipped  int
	Imported int
	Failures []Failure
}

// Partition splits urls into those not yet archived and known duplicates.
func (im *Importer) Partition(ctx context.Context, urls []string) (fresh, dups []string, err error) {
	for _, u := range urls {
		id := fetcher.ExtractPostID(u)
		if id == "" {
			fresh = append(fresh, u)
			continue
		}
		exists, cerr := im.Store.PostExists(ctx, id)
		if cerr != nil {
			return nil, nil, fmt.Errorf("importer: duplicate check %s: %w", id, cerr)
		}
		if exists {
			dups = append(dups, u)
		} else {
			fresh = append(fresh, u)
		}
	}
	return fresh, dups, nil
}

// Run imports the given URLs. Known posts are skipped unless Force;
// per-URL failures are isolated and collected in the summary.
func (im *Importer) Run(ctx context.Context, urls []string, opts RunOptions) (*Summary, error) {
	log := im.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}

	fresh, dups, err := im.Partition(ctx, urls)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Total: len(urls), Skipped: len(dups)}
	if opts.Force {
		fresh = urls
		sum.Skipped = 0
	}

	log.Info("import starting",
		"total", sum.Total, "new", len(fresh), "skipped", sum.Skipped, "dry_run", opts.DryRun)
	if opts.DryRun {
		return sum, nil
	}

	pipeline := fn.Then(im.fetchStage(), im.saveStage())
	for i, u := range fresh {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		if _, perr := pipeline(ctx, u).Unwrap(); perr != nil {
			log.Warn("import failed", "url", u, "error", perr)
			sum.Failures = append(sum.Failures, Failure{URL: u, Error: perr.Error()})
		} else {
			sum.Imported++
		}

		if i < len(fresh)-1 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}

	if opts.ErrorLog != "" && len(sum.Failures) > 0 {
		if werr := writeErrorLog(opts.ErrorLog, sum.Failures); werr != nil {
			log.Warn("error log write failed", "path", opts.ErrorLog, "error", werr)
		}
	}

	log.Info("import finished",
		"imported", sum.Imported, "skipped", sum.Skipped, "failed", len(sum.Failures))
	return sum, nil
}

// fetched pairs a thread with the URL it came from, between stages.
type fetched struct {
	url    string
	thread *fetcher.Thread
}

func (im *Importer) fetchStage() fn.Stage[string, fetched] {
	return fn.TracedStage("import.fetch", func(ctx context.Context, u string) fn.Result[fetched] {
		t, err := im.Fetcher.FetchThread(ctx, u)
		if err != nil {
			return fn.Err[fetched](err)
		}
		return fn.Ok(fetched{url: u, thread: t})
	})
}

func (im *Importer) saveStage() fn.Stage[fetched, *domain.Post] {
	return fn.TracedStage("import.save", func(ctx context.Context, f fetched) fn.Result[*domain.Post] {
		return fn.FromPair(im.Saver.Save(ctx, f.thread, f.url, archive.Meta{Via: "bulk_import"}))
	})
}

func writeErrorLog(path string, failures []Failure) error {
	var b strings.Builder
	for _, f := range failures {
		fmt.Fprintf(&b, "%s: %s\n", f.URL, f.Error)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
