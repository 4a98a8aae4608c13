package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hexalog/xarchive/engine/domain"
	"github.com/hexalog/xarchive/engine/filestore"
)

// MigrateStore is the database surface the migration writes to.
type MigrateStore interface {
	PostExists(ctx context.Context, id string) (bool, error)
	UpsertPost(ctx context.Context, p *domain.Post) error
}

// Embedder generates embeddings for migrated posts.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Migrator moves the flat-file archive into the database.
type Migrator struct {
	Files    *filestore.Store
	DB       MigrateStore
	Embedder Embedder // nil migrates without embeddings
	Logger   *slog.Logger
}

// MigrateOptions controls one migration run.
type MigrateOptions struct {
	DryRun bool
	Force  bool // overwrite posts that already exist
}

// MigrateSummary is the outcome of a migration run.
type MigrateSummary struct {
	Total    int
	Migrated int
	Skipped  int
	Embedded int
	Failed   int
}

// Run walks every file post and upserts it into the database. Existing
// posts are skipped unless Force. Embedding failures degrade the post,
// parse failures are already skipped by the filestore.
func (m *Migrator) Run(ctx context.Context, opts MigrateOptions) (*MigrateSummary, error) {
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}

	sum := &MigrateSummary{}
	err := m.Files.Iter(func(p *domain.Post, path string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum.Total++

		if !opts.Force {
			exists, cerr := m.DB.PostExists(ctx, p.ID)
			if cerr != nil {
				return fmt.Errorf("importer: migrate check %s: %w", p.ID, cerr)
			}
			if exists {
				sum.Skipped++
				return nil
			}
		}

		if opts.DryRun {
			log.Info("would migrate", "id", p.ID, "path", path)
			sum.Migrated++
			return nil
		}

		if p.ArchivedVia == "" {
			p.ArchivedVia = "migration"
		}
		if m.Embedder != nil {
			emb, eerr := m.Embedder.Generate(ctx, p.EmbeddingText(nil))
			if eerr != nil {
				log.Warn("embedding failed, migrating without", "id", p.ID, "error", eerr)
			} else {
				p.Embedding = emb
				sum.Embedded++
			}
		}

		if uerr := m.DB.UpsertPost(ctx, p); uerr != nil {
			log.Warn("migrate failed", "id", p.ID, "error", uerr)
			sum.Failed++
			return nil
		}
		sum.Migrated++
		return nil
	})
	if err != nil {
		return sum, err
	}

	log.Info("migration finished",
		"total", sum.Total, "migrated", sum.Migrated,
		"skipped", sum.Skipped, "failed", sum.Failed, "dry_run", opts.DryRun)
	return sum, nil
}
