package importer

import (
	"context"
	"log/slog"
	"time"

	"github.com/hexalog/xarchive/engine/domain"
	"github.com/hexalog/xarchive/engine/vision"
)

// DefaultImageDelay paces vision calls during backfill.
const DefaultImageDelay = 500 * time.Millisecond

// backfillContextLimit bounds the post content sent as image context.
const backfillContextLimit = 500

// BackfillStore is the database surface the backfill reads and writes.
type BackfillStore interface {
	MediaWithoutDescriptions(ctx context.Context, limit int) ([]*domain.MediaItem, error)
	GetPost(ctx context.Context, id string) (*domain.Post, error)
	PostMedia(ctx context.Context, postID string) ([]*domain.MediaItem, error)
	UpdateMedia(ctx context.Context, mediaID int64, category, description, model string) error
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}

// ImageDescriber extracts a description for one image.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, imageURL, postContext, categoryHint string) (*vision.Description, error)
}

// Backfiller describes media items that were archived before image
// extraction existed (or when it failed).
type Backfiller struct {
	DB        BackfillStore
	Describer ImageDescriber
	Embedder  Embedder // nil disables embedding regeneration
	Logger    *slog.Logger
}

// BackfillOptions controls one backfill run.
type BackfillOptions struct {
	DryRun      bool
	Limit       int
	Regenerate  bool // regenerate embeddings for affected posts
	Delay       time.Duration
}

// BackfillSummary is the outcome of a backfill run.
type BackfillSummary struct {
	Pending     int
	Described   int
	Failed      int
	Reembedded  int
}

// Run describes pending media items one at a time with a fixed delay
// between vision calls. Failures are isolated per item.
func (b *Backfiller) Run(ctx context.Context, opts BackfillOptions) (*BackfillSummary, error) {
	log := b.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultImageDelay
	}

	items, err := b.DB.MediaWithoutDescriptions(ctx, opts.Limit)
	if err != nil {
		return nil, err
	}

	sum := &BackfillSummary{Pending: len(items)}
	log.Info("backfill starting", "pending", len(items), "dry_run", opts.DryRun)
	if opts.DryRun || len(items) == 0 {
		return sum, nil
	}

	affected := map[string]bool{}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		postContext := ""
		if post, gerr := b.DB.GetPost(ctx, item.PostID); gerr == nil {
			postContext = domain.Truncate(post.Content, backfillContextLimit)
		}

		d, derr := b.Describer.DescribeImage(ctx, item.URL, postContext, "")
		if derr != nil || d == nil || d.Description == "" {
			log.Warn("no description extracted", "media_id", item.ID, "url", item.URL, "error", derr)
			sum.Failed++
		} else if uerr := b.DB.UpdateMedia(ctx, item.ID, d.Category, d.Description, d.Model); uerr != nil {
			log.Warn("media update failed", "media_id", item.ID, "error", uerr)
			sum.Failed++
		} else {
			sum.Described++
			affected[item.PostID] = true
		}

		if i < len(items)-1 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}

	if opts.Regenerate && b.Embedder != nil && len(affected) > 0 {
		sum.Reembedded = b.regenerate(ctx, affected, log)
	}

	log.Info("backfill finished",
		"described", sum.Described, "failed", sum.Failed, "reembedded", sum.Reembedded)
	return sum, nil
}

// regenerate rebuilds embeddings for posts whose media gained
// descriptions, so the new text becomes searchable.
func (b *Backfiller) regenerate(ctx context.Context, postIDs map[string]bool, log *slog.Logger) int {
	done := 0
	for id := range postIDs {
		post, err := b.DB.GetPost(ctx, id)
		if err != nil {
			log.Warn("regenerate: post load failed", "id", id, "error", err)
			continue
		}

		media, err := b.DB.PostMedia(ctx, id)
		if err != nil {
			log.Warn("regenerate: media load failed", "id", id, "error", err)
			continue
		}
		var descriptions []string
		for _, m := range media {
			if m.Description != "" {
				descriptions = append(descriptions, m.Description)
			}
		}

		emb, err := b.Embedder.Generate(ctx, post.EmbeddingText(descriptions))
		if err != nil {
			log.Warn("regenerate: embedding failed", "id", id, "error", err)
			continue
		}
		if err := b.DB.UpdateEmbedding(ctx, id, emb); err != nil {
			log.Warn("regenerate: update failed", "id", id, "error", err)
			continue
		}
		done++
	}
	return done
}
