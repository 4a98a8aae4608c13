// Package archive assembles fetched threads into stored posts: content
// building, image description, embedding, persistence, and the saved-post
// event that keeps the vector index in sync.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hexalog/xarchive/engine/domain"
	"github.com/hexalog/xarchive/engine/fetcher"
	"github.com/hexalog/xarchive/engine/vision"
)

// DefaultMaxImages bounds how many images are described per post.
const DefaultMaxImages = 4

// contextLimit is how much post content accompanies an image description
// request.
const contextLimit = 500

// PostStore is the subset of the database the archiver writes to.
type PostStore interface {
	UpsertPost(ctx context.Context, p *domain.Post) error
	InsertMedia(ctx context.Context, m *domain.MediaItem) error
}

// Embedder produces document embeddings.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// ImageDescriber extracts descriptions from post images.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, imageURL, postContext, categoryHint string) (*vision.Description, error)
}

// EventPublisher announces saved posts. Best-effort: publish failures
// never fail a save.
type EventPublisher interface {
	PublishSaved(ctx context.Context, ev SavedEvent) error
}

// Meta is the curation metadata collected alongside a post.
type Meta struct {
	Tags       []string
	Topics     []string
	Notes      string
	Importance string
	Via        string
}

// Archiver runs the save pipeline for fetched threads.
type Archiver struct {
	store     PostStore
	embedder  Embedder
	describer ImageDescriber // nil disables image extraction
	events    EventPublisher // nil disables event publishing
	maxImages int
	log       *slog.Logger
}

// Options configures an Archiver.
type Options struct {
	Store     PostStore
	Embedder  Embedder
	Describer ImageDescriber
	Events    EventPublisher
	MaxImages int
	Logger    *slog.Logger
}

// New creates an Archiver. Only the store is required: a nil embedder
// saves posts without embeddings, a nil describer skips images, a nil
// publisher skips events.
func New(opts Options) (*Archiver, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("archive: store required")
	}
	if opts.MaxImages <= 0 {
		opts.MaxImages = DefaultMaxImages
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Archiver{
		store:     opts.Store,
		embedder:  opts.Embedder,
		describer: opts.Describer,
		events:    opts.Events,
		maxImages: opts.MaxImages,
		log:       opts.Logger,
	}, nil
}

// BuildContent flattens a thread into the stored content blob. Threads
// get position markers and separators; single tweets stay untouched.
func BuildContent(t *fetcher.Thread) string {
	if t.TotalCount <= 1 {
		return t.Main().Text
	}
	parts := make([]string, len(t.Tweets))
	for i, tw := range t.Tweets {
		parts[i] = fmt.Sprintf("[%d/%d]\n%s", i+1, t.TotalCount, tw.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// quotedRef returns the first quoted tweet in a thread, or nil.
func quotedRef(t *fetcher.Thread) *fetcher.Tweet {
	for i := range t.Tweets {
		if t.Tweets[i].Quoted != nil {
			return t.Tweets[i].Quoted
		}
	}
	return nil
}

// Save archives one thread: builds the post, describes images, embeds,
// persists post and media, and publishes the saved event. Embedding and
// image failures degrade the post rather than failing the save.
func (a *Archiver) Save(ctx context.Context, t *fetcher.Thread, url string, meta Meta) (*domain.Post, error) {
	if t == nil || len(t.Tweets) == 0 {
		return nil, fmt.Errorf("archive: empty thread")
	}

	content := BuildContent(t)
	now := time.Now().UTC()

	p := &domain.Post{
		ID:           t.Main().ID,
		URL:          url,
		Content:      content,
		AuthorHandle: t.AuthorHandle,
		AuthorName:   t.AuthorName,
		ArchivedAt:   &now,
		ArchivedVia:  meta.Via,
		Tags:         meta.Tags,
		Topics:       meta.Topics,
		Notes:        meta.Notes,
		Importance:   meta.Importance,
		IsThread:     t.TotalCount > 1,
	}
	p.PostedAt = parsePostedAt(t.Main().CreatedAt)
	if q := quotedRef(t); q != nil {
		p.QuotedPostID = q.ID
		p.QuotedURL = q.URL
		p.QuotedAuthor = q.AuthorHandle
		p.QuotedText = domain.TruncateQuoted(q.Text)
	}

	descriptions, extracted := a.describeImages(ctx, t, content)

	embedText := p.EmbeddingText(descriptions)
	var embedding []float32
	if a.embedder != nil {
		var err error
		embedding, err = a.embedder.Generate(ctx, embedText)
		if err != nil {
			a.log.Error("embedding failed, saving without", "id", p.ID, "error", err)
			embedding = nil
		}
	}
	p.Embedding = embedding

	if err := a.store.UpsertPost(ctx, p); err != nil {
		return nil, err
	}

	for _, tw := range t.Tweets {
		for _, m := range tw.Media {
			item := &domain.MediaItem{
				PostID: p.ID,
				Type:   m.Type,
				URL:    m.URL,
			}
			if d, ok := extracted[m.URL]; ok {
				item.Category = d.Category
				item.Description = d.Description
				item.ExtractionModel = d.Model
			}
			if err := a.store.InsertMedia(ctx, item); err != nil {
				a.log.Warn("media insert failed", "id", p.ID, "url", m.URL, "error", err)
			}
		}
	}

	if a.events != nil {
		ev := SavedEvent{
			PostID:    p.ID,
			Content:   embedText,
			Metadata:  indexMetadata(p),
			Embedding: embedding,
			SavedAt:   now,
		}
		if err := a.events.PublishSaved(ctx, ev); err != nil {
			a.log.Warn("saved event publish failed", "id", p.ID, "error", err)
		}
	}

	a.log.Info("post archived", "id", p.ID, "author", p.AuthorHandle, "thread", p.IsThread)
	return p, nil
}

// parsePostedAt handles the timestamp formats the two mirrors emit:
// the legacy Twitter format and RFC 3339.
func parsePostedAt(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RubyDate, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// describeImages runs the vision describer over the first maxImages
// images of a thread. Per-image failures are skipped.
func (a *Archiver) describeImages(ctx context.Context, t *fetcher.Thread, content string) ([]string, map[string]*vision.Description) {
	extracted := map[string]*vision.Description{}
	if a.describer == nil {
		return nil, extracted
	}

	imgContext := domain.Truncate(content, contextLimit)

	var descriptions []string
	for _, tw := range t.Tweets {
		for _, m := range tw.Media {
			if len(descriptions) >= a.maxImages {
				return descriptions, extracted
			}
			if m.Type != "image" || m.URL == "" {
				continue
			}
			d, err := a.describer.DescribeImage(ctx, m.URL, imgContext, "")
			if err != nil || d == nil || d.Description == "" {
				if err != nil {
					a.log.Warn("image description failed", "url", m.URL, "error", err)
				}
				continue
			}
			extracted[m.URL] = d
			descriptions = append(descriptions, d.Description)
		}
	}
	return descriptions, extracted
}

// indexMetadata is the payload stored alongside a post in the vector index.
func indexMetadata(p *domain.Post) map[string]any {
	return map[string]any{
		"author":       p.AuthorHandle,
		"url":          p.URL,
		"tags":         p.Tags,
		"topics":       p.Topics,
		"importance":   p.Importance,
		"archived_via": p.ArchivedVia,
	}
}
