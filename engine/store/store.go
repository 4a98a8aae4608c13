// Package store persists posts and media in Postgres. Vector search is
// delegated to the server-side match_posts function (pgvector); every
// other operation goes through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hexalog/xarchive/engine/domain"
)

// DefaultMatchThreshold is the minimum similarity returned by SearchPosts.
const DefaultMatchThreshold = 0.7

// matchPostsSQL installs the server-side similarity function. Embeddings
// are L2-normalized, so inner product equals cosine similarity.
const matchPostsSQL = `
CREATE OR REPLACE FUNCTION match_posts(
    query_embedding vector(384),
    match_threshold float,
    match_count int
)
RETURNS TABLE (
    id text,
    url text,
    content text,
    author_handle text,
    tags jsonb,
    topics jsonb,
    notes text,
    similarity float
)
LANGUAGE sql STABLE
AS $$
    SELECT p.id, p.url, p.content, p.author_handle, p.tags, p.topics, p.notes,
           1 - (p.embedding <=> query_embedding) AS similarity
    FROM posts p
    WHERE p.embedding IS NOT NULL
      AND 1 - (p.embedding <=> query_embedding) > match_threshold
    ORDER BY p.embedding <=> query_embedding
    LIMIT match_count;
$$;
`

// Store owns all Postgres operations for posts and media.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects to Postgres. Bad credentials or an unreachable server
// fail here, not at first query.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: database DSN required")
	}
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// NewWithDB builds a Store over an existing gorm handle. Test seam.
func NewWithDB(db *gorm.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, log: log}
}

// Migrate creates the schema, the pgvector extension, and match_posts.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("store: create vector extension: %w", err)
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&postRow{}, &mediaRow{}); err != nil {
		return fmt.Errorf("store: migrate schema: %w", err)
	}
	if err := s.db.WithContext(ctx).Exec(matchPostsSQL).Error; err != nil {
		return fmt.Errorf("store: install match_posts: %w", err)
	}
	return nil
}

// InsertPost stores a new post. An existing id yields domain.ErrDuplicate.
func (s *Store) InsertPost(ctx context.Context, p *domain.Post) error {
	if err := domain.ValidatePost(*p); err != nil {
		return fmt.Errorf("store: insert %s: %w", p.ID, err)
	}
	row := toRow(p)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("store: insert %s: %w", p.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("store: insert %s: %w", p.ID, err)
	}
	s.log.Info("post stored", "id", p.ID, "author", p.AuthorHandle)
	return nil
}

// UpsertPost inserts or fully replaces a post by id.
func (s *Store) UpsertPost(ctx context.Context, p *domain.Post) error {
	if err := domain.ValidatePost(*p); err != nil {
		return fmt.Errorf("store: upsert %s: %w", p.ID, err)
	}
	row := toRow(p)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", p.ID, err)
	}
	return nil
}

// GetPost fetches one post by id.
func (s *Store) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	var row postRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: get %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return fromRow(row), nil
}

// GetRecentPosts returns the most recently archived posts, newest first.
func (s *Store) GetRecentPosts(ctx context.Context, limit int) ([]*domain.Post, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []postRow
	err := s.db.WithContext(ctx).
		Order("archived_at DESC NULLS LAST").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: recent posts: %w", err)
	}
	posts := make([]*domain.Post, len(rows))
	for i, row := range rows {
		posts[i] = fromRow(row)
	}
	return posts, nil
}

// GetAllPosts returns every post. Backs the export tool; everything
// interactive goes through GetRecentPosts or SearchPosts.
func (s *Store) GetAllPosts(ctx context.Context) ([]*domain.Post, error) {
	var rows []postRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: all posts: %w", err)
	}
	posts := make([]*domain.Post, len(rows))
	for i, row := range rows {
		posts[i] = fromRow(row)
	}
	return posts, nil
}

// PostExists reports whether a post id is already archived.
func (s *Store) PostExists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&postRow{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", id, err)
	}
	return count > 0, nil
}

// UpdateEmbedding replaces a post's embedding vector.
func (s *Store) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) != domain.EmbeddingDimension {
		return fmt.Errorf("store: update embedding %s: %w: got %d dimensions",
			id, domain.ErrBadEmbedding, len(embedding))
	}
	vec := pgvector.NewVector(embedding)
	res := s.db.WithContext(ctx).
		Model(&postRow{}).
		Where("id = ?", id).
		Update("embedding", &vec)
	if res.Error != nil {
		return fmt.Errorf("store: update embedding %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: update embedding %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CountPosts returns the total number of archived posts.
func (s *Store) CountPosts(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&postRow{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return int(count), nil
}

// Stats aggregates archive totals for the bot's /stats command.
func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	total, err := s.CountPosts(ctx)
	if err != nil {
		return nil, err
	}

	var authors int64
	err = s.db.WithContext(ctx).
		Model(&postRow{}).
		Where("author_handle <> ''").
		Distinct("author_handle").
		Count(&authors).Error
	if err != nil {
		return nil, fmt.Errorf("store: stats authors: %w", err)
	}

	// Tags live in a jsonb array column; distinct count needs unnesting.
	var tags int64
	err = s.db.WithContext(ctx).
		Raw("SELECT COUNT(DISTINCT tag) FROM posts, jsonb_array_elements_text(tags) AS tag").
		Scan(&tags).Error
	if err != nil {
		return nil, fmt.Errorf("store: stats tags: %w", err)
	}

	return &domain.Stats{
		TotalPosts:    total,
		UniqueAuthors: int(authors),
		UniqueTags:    int(tags),
	}, nil
}

// SearchPosts runs server-side vector search through match_posts.
func (s *Store) SearchPosts(ctx context.Context, queryEmbedding []float32, threshold float64, count int) ([]Match, error) {
	if len(queryEmbedding) != domain.EmbeddingDimension {
		return nil, fmt.Errorf("store: search: %w: got %d dimensions",
			domain.ErrBadEmbedding, len(queryEmbedding))
	}
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	if count <= 0 {
		count = 10
	}

	var matches []Match
	err := s.db.WithContext(ctx).
		Raw("SELECT * FROM match_posts(?, ?, ?)",
			pgvector.NewVector(queryEmbedding), threshold, count).
		Scan(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return matches, nil
}

// InsertMedia stores a media item for a post. A described item gets its
// extraction timestamp set on insert.
func (s *Store) InsertMedia(ctx context.Context, m *domain.MediaItem) error {
	if m.PostID == "" {
		return fmt.Errorf("store: insert media: %w", domain.ErrMissingID)
	}
	row := toMediaRow(m)
	if row.Description != "" && row.ExtractedAt == nil {
		now := time.Now().UTC()
		row.ExtractedAt = &now
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: insert media for %s: %w", m.PostID, err)
	}
	m.ID = row.ID
	return nil
}

// PostMedia returns all media items belonging to a post.
func (s *Store) PostMedia(ctx context.Context, postID string) ([]*domain.MediaItem, error) {
	var rows []mediaRow
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: media for %s: %w", postID, err)
	}
	items := make([]*domain.MediaItem, len(rows))
	for i, row := range rows {
		items[i] = fromMediaRow(row)
	}
	return items, nil
}

// UpdateMedia attaches an extracted description to a media item.
func (s *Store) UpdateMedia(ctx context.Context, mediaID int64, category, description, model string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&mediaRow{}).
		Where("id = ?", mediaID).
		Updates(map[string]any{
			"category":         category,
			"description":      description,
			"extraction_model": model,
			"extracted_at":     &now,
		})
	if res.Error != nil {
		return fmt.Errorf("store: update media %d: %w", mediaID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: update media %d: %w", mediaID, domain.ErrNotFound)
	}
	return nil
}

// MediaWithoutDescriptions lists media items pending a description, for
// the backfill driver.
func (s *Store) MediaWithoutDescriptions(ctx context.Context, limit int) ([]*domain.MediaItem, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []mediaRow
	err := s.db.WithContext(ctx).
		Where("description = '' OR description IS NULL").
		Order("id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: media without descriptions: %w", err)
	}
	items := make([]*domain.MediaItem, len(rows))
	for i, row := range rows {
		items[i] = fromMediaRow(row)
	}
	return items, nil
}
