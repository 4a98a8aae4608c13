package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"

	"github.com/hexalog/xarchive/engine/domain"
)

// postRow is the gorm mapping for the posts table.
type postRow struct {
	ID             string `gorm:"primaryKey"`
	URL            string `gorm:"not null"`
	Content        string `gorm:"not null"`
	AuthorHandle   string
	AuthorName     string
	PostedAt       *time.Time
	ArchivedAt     *time.Time
	ArchivedVia    string
	Tags           datatypes.JSONSlice[string]
	Topics         datatypes.JSONSlice[string]
	Notes          string
	Importance     string
	IsThread       bool
	ThreadPosition int
	QuotedPostID   string
	QuotedText     string
	QuotedAuthor   string
	QuotedURL      string
	Embedding      *pgvector.Vector `gorm:"type:vector(384)"`
}

func (postRow) TableName() string { return "posts" }

// mediaRow is the gorm mapping for the post_media table.
type mediaRow struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	PostID          string `gorm:"not null;index"`
	Type            string
	URL             string
	Category        string
	Description     string
	ExtractionModel string
	ExtractedAt     *time.Time
}

func (mediaRow) TableName() string { return "post_media" }

// Match is one vector-search hit from match_posts.
type Match struct {
	ID           string                      `gorm:"column:id"`
	URL          string                      `gorm:"column:url"`
	Content      string                      `gorm:"column:content"`
	AuthorHandle string                      `gorm:"column:author_handle"`
	Tags         datatypes.JSONSlice[string] `gorm:"column:tags"`
	Topics       datatypes.JSONSlice[string] `gorm:"column:topics"`
	Notes        string                      `gorm:"column:notes"`
	Similarity   float64                     `gorm:"column:similarity"`
}

func toRow(p *domain.Post) postRow {
	row := postRow{
		ID:             p.ID,
		URL:            p.URL,
		Content:        p.Content,
		AuthorHandle:   p.AuthorHandle,
		AuthorName:     p.AuthorName,
		PostedAt:       p.PostedAt,
		ArchivedAt:     p.ArchivedAt,
		ArchivedVia:    p.ArchivedVia,
		Tags:           datatypes.NewJSONSlice(p.Tags),
		Topics:         datatypes.NewJSONSlice(p.Topics),
		Notes:          p.Notes,
		Importance:     p.Importance,
		IsThread:       p.IsThread,
		ThreadPosition: p.ThreadPosition,
		QuotedPostID:   p.QuotedPostID,
		QuotedText:     p.QuotedText,
		QuotedAuthor:   p.QuotedAuthor,
		QuotedURL:      p.QuotedURL,
	}
	if len(p.Embedding) > 0 {
		vec := pgvector.NewVector(p.Embedding)
		row.Embedding = &vec
	}
	return row
}

func fromRow(row postRow) *domain.Post {
	p := &domain.Post{
		ID:             row.ID,
		URL:            row.URL,
		Content:        row.Content,
		AuthorHandle:   row.AuthorHandle,
		AuthorName:     row.AuthorName,
		PostedAt:       row.PostedAt,
		ArchivedAt:     row.ArchivedAt,
		ArchivedVia:    row.ArchivedVia,
		Tags:           row.Tags,
		Topics:         row.Topics,
		Notes:          row.Notes,
		Importance:     row.Importance,
		IsThread:       row.IsThread,
		ThreadPosition: row.ThreadPosition,
		QuotedPostID:   row.QuotedPostID,
		QuotedText:     row.QuotedText,
		QuotedAuthor:   row.QuotedAuthor,
		QuotedURL:      row.QuotedURL,
	}
	if row.Embedding != nil {
		p.Embedding = row.Embedding.Slice()
	}
	return p
}

func toMediaRow(m *domain.MediaItem) mediaRow {
	return mediaRow{
		ID:              m.ID,
		PostID:          m.PostID,
		Type:            m.Type,
		URL:             m.URL,
		Category:        m.Category,
		Description:     m.Description,
		ExtractionModel: m.ExtractionModel,
		ExtractedAt:     m.ExtractedAt,
	}
}

func fromMediaRow(row mediaRow) *domain.MediaItem {
	return &domain.MediaItem{
		ID:              row.ID,
		PostID:          row.PostID,
		Type:            row.Type,
		URL:             row.URL,
		Category:        row.Category,
		Description:     row.Description,
		ExtractionModel: row.ExtractionModel,
		ExtractedAt:     row.ExtractedAt,
	}
}
