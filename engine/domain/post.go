// Package domain defines the core data model for the archive: posts,
// media items, and the validation rules applied before persistence.
package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Importance levels assignable to an archived post.
const (
	ImportanceLow      = "low"
	ImportanceMedium   = "medium"
	ImportanceHigh     = "high"
	ImportanceCritical = "critical"
)

// EmbeddingDimension is the output size of the sentence-embedding model.
const EmbeddingDimension = 384

// QuotedTextLimit caps how much of a quoted post's text is stored.
const QuotedTextLimit = 200

// Post is an archived social-media post. The post id is the
// platform-assigned numeric string and is globally unique within the
// store; re-archiving the same id is an upsert, never a duplicate.
type Post struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Content      string     `json:"content"`
	AuthorHandle string     `json:"author_handle,omitempty"`
	AuthorName   string     `json:"author_name,omitempty"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
	ArchivedVia  string     `json:"archived_via,omitempty"`

	Tags       []string `json:"tags,omitempty"`
	Topics     []string `json:"topics,omitempty"`
	Notes      string   `json:"notes,omitempty"`
	Importance string   `json:"importance,omitempty"`

	IsThread       bool `json:"is_thread"`
	ThreadPosition int  `json:"thread_position,omitempty"`

	QuotedPostID string `json:"quoted_post_id,omitempty"`
	QuotedURL    string `json:"quoted_url,omitempty"`
	QuotedAuthor string `json:"quoted_author,omitempty"`
	QuotedText   string `json:"quoted_text,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`
}

// MediaItem is a media attachment belonging to a post. It is created
// alongside its post and mutated once when a description is backfilled.
type MediaItem struct {
	ID              int64      `json:"id"`
	PostID          string     `json:"post_id"`
	Type            string     `json:"type"`
	URL             string     `json:"url"`
	Category        string     `json:"category,omitempty"`
	Description     string     `json:"description,omitempty"`
	ExtractionModel string     `json:"extraction_model,omitempty"`
	ExtractedAt     *time.Time `json:"extracted_at,omitempty"`
}

// Stats summarises the archive contents.
type Stats struct {
	TotalPosts    int `json:"total_posts"`
	UniqueAuthors int `json:"unique_authors"`
	UniqueTags    int `json:"unique_tags"`
}

// ValidImportance reports whether s is a recognised importance level.
// The empty string is allowed (importance is optional).
func ValidImportance(s string) bool {
	switch s {
	case "", ImportanceLow, ImportanceMedium, ImportanceHigh, ImportanceCritical:
		return true
	}
	return false
}

// EmbeddingText builds the text blob fed to the embedding model.
// Content is enriched with author and curation metadata so that
// searches over tags, topics, and notes hit the right posts.
func (p Post) EmbeddingText(imageDescriptions []string) string {
	var b strings.Builder
	b.WriteString(p.Content)

	if p.AuthorHandle != "" {
		fmt.Fprintf(&b, "\n\nAuthor: @%s", p.AuthorHandle)
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, "\nTags: %s", strings.Join(p.Tags, ", "))
	}
	if len(p.Topics) > 0 {
		fmt.Fprintf(&b, "\nTopics: %s", strings.Join(p.Topics, ", "))
	}
	if p.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s", p.Notes)
	}
	if len(imageDescriptions) > 0 {
		fmt.Fprintf(&b, "\n\nImage content: %s", strings.Join(imageDescriptions, " | "))
	}
	return b.String()
}

// Truncate trims s to at most limit runes. It never splits a UTF-8
// sequence, so the result is always valid text.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// TruncateQuoted trims quoted-post text to the stored limit.
func TruncateQuoted(text string) string {
	return Truncate(text, QuotedTextLimit)
}
