// Package filestore reads and writes the flat-file archive layout:
// markdown posts with YAML front matter under archive/posts/YYYY/MM/,
// plus data/index.json and data/tags.json. The database is the system
// of record; this store survives for migration and plain-text greppability.
package filestore

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hexalog/xarchive/engine/domain"
)

const (
	postsDir  = "archive/posts"
	indexFile = "data/index.json"
	tagsFile  = "data/tags.json"
)

// Store is a flat-file post archive rooted at one directory.
type Store struct {
	root string
	log  *slog.Logger
}

// New creates a Store rooted at dir.
func New(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{root: dir, log: log}
}

// author appears in two historical forms: a bare handle string in early
// files, a handle/name mapping in later ones.
type author struct {
	Handle string `yaml:"handle"`
	Name   string `yaml:"name"`
}

func (a *author) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		a.Handle = value.Value
		return nil
	}
	type plain author
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*a = author(p)
	return nil
}

type threadMeta struct {
	IsThread bool `yaml:"is_thread"`
	Position int  `yaml:"position,omitempty"`
	Total    int  `yaml:"total,omitempty"`
}

type frontMatter struct {
	ID         string      `yaml:"id"`
	URL        string      `yaml:"url,omitempty"`
	Author     author      `yaml:"author,omitempty"`
	PostedAt   string      `yaml:"posted_at,omitempty"`
	ArchivedAt string      `yaml:"archived_at,omitempty"`
	Tags       []string    `yaml:"tags,omitempty"`
	Topics     []string    `yaml:"topics,omitempty"`
	Importance string      `yaml:"importance,omitempty"`
	Notes      string      `yaml:"notes,omitempty"`
	Thread     *threadMeta `yaml:"thread,omitempty"`
}

// ParseFile reads one markdown post. The id falls back to the file stem
// when the front matter omits it.
func (s *Store) ParseFile(path string) (*domain.Post, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}

	fm, body, err := splitFrontMatter(string(raw))
	if err != nil {
		return nil, fmt.Errorf("filestore: parse %s: %w", path, err)
	}

	if fm.ID == "" {
		fm.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	p := &domain.Post{
		ID:           fm.ID,
		URL:          fm.URL,
		Content:      strings.TrimSpace(body),
		AuthorHandle: fm.Author.Handle,
		AuthorName:   fm.Author.Name,
		Tags:         fm.Tags,
		Topics:       fm.Topics,
		Importance:   fm.Importance,
		Notes:        fm.Notes,
	}
	if fm.Thread != nil {
		p.IsThread = fm.Thread.IsThread
		p.ThreadPosition = fm.Thread.Position
	}
	p.PostedAt = parseTime(fm.PostedAt)
	p.ArchivedAt = parseTime(fm.ArchivedAt)
	return p, nil
}

func splitFrontMatter(raw string) (frontMatter, string, error) {
	var fm frontMatter
	if !strings.HasPrefix(raw, "---") {
		return fm, raw, nil
	}
	parts := strings.SplitN(raw, "---", 3)
	if len(parts) < 3 {
		return fm, raw, nil
	}
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		return fm, "", err
	}
	return fm, parts[2], nil
}

// parseTime accepts the formats that have shown up in front matter over
// the life of the archive.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// PostPath returns the archive location for a post id and archive time.
func (s *Store) PostPath(id string, archivedAt time.Time) string {
	return filepath.Join(s.root, postsDir,
		archivedAt.Format("2006"), archivedAt.Format("01"), id+".md")
}

// WritePost stores a post as markdown and updates the index and taxonomy
// files. Returns the written path.
func (s *Store) WritePost(p *domain.Post) (string, error) {
	if p.ID == "" {
		return "", fmt.Errorf("filestore: write: %w", domain.ErrMissingID)
	}

	archivedAt := time.Now().UTC()
	if p.ArchivedAt != nil {
		archivedAt = *p.ArchivedAt
	}

	fm := frontMatter{
		ID:         p.ID,
		URL:        p.URL,
		Author:     author{Handle: p.AuthorHandle, Name: p.AuthorName},
		ArchivedAt: archivedAt.Format(time.RFC3339),
		Tags:       p.Tags,
		Topics:     p.Topics,
		Importance: p.Importance,
		Notes:      p.Notes,
	}
	if p.PostedAt != nil {
		fm.PostedAt = p.PostedAt.Format(time.RFC3339)
	}
	if p.IsThread {
		fm.Thread = &threadMeta{IsThread: true, Position: p.ThreadPosition}
	}

	meta, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("filestore: marshal %s: %w", p.ID, err)
	}

	path := s.PostPath(p.ID, archivedAt)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("filestore: mkdir for %s: %w", p.ID, err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(meta)
	b.WriteString("---\n\n")
	b.WriteString(p.Content)
	b.WriteString("\n")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("filestore: write %s: %w", p.ID, err)
	}

	if err := s.updateIndex(p, path, archivedAt); err != nil {
		return "", err
	}
	if err := s.updateTaxonomy(p); err != nil {
		return "", err
	}
	return path, nil
}

// Iter walks every markdown post under the archive, skipping files that
// fail to parse. A missing posts directory iterates nothing.
func (s *Store) Iter(fn func(p *domain.Post, path string) error) error {
	dir := filepath.Join(s.root, postsDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		s.log.Warn("posts directory does not exist", "dir", dir)
		return nil
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		p, perr := s.ParseFile(path)
		if perr != nil {
			s.log.Warn("skipping malformed post file", "path", path, "error", perr)
			return nil
		}
		return fn(p, path)
	})
}

// Count returns the number of markdown files in the archive.
func (s *Store) Count() int {
	n := 0
	dir := filepath.Join(s.root, postsDir)
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(path, ".md") {
			n++
		}
		return nil
	})
	return n
}

// IndexEntry is one post's record in data/index.json.
type IndexEntry struct {
	Path       string   `json:"path"`
	Author     string   `json:"author,omitempty"`
	ArchivedAt string   `json:"archived_at,omitempty"`
	Tags       []string `json:"tags"`
	Topics     []string `json:"topics"`
	Importance string   `json:"importance,omitempty"`
}

// Index maps post ids to their archive locations.
type Index struct {
	Posts       map[string]IndexEntry `json:"posts"`
	LastUpdated string                `json:"last_updated,omitempty"`
}

// Taxonomy maps tags and topics to the posts carrying them.
type Taxonomy struct {
	Tags   map[string][]string `json:"tags"`
	Topics map[string][]string `json:"topics"`
}

// LoadIndex reads data/index.json; a missing file yields an empty index.
func (s *Store) LoadIndex() (*Index, error) {
	idx := &Index{Posts: map[string]IndexEntry{}}
	if err := s.loadJSON(indexFile, idx); err != nil {
		return nil, err
	}
	if idx.Posts == nil {
		idx.Posts = map[string]IndexEntry{}
	}
	return idx, nil
}

// LoadTaxonomy reads data/tags.json; a missing file yields an empty taxonomy.
func (s *Store) LoadTaxonomy() (*Taxonomy, error) {
	tax := &Taxonomy{Tags: map[string][]string{}, Topics: map[string][]string{}}
	if err := s.loadJSON(tagsFile, tax); err != nil {
		return nil, err
	}
	if tax.Tags == nil {
		tax.Tags = map[string][]string{}
	}
	if tax.Topics == nil {
		tax.Topics = map[string][]string{}
	}
	return tax, nil
}

func (s *Store) loadJSON(rel string, v any) error {
	raw, err := os.ReadFile(filepath.Join(s.root, rel))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filestore: read %s: %w", rel, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("filestore: parse %s: %w", rel, err)
	}
	return nil
}

func (s *Store) saveJSON(rel string, v any) error {
	path := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("filestore: mkdir for %s: %w", rel, err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal %s: %w", rel, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("filestore: write %s: %w", rel, err)
	}
	return nil
}

func (s *Store) updateIndex(p *domain.Post, path string, archivedAt time.Time) error {
	idx, err := s.LoadIndex()
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}
	idx.Posts[p.ID] = IndexEntry{
		Path:       rel,
		Author:     p.AuthorHandle,
		ArchivedAt: archivedAt.Format(time.RFC3339),
		Tags:       orEmpty(p.Tags),
		Topics:     orEmpty(p.Topics),
		Importance: p.Importance,
	}
	idx.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return s.saveJSON(indexFile, idx)
}

func (s *Store) updateTaxonomy(p *domain.Post) error {
	if len(p.Tags) == 0 && len(p.Topics) == 0 {
		return nil
	}
	tax, err := s.LoadTaxonomy()
	if err != nil {
		return err
	}
	for _, tag := range p.Tags {
		tax.Tags[tag] = appendUnique(tax.Tags[tag], p.ID)
	}
	for _, topic := range p.Topics {
		tax.Topics[topic] = appendUnique(tax.Topics[topic], p.ID)
	}
	return s.saveJSON(tagsFile, tax)
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
