// Command export renders the archive in LLM-friendly formats: one
// Markdown document with a table of contents, raw JSON, a tagged
// context block for pasting into a model conversation, or a condensed
// per-topic summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/hexalog/xarchive/engine/domain"
	"github.com/hexalog/xarchive/engine/store"
	"github.com/hexalog/xarchive/pkg/fn"
)

const (
	tocPreviewLimit     = 50
	summaryPreviewLimit = 150
)

func main() {
	var (
		format = flag.String("format", "markdown", "output format: markdown, json, llm, or summary")
		output = flag.String("output", "", "output file (default stdout)")
		tags   = flag.String("tags", "", "only export posts carrying one of these comma-separated tags")
		topics = flag.String("topics", "", "only export posts about one of these comma-separated topics")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := store.Open(os.Getenv("DATABASE_URL"), logger)
	if err != nil {
		logger.Error("database connect failed", "error", err)
		os.Exit(1)
	}

	posts, err := db.GetAllPosts(ctx)
	if err != nil {
		logger.Error("loading posts failed", "error", err)
		os.Exit(1)
	}
	posts = filterPosts(posts, splitArg(*tags), splitArg(*topics))
	if len(posts) == 0 {
		fmt.Println("Nothing to export.")
		return
	}

	out, err := render(*format, posts, time.Now())
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}

	if *output == "" {
		fmt.Print(out)
		return
	}
	if err := os.WriteFile(*output, []byte(out), 0o644); err != nil {
		logger.Error("writing output failed", "path", *output, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d posts to %s\n", len(posts), *output)
}

func render(format string, posts []*domain.Post, now time.Time) (string, error) {
	switch format {
	case "markdown":
		return renderMarkdown(posts, now), nil
	case "json":
		return renderJSON(posts, now)
	case "llm":
		return renderLLM(posts), nil
	case "summary":
		return renderSummary(posts), nil
	}
	return "", fmt.Errorf("export: unknown format %q", format)
}

// filterPosts keeps posts matching any wanted tag and any wanted topic.
// An empty filter matches everything.
func filterPosts(posts []*domain.Post, tags, topics []string) []*domain.Post {
	return fn.Filter(posts, func(p *domain.Post) bool {
		return matchesAny(p.Tags, tags) && matchesAny(p.Topics, topics)
	})
}

func matchesAny(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

func splitArg(arg string) []string {
	var out []string
	for _, part := range strings.Split(arg, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func renderMarkdown(posts []*domain.Post, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# X/Twitter Archive Export\n\n")
	fmt.Fprintf(&b, "*Exported: %s*\n", now.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "*Total posts: %d*\n\n", len(posts))

	b.WriteString("## Table of Contents\n\n")
	for i, p := range posts {
		fmt.Fprintf(&b, "%d. [@%s] %s...\n", i+1, handleOrUnknown(p), tocPreview(p.Content))
	}
	b.WriteString("\n---\n\n## Posts\n\n")

	for _, p := range posts {
		writePostMarkdown(&b, p)
		b.WriteString("\n---\n\n")
	}
	return b.String()
}

func writePostMarkdown(b *strings.Builder, p *domain.Post) {
	fmt.Fprintf(b, "### @%s\n\n", handleOrUnknown(p))
	var meta []string
	if p.PostedAt != nil {
		meta = append(meta, p.PostedAt.Format("2006-01-02"))
	}
	if len(p.Tags) > 0 {
		meta = append(meta, "tags: "+strings.Join(p.Tags, ", "))
	}
	if len(p.Topics) > 0 {
		meta = append(meta, "topics: "+strings.Join(p.Topics, ", "))
	}
	if len(meta) > 0 {
		fmt.Fprintf(b, "*%s*\n\n", strings.Join(meta, " · "))
	}
	b.WriteString(p.Content)
	b.WriteString("\n")
	if p.Notes != "" {
		fmt.Fprintf(b, "\n**Notes:** %s\n", p.Notes)
	}
	fmt.Fprintf(b, "\n%s\n", p.URL)
}

type jsonExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	PostCount  int            `json:"post_count"`
	Posts      []*domain.Post `json:"posts"`
}

func renderJSON(posts []*domain.Post, now time.Time) (string, error) {
	data, err := json.MarshalIndent(jsonExport{ExportedAt: now, PostCount: len(posts), Posts: posts}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export: marshal: %w", err)
	}
	return string(data) + "\n", nil
}

// renderLLM produces a structured block meant to be pasted verbatim
// into a model conversation as context.
func renderLLM(posts []*domain.Post) string {
	var b strings.Builder
	b.WriteString("<archived_twitter_posts>\n\n")
	for _, p := range posts {
		b.WriteString("<post>\n")
		fmt.Fprintf(&b, "  <id>%s</id>\n", p.ID)
		fmt.Fprintf(&b, "  <author>@%s</author>\n", handleOrUnknown(p))
		if p.PostedAt != nil {
			fmt.Fprintf(&b, "  <date>%s</date>\n", p.PostedAt.Format(time.RFC3339))
		}
		if len(p.Tags) > 0 {
			fmt.Fprintf(&b, "  <tags>%s</tags>\n", strings.Join(p.Tags, ", "))
		}
		if len(p.Topics) > 0 {
			fmt.Fprintf(&b, "  <topics>%s</topics>\n", strings.Join(p.Topics, ", "))
		}
		fmt.Fprintf(&b, "  <content>%s</content>\n", p.Content)
		if p.Notes != "" {
			fmt.Fprintf(&b, "  <user_notes>%s</user_notes>\n", p.Notes)
		}
		b.WriteString("</post>\n\n")
	}
	b.WriteString("</archived_twitter_posts>\n")
	return b.String()
}

// renderSummary condenses the archive into one line per post, grouped
// by topic, for when many posts must fit in limited context.
func renderSummary(posts []*domain.Post) string {
	byTopic := map[string][]*domain.Post{}
	for _, p := range posts {
		topics := p.Topics
		if len(topics) == 0 {
			topics = []string{"uncategorized"}
		}
		for _, topic := range topics {
			byTopic[topic] = append(byTopic[topic], p)
		}
	}
	names := make([]string, 0, len(byTopic))
	for name := range byTopic {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "# X/Twitter Archive Summary\n\nTotal: %d posts\n\n", len(posts))
	for _, name := range names {
		fmt.Fprintf(&b, "## %s\n\n", name)
		for _, p := range byTopic[name] {
			content := flatten(p.Content)
			line := domain.Truncate(content, summaryPreviewLimit)
			if len(line) < len(content) {
				line += "..."
			}
			fmt.Fprintf(&b, "- **@%s**: %s\n", handleOrUnknown(p), line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func tocPreview(content string) string {
	return domain.Truncate(flatten(content), tocPreviewLimit)
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func handleOrUnknown(p *domain.Post) string {
	if p.AuthorHandle == "" {
		return "unknown"
	}
	return p.AuthorHandle
}
