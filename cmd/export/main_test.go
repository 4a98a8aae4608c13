package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hexalog/xarchive/engine/domain"
)

func exportPosts() []*domain.Post {
	posted := time.Date(2024, 11, 2, 15, 4, 5, 0, time.UTC)
	return []*domain.Post{
		{
			ID:           "100",
			URL:          "https://x.com/alice/status/100",
			Content:      "A long thread about goroutine scheduling\nand preemption.",
			AuthorHandle: "alice",
			PostedAt:     &posted,
			Tags:         []string{"go", "concurrency"},
			Topics:       []string{"systems"},
			Notes:        "worth rereading",
		},
		{
			ID:      "101",
			URL:     "https://x.com/bob/status/101",
			Content: "Untagged hot take.",
		},
	}
}

func TestFilterPosts(t *testing.T) {
	posts := exportPosts()

	if got := filterPosts(posts, nil, nil); len(got) != 2 {
		t.Errorf("no filter kept %d posts", len(got))
	}
	if got := filterPosts(posts, []string{"go"}, nil); len(got) != 1 || got[0].ID != "100" {
		t.Errorf("tag filter kept %v", got)
	}
	if got := filterPosts(posts, nil, []string{"systems"}); len(got) != 1 || got[0].ID != "100" {
		t.Errorf("topic filter kept %v", got)
	}
	if got := filterPosts(posts, []string{"GO"}, nil); len(got) != 1 {
		t.Errorf("tag match should be case-insensitive, kept %d", len(got))
	}
	if got := filterPosts(posts, []string{"rust"}, nil); len(got) != 0 {
		t.Errorf("unmatched tag kept %v", got)
	}
}

func TestRenderMarkdown(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	out := renderMarkdown(exportPosts(), now)

	for _, want := range []string{
		"# X/Twitter Archive Export",
		"*Exported: 2026-08-25 10:00*",
		"*Total posts: 2*",
		"## Table of Contents",
		"1. [@alice] A long thread about goroutine scheduling and",
		"2. [@unknown] Untagged hot take.",
		"### @alice",
		"tags: go, concurrency",
		"**Notes:** worth rereading",
		"https://x.com/bob/status/101",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	out, err := renderJSON(exportPosts(), now)
	if err != nil {
		t.Fatalf("renderJSON: %v", err)
	}

	var got jsonExport
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if got.PostCount != 2 || len(got.Posts) != 2 {
		t.Errorf("post count = %d, posts = %d", got.PostCount, len(got.Posts))
	}
	if got.Posts[0].AuthorHandle != "alice" {
		t.Errorf("first post = %+v", got.Posts[0])
	}
}

func TestRenderLLM(t *testing.T) {
	out := renderLLM(exportPosts())

	for _, want := range []string{
		"<archived_twitter_posts>",
		"<id>100</id>",
		"<author>@alice</author>",
		"<date>2024-11-02T15:04:05Z</date>",
		"<tags>go, concurrency</tags>",
		"<user_notes>worth rereading</user_notes>",
		"<author>@unknown</author>",
		"</archived_twitter_posts>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("llm block missing %q", want)
		}
	}
	// Empty optional fields stay out of the block entirely.
	if strings.Contains(out, "<tags></tags>") || strings.Contains(out, "<user_notes></user_notes>") {
		t.Error("empty optional fields should be omitted")
	}
}

func TestRenderSummary(t *testing.T) {
	out := renderSummary(exportPosts())

	if !strings.Contains(out, "Total: 2 posts") {
		t.Errorf("missing total:\n%s", out)
	}
	if !strings.Contains(out, "## systems") || !strings.Contains(out, "## uncategorized") {
		t.Errorf("missing topic groups:\n%s", out)
	}
	if !strings.Contains(out, "- **@unknown**: Untagged hot take.") {
		t.Errorf("missing summary line:\n%s", out)
	}
}

func TestRenderSummary_TruncatesLongContent(t *testing.T) {
	posts := []*domain.Post{{
		ID:      "102",
		URL:     "https://x.com/carol/status/102",
		Content: strings.Repeat("é ", 200),
	}}
	out := renderSummary(posts)
	if !strings.Contains(out, "...") {
		t.Errorf("long content not truncated:\n%s", out)
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	if _, err := render("csv", exportPosts(), time.Now()); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestSplitArg(t *testing.T) {
	got := splitArg(" Go, ,distsys ")
	if len(got) != 2 || got[0] != "go" || got[1] != "distsys" {
		t.Errorf("got %v", got)
	}
	if splitArg("") != nil {
		t.Error("empty arg should parse to nil")
	}
}
