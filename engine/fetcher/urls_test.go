package fetcher

import "testing"

func TestExtractPostID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://x.com/alice/status/1850000000000000001", "1850000000000000001"},
		{"https://twitter.com/bob/status/42", "42"},
		{"https://x.com/i/web/status/99", "99"},
		{"https://fxtwitter.com/alice/status/100", "100"},
		{"https://vxtwitter.com/alice/status/100", "100"},
		{"https://fixupx.com/alice/status/100", "100"},
		{"https://x.com/alice/status/100?s=20", "100"},
		{"https://example.com/alice/status/100", ""},
		{"not a url", ""},
	}

	for _, tt := range tests {
		if got := ExtractPostID(tt.url); got != tt.want {
			t.Errorf("ExtractPostID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestExtractHandle(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://x.com/alice/status/100", "alice"},
		{"https://twitter.com/bob_smith/status/42", "bob_smith"},
		{"https://fxtwitter.com/carol/status/7", "carol"},
		// Reserved path segments are not handles.
		{"https://x.com/i/status/100", ""},
		{"https://x.com/intent/status/100", ""},
		{"https://x.com/share/status/100", ""},
		{"https://example.com/alice/status/100", ""},
	}

	for _, tt := range tests {
		if got := ExtractHandle(tt.url); got != tt.want {
			t.Errorf("ExtractHandle(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://fxtwitter.com/alice/status/100", "https://x.com/alice/status/100"},
		{"https://vxtwitter.com/alice/status/100", "https://x.com/alice/status/100"},
		{"https://twitter.com/alice/status/100", "https://x.com/alice/status/100"},
		{"https://www.twitter.com/alice/status/100", "https://x.com/alice/status/100"},
		{"https://x.com/alice/status/100", "https://x.com/alice/status/100"},
		{"https://example.com/other", "https://example.com/other"},
	}

	for _, tt := range tests {
		if got := NormalizeURL(tt.url); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestFindStatusURL(t *testing.T) {
	text := "check this out https://x.com/alice/status/100 amazing thread"
	if got := FindStatusURL(text); got != "https://x.com/alice/status/100" {
		t.Errorf("got %q", got)
	}
	if got := FindStatusURL("no links here"); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestThreadFullText(t *testing.T) {
	single := &Thread{Tweets: []Tweet{{Text: "only one"}}}
	if got := single.FullText(); got != "only one" {
		t.Errorf("single tweet: got %q", got)
	}

	multi := &Thread{Tweets: []Tweet{{Text: "first"}, {Text: "second"}}}
	want := "[1/2] first\n\n[2/2] second"
	if got := multi.FullText(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
