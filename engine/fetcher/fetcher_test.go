package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mirrorData is keyed by status id and served in the primary mirror's shape.
type mirrorData map[string]fxTweet

func newPrimaryServer(t *testing.T, data mirrorData, calls *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Path shape: /{handle}/status/{id}
		id := lastSegment(r.URL.Path)
		if calls != nil {
			*calls = append(*calls, id)
		}
		tw, ok := data[id]
		if !ok {
			json.NewEncoder(w).Encode(fxResponse{Code: 404, Message: "not found"})
			return
		}
		json.NewEncoder(w).Encode(fxResponse{Code: 200, Tweet: &tw})
	}))
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func fxBy(id, handle, text string) fxTweet {
	return fxTweet{
		ID:     id,
		URL:    "https://x.com/" + handle + "/status/" + id,
		Text:   text,
		Author: fxAuthor{ScreenName: handle, Name: handle},
	}
}

func testClient(primary, fallback string) *Client {
	return NewClient(Options{PrimaryURL: primary, FallbackURL: fallback, MaxDepth: DefaultMaxDepth})
}

func TestFetchThread_SingleTweet(t *testing.T) {
	data := mirrorData{"100": fxBy("100", "alice", "hello world")}
	srv := newPrimaryServer(t, data, nil)
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	thread, err := c.FetchThread(context.Background(), "https://x.com/alice/status/100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thread.TotalCount != 1 {
		t.Fatalf("total count = %d, want 1", thread.TotalCount)
	}
	if thread.AuthorHandle != "alice" {
		t.Errorf("author = %q", thread.AuthorHandle)
	}
	if thread.FullText() != "hello world" {
		t.Errorf("full text = %q", thread.FullText())
	}
}

func TestFetchThread_BackwardAndForward(t *testing.T) {
	// 100 replies to 99 (same author); the mirror also reports a forward
	// continuation 101. Expected chronological order: 99, 100, 101.
	grandparent := fxBy("99", "alice", "first")
	child := fxBy("100", "alice", "second")
	child.ReplyingTo = "alice"
	child.ReplyingToStatus = "99"
	cont := fxBy("101", "alice", "third")
	child.Thread = &fxThread{Tweets: []fxTweet{child, cont}}

	data := mirrorData{"99": grandparent, "100": child, "101": cont}
	srv := newPrimaryServer(t, data, nil)
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	thread, err := c.FetchThread(context.Background(), "https://x.com/alice/status/100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thread.TotalCount != 3 {
		t.Fatalf("total count = %d, want 3", thread.TotalCount)
	}
	wantOrder := []string{"99", "100", "101"}
	for i, id := range wantOrder {
		if thread.Tweets[i].ID != id {
			t.Errorf("position %d: got id %s, want %s", i, thread.Tweets[i].ID, id)
		}
	}
}

func TestFetchThread_ThreeLinkChain(t *testing.T) {
	// grandparent -> parent -> child, all same author.
	gp := fxBy("1", "alice", "one")
	parent := fxBy("2", "alice", "two")
	parent.ReplyingTo = "alice"
	parent.ReplyingToStatus = "1"
	child := fxBy("3", "alice", "three")
	child.ReplyingTo = "alice"
	child.ReplyingToStatus = "2"

	data := mirrorData{"1": gp, "2": parent, "3": child}
	srv := newPrimaryServer(t, data, nil)
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	thread, err := c.FetchThread(context.Background(), "https://x.com/alice/status/3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thread.TotalCount != 3 {
		t.Fatalf("total count = %d, want 3", thread.TotalCount)
	}
	for i, want := range []string{"1", "2", "3"} {
		if thread.Tweets[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, thread.Tweets[i].ID, want)
		}
	}
}

func TestFetchThread_StopsAtOtherAuthor(t *testing.T) {
	// The parent belongs to someone else; the walk must not include it.
	child := fxBy("10", "alice", "reply to bob")
	child.ReplyingTo = "bob"
	child.ReplyingToStatus = "9"

	data := mirrorData{"10": child, "9": fxBy("9", "bob", "original")}
	srv := newPrimaryServer(t, data, nil)
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	thread, err := c.FetchThread(context.Background(), "https://x.com/alice/status/10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thread.TotalCount != 1 {
		t.Fatalf("total count = %d, want 1", thread.TotalCount)
	}
}

func TestFetchThread_PartialOnParentFailure(t *testing.T) {
	// The parent id is referenced but the mirror does not serve it:
	// a partial thread comes back rather than an error.
	child := fxBy("20", "alice", "second half")
	child.ReplyingTo = "alice"
	child.ReplyingToStatus = "19"

	data := mirrorData{"20": child}
	srv := newPrimaryServer(t, data, nil)
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	thread, err := c.FetchThread(context.Background(), "https://x.com/alice/status/20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thread.TotalCount != 1 {
		t.Fatalf("total count = %d, want 1", thread.TotalCount)
	}
}

func TestFetchThread_CycleTerminates(t *testing.T) {
	// Pathological data: 31's parent is 30, 30's parent is 31.
	a := fxBy("30", "alice", "a")
	a.ReplyingTo = "alice"
	a.ReplyingToStatus = "31"
	b := fxBy("31", "alice", "b")
	b.ReplyingTo = "alice"
	b.ReplyingToStatus = "30"

	var calls []string
	data := mirrorData{"30": a, "31": b}
	srv := newPrimaryServer(t, data, &calls)
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	thread, err := c.FetchThread(context.Background(), "https://x.com/alice/status/30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 30 fetched once, 31 fetched once as parent; the walk stops when
	// 30 shows up again instead of looping to MaxDepth.
	if thread.TotalCount != 2 {
		t.Fatalf("total count = %d, want 2", thread.TotalCount)
	}
	if len(calls) > 3 {
		t.Errorf("mirror called %d times, cycle not detected", len(calls))
	}
}

func TestFetchThread_FallbackMirror(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(vxTweet{
			TweetID:    "50",
			TweetURL:   "https://x.com/alice/status/50",
			Text:       "served by fallback",
			UserScreen: "alice",
			UserName:   "Alice",
		})
	}))
	defer fallback.Close()

	c := testClient(primary.URL, fallback.URL)
	thread, err := c.FetchThread(context.Background(), "https://x.com/alice/status/50")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thread.Main().Text != "served by fallback" {
		t.Errorf("got %q", thread.Main().Text)
	}
}

func TestFetchThread_BothMirrorsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	if _, err := c.FetchThread(context.Background(), "https://x.com/alice/status/60"); err == nil {
		t.Fatal("expected error when both mirrors fail")
	}
}

func TestFetchThread_BadURL(t *testing.T) {
	c := testClient("http://invalid", "http://invalid")
	if _, err := c.FetchThread(context.Background(), "https://example.com/nothing"); err == nil {
		t.Fatal("expected error for URL without status id")
	}
}

func TestFetchThread_QuoteOneLevel(t *testing.T) {
	inner := fxBy("70", "carol", "innermost")
	quoted := fxBy("71", "bob", "quoted text")
	quoted.Quote = &inner
	main := fxBy("72", "alice", "check this out")
	main.Quote = &quoted

	data := mirrorData{"72": main}
	srv := newPrimaryServer(t, data, nil)
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	thread, err := c.FetchThread(context.Background(), "https://x.com/alice/status/72")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := thread.Main().Quoted
	if q == nil {
		t.Fatal("expected quoted tweet")
	}
	if q.AuthorHandle != "bob" {
		t.Errorf("quoted author = %q", q.AuthorHandle)
	}
	if q.Quoted != nil {
		t.Error("quote nesting should stop at one level")
	}
}

func TestFetchThread_MaxDepth(t *testing.T) {
	// A chain longer than MaxDepth: walk stops at the bound.
	data := mirrorData{}
	for i := 1; i <= 10; i++ {
		tw := fxBy(fmt.Sprint(i), "alice", fmt.Sprintf("tweet %d", i))
		if i > 1 {
			tw.ReplyingTo = "alice"
			tw.ReplyingToStatus = fmt.Sprint(i - 1)
		}
		data[fmt.Sprint(i)] = tw
	}
	srv := newPrimaryServer(t, data, nil)
	defer srv.Close()

	c := NewClient(Options{PrimaryURL: srv.URL, FallbackURL: srv.URL, MaxDepth: 3})
	thread, err := c.FetchThread(context.Background(), "https://x.com/alice/status/10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thread.TotalCount != 3 {
		t.Fatalf("total count = %d, want 3 (bounded)", thread.TotalCount)
	}
}
