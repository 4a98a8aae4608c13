package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hexalog/xarchive/engine/archive"
	"github.com/hexalog/xarchive/engine/domain"
	"github.com/hexalog/xarchive/engine/fetcher"
	"github.com/hexalog/xarchive/engine/store"
)

// --- Mocks ---

type mockSender struct {
	sent []string
	acks int
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sent = append(m.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (m *mockSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.acks++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockSender) last() string {
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

type mockBotFetcher struct {
	calls int
	err   error
}

func (m *mockBotFetcher) FetchThread(_ context.Context, url string) (*fetcher.Thread, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &fetcher.Thread{
		Tweets:       []fetcher.Tweet{{ID: fetcher.ExtractPostID(url), URL: url, Text: "hello world"}},
		AuthorHandle: "alice",
		TotalCount:   1,
	}, nil
}

type mockArchiver struct {
	saved []archive.Meta
	urls  []string
	err   error
}

func (m *mockArchiver) Save(_ context.Context, t *fetcher.Thread, url string, meta archive.Meta) (*domain.Post, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.saved = append(m.saved, meta)
	m.urls = append(m.urls, url)
	return &domain.Post{ID: t.Main().ID, URL: url}, nil
}

type mockDB struct {
	existing map[string]bool
	recent   []*domain.Post
	matches  []store.Match
	stats    domain.Stats
}

func (m *mockDB) PostExists(_ context.Context, id string) (bool, error) {
	return m.existing[id], nil
}

func (m *mockDB) Stats(context.Context) (*domain.Stats, error) {
	return &m.stats, nil
}

func (m *mockDB) GetRecentPosts(context.Context, int) ([]*domain.Post, error) {
	return m.recent, nil
}

func (m *mockDB) SearchPosts(context.Context, []float32, float64, int) ([]store.Match, error) {
	return m.matches, nil
}

type mockQueryEmbedder struct{ calls int }

func (m *mockQueryEmbedder) GenerateForQuery(context.Context, string) ([]float32, error) {
	m.calls++
	return make([]float32, domain.EmbeddingDimension), nil
}

// --- Helpers ---

type fixture struct {
	bot *Bot
	api *mockSender
	f   *mockBotFetcher
	a   *mockArchiver
	db  *mockDB
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	fx := &fixture{
		api: &mockSender{},
		f:   &mockBotFetcher{},
		a:   &mockArchiver{},
		db:  &mockDB{},
	}
	o := Options{
		API:      fx.api,
		Fetcher:  fx.f,
		Archiver: fx.a,
		DB:       fx.db,
		Embedder: &mockQueryEmbedder{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range opts {
		fn(&o)
	}
	b, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fx.bot = b
	return fx
}

const chatID = int64(42)

func textUpdate(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: 7},
	}}
}

func commandUpdate(text string) tgbotapi.Update {
	u := textUpdate(text)
	cmdLen := len(text)
	if i := strings.Index(text, " "); i > 0 {
		cmdLen = i
	}
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}}
	return u
}

func callbackUpdate(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb1",
		Data: data,
		From: &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: chatID},
		},
	}}
}

// --- Tests ---

func TestFullConversation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.bot.HandleUpdate(ctx, textUpdate("check this https://x.com/alice/status/100"))
	if fx.f.calls != 1 {
		t.Fatalf("fetch calls = %d", fx.f.calls)
	}
	if !strings.Contains(fx.api.last(), "Archive this post?") {
		t.Fatalf("no confirm prompt, last = %q", fx.api.last())
	}

	fx.bot.HandleUpdate(ctx, callbackUpdate("confirm"))
	if !strings.Contains(fx.api.last(), "Add Tags") {
		t.Fatalf("no tags prompt, last = %q", fx.api.last())
	}

	fx.bot.HandleUpdate(ctx, textUpdate("Go, Concurrency"))
	if !strings.Contains(fx.api.last(), "Add Topics") {
		t.Fatalf("no topics prompt, last = %q", fx.api.last())
	}

	fx.bot.HandleUpdate(ctx, textUpdate("skip"))
	if !strings.Contains(fx.api.last(), "Add Notes") {
		t.Fatalf("no notes prompt, last = %q", fx.api.last())
	}

	fx.bot.HandleUpdate(ctx, textUpdate("great thread"))
	if len(fx.a.saved) != 1 {
		t.Fatalf("saved %d posts", len(fx.a.saved))
	}
	meta := fx.a.saved[0]
	if len(meta.Tags) != 2 || meta.Tags[0] != "go" || meta.Tags[1] != "concurrency" {
		t.Errorf("tags = %v", meta.Tags)
	}
	if len(meta.Topics) != 0 {
		t.Errorf("topics = %v", meta.Topics)
	}
	if meta.Notes != "great thread" || meta.Via != "telegram" {
		t.Errorf("meta = %+v", meta)
	}
	if !strings.Contains(fx.api.last(), "Archived!") {
		t.Errorf("no success message, last = %q", fx.api.last())
	}
}

func TestQuickSaveSkipsPrompts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.bot.HandleUpdate(ctx, textUpdate("https://x.com/alice/status/100"))
	fx.bot.HandleUpdate(ctx, callbackUpdate("quick"))

	if len(fx.a.saved) != 1 {
		t.Fatalf("saved %d posts", len(fx.a.saved))
	}
	meta := fx.a.saved[0]
	if len(meta.Tags) != 0 || len(meta.Topics) != 0 || meta.Notes != "" {
		t.Errorf("quick save carried metadata: %+v", meta)
	}
	if meta.Via != "telegram" {
		t.Errorf("via = %q", meta.Via)
	}
}

func TestDuplicateShortCircuitsBeforeFetch(t *testing.T) {
	fx := newFixture(t)
	fx.db.existing = map[string]bool{"100": true}

	fx.bot.HandleUpdate(context.Background(), textUpdate("https://x.com/alice/status/100"))
	if fx.f.calls != 0 {
		t.Errorf("fetched a known duplicate")
	}
	if !strings.Contains(fx.api.last(), "already in your archive") {
		t.Errorf("no duplicate message, last = %q", fx.api.last())
	}
}

func TestNonURLTextRejected(t *testing.T) {
	fx := newFixture(t)
	fx.bot.HandleUpdate(context.Background(), textUpdate("just some words"))
	if fx.f.calls != 0 {
		t.Errorf("fetched without a URL")
	}
	if !strings.Contains(fx.api.last(), "couldn't find an X/Twitter URL") {
		t.Errorf("last = %q", fx.api.last())
	}
}

func TestFetchFailureEndsConversation(t *testing.T) {
	fx := newFixture(t)
	fx.f.err = errors.New("mirrors down")

	ctx := context.Background()
	fx.bot.HandleUpdate(ctx, textUpdate("https://x.com/alice/status/100"))
	if !strings.Contains(fx.api.last(), "Couldn't fetch that post") {
		t.Fatalf("last = %q", fx.api.last())
	}

	// Chat must be back in the idle state: plain text is treated as a
	// URL attempt again, not as tags input.
	fx.bot.HandleUpdate(ctx, textUpdate("some text"))
	if !strings.Contains(fx.api.last(), "couldn't find an X/Twitter URL") {
		t.Errorf("state not reset, last = %q", fx.api.last())
	}
}

func TestCancelCallback(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.bot.HandleUpdate(ctx, textUpdate("https://x.com/alice/status/100"))
	fx.bot.HandleUpdate(ctx, callbackUpdate("cancel"))
	if len(fx.a.saved) != 0 {
		t.Errorf("saved after cancel")
	}
	if !strings.Contains(fx.api.last(), "Cancelled") {
		t.Errorf("last = %q", fx.api.last())
	}
}

func TestCancelCommandResetsState(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.bot.HandleUpdate(ctx, textUpdate("https://x.com/alice/status/100"))
	fx.bot.HandleUpdate(ctx, callbackUpdate("confirm"))
	fx.bot.HandleUpdate(ctx, commandUpdate("/cancel"))
	fx.bot.HandleUpdate(ctx, textUpdate("not a url"))
	if !strings.Contains(fx.api.last(), "couldn't find an X/Twitter URL") {
		t.Errorf("state survived /cancel, last = %q", fx.api.last())
	}
}

func TestAllowListBlocksUnknownUsers(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.AllowedUsers = []int64{99} })

	fx.bot.HandleUpdate(context.Background(), textUpdate("https://x.com/alice/status/100"))
	if fx.f.calls != 0 {
		t.Errorf("fetched for a blocked user")
	}
	if !strings.Contains(fx.api.last(), "not authorized") {
		t.Errorf("last = %q", fx.api.last())
	}
}

func TestAllowListBlocksCallbacks(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.AllowedUsers = []int64{99} })

	fx.bot.HandleUpdate(context.Background(), callbackUpdate("quick"))
	if fx.api.acks != 0 {
		t.Errorf("acked a blocked user's callback")
	}
	if len(fx.a.saved) != 0 {
		t.Errorf("saved for a blocked user")
	}
}

func TestStaleCallbackWithoutMessage(t *testing.T) {
	fx := newFixture(t)
	u := callbackUpdate("confirm")
	u.CallbackQuery.Message = nil

	fx.bot.HandleUpdate(context.Background(), u)
	if fx.api.acks != 1 {
		t.Errorf("acks = %d, want 1", fx.api.acks)
	}
	if len(fx.api.sent) != 0 {
		t.Errorf("replied to a callback with no chat: %v", fx.api.sent)
	}
}

func TestEmptyAllowListAllowsEveryone(t *testing.T) {
	fx := newFixture(t)
	fx.bot.HandleUpdate(context.Background(), textUpdate("https://x.com/alice/status/100"))
	if fx.f.calls != 1 {
		t.Errorf("fetch calls = %d", fx.f.calls)
	}
}

func TestStatsCommand(t *testing.T) {
	fx := newFixture(t)
	fx.db.stats = domain.Stats{TotalPosts: 12, UniqueAuthors: 4, UniqueTags: 9}

	fx.bot.HandleUpdate(context.Background(), commandUpdate("/stats"))
	got := fx.api.last()
	if !strings.Contains(got, "Total posts: 12") || !strings.Contains(got, "Unique tags: 9") {
		t.Errorf("stats message = %q", got)
	}
}

func TestRecentCommand(t *testing.T) {
	fx := newFixture(t)
	fx.db.recent = []*domain.Post{
		{ID: "1", AuthorHandle: "alice", Tags: []string{"go", "ai", "infra", "extra"}},
		{ID: "2", AuthorHandle: "bob"},
	}

	fx.bot.HandleUpdate(context.Background(), commandUpdate("/recent"))
	got := fx.api.last()
	if !strings.Contains(got, "@alice - go, ai, infra") {
		t.Errorf("tags not capped at 3: %q", got)
	}
	if !strings.Contains(got, "@bob - no tags") {
		t.Errorf("missing no-tags line: %q", got)
	}
}

func TestSearchCommand(t *testing.T) {
	fx := newFixture(t)
	fx.db.matches = []store.Match{
		{ID: "1", AuthorHandle: "alice", Similarity: 0.91, Tags: []string{"go"}},
		{ID: "2", AuthorHandle: "bob", Similarity: 0.72},
	}

	fx.bot.HandleUpdate(context.Background(), commandUpdate("/search concurrency patterns"))
	got := fx.api.last()
	if !strings.Contains(got, "Found 2 posts") {
		t.Errorf("search message = %q", got)
	}
	if !strings.Contains(got, "@alice (91%) - go") || !strings.Contains(got, "@bob (72%)") {
		t.Errorf("result lines wrong: %q", got)
	}
}

func TestSearchWithoutQueryShowsUsage(t *testing.T) {
	fx := newFixture(t)
	fx.bot.HandleUpdate(context.Background(), commandUpdate("/search"))
	if !strings.Contains(fx.api.last(), "Usage:") {
		t.Errorf("last = %q", fx.api.last())
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" Go , , Distributed Systems ,ai")
	want := []string{"go", "distributed systems", "ai"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsSkip(t *testing.T) {
	for _, s := range []string{"skip", "SKIP", "s", "/skip", " Skip "} {
		if !isSkip(s) {
			t.Errorf("isSkip(%q) = false", s)
		}
	}
	if isSkip("ship it") {
		t.Error("isSkip(\"ship it\") = true")
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error for missing api")
	}
	if _, err := New(Options{API: &mockSender{}}); err == nil {
		t.Error("expected error for missing deps")
	}
}
