// Package bot is the Telegram front end of the archive: paste a status
// URL, walk a short tag/topic/notes conversation (or quick-save), and
// the thread lands in the database.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hexalog/xarchive/engine/archive"
	"github.com/hexalog/xarchive/engine/domain"
	"github.com/hexalog/xarchive/engine/fetcher"
	"github.com/hexalog/xarchive/engine/store"
)

const (
	// RecentLimit bounds the /recent listing.
	RecentLimit = 5
	// SearchLimit bounds /search results.
	SearchLimit = 10
	// SearchThreshold is deliberately lower than the store default so
	// conversational queries still get results.
	SearchThreshold = 0.5
	// previewLimit bounds the thread preview shown before archiving.
	previewLimit = 500
)

// state is one step of the archiving conversation. Transitions are
// explicit in the handlers; a chat is always in exactly one state.
type state int

const (
	stateIdle state = iota // waiting for a URL
	stateConfirm
	stateTags
	stateTopics
	stateNotes
)

// session is the per-chat conversation state.
type session struct {
	state  state
	thread *fetcher.Thread
	url    string
	tags   []string
	topics []string
	notes  string
}

// Sender is the slice of the Telegram API the bot uses. The concrete
// *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// ThreadFetcher fetches one thread by status URL.
type ThreadFetcher interface {
	FetchThread(ctx context.Context, url string) (*fetcher.Thread, error)
}

// Archiver persists one fetched thread.
type Archiver interface {
	Save(ctx context.Context, t *fetcher.Thread, url string, meta archive.Meta) (*domain.Post, error)
}

// Database is the read surface the bot's commands use.
type Database interface {
	PostExists(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (*domain.Stats, error)
	GetRecentPosts(ctx context.Context, limit int) ([]*domain.Post, error)
	SearchPosts(ctx context.Context, queryEmbedding []float32, threshold float64, count int) ([]store.Match, error)
}

// QueryEmbedder embeds search queries.
type QueryEmbedder interface {
	GenerateForQuery(ctx context.Context, text string) ([]float32, error)
}

// Options configures a Bot.
type Options struct {
	API      Sender
	Fetcher  ThreadFetcher
	Archiver Archiver
	DB       Database
	Embedder QueryEmbedder // nil disables /search
	// AllowedUsers restricts who may talk to the bot. Empty allows
	// everyone.
	AllowedUsers []int64
	Logger       *slog.Logger
}

// Bot routes Telegram updates through the archiving conversation.
type Bot struct {
	api      Sender
	fetcher  ThreadFetcher
	archiver Archiver
	db       Database
	embedder QueryEmbedder
	allowed  map[int64]bool
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

// New builds a Bot. API, Fetcher, Archiver, and DB are required.
func New(opts Options) (*Bot, error) {
	if opts.API == nil {
		return nil, errors.New("bot: telegram api is required")
	}
	if opts.Fetcher == nil || opts.Archiver == nil || opts.DB == nil {
		return nil, errors.New("bot: fetcher, archiver, and db are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	allowed := map[int64]bool{}
	for _, id := range opts.AllowedUsers {
		allowed[id] = true
	}
	return &Bot{
		api:      opts.API,
		fetcher:  opts.Fetcher,
		archiver: opts.Archiver,
		db:       opts.DB,
		embedder: opts.Embedder,
		allowed:  allowed,
		log:      log,
		sessions: map[int64]*session{},
	}, nil
}

// Run consumes updates until ctx is cancelled. The channel comes from
// tgbotapi.GetUpdatesChan so tests can feed updates directly.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, u)
		}
	}
}

// HandleUpdate dispatches one update. Handler errors are logged, never
// returned; the bot keeps serving.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.IsCommand():
		b.handleCommand(ctx, u.Message)
	case u.Message != nil && u.Message.Text != "":
		b.handleText(ctx, u.Message)
	}
}

func (b *Bot) isAllowed(userID int64) bool {
	if len(b.allowed) == 0 {
		return true
	}
	return b.allowed[userID]
}

func (b *Bot) session(chatID int64) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[chatID]
	if !ok {
		s = &session{}
		b.sessions[chatID] = s
	}
	return s
}

func (b *Bot) resetSession(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, chatID)
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("send failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, m *tgbotapi.Message) {
	if !b.isAllowed(m.From.ID) {
		b.reply(m.Chat.ID, "Sorry, you're not authorized to use this bot.")
		return
	}

	switch m.Command() {
	case "start":
		b.reply(m.Chat.ID,
			"<b>X/Twitter Archive Bot</b>\n\n"+
				"Share a post from X/Twitter with me and I'll archive it for you.\n"+
				"I'll fetch the full thread and ask you for tags.")
	case "help":
		b.reply(m.Chat.ID,
			"<b>Commands:</b>\n"+
				"/start - Start the bot\n"+
				"/help - Show this help\n"+
				"/stats - Show archive statistics\n"+
				"/recent - Show recently archived posts\n"+
				"/search &lt;query&gt; - Search your archive\n"+
				"/cancel - Cancel current operation\n\n"+
				"Just share or paste an X/Twitter link!")
	case "stats":
		b.cmdStats(ctx, m.Chat.ID)
	case "recent":
		b.cmdRecent(ctx, m.Chat.ID)
	case "search":
		b.cmdSearch(ctx, m.Chat.ID, strings.TrimSpace(m.CommandArguments()))
	case "cancel":
		b.resetSession(m.Chat.ID)
		b.reply(m.Chat.ID, "Operation cancelled. Send me another link anytime!")
	}
}

func (b *Bot) cmdStats(ctx context.Context, chatID int64) {
	stats, err := b.db.Stats(ctx)
	if err != nil {
		b.log.Error("stats failed", "error", err)
		b.reply(chatID, "Failed to load statistics. Please try again.")
		return
	}
	b.reply(chatID, fmt.Sprintf(
		"<b>Archive Statistics</b>\n\nTotal posts: %d\nUnique authors: %d\nUnique tags: %d",
		stats.TotalPosts, stats.UniqueAuthors, stats.UniqueTags))
}

func (b *Bot) cmdRecent(ctx context.Context, chatID int64) {
	posts, err := b.db.GetRecentPosts(ctx, RecentLimit)
	if err != nil {
		b.log.Error("recent failed", "error", err)
		b.reply(chatID, "Failed to load recent posts. Please try again.")
		return
	}
	if len(posts) == 0 {
		b.reply(chatID, "No posts archived yet!")
		return
	}

	lines := []string{"<b>Recent Archives:</b>\n"}
	for _, p := range posts {
		tags := "no tags"
		if len(p.Tags) > 0 {
			shown := p.Tags
			if len(shown) > 3 {
				shown = shown[:3]
			}
			tags = strings.Join(shown, ", ")
		}
		lines = append(lines, fmt.Sprintf("• @%s - %s", escape(p.AuthorHandle), escape(tags)))
	}
	b.reply(chatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdSearch(ctx context.Context, chatID int64, query string) {
	if query == "" {
		b.reply(chatID,
			"<b>Usage:</b> /search &lt;query&gt;\n\n"+
				"Search your archive semantically, e.g.\n"+
				"/search machine learning tutorials")
		return
	}
	if b.embedder == nil {
		b.reply(chatID, "Search is not configured.")
		return
	}

	emb, err := b.embedder.GenerateForQuery(ctx, query)
	if err != nil {
		b.log.Error("query embedding failed", "error", err)
		b.reply(chatID, "Search failed. Please try again.")
		return
	}
	matches, err := b.db.SearchPosts(ctx, emb, SearchThreshold, SearchLimit)
	if err != nil {
		b.log.Error("search failed", "error", err)
		b.reply(chatID, "Search failed. Please try again.")
		return
	}
	if len(matches) == 0 {
		b.reply(chatID, fmt.Sprintf(
			"No posts found matching '<b>%s</b>'\n\nTry a different search term.", escape(query)))
		return
	}

	lines := []string{fmt.Sprintf("Found %d posts for '<b>%s</b>':\n", len(matches), escape(query))}
	for _, m := range matches {
		line := fmt.Sprintf("• @%s (%d%%)", escape(m.AuthorHandle), int(m.Similarity*100))
		if len(m.Tags) > 0 {
			shown := m.Tags
			if len(shown) > 2 {
				shown = shown[:2]
			}
			line += " - " + escape(strings.Join(shown, ", "))
		}
		lines = append(lines, line)
	}
	b.reply(chatID, strings.Join(lines, "\n"))
}

// handleText routes free text by conversation state.
func (b *Bot) handleText(ctx context.Context, m *tgbotapi.Message) {
	if !b.isAllowed(m.From.ID) {
		b.reply(m.Chat.ID, "Sorry, you're not authorized to use this bot.")
		return
	}

	s := b.session(m.Chat.ID)
	switch s.state {
	case stateIdle:
		b.handleURL(ctx, m.Chat.ID, m.Text, s)
	case stateTags:
		if !isSkip(m.Text) {
			s.tags = splitList(m.Text)
		}
		s.state = stateTopics
		b.reply(m.Chat.ID,
			"<b>Add Topics</b>\n\n"+
				"What is this post about?\n"+
				"Send comma-separated topics, or type 'skip' to skip.")
	case stateTopics:
		if !isSkip(m.Text) {
			s.topics = splitList(m.Text)
		}
		s.state = stateNotes
		b.reply(m.Chat.ID,
			"<b>Add Notes</b>\n\n"+
				"Any personal notes about this post?\n"+
				"Send your notes, or type 'skip' to skip.")
	case stateNotes:
		if !isSkip(m.Text) {
			s.notes = strings.TrimSpace(m.Text)
		}
		b.save(ctx, m.Chat.ID, s, false)
	case stateConfirm:
		// Buttons are pending; a fresh link restarts the flow.
		b.resetSession(m.Chat.ID)
		b.handleURL(ctx, m.Chat.ID, m.Text, b.session(m.Chat.ID))
	}
}

func (b *Bot) handleURL(ctx context.Context, chatID int64, text string, s *session) {
	raw := fetcher.FindStatusURL(text)
	if raw == "" {
		b.reply(chatID,
			"I couldn't find an X/Twitter URL in that message.\n"+
				"Please share a post from X or paste a tweet link.")
		return
	}
	url := fetcher.NormalizeURL(raw)

	if id := fetcher.ExtractPostID(url); id != "" {
		exists, err := b.db.PostExists(ctx, id)
		if err != nil {
			b.log.Warn("duplicate check failed", "id", id, "error", err)
		} else if exists {
			b.reply(chatID,
				"This post is already in your archive!\n\n"+
					"Send me a different link, or search with /search")
			return
		}
	}

	b.reply(chatID, "Fetching thread...")
	thread, err := b.fetcher.FetchThread(ctx, url)
	if err != nil {
		b.log.Warn("fetch failed", "url", url, "error", err)
		b.reply(chatID,
			"Couldn't fetch that post. It might be private, deleted, "+
				"or a temporary API issue. Try again in a bit.")
		return
	}

	s.thread = thread
	s.url = url
	s.state = stateConfirm

	preview := thread.FullText()
	if t := domain.Truncate(preview, previewLimit); len(t) < len(preview) {
		preview = t + "..."
	}
	header := "@" + thread.AuthorHandle
	if thread.TotalCount > 1 {
		header += fmt.Sprintf("\n\nThread: %d posts", thread.TotalCount)
	}

	msg := tgbotapi.NewMessage(chatID, header+"\n\n"+preview+"\n\nArchive this post?")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Archive", "confirm"),
			tgbotapi.NewInlineKeyboardButtonData("Quick Save", "quick"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Cancel", "cancel"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("send failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil || !b.isAllowed(q.From.ID) {
		return
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		b.log.Warn("callback ack failed", "error", err)
	}
	// Telegram omits Message on callbacks for messages it no longer
	// retains; there is no chat to act on.
	if q.Message == nil {
		return
	}
	chatID := q.Message.Chat.ID
	s := b.session(chatID)

	switch q.Data {
	case "cancel":
		b.resetSession(chatID)
		b.reply(chatID, "Cancelled. Send me another link anytime!")
	case "quick":
		b.save(ctx, chatID, s, true)
	case "confirm":
		s.state = stateTags
		b.reply(chatID,
			"<b>Add Tags</b>\n\n"+
				"What tags describe why you're saving this?\n"+
				"Send comma-separated tags, or type 'skip' to skip.")
	}
}

// save persists the session's thread and ends the conversation.
func (b *Bot) save(ctx context.Context, chatID int64, s *session, quick bool) {
	defer b.resetSession(chatID)

	if s.thread == nil {
		b.reply(chatID, "Nothing to save. Send me a link first!")
		return
	}
	b.reply(chatID, "Saving to archive...")

	meta := archive.Meta{Tags: s.tags, Topics: s.topics, Notes: s.notes, Via: "telegram"}
	if _, err := b.archiver.Save(ctx, s.thread, s.url, meta); err != nil {
		b.log.Error("save failed", "url", s.url, "error", err)
		b.reply(chatID, "Failed to save. Please try again or report this issue.")
		return
	}

	if quick {
		b.reply(chatID, fmt.Sprintf(
			"Quick saved!\n\n@%s's post archived.\n\nSend me another link anytime!",
			escape(s.thread.AuthorHandle)))
		return
	}
	b.reply(chatID, fmt.Sprintf(
		"Archived!\n\n@%s's post has been saved.\n\nTags: %s\nTopics: %s\n\nSend me another link anytime!",
		escape(s.thread.AuthorHandle), orNone(s.tags), orNone(s.topics)))
}

// isSkip recognises the skip shorthands at any prompt.
func isSkip(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/skip", "skip", "s":
		return true
	}
	return false
}

// splitList parses comma-separated user input into lowercase items.
func splitList(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return escape(strings.Join(items, ", "))
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}
