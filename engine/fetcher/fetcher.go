package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxDepth bounds the total number of tweets in a thread.
	DefaultMaxDepth = 25
	// walkInterval paces backward parent fetches against the mirror API.
	walkInterval = 200 * time.Millisecond
)

// Options configures a Client.
type Options struct {
	PrimaryURL  string // fxtwitter-shaped mirror, default https://api.fxtwitter.com
	FallbackURL string // vxtwitter-shaped mirror, default https://api.vxtwitter.com
	MaxDepth    int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client fetches tweets and reconstructs threads from public mirror APIs.
type Client struct {
	primary  string
	fallback string
	maxDepth int
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewClient creates a Client with the given options.
func NewClient(opts Options) *Client {
	if opts.PrimaryURL == "" {
		opts.PrimaryURL = "https://api.fxtwitter.com"
	}
	if opts.FallbackURL == "" {
		opts.FallbackURL = "https://api.vxtwitter.com"
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		primary:  strings.TrimRight(opts.PrimaryURL, "/"),
		fallback: strings.TrimRight(opts.FallbackURL, "/"),
		maxDepth: opts.MaxDepth,
		http:     opts.HTTPClient,
		limiter:  rate.NewLimiter(rate.Every(walkInterval), 1),
		logger:   opts.Logger,
	}
}

// FetchThread reconstructs the thread containing the tweet at url.
// Both mirrors failing is terminal for this call; partial threads are
// still returned when a backward hop fails midway.
func (c *Client) FetchThread(ctx context.Context, url string) (*Thread, error) {
	id := ExtractPostID(url)
	if id == "" {
		return nil, fmt.Errorf("fetcher: no status id in %q", url)
	}
	handle := ExtractHandle(url)
	if handle == "" {
		handle = "i"
	}

	main, src, err := c.fetchWithFallback(ctx, id, handle)
	if err != nil {
		return nil, err
	}

	tweets := []Tweet{main}
	author := main.AuthorHandle
	visited := map[string]bool{main.ID: true}

	// Forward continuations reported inline by the primary mirror.
	if src != nil && src.Thread != nil && len(src.Thread.Tweets) > 1 {
		for _, ft := range src.Thread.Tweets[1:] {
			if len(tweets) >= c.maxDepth {
				break
			}
			tw := ft.toTweet()
			if visited[tw.ID] || !strings.EqualFold(tw.AuthorHandle, author) {
				continue
			}
			visited[tw.ID] = true
			tweets = append(tweets, tw)
		}
	}

	// Backward walk through same-author reply parents.
	if src != nil && src.ReplyingToStatus != "" && strings.EqualFold(src.ReplyingTo, author) {
		tweets = c.walkParents(ctx, src, author, tweets, visited)
	}

	return &Thread{
		Tweets:       tweets,
		AuthorHandle: author,
		AuthorName:   main.AuthorName,
		TotalCount:   len(tweets),
	}, nil
}

// FetchTweet fetches a single tweet without thread context.
func (c *Client) FetchTweet(ctx context.Context, url string) (*Tweet, error) {
	id := ExtractPostID(url)
	if id == "" {
		return nil, fmt.Errorf("fetcher: no status id in %q", url)
	}
	handle := ExtractHandle(url)
	if handle == "" {
		handle = "i"
	}
	tw, _, err := c.fetchWithFallback(ctx, id, handle)
	if err != nil {
		return nil, err
	}
	return &tw, nil
}

// walkParents fetches reply parents and inserts them at the front of
// the sequence until the chain leaves the author, the depth bound is
// hit, a fetch fails, or an already-seen id reappears.
func (c *Client) walkParents(ctx context.Context, src *fxTweet, author string, tweets []Tweet, visited map[string]bool) []Tweet {
	current := src
	for len(tweets) < c.maxDepth {
		parentID := current.ReplyingToStatus
		if parentID == "" || !strings.EqualFold(current.ReplyingTo, author) {
			break
		}
		if visited[parentID] {
			c.logger.Warn("fetcher: reply chain cycles, stopping walk", "id", parentID)
			break
		}

		if err := c.limiter.Wait(ctx); err != nil {
			break
		}
		parent, err := c.fetchPrimary(ctx, parentID, author)
		if err != nil {
			c.logger.Warn("fetcher: parent fetch failed, returning partial thread",
				"id", parentID, "err", err)
			break
		}

		visited[parentID] = true
		tweets = append([]Tweet{parent.toTweet()}, tweets...)
		current = parent
	}
	return tweets
}

// fetchWithFallback tries the primary mirror first and falls back to
// the secondary on any failure. The *fxTweet is nil when the fallback
// served the tweet (the fallback carries no thread linkage).
func (c *Client) fetchWithFallback(ctx context.Context, id, handle string) (Tweet, *fxTweet, error) {
	fx, perr := c.fetchPrimary(ctx, id, handle)
	if perr == nil {
		return fx.toTweet(), fx, nil
	}
	c.logger.Warn("fetcher: primary mirror failed, trying fallback", "id", id, "err", perr)

	vx, ferr := c.fetchFallback(ctx, id, handle)
	if ferr != nil {
		return Tweet{}, nil, fmt.Errorf("fetcher: fetch %s: %w (fallback: %v)", id, perr, ferr)
	}
	return vx.toTweet(), nil, nil
}

func (c *Client) fetchPrimary(ctx context.Context, id, handle string) (*fxTweet, error) {
	var resp fxResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%s/status/%s", c.primary, handle, id), &resp); err != nil {
		return nil, err
	}
	if resp.Code != http.StatusOK || resp.Tweet == nil {
		return nil, fmt.Errorf("fetcher: primary mirror code %d for %s", resp.Code, id)
	}
	return resp.Tweet, nil
}

func (c *Client) fetchFallback(ctx context.Context, id, handle string) (*vxTweet, error) {
	var tw vxTweet
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%s/status/%s", c.fallback, handle, id), &tw); err != nil {
		return nil, err
	}
	if tw.TweetID == "" && tw.Text == "" {
		return nil, fmt.Errorf("fetcher: fallback mirror empty body for %s", id)
	}
	return &tw, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "xarchive/1.0 (personal bookmark archive)")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d from %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
