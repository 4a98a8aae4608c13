// Package fetcher reconstructs X/Twitter threads from public mirror APIs.
//
// Given a status URL it fetches the shared tweet, any forward continuations
// the mirror reports, and walks backward through same-author reply parents
// to assemble the full thread in chronological order.
package fetcher

import "fmt"

// Media is a single media attachment on a tweet.
type Media struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Tweet is a single fetched tweet. Quoted holds at most one level of
// quote nesting; deeper quote chains are not followed.
type Tweet struct {
	ID           string  `json:"id"`
	URL          string  `json:"url"`
	Text         string  `json:"text"`
	AuthorHandle string  `json:"author_handle"`
	AuthorName   string  `json:"author_name"`
	CreatedAt    string  `json:"created_at"`
	Media        []Media `json:"media,omitempty"`
	Likes        int     `json:"likes"`
	Retweets     int     `json:"retweets"`
	Replies      int     `json:"replies"`
	Views        int     `json:"views"`
	Quoted       *Tweet  `json:"quoted_tweet,omitempty"`
}

// Thread is an ordered run of tweets by one author, earliest first.
type Thread struct {
	Tweets       []Tweet `json:"tweets"`
	AuthorHandle string  `json:"author_handle"`
	AuthorName   string  `json:"author_name"`
	TotalCount   int     `json:"total_count"`
}

// Main returns the first tweet of the thread.
func (t *Thread) Main() *Tweet {
	if len(t.Tweets) == 0 {
		return nil
	}
	return &t.Tweets[0]
}

// FullText joins the tweet texts, prefixing each with a positional
// marker when the thread has more than one tweet.
func (t *Thread) FullText() string {
	if len(t.Tweets) == 1 {
		return t.Tweets[0].Text
	}
	out := ""
	for i, tw := range t.Tweets {
		if i > 0 {
			out += "\n\n"
		}
		out += fmt.Sprintf("[%d/%d] %s", i+1, len(t.Tweets), tw.Text)
	}
	return out
}
