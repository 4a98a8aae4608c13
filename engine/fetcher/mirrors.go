package fetcher

// Wire types for the two mirror APIs. The mirrors expose the same
// underlying data with different schemas; both are mapped onto Tweet.

type fxResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Tweet   *fxTweet `json:"tweet"`
}

type fxTweet struct {
	ID               string    `json:"id"`
	URL              string    `json:"url"`
	Text             string    `json:"text"`
	Author           fxAuthor  `json:"author"`
	CreatedAt        string    `json:"created_at"`
	Likes            int       `json:"likes"`
	Retweets         int       `json:"retweets"`
	Replies          int       `json:"replies"`
	Views            int       `json:"views"`
	Media            *fxMedia  `json:"media"`
	Quote            *fxTweet  `json:"quote"`
	Thread           *fxThread `json:"thread"`
	ReplyingTo       string    `json:"replying_to"`
	ReplyingToStatus string    `json:"replying_to_status"`
}

type fxAuthor struct {
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
}

type fxMedia struct {
	All []fxMediaItem `json:"all"`
}

type fxMediaItem struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type fxThread struct {
	Tweets []fxTweet `json:"tweets"`
}

// toTweet maps a primary-mirror tweet onto the neutral Tweet shape,
// following quotes exactly one level deep.
func (t *fxTweet) toTweet() Tweet {
	return t.convert(true)
}

func (t *fxTweet) convert(followQuote bool) Tweet {
	tw := Tweet{
		ID:           t.ID,
		URL:          t.URL,
		Text:         t.Text,
		AuthorHandle: t.Author.ScreenName,
		AuthorName:   t.Author.Name,
		CreatedAt:    t.CreatedAt,
		Likes:        t.Likes,
		Retweets:     t.Retweets,
		Replies:      t.Replies,
		Views:        t.Views,
	}
	if t.Media != nil {
		for _, m := range t.Media.All {
			typ := m.Type
			if typ == "" {
				typ = "image"
			}
			tw.Media = append(tw.Media, Media{Type: typ, URL: m.URL})
		}
	}
	if followQuote && t.Quote != nil {
		q := t.Quote.convert(false)
		tw.Quoted = &q
	}
	return tw
}

type vxTweet struct {
	TweetID       string         `json:"tweetID"`
	TweetURL      string         `json:"tweetURL"`
	Text          string         `json:"text"`
	UserScreen    string         `json:"user_screen_name"`
	UserName      string         `json:"user_name"`
	Date          string         `json:"date"`
	MediaExtended []vxMediaItem  `json:"media_extended"`
	Likes         int            `json:"likes"`
	Retweets      int            `json:"retweets"`
	Replies       int            `json:"replies"`
}

type vxMediaItem struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func (t *vxTweet) toTweet() Tweet {
	tw := Tweet{
		ID:           t.TweetID,
		URL:          t.TweetURL,
		Text:         t.Text,
		AuthorHandle: t.UserScreen,
		AuthorName:   t.UserName,
		CreatedAt:    t.Date,
		Likes:        t.Likes,
		Retweets:     t.Retweets,
		Replies:      t.Replies,
	}
	for _, m := range t.MediaExtended {
		typ := m.Type
		if typ == "" {
			typ = "image"
		}
		tw.Media = append(tw.Media, Media{Type: typ, URL: m.URL})
	}
	return tw
}
