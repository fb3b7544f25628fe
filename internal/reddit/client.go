// Package reddit scrapes hot posts from trading subreddits and tallies a
// keyword sentiment per title.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/riskwatch/internal/logger"
)

const (
	DefaultBaseURL   = "https://www.reddit.com"
	DefaultUserAgent = "riskwatch/1.0"
)

var DefaultSubreddits = []string{"wallstreetbets", "CryptoCurrency", "Bitcoin", "ethereum"}

// Sentiment of a single post title.
type Sentiment string

const (
	Bullish Sentiment = "bullish"
	Bearish Sentiment = "bearish"
	Neutral Sentiment = "neutral"
)

var bullishWords = []string{
	"moon", "bullish", "buy", "pump", "breakout", "rally", "surge",
	"yolo", "calls", "long", "hold", "hodl", "diamond", "green",
	"gains", "rocket", "squeeze", "mooning",
}

var bearishWords = []string{
	"dump", "bearish", "sell", "crash", "rekt", "puts", "short",
	"collapse", "tank", "dead", "scam", "bubble", "red", "loss",
	"liquidation", "capitulation", "falling",
}

type Post struct {
	Title     string
	Author    string
	Subreddit string
	URL       string
	Score     int
	Sentiment Sentiment
	CreatedAt time.Time
}

type Client struct {
	baseURL    string
	userAgent  string
	subreddits []string
	limit      int
	httpClient *http.Client
}

func NewClient(baseURL, userAgent string, subreddits []string, limitPerSub int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if len(subreddits) == 0 {
		subreddits = DefaultSubreddits
	}
	if limitPerSub <= 0 {
		limitPerSub = 10
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		subreddits: subreddits,
		limit:      limitPerSub,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type listing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title      string  `json:"title"`
				Author     string  `json:"author"`
				Permalink  string  `json:"permalink"`
				Score      int     `json:"score"`
				Stickied   bool    `json:"stickied"`
				CreatedUTC float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// FetchPosts collects hot posts from every subreddit. A failing subreddit is
// logged and skipped; an error is returned only if all of them fail.
func (c *Client) FetchPosts(ctx context.Context) ([]Post, error) {
	results := make([][]Post, len(c.subreddits))
	errs := make([]error, len(c.subreddits))

	var g errgroup.Group
	for i, sub := range c.subreddits {
		g.Go(func() error {
			posts, err := c.fetchSubreddit(ctx, sub)
			if err != nil {
				logger.Warn("Failed to fetch r/%s: %v", sub, err)
				errs[i] = err
				return nil
			}
			results[i] = posts
			return nil
		})
	}
	_ = g.Wait()

	var all []Post
	failed := 0
	for i := range c.subreddits {
		if errs[i] != nil {
			failed++
			continue
		}
		all = append(all, results[i]...)
	}
	if failed == len(c.subreddits) {
		return nil, fmt.Errorf("all %d subreddits failed: %w", failed, errs[0])
	}

	logger.Debug("Fetched %d Reddit posts from %d subreddits", len(all), len(c.subreddits)-failed)
	return all, nil
}

func (c *Client) fetchSubreddit(ctx context.Context, sub string) ([]Post, error) {
	u := c.baseURL + "/r/" + sub + "/hot.json?limit=" + strconv.Itoa(c.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var l listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}

	var posts []Post
	for _, child := range l.Data.Children {
		d := child.Data
		if d.Stickied {
			continue
		}
		title := d.Title
		if len(title) > 200 {
			title = title[:200]
		}
		posts = append(posts, Post{
			Title:     title,
			Author:    d.Author,
			Subreddit: sub,
			URL:       "https://reddit.com" + d.Permalink,
			Score:     d.Score,
			Sentiment: Classify(d.Title),
			CreatedAt: time.Unix(int64(d.CreatedUTC), 0),
		})
	}
	return posts, nil
}

// Classify labels a title by counting bullish and bearish keywords.
func Classify(title string) Sentiment {
	t := strings.ToLower(title)
	bull, bear := 0, 0
	for _, w := range bullishWords {
		if strings.Contains(t, w) {
			bull++
		}
	}
	for _, w := range bearishWords {
		if strings.Contains(t, w) {
			bear++
		}
	}
	switch {
	case bull > bear:
		return Bullish
	case bear > bull:
		return Bearish
	default:
		return Neutral
	}
}

// Tally counts bullish and bearish posts.
func Tally(posts []Post) (bullish, bearish int) {
	for _, p := range posts {
		switch p.Sentiment {
		case Bullish:
			bullish++
		case Bearish:
			bearish++
		}
	}
	return bullish, bearish
}
