package reddit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hotFixture = `{"data":{"children":[
	{"data":{"title":"Pinned: daily thread","stickied":true}},
	{"data":{"title":"BTC to the moon, buy the breakout","author":"a","permalink":"/r/x/1","score":10,"created_utc":1767225600}},
	{"data":{"title":"Market crash incoming, sell everything","author":"b","permalink":"/r/x/2","score":5,"created_utc":1767225600}},
	{"data":{"title":"What wallet do you use?","author":"c","permalink":"/r/x/3","score":1,"created_utc":1767225600}}
]}}`

func TestFetchPosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "riskwatch-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		if strings.Contains(r.URL.Path, "/r/broken/") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(hotFixture))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "riskwatch-test", []string{"Bitcoin", "broken"}, 25, 5*time.Second)
	posts, err := c.FetchPosts(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 3, "stickied posts and the failing subreddit are skipped")

	assert.Equal(t, "Bitcoin", posts[0].Subreddit)
	assert.Equal(t, "https://reddit.com/r/x/1", posts[0].URL)
	assert.Equal(t, Bullish, posts[0].Sentiment)
	assert.Equal(t, Bearish, posts[1].Sentiment)

	bull, bear := Tally(posts)
	assert.Equal(t, 1, bull)
	assert.Equal(t, 1, bear)
}

func TestFetchPosts_AllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", []string{"a", "b"}, 5, time.Second).FetchPosts(context.Background())
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		title string
		want  Sentiment
	}{
		{"HODL and hold, diamond hands", Bullish},
		{"Liquidation cascade, total capitulation", Bearish},
		{"Rally or dump?", Neutral},
		{"Weekly discussion", Neutral},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.title), c.title)
	}
}
