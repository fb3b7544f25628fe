package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/riskwatch/internal/models"
)

type capturedRequest struct {
	System []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
	Model string `json:"model"`
}

type fakeAnthropic struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
	replies  []string
}

func newFakeAnthropic(t *testing.T, replies ...string) *fakeAnthropic {
	t.Helper()
	f := &fakeAnthropic{replies: replies}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.requests = append(f.requests, req)
		reply := f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         req.Model,
			"content":       []map[string]any{{"type": "text", "text": reply}},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAnthropic) request(i int) capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

type staticSnapshots struct {
	snap *models.MarketContext
	err  error
}

func (s staticSnapshots) GetLatestSnapshot() (*models.MarketContext, error) {
	return s.snap, s.err
}

func newTestAgent(f *fakeAnthropic, snaps SnapshotSource) *Agent {
	return New(Config{APIKey: "test", BaseURL: f.URL + "/", HistoryTurns: 2}, snaps)
}

func TestAgent_RespondInjectsMarketContext(t *testing.T) {
	f := newFakeAnthropic(t, "Risk is moderate right now.")
	snap := &models.MarketContext{RiskScore: 55, HypeScore: 30, BTCPrice: 96500, PriceChange24h: -1.2, Sentiment: models.SentimentBearish}
	a := newTestAgent(f, staticSnapshots{snap: snap})

	reply, err := a.Respond(context.Background(), "t1", "How risky is BTC?")
	require.NoError(t, err)
	assert.Equal(t, "Risk is moderate right now.", reply)

	req := f.request(0)
	assert.Equal(t, DefaultModel, req.Model)
	require.Len(t, req.System, 1)
	assert.Contains(t, req.System[0].Text, "Risk Score: 55/100 (Medium)")
	assert.Contains(t, req.System[0].Text, "$96,500")
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "How risky is BTC?", req.Messages[0].Content[0].Text)
}

func TestAgent_ThreadMemory(t *testing.T) {
	f := newFakeAnthropic(t, "first", "second", "third", "fourth")
	a := newTestAgent(f, nil)
	ctx := context.Background()

	_, err := a.Respond(ctx, "t1", "one")
	require.NoError(t, err)
	_, err = a.Respond(ctx, "t1", "two")
	require.NoError(t, err)

	req := f.request(1)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.Equal(t, "first", req.Messages[1].Content[0].Text)

	// Other threads start clean.
	_, err = a.Respond(ctx, "t2", "other")
	require.NoError(t, err)
	assert.Len(t, f.request(2).Messages, 1)

	// History is capped at HistoryTurns exchanges.
	_, err = a.Respond(ctx, "t1", "three")
	require.NoError(t, err)
	assert.Len(t, f.request(3).Messages, 5)
	assert.Len(t, a.history("t1"), 4)

	a.Forget("t1")
	assert.Empty(t, a.history("t1"))
}

func TestAgent_ReactToAlert(t *testing.T) {
	f := newFakeAnthropic(t, "Heads up, BTC just fell hard.")
	a := newTestAgent(f, nil)

	alert := models.AlertPayload{
		AlertType:      models.AlertTypeAnomaly,
		RiskScore:      72,
		HypeScore:      40,
		BTCPrice:       59000,
		PriceChange24h: -30.59,
	}
	reply, err := a.ReactToAlert(context.Background(), "t1", "btc_price at $59,000", alert)
	require.NoError(t, err)
	assert.Equal(t, "Heads up, BTC just fell hard.", reply)

	prompt := f.request(0).Messages[0].Content[0].Text
	assert.Contains(t, prompt, "URGENT SYSTEM ALERT:")
	assert.Contains(t, prompt, "Type: ANOMALY_ALERT")
	assert.Contains(t, prompt, "Risk Score: 72/100")
	assert.Contains(t, prompt, "BTC Price: $59,000")
	assert.Contains(t, prompt, "24h Change: -30.59%")

	h := a.history("t1")
	require.Len(t, h, 2)
}

func TestAgent_Analyze(t *testing.T) {
	f := newFakeAnthropic(t, "Here you go:\n{\"hype_score\": 140, \"sentiment\": \"panic\", \"summary\": \"Fear everywhere.\"}")
	a := newTestAgent(f, nil)

	got, err := a.Analyze(context.Background(), models.MarketSignals{BTCPrice: 80000, PriceChange24h: -9, BearishCount: 20, Headlines: []string{"BTC crashes"}})
	require.NoError(t, err)
	assert.Equal(t, 100, got.HypeScore)
	assert.Equal(t, models.SentimentPanic, got.Sentiment)
	assert.Equal(t, "Fear everywhere.", got.Summary)

	assert.Contains(t, f.request(0).Messages[0].Content[0].Text, "- BTC crashes")
}

func TestParseAnalysis_Rejects(t *testing.T) {
	cases := []string{
		"no json here",
		`{"hype_score": 50, "sentiment": "EUPHORIC"}`,
		`{"hype_score": "high"}`,
	}
	for _, c := range cases {
		_, err := parseAnalysis(c)
		assert.Error(t, err, c)
	}
}

func TestAgent_RespondRejectsEmpty(t *testing.T) {
	a := New(Config{APIKey: "test"}, nil)
	_, err := a.Respond(context.Background(), "t1", "  ")
	assert.Error(t, err)
}
