// Package agent is the conversational layer behind the voice session. It
// keeps per-thread memory and renders market and alert context into Claude
// requests.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/models"
)

const (
	DefaultModel        = "claude-sonnet-4-20250514"
	DefaultMaxTokens    = 512
	DefaultHistoryTurns = 20

	// maxToolRounds bounds tool_use round trips within one turn.
	maxToolRounds = 4
)

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	HistoryTurns int
	Timeout      time.Duration
}

// SnapshotSource supplies the market context injected into every request.
type SnapshotSource interface {
	GetLatestSnapshot() (*models.MarketContext, error)
}

// Agent implements narration.Agent.
type Agent struct {
	client    anthropic.Client
	config    Config
	snapshots SnapshotSource
	prices    PriceSource
	portfolio PortfolioSource
	tools     *ToolRegistry

	mu      sync.Mutex
	threads map[string][]anthropic.MessageParam
}

type Option func(*Agent)

// WithPrices backs the get_current_price tool with a live feed.
func WithPrices(p PriceSource) Option {
	return func(a *Agent) { a.prices = p }
}

// WithPortfolio enables the list_holdings tool.
func WithPortfolio(p PortfolioSource) Option {
	return func(a *Agent) { a.portfolio = p }
}

// New creates an Agent. Conversation turns may call read-only tools backed
// by snapshots and the optional sources; Analyze never uses tools.
func New(config Config, snapshots SnapshotSource, opts ...Option) *Agent {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.HistoryTurns <= 0 {
		config.HistoryTurns = DefaultHistoryTurns
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithRequestTimeout(config.Timeout),
	}
	if config.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(config.BaseURL))
	}

	a := &Agent{
		client:    anthropic.NewClient(reqOpts...),
		config:    config,
		snapshots: snapshots,
		threads:   make(map[string][]anthropic.MessageParam),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.tools = a.defaultTools()
	return a
}

// Respond answers a user turn on threadID and remembers the exchange.
func (a *Agent) Respond(ctx context.Context, threadID, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty input")
	}
	return a.converse(ctx, threadID, input, input)
}

// ReactToAlert asks the model to narrate alert. The alert block is sent with
// the turn but only the alert text is kept in thread memory.
func (a *Agent) ReactToAlert(ctx context.Context, threadID, text string, alert models.AlertPayload) (string, error) {
	prompt := alertBlock(alert)
	if text != "" {
		prompt += "\n\nAlert message: " + text
	}
	return a.converse(ctx, threadID, prompt, "[alert] "+text)
}

func (a *Agent) converse(ctx context.Context, threadID, prompt, remembered string) (string, error) {
	history := a.history(threadID)
	messages := append(history, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	reply, err := a.complete(ctx, a.systemPrompt(), messages, a.tools)
	if err != nil {
		return "", err
	}

	a.remember(threadID,
		anthropic.NewUserMessage(anthropic.NewTextBlock(remembered)),
		anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)))
	return reply, nil
}

// complete runs one model turn. With tools, tool_use replies are answered
// with tool_result messages until the model produces text. Only the final
// text is returned; tool traffic never enters thread memory.
func (a *Agent) complete(ctx context.Context, system string, messages []anthropic.MessageParam, tools *ToolRegistry) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.Model),
		MaxTokens: a.config.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  messages,
	}
	if tools != nil {
		params.Tools = tools.ToAPITools()
	}

	for round := 0; ; round++ {
		msg, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("anthropic request failed: %w", err)
		}

		var (
			b       strings.Builder
			results []anthropic.ContentBlockParamUnion
		)
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				b.WriteString(block.Text)
			case "tool_use":
				if tools == nil {
					continue
				}
				out, isErr := tools.Run(ctx, block.Name, block.Input)
				logger.Debug("Agent tool %s (error=%v): %s", block.Name, isErr, out)
				results = append(results, anthropic.NewToolResultBlock(block.ID, out, isErr))
			}
		}

		if msg.StopReason != anthropic.StopReasonToolUse || len(results) == 0 {
			reply := strings.TrimSpace(b.String())
			if reply == "" {
				return "", errors.New("anthropic returned no text")
			}
			return reply, nil
		}
		if round+1 >= maxToolRounds {
			return "", fmt.Errorf("agent exceeded %d tool rounds", maxToolRounds)
		}
		params.Messages = append(params.Messages, msg.ToParam(), anthropic.NewUserMessage(results...))
	}
}

func (a *Agent) systemPrompt() string {
	var snap *models.MarketContext
	if a.snapshots != nil {
		s, err := a.snapshots.GetLatestSnapshot()
		if err != nil {
			logger.Warn("Agent could not load market snapshot: %v", err)
		} else {
			snap = s
		}
	}
	return systemPrompt + "\n\n" + marketBlock(snap)
}

func (a *Agent) history(threadID string) []anthropic.MessageParam {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.threads[threadID]
	out := make([]anthropic.MessageParam, len(h), len(h)+1)
	copy(out, h)
	return out
}

func (a *Agent) remember(threadID string, turn ...anthropic.MessageParam) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := append(a.threads[threadID], turn...)
	if limit := a.config.HistoryTurns * 2; len(h) > limit {
		h = h[len(h)-limit:]
	}
	a.threads[threadID] = h
}

// Forget drops the memory of threadID. Called when a voice session ends.
func (a *Agent) Forget(threadID string) {
	a.mu.Lock()
	delete(a.threads, threadID)
	a.mu.Unlock()
}

// Analyze asks the model to score hype and sentiment for one ingest cycle.
func (a *Agent) Analyze(ctx context.Context, signals models.MarketSignals) (models.Analysis, error) {
	reply, err := a.complete(ctx, analysisPrompt, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(signalsBlock(signals))),
	}, nil)
	if err != nil {
		return models.Analysis{}, err
	}
	return parseAnalysis(reply)
}

func parseAnalysis(reply string) (models.Analysis, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return models.Analysis{}, fmt.Errorf("no JSON object in analysis reply: %q", reply)
	}

	var out models.Analysis
	if err := json.Unmarshal([]byte(reply[start:end+1]), &out); err != nil {
		return models.Analysis{}, fmt.Errorf("failed to decode analysis: %w", err)
	}
	out.Sentiment = models.Sentiment(strings.ToUpper(string(out.Sentiment)))
	if !out.Sentiment.Valid() {
		return models.Analysis{}, fmt.Errorf("invalid sentiment %q in analysis", out.Sentiment)
	}
	out.HypeScore = models.ClampScore(out.HypeScore)
	return out, nil
}
