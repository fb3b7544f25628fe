package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/riskwatch/internal/risk"
)

// PriceSource reads the live price of a symbol.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, bool, error)
}

// PortfolioSource reads the stored portfolio balance.
type PortfolioSource interface {
	GetPortfolioBalance() (float64, bool, error)
}

// Tool is a read-only function the model may call before answering.
type Tool struct {
	Name        string
	Description string
	Properties  map[string]any
	Run         func(ctx context.Context, input json.RawMessage) (string, error)
}

// ToolRegistry holds the tools offered to the model.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the registered tool names in sorted order.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToAPITools converts registered tools to Claude API format.
func (r *ToolRegistry) ToAPITools() []anthropic.ToolUnionParam {
	names := r.List()

	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]anthropic.ToolUnionParam, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		props := tool.Properties
		if props == nil {
			props = map[string]any{}
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
				},
			},
		})
	}
	return tools
}

// Run executes one tool call. Unknown tools and tool failures are reported
// back to the model as error results rather than failing the turn.
func (r *ToolRegistry) Run(ctx context.Context, name string, input json.RawMessage) (string, bool) {
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("unknown tool %q", name), true
	}
	out, err := tool.Run(ctx, input)
	if err != nil {
		return err.Error(), true
	}
	return out, false
}

// defaultTools registers the tools backed by whichever sources are set.
func (a *Agent) defaultTools() *ToolRegistry {
	r := NewToolRegistry()
	if a.prices != nil || a.snapshots != nil {
		r.Register(Tool{
			Name:        "get_current_price",
			Description: "Get the live USD price of a crypto asset. Defaults to BTC.",
			Properties: map[string]any{
				"symbol": map[string]any{"type": "string", "description": "Ticker symbol, e.g. BTC"},
			},
			Run: a.currentPrice,
		})
	}
	if a.snapshots != nil {
		r.Register(Tool{
			Name:        "get_market_sentiment",
			Description: "Get the latest market snapshot: risk score, hype score, sentiment and 24h change.",
			Run:         a.marketSentiment,
		})
	}
	if a.portfolio != nil {
		r.Register(Tool{
			Name:        "list_holdings",
			Description: "Get the user's portfolio balance in USD.",
			Run:         a.holdings,
		})
	}
	return r
}

func (a *Agent) currentPrice(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Symbol string `json:"symbol"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid input: %w", err)
		}
	}
	symbol := strings.ToUpper(strings.TrimSpace(args.Symbol))
	if symbol == "" {
		symbol = "BTC"
	}

	if a.prices != nil {
		price, ok, err := a.prices.GetPrice(ctx, symbol)
		if err != nil {
			return "", err
		}
		if ok {
			return fmt.Sprintf("%s live price: $%s", symbol, humanize.CommafWithDigits(price, 2)), nil
		}
	}
	if symbol == "BTC" && a.snapshots != nil {
		snap, err := a.snapshots.GetLatestSnapshot()
		if err != nil {
			return "", err
		}
		if snap != nil {
			return fmt.Sprintf("BTC price at last snapshot: $%s (%+.2f%% 24h)",
				humanize.CommafWithDigits(snap.BTCPrice, 2), snap.PriceChange24h), nil
		}
	}
	return fmt.Sprintf("No price available for %s", symbol), nil
}

func (a *Agent) marketSentiment(context.Context, json.RawMessage) (string, error) {
	snap, err := a.snapshots.GetLatestSnapshot()
	if err != nil {
		return "", err
	}
	if snap == nil {
		return "No market snapshot is available yet.", nil
	}
	return fmt.Sprintf("Risk %d/100 (%s), hype %d/100 (%s), sentiment %s (score %d), BTC 24h change %+.2f%%, Polymarket odds %.2f",
		snap.RiskScore, risk.Level(snap.RiskScore),
		snap.HypeScore, risk.Level(snap.HypeScore),
		snap.Sentiment, snap.SentimentScore, snap.PriceChange24h, snap.PolymarketAvgOdds), nil
}

func (a *Agent) holdings(context.Context, json.RawMessage) (string, error) {
	balance, ok, err := a.portfolio.GetPortfolioBalance()
	if err != nil {
		return "", err
	}
	if !ok {
		return "No portfolio balance has been recorded.", nil
	}
	return fmt.Sprintf("Portfolio balance: $%s", humanize.CommafWithDigits(balance, 2)), nil
}
