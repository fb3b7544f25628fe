package agent

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/riskwatch/internal/models"
	"github.com/rewired-gh/riskwatch/internal/risk"
)

const systemPrompt = `You are a calm, concise crypto risk assistant speaking to a single user over voice.
Answer in plain spoken sentences, no markdown, no lists. Keep replies under four sentences
unless the user asks for detail. Never give personalised financial advice.`

const alertInstruction = "The user needs to be informed immediately about this critical market event. " +
	"Tell them what happened in two or three spoken sentences."

const analysisPrompt = `Given the market signals below, return ONLY a JSON object:
{"hype_score": <0-100 integer>, "sentiment": "BULLISH" | "BEARISH" | "PANIC", "summary": "<one sentence>"}
PANIC means extreme fear (heavy bearish chatter or a sharp drop). hype_score measures how
overheated the conversation is in either direction.`

// marketBlock renders the latest snapshot for the system prompt.
func marketBlock(snap *models.MarketContext) string {
	if snap == nil {
		return "No market snapshot is available yet."
	}
	return fmt.Sprintf(`Current market context:
BTC Price: $%s (%+.2f%% 24h)
Risk Score: %d/100 (%s)
Hype Score: %d/100 (%s)
Sentiment: %s (score %d)
Polymarket average odds: %.2f`,
		humanize.CommafWithDigits(snap.BTCPrice, 2), snap.PriceChange24h,
		snap.RiskScore, risk.Level(snap.RiskScore),
		snap.HypeScore, risk.Level(snap.HypeScore),
		snap.Sentiment, snap.SentimentScore,
		snap.PolymarketAvgOdds)
}

// alertBlock renders an alert payload the way the chat endpoint injects it.
func alertBlock(alert models.AlertPayload) string {
	return fmt.Sprintf(`URGENT SYSTEM ALERT:
Type: %s
Risk Score: %d/100
Hype Score: %d/100
BTC Price: $%s
24h Change: %+.2f%%

%s`,
		alert.AlertType, alert.RiskScore, alert.HypeScore,
		humanize.CommafWithDigits(alert.BTCPrice, 2), alert.PriceChange24h,
		alertInstruction)
}

func signalsBlock(s models.MarketSignals) string {
	var b strings.Builder
	fmt.Fprintf(&b, "BTC price: %.2f\n24h change: %+.2f%%\n", s.BTCPrice, s.PriceChange24h)
	fmt.Fprintf(&b, "Polymarket average odds: %.3f across %d markets\n", s.PolymarketAvgOdds, s.PolymarketMarkets)
	fmt.Fprintf(&b, "Reddit keyword tally: %d bullish, %d bearish\n", s.BullishCount, s.BearishCount)
	if len(s.Headlines) > 0 {
		b.WriteString("Top post titles:\n")
		for _, h := range s.Headlines {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
