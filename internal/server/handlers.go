package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/models"
	"github.com/rewired-gh/riskwatch/internal/risk"
)

const (
	defaultAlertLimit    = 20
	maxAlertLimit        = 200
	defaultSnapshotLimit = 24
	maxSnapshotLimit     = 500
)

type levelView struct {
	Score   int    `json:"score"`
	Level   string `json:"level"`
	Summary string `json:"summary,omitempty"`
}

type marketView struct {
	BTCPrice          float64   `json:"btc_price"`
	PriceChange24h    float64   `json:"price_change_24h"`
	PolymarketAvgOdds float64   `json:"polymarket_avg_odds"`
	Sentiment         string    `json:"sentiment"`
	SentimentScore    int       `json:"sentiment_score"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

type riskMonitorView struct {
	RiskLevel      levelView  `json:"risk_level"`
	HypeLevel      levelView  `json:"hype_level"`
	MarketOverview marketView `json:"market_overview"`
}

func (s *Server) riskMonitor(c *gin.Context) {
	if s.deps.Snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot store unavailable"})
		return
	}
	snap, err := s.deps.Snapshots.GetLatestSnapshot()
	if err != nil {
		logger.Error("Failed to load snapshot for risk monitor: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load market context"})
		return
	}
	if snap == nil {
		c.JSON(http.StatusOK, riskMonitorView{
			RiskLevel: levelView{Level: risk.Level(0), Summary: "No market data available"},
			HypeLevel: levelView{Level: risk.Level(0)},
		})
		return
	}

	c.JSON(http.StatusOK, riskMonitorView{
		RiskLevel: levelView{Score: snap.RiskScore, Level: risk.Level(snap.RiskScore), Summary: snap.Summary},
		HypeLevel: levelView{Score: snap.HypeScore, Level: risk.Level(snap.HypeScore)},
		MarketOverview: marketView{
			BTCPrice:          snap.BTCPrice,
			PriceChange24h:    snap.PriceChange24h,
			PolymarketAvgOdds: snap.PolymarketAvgOdds,
			Sentiment:         string(snap.Sentiment),
			SentimentScore:    snap.SentimentScore,
			UpdatedAt:         snap.CreatedAt,
		},
	})
}

func (s *Server) recentAlerts(c *gin.Context) {
	if s.deps.Alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert log unavailable"})
		return
	}
	limit, ok := queryLimit(c, defaultAlertLimit, maxAlertLimit)
	if !ok {
		return
	}

	alerts, err := s.deps.Alerts.GetRecentAlerts(limit)
	if err != nil {
		logger.Error("Failed to load alerts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// queryLimit parses ?limit=, clamping to ceiling. It writes the 400 itself.
func queryLimit(c *gin.Context, def, ceiling int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, ceiling), true
}

type snapshotView struct {
	ID        int64 `json:"id"`
	RiskScore int   `json:"risk_score"`
	HypeScore int   `json:"hype_score"`
	marketView
}

func (s *Server) recentSnapshots(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot store unavailable"})
		return
	}
	limit, ok := queryLimit(c, defaultSnapshotLimit, maxSnapshotLimit)
	if !ok {
		return
	}

	snaps, err := s.deps.History.GetRecentSnapshots(limit)
	if err != nil {
		logger.Error("Failed to load snapshot history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshots"})
		return
	}
	views := make([]snapshotView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, snapshotView{
			ID:        snap.ID,
			RiskScore: snap.RiskScore,
			HypeScore: snap.HypeScore,
			marketView: marketView{
				BTCPrice:          snap.BTCPrice,
				PriceChange24h:    snap.PriceChange24h,
				PolymarketAvgOdds: snap.PolymarketAvgOdds,
				Sentiment:         string(snap.Sentiment),
				SentimentScore:    snap.SentimentScore,
				UpdatedAt:         snap.CreatedAt,
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": views, "count": len(views)})
}

type portfolioRequest struct {
	BalanceUSD *float64 `json:"balance_usd" binding:"required"`
}

func (s *Server) getPortfolio(c *gin.Context) {
	if s.deps.Portfolio == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio unavailable"})
		return
	}
	balance, ok, err := s.deps.Portfolio.GetPortfolioBalance()
	if err != nil {
		logger.Error("Failed to load portfolio: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load portfolio"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "portfolio balance not set"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance_usd": balance})
}

func (s *Server) setPortfolio(c *gin.Context) {
	if s.deps.Portfolio == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio unavailable"})
		return
	}
	var req portfolioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Portfolio.SetPortfolioBalance(*req.BalanceUSD); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance_usd": *req.BalanceUSD})
}

type injectPriceRequest struct {
	Symbol string  `json:"symbol" binding:"required"`
	Price  float64 `json:"price" binding:"required,gt=0"`
}

func (s *Server) injectPrice(c *gin.Context) {
	if s.deps.Prices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price feed unavailable"})
		return
	}
	var req injectPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := s.deps.Prices.SetPrice(c.Request.Context(), symbol, req.Price); err != nil {
		logger.Error("Failed to inject price for %s: %v", symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to inject price"})
		return
	}
	logger.Warn("Injected debug price %s=%.2f", symbol, req.Price)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Injected price for " + symbol,
		"symbol":  symbol,
		"price":   req.Price,
	})
}

func (s *Server) listPrices(c *gin.Context) {
	if s.deps.Prices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price feed unavailable"})
		return
	}
	symbols := strings.Split(c.DefaultQuery("symbols", "BTC"), ",")
	prices, err := s.deps.Prices.Prices(c.Request.Context(), symbols)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read prices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices, "count": len(prices)})
}

// testAlert returns the canned payload pushed by /debug/trigger-alert.
func testAlert(alertType string) (*models.AlertPayload, bool) {
	a := &models.AlertPayload{
		ID:        uuid.New().String(),
		AlertType: alertType,
		CreatedAt: time.Now(),
	}
	switch alertType {
	case models.AlertTypeRiskCritical:
		a.RiskScore, a.HypeScore = 95, 50
		a.BTCPrice, a.PriceChange24h = 75000, -8.5
		a.Message = "[TEST] Bitcoin CRASHING! Down 8.5% in the last hour! Risk at 95/100!"
	case models.AlertTypeHypeExtreme:
		a.RiskScore, a.HypeScore = 40, 95
		a.BTCPrice, a.PriceChange24h = 92000, 12.3
		a.Message = "[TEST] Bitcoin MOONING! Up 12% today! Social hype at 95/100!"
	case models.AlertTypeAnomaly:
		a.Metric = "btc_price"
		a.RiskScore, a.HypeScore = 72, 40
		a.BTCPrice, a.PriceChange24h = 59000, -30.59
		a.Message = "[TEST] ANOMALY ALERT: btc_price at $59,000, -$26,000 (-30.59%) from reference"
	default:
		return nil, false
	}
	return a, true
}

func (s *Server) triggerAlert(c *gin.Context) {
	alertType := strings.ToUpper(c.DefaultQuery("alert_type", models.AlertTypeRiskCritical))
	payload, ok := testAlert(alertType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown alert_type: " + alertType})
		return
	}

	delivered := s.deps.Speaker != nil && s.deps.Speaker.Speak(payload.Message, payload)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"delivered": delivered,
		"payload":   payload,
	})
}
