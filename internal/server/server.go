// Package server exposes the HTTP surface: health, metrics, the voice
// websocket, the risk monitor and alert APIs, and debug hooks.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/models"
	"github.com/rewired-gh/riskwatch/internal/storage"
)

type SnapshotReader interface {
	GetLatestSnapshot() (*models.MarketContext, error)
}

// SnapshotHistory lists stored snapshots, newest first.
type SnapshotHistory interface {
	GetRecentSnapshots(limit int) ([]*models.MarketContext, error)
}

type AlertLog interface {
	GetRecentAlerts(limit int) ([]storage.AlertRecord, error)
}

type Portfolio interface {
	GetPortfolioBalance() (float64, bool, error)
	SetPortfolioBalance(balance float64) error
}

// PriceWriter overrides live prices.
type PriceWriter interface {
	SetPrice(ctx context.Context, symbol string, price float64) error
	Prices(ctx context.Context, symbols []string) (map[string]float64, error)
}

type Speaker interface {
	Speak(text string, alert *models.AlertPayload) bool
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators behind the routes. Nil members disable the
// routes that need them.
type Deps struct {
	Snapshots SnapshotReader
	History   SnapshotHistory
	Alerts    AlertLog
	Portfolio Portfolio
	Prices    PriceWriter
	Speaker   Speaker
	Voice     http.Handler
	Metrics   http.Handler
	Checks    map[string]HealthCheck
	Debug     bool
}

type Server struct {
	router *gin.Engine
	http   *http.Server
	deps   Deps
}

func New(addr string, deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		router: router,
		deps:   deps,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.registerRoutes()
	return s
}

// Router returns the gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("HTTP server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	if s.deps.Voice != nil {
		s.router.GET("/ws/voice/agent", gin.WrapH(s.deps.Voice))
	}

	api := s.router.Group("/api")
	{
		api.GET("/risk-monitor", s.riskMonitor)
		api.GET("/snapshots", s.recentSnapshots)
		api.GET("/alerts", s.recentAlerts)
		api.GET("/portfolio", s.getPortfolio)
		api.PUT("/portfolio", s.setPortfolio)
	}

	if s.deps.Debug {
		debug := s.router.Group("/debug")
		{
			debug.POST("/inject-price", s.injectPrice)
			debug.GET("/prices", s.listPrices)
			debug.POST("/trigger-alert", s.triggerAlert)
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	body := gin.H{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
