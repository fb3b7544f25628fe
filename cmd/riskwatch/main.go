package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rewired-gh/riskwatch/internal/agent"
	"github.com/rewired-gh/riskwatch/internal/alert"
	"github.com/rewired-gh/riskwatch/internal/coingecko"
	"github.com/rewired-gh/riskwatch/internal/config"
	"github.com/rewired-gh/riskwatch/internal/elevenlabs"
	"github.com/rewired-gh/riskwatch/internal/ingest"
	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/metrics"
	"github.com/rewired-gh/riskwatch/internal/monitor"
	"github.com/rewired-gh/riskwatch/internal/narration"
	"github.com/rewired-gh/riskwatch/internal/polymarket"
	"github.com/rewired-gh/riskwatch/internal/pricefeed"
	"github.com/rewired-gh/riskwatch/internal/reddit"
	"github.com/rewired-gh/riskwatch/internal/risk"
	"github.com/rewired-gh/riskwatch/internal/server"
	"github.com/rewired-gh/riskwatch/internal/storage"
	"github.com/rewired-gh/riskwatch/internal/telegram"
	"github.com/rewired-gh/riskwatch/internal/voice"
	"github.com/rewired-gh/riskwatch/internal/worker"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxSnapshots, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	checks := map[string]server.HealthCheck{
		"storage": func(context.Context) error { return store.Ping() },
	}

	// Interface-typed so a disabled feed stays a true nil downstream.
	var prices interface {
		worker.PriceSource
		server.PriceWriter
		ingest.PriceSink
		agent.PriceSource
	}
	if cfg.Redis.Enabled {
		feed := pricefeed.New(pricefeed.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		defer func() {
			if err := feed.Close(); err != nil {
				logger.Error("Failed to close price feed: %v", err)
			}
		}()
		checks["redis"] = feed.Ping
		prices = feed
		logger.Info("Live price feed on %s", cfg.Redis.Addr)
	} else {
		logger.Debug("Live price feed disabled")
	}

	m := metrics.New()

	detector := monitor.NewDetector(monitor.Config{
		WindowSize:      cfg.Monitor.WindowSize,
		ZScoreThreshold: cfg.Monitor.ZScoreThreshold,
		Cooldown:        cfg.Monitor.DetectorCooldown,
	})
	dispatcher := alert.New(alert.Config{Cooldown: cfg.Alert.DispatchCooldown}, alert.WithDropRecorder(m))

	var (
		convAgent narration.Agent
		analyzer  ingest.Analyzer
	)
	if cfg.Anthropic.APIKey != "" {
		opts := []agent.Option{agent.WithPortfolio(store)}
		if prices != nil {
			opts = append(opts, agent.WithPrices(prices))
		}
		a := agent.New(agent.Config{
			APIKey:       cfg.Anthropic.APIKey,
			BaseURL:      cfg.Anthropic.BaseURL,
			Model:        cfg.Anthropic.Model,
			MaxTokens:    cfg.Anthropic.MaxTokens,
			HistoryTurns: cfg.Anthropic.HistoryTurns,
			Timeout:      cfg.Anthropic.Timeout,
		}, store, opts...)
		convAgent = a
		analyzer = a
		logger.Info("Conversational agent enabled (model: %s)", cfg.Anthropic.Model)
	} else {
		logger.Warn("anthropic.api_key not set, voice sessions will not answer and analysis falls back to heuristics")
		analyzer = ingest.Heuristic{}
	}

	var synth narration.Synthesizer
	if cfg.ElevenLabs.Enabled {
		synth = elevenlabs.NewClient(elevenlabs.Config{
			BaseURL:         cfg.ElevenLabs.BaseURL,
			APIKey:          cfg.ElevenLabs.APIKey,
			VoiceID:         cfg.ElevenLabs.VoiceID,
			ModelID:         cfg.ElevenLabs.ModelID,
			OutputFormat:    cfg.ElevenLabs.OutputFormat,
			Stability:       cfg.ElevenLabs.Stability,
			SimilarityBoost: cfg.ElevenLabs.SimilarityBoost,
			Style:           cfg.ElevenLabs.Style,
			SpeakingRate:    cfg.ElevenLabs.SpeakingRate,
			DialTimeout:     cfg.ElevenLabs.DialTimeout,
		})
		logger.Info("Speech synthesis enabled (voice: %s)", cfg.ElevenLabs.VoiceID)
	} else {
		logger.Debug("Speech synthesis disabled, sessions deliver text only")
	}

	registry := narration.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.ListenForCommands(ctx, store)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	delivery := &worker.Delivery{Store: store, Speaker: registry, Observer: m}
	var notifier worker.FailureNotifier
	if telegramClient != nil {
		delivery.Notifier = telegramClient
		notifier = telegramClient
	}

	anomalyConfig := worker.AnomalyConfig{
		Symbols:          cfg.Monitor.Symbols,
		PriceRate:        cfg.Monitor.PriceRate,
		PortfolioRate:    cfg.Monitor.PortfolioRate,
		BTCRate:          cfg.Monitor.BTCRate,
		RiskRate:         cfg.Monitor.RiskRate,
		ChangeRate:       cfg.Monitor.ChangeRate,
		ExtremeChangePct: cfg.Monitor.ExtremeChangePct,
		BandSymbol:       cfg.PriceBand.Symbol,
		Band: monitor.PriceBand{
			Metric:    cfg.PriceBand.Metric,
			Reference: cfg.PriceBand.Reference,
			Lower:     cfg.PriceBand.Lower,
			Upper:     cfg.PriceBand.Upper,
		},
	}
	anomalySources := worker.AnomalySources{Prices: prices, Portfolio: store, Snapshots: store}

	monitorWorker := worker.NewMonitorWorker(store, risk.Thresholds{
		RiskCritical: cfg.Risk.CriticalThreshold,
		HypeExtreme:  cfg.Risk.HypeThreshold,
	}, dispatcher, delivery, m)
	anomalyWorker := worker.NewAnomalyWorker(anomalyConfig, detector, anomalySources, dispatcher, delivery, m)

	loops := []*worker.Loop{
		{Name: "monitor", Interval: cfg.Workers.MonitorInterval, Cycle: monitorWorker.Cycle, Notifier: notifier, Observer: m},
		{Name: "anomaly", Interval: cfg.Workers.AnomalyInterval, Cycle: anomalyWorker.Cycle, Notifier: notifier, Observer: m},
	}

	if cfg.Ingest.Enabled {
		src := ingest.Sources{
			Quotes:   coingecko.NewClient(cfg.CoinGecko.BaseURL, cfg.CoinGecko.APIKey, cfg.CoinGecko.Timeout),
			Odds:     polymarket.NewClient(cfg.Polymarket.GammaAPIURL, cfg.Polymarket.Keywords, cfg.Polymarket.Limit, cfg.Polymarket.Timeout),
			Posts:    reddit.NewClient(cfg.Reddit.BaseURL, cfg.Reddit.UserAgent, cfg.Reddit.Subreddits, cfg.Reddit.Limit, cfg.Reddit.Timeout),
			Store:    store,
			Prices:   prices,
			Analyzer: analyzer,
		}
		ingestWorker := worker.NewIngestWorker(ingest.New(src, cfg.Ingest.CoinID, cfg.Ingest.Symbol), m)
		loops = append(loops, &worker.Loop{
			Name: "ingest", Interval: cfg.Workers.IngestInterval, Cycle: ingestWorker.Cycle, Notifier: notifier, Observer: m,
		})
	} else {
		logger.Debug("Snapshot ingestion disabled")
	}

	srv := server.New(cfg.Server.Addr, server.Deps{
		Snapshots: store,
		History:   store,
		Alerts:    store,
		Portfolio: store,
		Prices:    prices,
		Speaker:   registry,
		Voice:     voice.NewHandler(registry, synth, convAgent, m, cfg.Server.AllowedOrigins),
		Metrics:   m.Handler(),
		Checks:    checks,
		Debug:     cfg.Server.Debug,
	})

	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l *worker.Loop) {
			defer wg.Done()
			l.Run(ctx)
		}(l)
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
			cancel()
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, cleaning up...")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed: %v", err)
	}
	if s := registry.Current(); s != nil {
		s.Close()
	}
	wg.Wait()
	logger.Info("Service stopped")
}
