package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RISKWATCH_TELEGRAM_BOT_TOKEN.
const EnvPrefix = "RISKWATCH"

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Alert      AlertConfig      `mapstructure:"alert"`
	Risk       RiskConfig       `mapstructure:"risk"`
	PriceBand  PriceBandConfig  `mapstructure:"price_band"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	CoinGecko  CoinGeckoConfig  `mapstructure:"coingecko"`
	Reddit     RedditConfig     `mapstructure:"reddit"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"` // empty = any origin
	Debug           bool          `mapstructure:"debug"`           // exposes /debug routes
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WorkersConfig holds the scheduler loop cadences
type WorkersConfig struct {
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	AnomalyInterval time.Duration `mapstructure:"anomaly_interval"`
	IngestInterval  time.Duration `mapstructure:"ingest_interval"`
}

// MonitorConfig holds anomaly detector configuration. Rates are fractions.
type MonitorConfig struct {
	WindowSize       int           `mapstructure:"window_size"`
	ZScoreThreshold  float64       `mapstructure:"z_score_threshold"`
	DetectorCooldown time.Duration `mapstructure:"detector_cooldown"`
	Symbols          []string      `mapstructure:"symbols"`
	PriceRate        float64       `mapstructure:"price_rate"`
	PortfolioRate    float64       `mapstructure:"portfolio_rate"`
	BTCRate          float64       `mapstructure:"btc_rate"`
	RiskRate         float64       `mapstructure:"risk_rate"`
	ChangeRate       float64       `mapstructure:"change_rate"`
	ExtremeChangePct float64       `mapstructure:"extreme_change_pct"`
}

// AlertConfig holds dispatcher configuration. Its cooldown is independent of
// monitor.detector_cooldown. Zero disables either gate.
type AlertConfig struct {
	DispatchCooldown time.Duration `mapstructure:"dispatch_cooldown"`
}

// RiskConfig holds the monitor loop trigger thresholds
type RiskConfig struct {
	CriticalThreshold int `mapstructure:"critical_threshold"`
	HypeThreshold     int `mapstructure:"hype_threshold"`
}

// PriceBandConfig holds the fixed price band checked on live prices
type PriceBandConfig struct {
	Symbol    string  `mapstructure:"symbol"`
	Metric    string  `mapstructure:"metric"`
	Reference float64 `mapstructure:"reference"`
	Lower     float64 `mapstructure:"lower"`
	Upper     float64 `mapstructure:"upper"`
}

// IngestConfig holds snapshot ingestion configuration
type IngestConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	CoinID  string `mapstructure:"coin_id"`
	Symbol  string `mapstructure:"symbol"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	GammaAPIURL string        `mapstructure:"gamma_api_url"`
	Keywords    []string      `mapstructure:"keywords"`
	Limit       int           `mapstructure:"limit"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// CoinGeckoConfig holds CoinGecko API configuration
type CoinGeckoConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedditConfig holds Reddit API configuration
type RedditConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	UserAgent  string        `mapstructure:"user_agent"`
	Subreddits []string      `mapstructure:"subreddits"`
	Limit      int           `mapstructure:"limit"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds the live price feed connection
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// AnthropicConfig holds the conversational agent configuration. An empty
// api_key disables the agent and the LLM analysis step.
type AnthropicConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	MaxTokens    int64         `mapstructure:"max_tokens"`
	HistoryTurns int           `mapstructure:"history_turns"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ElevenLabsConfig holds speech synthesis configuration. Without it the
// voice session delivers text only.
type ElevenLabsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	VoiceID         string        `mapstructure:"voice_id"`
	ModelID         string        `mapstructure:"model_id"`
	OutputFormat    string        `mapstructure:"output_format"`
	Stability       float64       `mapstructure:"stability"`
	SimilarityBoost float64       `mapstructure:"similarity_boost"`
	Style           float64       `mapstructure:"style"`
	SpeakingRate    float64       `mapstructure:"speaking_rate"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	MaxSnapshots int    `mapstructure:"max_snapshots"`
	DBPath       string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional .env file, the config file and
// RISKWATCH_* environment variables, in increasing precedence. An empty path
// uses defaults and the environment only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.debug", false)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("workers.monitor_interval", "1s")
	v.SetDefault("workers.anomaly_interval", "5s")
	v.SetDefault("workers.ingest_interval", "10m")

	v.SetDefault("monitor.window_size", 10)
	v.SetDefault("monitor.z_score_threshold", 2.5)
	v.SetDefault("monitor.detector_cooldown", "60s")
	v.SetDefault("monitor.symbols", []string{"BTC"})
	v.SetDefault("monitor.price_rate", 0.05)
	v.SetDefault("monitor.portfolio_rate", 0.05)
	v.SetDefault("monitor.btc_rate", 0.03)
	v.SetDefault("monitor.risk_rate", 0.20)
	v.SetDefault("monitor.change_rate", 0.50)
	v.SetDefault("monitor.extreme_change_pct", 5.0)

	v.SetDefault("alert.dispatch_cooldown", "30s")

	v.SetDefault("risk.critical_threshold", 80)
	v.SetDefault("risk.hype_threshold", 90)

	v.SetDefault("price_band.symbol", "BTC")
	v.SetDefault("price_band.metric", "btc_price")
	v.SetDefault("price_band.reference", 85000.0)
	v.SetDefault("price_band.lower", 60000.0)
	v.SetDefault("price_band.upper", 100000.0)

	v.SetDefault("ingest.enabled", true)
	v.SetDefault("ingest.coin_id", "bitcoin")
	v.SetDefault("ingest.symbol", "BTC")

	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.keywords", []string{"bitcoin", "btc", "crypto"})
	v.SetDefault("polymarket.limit", 100)
	v.SetDefault("polymarket.timeout", "30s")

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.api_key", "")
	v.SetDefault("coingecko.timeout", "15s")

	v.SetDefault("reddit.base_url", "https://www.reddit.com")
	v.SetDefault("reddit.user_agent", "riskwatch/1.0")
	v.SetDefault("reddit.subreddits", []string{"wallstreetbets", "CryptoCurrency", "Bitcoin", "ethereum"})
	v.SetDefault("reddit.limit", 25)
	v.SetDefault("reddit.timeout", "15s")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "riskwatch:price:")
	v.SetDefault("redis.ttl", "0s")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("anthropic.history_turns", 20)
	v.SetDefault("anthropic.timeout", "30s")

	v.SetDefault("elevenlabs.enabled", false)
	v.SetDefault("elevenlabs.api_key", "")
	v.SetDefault("elevenlabs.base_url", "wss://api.elevenlabs.io")
	v.SetDefault("elevenlabs.voice_id", "21m00Tcm4TlvDq8ikWAM")
	v.SetDefault("elevenlabs.model_id", "eleven_turbo_v2_5")
	v.SetDefault("elevenlabs.output_format", "mp3_44100_192")
	v.SetDefault("elevenlabs.stability", 0.7)
	v.SetDefault("elevenlabs.similarity_boost", 0.8)
	v.SetDefault("elevenlabs.style", 0.0)
	v.SetDefault("elevenlabs.speaking_rate", 1.0)
	v.SetDefault("elevenlabs.dial_timeout", "10s")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "2s")

	v.SetDefault("storage.max_snapshots", 10000)
	v.SetDefault("storage.db_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	// Validate Workers config
	if c.Workers.MonitorInterval < 100*time.Millisecond {
		return fmt.Errorf("workers.monitor_interval must be at least 100ms")
	}
	if c.Workers.AnomalyInterval < 100*time.Millisecond {
		return fmt.Errorf("workers.anomaly_interval must be at least 100ms")
	}
	if c.Workers.IngestInterval < 10*time.Second {
		return fmt.Errorf("workers.ingest_interval must be at least 10s")
	}

	// Validate Monitor config
	if c.Monitor.WindowSize < 3 {
		return fmt.Errorf("monitor.window_size must be at least 3")
	}
	if c.Monitor.ZScoreThreshold <= 0 {
		return fmt.Errorf("monitor.z_score_threshold must be positive")
	}
	if c.Monitor.DetectorCooldown < 0 {
		return fmt.Errorf("monitor.detector_cooldown must not be negative")
	}
	rates := map[string]float64{
		"monitor.price_rate":     c.Monitor.PriceRate,
		"monitor.portfolio_rate": c.Monitor.PortfolioRate,
		"monitor.btc_rate":       c.Monitor.BTCRate,
		"monitor.risk_rate":      c.Monitor.RiskRate,
		"monitor.change_rate":    c.Monitor.ChangeRate,
	}
	for key, rate := range rates {
		if rate <= 0 || rate > 10 {
			return fmt.Errorf("%s must be in (0, 10]", key)
		}
	}
	if c.Monitor.ExtremeChangePct < 0 {
		return fmt.Errorf("monitor.extreme_change_pct must not be negative")
	}

	// Validate Alert config
	if c.Alert.DispatchCooldown < 0 {
		return fmt.Errorf("alert.dispatch_cooldown must not be negative")
	}

	// Validate Risk config
	if c.Risk.CriticalThreshold < 1 || c.Risk.CriticalThreshold > 100 {
		return fmt.Errorf("risk.critical_threshold must be between 1 and 100")
	}
	if c.Risk.HypeThreshold < 1 || c.Risk.HypeThreshold > 100 {
		return fmt.Errorf("risk.hype_threshold must be between 1 and 100")
	}

	// Validate PriceBand config
	if c.PriceBand.Reference <= 0 {
		return fmt.Errorf("price_band.reference must be positive")
	}
	if c.PriceBand.Lower <= 0 || c.PriceBand.Lower >= c.PriceBand.Upper {
		return fmt.Errorf("price_band.lower must be positive and below price_band.upper")
	}

	// Validate Ingest config
	if c.Ingest.Enabled {
		if c.Ingest.CoinID == "" {
			return fmt.Errorf("ingest.coin_id is required when ingest is enabled")
		}
		if c.Polymarket.Limit < 1 || c.Polymarket.Limit > 1000 {
			return fmt.Errorf("polymarket.limit must be between 1 and 1000")
		}
		if c.Reddit.Limit < 1 || c.Reddit.Limit > 100 {
			return fmt.Errorf("reddit.limit must be between 1 and 100")
		}
	}

	// Validate ElevenLabs config
	if c.ElevenLabs.Enabled && c.ElevenLabs.APIKey == "" {
		return fmt.Errorf("elevenlabs.api_key is required when elevenlabs is enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.MaxSnapshots < 1 {
		return fmt.Errorf("storage.max_snapshots must be at least 1")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
