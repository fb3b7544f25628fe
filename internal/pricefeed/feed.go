// Package pricefeed keeps the last known price per symbol in Redis so every
// loop and the debug API read the same live value.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "riskwatch:price:"

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// Feed reads and writes prices. A zero TTL keeps prices until overwritten.
type Feed struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func New(config Config) *Feed {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	}), config.KeyPrefix, config.TTL)
}

func NewWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *Feed {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Feed{client: client, prefix: prefix, ttl: ttl}
}

func (f *Feed) key(symbol string) string {
	return f.prefix + strings.ToUpper(strings.TrimSpace(symbol))
}

// GetPrice returns the last price for symbol and whether one is known.
func (f *Feed) GetPrice(ctx context.Context, symbol string) (float64, bool, error) {
	v, err := f.client.Get(ctx, f.key(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt price for %s: %w", symbol, err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false, fmt.Errorf("corrupt price for %s: %v", symbol, price)
	}
	return price, true, nil
}

func (f *Feed) SetPrice(ctx context.Context, symbol string, price float64) error {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("price for %s must be positive and finite, got %v", symbol, price)
	}
	v := strconv.FormatFloat(price, 'f', -1, 64)
	if err := f.client.Set(ctx, f.key(symbol), v, f.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set price for %s: %w", symbol, err)
	}
	return nil
}

// Prices returns the known prices among symbols. Missing symbols are omitted.
func (f *Feed) Prices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = f.key(s)
	}
	vals, err := f.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get prices: %w", err)
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(symbols[i]))] = price
	}
	return out, nil
}

func (f *Feed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *Feed) Close() error {
	return f.client.Close()
}
