// Package redis publishes completed candles and trade updates so downstream
// consumers (dashboards, analytics) can follow the bot without touching it.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"candlebot/internal/model"
)

const (
	// Stream trimming: roughly a week of one-minute candles.
	candleStreamMaxLen = 10080
	tradeStreamMaxLen  = 1000
	defaultLatestTTL   = 30 * time.Minute
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes candles and trades to Redis. A nil Publisher is valid and
// drops everything, so callers need no guards when Redis is not configured.
type Publisher struct {
	client *goredis.Client

	// ObserveDur is an optional latency hook fed from each publish.
	ObserveDur func(time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client {
	if p == nil {
		return nil
	}
	return p.client
}

// New creates a Redis Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Close releases the client connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}

// PublishCandle performs pipelined writes for one completed candle:
// SET latest with TTL, XADD to the symbol/timeframe stream with trimming,
// and PUBLISH for live subscribers.
func (p *Publisher) PublishCandle(ctx context.Context, symbol string, tf model.Timeframe, c model.Candle) {
	if p == nil {
		return
	}
	start := time.Now()

	latestKey := fmt.Sprintf("candle:%s:latest:%s", tf, symbol)
	streamKey := fmt.Sprintf("candle:%s:%s", tf, symbol)
	pubsubCh := fmt.Sprintf("pub:candle:%s:%s", tf, symbol)
	jsonData := string(c.JSON())

	pipe := p.client.Pipeline()
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: candleStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Publish(ctx, pubsubCh, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis candle pipeline error", "symbol", symbol, "tf", string(tf), "err", err)
	}
	if p.ObserveDur != nil {
		p.ObserveDur(time.Since(start))
	}
}

// PublishTrade records a trade open or close on the trade stream and
// notifies live subscribers.
func (p *Publisher) PublishTrade(ctx context.Context, t model.Trade) {
	if p == nil {
		return
	}
	start := time.Now()

	jsonData, err := t.JSON()
	if err != nil {
		slog.Warn("trade encode failed", "strategy", t.StrategyName, "err", err)
		return
	}

	streamKey := "trades:" + t.Asset.Symbol
	pubsubCh := "pub:trades:" + t.Asset.Symbol

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: tradeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(jsonData)},
	})
	pipe.Publish(ctx, pubsubCh, string(jsonData))

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis trade pipeline error", "symbol", t.Asset.Symbol, "err", err)
	}
	if p.ObserveDur != nil {
		p.ObserveDur(time.Since(start))
	}
}
