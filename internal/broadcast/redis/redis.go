// Package redis relays derived updates over Redis pub/sub so several indexer
// and push-server instances share one stream, and caches the latest price.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"openclaw-indexer/internal/broadcast"
	"openclaw-indexer/internal/domain"
)

// Pub/sub channels, one per update family.
const (
	ChannelPriceUpdates = "price_updates"
	ChannelTradeUpdates = "trade_updates"
	ChannelNewTokens    = "new_tokens"
	ChannelMigrations   = "token_migrations"
)

// Channels lists every channel a Relay listens on.
var Channels = []string{ChannelPriceUpdates, ChannelTradeUpdates, ChannelNewTokens, ChannelMigrations}

// Cache TTLs for price snapshots.
const (
	PriceTTL     = 10 * time.Second
	MarketCapTTL = 30 * time.Second
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Channel returns the pub/sub channel of u.
func Channel(u domain.Update) string {
	switch u.UpdateType() {
	case domain.UpdatePrice:
		return ChannelPriceUpdates
	case domain.UpdateTrade:
		return ChannelTradeUpdates
	case domain.UpdateNewToken:
		return ChannelNewTokens
	default:
		return ChannelMigrations
	}
}

// Publisher publishes each update on its channel.
type Publisher struct {
	client goredis.UniversalClient
}

// NewPublisher creates a Publisher.
func NewPublisher(client goredis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

// PublishUpdate implements broadcast.Publisher.
func (p *Publisher) PublishUpdate(ctx context.Context, u domain.Update) error {
	payload, err := broadcast.Encode(u)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, Channel(u), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", Channel(u), err)
	}
	return nil
}

// PriceKey is the cache key of the latest price of mint.
func PriceKey(mint string) string { return "token:" + mint + ":price" }

// MarketCapKey is the cache key of the latest market cap of mint.
func MarketCapKey(mint string) string { return "token:" + mint + ":mcap" }

// PriceCache stores the latest price and market cap of every traded token.
// Only price updates are cached; other updates are ignored.
type PriceCache struct {
	client goredis.UniversalClient
}

// NewPriceCache creates a PriceCache.
func NewPriceCache(client goredis.UniversalClient) *PriceCache {
	return &PriceCache{client: client}
}

// PublishUpdate implements broadcast.Publisher.
func (c *PriceCache) PublishUpdate(ctx context.Context, u domain.Update) error {
	p, ok := u.(domain.PriceUpdate)
	if !ok {
		return nil
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, PriceKey(p.Mint), strconv.FormatUint(p.Price, 10), PriceTTL)
	pipe.Set(ctx, MarketCapKey(p.Mint), strconv.FormatUint(p.MarketCap, 10), MarketCapTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache price %s: %w", p.Mint, err)
	}
	return nil
}

// Price returns the cached price of mint. ok is false when the entry expired.
func (c *PriceCache) Price(ctx context.Context, mint string) (uint64, bool, error) {
	return c.getUint(ctx, PriceKey(mint))
}

// MarketCap returns the cached market cap of mint.
func (c *PriceCache) MarketCap(ctx context.Context, mint string) (uint64, bool, error) {
	return c.getUint(ctx, MarketCapKey(mint))
}

func (c *PriceCache) getUint(ctx context.Context, key string) (uint64, bool, error) {
	v, err := c.client.Get(ctx, key).Uint64()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// Relay republishes every Redis update into a local Broadcaster.
type Relay struct {
	client goredis.UniversalClient
	target broadcast.Broadcaster
	logger *slog.Logger
}

// NewRelay creates a Relay feeding target.
func NewRelay(client goredis.UniversalClient, target broadcast.Broadcaster, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{client: client, target: target, logger: logger.With("component", "redis-relay")}
}

// Run subscribes and relays until ctx is cancelled or the subscription fails.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, Channels...)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %v: %w", Channels, err)
	}
	r.logger.Info("relay subscribed", "channels", Channels)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.relay(msg)
		}
	}
}

func (r *Relay) relay(msg *goredis.Message) {
	payload := []byte(msg.Payload)
	env, err := broadcast.DecodeEnvelope(payload)
	if err == nil {
		var topic string
		if topic, err = env.Topic(); err == nil {
			r.target.Publish(topic, payload)
			return
		}
	}
	r.logger.Warn("dropping malformed update", "channel", msg.Channel, "err", err)
}

var (
	_ broadcast.Publisher = (*Publisher)(nil)
	_ broadcast.Publisher = (*PriceCache)(nil)
)
