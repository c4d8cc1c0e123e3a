package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"openclaw-indexer/internal/broadcast"
	"openclaw-indexer/internal/domain"
)

const testMint = "So11111111111111111111111111111111111111112"

func TestChannel(t *testing.T) {
	assert.Equal(t, ChannelPriceUpdates, Channel(domain.PriceUpdate{}))
	assert.Equal(t, ChannelTradeUpdates, Channel(domain.TradeUpdate{}))
	assert.Equal(t, ChannelNewTokens, Channel(domain.NewTokenUpdate{}))
	assert.Equal(t, ChannelMigrations, Channel(domain.MigrationUpdate{}))
	assert.Equal(t, "token:abc:price", PriceKey("abc"))
	assert.Equal(t, "token:abc:mcap", MarketCapKey("abc"))
}

// setupRedis starts a Redis container and returns a connected client.
func setupRedis(t *testing.T) *goredis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewClient(ctx, Config{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPriceCache(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	cache := NewPriceCache(client)

	_, ok, err := cache.Price(ctx, testMint)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.PublishUpdate(ctx, domain.TradeUpdate{Mint: testMint}))
	require.NoError(t, cache.PublishUpdate(ctx, domain.PriceUpdate{Mint: testMint, Price: 31, MarketCap: 31_000_000_000}))

	price, ok, err := cache.Price(ctx, testMint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(31), price)

	mcap, ok, err := cache.MarketCap(ctx, testMint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(31_000_000_000), mcap)

	ttl, err := client.TTL(ctx, PriceKey(testMint)).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, PriceTTL)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestPublisherRelayRoundTrip(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := broadcast.NewHub(broadcast.HubOptions{})
	tokenSub := hub.Subscribe(domain.TokenTopic(testMint))
	newSub := hub.Subscribe(domain.TopicNewTokens)

	relay := NewRelay(client, hub, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		counts, err := client.PubSubNumSub(ctx, Channels...).Result()
		if err != nil {
			return false
		}
		for _, ch := range Channels {
			if counts[ch] == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	pub := NewPublisher(client)
	require.NoError(t, pub.PublishUpdate(ctx, domain.TradeUpdate{Mint: testMint, Trade: domain.TradeInfo{Signature: "sig-1"}}))
	require.NoError(t, pub.PublishUpdate(ctx, domain.NewTokenUpdate{Token: domain.NewTokenInfo{Mint: testMint}}))
	require.NoError(t, client.Publish(ctx, ChannelTradeUpdates, "garbage").Err())

	select {
	case msg := <-tokenSub.C():
		var got map[string]any
		require.NoError(t, json.Unmarshal(msg, &got))
		assert.Equal(t, "trade", got["type"])
	case <-time.After(5 * time.Second):
		t.Fatal("trade update not relayed")
	}
	select {
	case msg := <-newSub.C():
		env, err := broadcast.DecodeEnvelope(msg)
		require.NoError(t, err)
		assert.Equal(t, domain.UpdateNewToken, env.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("new token update not relayed")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
