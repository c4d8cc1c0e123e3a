package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openclaw-indexer/internal/domain"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, domain.DefaultGlobalConfig(), cfg.Program)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "indexer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
solana:
  rpc_url: https://api.devnet.solana.com
  ws_url: wss://api.devnet.solana.com
program:
  fee_bps: 250
storage:
  backend: postgres
  postgres_dsn: postgres://file
ingestion:
  checkpoint_interval: 2s
broadcast:
  kafka:
    brokers: [k1:9092]
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENCLAW_REDIS_ADDR=redis:6379\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("OPENCLAW_REDIS_ADDR") })

	t.Setenv("OPENCLAW_POSTGRES_DSN", "postgres://env")
	t.Setenv("OPENCLAW_LOOKAHEAD", "128")
	t.Setenv("OPENCLAW_KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.devnet.solana.com", cfg.Solana.RPCURL)
	assert.Equal(t, uint16(250), cfg.Program.FeeBps)
	// Unset program fields keep their defaults.
	assert.Equal(t, domain.DefaultInitialVirtualSolReserves, cfg.Program.InitialVirtualSolReserves)
	assert.Equal(t, "postgres://env", cfg.Storage.PostgresDSN)
	assert.Equal(t, 2*time.Second, cfg.Ingestion.CheckpointInterval)
	assert.Equal(t, 128, cfg.Ingestion.Lookahead)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Broadcast.Kafka.Brokers)
	assert.Equal(t, "redis:6379", cfg.Broadcast.Redis.Addr)
}

func TestLoad_NoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Solana, cfg.Solana)
}

func TestLoad_BadEnvNumber(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENCLAW_REDIS_DB", "two")
	_, err := Load("")
	assert.ErrorContains(t, err, "OPENCLAW_REDIS_DB")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad program id", func(c *Config) { c.Solana.ProgramID = "not-base58!" }},
		{"bad rpc url", func(c *Config) { c.Solana.RPCURL = "ftp://x" }},
		{"bad ws url", func(c *Config) { c.Solana.WSURL = "http://x" }},
		{"fee above cap", func(c *Config) { c.Program.FeeBps = domain.MaxFeeBps + 1 }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{"bolt without path", func(c *Config) { c.Storage.Backend = BackendBolt; c.Storage.BoltPath = "" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"zero lookahead", func(c *Config) { c.Ingestion.Lookahead = 0 }},
		{"kafka without topic", func(c *Config) { c.Broadcast.Kafka.Brokers = []string{"k"}; c.Broadcast.Kafka.Topic = "" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
