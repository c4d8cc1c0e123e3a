// Package config loads indexer settings from a YAML file, a .env file and
// OPENCLAW_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/solana"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// DefaultProgramID is the program the indexer watches when none is configured.
const DefaultProgramID = "11111111111111111111111111111111"

// Config holds every setting of the indexer binaries.
type Config struct {
	Solana struct {
		RPCURL     string `yaml:"rpc_url"`
		WSURL      string `yaml:"ws_url"`
		Commitment string `yaml:"commitment"`
		ProgramID  string `yaml:"program_id"`
	} `yaml:"solana"`

	// Program holds the curve parameters the program was initialized with.
	Program domain.GlobalConfig `yaml:"program"`

	Storage struct {
		Backend     string `yaml:"backend"`
		PostgresDSN string `yaml:"postgres_dsn"`
		BoltPath    string `yaml:"bolt_path"`
		// ClickHouseDSN enables the chart tick store. Empty disables it.
		ClickHouseDSN string `yaml:"clickhouse_dsn"`
	} `yaml:"storage"`

	Ingestion struct {
		ResolveConcurrency int           `yaml:"resolve_concurrency"`
		Lookahead          int           `yaml:"lookahead"`
		ResolveTimeout     time.Duration `yaml:"resolve_timeout"`
		MaxStoreRetries    int           `yaml:"max_store_retries"`
		CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	} `yaml:"ingestion"`

	Broadcast struct {
		WSAddr    string `yaml:"ws_addr"`
		QueueSize int    `yaml:"queue_size"`
		Redis     struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
			// GroupID is the consumer group of push-only instances. Each instance
			// needs every update, so it should be unique per instance.
			GroupID string `yaml:"group_id"`
		} `yaml:"kafka"`
	} `yaml:"broadcast"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
		// File enables a rotating JSON log file next to stdout.
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// Default returns a config that runs against a local validator with in-memory storage.
func Default() *Config {
	var c Config
	c.Solana.RPCURL = "http://127.0.0.1:8899"
	c.Solana.WSURL = "ws://127.0.0.1:8900"
	c.Solana.Commitment = solana.DefaultCommitment
	c.Solana.ProgramID = DefaultProgramID
	c.Program = domain.DefaultGlobalConfig()
	c.Storage.Backend = BackendMemory
	c.Storage.BoltPath = "openclaw.db"
	c.Ingestion.ResolveConcurrency = 4
	c.Ingestion.Lookahead = 64
	c.Ingestion.ResolveTimeout = 10 * time.Second
	c.Ingestion.MaxStoreRetries = 5
	c.Ingestion.CheckpointInterval = 5 * time.Second
	c.Broadcast.WSAddr = ":8081"
	c.Broadcast.QueueSize = 1024
	c.Broadcast.Kafka.Topic = "openclaw.updates"
	c.Metrics.Addr = ":9090"
	c.Logging.Level = "info"
	c.Logging.MaxSizeMB = 10
	c.Logging.MaxBackups = 3
	c.Logging.MaxAgeDays = 28
	return &c
}

// Load builds the config from defaults, the YAML file at path (optional),
// a .env file in the working directory (optional) and the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.overrideWithEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for values the indexer cannot run with.
func (c *Config) Validate() error {
	if _, err := solana.DecodePublicKey(c.Solana.ProgramID); err != nil {
		return fmt.Errorf("solana.program_id: %w", err)
	}
	if !hasScheme(c.Solana.RPCURL, "http://", "https://") {
		return fmt.Errorf("invalid solana.rpc_url: %q", c.Solana.RPCURL)
	}
	if !hasScheme(c.Solana.WSURL, "ws://", "wss://") {
		return fmt.Errorf("invalid solana.ws_url: %q", c.Solana.WSURL)
	}
	if err := c.Program.Validate(); err != nil {
		return fmt.Errorf("program: %w", err)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres backend")
		}
	case BackendBolt:
		if c.Storage.BoltPath == "" {
			return errors.New("storage.bolt_path is required for the bolt backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	if c.Ingestion.ResolveConcurrency <= 0 || c.Ingestion.Lookahead <= 0 {
		return errors.New("ingestion.resolve_concurrency and ingestion.lookahead must be positive")
	}
	if c.Ingestion.MaxStoreRetries < 0 {
		return errors.New("ingestion.max_store_retries must not be negative")
	}
	if len(c.Broadcast.Kafka.Brokers) > 0 && c.Broadcast.Kafka.Topic == "" {
		return errors.New("broadcast.kafka.topic is required when brokers are set")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}

// overrideWithEnv applies OPENCLAW_* variables found by lookup.
func (c *Config) overrideWithEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("OPENCLAW_RPC_URL", &c.Solana.RPCURL)
	str("OPENCLAW_WS_URL", &c.Solana.WSURL)
	str("OPENCLAW_COMMITMENT", &c.Solana.Commitment)
	str("OPENCLAW_PROGRAM_ID", &c.Solana.ProgramID)
	str("OPENCLAW_STORAGE_BACKEND", &c.Storage.Backend)
	str("OPENCLAW_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("OPENCLAW_BOLT_PATH", &c.Storage.BoltPath)
	str("OPENCLAW_CLICKHOUSE_DSN", &c.Storage.ClickHouseDSN)
	str("OPENCLAW_WS_ADDR", &c.Broadcast.WSAddr)
	str("OPENCLAW_REDIS_ADDR", &c.Broadcast.Redis.Addr)
	str("OPENCLAW_REDIS_PASSWORD", &c.Broadcast.Redis.Password)
	str("OPENCLAW_KAFKA_TOPIC", &c.Broadcast.Kafka.Topic)
	str("OPENCLAW_KAFKA_GROUP_ID", &c.Broadcast.Kafka.GroupID)
	str("OPENCLAW_METRICS_ADDR", &c.Metrics.Addr)
	str("OPENCLAW_LOG_LEVEL", &c.Logging.Level)
	str("OPENCLAW_LOG_FILE", &c.Logging.File)

	if v, ok := lookup("OPENCLAW_KAFKA_BROKERS"); ok && v != "" {
		c.Broadcast.Kafka.Brokers = splitList(v)
	}
	if err := num("OPENCLAW_REDIS_DB", &c.Broadcast.Redis.DB); err != nil {
		return err
	}
	if err := num("OPENCLAW_RESOLVE_CONCURRENCY", &c.Ingestion.ResolveConcurrency); err != nil {
		return err
	}
	return num("OPENCLAW_LOOKAHEAD", &c.Ingestion.Lookahead)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hasScheme(s string, schemes ...string) bool {
	for _, scheme := range schemes {
		if strings.HasPrefix(s, scheme) {
			return true
		}
	}
	return false
}
