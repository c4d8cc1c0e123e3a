package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"openclaw-indexer/internal/broadcast"
	"openclaw-indexer/internal/broadcast/kafka"
	"openclaw-indexer/internal/broadcast/redis"
	"openclaw-indexer/internal/config"
	"openclaw-indexer/internal/ingestion"
	"openclaw-indexer/internal/logging"
	"openclaw-indexer/internal/logparse"
	"openclaw-indexer/internal/materializer"
	"openclaw-indexer/internal/observability"
	"openclaw-indexer/internal/solana"
	"openclaw-indexer/internal/storage/backends"
)

// Run modes.
const (
	modeAll    = "all"    // ingest and push from this process
	modeIngest = "ingest" // ingest and publish to redis/kafka only
	modePush   = "push"   // serve WebSocket clients from redis or kafka
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	mode := flag.String("mode", modeAll, "Run mode: all, ingest or push")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage regardless of config")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides config, \"-\" disables)")
	wsAddr := flag.String("ws-addr", "", "WebSocket push address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *useMemory {
		cfg.Storage.Backend = config.BackendMemory
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if cfg.Metrics.Addr == "-" {
		cfg.Metrics.Addr = ""
	}
	if *wsAddr != "" {
		cfg.Broadcast.WSAddr = *wsAddr
	}

	logger, logCloser := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		case <-time.After(shutdownTimeout + 5*time.Second):
			logger.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, *mode, logger)
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("indexer failed", "err", err)
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, mode string, logger *slog.Logger) error {
	switch mode {
	case modeAll, modeIngest, modePush:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	health := &observability.Health{}
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: observability.NewMux(health), ReadHeaderTimeout: 5 * time.Second}
		go serve(logger, "metrics", srv)
		defer shutdownServer(srv)
	}

	var redisClient *goredis.Client
	if cfg.Broadcast.Redis.Addr != "" {
		c, err := redis.NewClient(ctx, redis.Config{
			Addr:     cfg.Broadcast.Redis.Addr,
			Password: cfg.Broadcast.Redis.Password,
			DB:       cfg.Broadcast.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer c.Close()
		redisClient = c
	}

	if mode == modePush {
		return runPush(ctx, cfg, redisClient, logger)
	}
	return runIngest(ctx, cfg, mode == modeAll, redisClient, health, logger)
}

func runIngest(ctx context.Context, cfg *config.Config, push bool, redisClient *goredis.Client, health *observability.Health, logger *slog.Logger) error {
	backend, err := backends.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	ticks, closeTicks, err := backends.OpenTicks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTicks()

	// Slow sinks run behind Async queues so they never stall the applier.
	var (
		publishers broadcast.Multi
		queues     []*broadcast.Async
	)
	async := func(name string, next broadcast.Publisher) {
		q := broadcast.NewAsync(next, broadcast.AsyncOptions{Name: name, QueueSize: cfg.Broadcast.QueueSize, Logger: logger})
		queues = append(queues, q)
		publishers = append(publishers, q)
	}

	var hub *broadcast.Hub
	if push {
		hub = broadcast.NewHub(broadcast.HubOptions{Logger: logger})
		publishers = append(publishers, hub)
	}
	if redisClient != nil {
		async("redis", redis.NewPublisher(redisClient))
		async("redis-cache", redis.NewPriceCache(redisClient))
	}
	if len(cfg.Broadcast.Kafka.Brokers) > 0 {
		kp := kafka.NewPublisher(kafka.Config{Brokers: cfg.Broadcast.Kafka.Brokers, Topic: cfg.Broadcast.Kafka.Topic})
		defer kp.Close()
		async("kafka", kp)
	}

	rpc := solana.NewHTTPClient(cfg.Solana.RPCURL, solana.WithCommitment(cfg.Solana.Commitment))
	opts := materializer.Options{
		Store:           backend.State,
		Resolver:        materializer.NewRPCResolver(rpc),
		Config:          materializer.NewConfigHolder(cfg.Program),
		ProgramID:       cfg.Solana.ProgramID,
		Publisher:       publishers,
		ResolveTimeout:  cfg.Ingestion.ResolveTimeout,
		MaxStoreRetries: cfg.Ingestion.MaxStoreRetries,
		Logger:          logger,
	}
	if ticks != nil {
		opts.Recorder = ticks
	}
	m, err := materializer.New(opts)
	if err != nil {
		return err
	}

	dial := func(ctx context.Context) (solana.WSClient, error) {
		ws, err := solana.NewWSClient(ctx, cfg.Solana.WSURL, &solana.WSClientConfig{Commitment: cfg.Solana.Commitment, Logger: logger})
		if err != nil {
			return nil, err
		}
		return ws, nil
	}

	svc, err := ingestion.NewService(ingestion.ServiceOptions{
		Source:             ingestion.NewWSLogSource(dial, cfg.Solana.ProgramID),
		Parser:             logparse.New(cfg.Solana.ProgramID),
		Processor:          m,
		Checkpoints:        backend.Checkpoints,
		CheckpointInterval: cfg.Ingestion.CheckpointInterval,
		ResolveConcurrency: cfg.Ingestion.ResolveConcurrency,
		Lookahead:          cfg.Ingestion.Lookahead,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	var wsServer *broadcast.WSServer
	if hub != nil {
		wsServer = broadcast.NewWSServer(hub, broadcast.WSServerOptions{Logger: logger})
		srv := &http.Server{Addr: cfg.Broadcast.WSAddr, Handler: wsServer, ReadHeaderTimeout: 5 * time.Second}
		go serve(logger, "websocket", srv)
		defer shutdownServer(srv)
	}

	if err := svc.Start(ctx); err != nil {
		return err
	}
	logger.Info("indexer running", "program_id", cfg.Solana.ProgramID, "storage", backend.Name, "push", push)

	var runErr error
	select {
	case <-ctx.Done():
	case <-svc.Done():
		runErr = svc.Err()
		health.Fail(fmt.Sprintf("ingestion stopped: %v", runErr))
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	for _, q := range queues {
		if err := q.Close(stopCtx); err != nil {
			logger.Warn("flush publisher", "err", err)
		}
	}
	if wsServer != nil {
		wsServer.Close()
	}
	if hub != nil {
		hub.Close()
	}

	stats := svc.Stats()
	logger.Info("ingestion summary",
		"received", stats.Received, "failed", stats.Failed, "mismatches", stats.Mismatches,
		"batches", stats.Batches, "applied", stats.Applied)
	return runErr
}

// runPush serves WebSocket clients from updates published by ingest-only instances.
func runPush(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, logger *slog.Logger) error {
	hub := broadcast.NewHub(broadcast.HubOptions{Logger: logger})
	defer hub.Close()

	g, gctx := errgroup.WithContext(ctx)
	switch {
	case redisClient != nil:
		relay := redis.NewRelay(redisClient, hub, logger)
		g.Go(func() error { return relay.Run(gctx) })
	case len(cfg.Broadcast.Kafka.Brokers) > 0:
		groupID := cfg.Broadcast.Kafka.GroupID
		if groupID == "" {
			host, _ := os.Hostname()
			groupID = "openclaw-push-" + host
		}
		consumer := kafka.NewConsumer(kafka.Config{
			Brokers: cfg.Broadcast.Kafka.Brokers,
			Topic:   cfg.Broadcast.Kafka.Topic,
			GroupID: groupID,
		}, hub, logger)
		g.Go(func() error { return consumer.Run(gctx) })
	default:
		return errors.New("push mode needs broadcast.redis.addr or broadcast.kafka.brokers")
	}

	wsServer := broadcast.NewWSServer(hub, broadcast.WSServerOptions{Logger: logger})
	defer wsServer.Close()
	srv := &http.Server{Addr: cfg.Broadcast.WSAddr, Handler: wsServer, ReadHeaderTimeout: 5 * time.Second}
	go serve(logger, "websocket", srv)
	defer shutdownServer(srv)

	logger.Info("push server running", "addr", cfg.Broadcast.WSAddr)
	return g.Wait()
}

func serve(logger *slog.Logger, name string, srv *http.Server) {
	logger.Info("http server listening", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "server", name, "err", err)
	}
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
