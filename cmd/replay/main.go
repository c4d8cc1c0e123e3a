// Command replay feeds recorded program logs through the ingestion pipeline.
// Input is JSON lines, one logsNotification value per line:
//
//	{"signature":"...","slot":123,"logs":["Program log: ..."],"err":null}
//
// Reapplying a file is safe: every event is keyed by its signature.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"openclaw-indexer/internal/config"
	"openclaw-indexer/internal/ingestion"
	"openclaw-indexer/internal/logging"
	"openclaw-indexer/internal/logparse"
	"openclaw-indexer/internal/materializer"
	"openclaw-indexer/internal/solana"
	"openclaw-indexer/internal/storage/backends"
)

type record struct {
	Signature string   `json:"signature"`
	Slot      int64    `json:"slot"`
	Logs      []string `json:"logs"`
	Err       any      `json:"err"`
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	input := flag.String("input", "-", "JSON lines file, - for stdin")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage regardless of config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *useMemory {
		cfg.Storage.Backend = config.BackendMemory
	}
	logger, closer := logging.New(logging.Options{Level: cfg.Logging.Level, Stdout: os.Stderr})
	defer closer.Close()

	in := os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			logger.Error("open input", "err", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stats, err := replay(ctx, cfg, in, logger)
	if err != nil {
		logger.Error("replay failed", "err", err)
		os.Exit(1)
	}
	logger.Info("replay finished",
		"received", stats.Received, "failed", stats.Failed, "mismatches", stats.Mismatches, "applied", stats.Applied)
}

func replay(ctx context.Context, cfg *config.Config, in io.Reader, logger *slog.Logger) (ingestion.Stats, error) {
	backend, err := backends.Open(ctx, cfg, logger)
	if err != nil {
		return ingestion.Stats{}, err
	}
	defer backend.Close()

	m, err := materializer.New(materializer.Options{
		Store:           backend.State,
		Resolver:        materializer.NewRPCResolver(solana.NewHTTPClient(cfg.Solana.RPCURL, solana.WithCommitment(cfg.Solana.Commitment))),
		Config:          materializer.NewConfigHolder(cfg.Program),
		ProgramID:       cfg.Solana.ProgramID,
		ResolveTimeout:  cfg.Ingestion.ResolveTimeout,
		MaxStoreRetries: cfg.Ingestion.MaxStoreRetries,
		Logger:          logger,
	})
	if err != nil {
		return ingestion.Stats{}, err
	}

	src := ingestion.NewChannelSource(cfg.Ingestion.Lookahead)
	svc, err := ingestion.NewService(ingestion.ServiceOptions{
		Source:             src,
		Parser:             logparse.New(cfg.Solana.ProgramID),
		Processor:          m,
		Checkpoints:        backend.Checkpoints,
		ResolveConcurrency: cfg.Ingestion.ResolveConcurrency,
		Lookahead:          cfg.Ingestion.Lookahead,
		Logger:             logger,
	})
	if err != nil {
		return ingestion.Stats{}, err
	}
	if err := svc.Start(ctx); err != nil {
		return ingestion.Stats{}, err
	}

	feedErr := make(chan error, 1)
	go func() {
		defer src.End()
		feedErr <- feed(in, src)
	}()

	select {
	case <-svc.Done():
	case <-ctx.Done():
		svc.Stop(context.WithoutCancel(ctx))
	}
	if err := svc.Err(); err != nil && !errors.Is(err, ingestion.ErrSourceClosed) {
		return svc.Stats(), err
	}
	select {
	case err := <-feedErr:
		return svc.Stats(), err
	default:
		return svc.Stats(), ctx.Err()
	}
}

// feed pushes every record of in to src. Push returns immediately once the service releases src.
func feed(in io.Reader, src *ingestion.ChannelSource) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		src.Push(solana.LogNotification{Signature: r.Signature, Slot: r.Slot, Logs: r.Logs, Err: r.Err})
	}
	return sc.Err()
}
