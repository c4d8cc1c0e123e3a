// Command chart prints OHLCV candles of a mint from the ClickHouse tick store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"openclaw-indexer/internal/config"
	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/pricing"
	"openclaw-indexer/internal/storage/backends"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	mint := flag.String("mint", "", "Token mint")
	resolution := flag.Duration("resolution", time.Minute, "Candle width")
	window := flag.Duration("window", 24*time.Hour, "How far back to read")
	flag.Parse()

	if err := run(*configPath, *mint, *resolution, *window); err != nil {
		fmt.Fprintln(os.Stderr, "chart:", err)
		os.Exit(1)
	}
}

func run(configPath, mint string, resolution, window time.Duration) error {
	if mint == "" {
		return fmt.Errorf("-mint is required")
	}
	if resolution < time.Second {
		return fmt.Errorf("-resolution must be at least 1s")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ticks, closeTicks, err := backends.OpenTicks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTicks()
	if ticks == nil {
		return fmt.Errorf("storage.clickhouse_dsn is not configured")
	}

	to := time.Now()
	candles, err := ticks.Candles(ctx, mint, resolution.Milliseconds(), to.Add(-window).UnixMilli(), to.UnixMilli())
	if err != nil {
		return err
	}
	printCandles(os.Stdout, candles)
	return nil
}

func printCandles(w io.Writer, candles []domain.Candle) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "time\topen\thigh\tlow\tclose\tvolume SOL\ttrades")
	for _, c := range candles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			time.UnixMilli(c.Time).UTC().Format(time.RFC3339),
			pricing.FormatPrice(c.Open), pricing.FormatPrice(c.High), pricing.FormatPrice(c.Low), pricing.FormatPrice(c.Close),
			pricing.FormatSOL(c.Volume), c.Trades)
	}
}
