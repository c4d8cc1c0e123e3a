// Command quote prints a buy or sell quote against a bonding curve using the
// same integer arithmetic the indexer settles trades with.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"openclaw-indexer/internal/config"
	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/logging"
	"openclaw-indexer/internal/pricing"
	"openclaw-indexer/internal/storage/backends"
)

type request struct {
	side         string
	amount       uint64
	virtualSol   uint64
	virtualToken uint64
	feeBps       uint16
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (for -mint and fee)")
	side := flag.String("side", "buy", "buy (amount in lamports) or sell (amount in token base units)")
	amount := flag.String("amount", "", "Amount to trade, integer base units")
	mint := flag.String("mint", "", "Read reserves of this mint from the configured store")
	virtualSol := flag.Uint64("virtual-sol", domain.DefaultInitialVirtualSolReserves, "Virtual SOL reserves in lamports")
	virtualToken := flag.Uint64("virtual-token", domain.DefaultInitialVirtualTokenReserves, "Virtual token reserves in base units")
	feeBps := flag.Uint("fee-bps", 0, "Fee in basis points (default from config)")
	flag.Parse()

	if err := run(os.Stdout, *configPath, *side, *amount, *mint, *virtualSol, *virtualToken, *feeBps); err != nil {
		fmt.Fprintln(os.Stderr, "quote:", err)
		os.Exit(1)
	}
}

func run(w io.Writer, configPath, side, amount, mint string, virtualSol, virtualToken uint64, feeBps uint) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	n, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid -amount %q: %w", amount, err)
	}
	req := request{
		side:         strings.ToLower(side),
		amount:       n,
		virtualSol:   virtualSol,
		virtualToken: virtualToken,
		feeBps:       cfg.Program.FeeBps,
	}
	if feeBps != 0 {
		if feeBps > uint(domain.MaxFeeBps) {
			return fmt.Errorf("-fee-bps %d exceeds max %d", feeBps, domain.MaxFeeBps)
		}
		req.feeBps = uint16(feeBps)
	}

	if mint != "" {
		logger, closer := logging.New(logging.Options{Level: "error", Stdout: io.Discard})
		defer closer.Close()
		ctx := context.Background()
		backend, err := backends.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer backend.Close()
		curve, err := backend.State.GetToken(ctx, mint)
		if err != nil {
			return fmt.Errorf("get token %s: %w", mint, err)
		}
		if curve.Migrated {
			return fmt.Errorf("token %s has migrated, the curve no longer trades", mint)
		}
		req.virtualSol, req.virtualToken = curve.VirtualSolReserves, curve.VirtualTokenReserves
	}

	return quote(w, req)
}

func quote(w io.Writer, r request) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	before := pricing.SpotPrice(r.virtualSol, r.virtualToken)
	switch r.side {
	case "buy":
		q, err := pricing.QuoteBuy(r.amount, r.virtualSol, r.virtualToken, r.feeBps)
		if err != nil {
			return err
		}
		impact, err := pricing.BuyImpactBps(r.amount, r.virtualSol, r.virtualToken, r.feeBps)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "pay\t%s SOL\t(%d lamports)\n", pricing.FormatSOL(q.SolIn), q.SolIn)
		fmt.Fprintf(tw, "fee\t%s SOL\t(%d lamports, %d bps)\n", pricing.FormatSOL(q.Fee), q.Fee, r.feeBps)
		fmt.Fprintf(tw, "receive\t%s tokens\t(%d base units)\n", pricing.FormatTokens(q.TokensOut, domain.TokenDecimals), q.TokensOut)
		printAfter(tw, before, q.NewVirtualSol, q.NewVirtualToken, impact)
	case "sell":
		q, err := pricing.QuoteSell(r.amount, r.virtualSol, r.virtualToken, r.feeBps)
		if err != nil {
			return err
		}
		impact, err := pricing.SellImpactBps(r.amount, r.virtualSol, r.virtualToken, r.feeBps)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "sell\t%s tokens\t(%d base units)\n", pricing.FormatTokens(q.TokensIn, domain.TokenDecimals), q.TokensIn)
		fmt.Fprintf(tw, "fee\t%s SOL\t(%d lamports, %d bps)\n", pricing.FormatSOL(q.Fee), q.Fee, r.feeBps)
		fmt.Fprintf(tw, "receive\t%s SOL\t(%d lamports)\n", pricing.FormatSOL(q.SolOut), q.SolOut)
		printAfter(tw, before, q.NewVirtualSol, q.NewVirtualToken, impact)
	default:
		return errors.New("-side must be buy or sell")
	}
	return nil
}

func printAfter(w io.Writer, before, sol, token uint64, impact int64) {
	fmt.Fprintf(w, "price before\t%s SOL\t\n", pricing.FormatPrice(before))
	fmt.Fprintf(w, "price after\t%s SOL\t\n", pricing.FormatPrice(pricing.SpotPrice(sol, token)))
	fmt.Fprintf(w, "price impact\t%s\t\n", pricing.FormatImpact(impact))
}
