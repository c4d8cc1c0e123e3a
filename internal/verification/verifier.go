// Package verification replays the stored trade history and checks it against
// the materialized curves and platform counters.
// Curve reserves are recomputed from the initial virtual reserves plus the sum
// of all trade deltas, so the check does not depend on the order trades were applied.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/storage"
)

// ErrCursorStalled is returned when a store hands back a row that does not
// advance the list cursor, so the history cannot be walked completely.
var ErrCursorStalled = errors.New("list cursor did not advance")

// FieldDivergence is a mismatch between a stored value and its replayed value.
type FieldDivergence struct {
	Field    string
	Expected uint64 // stored
	Actual   uint64 // replayed
}

// CurveResult is the verification of a single curve.
type CurveResult struct {
	Mint        string
	Trades      int
	Match       bool
	Divergences []FieldDivergence
	// Err is set when the trade history cannot be replayed on top of the initial reserves.
	Err error
}

// Report is the result of a full verification run.
type Report struct {
	Tokens          int
	MatchedTokens   int
	DivergentTokens int
	Divergent       []CurveResult // only curves that did not match

	StoredStats   domain.PlatformStats
	ReplayedStats domain.PlatformStats
	// StatsDivergences lists counters where stored and replayed differ.
	StatsDivergences []FieldDivergence
}

// Consistent reports whether nothing diverged.
func (r *Report) Consistent() bool {
	return r.DivergentTokens == 0 && len(r.StatsDivergences) == 0
}

// Store is the subset of storage.StateStore the verifier reads and repairs.
type Store interface {
	ListTokens(ctx context.Context, q storage.TokenQuery) ([]*domain.BondingCurve, error)
	ListTrades(ctx context.Context, q storage.TradeQuery) ([]*domain.Trade, error)
	GetStats(ctx context.Context) (domain.PlatformStats, error)
	IncrementStats(ctx context.Context, d domain.StatsDelta) error
}

// Options configures a Verifier.
type Options struct {
	Store Store
	// Config supplies the initial virtual reserves. Defaults to domain.DefaultGlobalConfig.
	Config *domain.GlobalConfig
	// PageSize bounds list queries. Default: storage.DefaultListLimit.
	PageSize int
	Logger   *slog.Logger
}

// Verifier recomputes curves and stats from the trade history.
type Verifier struct {
	store    Store
	cfg      domain.GlobalConfig
	pageSize int
	logger   *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(opts Options) (*Verifier, error) {
	if opts.Store == nil {
		return nil, errors.New("verification: store is required")
	}
	cfg := domain.DefaultGlobalConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("verification: %w", err)
	}
	if opts.PageSize <= 0 || opts.PageSize > storage.DefaultListLimit {
		opts.PageSize = storage.DefaultListLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Verifier{
		store:    opts.Store,
		cfg:      cfg,
		pageSize: opts.PageSize,
		logger:   opts.Logger.With("component", "verification"),
	}, nil
}

// Verify walks every token and its trades and compares against stored state.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	var (
		report   Report
		replayed domain.PlatformStats
	)

	err := v.eachToken(ctx, func(curve *domain.BondingCurve) error {
		trades, err := v.tradesOf(ctx, curve.Mint)
		if err != nil {
			return err
		}

		report.Tokens++
		replayed.TotalTokens++
		if curve.Migrated {
			replayed.TotalMigrated++
		}
		for _, t := range trades {
			replayed.TotalTrades++
			replayed.TotalVolume += t.Volume()
		}

		res := v.VerifyCurve(curve, trades)
		if res.Match {
			report.MatchedTokens++
			return nil
		}
		report.DivergentTokens++
		report.Divergent = append(report.Divergent, res)
		v.logger.Warn("curve diverges from trade history",
			"mint", res.Mint, "trades", res.Trades, "divergences", len(res.Divergences), "err", res.Err)
		return nil
	})
	if err != nil {
		return nil, err
	}

	stored, err := v.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	report.StoredStats = stored
	report.ReplayedStats = replayed
	report.StatsDivergences = CompareStats(stored, replayed)

	v.logger.Info("verification finished",
		"tokens", report.Tokens, "divergent", report.DivergentTokens, "stats_divergences", len(report.StatsDivergences))
	return &report, nil
}

// Repair brings the stored counters up to the replayed values.
// Counters can only grow: a stored counter above its replayed value is reported, not lowered.
func (v *Verifier) Repair(ctx context.Context, r *Report) (domain.StatsDelta, error) {
	delta := r.StoredStats.Missing(r.ReplayedStats)
	for _, d := range r.StatsDivergences {
		if d.Expected > d.Actual {
			v.logger.Warn("stored counter above replayed value, left unchanged",
				"field", d.Field, "stored", d.Expected, "replayed", d.Actual)
		}
	}
	if delta.IsZero() {
		return delta, nil
	}
	if err := v.store.IncrementStats(ctx, delta); err != nil {
		return domain.StatsDelta{}, fmt.Errorf("increment stats: %w", err)
	}
	v.logger.Info("stats repaired",
		"volume", delta.Volume, "trades", delta.Trades, "tokens", delta.Tokens, "migrated", delta.Migrated)
	return delta, nil
}

// VerifyCurve compares curve with the replay of trades.
func (v *Verifier) VerifyCurve(curve *domain.BondingCurve, trades []*domain.Trade) CurveResult {
	res := CurveResult{Mint: curve.Mint, Trades: len(trades)}

	want, err := ReplayReserves(v.cfg, trades)
	if err != nil {
		res.Err = err
		return res
	}
	res.Divergences = CompareCurves(curve, want)
	res.Match = len(res.Divergences) == 0
	return res
}

// ReplayReserves computes the reserves of a curve created with cfg after trades.
// Inflows and outflows are summed separately and netted once.
func ReplayReserves(cfg domain.GlobalConfig, trades []*domain.Trade) (*domain.BondingCurve, error) {
	var solIn, solOut, tokIn, tokOut uint64
	for _, t := range trades {
		d, err := domain.DeltaForTrade(t.Type, t.SolAmount, t.TokenAmount, t.FeeAmount)
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.Signature, err)
		}
		var ok bool
		switch d.Direction {
		case domain.TradeBuy:
			solIn, ok = add(solIn, d.Sol)
			if ok {
				tokOut, ok = add(tokOut, d.Tokens)
			}
		case domain.TradeSell:
			solOut, ok = add(solOut, d.Sol)
			if ok {
				tokIn, ok = add(tokIn, d.Tokens)
			}
		}
		if !ok {
			return nil, fmt.Errorf("trade %s: %w", t.Signature, domain.ErrReserveUnderflow)
		}
	}

	if solOut > solIn || tokIn > tokOut {
		return nil, fmt.Errorf("outflows exceed inflows: %w", domain.ErrReserveUnderflow)
	}
	netSol := solIn - solOut
	sold := tokOut - tokIn
	if netSol > math.MaxUint64-cfg.InitialVirtualSolReserves || sold > cfg.InitialVirtualTokenReserves {
		return nil, fmt.Errorf("net flow does not fit initial reserves: %w", domain.ErrReserveUnderflow)
	}

	return &domain.BondingCurve{
		VirtualSolReserves:   cfg.InitialVirtualSolReserves + netSol,
		VirtualTokenReserves: cfg.InitialVirtualTokenReserves - sold,
		RealSolReserves:      netSol,
		RealTokenReserves:    cfg.InitialVirtualTokenReserves - sold,
		TokensSold:           sold,
		TradeCount:           uint64(len(trades)),
	}, nil
}

// CompareCurves returns the reserve fields where stored differs from replayed.
func CompareCurves(stored, replayed *domain.BondingCurve) []FieldDivergence {
	var out []FieldDivergence
	check := func(field string, s, r uint64) {
		if s != r {
			out = append(out, FieldDivergence{Field: field, Expected: s, Actual: r})
		}
	}
	check("VirtualSolReserves", stored.VirtualSolReserves, replayed.VirtualSolReserves)
	check("VirtualTokenReserves", stored.VirtualTokenReserves, replayed.VirtualTokenReserves)
	check("RealSolReserves", stored.RealSolReserves, replayed.RealSolReserves)
	check("RealTokenReserves", stored.RealTokenReserves, replayed.RealTokenReserves)
	check("TokensSold", stored.TokensSold, replayed.TokensSold)
	check("TradeCount", stored.TradeCount, replayed.TradeCount)
	return out
}

// CompareStats returns the counters where stored differs from replayed.
func CompareStats(stored, replayed domain.PlatformStats) []FieldDivergence {
	var out []FieldDivergence
	check := func(field string, s, r uint64) {
		if s != r {
			out = append(out, FieldDivergence{Field: field, Expected: s, Actual: r})
		}
	}
	check("TotalVolume", stored.TotalVolume, replayed.TotalVolume)
	check("TotalTrades", stored.TotalTrades, replayed.TotalTrades)
	check("TotalTokens", stored.TotalTokens, replayed.TotalTokens)
	check("TotalMigrated", stored.TotalMigrated, replayed.TotalMigrated)
	return out
}

func add(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}
