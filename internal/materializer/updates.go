package materializer

import (
	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/pricing"
)

func newTokenUpdate(c *domain.BondingCurve, cfg domain.GlobalConfig) domain.NewTokenUpdate {
	return domain.NewTokenUpdate{
		Token: domain.NewTokenInfo{
			Mint:         c.Mint,
			Name:         c.Name,
			Symbol:       c.Symbol,
			Creator:      c.Creator,
			BondingCurve: c.Address,
			MarketCap:    pricing.MarketCap(c.VirtualSolReserves, c.VirtualTokenReserves, cfg.TotalSupply),
			CreatedAt:    c.CreatedAt,
		},
	}
}

func tradeUpdate(t *domain.Trade) domain.TradeUpdate {
	return domain.TradeUpdate{
		Mint: t.Mint,
		Trade: domain.TradeInfo{
			Signature:   t.Signature,
			Trader:      t.Trader,
			Type:        t.Type,
			SolAmount:   t.SolAmount,
			TokenAmount: t.TokenAmount,
			FeeAmount:   t.FeeAmount,
			Price:       t.Price,
			Timestamp:   t.Timestamp,
		},
	}
}

// priceUpdate snapshots the post-trade curve.
func priceUpdate(c *domain.BondingCurve, cfg domain.GlobalConfig) domain.PriceUpdate {
	return domain.PriceUpdate{
		Mint:                 c.Mint,
		Price:                pricing.SpotPrice(c.VirtualSolReserves, c.VirtualTokenReserves),
		MarketCap:            pricing.MarketCap(c.VirtualSolReserves, c.VirtualTokenReserves, cfg.TotalSupply),
		VirtualSolReserves:   c.VirtualSolReserves,
		VirtualTokenReserves: c.VirtualTokenReserves,
		RealSolReserves:      c.RealSolReserves,
		MigrationProgressBps: pricing.MigrationProgressBps(c.RealSolReserves, cfg.MigrationThresholdLamports),
	}
}
