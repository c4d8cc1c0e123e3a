package domain

// Candle is one OHLCV bucket of a token's trade prices.
type Candle struct {
	Time   int64  // bucket start, Unix timestamp in milliseconds
	Open   uint64 // lamports per whole token
	High   uint64
	Low    uint64
	Close  uint64
	Volume uint64 // lamports, sum of logged sol amounts
	Trades uint64
}

// BuildCandles groups trades into buckets of resolutionMs.
// Trades must be ordered by timestamp ASC; the result is ordered by bucket start.
func BuildCandles(trades []*Trade, resolutionMs int64) []Candle {
	if resolutionMs <= 0 {
		return nil
	}

	var out []Candle
	for _, t := range trades {
		bucket := t.Timestamp - t.Timestamp%resolutionMs
		if n := len(out); n > 0 && out[n-1].Time == bucket {
			c := &out[n-1]
			c.High = max(c.High, t.Price)
			c.Low = min(c.Low, t.Price)
			c.Close = t.Price
			c.Volume += t.SolAmount
			c.Trades++
			continue
		}
		out = append(out, Candle{
			Time:   bucket,
			Open:   t.Price,
			High:   t.Price,
			Low:    t.Price,
			Close:  t.Price,
			Volume: t.SolAmount,
			Trades: 1,
		})
	}
	return out
}
