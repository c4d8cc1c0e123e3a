package domain

// PlatformStats holds the denormalized platform-wide counters.
// Every field is derivable by replaying trades, tokens and migrations.
type PlatformStats struct {
	TotalVolume   uint64 // lamports
	TotalTrades   uint64
	TotalTokens   uint64
	TotalMigrated uint64
}

// StatsDelta is a monotonic increment applied to PlatformStats.
type StatsDelta struct {
	Volume   uint64
	Trades   uint64
	Tokens   uint64
	Migrated uint64
}

// IsZero reports whether the delta changes nothing.
func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}

// Add applies d to the stats.
func (s *PlatformStats) Add(d StatsDelta) {
	s.TotalVolume += d.Volume
	s.TotalTrades += d.Trades
	s.TotalTokens += d.Tokens
	s.TotalMigrated += d.Migrated
}

// Missing returns the non-negative delta needed to bring s up to target.
// Counters above target are left alone; stats never decrease.
func (s PlatformStats) Missing(target PlatformStats) StatsDelta {
	var d StatsDelta
	if target.TotalVolume > s.TotalVolume {
		d.Volume = target.TotalVolume - s.TotalVolume
	}
	if target.TotalTrades > s.TotalTrades {
		d.Trades = target.TotalTrades - s.TotalTrades
	}
	if target.TotalTokens > s.TotalTokens {
		d.Tokens = target.TotalTokens - s.TotalTokens
	}
	if target.TotalMigrated > s.TotalMigrated {
		d.Migrated = target.TotalMigrated - s.TotalMigrated
	}
	return d
}
