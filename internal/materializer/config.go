package materializer

import (
	"sync/atomic"

	"openclaw-indexer/internal/domain"
)

// ConfigHolder publishes the current GlobalConfig to concurrent readers.
// Values are swapped whole, never mutated in place.
type ConfigHolder struct {
	v atomic.Pointer[domain.GlobalConfig]
}

// NewConfigHolder creates a holder with cfg.
func NewConfigHolder(cfg domain.GlobalConfig) *ConfigHolder {
	h := &ConfigHolder{}
	h.v.Store(&cfg)
	return h
}

// Load returns the current config.
func (h *ConfigHolder) Load() domain.GlobalConfig {
	return *h.v.Load()
}

// Swap replaces the config and returns the previous value.
func (h *ConfigHolder) Swap(cfg domain.GlobalConfig) domain.GlobalConfig {
	return *h.v.Swap(&cfg)
}
