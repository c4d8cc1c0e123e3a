package domain

import (
	"errors"
	"fmt"
)

// Defaults mirror the constants the on-chain program is initialized with.
const (
	DefaultFeeBps                      uint16 = 100
	DefaultMigrationThresholdLamports  uint64 = 85_000_000_000
	DefaultInitialVirtualSolReserves   uint64 = 30_000_000_000
	DefaultInitialVirtualTokenReserves uint64 = 1_000_000_000_000_000
	DefaultTotalSupply                 uint64 = 1_000_000_000_000_000

	// TokenDecimals is the mint decimals of every launched token.
	TokenDecimals = 6
	// LamportsPerSOL is the number of lamports in one SOL.
	LamportsPerSOL uint64 = 1_000_000_000
	// MaxFeeBps is the fee cap enforced by update_config.
	MaxFeeBps uint16 = 1000
	// BpsDenominator is 100% in basis points.
	BpsDenominator uint64 = 10_000
)

// GlobalConfig holds the curve parameters shared by every token.
// A value is immutable once published; updates swap the whole value.
type GlobalConfig struct {
	FeeBps                      uint16 `yaml:"fee_bps"`
	MigrationThresholdLamports  uint64 `yaml:"migration_threshold_lamports"`
	InitialVirtualSolReserves   uint64 `yaml:"initial_virtual_sol_reserves"`
	InitialVirtualTokenReserves uint64 `yaml:"initial_virtual_token_reserves"`
	TotalSupply                 uint64 `yaml:"total_supply"`
}

// DefaultGlobalConfig returns the launch defaults.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		FeeBps:                      DefaultFeeBps,
		MigrationThresholdLamports:  DefaultMigrationThresholdLamports,
		InitialVirtualSolReserves:   DefaultInitialVirtualSolReserves,
		InitialVirtualTokenReserves: DefaultInitialVirtualTokenReserves,
		TotalSupply:                 DefaultTotalSupply,
	}
}

// Validate checks the config for values the curve cannot operate with.
func (c GlobalConfig) Validate() error {
	if c.FeeBps > MaxFeeBps {
		return fmt.Errorf("fee_bps %d exceeds max %d", c.FeeBps, MaxFeeBps)
	}
	if c.InitialVirtualSolReserves == 0 || c.InitialVirtualTokenReserves == 0 {
		return errors.New("initial virtual reserves must be positive")
	}
	if c.TotalSupply == 0 {
		return errors.New("total_supply must be positive")
	}
	if c.MigrationThresholdLamports == 0 {
		return errors.New("migration_threshold_lamports must be positive")
	}
	return nil
}

// WithUpdate returns a copy of c with the non-nil fields of u applied.
func (c GlobalConfig) WithUpdate(u ConfigUpdated) GlobalConfig {
	if u.FeeBps != nil {
		c.FeeBps = *u.FeeBps
	}
	if u.MigrationThreshold != nil {
		c.MigrationThresholdLamports = *u.MigrationThreshold
	}
	return c
}
