package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// BondingCurveSeed is the PDA seed prefix of curve accounts.
const BondingCurveSeed = "bonding_curve"

const (
	pdaMarker    = "ProgramDerivedAddress"
	maxSeedLen   = 32
	publicKeyLen = 32
)

// ErrNoViableBump is returned when every bump seed lands on the curve.
var ErrNoViableBump = errors.New("no viable bump seed")

// DecodePublicKey decodes a base58 public key and checks its length.
func DecodePublicKey(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key %q: %w", s, err)
	}
	if len(b) != publicKeyLen {
		return nil, fmt.Errorf("public key %q: expected %d bytes, got %d", s, publicKeyLen, len(b))
	}
	return b, nil
}

// FindProgramAddress derives the canonical program address for seeds.
// Bumps are tried from 255 down until the hash is off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := DecodePublicKey(programID)
	if err != nil {
		return "", 0, err
	}
	for _, s := range seeds {
		if len(s) > maxSeedLen {
			return "", 0, fmt.Errorf("seed longer than %d bytes", maxSeedLen)
		}
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, s := range seeds {
			h.Write(s)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program)
		h.Write([]byte(pdaMarker))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return base58.Encode(sum), uint8(bump), nil
		}
	}
	return "", 0, ErrNoViableBump
}

// BondingCurveAddress derives the curve account of mint under programID.
func BondingCurveAddress(mint, programID string) (string, error) {
	m, err := DecodePublicKey(mint)
	if err != nil {
		return "", err
	}
	addr, _, err := FindProgramAddress([][]byte{[]byte(BondingCurveSeed), m}, programID)
	if err != nil {
		return "", fmt.Errorf("derive bonding curve: %w", err)
	}
	return addr, nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
