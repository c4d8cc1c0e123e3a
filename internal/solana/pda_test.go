package solana

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProgramID = "11111111111111111111111111111111"

func TestBondingCurveAddress(t *testing.T) {
	addr, err := BondingCurveAddress(usdcMint, testProgramID)
	require.NoError(t, err)

	decoded, err := DecodePublicKey(addr)
	require.NoError(t, err)
	assert.False(t, isOnCurve(decoded), "PDA must be off curve")

	again, err := BondingCurveAddress(usdcMint, testProgramID)
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	other, err := BondingCurveAddress("So11111111111111111111111111111111111111112", testProgramID)
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)
}

func TestFindProgramAddress_CanonicalBump(t *testing.T) {
	mint, err := DecodePublicKey(usdcMint)
	require.NoError(t, err)
	program, err := DecodePublicKey(testProgramID)
	require.NoError(t, err)
	seeds := [][]byte{[]byte(BondingCurveSeed), mint}

	_, bump, err := FindProgramAddress(seeds, testProgramID)
	require.NoError(t, err)

	// every higher bump must land on the curve
	for b := 255; b > int(bump); b-- {
		h := sha256.New()
		for _, s := range seeds {
			h.Write(s)
		}
		h.Write([]byte{byte(b)})
		h.Write(program)
		h.Write([]byte(pdaMarker))
		assert.True(t, isOnCurve(h.Sum(nil)), "bump %d", b)
	}
}

func TestBondingCurveAddress_InvalidInput(t *testing.T) {
	_, err := BondingCurveAddress("not-a-key", testProgramID)
	assert.Error(t, err)

	_, err = BondingCurveAddress(usdcMint, "short")
	assert.Error(t, err)

	_, _, err = FindProgramAddress([][]byte{make([]byte, 33)}, testProgramID)
	assert.Error(t, err)
}

func TestParseTokenAccountMint(t *testing.T) {
	_, err := ParseTokenAccountMint("!!")
	assert.Error(t, err)

	_, err = ParseTokenAccountMint("SGVsbG8=")
	assert.Error(t, err, "short data")
}
