package seal

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestBlindReveal asserts that a fresh seal can only be opened by its own
// reveal, and that two blindings of the same outpoint are unlinkable.
func TestBlindReveal(t *testing.T) {
	t.Parallel()

	op := wire.OutPoint{
		Hash:  chainhash.Hash{0x01, 0x02},
		Index: 3,
	}

	s1, r1, err := Blind(op)
	require.NoError(t, err)
	require.True(t, r1.Verify(s1))

	// Fresh entropy must yield a distinct commitment for the same
	// outpoint.
	s2, r2, err := Blind(op)
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)

	// Reveals don't open each other's seals.
	require.False(t, r1.Verify(s2))
	require.False(t, r2.Verify(s1))

	// A tampered reveal doesn't open the seal either.
	bad := *r1
	bad.OutPoint.Index++
	require.False(t, bad.Verify(s1))
}

// TestSealStringRoundTrip asserts the hex encoding round trips.
func TestSealStringRoundTrip(t *testing.T) {
	t.Parallel()

	op := wire.OutPoint{Hash: chainhash.Hash{0xaa}, Index: 0}
	s, _, err := Blind(op)
	require.NoError(t, err)

	parsed, err := FromString(s.String())
	require.NoError(t, err)
	require.Equal(t, s, parsed)

	_, err = FromString("not-hex")
	require.ErrorIs(t, err, ErrInvalidSeal)
	_, err = FromString("abcd")
	require.ErrorIs(t, err, ErrInvalidSeal)
}
