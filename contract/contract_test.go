package contract

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/sealswap/sealswap/seal"
	"github.com/stretchr/testify/require"
)

func testContract(t *testing.T) *Contract {
	t.Helper()

	genesisSeal, _, err := seal.Blind(wire.OutPoint{
		Hash:  chainhash.Hash{0x01},
		Index: 0,
	})
	require.NoError(t, err)

	return &Contract{
		Ticker:      "DIBA",
		Name:        "diba test token",
		Precision:   2,
		Supply:      500,
		Iface:       IfaceFungible,
		GenesisSeal: genesisSeal,
	}
}

// TestArmorRoundTrip asserts that a contract survives the armored
// import/export encoding and keeps its identifier.
func TestArmorRoundTrip(t *testing.T) {
	t.Parallel()

	c := testContract(t)

	armored, err := c.Armor()
	require.NoError(t, err)

	decoded, err := DecodeArmor(armored)
	require.NoError(t, err)
	require.Equal(t, c, decoded)
	require.Equal(t, c.ID(), decoded.ID())

	_, err = DecodeArmor("%%%not-base64%%%")
	require.ErrorIs(t, err, ErrInvalidArmor)
}

// TestContractID asserts that the identifier commits to every definition
// field.
func TestContractID(t *testing.T) {
	t.Parallel()

	c := testContract(t)
	id := c.ID()

	// Any field change must change the id.
	mutated := *c
	mutated.Supply++
	require.NotEqual(t, id, mutated.ID())

	mutated = *c
	mutated.Ticker = "OTHR"
	require.NotEqual(t, id, mutated.ID())

	// The id string form round trips.
	parsed, err := IDFromString(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = IDFromString("zz")
	require.ErrorIs(t, err, ErrInvalidID)
}

// TestParseIface asserts the closed interface set.
func TestParseIface(t *testing.T) {
	t.Parallel()

	iface, err := ParseIface("RGB20")
	require.NoError(t, err)
	require.Equal(t, IfaceFungible, iface)

	iface, err = ParseIface("RGB21")
	require.NoError(t, err)
	require.Equal(t, IfaceCollectible, iface)

	_, err = ParseIface("RGB99")
	require.ErrorIs(t, err, ErrUnknownIface)
}
