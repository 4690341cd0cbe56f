package chain

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestDescriptorKeys asserts private/public descriptor derivation.
func TestDescriptorKeys(t *testing.T) {
	t.Parallel()

	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	signDesc := NewDescriptor(privKey)
	require.True(t, signDesc.IsPrivate())

	gotPriv, err := signDesc.PrivKey()
	require.NoError(t, err)
	require.Equal(t, privKey.Serialize(), gotPriv.Serialize())

	watchDesc, err := signDesc.Public()
	require.NoError(t, err)
	require.False(t, watchDesc.IsPrivate())

	_, err = watchDesc.PrivKey()
	require.ErrorIs(t, err, ErrPublicDescriptor)

	// Both forms control the same output script.
	signScript, err := signDesc.PkScript()
	require.NoError(t, err)
	watchScript, err := watchDesc.PkScript()
	require.NoError(t, err)
	require.Equal(t, signScript, watchScript)

	_, err = Descriptor("tr(deadbeef)").PkScript()
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

// TestMockChain asserts the funding, broadcast and confirmation behavior of
// the mock backend.
func TestMockChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMock()

	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	desc := NewDescriptor(privKey)

	funded, err := m.Fund(desc, 100_000)
	require.NoError(t, err)

	utxos, err := m.ListUtxos(ctx, desc)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	require.Equal(t, funded, utxos[0])

	// Spend the funded output.
	spendTx := wire.NewMsgTx(2)
	spendTx.AddTxIn(&wire.TxIn{PreviousOutPoint: funded.OutPoint})
	spendTx.AddTxOut(wire.NewTxOut(90_000, funded.PkScript))
	require.NoError(t, m.Broadcast(ctx, spendTx))

	// The spend starts unconfirmed, mining buries it.
	confs, err := m.Confirmations(ctx, spendTx.TxHash())
	require.NoError(t, err)
	require.Zero(t, confs)

	m.Mine(1)
	confs, err = m.Confirmations(ctx, spendTx.TxHash())
	require.NoError(t, err)
	require.EqualValues(t, 1, confs)

	// Double spending the same output is rejected.
	conflictTx := wire.NewMsgTx(2)
	conflictTx.AddTxIn(&wire.TxIn{PreviousOutPoint: funded.OutPoint})
	conflictTx.AddTxOut(wire.NewTxOut(80_000, funded.PkScript))
	require.ErrorIs(t, m.Broadcast(ctx, conflictTx), ErrBroadcastRejected)

	// Unknown txids surface as not found.
	_, err = m.Confirmations(ctx, chainhash.Hash{0xff})
	require.ErrorIs(t, err, ErrTxNotFound)
}

// TestMockBackendTimeout asserts a dead request context surfaces as the
// backend timeout sentinel on every backend call.
func TestMockBackendTimeout(t *testing.T) {
	t.Parallel()

	m := NewMock()

	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	desc := NewDescriptor(privKey)

	funded, err := m.Fund(desc, 100_000)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.ListUtxos(ctx, desc)
	require.ErrorIs(t, err, ErrBackendTimeout)

	spendTx := wire.NewMsgTx(2)
	spendTx.AddTxIn(&wire.TxIn{PreviousOutPoint: funded.OutPoint})
	spendTx.AddTxOut(wire.NewTxOut(90_000, funded.PkScript))
	require.ErrorIs(t, m.Broadcast(ctx, spendTx), ErrBackendTimeout)

	_, err = m.Confirmations(ctx, spendTx.TxHash())
	require.ErrorIs(t, err, ErrBackendTimeout)

	// The timed out broadcast left no trace, a live context succeeds.
	require.NoError(t, m.Broadcast(context.Background(), spendTx))
}
