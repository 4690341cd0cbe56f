package signer

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sealswap/sealswap/chain"
	"github.com/sealswap/sealswap/swappsbt"
	"github.com/stretchr/testify/require"
)

// newTestDescriptor creates a fresh signing descriptor.
func newTestDescriptor(t *testing.T) chain.Descriptor {
	t.Helper()

	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return chain.NewDescriptor(privKey)
}

// TestSignFinalizePublish walks a packet from composition through partial
// signing, finalization and broadcast.
func TestSignFinalizePublish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := chain.NewMock()
	desc := newTestDescriptor(t)
	stranger := newTestDescriptor(t)

	_, err := backend.Fund(desc, 100_000)
	require.NoError(t, err)

	composer := swappsbt.NewComposer(swappsbt.ComposerConfig{
		Chain: backend,
	})
	changeScript, err := desc.PkScript()
	require.NoError(t, err)

	packet, err := composer.Compose(ctx, swappsbt.ComposeRequest{
		FundingDescriptor: desc,
		Outputs: []*wire.TxOut{
			wire.NewTxOut(40_000, changeScript),
		},
		ChangeScript: changeScript,
		Fee:          swappsbt.FeePolicy{Value: 1_000},
	})
	require.NoError(t, err)

	testSigner := New(SignerConfig{Chain: backend})

	// A descriptor controlling none of the inputs signs nothing, which
	// is not an error.
	signed, err := testSigner.Sign(packet, []chain.Descriptor{stranger})
	require.NoError(t, err)
	require.Zero(t, signed)

	// An unsigned packet can't be finalized.
	_, err = testSigner.Finalize(packet)
	require.ErrorIs(t, err, ErrIncompleteSigning)

	signed, err = testSigner.Sign(packet, []chain.Descriptor{desc})
	require.NoError(t, err)
	require.Equal(t, 1, signed)

	// Signing again is a no-op, the input already carries a signature.
	signed, err = testSigner.Sign(packet, []chain.Descriptor{desc})
	require.NoError(t, err)
	require.Zero(t, signed)

	finalTx, err := testSigner.Finalize(packet)
	require.NoError(t, err)
	require.NoError(t, testSigner.Publish(ctx, finalTx))

	confs, err := backend.Confirmations(ctx, finalTx.TxHash())
	require.NoError(t, err)
	require.Zero(t, confs)

	backend.Mine(1)
	confs, err = backend.Confirmations(ctx, finalTx.TxHash())
	require.NoError(t, err)
	require.EqualValues(t, 1, confs)
}

// TestMultiPartySigning asserts two parties can take turns signing their own
// inputs of a shared packet.
func TestMultiPartySigning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := chain.NewMock()
	seller := newTestDescriptor(t)
	buyer := newTestDescriptor(t)

	sellerCoin, err := backend.Fund(seller, 50_000)
	require.NoError(t, err)
	_, err = backend.Fund(buyer, 100_000)
	require.NoError(t, err)

	sellerScript, err := seller.PkScript()
	require.NoError(t, err)
	buyerScript, err := buyer.PkScript()
	require.NoError(t, err)

	composer := swappsbt.NewComposer(swappsbt.ComposerConfig{
		Chain: backend,
	})
	packet, err := composer.Compose(ctx, swappsbt.ComposeRequest{
		AssetInputs:       []chain.Utxo{sellerCoin},
		FundingDescriptor: buyer,
		Outputs: []*wire.TxOut{
			wire.NewTxOut(120_000, sellerScript),
		},
		ChangeScript: buyerScript,
		Fee:          swappsbt.FeePolicy{Value: 1_000},
	})
	require.NoError(t, err)
	require.Len(t, packet.UnsignedTx.TxIn, 2)

	// The seller commits to its own input and output pair only, so the
	// buyer side may still be amended.
	packet.Inputs[0].SighashType = txscript.SigHashSingle |
		txscript.SigHashAnyOneCanPay

	testSigner := New(SignerConfig{Chain: backend})

	signed, err := testSigner.Sign(packet, []chain.Descriptor{seller})
	require.NoError(t, err)
	require.Equal(t, 1, signed)

	signed, err = testSigner.Sign(packet, []chain.Descriptor{buyer})
	require.NoError(t, err)
	require.Equal(t, 1, signed)

	finalTx, err := testSigner.Finalize(packet)
	require.NoError(t, err)
	require.NoError(t, testSigner.Publish(ctx, finalTx))

	// A watch-only descriptor matches its inputs but can't sign them.
	watchOnly, err := seller.Public()
	require.NoError(t, err)

	sellerCoin2, err := backend.Fund(seller, 20_000)
	require.NoError(t, err)

	unsigned, err := composer.Compose(ctx, swappsbt.ComposeRequest{
		AssetInputs: []chain.Utxo{sellerCoin2},
		Outputs: []*wire.TxOut{
			wire.NewTxOut(10_000, buyerScript),
		},
		ChangeScript: sellerScript,
		Fee:          swappsbt.FeePolicy{Value: 1_000},
	})
	require.NoError(t, err)

	_, err = testSigner.Sign(unsigned, []chain.Descriptor{watchOnly})
	require.ErrorIs(t, err, chain.ErrPublicDescriptor)
}
