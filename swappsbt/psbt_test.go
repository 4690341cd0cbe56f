package swappsbt

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sealswap/sealswap/chain"
	"github.com/sealswap/sealswap/seal"
	"github.com/stretchr/testify/require"
)

// newTestDescriptor creates a fresh signing descriptor.
func newTestDescriptor(t *testing.T) chain.Descriptor {
	t.Helper()

	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return chain.NewDescriptor(privKey)
}

// TestComposeWithChange asserts the composed packet funds the outputs plus
// fee from the descriptor's coins and returns the remainder as change.
func TestComposeWithChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := chain.NewMock()
	desc := newTestDescriptor(t)

	_, err := backend.Fund(desc, 100_000)
	require.NoError(t, err)

	composer := NewComposer(ComposerConfig{Chain: backend})

	changeScript, err := desc.PkScript()
	require.NoError(t, err)

	commitment := [32]byte{0x42}
	packet, err := composer.Compose(ctx, ComposeRequest{
		FundingDescriptor: desc,
		Outputs: []*wire.TxOut{
			wire.NewTxOut(40_000, []byte{0x00, 0x14}),
		},
		Commitment:   &commitment,
		ChangeScript: changeScript,
		Fee:          FeePolicy{Value: 1_000},
	})
	require.NoError(t, err)

	tx := packet.UnsignedTx
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 3)

	// Output order: recipients, change, commitment.
	require.EqualValues(t, 40_000, tx.TxOut[0].Value)
	require.EqualValues(t, 59_000, tx.TxOut[1].Value)
	require.EqualValues(t, 0, tx.TxOut[2].Value)
	require.EqualValues(t, txscript.OP_RETURN, tx.TxOut[2].PkScript[0])

	// Every input carries its witness data.
	for _, input := range packet.Inputs {
		require.NotNil(t, input.WitnessUtxo)
	}
}

// TestComposeInsufficientFunds asserts composition fails cleanly when the
// eligible coins can't cover outputs plus fee.
func TestComposeInsufficientFunds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := chain.NewMock()
	desc := newTestDescriptor(t)

	_, err := backend.Fund(desc, 10_000)
	require.NoError(t, err)

	composer := NewComposer(ComposerConfig{Chain: backend})
	_, err = composer.Compose(ctx, ComposeRequest{
		FundingDescriptor: desc,
		Outputs: []*wire.TxOut{
			wire.NewTxOut(40_000, []byte{0x00, 0x14}),
		},
		Fee: FeePolicy{Value: 1_000},
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// No inputs at all is its own failure.
	_, err = composer.Compose(ctx, ComposeRequest{
		Outputs: []*wire.TxOut{
			wire.NewTxOut(40_000, []byte{0x00, 0x14}),
		},
	})
	require.ErrorIs(t, err, ErrNoInputs)
}

// TestComposeUtxoFilter asserts coin selection honors the caller's filter.
func TestComposeUtxoFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := chain.NewMock()
	desc := newTestDescriptor(t)

	small, err := backend.Fund(desc, 20_000)
	require.NoError(t, err)
	_, err = backend.Fund(desc, 80_000)
	require.NoError(t, err)

	composer := NewComposer(ComposerConfig{Chain: backend})

	// Pinning selection to the small coin makes an otherwise fundable
	// request fail.
	req := ComposeRequest{
		FundingDescriptor: desc,
		Filter:            ByOutPoint(small.OutPoint),
		Outputs: []*wire.TxOut{
			wire.NewTxOut(50_000, []byte{0x00, 0x14}),
		},
		Fee: FeePolicy{Value: 1_000},
	}
	_, err = composer.Compose(ctx, req)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// The same pin succeeds for an amount the coin covers.
	req.Outputs = []*wire.TxOut{
		wire.NewTxOut(10_000, []byte{0x00, 0x14}),
	}
	packet, err := composer.Compose(ctx, req)
	require.NoError(t, err)
	require.Len(t, packet.UnsignedTx.TxIn, 1)
	require.Equal(
		t, small.OutPoint,
		packet.UnsignedTx.TxIn[0].PreviousOutPoint,
	)

	// By exact amount.
	req.Filter = ByAmount(80_000)
	req.Outputs = []*wire.TxOut{
		wire.NewTxOut(50_000, []byte{0x00, 0x14}),
	}
	packet, err = composer.Compose(ctx, req)
	require.NoError(t, err)
	require.Len(t, packet.UnsignedTx.TxIn, 1)
	require.EqualValues(
		t, 80_000, packet.Inputs[0].WitnessUtxo.Value,
	)
}

// TestComposeRateFee asserts a rate-based fee scales with the transaction
// shape and the change accounts for it exactly.
func TestComposeRateFee(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := chain.NewMock()
	desc := newTestDescriptor(t)

	_, err := backend.Fund(desc, 100_000)
	require.NoError(t, err)

	changeScript, err := desc.PkScript()
	require.NoError(t, err)

	composer := NewComposer(ComposerConfig{Chain: backend})
	packet, err := composer.Compose(ctx, ComposeRequest{
		FundingDescriptor: desc,
		Outputs: []*wire.TxOut{
			wire.NewTxOut(40_000, []byte{0x00, 0x14}),
		},
		ChangeScript: changeScript,
		Fee:          FeePolicy{RatePerVByte: 2},
	})
	require.NoError(t, err)

	// One input, recipient plus change output.
	expectedFee := btcutil.Amount(
		2 * (txOverheadVBytes + inputVBytes + 2*outputVBytes),
	)
	change := btcutil.Amount(packet.UnsignedTx.TxOut[1].Value)
	require.Equal(t, btcutil.Amount(100_000-40_000)-expectedFee, change)
}

// TestComposeRejectsZeroSeal asserts an unusable recipient seal is caught
// before any coin selection happens.
func TestComposeRejectsZeroSeal(t *testing.T) {
	t.Parallel()

	composer := NewComposer(ComposerConfig{Chain: chain.NewMock()})
	_, err := composer.Compose(context.Background(), ComposeRequest{
		SealRecipients: []seal.Seal{{}},
	})
	require.ErrorIs(t, err, ErrInvalidSeal)
}

// fragmentPacket builds a packet spending the given outpoints into the
// given outputs, for merge tests.
func fragmentPacket(t *testing.T, ops []wire.OutPoint,
	outs []*wire.TxOut) *psbt.Packet {

	t.Helper()

	tx := wire.NewMsgTx(2)
	for i := range ops {
		tx.AddTxIn(wire.NewTxIn(&ops[i], nil, nil))
	}
	for _, txOut := range outs {
		tx.AddTxOut(txOut)
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	return packet
}

// TestMerge asserts merging unions the fragments while preserving the first
// fragment's input ordering and the trailing commitment output.
func TestMerge(t *testing.T) {
	t.Parallel()

	sellerOp := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}
	buyerOp := wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 1}

	sellerOut := wire.NewTxOut(105_000, []byte{0x00, 0x14})
	buyerChange := wire.NewTxOut(44_000, []byte{0x00, 0x15})

	seller := fragmentPacket(
		t, []wire.OutPoint{sellerOp}, []*wire.TxOut{sellerOut},
	)
	seller.Inputs[0].PartialSigs = []*psbt.PartialSig{{
		PubKey:    []byte{0x02, 0xaa},
		Signature: []byte{0x30, 0x01},
	}}
	seller.Inputs[0].SighashType = txscript.SigHashSingle |
		txscript.SigHashAnyOneCanPay

	// The buyer fragment carries the full template, including the
	// seller's input unsigned.
	buyer := fragmentPacket(
		t, []wire.OutPoint{sellerOp, buyerOp},
		[]*wire.TxOut{sellerOut, buyerChange},
	)
	buyer.Inputs[1].WitnessUtxo = wire.NewTxOut(50_000, []byte{0x00, 0x15})

	merged, err := Merge(seller, buyer)
	require.NoError(t, err)

	tx := merged.UnsignedTx
	require.Len(t, tx.TxIn, 2)
	require.Len(t, tx.TxOut, 2)

	// The seller's input stays first and keeps its signature.
	require.Equal(t, sellerOp, tx.TxIn[0].PreviousOutPoint)
	require.Len(t, merged.Inputs[0].PartialSigs, 1)
	require.Equal(
		t, txscript.SigHashSingle|txscript.SigHashAnyOneCanPay,
		merged.Inputs[0].SighashType,
	)
	require.NotNil(t, merged.Inputs[1].WitnessUtxo)

	// Merging is tolerant of seeing the same signature twice but fails
	// closed on diverging ones.
	_, err = Merge(merged, seller)
	require.NoError(t, err)

	conflicting := fragmentPacket(
		t, []wire.OutPoint{sellerOp}, []*wire.TxOut{sellerOut},
	)
	conflicting.Inputs[0].PartialSigs = []*psbt.PartialSig{{
		PubKey:    []byte{0x03, 0xbb},
		Signature: []byte{0x30, 0x02},
	}}
	_, err = Merge(seller, conflicting)
	require.ErrorIs(t, err, ErrConflict)
}
