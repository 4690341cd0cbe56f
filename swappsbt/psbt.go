// Package swappsbt assembles the partially signed Bitcoin transactions that
// anchor asset transfers and swaps. A composed packet moves bitcoin value,
// funds the fee from a descriptor's coins and carries the asset state
// transition commitment in a trailing OP_RETURN output. Packets composed by
// independent parties for the same swap are merged into one transaction
// before the final signing round.
package swappsbt

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/sealswap/sealswap/chain"
	"github.com/sealswap/sealswap/fn"
	"github.com/sealswap/sealswap/seal"
)

var (
	// ErrInsufficientFunds is returned when no combination of eligible
	// coins covers the requested outputs plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds for outputs " +
		"and fee")

	// ErrInvalidSeal is returned when a recipient seal can't be used as a
	// destination.
	ErrInvalidSeal = errors.New("unresolvable recipient seal")

	// ErrNoInputs is returned when a compose request carries neither
	// asset inputs nor a funding descriptor.
	ErrNoInputs = errors.New("nothing to spend")
)

const (
	// txOverheadVBytes is the weight of the transaction frame itself.
	txOverheadVBytes = 11

	// inputVBytes is the approximate weight of a signed native segwit
	// key spend input.
	inputVBytes = 68

	// outputVBytes is the approximate weight of a native segwit output.
	outputVBytes = 31
)

// UtxoFilter restricts which of a descriptor's coins the composer may fund
// the transaction from.
type UtxoFilter func(chain.Utxo) bool

// ByOutPoint admits only the coin at the given outpoint.
func ByOutPoint(op wire.OutPoint) UtxoFilter {
	return func(utxo chain.Utxo) bool {
		return utxo.OutPoint == op
	}
}

// ByAmount admits only coins of exactly the given value.
func ByAmount(value btcutil.Amount) UtxoFilter {
	return func(utxo chain.Utxo) bool {
		return utxo.Value == value
	}
}

// Unconstrained admits every coin.
func Unconstrained() UtxoFilter {
	return func(chain.Utxo) bool {
		return true
	}
}

// FeePolicy expresses the fee either as an absolute value or as a rate. An
// absolute value takes precedence over the rate.
type FeePolicy struct {
	// Value is the absolute fee, zero to fall back to the rate.
	Value btcutil.Amount

	// RatePerVByte is the fee rate in satoshi per virtual byte.
	RatePerVByte btcutil.Amount
}

// fee computes the fee for a transaction of the given shape.
func (p FeePolicy) fee(numInputs, numOutputs int) btcutil.Amount {
	if p.Value != 0 {
		return p.Value
	}

	vbytes := txOverheadVBytes + numInputs*inputVBytes +
		numOutputs*outputVBytes

	return p.RatePerVByte * btcutil.Amount(vbytes)
}

// ComposeRequest carries everything one party contributes to the anchor
// transaction.
type ComposeRequest struct {
	// AssetInputs are the asset-carrying coins spent by the transition,
	// placed first in the transaction in the given order.
	AssetInputs []chain.Utxo

	// FundingDescriptor is the descriptor whose coins may fund the fee
	// and outputs, empty if the asset inputs carry enough value.
	FundingDescriptor chain.Descriptor

	// Filter restricts the eligible funding coins, nil for none.
	Filter UtxoFilter

	// Outputs are the value-carrying outputs, in final order.
	Outputs []*wire.TxOut

	// SealRecipients are the blinded destinations of the transition.
	// They receive asset value on coins they already control, so they
	// add no transaction output, but each must be a usable seal.
	SealRecipients []seal.Seal

	// Commitment is the asset transition commitment to carry in a
	// trailing OP_RETURN output, nil for none.
	Commitment *[32]byte

	// ChangeScript receives any bitcoin value left over after outputs
	// and fee. Sub-dust change is given up to the fee instead.
	ChangeScript []byte

	// Fee is the fee policy.
	Fee FeePolicy
}

// ComposerConfig is the main config of the composer.
type ComposerConfig struct {
	// Chain is the backend used to discover funding coins.
	Chain chain.Bridge
}

// Composer builds unsigned anchor transaction packets.
type Composer struct {
	cfg ComposerConfig
}

// NewComposer creates a new composer from the config.
func NewComposer(cfg ComposerConfig) *Composer {
	return &Composer{cfg: cfg}
}

// Compose builds an unsigned packet from the request: asset inputs first,
// then enough funding coins to cover the outputs plus fee, then outputs,
// change and the commitment output. Witness data of every known input is
// attached so independent signers can sign their inputs without chain
// access.
func (c *Composer) Compose(ctx context.Context,
	req ComposeRequest) (*psbt.Packet, error) {

	for _, recipient := range req.SealRecipients {
		if recipient.IsZero() {
			return nil, fmt.Errorf("%w: zero seal", ErrInvalidSeal)
		}
	}

	if len(req.AssetInputs) == 0 && req.FundingDescriptor == "" {
		return nil, ErrNoInputs
	}

	var inputSum, outputSum btcutil.Amount
	inputs := make([]chain.Utxo, 0, len(req.AssetInputs))
	for _, utxo := range req.AssetInputs {
		inputs = append(inputs, utxo)
		inputSum += utxo.Value
	}
	for _, txOut := range req.Outputs {
		outputSum += btcutil.Amount(txOut.Value)
	}

	numOutputs := len(req.Outputs)
	if req.Commitment != nil {
		numOutputs++
	}

	// Select funding coins until the inputs cover the outputs plus the
	// fee of the transaction shape including a prospective change
	// output.
	var candidates []chain.Utxo
	if req.FundingDescriptor != "" {
		var err error
		candidates, err = c.cfg.Chain.ListUtxos(
			ctx, req.FundingDescriptor,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to list funding "+
				"coins: %w", err)
		}
	}

	filter := req.Filter
	if filter == nil {
		filter = Unconstrained()
	}

	target := func() btcutil.Amount {
		return outputSum + req.Fee.fee(len(inputs), numOutputs+1)
	}

	for _, utxo := range candidates {
		if inputSum >= target() {
			break
		}
		if !filter(utxo) {
			continue
		}
		if containsOutPoint(inputs, utxo.OutPoint) {
			continue
		}

		inputs = append(inputs, utxo)
		inputSum += utxo.Value
	}

	if inputSum < target() {
		return nil, fmt.Errorf("%w: have %v, need %v",
			ErrInsufficientFunds, inputSum, target())
	}

	tx := wire.NewMsgTx(2)
	for _, utxo := range inputs {
		tx.AddTxIn(wire.NewTxIn(&utxo.OutPoint, nil, nil))
	}
	for _, txOut := range req.Outputs {
		tx.AddTxOut(txOut)
	}

	// Change goes before the commitment output, so the commitment is
	// always the last output and fragment merges keep output positions
	// stable.
	change := inputSum - target()
	changeOut := wire.NewTxOut(int64(change), req.ChangeScript)
	if change > 0 && len(req.ChangeScript) > 0 &&
		!txrules.IsDustOutput(changeOut, txrules.DefaultRelayFeePerKb) {

		tx.AddTxOut(changeOut)
	}

	if req.Commitment != nil {
		commitScript, err := txscript.NullDataScript(
			req.Commitment[:],
		)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(0, commitScript))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	for i, utxo := range inputs {
		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(
			int64(utxo.Value), utxo.PkScript,
		)
	}

	log.Debugf("Composed packet: %d inputs, %d outputs, fee target %v",
		len(tx.TxIn), len(tx.TxOut), target()-outputSum)

	return packet, nil
}

// containsOutPoint reports whether the coin set already spends the outpoint.
func containsOutPoint(utxos []chain.Utxo, op wire.OutPoint) bool {
	return fn.Any(utxos, func(utxo chain.Utxo) bool {
		return utxo.OutPoint == op
	})
}
