// Package signer implements descriptor-scoped signing of shared packets.
// Each party signs only the inputs its descriptors control, leaving the rest
// untouched, so independent signers can take turns on the same packet before
// one of them finalizes and publishes it.
package signer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sealswap/sealswap/chain"
)

// ErrIncompleteSigning is returned when finalization finds an input without
// its required signature.
var ErrIncompleteSigning = errors.New("packet not fully signed")

// SignerConfig is the main config of the signer.
type SignerConfig struct {
	// Chain is the backend final transactions are published to.
	Chain chain.Bridge
}

// Signer signs, finalizes and publishes anchor transaction packets.
type Signer struct {
	cfg SignerConfig
}

// New creates a new signer from the config.
func New(cfg SignerConfig) *Signer {
	return &Signer{cfg: cfg}
}

// Sign attaches a partial signature to every input whose output script is
// controlled by one of the given descriptors. Inputs matching no descriptor
// are left untouched, partial signing rounds across parties are expected.
// An input's sighash type is honored if set and defaults to SIGHASH_ALL.
// The number of inputs signed in this round is returned.
func (s *Signer) Sign(packet *psbt.Packet,
	descriptors []chain.Descriptor) (int, error) {

	type keyMaterial struct {
		desc     chain.Descriptor
		pkScript []byte
	}

	material := make([]keyMaterial, 0, len(descriptors))
	for _, desc := range descriptors {
		pkScript, err := desc.PkScript()
		if err != nil {
			return 0, err
		}
		material = append(material, keyMaterial{
			desc:     desc,
			pkScript: pkScript,
		})
	}

	// BIP143 digests commit to the spent outputs, collect them all up
	// front.
	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for i, input := range packet.Inputs {
		if input.WitnessUtxo == nil {
			continue
		}
		op := packet.UnsignedTx.TxIn[i].PreviousOutPoint
		prevOuts[op] = input.WitnessUtxo
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	var signed int
	for i := range packet.Inputs {
		input := &packet.Inputs[i]

		var matched *keyMaterial
		for j := range material {
			if input.WitnessUtxo != nil && bytes.Equal(
				material[j].pkScript,
				input.WitnessUtxo.PkScript,
			) {

				matched = &material[j]
				break
			}
		}
		if matched == nil {
			continue
		}
		if len(input.PartialSigs) > 0 {
			continue
		}

		privKey, err := matched.desc.PrivKey()
		if err != nil {
			return signed, err
		}

		hashType := txscript.SigHashAll
		if input.SighashType != 0 {
			hashType = input.SighashType
		}

		sig, err := txscript.RawTxInWitnessSignature(
			packet.UnsignedTx, sigHashes, i,
			input.WitnessUtxo.Value, input.WitnessUtxo.PkScript,
			hashType, privKey,
		)
		if err != nil {
			return signed, fmt.Errorf("unable to sign input %d: "+
				"%w", i, err)
		}

		input.PartialSigs = append(input.PartialSigs, &psbt.PartialSig{
			PubKey:    privKey.PubKey().SerializeCompressed(),
			Signature: sig,
		})
		input.SighashType = hashType
		signed++
	}

	return signed, nil
}

// Finalize turns a fully signed packet into the broadcastable transaction.
func (s *Signer) Finalize(packet *psbt.Packet) (*wire.MsgTx, error) {
	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteSigning, err)
	}

	finalTx, err := psbt.Extract(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteSigning, err)
	}

	return finalTx, nil
}

// Publish relays the final transaction through the chain backend. A
// rejection is retryable by the caller, typically with a bumped fee.
func (s *Signer) Publish(ctx context.Context, tx *wire.MsgTx) error {
	if err := s.cfg.Chain.Broadcast(ctx, tx); err != nil {
		return err
	}

	log.Infof("Published tx %v", tx.TxHash())

	return nil
}
