package swappsbt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// ErrConflict is returned when two packet fragments can't be merged because
// both carry signature material for the same input.
var ErrConflict = errors.New("conflicting signatures for input")

// Merge combines two packet fragments composed for the same swap into one
// packet. Inputs are unioned by outpoint and outputs by script and value,
// keeping the first fragment's ordering and appending what only the second
// fragment contributes. An input present in both fragments keeps whichever
// side's signature material exists, merging fails if both sides signed it.
func Merge(a, b *psbt.Packet) (*psbt.Packet, error) {
	mergedTx := wire.NewMsgTx(a.UnsignedTx.Version)

	type inputMeta struct {
		index int
		meta  psbt.PInput
	}
	inputByOutPoint := make(map[wire.OutPoint]*inputMeta)
	var inputMetas []psbt.PInput

	addInput := func(txIn *wire.TxIn, meta psbt.PInput) error {
		op := txIn.PreviousOutPoint
		existing, ok := inputByOutPoint[op]
		if !ok {
			mergedTx.AddTxIn(&wire.TxIn{
				PreviousOutPoint: op,
				Sequence:         txIn.Sequence,
			})
			inputMetas = append(inputMetas, meta)
			inputByOutPoint[op] = &inputMeta{
				index: len(inputMetas) - 1,
				meta:  meta,
			}

			return nil
		}

		merged, err := mergeInputMeta(existing.meta, meta)
		if err != nil {
			return fmt.Errorf("%w: %v", err, op)
		}
		existing.meta = merged
		inputMetas[existing.index] = merged

		return nil
	}

	for i, txIn := range a.UnsignedTx.TxIn {
		if err := addInput(txIn, a.Inputs[i]); err != nil {
			return nil, err
		}
	}
	for i, txIn := range b.UnsignedTx.TxIn {
		if err := addInput(txIn, b.Inputs[i]); err != nil {
			return nil, err
		}
	}

	type outputKey struct {
		script string
		value  int64
	}
	seenOutputs := make(map[outputKey]bool)
	var outputMetas []psbt.POutput

	addOutput := func(txOut *wire.TxOut, meta psbt.POutput) {
		key := outputKey{
			script: string(txOut.PkScript),
			value:  txOut.Value,
		}
		if seenOutputs[key] {
			return
		}
		seenOutputs[key] = true

		mergedTx.AddTxOut(txOut)
		outputMetas = append(outputMetas, meta)
	}

	for i, txOut := range a.UnsignedTx.TxOut {
		addOutput(txOut, a.Outputs[i])
	}
	for i, txOut := range b.UnsignedTx.TxOut {
		addOutput(txOut, b.Outputs[i])
	}

	merged, err := psbt.NewFromUnsignedTx(mergedTx)
	if err != nil {
		return nil, err
	}
	copy(merged.Inputs, inputMetas)
	copy(merged.Outputs, outputMetas)

	log.Debugf("Merged packets: %d+%d inputs -> %d, %d+%d outputs -> %d",
		len(a.Inputs), len(b.Inputs), len(merged.Inputs),
		len(a.Outputs), len(b.Outputs), len(merged.Outputs))

	return merged, nil
}

// hasSignatureMaterial reports whether the input carries any signature.
func hasSignatureMaterial(in psbt.PInput) bool {
	return len(in.PartialSigs) > 0 || len(in.FinalScriptWitness) > 0 ||
		len(in.FinalScriptSig) > 0
}

// mergeInputMeta combines the metadata two fragments carry for the same
// input.
func mergeInputMeta(a, b psbt.PInput) (psbt.PInput, error) {
	if hasSignatureMaterial(a) && hasSignatureMaterial(b) {
		// Identical material is not a conflict, one side simply saw
		// the other's fragment already.
		if equalSignatureMaterial(a, b) {
			return a, nil
		}

		return psbt.PInput{}, ErrConflict
	}

	merged := a
	if hasSignatureMaterial(b) {
		merged = b
	}

	// Witness data may live on either side.
	if merged.WitnessUtxo == nil {
		if a.WitnessUtxo != nil {
			merged.WitnessUtxo = a.WitnessUtxo
		} else {
			merged.WitnessUtxo = b.WitnessUtxo
		}
	}
	if merged.SighashType == 0 {
		if a.SighashType != 0 {
			merged.SighashType = a.SighashType
		} else {
			merged.SighashType = b.SighashType
		}
	}

	return merged, nil
}

// equalSignatureMaterial reports whether two inputs carry byte-identical
// signature material.
func equalSignatureMaterial(a, b psbt.PInput) bool {
	if len(a.PartialSigs) != len(b.PartialSigs) {
		return false
	}
	for i, sig := range a.PartialSigs {
		other := b.PartialSigs[i]
		if !bytes.Equal(sig.PubKey, other.PubKey) ||
			!bytes.Equal(sig.Signature, other.Signature) {

			return false
		}
	}

	return bytes.Equal(a.FinalScriptSig, b.FinalScriptSig) &&
		bytes.Equal(a.FinalScriptWitness, b.FinalScriptWitness)
}
