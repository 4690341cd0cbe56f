// Package consignment implements the portable transfer proof of the swap
// protocol: the asset state transition (allocations consumed and created)
// bundled with the Bitcoin transaction anchoring it. A consignment is
// immutable once built, its identifier is a tagged hash over the canonical
// encoding.
package consignment

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/sealswap/sealswap/contract"
	"github.com/sealswap/sealswap/seal"
)

var (
	// idTag is the tagged hash domain for consignment identifiers.
	idTag = []byte("sealswap/consignment/v0")

	// commitTag is the tagged hash domain for the transition commitment
	// carried in the anchor transaction.
	commitTag = []byte("sealswap/transition/v0")
)

var (
	// ErrInvalidTransition is returned when the transition doesn't
	// balance: the sum of consumed allocations must equal the sum of
	// created ones.
	ErrInvalidTransition = errors.New("state transition does not balance")

	// ErrMalformedOutput is returned when a transition output has no
	// destination, or an ambiguous one.
	ErrMalformedOutput = errors.New("transition output needs exactly " +
		"one of blinded seal or anchor vout")

	// ErrInvalidArmor is returned when an armored consignment blob can't
	// be decoded.
	ErrInvalidArmor = errors.New("invalid armored consignment")
)

// ID is the unique identifier of a consignment.
type ID [chainhash.HashSize]byte

// String returns the hex encoded consignment id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// TransitionIn is an allocation consumed by the transition.
type TransitionIn struct {
	// OutPoint is the outpoint the consumed allocation was bound to.
	OutPoint wire.OutPoint

	// Amount is the consumed quantity in base units.
	Amount uint64
}

// TransitionOut is an allocation created by the transition. The destination
// is either a blinded seal handed out by the receiver in advance, or an
// output of the anchor transaction itself.
type TransitionOut struct {
	// Blinded is the blinded seal destination, if any.
	Blinded *seal.Seal

	// Vout is the anchor transaction output index destination, if any.
	Vout *uint32

	// Amount is the created quantity in base units.
	Amount uint64
}

// Consignment is the portable, self-verifying transfer proof.
type Consignment struct {
	// ContractID identifies the contract the transition operates on.
	ContractID contract.ID

	// Inputs are the allocations consumed by the transition.
	Inputs []TransitionIn

	// Outputs are the allocations created by the transition.
	Outputs []TransitionOut

	// AnchorTx is the Bitcoin transaction carrying the transition
	// commitment.
	AnchorTx wire.MsgTx
}

// BuildRequest carries the pieces a consignment is assembled from.
type BuildRequest struct {
	// ContractID identifies the contract the transition operates on.
	ContractID contract.ID

	// Inputs are the allocations consumed by the transition.
	Inputs []TransitionIn

	// Outputs are the allocations created by the transition.
	Outputs []TransitionOut

	// AnchorTx is the (not necessarily signed) anchor transaction.
	AnchorTx *wire.MsgTx
}

// Build assembles and sanity checks a consignment. The transition must
// balance exactly, zero amount legs are rejected.
func Build(req BuildRequest) (*Consignment, error) {
	var inSum, outSum uint64
	for _, in := range req.Inputs {
		inSum += in.Amount
	}
	for _, out := range req.Outputs {
		if (out.Blinded == nil) == (out.Vout == nil) {
			return nil, ErrMalformedOutput
		}
		outSum += out.Amount
	}

	if len(req.Inputs) == 0 || inSum != outSum {
		return nil, fmt.Errorf("%w: inputs=%d outputs=%d",
			ErrInvalidTransition, inSum, outSum)
	}

	return &Consignment{
		ContractID: req.ContractID,
		Inputs:     req.Inputs,
		Outputs:    req.Outputs,
		AnchorTx:   *req.AnchorTx,
	}, nil
}

// ID computes the consignment identifier from the canonical encoding.
func (c *Consignment) ID() ID {
	var buf bytes.Buffer
	_ = c.Encode(&buf)

	hash := chainhash.TaggedHash(idTag, buf.Bytes())

	var id ID
	copy(id[:], hash[:])
	return id
}

// AnchorTxid returns the txid of the anchor transaction.
func (c *Consignment) AnchorTxid() chainhash.Hash {
	return c.AnchorTx.TxHash()
}

// TransitionCommitment computes the commitment to the transition that the
// anchor transaction must carry in an OP_RETURN output.
func (c *Consignment) TransitionCommitment() [32]byte {
	var buf bytes.Buffer
	_ = encodeTransition(&buf, c.Inputs, c.Outputs)

	hash := chainhash.TaggedHash(commitTag, c.ContractID[:], buf.Bytes())

	var commitment [32]byte
	copy(commitment[:], hash[:])
	return commitment
}

// encodeTransition writes the canonical binary form of the transition legs.
func encodeTransition(w io.Writer, inputs []TransitionIn,
	outputs []TransitionOut) error {

	if err := wire.WriteVarInt(w, 0, uint64(len(inputs))); err != nil {
		return err
	}
	for _, in := range inputs {
		if _, err := w.Write(in.OutPoint.Hash[:]); err != nil {
			return err
		}
		err := binary.Write(w, binary.LittleEndian, in.OutPoint.Index)
		if err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, in.Amount); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(outputs))); err != nil {
		return err
	}
	for _, out := range outputs {
		switch {
		case out.Blinded != nil:
			if err := binary.Write(w, binary.LittleEndian, uint8(1)); err != nil {
				return err
			}
			if _, err := w.Write(out.Blinded[:]); err != nil {
				return err
			}

		case out.Vout != nil:
			if err := binary.Write(w, binary.LittleEndian, uint8(2)); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, *out.Vout); err != nil {
				return err
			}

		default:
			return ErrMalformedOutput
		}

		if err := binary.Write(w, binary.LittleEndian, out.Amount); err != nil {
			return err
		}
	}

	return nil
}

// decodeTransition reads the canonical binary form of the transition legs.
func decodeTransition(r io.Reader) ([]TransitionIn, []TransitionOut, error) {
	numInputs, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, nil, err
	}

	inputs := make([]TransitionIn, numInputs)
	for i := range inputs {
		if _, err := io.ReadFull(r, inputs[i].OutPoint.Hash[:]); err != nil {
			return nil, nil, err
		}
		err = binary.Read(r, binary.LittleEndian, &inputs[i].OutPoint.Index)
		if err != nil {
			return nil, nil, err
		}
		err = binary.Read(r, binary.LittleEndian, &inputs[i].Amount)
		if err != nil {
			return nil, nil, err
		}
	}

	numOutputs, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, nil, err
	}

	outputs := make([]TransitionOut, numOutputs)
	for i := range outputs {
		var kind uint8
		if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
			return nil, nil, err
		}

		switch kind {
		case 1:
			var blinded seal.Seal
			if _, err := io.ReadFull(r, blinded[:]); err != nil {
				return nil, nil, err
			}
			outputs[i].Blinded = &blinded

		case 2:
			var vout uint32
			err := binary.Read(r, binary.LittleEndian, &vout)
			if err != nil {
				return nil, nil, err
			}
			outputs[i].Vout = &vout

		default:
			return nil, nil, ErrMalformedOutput
		}

		err = binary.Read(r, binary.LittleEndian, &outputs[i].Amount)
		if err != nil {
			return nil, nil, err
		}
	}

	return inputs, outputs, nil
}

// Encode serializes the consignment as a TLV stream into w.
func (c *Consignment) Encode(w io.Writer) error {
	var transitionBuf bytes.Buffer
	if err := encodeTransition(&transitionBuf, c.Inputs, c.Outputs); err != nil {
		return err
	}
	transition := transitionBuf.Bytes()

	var anchorBuf bytes.Buffer
	if err := c.AnchorTx.Serialize(&anchorBuf); err != nil {
		return err
	}
	anchor := anchorBuf.Bytes()

	contractID := [32]byte(c.ContractID)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(1, &contractID),
		tlv.MakePrimitiveRecord(2, &transition),
		tlv.MakePrimitiveRecord(3, &anchor),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode deserializes a consignment from the TLV stream in r.
func (c *Consignment) Decode(r io.Reader) error {
	var (
		contractID [32]byte
		transition []byte
		anchor     []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(1, &contractID),
		tlv.MakePrimitiveRecord(2, &transition),
		tlv.MakePrimitiveRecord(3, &anchor),
	)
	if err != nil {
		return err
	}

	if err := stream.Decode(r); err != nil {
		return err
	}

	c.ContractID = contract.ID(contractID)

	c.Inputs, c.Outputs, err = decodeTransition(
		bytes.NewReader(transition),
	)
	if err != nil {
		return err
	}

	return c.AnchorTx.Deserialize(bytes.NewReader(anchor))
}

// Armor returns the portable base64 form of the consignment, as carried in
// transfer request bodies.
func (c *Consignment) Armor() (string, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeArmor parses an armored consignment blob.
func DecodeArmor(armored string) (*Consignment, error) {
	raw, err := base64.StdEncoding.DecodeString(armored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArmor, err)
	}

	var c Consignment
	if err := c.Decode(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArmor, err)
	}

	return &c, nil
}
