// Package seal implements blinded UTXO commitments. A seal commits to a
// specific outpoint without revealing it, which lets a receiver hand out a
// destination for an asset transfer in advance. The owner of the blinding
// factor, and only the owner, can later reveal which outpoint the seal
// points at.
package seal

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// commitmentTag is the tagged hash domain for seal commitments.
var commitmentTag = []byte("sealswap/seal/v0")

var (
	// ErrInvalidSeal is returned when a seal string can't be decoded.
	ErrInvalidSeal = errors.New("invalid seal encoding")
)

// Seal is the opaque commitment to a future UTXO. Without the blinding
// factor the committed outpoint can't be recovered.
type Seal [chainhash.HashSize]byte

// String returns the hex encoded seal commitment.
func (s Seal) String() string {
	return hex.EncodeToString(s[:])
}

// IsZero reports whether the seal is unset.
func (s Seal) IsZero() bool {
	return s == Seal{}
}

// FromString decodes a hex encoded seal commitment.
func FromString(s string) (Seal, error) {
	var out Seal

	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidSeal, err)
	}
	if len(raw) != chainhash.HashSize {
		return out, fmt.Errorf("%w: wrong length %d", ErrInvalidSeal,
			len(raw))
	}

	copy(out[:], raw)
	return out, nil
}

// Reveal is the opening of a seal: the committed outpoint plus the blinding
// factor. A reveal is consumed exactly once, when the corresponding transfer
// is accepted.
type Reveal struct {
	// OutPoint is the outpoint the seal commits to.
	OutPoint wire.OutPoint

	// Blinding is the 32 byte blinding factor.
	Blinding [32]byte
}

// Blind creates a fresh seal over the given outpoint, drawing a new blinding
// factor from the system entropy source. The commitment is a tagged hash, so
// it can't be inverted without the factor.
func Blind(op wire.OutPoint) (Seal, *Reveal, error) {
	var blinding [32]byte
	if _, err := rand.Read(blinding[:]); err != nil {
		return Seal{}, nil, fmt.Errorf("unable to draw blinding "+
			"factor: %w", err)
	}

	reveal := &Reveal{
		OutPoint: op,
		Blinding: blinding,
	}

	return reveal.Commitment(), reveal, nil
}

// Commitment recomputes the seal commitment for the reveal.
func (r *Reveal) Commitment() Seal {
	var vout [4]byte
	binary.LittleEndian.PutUint32(vout[:], r.OutPoint.Index)

	hash := chainhash.TaggedHash(
		commitmentTag, r.OutPoint.Hash[:], vout[:], r.Blinding[:],
	)

	var s Seal
	copy(s[:], hash[:])
	return s
}

// Verify reports whether the reveal opens the given seal.
func (r *Reveal) Verify(s Seal) bool {
	return r.Commitment() == s
}
