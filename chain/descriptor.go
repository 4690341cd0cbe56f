package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrInvalidDescriptor is returned when a descriptor expression can't
	// be parsed.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrPublicDescriptor is returned when signing material is requested
	// from a watch-only descriptor.
	ErrPublicDescriptor = errors.New("descriptor carries no private key")
)

// Descriptor is a key expression identifying the class of outputs a given
// piece of key material controls. The engine understands native segwit
// single key expressions: wpkh(<hex private key>) for signing descriptors
// and wpkh(<hex compressed public key>) for watch-only ones.
type Descriptor string

// inner returns the hex key payload of the wpkh expression.
func (d Descriptor) inner() (string, error) {
	s := strings.TrimSpace(string(d))
	if !strings.HasPrefix(s, "wpkh(") || !strings.HasSuffix(s, ")") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDescriptor, s)
	}

	return strings.TrimSuffix(strings.TrimPrefix(s, "wpkh("), ")"), nil
}

// IsPrivate reports whether the descriptor carries a private key.
func (d Descriptor) IsPrivate() bool {
	payload, err := d.inner()
	if err != nil {
		return false
	}

	// A 32 byte private key, vs a 33 byte compressed public key.
	return len(payload) == 2*btcec.PrivKeyBytesLen
}

// PrivKey returns the descriptor's private key.
func (d Descriptor) PrivKey() (*btcec.PrivateKey, error) {
	payload, err := d.inner()
	if err != nil {
		return nil, err
	}

	if len(payload) != 2*btcec.PrivKeyBytesLen {
		return nil, ErrPublicDescriptor
	}

	raw, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	privKey, _ := btcec.PrivKeyFromBytes(raw)
	return privKey, nil
}

// PubKey returns the descriptor's public key, deriving it from the private
// key for signing descriptors.
func (d Descriptor) PubKey() (*btcec.PublicKey, error) {
	payload, err := d.inner()
	if err != nil {
		return nil, err
	}

	if len(payload) == 2*btcec.PrivKeyBytesLen {
		privKey, err := d.PrivKey()
		if err != nil {
			return nil, err
		}

		return privKey.PubKey(), nil
	}

	raw, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	pubKey, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	return pubKey, nil
}

// PkScript returns the native segwit output script the descriptor controls.
func (d Descriptor) PkScript() ([]byte, error) {
	pubKey, err := d.PubKey()
	if err != nil {
		return nil, err
	}

	keyHash := btcutil.Hash160(pubKey.SerializeCompressed())

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(keyHash).
		Script()
}

// Public strips the signing material and returns the watch-only form of the
// descriptor.
func (d Descriptor) Public() (Descriptor, error) {
	pubKey, err := d.PubKey()
	if err != nil {
		return "", err
	}

	return NewPublicDescriptor(pubKey), nil
}

// NewDescriptor creates a signing descriptor for the given private key.
func NewDescriptor(privKey *btcec.PrivateKey) Descriptor {
	return Descriptor(fmt.Sprintf(
		"wpkh(%x)", privKey.Serialize(),
	))
}

// NewPublicDescriptor creates a watch-only descriptor for the given public
// key.
func NewPublicDescriptor(pubKey *btcec.PublicKey) Descriptor {
	return Descriptor(fmt.Sprintf(
		"wpkh(%x)", pubKey.SerializeCompressed(),
	))
}
