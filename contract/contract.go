// Package contract defines the immutable identity of a client-side-validated
// asset contract: its human metadata, decimal precision, total supply and
// interface kind. A contract never changes after creation, its identifier is
// a tagged hash over the canonical encoding.
package contract

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/sealswap/sealswap/seal"
)

// idTag is the tagged hash domain for contract identifiers.
var idTag = []byte("sealswap/contract/v0")

var (
	// ErrUnknownIface is returned when parsing an unknown interface kind.
	ErrUnknownIface = errors.New("unknown contract interface")

	// ErrInvalidID is returned when a contract id string can't be decoded.
	ErrInvalidID = errors.New("invalid contract id")

	// ErrInvalidArmor is returned when an armored contract blob can't be
	// decoded.
	ErrInvalidArmor = errors.New("invalid armored contract")
)

// Iface is the closed set of contract interface kinds the engine understands.
type Iface uint8

const (
	// IfaceFungible is the fungible asset interface (RGB20).
	IfaceFungible Iface = 20

	// IfaceCollectible is the unique/collectible asset interface (RGB21).
	IfaceCollectible Iface = 21
)

// String returns the interface name as used on the wire.
func (i Iface) String() string {
	switch i {
	case IfaceFungible:
		return "RGB20"
	case IfaceCollectible:
		return "RGB21"
	default:
		return fmt.Sprintf("Iface(%d)", uint8(i))
	}
}

// ParseIface maps an interface name to its kind.
func ParseIface(s string) (Iface, error) {
	switch s {
	case "RGB20":
		return IfaceFungible, nil
	case "RGB21":
		return IfaceCollectible, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownIface, s)
	}
}

// ID is the unique identifier of a contract.
type ID [chainhash.HashSize]byte

// String returns the hex encoded contract id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IDFromString decodes a hex encoded contract id.
func IDFromString(s string) (ID, error) {
	var id ID

	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != chainhash.HashSize {
		return id, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}

	copy(id[:], raw)
	return id, nil
}

// Contract is the immutable definition of an asset contract.
type Contract struct {
	// Ticker is the short human ticker symbol.
	Ticker string

	// Name is the full asset name.
	Name string

	// Precision is the number of decimal places one base unit represents.
	Precision uint8

	// Supply is the total issued supply in base units.
	Supply uint64

	// Iface is the contract interface kind.
	Iface Iface

	// GenesisSeal is the seal the issuance allocation was bound to.
	GenesisSeal seal.Seal
}

// ID computes the contract identifier from the canonical encoding.
func (c *Contract) ID() ID {
	var buf bytes.Buffer

	// The encoding only fails on a misbehaving writer, which a
	// bytes.Buffer is not.
	_ = c.Encode(&buf)

	hash := chainhash.TaggedHash(idTag, buf.Bytes())

	var id ID
	copy(id[:], hash[:])
	return id
}

// Encode serializes the contract as a TLV stream into w.
func (c *Contract) Encode(w io.Writer) error {
	ticker := []byte(c.Ticker)
	name := []byte(c.Name)
	ifaceNum := uint8(c.Iface)
	genesisSeal := [32]byte(c.GenesisSeal)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(1, &ticker),
		tlv.MakePrimitiveRecord(2, &name),
		tlv.MakePrimitiveRecord(3, &c.Precision),
		tlv.MakePrimitiveRecord(4, &c.Supply),
		tlv.MakePrimitiveRecord(5, &ifaceNum),
		tlv.MakePrimitiveRecord(6, &genesisSeal),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode deserializes a contract from the TLV stream in r.
func (c *Contract) Decode(r io.Reader) error {
	var (
		ticker      []byte
		name        []byte
		ifaceNum    uint8
		genesisSeal [32]byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(1, &ticker),
		tlv.MakePrimitiveRecord(2, &name),
		tlv.MakePrimitiveRecord(3, &c.Precision),
		tlv.MakePrimitiveRecord(4, &c.Supply),
		tlv.MakePrimitiveRecord(5, &ifaceNum),
		tlv.MakePrimitiveRecord(6, &genesisSeal),
	)
	if err != nil {
		return err
	}

	if err := stream.Decode(r); err != nil {
		return err
	}

	c.Ticker = string(ticker)
	c.Name = string(name)
	c.Iface = Iface(ifaceNum)
	c.GenesisSeal = seal.Seal(genesisSeal)

	return nil
}

// Armor returns the portable base64 form of the contract, as carried in
// import/export request bodies.
func (c *Contract) Armor() (string, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeArmor parses an armored contract blob.
func DecodeArmor(armored string) (*Contract, error) {
	raw, err := base64.StdEncoding.DecodeString(armored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArmor, err)
	}

	var c Contract
	if err := c.Decode(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArmor, err)
	}

	return &c, nil
}
