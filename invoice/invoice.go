// Package invoice implements receive requests: a single-use combination of
// contract, interface, amount and a blinded seal that lets a payer construct
// a transfer without learning the receiver's destination output.
package invoice

import (
	"errors"
	"time"

	"github.com/sealswap/sealswap/amount"
	"github.com/sealswap/sealswap/contract"
	"github.com/sealswap/sealswap/seal"
)

var (
	// ErrUnknownContract is returned when an invoice references a
	// contract the identity never imported or issued.
	ErrUnknownContract = errors.New("unknown contract")

	// ErrInvalidAmount is returned when the requested amount can't be
	// represented at the contract's precision.
	ErrInvalidAmount = errors.New("invalid invoice amount")

	// ErrInvalidSeal is returned when an invoice carries no usable seal.
	ErrInvalidSeal = errors.New("invalid invoice seal")

	// ErrUnknownInvoice is returned when no invoice is stored under the
	// requested seal.
	ErrUnknownInvoice = errors.New("unknown invoice")

	// ErrInvoiceExpired is returned when an invoice is fetched or
	// redeemed past its deadline.
	ErrInvoiceExpired = errors.New("invoice expired")
)

// Invoice is a single-use receive request. It expires implicitly once
// consumed, or explicitly via its deadline.
type Invoice struct {
	// ContractID is the contract the receiver expects value of.
	ContractID contract.ID

	// Iface is the contract interface kind.
	Iface contract.Iface

	// Amount is the requested quantity.
	Amount amount.Amount

	// Seal is the blinded destination commitment.
	Seal seal.Seal

	// ExpireAt is the optional deadline, zero for none.
	ExpireAt time.Time

	// CreatedAt is when the invoice was created.
	CreatedAt time.Time
}

// Expired reports whether the invoice deadline has passed at the given time.
func (i *Invoice) Expired(now time.Time) bool {
	return !i.ExpireAt.IsZero() && now.After(i.ExpireAt)
}
