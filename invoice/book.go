package invoice

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/sealswap/sealswap/amount"
	"github.com/sealswap/sealswap/contract"
	"github.com/sealswap/sealswap/seal"
)

// Storage is the ledger surface the invoice book needs: contract lookup plus
// persistence of created invoices and their seal reveals, all scoped by the
// requesting identity.
type Storage interface {
	// ContractPrecision returns the decimal precision of the given
	// contract, or false if the identity doesn't know the contract.
	ContractPrecision(identity string, id contract.ID) (uint8, bool)

	// InsertInvoice stores a freshly created invoice for the identity.
	InsertInvoice(identity string, inv *Invoice) error

	// InsertReveal stores the seal opening backing an invoice so an
	// inbound consignment can later be matched against it.
	InsertReveal(identity string, reveal *seal.Reveal) error

	// FetchInvoice returns the invoice stored under the seal, or false
	// if the identity holds none.
	FetchInvoice(identity string, s seal.Seal) (*Invoice, bool)

	// DeleteInvoice removes the invoice stored under the seal.
	DeleteInvoice(identity string, s seal.Seal) error
}

// BookConfig is the main config of the invoice book.
type BookConfig struct {
	// Store persists created invoices and reveals.
	Store Storage

	// Clock is the time source for creation and expiry stamps.
	Clock clock.Clock
}

// Book creates blinded seals and invoices on behalf of identities.
type Book struct {
	cfg BookConfig
}

// NewBook creates a new invoice book from the config.
func NewBook(cfg BookConfig) *Book {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Book{cfg: cfg}
}

// BlindUtxo creates a fresh blinded seal over the given outpoint and stores
// the reveal for the identity, so an inbound transfer to the seal can be
// claimed later.
func (b *Book) BlindUtxo(identity string, op wire.OutPoint) (seal.Seal,
	*seal.Reveal, error) {

	blindedSeal, reveal, err := seal.Blind(op)
	if err != nil {
		return seal.Seal{}, nil, err
	}

	if err := b.cfg.Store.InsertReveal(identity, reveal); err != nil {
		return seal.Seal{}, nil, fmt.Errorf("unable to store "+
			"reveal: %w", err)
	}

	return blindedSeal, reveal, nil
}

// InvoiceRequest carries the parameters of a new invoice.
type InvoiceRequest struct {
	// ContractID is the contract to receive value of.
	ContractID contract.ID

	// Iface is the contract interface kind.
	Iface contract.Iface

	// Amount is the requested quantity as a decimal string.
	Amount string

	// Seal is the blinded destination commitment.
	Seal seal.Seal

	// ExpireAt is the optional deadline, zero for none.
	ExpireAt time.Time
}

// NewInvoice validates and stores a new single-use receive request.
func (b *Book) NewInvoice(identity string, req InvoiceRequest) (*Invoice,
	error) {

	precision, ok := b.cfg.Store.ContractPrecision(
		identity, req.ContractID,
	)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownContract,
			req.ContractID)
	}

	amt, err := amount.ParseDecimal(req.Amount, precision)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	if req.Seal.IsZero() {
		return nil, ErrInvalidSeal
	}

	inv := &Invoice{
		ContractID: req.ContractID,
		Iface:      req.Iface,
		Amount:     amt,
		Seal:       req.Seal,
		ExpireAt:   req.ExpireAt,
		CreatedAt:  b.cfg.Clock.Now(),
	}

	if err := b.cfg.Store.InsertInvoice(identity, inv); err != nil {
		return nil, fmt.Errorf("unable to store invoice: %w", err)
	}

	log.Infof("Created invoice for %v of contract %v", inv.Amount,
		inv.ContractID)

	return inv, nil
}

// FetchInvoice returns the outstanding invoice behind a seal. The deadline
// is applied lazily at fetch time, there is no background reaper: an overdue
// invoice is removed from the store on first touch and reported expired.
func (b *Book) FetchInvoice(identity string, s seal.Seal) (*Invoice, error) {
	inv, ok := b.cfg.Store.FetchInvoice(identity, s)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownInvoice, s)
	}

	if inv.Expired(b.cfg.Clock.Now()) {
		if err := b.cfg.Store.DeleteInvoice(identity, s); err != nil {
			return nil, err
		}

		log.Debugf("Invoice for seal %v expired at %v, removed", s,
			inv.ExpireAt)

		return nil, fmt.Errorf("%w: deadline was %v",
			ErrInvoiceExpired, inv.ExpireAt)
	}

	return inv, nil
}
