// Package watcher implements the per-identity allocation ledger. A watcher
// is the aggregate owning everything one signing identity knows: imported
// contracts, which UTXOs carry which asset allocations, outstanding invoice
// reveals and the log of pending and accepted transfers. Watchers are never
// shared across identities and no operation mutates another identity's
// records.
package watcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/sealswap/sealswap/amount"
	"github.com/sealswap/sealswap/consignment"
	"github.com/sealswap/sealswap/contract"
	"github.com/sealswap/sealswap/invoice"
	"github.com/sealswap/sealswap/seal"
)

// Identity is the opaque signing identity secret that namespaces all ledger,
// offer and bid records.
type Identity string

// String returns a redacted form of the identity, safe for logging.
func (id Identity) String() string {
	if len(id) <= 8 {
		return "identity(…)"
	}

	return fmt.Sprintf("identity(%s…)", string(id)[:8])
}

// AllocationKey addresses an allocation within a watcher: one contract's
// value bound to one outpoint.
type AllocationKey struct {
	// ContractID is the contract the allocation belongs to.
	ContractID contract.ID

	// OutPoint is the unspent output the allocation is bound to.
	OutPoint wire.OutPoint
}

// Allocation is asset value bound to a specific unspent Bitcoin output. It
// is created when a transfer is accepted and destroyed when its outpoint is
// spent by a later transfer.
type Allocation struct {
	// ContractID is the contract the allocation belongs to.
	ContractID contract.ID

	// OutPoint is the unspent output the allocation is bound to.
	OutPoint wire.OutPoint

	// Amount is the allocated asset quantity.
	Amount amount.Amount

	// Seal is the seal the allocation was received under, if it arrived
	// through a blinded transfer.
	Seal seal.Seal
}

// key returns the map key of the allocation.
func (a *Allocation) key() AllocationKey {
	return AllocationKey{
		ContractID: a.ContractID,
		OutPoint:   a.OutPoint,
	}
}

// TransferStatus is the lifecycle state of a logged transfer.
type TransferStatus uint8

const (
	// TransferPending is a transfer whose consignment was registered but
	// not yet accepted.
	TransferPending TransferStatus = iota

	// TransferAccepted is a transfer whose consignment validated and
	// whose ledger deltas were applied.
	TransferAccepted

	// TransferRejected is a transfer whose consignment failed validation
	// terminally.
	TransferRejected
)

// String returns the transfer status name.
func (s TransferStatus) String() string {
	switch s {
	case TransferPending:
		return "pending"
	case TransferAccepted:
		return "accepted"
	case TransferRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Transfer is one entry of a watcher's transfer log: a consignment together
// with the ledger deltas it implies for this identity.
type Transfer struct {
	// ConsignmentID identifies the consignment.
	ConsignmentID consignment.ID

	// Consignment is the full transfer proof.
	Consignment *consignment.Consignment

	// Status is the current lifecycle state.
	Status TransferStatus

	// CreatedAt is when the transfer was first registered.
	CreatedAt time.Time

	// Consumes are the outpoints of this identity's allocations the
	// transfer spends.
	Consumes []wire.OutPoint

	// Gains are the allocations this identity is credited with once the
	// transfer is accepted.
	Gains []Allocation
}

// ContractState is the balance view of one contract for one identity.
type ContractState struct {
	// Contract is the immutable contract definition.
	Contract *contract.Contract

	// Balance is the spendable balance in base units: the sum of all
	// allocations referencing unspent outpoints.
	Balance amount.Amount

	// BalanceNormalized is the human readable balance.
	BalanceNormalized float64

	// Allocations are the unspent allocations backing the balance.
	Allocations []Allocation
}

// watcherState is the private aggregate per identity. The embedded mutex
// serializes all ledger mutations for the identity, so a transfer is applied
// atomically with respect to concurrent balance reads.
type watcherState struct {
	sync.RWMutex

	// Name is the caller supplied watcher name.
	Name string

	// Xpub is the account public key the watcher observes.
	Xpub string

	// CreatedAt is when the watcher was created.
	CreatedAt time.Time

	// contracts are the known contract definitions.
	contracts map[contract.ID]*contract.Contract

	// allocations is the unspent allocation set.
	allocations map[AllocationKey]*Allocation

	// spent maps consumed allocations to the consignment that consumed
	// them.
	spent map[AllocationKey]consignment.ID

	// reveals are the outstanding seal openings handed out through
	// invoices, keyed by their commitment. Each is consumed at most once.
	reveals map[seal.Seal]*seal.Reveal

	// invoices are the outstanding receive requests, keyed by their seal.
	invoices map[seal.Seal]*invoice.Invoice

	// transfers is the transfer log keyed by consignment id.
	transfers map[consignment.ID]*Transfer
}

// newWatcherState creates an empty watcher aggregate.
func newWatcherState(name, xpub string, createdAt time.Time) *watcherState {
	return &watcherState{
		Name:        name,
		Xpub:        xpub,
		CreatedAt:   createdAt,
		contracts:   make(map[contract.ID]*contract.Contract),
		allocations: make(map[AllocationKey]*Allocation),
		spent:       make(map[AllocationKey]consignment.ID),
		reveals:     make(map[seal.Seal]*seal.Reveal),
		invoices:    make(map[seal.Seal]*invoice.Invoice),
		transfers:   make(map[consignment.ID]*Transfer),
	}
}
