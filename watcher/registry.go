package watcher

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/sealswap/sealswap/amount"
	"github.com/sealswap/sealswap/consignment"
	"github.com/sealswap/sealswap/contract"
	"github.com/sealswap/sealswap/invoice"
	"github.com/sealswap/sealswap/seal"
)

var (
	// ErrWatcherExists is returned when a watcher is registered twice for
	// the same identity without forcing replacement.
	ErrWatcherExists = errors.New("watcher already exists")

	// ErrUnknownWatcher is returned when an identity has no registered
	// watcher.
	ErrUnknownWatcher = errors.New("unknown watcher")

	// ErrUnknownContract is returned when an identity references a
	// contract it never imported or issued.
	ErrUnknownContract = errors.New("unknown contract")

	// ErrUnknownTransfer is returned when a consignment id has no entry
	// in the identity's transfer log.
	ErrUnknownTransfer = errors.New("unknown transfer")

	// ErrUnknownReveal is returned when a blinded gain can't be resolved
	// because the identity holds no matching seal opening.
	ErrUnknownReveal = errors.New("no reveal for blinded seal")

	// ErrTransferRejected is returned when a transfer that already failed
	// validation terminally is accepted again.
	ErrTransferRejected = errors.New("transfer was rejected")
)

// RegistryConfig is the main config of the watcher registry.
type RegistryConfig struct {
	// Clock is the time source for creation stamps.
	Clock clock.Clock
}

// Registry is the root of the allocation ledger. It owns one watcher
// aggregate per identity and serializes all mutations per identity.
type Registry struct {
	cfg RegistryConfig

	watchersMtx sync.RWMutex
	watchers    map[Identity]*watcherState
}

// NewRegistry creates a new empty registry from the config.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Registry{
		cfg:      cfg,
		watchers: make(map[Identity]*watcherState),
	}
}

// state returns the watcher aggregate of the identity.
func (r *Registry) state(identity Identity) (*watcherState, error) {
	r.watchersMtx.RLock()
	defer r.watchersMtx.RUnlock()

	state, ok := r.watchers[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownWatcher, identity)
	}

	return state, nil
}

// WatcherInfo is the public view of a registered watcher.
type WatcherInfo struct {
	// Name is the caller supplied watcher name.
	Name string

	// Xpub is the account public key the watcher observes.
	Xpub string
}

// CreateWatcher registers a watcher for the identity. Registering a second
// watcher for the same identity fails unless force is set, in which case the
// existing aggregate is replaced wholesale.
func (r *Registry) CreateWatcher(identity Identity, name, xpub string,
	force bool) error {

	r.watchersMtx.Lock()
	defer r.watchersMtx.Unlock()

	if _, ok := r.watchers[identity]; ok && !force {
		return fmt.Errorf("%w: %v", ErrWatcherExists, identity)
	}

	r.watchers[identity] = newWatcherState(name, xpub, r.cfg.Clock.Now())

	log.Infof("Created watcher %q for %v", name, identity)

	return nil
}

// Watcher returns the public info of the identity's watcher.
func (r *Registry) Watcher(identity Identity) (*WatcherInfo, error) {
	state, err := r.state(identity)
	if err != nil {
		return nil, err
	}

	state.RLock()
	defer state.RUnlock()

	return &WatcherInfo{Name: state.Name, Xpub: state.Xpub}, nil
}

// DeleteWatcher removes the identity's watcher and everything it owns.
func (r *Registry) DeleteWatcher(identity Identity) error {
	r.watchersMtx.Lock()
	defer r.watchersMtx.Unlock()

	if _, ok := r.watchers[identity]; !ok {
		return fmt.Errorf("%w: %v", ErrUnknownWatcher, identity)
	}

	delete(r.watchers, identity)

	return nil
}

// ImportContract makes a contract definition known to the identity, so
// transfers of it can be validated and received. Importing a contract twice
// is a no-op.
func (r *Registry) ImportContract(identity Identity,
	c *contract.Contract) error {

	state, err := r.state(identity)
	if err != nil {
		return err
	}

	state.Lock()
	defer state.Unlock()

	id := c.ID()
	if _, ok := state.contracts[id]; ok {
		return nil
	}

	state.contracts[id] = c

	log.Infof("Imported contract %v (%s) for %v", id, c.Ticker, identity)

	return nil
}

// IssueRequest carries the parameters of a new contract issuance.
type IssueRequest struct {
	// Ticker is the short asset symbol.
	Ticker string

	// Name is the long asset name.
	Name string

	// Precision is the number of decimal places of the asset.
	Precision uint8

	// Supply is the total supply in base units.
	Supply uint64

	// Iface is the contract interface kind.
	Iface contract.Iface

	// OutPoint is the unspent output the full supply is initially bound
	// to.
	OutPoint wire.OutPoint
}

// IssueContract creates a new contract and credits the issuing identity with
// the full supply, bound to the request's outpoint under a fresh genesis
// seal.
func (r *Registry) IssueContract(identity Identity,
	req IssueRequest) (*contract.Contract, error) {

	state, err := r.state(identity)
	if err != nil {
		return nil, err
	}

	genesisSeal, reveal, err := seal.Blind(req.OutPoint)
	if err != nil {
		return nil, fmt.Errorf("unable to create genesis seal: %w", err)
	}

	c := &contract.Contract{
		Ticker:      req.Ticker,
		Name:        req.Name,
		Precision:   req.Precision,
		Supply:      req.Supply,
		Iface:       req.Iface,
		GenesisSeal: genesisSeal,
	}
	id := c.ID()

	state.Lock()
	defer state.Unlock()

	state.contracts[id] = c
	state.reveals[genesisSeal] = reveal

	alloc := &Allocation{
		ContractID: id,
		OutPoint:   req.OutPoint,
		Amount:     amount.New(req.Supply, req.Precision),
		Seal:       genesisSeal,
	}
	state.allocations[alloc.key()] = alloc

	log.Infof("Issued contract %v (%s), supply=%d, anchor=%v", id,
		c.Ticker, req.Supply, req.OutPoint)

	return c, nil
}

// GetContract returns the identity's balance view of the contract.
func (r *Registry) GetContract(identity Identity,
	id contract.ID) (*ContractState, error) {

	state, err := r.state(identity)
	if err != nil {
		return nil, err
	}

	state.RLock()
	defer state.RUnlock()

	return state.contractState(id)
}

// ListContracts returns the identity's balance view of every known contract,
// sorted by ticker.
func (r *Registry) ListContracts(identity Identity) ([]*ContractState, error) {
	state, err := r.state(identity)
	if err != nil {
		return nil, err
	}

	state.RLock()
	defer state.RUnlock()

	states := make([]*ContractState, 0, len(state.contracts))
	for id := range state.contracts {
		cs, err := state.contractState(id)
		if err != nil {
			return nil, err
		}
		states = append(states, cs)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].Contract.Ticker < states[j].Contract.Ticker
	})

	return states, nil
}

// contractState assembles the balance view of a contract. The caller must
// hold the state lock.
func (s *watcherState) contractState(id contract.ID) (*ContractState, error) {
	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownContract, id)
	}

	balance := amount.New(0, c.Precision)
	var allocs []Allocation
	for _, alloc := range s.allocations {
		if alloc.ContractID != id {
			continue
		}

		sum, err := balance.Add(alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt balance: %w", err)
		}
		balance = sum

		allocs = append(allocs, *alloc)
	}

	sort.Slice(allocs, func(i, j int) bool {
		if allocs[i].OutPoint.Hash != allocs[j].OutPoint.Hash {
			return allocs[i].OutPoint.String() <
				allocs[j].OutPoint.String()
		}
		return allocs[i].OutPoint.Index < allocs[j].OutPoint.Index
	})

	return &ContractState{
		Contract:          c,
		Balance:           balance,
		BalanceNormalized: balance.ToFloat64(),
		Allocations:       allocs,
	}, nil
}

// SpendableAllocations returns the identity's unspent allocations of the
// contract, sorted by descending amount so greedy coin selection sees the
// largest coins first.
func (r *Registry) SpendableAllocations(identity Identity,
	id contract.ID) ([]Allocation, error) {

	cs, err := r.GetContract(identity, id)
	if err != nil {
		return nil, err
	}

	allocs := cs.Allocations
	sort.Slice(allocs, func(i, j int) bool {
		return allocs[i].Amount.Value > allocs[j].Amount.Value
	})

	return allocs, nil
}

// RegisterTransfer logs a transfer with its pre-computed ledger deltas as
// pending. Registering the same consignment again is a no-op that returns
// the existing entry.
func (r *Registry) RegisterTransfer(identity Identity,
	transfer *Transfer) (*Transfer, error) {

	state, err := r.state(identity)
	if err != nil {
		return nil, err
	}

	state.Lock()
	defer state.Unlock()

	if existing, ok := state.transfers[transfer.ConsignmentID]; ok {
		return existing, nil
	}

	transfer.Status = TransferPending
	transfer.CreatedAt = r.cfg.Clock.Now()
	state.transfers[transfer.ConsignmentID] = transfer

	log.Debugf("Registered pending transfer %v for %v",
		transfer.ConsignmentID, identity)

	return transfer, nil
}

// RegisterInbound derives and logs a pending transfer from a raw inbound
// consignment: the gains are the blinded outputs this identity holds reveals
// for and the consumed allocations are the inputs it owns.
func (r *Registry) RegisterInbound(identity Identity,
	c *consignment.Consignment) (*Transfer, error) {

	state, err := r.state(identity)
	if err != nil {
		return nil, err
	}

	state.Lock()
	defer state.Unlock()

	id := c.ID()
	if existing, ok := state.transfers[id]; ok {
		return existing, nil
	}

	if _, ok := state.contracts[c.ContractID]; !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownContract,
			c.ContractID)
	}

	contractPrecision := state.contracts[c.ContractID].Precision

	var consumes []wire.OutPoint
	for _, in := range c.Inputs {
		key := AllocationKey{
			ContractID: c.ContractID,
			OutPoint:   in.OutPoint,
		}
		if _, ok := state.allocations[key]; ok {
			consumes = append(consumes, in.OutPoint)
		}
	}

	var gains []Allocation
	for _, out := range c.Outputs {
		if out.Blinded == nil {
			continue
		}
		if _, ok := state.reveals[*out.Blinded]; !ok {
			continue
		}

		// The outpoint is resolved from the reveal at accept time.
		gains = append(gains, Allocation{
			ContractID: c.ContractID,
			Amount:     amount.New(out.Amount, contractPrecision),
			Seal:       *out.Blinded,
		})
	}

	transfer := &Transfer{
		ConsignmentID: id,
		Consignment:   c,
		Status:        TransferPending,
		CreatedAt:     r.cfg.Clock.Now(),
		Consumes:      consumes,
		Gains:         gains,
	}
	state.transfers[id] = transfer

	log.Debugf("Registered inbound transfer %v for %v: %d consumed, "+
		"%d gained", id, identity, len(consumes), len(gains))

	return transfer, nil
}

// AcceptTransfer applies a pending transfer's deltas atomically: every
// consumed allocation is retired and every gained allocation is credited, or
// nothing changes. Accepting an already accepted transfer is a no-op.
func (r *Registry) AcceptTransfer(identity Identity,
	id consignment.ID) (*Transfer, error) {

	state, err := r.state(identity)
	if err != nil {
		return nil, err
	}

	state.Lock()
	defer state.Unlock()

	transfer, ok := state.transfers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownTransfer, id)
	}

	switch transfer.Status {
	case TransferAccepted:
		return transfer, nil

	case TransferRejected:
		return nil, fmt.Errorf("%w: %v", ErrTransferRejected, id)
	}

	// Resolve blinded gains through the stored reveals before touching
	// the ledger, so a missing reveal leaves the state untouched.
	gains := make([]Allocation, len(transfer.Gains))
	usedReveals := make([]seal.Seal, 0, len(transfer.Gains))
	now := r.cfg.Clock.Now()
	for i, gain := range transfer.Gains {
		resolved := gain
		if resolved.OutPoint == (wire.OutPoint{}) {
			reveal, ok := state.reveals[gain.Seal]
			if !ok {
				return nil, fmt.Errorf("%w: %v",
					ErrUnknownReveal, gain.Seal)
			}

			// A gain claimed against an invoice honors the
			// invoice deadline.
			inv, ok := state.invoices[gain.Seal]
			if ok && inv.Expired(now) {
				return nil, fmt.Errorf("%w: seal %v",
					invoice.ErrInvoiceExpired, gain.Seal)
			}

			resolved.OutPoint = reveal.OutPoint
			usedReveals = append(usedReveals, gain.Seal)
		}
		gains[i] = resolved
	}

	for _, op := range transfer.Consumes {
		key := AllocationKey{
			ContractID: transfer.Consignment.ContractID,
			OutPoint:   op,
		}
		delete(state.allocations, key)
		state.spent[key] = id
	}

	for i := range gains {
		gain := gains[i]
		state.allocations[gain.key()] = &gain
	}

	// A reveal backs at most one accepted allocation.
	for _, usedSeal := range usedReveals {
		delete(state.reveals, usedSeal)
		delete(state.invoices, usedSeal)
	}

	transfer.Status = TransferAccepted
	transfer.Gains = gains

	log.Infof("Accepted transfer %v for %v: consumed %d, gained %d "+
		"allocations", id, identity, len(transfer.Consumes),
		len(gains))

	return transfer, nil
}

// MarkTransferRejected records that the transfer's consignment failed
// validation terminally.
func (r *Registry) MarkTransferRejected(identity Identity,
	id consignment.ID) error {

	state, err := r.state(identity)
	if err != nil {
		return err
	}

	state.Lock()
	defer state.Unlock()

	transfer, ok := state.transfers[id]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownTransfer, id)
	}
	if transfer.Status == TransferAccepted {
		return fmt.Errorf("transfer %v already accepted", id)
	}

	transfer.Status = TransferRejected

	log.Warnf("Rejected transfer %v for %v", id, identity)

	return nil
}

// ListTransfers returns the identity's transfer log, newest first.
func (r *Registry) ListTransfers(identity Identity) ([]*Transfer, error) {
	state, err := r.state(identity)
	if err != nil {
		return nil, err
	}

	state.RLock()
	defer state.RUnlock()

	transfers := make([]*Transfer, 0, len(state.transfers))
	for _, transfer := range state.transfers {
		transfers = append(transfers, transfer)
	}

	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].CreatedAt.After(transfers[j].CreatedAt)
	})

	return transfers, nil
}

// PendingTransfers returns the identity's transfers still awaiting
// confirmation checks.
func (r *Registry) PendingTransfers(identity Identity) ([]*Transfer, error) {
	transfers, err := r.ListTransfers(identity)
	if err != nil {
		return nil, err
	}

	var pending []*Transfer
	for _, transfer := range transfers {
		if transfer.Status == TransferPending {
			pending = append(pending, transfer)
		}
	}

	return pending, nil
}

// RegisterReveal stores a seal opening for the identity so an inbound
// transfer to the seal can later be claimed.
func (r *Registry) RegisterReveal(identity Identity,
	reveal *seal.Reveal) error {

	state, err := r.state(identity)
	if err != nil {
		return err
	}

	state.Lock()
	defer state.Unlock()

	state.reveals[reveal.Commitment()] = reveal

	return nil
}

// Reveal returns the stored opening of the given seal, if the identity holds
// one.
func (r *Registry) Reveal(identity Identity, s seal.Seal) (*seal.Reveal,
	error) {

	state, err := r.state(identity)
	if err != nil {
		return nil, err
	}

	state.RLock()
	defer state.RUnlock()

	reveal, ok := state.reveals[s]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownReveal, s)
	}

	return reveal, nil
}

// ledgerView adapts one identity's aggregate to the read-only surface the
// consignment validator needs.
type ledgerView struct {
	registry *Registry
	identity Identity
}

// HasContract reports whether the identity knows the contract.
func (v *ledgerView) HasContract(id contract.ID) bool {
	state, err := v.registry.state(v.identity)
	if err != nil {
		return false
	}

	state.RLock()
	defer state.RUnlock()

	_, ok := state.contracts[id]
	return ok
}

// AllocationSpender returns the consignment that consumed the outpoint, if
// any.
func (v *ledgerView) AllocationSpender(op wire.OutPoint) (consignment.ID,
	bool) {

	state, err := v.registry.state(v.identity)
	if err != nil {
		return consignment.ID{}, false
	}

	state.RLock()
	defer state.RUnlock()

	// An outpoint may back allocations of multiple contracts in theory,
	// but a single anchor spend retires them all at once, so the first
	// match is authoritative.
	for key, id := range state.spent {
		if key.OutPoint == op {
			return id, true
		}
	}

	return consignment.ID{}, false
}

// View returns the identity's ledger as seen by the consignment validator.
func (r *Registry) View(identity Identity) consignment.LedgerView {
	return &ledgerView{registry: r, identity: identity}
}

// ContractPrecision returns the decimal precision of the contract, or false
// if the identity doesn't know it. Part of the invoice storage surface.
func (r *Registry) ContractPrecision(identity string,
	id contract.ID) (uint8, bool) {

	state, err := r.state(Identity(identity))
	if err != nil {
		return 0, false
	}

	state.RLock()
	defer state.RUnlock()

	c, ok := state.contracts[id]
	if !ok {
		return 0, false
	}

	return c.Precision, true
}

// InsertInvoice stores a created invoice for the identity. Part of the
// invoice storage surface.
func (r *Registry) InsertInvoice(identity string, inv *invoice.Invoice) error {
	state, err := r.state(Identity(identity))
	if err != nil {
		return err
	}

	state.Lock()
	defer state.Unlock()

	state.invoices[inv.Seal] = inv

	return nil
}

// InsertReveal stores a seal opening for the identity. Part of the invoice
// storage surface.
func (r *Registry) InsertReveal(identity string, reveal *seal.Reveal) error {
	return r.RegisterReveal(Identity(identity), reveal)
}

// FetchInvoice returns the invoice stored under the seal. Part of the
// invoice storage surface.
func (r *Registry) FetchInvoice(identity string, s seal.Seal) (*invoice.Invoice,
	bool) {

	state, err := r.state(Identity(identity))
	if err != nil {
		return nil, false
	}

	state.RLock()
	defer state.RUnlock()

	inv, ok := state.invoices[s]
	return inv, ok
}

// DeleteInvoice removes the invoice stored under the seal. Part of the
// invoice storage surface.
func (r *Registry) DeleteInvoice(identity string, s seal.Seal) error {
	state, err := r.state(Identity(identity))
	if err != nil {
		return err
	}

	state.Lock()
	defer state.Unlock()

	delete(state.invoices, s)

	return nil
}

// Invoices returns the identity's outstanding invoices.
func (r *Registry) Invoices(identity Identity) ([]*invoice.Invoice, error) {
	state, err := r.state(identity)
	if err != nil {
		return nil, err
	}

	state.RLock()
	defer state.RUnlock()

	invoices := make([]*invoice.Invoice, 0, len(state.invoices))
	for _, inv := range state.invoices {
		invoices = append(invoices, inv)
	}

	sort.Slice(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.Before(invoices[j].CreatedAt)
	})

	return invoices, nil
}

// A compile time assertion that the registry backs the invoice book.
var _ invoice.Storage = (*Registry)(nil)
