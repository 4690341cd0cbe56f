package consignment

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sealswap/sealswap/chain"
	"github.com/sealswap/sealswap/contract"
)

// LedgerView is the read-only view of a single identity's ledger the
// validator checks a consignment against. Validation never mutates the
// ledger, acceptance is a separate explicit step.
type LedgerView interface {
	// HasContract reports whether the contract is known to the identity.
	HasContract(id contract.ID) bool

	// AllocationSpender returns the id of the accepted consignment that
	// already consumed the given outpoint, if any.
	AllocationSpender(op wire.OutPoint) (ID, bool)
}

// Result is the outcome of validating a consignment. An invalid consignment
// carries the reason it was rejected; backend failures are surfaced as
// errors instead, since they are retryable.
type Result struct {
	// Valid reports whether the consignment may be accepted.
	Valid bool

	// Reason names the failed check for an invalid consignment.
	Reason string
}

// invalid is a small helper for a failed validation result.
func invalid(format string, args ...interface{}) Result {
	reason := fmt.Sprintf(format, args...)
	log.Debugf("Consignment rejected: %s", reason)

	return Result{Reason: reason}
}

// ValidatorConfig holds the configuration of the consignment validator.
type ValidatorConfig struct {
	// Chain is our bridge to the chain we operate on.
	Chain chain.Bridge

	// MinConfs is the confirmation depth required of the anchor
	// transaction before a consignment may settle a transfer. Zero means
	// a valid mempool broadcast is enough.
	MinConfs uint32
}

// Validator checks inbound consignments against the receiver's ledger and
// Bitcoin history before any balance is credited.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a new validator from the config.
func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate runs all consignment checks: the transition balances, the anchor
// transaction commits to the transition and is known to the chain backend at
// sufficient depth, and no consumed allocation was already spent by a
// different accepted consignment.
func (v *Validator) Validate(ctx context.Context, c *Consignment,
	view LedgerView) (Result, error) {

	if !view.HasContract(c.ContractID) {
		return invalid("unknown contract %v", c.ContractID), nil
	}

	var inSum, outSum uint64
	for _, in := range c.Inputs {
		inSum += in.Amount
	}
	for _, out := range c.Outputs {
		outSum += out.Amount
	}
	if len(c.Inputs) == 0 || inSum != outSum {
		return invalid("transition does not balance: in=%d out=%d",
			inSum, outSum), nil
	}

	// The anchor transaction must carry the transition commitment in a
	// null data output.
	if !anchorCommits(&c.AnchorTx, c.TransitionCommitment()) {
		return invalid("anchor tx misses transition commitment"), nil
	}

	// Every anchor vout destination must actually exist on the anchor
	// transaction.
	for _, out := range c.Outputs {
		if out.Vout != nil && *out.Vout >= uint32(len(c.AnchorTx.TxOut)) {
			return invalid("anchor vout %d out of range",
				*out.Vout), nil
		}
	}

	// The anchor must at least be validly broadcast; settling requires
	// the configured depth.
	confs, err := v.cfg.Chain.Confirmations(ctx, c.AnchorTxid())
	switch {
	case errors.Is(err, chain.ErrTxNotFound):
		return invalid("anchor tx %v not broadcast", c.AnchorTxid()),
			nil

	case err != nil:
		return Result{}, fmt.Errorf("unable to query anchor "+
			"confirmations: %w", err)
	}

	if confs < v.cfg.MinConfs {
		return invalid("anchor tx %v has %d of %d required "+
			"confirmations", c.AnchorTxid(), confs,
			v.cfg.MinConfs), nil
	}

	// Reject double spends of allocations the ledger already saw being
	// consumed by a different consignment. The same consignment seeing
	// its own inputs again is the idempotent re-validation case.
	selfID := c.ID()
	for _, in := range c.Inputs {
		spender, ok := view.AllocationSpender(in.OutPoint)
		if ok && spender != selfID {
			return invalid("allocation %v already consumed by "+
				"consignment %v", in.OutPoint, spender), nil
		}
	}

	return Result{Valid: true}, nil
}

// anchorCommits reports whether the transaction carries the given transition
// commitment in one of its null data outputs.
func anchorCommits(tx *wire.MsgTx, commitment [32]byte) bool {
	expected, err := txscript.NullDataScript(commitment[:])
	if err != nil {
		return false
	}

	for _, txOut := range tx.TxOut {
		if bytes.Equal(txOut.PkScript, expected) {
			return true
		}
	}

	return false
}
