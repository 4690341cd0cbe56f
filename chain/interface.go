// Package chain abstracts the Bitcoin chain backend the engine relies on:
// UTXO retrieval for a descriptor, transaction broadcast and confirmation
// depth queries. The backend is assumed eventually consistent, callers
// re-validate allocation ownership at signing time rather than trusting a
// snapshot.
package chain

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrTxNotFound is returned when a transaction is unknown to the
	// backend.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrBroadcastRejected is returned when the backend refuses to relay
	// a transaction (mempool conflict, fee too low). This is retryable by
	// the caller, typically with a bumped fee.
	ErrBroadcastRejected = errors.New("broadcast rejected by backend")

	// ErrBackendTimeout is returned when a backend call did not complete
	// within the caller supplied deadline. Records are always left in
	// their pre-call state when this is returned.
	ErrBackendTimeout = errors.New("chain backend timeout")
)

// Utxo is an unspent transaction output as reported by the backend.
type Utxo struct {
	// OutPoint identifies the output.
	OutPoint wire.OutPoint

	// Value is the bitcoin value of the output.
	Value btcutil.Amount

	// PkScript is the output script.
	PkScript []byte
}

// Bridge is our bridge to the chain we operate on.
type Bridge interface {
	// ListUtxos returns the unspent outputs controlled by the given
	// descriptor.
	ListUtxos(ctx context.Context, desc Descriptor) ([]Utxo, error)

	// Broadcast attempts to relay the given transaction to the network.
	Broadcast(ctx context.Context, tx *wire.MsgTx) error

	// Confirmations returns the confirmation depth of the given
	// transaction, zero if it is known but unconfirmed.
	Confirmations(ctx context.Context, txid chainhash.Hash) (uint32,
		error)
}
