package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Mock is a deterministic in-memory chain backend used in tests. It behaves
// like a single-node regtest chain: funding outputs can be conjured for a
// descriptor, broadcast transactions land in a mempool with zero
// confirmations, and Mine buries everything currently known one block
// deeper.
type Mock struct {
	mu sync.Mutex

	// utxos is the current unspent output set.
	utxos map[wire.OutPoint]Utxo

	// spent records which transaction consumed an outpoint.
	spent map[wire.OutPoint]chainhash.Hash

	// confs is the confirmation depth per known transaction.
	confs map[chainhash.Hash]uint32
}

// NewMock creates an empty mock chain.
func NewMock() *Mock {
	return &Mock{
		utxos: make(map[wire.OutPoint]Utxo),
		spent: make(map[wire.OutPoint]chainhash.Hash),
		confs: make(map[chainhash.Hash]uint32),
	}
}

// Fund conjures a confirmed output paying the given descriptor, like sending
// coins from a regtest faucet and mining a block.
func (m *Mock) Fund(desc Descriptor, value btcutil.Amount) (Utxo, error) {
	pkScript, err := desc.PkScript()
	if err != nil {
		return Utxo{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A synthetic funding transaction; the input makes every funding tx
	// unique.
	fundingTx := wire.NewMsgTx(2)
	fundingTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Index: uint32(len(m.confs)),
		},
	})
	fundingTx.AddTxOut(wire.NewTxOut(int64(value), pkScript))

	txid := fundingTx.TxHash()
	utxo := Utxo{
		OutPoint: wire.OutPoint{Hash: txid, Index: 0},
		Value:    value,
		PkScript: pkScript,
	}

	m.utxos[utxo.OutPoint] = utxo
	m.confs[txid] = 1

	return utxo, nil
}

// SeedUtxo registers an arbitrary outpoint as spendable. This is a test
// seam for exercising broadcast paths without building a full funding chain.
func (m *Mock) SeedUtxo(op wire.OutPoint, value btcutil.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.utxos[op] = Utxo{OutPoint: op, Value: value}
}

// checkDeadline maps a dead request context onto the backend timeout
// sentinel, the way a real RPC client surfaces a deadline exceeded call.
func checkDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return nil
}

// ListUtxos returns the unspent outputs controlled by the given descriptor.
func (m *Mock) ListUtxos(ctx context.Context, desc Descriptor) ([]Utxo, error) {
	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}

	pkScript, err := desc.PkScript()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var utxos []Utxo
	for _, utxo := range m.utxos {
		if string(utxo.PkScript) == string(pkScript) {
			utxos = append(utxos, utxo)
		}
	}

	return utxos, nil
}

// Broadcast accepts the transaction into the mempool, rejecting double
// spends and references to unknown outputs.
func (m *Mock) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	if err := checkDeadline(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	txid := tx.TxHash()

	// Re-broadcasting a known transaction is a no-op.
	if _, ok := m.confs[txid]; ok {
		return nil
	}

	for _, txIn := range tx.TxIn {
		prevOut := txIn.PreviousOutPoint
		if spender, ok := m.spent[prevOut]; ok {
			return fmt.Errorf("%w: input %v already spent by %v",
				ErrBroadcastRejected, prevOut, spender)
		}
		if _, ok := m.utxos[prevOut]; !ok {
			return fmt.Errorf("%w: unknown input %v",
				ErrBroadcastRejected, prevOut)
		}
	}

	for _, txIn := range tx.TxIn {
		prevOut := txIn.PreviousOutPoint
		delete(m.utxos, prevOut)
		m.spent[prevOut] = txid
	}

	for idx, txOut := range tx.TxOut {
		op := wire.OutPoint{Hash: txid, Index: uint32(idx)}
		m.utxos[op] = Utxo{
			OutPoint: op,
			Value:    btcutil.Amount(txOut.Value),
			PkScript: txOut.PkScript,
		}
	}

	m.confs[txid] = 0

	return nil
}

// Confirmations returns the confirmation depth of the given transaction.
func (m *Mock) Confirmations(ctx context.Context, txid chainhash.Hash) (uint32,
	error) {

	if err := checkDeadline(ctx); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	confs, ok := m.confs[txid]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrTxNotFound, txid)
	}

	return confs, nil
}

// Mine buries every known transaction one block deeper, n times.
func (m *Mock) Mine(n uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for txid := range m.confs {
		m.confs[txid] += n
	}
}

// A compile time assertion that Mock is a full chain backend.
var _ Bridge = (*Mock)(nil)
