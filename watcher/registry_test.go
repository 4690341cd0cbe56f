package watcher

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/sealswap/sealswap/amount"
	"github.com/sealswap/sealswap/consignment"
	"github.com/sealswap/sealswap/contract"
	"github.com/sealswap/sealswap/invoice"
	"github.com/stretchr/testify/require"
)

const (
	testIdentity = Identity("8f6a1c2d3e4f5a6b7c8d9e0f1a2b3c4d")
	peerIdentity = Identity("0011223344556677889900aabbccddee")
)

// newTestRegistry creates a registry on a frozen clock with a watcher for
// the test identity.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	registry := NewRegistry(RegistryConfig{
		Clock: clock.NewTestClock(time.Unix(1_700_000_000, 0)),
	})
	require.NoError(t, registry.CreateWatcher(
		testIdentity, "test watcher", "vpub-test", false,
	))

	return registry
}

// issueTestContract issues a fresh contract with the given supply to the
// test identity, anchored at the given outpoint.
func issueTestContract(t *testing.T, registry *Registry,
	op wire.OutPoint, supply uint64) *contract.Contract {

	t.Helper()

	c, err := registry.IssueContract(testIdentity, IssueRequest{
		Ticker:    "DIBA",
		Name:      "DIBA coin",
		Precision: 2,
		Supply:    supply,
		Iface:     contract.IfaceFungible,
		OutPoint:  op,
	})
	require.NoError(t, err)

	return c
}

// TestCreateWatcher asserts watcher registration semantics: one watcher per
// identity, replaceable only by force.
func TestCreateWatcher(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)

	err := registry.CreateWatcher(testIdentity, "again", "vpub2", false)
	require.ErrorIs(t, err, ErrWatcherExists)

	require.NoError(t, registry.CreateWatcher(
		testIdentity, "replaced", "vpub2", true,
	))

	info, err := registry.Watcher(testIdentity)
	require.NoError(t, err)
	require.Equal(t, "replaced", info.Name)

	_, err = registry.Watcher(peerIdentity)
	require.ErrorIs(t, err, ErrUnknownWatcher)

	require.NoError(t, registry.DeleteWatcher(testIdentity))
	_, err = registry.Watcher(testIdentity)
	require.ErrorIs(t, err, ErrUnknownWatcher)
}

// TestIssueContract asserts issuance credits the full supply as a single
// allocation bound to the request outpoint.
func TestIssueContract(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	genesisOp := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}
	c := issueTestContract(t, registry, genesisOp, 500)

	cs, err := registry.GetContract(testIdentity, c.ID())
	require.NoError(t, err)
	require.Equal(t, amount.New(500, 2), cs.Balance)
	require.Equal(t, 5.0, cs.BalanceNormalized)
	require.Len(t, cs.Allocations, 1)
	require.Equal(t, genesisOp, cs.Allocations[0].OutPoint)

	// The genesis seal opening is retained, since the issuer is also the
	// receiver of the genesis allocation.
	reveal, err := registry.Reveal(testIdentity, c.GenesisSeal)
	require.NoError(t, err)
	require.Equal(t, genesisOp, reveal.OutPoint)

	states, err := registry.ListContracts(testIdentity)
	require.NoError(t, err)
	require.Len(t, states, 1)

	_, err = registry.GetContract(testIdentity, contract.ID{0xff})
	require.ErrorIs(t, err, ErrUnknownContract)
}

// TestImportContract asserts importing is idempotent and enables balance
// queries with an empty allocation set.
func TestImportContract(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)

	c := &contract.Contract{
		Ticker:    "PEER",
		Name:      "peer coin",
		Precision: 2,
		Supply:    100,
		Iface:     contract.IfaceFungible,
	}
	require.NoError(t, registry.ImportContract(testIdentity, c))
	require.NoError(t, registry.ImportContract(testIdentity, c))

	cs, err := registry.GetContract(testIdentity, c.ID())
	require.NoError(t, err)
	require.Equal(t, uint64(0), cs.Balance.Value)
	require.Empty(t, cs.Allocations)
}

// testTransfer builds a transfer for the test identity that spends the
// genesis allocation into two anchor outputs, keeping keepAmt on vout 0 and
// sending the rest to vout 1.
func testTransfer(t *testing.T, c *contract.Contract, genesisOp wire.OutPoint,
	supply, keepAmt uint64) *Transfer {

	t.Helper()

	anchorTx := wire.NewMsgTx(2)
	anchorTx.AddTxIn(&wire.TxIn{PreviousOutPoint: genesisOp})
	anchorTx.AddTxOut(wire.NewTxOut(546, []byte{0x00, 0x14}))
	anchorTx.AddTxOut(wire.NewTxOut(546, []byte{0x00, 0x15}))

	keepVout, sendVout := uint32(0), uint32(1)
	cons, err := consignment.Build(consignment.BuildRequest{
		ContractID: c.ID(),
		Inputs: []consignment.TransitionIn{{
			OutPoint: genesisOp,
			Amount:   supply,
		}},
		Outputs: []consignment.TransitionOut{
			{Vout: &keepVout, Amount: keepAmt},
			{Vout: &sendVout, Amount: supply - keepAmt},
		},
		AnchorTx: anchorTx,
	})
	require.NoError(t, err)

	anchorTxid := cons.AnchorTxid()
	return &Transfer{
		ConsignmentID: cons.ID(),
		Consignment:   cons,
		Consumes:      []wire.OutPoint{genesisOp},
		Gains: []Allocation{{
			ContractID: c.ID(),
			OutPoint: wire.OutPoint{
				Hash:  anchorTxid,
				Index: keepVout,
			},
			Amount: amount.New(keepAmt, c.Precision),
		}},
	}
}

// TestTransferLifecycle walks a transfer from registration through
// acceptance and asserts the ledger deltas apply exactly once.
func TestTransferLifecycle(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	genesisOp := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}
	c := issueTestContract(t, registry, genesisOp, 500)

	transfer := testTransfer(t, c, genesisOp, 500, 100)
	registered, err := registry.RegisterTransfer(testIdentity, transfer)
	require.NoError(t, err)
	require.Equal(t, TransferPending, registered.Status)

	// Re-registration returns the existing entry.
	again, err := registry.RegisterTransfer(
		testIdentity, testTransfer(t, c, genesisOp, 500, 100),
	)
	require.NoError(t, err)
	require.Same(t, registered, again)

	pending, err := registry.PendingTransfers(testIdentity)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Accepting applies the deltas: the genesis allocation is gone and
	// only the kept change remains.
	accepted, err := registry.AcceptTransfer(
		testIdentity, transfer.ConsignmentID,
	)
	require.NoError(t, err)
	require.Equal(t, TransferAccepted, accepted.Status)

	cs, err := registry.GetContract(testIdentity, c.ID())
	require.NoError(t, err)
	require.Equal(t, amount.New(100, 2), cs.Balance)
	require.Len(t, cs.Allocations, 1)

	// Accepting again is a no-op.
	_, err = registry.AcceptTransfer(testIdentity, transfer.ConsignmentID)
	require.NoError(t, err)

	cs, err = registry.GetContract(testIdentity, c.ID())
	require.NoError(t, err)
	require.Equal(t, amount.New(100, 2), cs.Balance)

	// The validator view now knows the spender of the genesis outpoint.
	view := registry.View(testIdentity)
	spender, ok := view.AllocationSpender(genesisOp)
	require.True(t, ok)
	require.Equal(t, transfer.ConsignmentID, spender)
	require.True(t, view.HasContract(c.ID()))
	require.False(t, view.HasContract(contract.ID{0xff}))

	// A rejected transfer can't be accepted, an accepted one can't be
	// rejected.
	_, err = registry.AcceptTransfer(testIdentity, consignment.ID{0xaa})
	require.ErrorIs(t, err, ErrUnknownTransfer)

	err = registry.MarkTransferRejected(
		testIdentity, transfer.ConsignmentID,
	)
	require.Error(t, err)
}

// TestInboundBlindedTransfer asserts the receive path: a blinded seal handed
// out through the invoice book is matched against an inbound consignment and
// resolved to its outpoint on acceptance.
func TestInboundBlindedTransfer(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	genesisOp := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}
	c := issueTestContract(t, registry, genesisOp, 500)

	// The receiver blinds one of its (BTC) outpoints through the invoice
	// book, which persists the reveal in the registry.
	book := invoice.NewBook(invoice.BookConfig{Store: registry})
	receiveOp := wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 1}
	blindedSeal, _, err := book.BlindUtxo(string(testIdentity), receiveOp)
	require.NoError(t, err)

	inv, err := book.NewInvoice(string(testIdentity), invoice.InvoiceRequest{
		ContractID: c.ID(),
		Iface:      contract.IfaceFungible,
		Amount:     "4.00",
		Seal:       blindedSeal,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(400), inv.Amount.Value)

	invoices, err := registry.Invoices(testIdentity)
	require.NoError(t, err)
	require.Len(t, invoices, 1)

	// The payer constructs a consignment paying the blinded seal. The
	// sender's input and change leg mean nothing to the receiver.
	senderOp := wire.OutPoint{Hash: chainhash.Hash{0x03}, Index: 0}
	changeVout := uint32(0)
	anchorTx := wire.NewMsgTx(2)
	anchorTx.AddTxIn(&wire.TxIn{PreviousOutPoint: senderOp})
	anchorTx.AddTxOut(wire.NewTxOut(546, []byte{0x00, 0x14}))

	cons, err := consignment.Build(consignment.BuildRequest{
		ContractID: c.ID(),
		Inputs: []consignment.TransitionIn{{
			OutPoint: senderOp,
			Amount:   1000,
		}},
		Outputs: []consignment.TransitionOut{
			{Blinded: &blindedSeal, Amount: 400},
			{Vout: &changeVout, Amount: 600},
		},
		AnchorTx: anchorTx,
	})
	require.NoError(t, err)

	transfer, err := registry.RegisterInbound(testIdentity, cons)
	require.NoError(t, err)
	require.Empty(t, transfer.Consumes)
	require.Len(t, transfer.Gains, 1)

	_, err = registry.AcceptTransfer(testIdentity, cons.ID())
	require.NoError(t, err)

	cs, err := registry.GetContract(testIdentity, c.ID())
	require.NoError(t, err)
	require.Equal(t, amount.New(900, 2), cs.Balance)

	// The gained allocation sits at the revealed outpoint and the reveal
	// and invoice are consumed.
	_, err = registry.Reveal(testIdentity, blindedSeal)
	require.ErrorIs(t, err, ErrUnknownReveal)

	invoices, err = registry.Invoices(testIdentity)
	require.NoError(t, err)
	require.Empty(t, invoices)

	found := false
	for _, alloc := range cs.Allocations {
		if alloc.OutPoint == receiveOp {
			found = true
			require.Equal(t, uint64(400), alloc.Amount.Value)
		}
	}
	require.True(t, found)
}

// TestExpiredInvoiceClaim asserts a transfer claiming a seal backed by an
// overdue invoice is refused at accept time and leaves the ledger untouched.
func TestExpiredInvoiceClaim(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	registry := NewRegistry(RegistryConfig{Clock: testClock})
	require.NoError(t, registry.CreateWatcher(
		testIdentity, "test watcher", "vpub-test", false,
	))

	genesisOp := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}
	c := issueTestContract(t, registry, genesisOp, 500)

	book := invoice.NewBook(invoice.BookConfig{
		Store: registry,
		Clock: testClock,
	})
	receiveOp := wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 1}
	blindedSeal, _, err := book.BlindUtxo(string(testIdentity), receiveOp)
	require.NoError(t, err)

	_, err = book.NewInvoice(string(testIdentity), invoice.InvoiceRequest{
		ContractID: c.ID(),
		Iface:      contract.IfaceFungible,
		Amount:     "4.00",
		Seal:       blindedSeal,
		ExpireAt:   testClock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	senderOp := wire.OutPoint{Hash: chainhash.Hash{0x03}, Index: 0}
	anchorTx := wire.NewMsgTx(2)
	anchorTx.AddTxIn(&wire.TxIn{PreviousOutPoint: senderOp})
	anchorTx.AddTxOut(wire.NewTxOut(546, []byte{0x00, 0x14}))

	cons, err := consignment.Build(consignment.BuildRequest{
		ContractID: c.ID(),
		Inputs: []consignment.TransitionIn{{
			OutPoint: senderOp,
			Amount:   400,
		}},
		Outputs: []consignment.TransitionOut{
			{Blinded: &blindedSeal, Amount: 400},
		},
		AnchorTx: anchorTx,
	})
	require.NoError(t, err)

	_, err = registry.RegisterInbound(testIdentity, cons)
	require.NoError(t, err)

	// The payment only lands after the invoice deadline, so the claim is
	// refused.
	testClock.SetTime(testClock.Now().Add(2 * time.Hour))

	_, err = registry.AcceptTransfer(testIdentity, cons.ID())
	require.ErrorIs(t, err, invoice.ErrInvoiceExpired)

	cs, err := registry.GetContract(testIdentity, c.ID())
	require.NoError(t, err)
	require.Equal(t, amount.New(500, 2), cs.Balance)
}

// TestRegisterInboundUnknownContract asserts a consignment for a contract
// the identity never imported is refused at registration.
func TestRegisterInboundUnknownContract(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)

	vout := uint32(0)
	anchorTx := wire.NewMsgTx(2)
	anchorTx.AddTxIn(&wire.TxIn{})
	cons, err := consignment.Build(consignment.BuildRequest{
		ContractID: contract.ID{0xee},
		Inputs:     []consignment.TransitionIn{{Amount: 1}},
		Outputs: []consignment.TransitionOut{
			{Vout: &vout, Amount: 1},
		},
		AnchorTx: anchorTx,
	})
	require.NoError(t, err)

	_, err = registry.RegisterInbound(testIdentity, cons)
	require.ErrorIs(t, err, ErrUnknownContract)
}
