package porter

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/sealswap/sealswap/chain"
	"github.com/sealswap/sealswap/consignment"
	"github.com/sealswap/sealswap/contract"
	"github.com/sealswap/sealswap/invoice"
	"github.com/sealswap/sealswap/watcher"
	"github.com/stretchr/testify/require"
)

const (
	senderIdentity   = watcher.Identity("sender-identity-000000000000001")
	receiverIdentity = watcher.Identity("receiver-identity-0000000000002")
)

// testSetup is the shared fixture of the porter tests.
type testSetup struct {
	backend  *chain.Mock
	registry *watcher.Registry
	porter   *Porter
	ticker   *ticker.Force

	contract *contract.Contract
	armored  string
	consID   consignment.ID
}

// newTestSetup builds a pending inbound transfer: the receiver hands out a
// blinded seal, the sender anchors a consignment paying it and broadcasts
// the anchor, unconfirmed.
func newTestSetup(t *testing.T) *testSetup {
	t.Helper()

	backend := chain.NewMock()
	registry := watcher.NewRegistry(watcher.RegistryConfig{})
	validator := consignment.NewValidator(consignment.ValidatorConfig{
		Chain:    backend,
		MinConfs: 1,
	})
	forceTicker := ticker.NewForce(time.Hour)
	p := NewPorter(PorterConfig{
		Registry:  registry,
		Validator: validator,
		Ticker:    forceTicker,
	})

	require.NoError(t, registry.CreateWatcher(
		senderIdentity, "sender", "vpub-s", false,
	))
	require.NoError(t, registry.CreateWatcher(
		receiverIdentity, "receiver", "vpub-r", false,
	))

	// The sender issues the asset, the receiver imports the definition.
	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	senderDesc := chain.NewDescriptor(privKey)
	senderCoin, err := backend.Fund(senderDesc, 100_000)
	require.NoError(t, err)

	c, err := registry.IssueContract(senderIdentity, watcher.IssueRequest{
		Ticker:    "DIBA",
		Name:      "DIBA coin",
		Precision: 2,
		Supply:    400,
		Iface:     contract.IfaceFungible,
		OutPoint:  senderCoin.OutPoint,
	})
	require.NoError(t, err)
	require.NoError(t, registry.ImportContract(receiverIdentity, c))

	// The receiver blinds one of its coins for the invoice.
	book := invoice.NewBook(invoice.BookConfig{Store: registry})
	receiverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	receiverCoin, err := backend.Fund(
		chain.NewDescriptor(receiverKey), 10_000,
	)
	require.NoError(t, err)

	blindedSeal, _, err := book.BlindUtxo(
		string(receiverIdentity), receiverCoin.OutPoint,
	)
	require.NoError(t, err)

	// The sender anchors the transition and broadcasts, one output of
	// change and one carrying the commitment.
	transition := &consignment.Consignment{
		ContractID: c.ID(),
		Inputs: []consignment.TransitionIn{{
			OutPoint: senderCoin.OutPoint,
			Amount:   400,
		}},
		Outputs: []consignment.TransitionOut{{
			Blinded: &blindedSeal,
			Amount:  400,
		}},
	}
	commitment := transition.TransitionCommitment()
	commitScript, err := txscript.NullDataScript(commitment[:])
	require.NoError(t, err)

	anchorTx := wire.NewMsgTx(2)
	anchorTx.AddTxIn(wire.NewTxIn(&senderCoin.OutPoint, nil, nil))
	anchorTx.AddTxOut(wire.NewTxOut(99_000, senderCoin.PkScript))
	anchorTx.AddTxOut(wire.NewTxOut(0, commitScript))
	require.NoError(t, backend.Broadcast(context.Background(), anchorTx))

	inbound, err := consignment.Build(consignment.BuildRequest{
		ContractID: c.ID(),
		Inputs:     transition.Inputs,
		Outputs:    transition.Outputs,
		AnchorTx:   anchorTx,
	})
	require.NoError(t, err)

	armored, err := inbound.Armor()
	require.NoError(t, err)

	return &testSetup{
		backend:  backend,
		registry: registry,
		porter:   p,
		ticker:   forceTicker,
		contract: c,
		armored:  armored,
		consID:   inbound.ID(),
	}
}

// receiverBalance returns the receiver's balance in base units.
func receiverBalance(t *testing.T, s *testSetup) uint64 {
	t.Helper()

	cs, err := s.registry.GetContract(receiverIdentity, s.contract.ID())
	require.NoError(t, err)

	return cs.Balance.Value
}

// TestAcceptConsignment asserts an unconfirmed consignment stays pending
// and a confirmed one applies, idempotently.
func TestAcceptConsignment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSetup(t)

	// Unconfirmed anchor: registered but pending.
	res, err := s.porter.AcceptConsignment(
		ctx, receiverIdentity, s.armored,
	)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Contains(t, res.Reason, "confirmations")
	require.Equal(t, watcher.TransferPending, res.Transfer.Status)
	require.Zero(t, receiverBalance(t, s))

	// Confirmed: applies.
	s.backend.Mine(1)
	res, err = s.porter.AcceptConsignment(
		ctx, receiverIdentity, s.armored,
	)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, watcher.TransferAccepted, res.Transfer.Status)
	require.EqualValues(t, 400, receiverBalance(t, s))

	// Feeding the proof a third time changes nothing.
	res, err = s.porter.AcceptConsignment(
		ctx, receiverIdentity, s.armored,
	)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.EqualValues(t, 400, receiverBalance(t, s))

	// Garbage armor is rejected outright.
	_, err = s.porter.AcceptConsignment(ctx, receiverIdentity, "???")
	require.ErrorIs(t, err, consignment.ErrInvalidArmor)
}

// TestVerifyTransfers asserts the verifier promotes pending transfers once
// their anchor is buried deep enough.
func TestVerifyTransfers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSetup(t)

	_, err := s.porter.AcceptConsignment(ctx, receiverIdentity, s.armored)
	require.NoError(t, err)

	// Still unconfirmed.
	results, err := s.porter.VerifyTransfers(ctx, receiverIdentity)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].IsAccept)

	s.backend.Mine(1)
	results, err = s.porter.VerifyTransfers(ctx, receiverIdentity)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].IsAccept)
	require.Equal(t, s.consID, results[0].ConsignmentID)
	require.EqualValues(t, 400, receiverBalance(t, s))

	// Nothing pending anymore.
	results, err = s.porter.VerifyTransfers(ctx, receiverIdentity)
	require.NoError(t, err)
	require.Empty(t, results)
}

// TestBackgroundLoop asserts the ticker driven loop promotes watched
// identities' transfers without explicit verify calls.
func TestBackgroundLoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSetup(t)

	_, err := s.porter.AcceptConsignment(ctx, receiverIdentity, s.armored)
	require.NoError(t, err)

	s.porter.Watch(receiverIdentity)
	s.porter.Start()
	defer s.porter.Stop()

	s.backend.Mine(1)
	s.ticker.Force <- time.Now()

	require.Eventually(t, func() bool {
		return receiverBalance(t, s) == 400
	}, 3*time.Second, 10*time.Millisecond)
}
