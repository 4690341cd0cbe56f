package invoice

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/sealswap/sealswap/contract"
	"github.com/sealswap/sealswap/seal"
	"github.com/stretchr/testify/require"
)

// mockStorage is a Storage backed by plain maps.
type mockStorage struct {
	precisions map[contract.ID]uint8
	invoices   map[seal.Seal]*Invoice
	reveals    []*seal.Reveal
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		precisions: make(map[contract.ID]uint8),
		invoices:   make(map[seal.Seal]*Invoice),
	}
}

func (m *mockStorage) ContractPrecision(_ string, id contract.ID) (uint8,
	bool) {

	precision, ok := m.precisions[id]
	return precision, ok
}

func (m *mockStorage) InsertInvoice(_ string, inv *Invoice) error {
	m.invoices[inv.Seal] = inv
	return nil
}

func (m *mockStorage) InsertReveal(_ string, reveal *seal.Reveal) error {
	m.reveals = append(m.reveals, reveal)
	return nil
}

func (m *mockStorage) FetchInvoice(_ string, s seal.Seal) (*Invoice, bool) {
	inv, ok := m.invoices[s]
	return inv, ok
}

func (m *mockStorage) DeleteInvoice(_ string, s seal.Seal) error {
	delete(m.invoices, s)
	return nil
}

// TestBlindUtxo asserts blinding stores the reveal and the returned seal
// matches the reveal's commitment.
func TestBlindUtxo(t *testing.T) {
	t.Parallel()

	store := newMockStorage()
	book := NewBook(BookConfig{Store: store})

	op := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 3}
	blindedSeal, reveal, err := book.BlindUtxo("identity", op)
	require.NoError(t, err)

	require.Equal(t, op, reveal.OutPoint)
	require.Equal(t, blindedSeal, reveal.Commitment())
	require.Len(t, store.reveals, 1)
}

// TestNewInvoice asserts invoice creation parses the amount at the
// contract's precision and rejects bad requests.
func TestNewInvoice(t *testing.T) {
	t.Parallel()

	store := newMockStorage()
	contractID := contract.ID{0x07}
	store.precisions[contractID] = 2

	testClock := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	book := NewBook(BookConfig{Store: store, Clock: testClock})

	req := InvoiceRequest{
		ContractID: contractID,
		Iface:      contract.IfaceFungible,
		Amount:     "4.2",
		Seal:       seal.Seal{0x01},
	}
	inv, err := book.NewInvoice("identity", req)
	require.NoError(t, err)
	require.Equal(t, uint64(420), inv.Amount.Value)
	require.Equal(t, testClock.Now(), inv.CreatedAt)
	require.False(t, inv.Expired(testClock.Now()))
	require.Len(t, store.invoices, 1)

	// Expiry is only checked against an explicit deadline.
	expiring := req
	expiring.ExpireAt = testClock.Now().Add(time.Hour)
	inv, err = book.NewInvoice("identity", expiring)
	require.NoError(t, err)
	require.False(t, inv.Expired(testClock.Now()))
	require.True(t, inv.Expired(testClock.Now().Add(2*time.Hour)))

	// Unknown contract.
	unknown := req
	unknown.ContractID = contract.ID{0xff}
	_, err = book.NewInvoice("identity", unknown)
	require.ErrorIs(t, err, ErrUnknownContract)

	// Too many decimals for the contract.
	tooPrecise := req
	tooPrecise.Amount = "4.201"
	_, err = book.NewInvoice("identity", tooPrecise)
	require.ErrorIs(t, err, ErrInvalidAmount)

	// A zero seal is unusable.
	noSeal := req
	noSeal.Seal = seal.Seal{}
	_, err = book.NewInvoice("identity", noSeal)
	require.ErrorIs(t, err, ErrInvalidSeal)
}

// TestFetchInvoiceExpiry asserts the deadline is applied lazily at fetch
// time: an overdue invoice is removed from the store on first touch.
func TestFetchInvoiceExpiry(t *testing.T) {
	t.Parallel()

	store := newMockStorage()
	contractID := contract.ID{0x07}
	store.precisions[contractID] = 2

	testClock := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	book := NewBook(BookConfig{Store: store, Clock: testClock})

	invoiceSeal := seal.Seal{0x01}
	_, err := book.NewInvoice("identity", InvoiceRequest{
		ContractID: contractID,
		Iface:      contract.IfaceFungible,
		Amount:     "4.2",
		Seal:       invoiceSeal,
		ExpireAt:   testClock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// Before the deadline the invoice is served.
	inv, err := book.FetchInvoice("identity", invoiceSeal)
	require.NoError(t, err)
	require.Equal(t, uint64(420), inv.Amount.Value)

	// Past the deadline the first fetch reports expiry and removes the
	// invoice, the next fetch no longer finds it.
	testClock.SetTime(testClock.Now().Add(2 * time.Hour))

	_, err = book.FetchInvoice("identity", invoiceSeal)
	require.ErrorIs(t, err, ErrInvoiceExpired)
	require.Empty(t, store.invoices)

	_, err = book.FetchInvoice("identity", invoiceSeal)
	require.ErrorIs(t, err, ErrUnknownInvoice)

	// An invoice without a deadline never expires.
	openSeal := seal.Seal{0x02}
	_, err = book.NewInvoice("identity", InvoiceRequest{
		ContractID: contractID,
		Iface:      contract.IfaceFungible,
		Amount:     "1.0",
		Seal:       openSeal,
	})
	require.NoError(t, err)

	_, err = book.FetchInvoice("identity", openSeal)
	require.NoError(t, err)
}
