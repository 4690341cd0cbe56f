// Package swap implements the offer, bid and auction state machine that
// coordinates atomic asset-for-bitcoin swaps. Sellers publish offers backed
// by an asset allocation, buyers attach bids with their own funded and
// signed transaction legs, and finalization merges both sides into one
// anchor transaction so either both legs settle or neither does.
package swap

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/sealswap/sealswap/amount"
	"github.com/sealswap/sealswap/chain"
	"github.com/sealswap/sealswap/consignment"
	"github.com/sealswap/sealswap/contract"
	"github.com/sealswap/sealswap/watcher"
)

var (
	// ErrOfferNotFound is returned when an order id has no offer.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrBundleNotFound is returned when a bundle id has no auction
	// bundle.
	ErrBundleNotFound = errors.New("auction bundle not found")

	// ErrWrongStrategy is returned when an operation is applied to an
	// offer of a strategy it doesn't support.
	ErrWrongStrategy = errors.New("operation not valid for offer strategy")

	// ErrOfferExpired is returned when an offer's deadline passed before
	// the attempted transition.
	ErrOfferExpired = errors.New("offer expired")

	// ErrOfferNotOpen is returned when an offer in a terminal or
	// finalizing state is bid on or finalized again.
	ErrOfferNotOpen = errors.New("offer not open for this transition")

	// ErrInsufficientAllocation is returned when the seller holds no
	// allocation covering the offered amount.
	ErrInsufficientAllocation = errors.New("insufficient allocation")

	// ErrAmountExceedsOffer is returned when a bid asks for more than
	// the offer's remaining amount.
	ErrAmountExceedsOffer = errors.New("bid exceeds remaining offer " +
		"amount")

	// ErrNoBids is returned when finalization is attempted on an offer
	// without any bid.
	ErrNoBids = errors.New("offer has no bids")

	// ErrAmbiguousBid is returned when an offer holds more than one bid
	// at finalize time. The engine fails closed instead of picking one.
	ErrAmbiguousBid = errors.New("multiple bids, refusing to pick")

	// ErrMissingSellerSignature is returned when finalization needs a
	// pre-signed seller leg the offer doesn't carry.
	ErrMissingSellerSignature = errors.New("offer carries no seller " +
		"signature")
)

// Strategy selects how an offer is matched and signed.
type Strategy uint8

const (
	// StrategyP2P is a direct peer-to-peer swap. The seller pre-signs
	// its leg when the offer is created, or attaches it later after
	// signing out of band.
	StrategyP2P Strategy = iota

	// StrategyHotSwap defers the seller signature to finalize time, the
	// seller key must be online when the swap completes.
	StrategyHotSwap

	// StrategyAuction groups offers into a bundle signed in one round,
	// with an explicit finish call closing the bidding.
	StrategyAuction
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyP2P:
		return "p2p"
	case StrategyHotSwap:
		return "hotswap"
	case StrategyAuction:
		return "auction"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// OfferState is the lifecycle state of an offer.
type OfferState uint8

const (
	// OfferOpen accepts bids, the seller leg is not signed yet.
	OfferOpen OfferState = iota

	// OfferSellerSigned accepts bids and already carries the signed
	// seller leg.
	OfferSellerSigned

	// OfferMatched holds at least one bid.
	OfferMatched

	// OfferFinalizing has its anchor transaction broadcast but not yet
	// buried deep enough.
	OfferFinalizing

	// OfferSettled is terminal, the anchor transaction is confirmed.
	OfferSettled

	// OfferExpired is terminal, the deadline passed before settlement.
	OfferExpired

	// OfferCancelled is terminal, the allocation returns to the seller
	// untouched.
	OfferCancelled
)

// String returns the offer state name.
func (s OfferState) String() string {
	switch s {
	case OfferOpen:
		return "open"
	case OfferSellerSigned:
		return "seller_signed"
	case OfferMatched:
		return "matched"
	case OfferFinalizing:
		return "finalizing"
	case OfferSettled:
		return "settled"
	case OfferExpired:
		return "expired"
	case OfferCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// terminal reports whether the state accepts no further transitions.
func (s OfferState) terminal() bool {
	return s == OfferSettled || s == OfferExpired || s == OfferCancelled
}

// biddable reports whether the offer may collect further bids.
func (s OfferState) biddable() bool {
	return s == OfferOpen || s == OfferSellerSigned || s == OfferMatched
}

// OrderID identifies offers, bids and bundles.
type OrderID [32]byte

// NewOrderID creates a fresh random order id.
func NewOrderID() (OrderID, error) {
	var id OrderID
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}

	return id, nil
}

// String returns the hex encoded order id.
func (id OrderID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseOrderID parses the hex form of an order id.
func ParseOrderID(s string) (OrderID, error) {
	var id OrderID

	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid order id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid order id: %d bytes", len(raw))
	}

	copy(id[:], raw)
	return id, nil
}

// Bid is a buyer's claim on part of an offer, carrying the buyer's funded
// and signed side of the anchor transaction.
type Bid struct {
	// ID identifies the bid.
	ID OrderID

	// OfferID is the offer the bid is attached to.
	OfferID OrderID

	// Buyer is the bidding identity.
	Buyer watcher.Identity

	// Amount is the asset quantity the buyer asks for.
	Amount amount.Amount

	// Price is the bitcoin value the buyer pays the seller.
	Price btcutil.Amount

	// Packet is the full anchor transaction template with the buyer's
	// inputs signed.
	Packet *psbt.Packet

	// CreatedAt is when the bid was created.
	CreatedAt time.Time
}

// Offer is a seller's intent to swap an asset allocation for bitcoin.
type Offer struct {
	// mtx serializes every transition of this offer, bids against the
	// same offer never interleave.
	mtx sync.Mutex

	// ID identifies the offer.
	ID OrderID

	// BundleID groups auction offers, zero otherwise.
	BundleID OrderID

	// Seller is the offering identity.
	Seller watcher.Identity

	// ContractID is the contract being sold.
	ContractID contract.ID

	// Amount is the offered asset quantity.
	Amount amount.Amount

	// Price is the asking bitcoin value for the full amount.
	Price btcutil.Amount

	// Strategy selects the matching and signing flow.
	Strategy Strategy

	// State is the current lifecycle state.
	State OfferState

	// ExpireAt is the offer deadline, zero for none.
	ExpireAt time.Time

	// CreatedAt is when the offer was created.
	CreatedAt time.Time

	// AssetUtxo is the coin carrying the backing allocation.
	AssetUtxo chain.Utxo

	// AllocationAmount is the full value of the backing allocation,
	// of which Amount is offered.
	AllocationAmount amount.Amount

	// ReceiveScript is the seller output script receiving the price and
	// anchoring the seller's remainder allocation.
	ReceiveScript []byte

	// SellerPacket is the pre-signed seller leg, nil until signed.
	SellerPacket *psbt.Packet

	// Bids are the bids collected so far.
	Bids []*Bid

	// FinalTx is the broadcast anchor transaction, nil until
	// finalization.
	FinalTx *wire.MsgTx

	// Consignment is the transfer proof of the settled swap, nil until
	// finalization.
	Consignment *consignment.Consignment
}

// remaining returns the unbid part of the offered amount.
func (o *Offer) remaining() uint64 {
	left := o.Amount.Value
	for _, bid := range o.Bids {
		if bid.Amount.Value >= left {
			return 0
		}
		left -= bid.Amount.Value
	}

	return left
}

// BundleState is the lifecycle state of an auction bundle.
type BundleState uint8

const (
	// BundleOpen collects bids on its offers.
	BundleOpen BundleState = iota

	// BundleFinalized is terminal, every member offer was either
	// finalized or cancelled.
	BundleFinalized
)

// String returns the bundle state name.
func (s BundleState) String() string {
	switch s {
	case BundleOpen:
		return "open"
	case BundleFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Bundle groups auction offers signed together in one seller round.
type Bundle struct {
	// ID identifies the bundle.
	ID OrderID

	// Seller is the offering identity.
	Seller watcher.Identity

	// OfferIDs are the member offers.
	OfferIDs []OrderID

	// State is the current lifecycle state.
	State BundleState

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time
}

// SwapTransfer is the result of finalizing an offer: the broadcast anchor
// transaction and the consignment both parties accept independently.
type SwapTransfer struct {
	// OfferID is the finalized offer.
	OfferID OrderID

	// BidID is the winning bid.
	BidID OrderID

	// FinalTx is the fully signed, broadcast anchor transaction.
	FinalTx *wire.MsgTx

	// Consignment is the transfer proof.
	Consignment *consignment.Consignment

	// ConsignmentID identifies the consignment.
	ConsignmentID consignment.ID
}
