package swap

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/sealswap/sealswap/amount"
	"github.com/sealswap/sealswap/chain"
	"github.com/sealswap/sealswap/consignment"
	"github.com/sealswap/sealswap/contract"
	"github.com/sealswap/sealswap/fn"
	"github.com/sealswap/sealswap/signer"
	"github.com/sealswap/sealswap/swappsbt"
	"github.com/sealswap/sealswap/watcher"
	"golang.org/x/exp/maps"
)

// anchorOutputValue is the bitcoin value of the buyer output that anchors
// the bought allocation. Comfortably above the native segwit dust limit.
const anchorOutputValue = 1_000

// ManagerConfig is the main config of the swap manager.
type ManagerConfig struct {
	// Registry is the allocation ledger of all identities on this node.
	Registry *watcher.Registry

	// Chain is the chain backend.
	Chain chain.Bridge

	// Composer builds the anchor transaction packets.
	Composer *swappsbt.Composer

	// Signer signs, finalizes and publishes packets.
	Signer *signer.Signer

	// Clock is the time source for expiry checks.
	Clock clock.Clock

	// MinConfs is the confirmation depth required before an offer
	// settles.
	MinConfs uint32
}

// Manager drives the offer, bid and auction state machine.
type Manager struct {
	cfg ManagerConfig

	ordersMtx sync.RWMutex
	offers    map[OrderID]*Offer
	bundles   map[OrderID]*Bundle

	// reservedMtx guards reserved, the funding coins committed by bids
	// on live offers. A reserved coin is never selected for another bid,
	// so two outstanding bids can't compose packets spending the same
	// funding outpoint.
	reservedMtx sync.Mutex
	reserved    map[wire.OutPoint]OrderID
}

// NewManager creates a new swap manager from the config.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.MinConfs == 0 {
		cfg.MinConfs = 1
	}

	return &Manager{
		cfg:      cfg,
		offers:   make(map[OrderID]*Offer),
		bundles:  make(map[OrderID]*Bundle),
		reserved: make(map[wire.OutPoint]OrderID),
	}
}

// reserveBidFunding marks every funding input of a bid packet as committed
// to the offer, excluding the asset coin the offer itself spends.
func (m *Manager) reserveBidFunding(offer *Offer, packet *psbt.Packet) {
	m.reservedMtx.Lock()
	defer m.reservedMtx.Unlock()

	for _, txIn := range packet.UnsignedTx.TxIn {
		if txIn.PreviousOutPoint == offer.AssetUtxo.OutPoint {
			continue
		}
		m.reserved[txIn.PreviousOutPoint] = offer.ID
	}
}

// releaseFunding frees the funding coins reserved for the offer, once the
// offer is finalized (the coins are spent on-chain) or dead (the coins are
// up for grabs again).
func (m *Manager) releaseFunding(offerID OrderID) {
	m.reservedMtx.Lock()
	defer m.reservedMtx.Unlock()

	for op, id := range m.reserved {
		if id == offerID {
			delete(m.reserved, op)
		}
	}
}

// excludeReserved wraps a coin filter so reserved funding coins are never
// eligible, regardless of the caller's own constraints.
func (m *Manager) excludeReserved(filter swappsbt.UtxoFilter) swappsbt.UtxoFilter {
	return func(utxo chain.Utxo) bool {
		m.reservedMtx.Lock()
		_, taken := m.reserved[utxo.OutPoint]
		m.reservedMtx.Unlock()

		if taken {
			return false
		}
		if filter == nil {
			return true
		}

		return filter(utxo)
	}
}

// fetchOffer returns the offer with the given id.
func (m *Manager) fetchOffer(id OrderID) (*Offer, error) {
	m.ordersMtx.RLock()
	defer m.ordersMtx.RUnlock()

	offer, ok := m.offers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrOfferNotFound, id)
	}

	return offer, nil
}

// expireIfDue lazily transitions an overdue offer to Expired. There is no
// background reaper, expiry is applied at the first touch after the
// deadline. The caller must hold the offer lock.
func (m *Manager) expireIfDue(offer *Offer) bool {
	if offer.State == OfferExpired {
		return true
	}
	if !offer.State.biddable() {
		return false
	}
	if offer.ExpireAt.IsZero() ||
		m.cfg.Clock.Now().Before(offer.ExpireAt) {

		return false
	}

	offer.State = OfferExpired
	m.releaseFunding(offer.ID)

	log.Infof("Offer %v expired (deadline %v)", offer.ID, offer.ExpireAt)

	return true
}

// OfferRequest carries the parameters of a new seller offer.
type OfferRequest struct {
	// ContractID is the contract being sold.
	ContractID contract.ID

	// Amount is the offered asset quantity as a decimal string.
	Amount string

	// Price is the asking bitcoin value for the full amount.
	Price btcutil.Amount

	// Strategy selects the matching and signing flow.
	Strategy Strategy

	// Descriptor controls the coin carrying the sold allocation. A
	// signing descriptor lets P2P and auction offers pre-sign the seller
	// leg immediately, a watch-only one defers it to UpdateSellerOffer.
	Descriptor chain.Descriptor

	// ExpireAt is the offer deadline, zero for none.
	ExpireAt time.Time
}

// CreateSellerOffer validates the seller's allocation, re-checks coin
// ownership against the chain and opens the offer. P2P offers with a
// signing descriptor pre-sign the seller leg right away.
func (m *Manager) CreateSellerOffer(ctx context.Context,
	identity watcher.Identity, req OfferRequest) (*Offer, error) {

	offer, err := m.prepareOffer(ctx, identity, req, nil)
	if err != nil {
		return nil, err
	}

	if req.Strategy == StrategyP2P && req.Descriptor.IsPrivate() {
		if err := m.presignSellerLeg(offer, req.Descriptor); err != nil {
			return nil, err
		}
	}

	m.ordersMtx.Lock()
	m.offers[offer.ID] = offer
	m.ordersMtx.Unlock()

	log.Infof("Created %v offer %v: %s %v for %v, state=%v",
		offer.Strategy, offer.ID, offer.Amount, offer.ContractID,
		offer.Price, offer.State)

	return offer, nil
}

// prepareOffer builds an offer backed by one of the seller's allocations,
// excluding the given outpoints from selection.
func (m *Manager) prepareOffer(ctx context.Context,
	identity watcher.Identity, req OfferRequest,
	exclude map[wire.OutPoint]bool) (*Offer, error) {

	contractState, err := m.cfg.Registry.GetContract(
		identity, req.ContractID,
	)
	if err != nil {
		return nil, err
	}

	amt, err := amount.ParseDecimal(
		req.Amount, contractState.Contract.Precision,
	)
	if err != nil {
		return nil, err
	}

	allocations, err := m.cfg.Registry.SpendableAllocations(
		identity, req.ContractID,
	)
	if err != nil {
		return nil, err
	}

	var backing *watcher.Allocation
	for i := range allocations {
		if exclude[allocations[i].OutPoint] {
			continue
		}
		if allocations[i].Amount.Value >= amt.Value {
			backing = &allocations[i]
			break
		}
	}
	if backing == nil {
		return nil, fmt.Errorf("%w: no single allocation covers %v",
			ErrInsufficientAllocation, amt)
	}

	// The ledger may lag the chain, re-validate that the descriptor
	// still controls the backing coin before committing to it.
	utxos, err := m.cfg.Chain.ListUtxos(ctx, req.Descriptor)
	if err != nil {
		return nil, err
	}

	var assetUtxo *chain.Utxo
	for i := range utxos {
		if utxos[i].OutPoint == backing.OutPoint {
			assetUtxo = &utxos[i]
			break
		}
	}
	if assetUtxo == nil {
		return nil, fmt.Errorf("%w: allocation coin %v not "+
			"controlled by descriptor", ErrInsufficientAllocation,
			backing.OutPoint)
	}

	receiveScript, err := req.Descriptor.PkScript()
	if err != nil {
		return nil, err
	}

	id, err := NewOrderID()
	if err != nil {
		return nil, err
	}

	return &Offer{
		ID:               id,
		Seller:           identity,
		ContractID:       req.ContractID,
		Amount:           amt,
		Price:            req.Price,
		Strategy:         req.Strategy,
		State:            OfferOpen,
		ExpireAt:         req.ExpireAt,
		CreatedAt:        m.cfg.Clock.Now(),
		AssetUtxo:        *assetUtxo,
		AllocationAmount: backing.Amount,
		ReceiveScript:    receiveScript,
	}, nil
}

// sellerLegPacket builds the seller's fragment of the anchor transaction:
// the asset coin spent into the seller receive output that collects the
// price and anchors the seller's remainder allocation.
func sellerLegPacket(offer *Offer) (*psbt.Packet, error) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&offer.AssetUtxo.OutPoint, nil, nil))
	tx.AddTxOut(wire.NewTxOut(
		int64(offer.Price+offer.AssetUtxo.Value), offer.ReceiveScript,
	))

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(
		int64(offer.AssetUtxo.Value), offer.AssetUtxo.PkScript,
	)

	// The seller commits only to its own input and output pair, so the
	// buyer side of the transaction can be attached later.
	packet.Inputs[0].SighashType = txscript.SigHashSingle |
		txscript.SigHashAnyOneCanPay

	return packet, nil
}

// presignSellerLeg signs the seller fragment and attaches it to the offer.
func (m *Manager) presignSellerLeg(offer *Offer,
	desc chain.Descriptor) error {

	packet, err := sellerLegPacket(offer)
	if err != nil {
		return err
	}

	signed, err := m.cfg.Signer.Sign(packet, []chain.Descriptor{desc})
	if err != nil {
		return err
	}
	if signed != 1 {
		return fmt.Errorf("%w: descriptor does not control asset "+
			"coin", ErrMissingSellerSignature)
	}

	offer.SellerPacket = packet
	offer.State = OfferSellerSigned

	return nil
}

// UpdateSellerOffer attaches the seller's signed leg after out-of-band
// signing. Only P2P offers support deferred attachment.
func (m *Manager) UpdateSellerOffer(identity watcher.Identity, id OrderID,
	packet *psbt.Packet) (*Offer, error) {

	offer, err := m.fetchOffer(id)
	if err != nil {
		return nil, err
	}

	offer.mtx.Lock()
	defer offer.mtx.Unlock()

	if offer.Seller != identity {
		return nil, fmt.Errorf("%w: %v", ErrOfferNotFound, id)
	}
	if offer.Strategy != StrategyP2P {
		return nil, fmt.Errorf("%w: %v", ErrWrongStrategy,
			offer.Strategy)
	}
	if m.expireIfDue(offer) {
		return nil, fmt.Errorf("%w: %v", ErrOfferExpired, id)
	}
	if offer.State != OfferOpen && offer.State != OfferSellerSigned {
		return nil, fmt.Errorf("%w: state %v", ErrOfferNotOpen,
			offer.State)
	}

	if len(packet.Inputs) == 0 ||
		len(packet.Inputs[0].PartialSigs) == 0 {

		return nil, ErrMissingSellerSignature
	}

	// The signed input must spend the asset coin this offer is backed by,
	// a signature over any other coin doesn't commit the allocation.
	signedOutPoint := packet.UnsignedTx.TxIn[0].PreviousOutPoint
	if signedOutPoint != offer.AssetUtxo.OutPoint {
		return nil, fmt.Errorf("%w: signed leg spends %v, offer "+
			"asset coin is %v", ErrMissingSellerSignature,
			signedOutPoint, offer.AssetUtxo.OutPoint)
	}

	offer.SellerPacket = packet
	offer.State = OfferSellerSigned

	log.Infof("Offer %v seller leg attached", id)

	return offer, nil
}

// BidRequest carries the parameters of a new buyer bid.
type BidRequest struct {
	// OfferID is the offer to bid on.
	OfferID OrderID

	// Amount is the asked asset quantity as a decimal string.
	Amount string

	// Price is the bitcoin value paid to the seller.
	Price btcutil.Amount

	// FundingDescriptor is the signing descriptor funding the buyer
	// side.
	FundingDescriptor chain.Descriptor

	// Filter restricts the eligible funding coins, nil for none.
	Filter swappsbt.UtxoFilter

	// Fee is the fee policy of the anchor transaction, paid by the
	// buyer.
	Fee swappsbt.FeePolicy
}

// CreateBuyerBid attaches a funded and signed bid to an offer. Bids against
// the same offer are serialized, the remaining amount can never be
// oversubscribed by concurrent bidders.
func (m *Manager) CreateBuyerBid(ctx context.Context,
	buyer watcher.Identity, req BidRequest) (*Bid, error) {

	offer, err := m.fetchOffer(req.OfferID)
	if err != nil {
		return nil, err
	}

	offer.mtx.Lock()
	defer offer.mtx.Unlock()

	if m.expireIfDue(offer) {
		return nil, fmt.Errorf("%w: %v", ErrOfferExpired, req.OfferID)
	}
	if !offer.State.biddable() {
		return nil, fmt.Errorf("%w: state %v", ErrOfferNotOpen,
			offer.State)
	}

	// The buyer must know the contract to account for the bought
	// allocation later.
	if _, err := m.cfg.Registry.GetContract(
		buyer, offer.ContractID,
	); err != nil {
		return nil, err
	}

	amt, err := amount.ParseDecimal(req.Amount, offer.Amount.Precision)
	if err != nil {
		return nil, err
	}
	if amt.Value == 0 || amt.Value > offer.remaining() {
		return nil, fmt.Errorf("%w: asked %v, remaining %v",
			ErrAmountExceedsOffer, amt,
			amount.New(offer.remaining(), offer.Amount.Precision))
	}

	buyerScript, err := req.FundingDescriptor.PkScript()
	if err != nil {
		return nil, err
	}

	// The bid carries the complete anchor transaction template: seller
	// receive output first, buyer anchor output second, then change and
	// the transition commitment. The buyer signs everything it funds
	// against this exact shape.
	transition := swapTransition(offer, amt.Value)
	commitment := transition.TransitionCommitment()

	packet, err := m.cfg.Composer.Compose(ctx, swappsbt.ComposeRequest{
		AssetInputs:       []chain.Utxo{offer.AssetUtxo},
		FundingDescriptor: req.FundingDescriptor,
		Filter:            m.excludeReserved(req.Filter),
		Outputs: []*wire.TxOut{
			wire.NewTxOut(
				int64(req.Price+offer.AssetUtxo.Value),
				offer.ReceiveScript,
			),
			wire.NewTxOut(anchorOutputValue, buyerScript),
		},
		Commitment:   &commitment,
		ChangeScript: buyerScript,
		Fee:          req.Fee,
	})
	if err != nil {
		return nil, err
	}

	if _, err := m.cfg.Signer.Sign(
		packet, []chain.Descriptor{req.FundingDescriptor},
	); err != nil {
		return nil, err
	}

	bidID, err := NewOrderID()
	if err != nil {
		return nil, err
	}

	bid := &Bid{
		ID:        bidID,
		OfferID:   offer.ID,
		Buyer:     buyer,
		Amount:    amt,
		Price:     req.Price,
		Packet:    packet,
		CreatedAt: m.cfg.Clock.Now(),
	}
	offer.Bids = append(offer.Bids, bid)
	m.reserveBidFunding(offer, packet)

	// Auction offers keep collecting bids until the explicit finish
	// call, everything else is matched by its first bid.
	if offer.Strategy != StrategyAuction {
		offer.State = OfferMatched
	}

	log.Infof("Bid %v on offer %v: %s for %v by %v", bidID, offer.ID,
		amt, req.Price, buyer)

	return bid, nil
}

// swapTransition builds the asset transition of a swap: the backing
// allocation is consumed, the buyer's part anchors at output 1 and the
// seller's remainder, if any, at output 0.
func swapTransition(offer *Offer, bidAmount uint64) *consignment.Consignment {
	sellerVout, buyerVout := uint32(0), uint32(1)

	outputs := []consignment.TransitionOut{{
		Vout:   &buyerVout,
		Amount: bidAmount,
	}}
	if remainder := offer.AllocationAmount.Value - bidAmount; remainder > 0 {
		outputs = append(outputs, consignment.TransitionOut{
			Vout:   &sellerVout,
			Amount: remainder,
		})
	}

	return &consignment.Consignment{
		ContractID: offer.ContractID,
		Inputs: []consignment.TransitionIn{{
			OutPoint: offer.AssetUtxo.OutPoint,
			Amount:   offer.AllocationAmount.Value,
		}},
		Outputs: outputs,
	}
}

// CreateSwapTransferRequest carries the parameters of offer finalization.
type CreateSwapTransferRequest struct {
	// OfferID is the offer to finalize.
	OfferID OrderID

	// SellerDescriptors sign the seller leg at finalize time. Only
	// needed for hot swaps, other strategies carry a pre-signed leg.
	SellerDescriptors []chain.Descriptor
}

// CreateSwapTransfer merges the seller and buyer legs into the final anchor
// transaction, broadcasts it and registers the resulting transfer with both
// parties' ledgers. The offer moves to Finalizing and settles once the
// anchor is buried deep enough.
func (m *Manager) CreateSwapTransfer(ctx context.Context,
	identity watcher.Identity,
	req CreateSwapTransferRequest) (*SwapTransfer, error) {

	offer, err := m.fetchOffer(req.OfferID)
	if err != nil {
		return nil, err
	}

	offer.mtx.Lock()
	defer offer.mtx.Unlock()

	// The seller can always finalize. P2P offers carry a pre-signed
	// seller leg, so the matched buyer may drive the final merge and
	// broadcast as well.
	authorized := offer.Seller == identity
	if !authorized && offer.Strategy == StrategyP2P {
		authorized = fn.Any(offer.Bids, func(bid *Bid) bool {
			return bid.Buyer == identity
		})
	}
	if !authorized {
		return nil, fmt.Errorf("%w: %v", ErrOfferNotFound, req.OfferID)
	}
	if m.expireIfDue(offer) {
		return nil, fmt.Errorf("%w: %v", ErrOfferExpired, req.OfferID)
	}
	if offer.State != OfferMatched {
		return nil, fmt.Errorf("%w: state %v", ErrOfferNotOpen,
			offer.State)
	}

	return m.finalizeOffer(ctx, offer, req.SellerDescriptors)
}

// pendingSwap is a staged swap finalization: the fully signed anchor
// transaction and its consignment, built but not yet broadcast or recorded
// anywhere.
type pendingSwap struct {
	bid         *Bid
	finalTx     *wire.MsgTx
	consignment *consignment.Consignment
}

// stageFinalize assembles the final anchor transaction and consignment of
// an offer holding exactly one bid. Nothing is broadcast and no offer or
// ledger state changes, a failed stage leaves the offer retryable. The
// caller must hold the offer lock.
func (m *Manager) stageFinalize(offer *Offer,
	sellerDescriptors []chain.Descriptor) (*pendingSwap, error) {

	switch {
	case len(offer.Bids) == 0:
		return nil, fmt.Errorf("%w: %v", ErrNoBids, offer.ID)

	case len(offer.Bids) > 1:
		return nil, fmt.Errorf("%w: offer %v has %d bids",
			ErrAmbiguousBid, offer.ID, len(offer.Bids))
	}
	bid := offer.Bids[0]

	var (
		finalPacket *psbt.Packet
		err         error
	)
	switch {
	// A pre-signed seller leg is merged with the buyer's template.
	case offer.SellerPacket != nil:
		finalPacket, err = swappsbt.Merge(
			offer.SellerPacket, bid.Packet,
		)
		if err != nil {
			return nil, err
		}

	// Hot swaps sign the seller leg over the full template now.
	case offer.Strategy == StrategyHotSwap:
		if len(sellerDescriptors) == 0 {
			return nil, ErrMissingSellerSignature
		}

		finalPacket = bid.Packet
		signed, err := m.cfg.Signer.Sign(
			finalPacket, sellerDescriptors,
		)
		if err != nil {
			return nil, err
		}
		if signed == 0 {
			return nil, ErrMissingSellerSignature
		}

	default:
		return nil, ErrMissingSellerSignature
	}

	finalTx, err := m.cfg.Signer.Finalize(finalPacket)
	if err != nil {
		return nil, err
	}

	log.Tracef("Final anchor tx for offer %v: %v", offer.ID,
		spew.Sdump(finalTx))

	transition := swapTransition(offer, bid.Amount.Value)
	swapConsignment, err := consignment.Build(consignment.BuildRequest{
		ContractID: offer.ContractID,
		Inputs:     transition.Inputs,
		Outputs:    transition.Outputs,
		AnchorTx:   finalTx,
	})
	if err != nil {
		return nil, err
	}

	return &pendingSwap{
		bid:         bid,
		finalTx:     finalTx,
		consignment: swapConsignment,
	}, nil
}

// applyFinalize records a broadcast swap with both parties' ledgers and
// moves the offer to Finalizing. The caller must hold the offer lock and
// must have published the anchor transaction already.
func (m *Manager) applyFinalize(offer *Offer,
	pending *pendingSwap) (*SwapTransfer, error) {

	bid := pending.bid
	finalTx := pending.finalTx
	swapConsignment := pending.consignment

	consignmentID := swapConsignment.ID()
	anchorTxid := finalTx.TxHash()

	sellerTransfer := &watcher.Transfer{
		ConsignmentID: consignmentID,
		Consignment:   swapConsignment,
		Consumes:      []wire.OutPoint{offer.AssetUtxo.OutPoint},
	}
	if remainder := offer.AllocationAmount.Value - bid.Amount.Value; remainder > 0 {
		sellerTransfer.Gains = []watcher.Allocation{{
			ContractID: offer.ContractID,
			OutPoint:   wire.OutPoint{Hash: anchorTxid, Index: 0},
			Amount: amount.New(
				remainder, offer.Amount.Precision,
			),
		}}
	}
	if _, err := m.cfg.Registry.RegisterTransfer(
		offer.Seller, sellerTransfer,
	); err != nil {
		return nil, err
	}

	buyerTransfer := &watcher.Transfer{
		ConsignmentID: consignmentID,
		Consignment:   swapConsignment,
		Gains: []watcher.Allocation{{
			ContractID: offer.ContractID,
			OutPoint:   wire.OutPoint{Hash: anchorTxid, Index: 1},
			Amount:     bid.Amount,
		}},
	}
	if _, err := m.cfg.Registry.RegisterTransfer(
		bid.Buyer, buyerTransfer,
	); err != nil {
		return nil, err
	}

	offer.State = OfferFinalizing
	offer.FinalTx = finalTx
	offer.Consignment = swapConsignment

	// The funding coins are spent by the anchor now, the reservation has
	// done its job.
	m.releaseFunding(offer.ID)

	log.Infof("Offer %v finalizing: anchor %v, consignment %v",
		offer.ID, anchorTxid, consignmentID)

	return &SwapTransfer{
		OfferID:       offer.ID,
		BidID:         bid.ID,
		FinalTx:       finalTx,
		Consignment:   swapConsignment,
		ConsignmentID: consignmentID,
	}, nil
}

// finalizeOffer stages, broadcasts and records the swap of a single offer.
// The broadcast happens before anything is recorded, a rejection leaves the
// offer matched and retryable. The caller must hold the offer lock.
func (m *Manager) finalizeOffer(ctx context.Context, offer *Offer,
	sellerDescriptors []chain.Descriptor) (*SwapTransfer, error) {

	pending, err := m.stageFinalize(offer, sellerDescriptors)
	if err != nil {
		return nil, err
	}

	if err := m.cfg.Signer.Publish(ctx, pending.finalTx); err != nil {
		return nil, err
	}

	return m.applyFinalize(offer, pending)
}

// GetOffer returns the offer after applying lazy expiry and, for a
// finalizing offer, promoting it to Settled once its anchor transaction is
// buried deep enough.
func (m *Manager) GetOffer(ctx context.Context, id OrderID) (*Offer, error) {
	offer, err := m.fetchOffer(id)
	if err != nil {
		return nil, err
	}

	offer.mtx.Lock()
	defer offer.mtx.Unlock()

	m.expireIfDue(offer)

	if offer.State == OfferFinalizing {
		confs, err := m.cfg.Chain.Confirmations(
			ctx, offer.FinalTx.TxHash(),
		)
		if err != nil {
			return nil, err
		}
		if confs >= m.cfg.MinConfs {
			offer.State = OfferSettled

			log.Infof("Offer %v settled at %d confirmations",
				offer.ID, confs)
		}
	}

	return offer, nil
}

// ListOffers returns all offers, newest first.
func (m *Manager) ListOffers() []*Offer {
	m.ordersMtx.RLock()
	defer m.ordersMtx.RUnlock()

	offers := maps.Values(m.offers)
	sort.Slice(offers, func(i, j int) bool {
		return offers[i].CreatedAt.After(offers[j].CreatedAt)
	})

	return offers
}

// CreateAuctionOffers opens one offer per request under a shared bundle,
// pre-signing every seller leg in a single round with the given signing
// descriptors. Each offer is backed by a distinct allocation.
func (m *Manager) CreateAuctionOffers(ctx context.Context,
	identity watcher.Identity, reqs []OfferRequest) (*Bundle, []*Offer,
	error) {

	bundleID, err := NewOrderID()
	if err != nil {
		return nil, nil, err
	}

	used := make(map[wire.OutPoint]bool)
	offers := make([]*Offer, 0, len(reqs))
	for _, req := range reqs {
		req.Strategy = StrategyAuction

		offer, err := m.prepareOffer(ctx, identity, req, used)
		if err != nil {
			return nil, nil, err
		}
		used[offer.AssetUtxo.OutPoint] = true
		offer.BundleID = bundleID

		err = m.presignSellerLeg(offer, req.Descriptor)
		if err != nil {
			return nil, nil, err
		}

		offers = append(offers, offer)
	}

	bundle := &Bundle{
		ID:        bundleID,
		Seller:    identity,
		State:     BundleOpen,
		CreatedAt: m.cfg.Clock.Now(),
	}

	m.ordersMtx.Lock()
	for _, offer := range offers {
		m.offers[offer.ID] = offer
		bundle.OfferIDs = append(bundle.OfferIDs, offer.ID)
	}
	m.bundles[bundleID] = bundle
	m.ordersMtx.Unlock()

	log.Infof("Created auction bundle %v with %d offers", bundleID,
		len(offers))

	return bundle, offers, nil
}

// CreateAuctionBid attaches a bid to an auction offer. Auction offers keep
// collecting bids until the bundle is finished.
func (m *Manager) CreateAuctionBid(ctx context.Context,
	buyer watcher.Identity, req BidRequest) (*Bid, error) {

	offer, err := m.fetchOffer(req.OfferID)
	if err != nil {
		return nil, err
	}
	if offer.Strategy != StrategyAuction {
		return nil, fmt.Errorf("%w: %v", ErrWrongStrategy,
			offer.Strategy)
	}

	return m.CreateBuyerBid(ctx, buyer, req)
}

// GetBundle returns the auction bundle with the given id.
func (m *Manager) GetBundle(id OrderID) (*Bundle, error) {
	m.ordersMtx.RLock()
	defer m.ordersMtx.RUnlock()

	bundle, ok := m.bundles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrBundleNotFound, id)
	}

	return bundle, nil
}

// FinishAuctionOffers closes the bundle's bidding round: offers with
// exactly one bid are finalized, offers without any bid are cancelled and
// their allocation stays with the seller. Any offer holding more than one
// bid aborts the whole finish before a single offer is touched.
func (m *Manager) FinishAuctionOffers(ctx context.Context,
	identity watcher.Identity, bundleID OrderID) ([]*SwapTransfer,
	error) {

	bundle, err := m.GetBundle(bundleID)
	if err != nil {
		return nil, err
	}
	if bundle.Seller != identity {
		return nil, fmt.Errorf("%w: %v", ErrBundleNotFound, bundleID)
	}
	if bundle.State != BundleOpen {
		return nil, fmt.Errorf("%w: bundle %v already finalized",
			ErrOfferNotOpen, bundleID)
	}

	// All offers stay locked for the whole finish, no bid can slip in
	// between staging and recording. Bundle offers are only ever locked
	// here in bundle order, so this cannot deadlock with the single-offer
	// call paths.
	offers := make([]*Offer, 0, len(bundle.OfferIDs))
	for _, offerID := range bundle.OfferIDs {
		offer, err := m.fetchOffer(offerID)
		if err != nil {
			return nil, err
		}
		offer.mtx.Lock()
		defer offer.mtx.Unlock()

		offers = append(offers, offer)
	}

	// Fail closed before mutating anything.
	for _, offer := range offers {
		if len(offer.Bids) > 1 {
			return nil, fmt.Errorf("%w: offer %v has %d bids",
				ErrAmbiguousBid, offer.ID, len(offer.Bids))
		}
	}

	// Stage every winning swap first. A staging failure aborts the whole
	// finish with every offer and the bundle untouched, so the finish is
	// all or nothing.
	now := m.cfg.Clock.Now()
	var (
		staged    []*pendingSwap
		winners   []*Offer
		unmatched []*Offer
	)
	for _, offer := range offers {
		overdue := !offer.ExpireAt.IsZero() && !now.Before(offer.ExpireAt)
		if overdue || offer.State.terminal() || len(offer.Bids) == 0 {
			unmatched = append(unmatched, offer)
			continue
		}

		pending, err := m.stageFinalize(offer, nil)
		if err != nil {
			return nil, err
		}

		staged = append(staged, pending)
		winners = append(winners, offer)
	}

	// With everything staged, relay all anchors before recording any of
	// them.
	for _, pending := range staged {
		err := m.cfg.Signer.Publish(ctx, pending.finalTx)
		if err != nil {
			return nil, err
		}
	}

	transfers := make([]*SwapTransfer, 0, len(staged))
	for i, pending := range staged {
		transfer, err := m.applyFinalize(winners[i], pending)
		if err != nil {
			return transfers, err
		}

		transfers = append(transfers, transfer)
	}

	for _, offer := range unmatched {
		if m.expireIfDue(offer) || offer.State.terminal() {
			continue
		}

		offer.State = OfferCancelled
		m.releaseFunding(offer.ID)

		log.Infof("Offer %v cancelled, no bids at finish time",
			offer.ID)
	}

	bundle.State = BundleFinalized

	log.Infof("Finished auction bundle %v: %d swaps", bundleID,
		len(transfers))

	return transfers, nil
}
