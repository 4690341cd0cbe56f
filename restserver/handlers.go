package restserver

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/go-chi/chi/v5"
	"github.com/sealswap/sealswap/chain"
	"github.com/sealswap/sealswap/contract"
	"github.com/sealswap/sealswap/fn"
	"github.com/sealswap/sealswap/invoice"
	"github.com/sealswap/sealswap/seal"
	"github.com/sealswap/sealswap/signer"
	"github.com/sealswap/sealswap/swap"
	"github.com/sealswap/sealswap/swappsbt"
	"github.com/sealswap/sealswap/watcher"
)

// identityHeader carries the acting identity of a request.
const identityHeader = "X-Identity"

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes the value as a JSON response.
func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// readJSON decodes the request body into the value.
func readJSON(r *http.Request, value interface{}) error {
	return json.NewDecoder(r.Body).Decode(value)
}

// writeEngineError maps engine sentinels onto HTTP status codes: unknown
// records are 404, malformed requests 400, state conflicts 409 and chain
// backend trouble 502.
func writeEngineError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, watcher.ErrUnknownWatcher),
		errors.Is(err, watcher.ErrUnknownContract),
		errors.Is(err, watcher.ErrUnknownTransfer),
		errors.Is(err, invoice.ErrUnknownContract),
		errors.Is(err, invoice.ErrUnknownInvoice),
		errors.Is(err, swap.ErrOfferNotFound),
		errors.Is(err, swap.ErrBundleNotFound):

		status = http.StatusNotFound

	case errors.Is(err, watcher.ErrWatcherExists),
		errors.Is(err, watcher.ErrTransferRejected),
		errors.Is(err, invoice.ErrInvoiceExpired),
		errors.Is(err, swap.ErrOfferExpired),
		errors.Is(err, swap.ErrOfferNotOpen),
		errors.Is(err, swap.ErrWrongStrategy),
		errors.Is(err, swap.ErrAmountExceedsOffer),
		errors.Is(err, swap.ErrAmbiguousBid),
		errors.Is(err, swap.ErrNoBids),
		errors.Is(err, swap.ErrInsufficientAllocation),
		errors.Is(err, swap.ErrMissingSellerSignature),
		errors.Is(err, swappsbt.ErrInsufficientFunds),
		errors.Is(err, swappsbt.ErrConflict),
		errors.Is(err, signer.ErrIncompleteSigning):

		status = http.StatusConflict

	case errors.Is(err, chain.ErrBroadcastRejected),
		errors.Is(err, chain.ErrBackendTimeout),
		errors.Is(err, chain.ErrTxNotFound):

		status = http.StatusBadGateway

	default:
		status = http.StatusBadRequest
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// identity extracts the acting identity of the request.
func identity(r *http.Request) (watcher.Identity, error) {
	id := r.Header.Get(identityHeader)
	if id == "" {
		return "", fmt.Errorf("missing %s header", identityHeader)
	}

	return watcher.Identity(id), nil
}

// parseOutPoint parses the txid:index form of an outpoint.
func parseOutPoint(s string) (wire.OutPoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return wire.OutPoint{}, fmt.Errorf("invalid outpoint %q", s)
	}

	hash, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid outpoint %q: %w",
			s, err)
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid outpoint %q: %w",
			s, err)
	}

	return wire.OutPoint{Hash: *hash, Index: uint32(index)}, nil
}

// decodePacket parses a base64 packet.
func decodePacket(b64 string) (*psbt.Packet, error) {
	return psbt.NewFromRawBytes(strings.NewReader(b64), true)
}

// encodePacket returns the base64 form of a packet.
func encodePacket(packet *psbt.Packet) (string, error) {
	return packet.B64Encode()
}

func (s *Server) handleCreateWatcher(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		Name  string `json:"name"`
		Xpub  string `json:"xpub"`
		Force bool   `json:"force"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	err = s.cfg.Registry.CreateWatcher(id, req.Name, req.Xpub, req.Force)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	// New watchers join the background verification loop right away.
	s.cfg.Porter.Watch(id)

	writeJSON(w, http.StatusCreated, map[string]string{
		"name": req.Name,
	})
}

func (s *Server) handleGetWatcher(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	info, err := s.cfg.Registry.Watcher(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		Ticker    string `json:"ticker"`
		Name      string `json:"name"`
		Precision uint8  `json:"precision"`
		Supply    uint64 `json:"supply"`
		Iface     string `json:"iface"`
		OutPoint  string `json:"outpoint"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	iface, err := contract.ParseIface(req.Iface)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	op, err := parseOutPoint(req.OutPoint)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	c, err := s.cfg.Registry.IssueContract(id, watcher.IssueRequest{
		Ticker:    req.Ticker,
		Name:      req.Name,
		Precision: req.Precision,
		Supply:    req.Supply,
		Iface:     iface,
		OutPoint:  op,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	armored, err := c.Armor()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"contract_id": c.ID().String(),
		"contract":    armored,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		Contract string `json:"contract"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	c, err := contract.DecodeArmor(req.Contract)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.cfg.Registry.ImportContract(id, c); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"contract_id": c.ID().String(),
	})
}

// contractStateResponse is the JSON view of a contract balance.
type contractStateResponse struct {
	ContractID        string               `json:"contract_id"`
	Ticker            string               `json:"ticker"`
	Name              string               `json:"name"`
	Precision         uint8                `json:"precision"`
	Supply            uint64               `json:"supply"`
	Iface             string               `json:"iface"`
	Balance           string               `json:"balance"`
	BalanceNormalized float64              `json:"balance_normalized"`
	Allocations       []allocationResponse `json:"allocations"`
}

// allocationResponse is the JSON view of one allocation.
type allocationResponse struct {
	OutPoint string `json:"outpoint"`
	Amount   string `json:"amount"`
}

// marshalContractState converts a ledger balance view.
func marshalContractState(cs *watcher.ContractState) contractStateResponse {
	resp := contractStateResponse{
		ContractID:        cs.Contract.ID().String(),
		Ticker:            cs.Contract.Ticker,
		Name:              cs.Contract.Name,
		Precision:         cs.Contract.Precision,
		Supply:            cs.Contract.Supply,
		Iface:             cs.Contract.Iface.String(),
		Balance:           cs.Balance.String(),
		BalanceNormalized: cs.BalanceNormalized,
	}
	for _, alloc := range cs.Allocations {
		resp.Allocations = append(resp.Allocations, allocationResponse{
			OutPoint: alloc.OutPoint.String(),
			Amount:   alloc.Amount.String(),
		})
	}

	return resp
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	contractID, err := contract.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	cs, err := s.cfg.Registry.GetContract(id, contractID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, marshalContractState(cs))
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	states, err := s.cfg.Registry.ListContracts(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, fn.Map(states, marshalContractState))
}

func (s *Server) handleBlind(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		OutPoint string `json:"outpoint"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	op, err := parseOutPoint(req.OutPoint)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	blindedSeal, reveal, err := s.cfg.Book.BlindUtxo(string(id), op)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"seal":     blindedSeal.String(),
		"blinding": hex.EncodeToString(reveal.Blinding[:]),
	})
}

func (s *Server) handleInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		ContractID string `json:"contract_id"`
		Iface      string `json:"iface"`
		Amount     string `json:"amount"`
		Seal       string `json:"seal"`
		ExpireAt   int64  `json:"expire_at"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	contractID, err := contract.IDFromString(req.ContractID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	iface, err := contract.ParseIface(req.Iface)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	invoiceSeal, err := seal.FromString(req.Seal)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var expireAt time.Time
	if req.ExpireAt != 0 {
		expireAt = time.Unix(req.ExpireAt, 0)
	}

	inv, err := s.cfg.Book.NewInvoice(string(id), invoice.InvoiceRequest{
		ContractID: contractID,
		Iface:      iface,
		Amount:     req.Amount,
		Seal:       invoiceSeal,
		ExpireAt:   expireAt,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"contract_id": inv.ContractID.String(),
		"amount":      inv.Amount.String(),
		"seal":        inv.Seal.String(),
	})
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	invoiceSeal, err := seal.FromString(chi.URLParam(r, "seal"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	inv, err := s.cfg.Book.FetchInvoice(string(id), invoiceSeal)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := map[string]interface{}{
		"contract_id": inv.ContractID.String(),
		"amount":      inv.Amount.String(),
		"seal":        inv.Seal.String(),
	}
	if !inv.ExpireAt.IsZero() {
		resp["expire_at"] = inv.ExpireAt.Unix()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleComposePsbt(w http.ResponseWriter, r *http.Request) {
	if _, err := identity(r); err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		Descriptor string `json:"descriptor"`
		Outputs    []struct {
			Value  int64  `json:"value"`
			Script string `json:"script"`
		} `json:"outputs"`
		Commitment   string `json:"commitment"`
		ChangeScript string `json:"change_script"`
		FeeValue     int64  `json:"fee_value"`
		FeeRate      int64  `json:"fee_rate"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	composeReq := swappsbt.ComposeRequest{
		FundingDescriptor: chain.Descriptor(req.Descriptor),
		Fee: swappsbt.FeePolicy{
			Value:        btcutil.Amount(req.FeeValue),
			RatePerVByte: btcutil.Amount(req.FeeRate),
		},
	}
	for _, out := range req.Outputs {
		script, err := hex.DecodeString(out.Script)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		composeReq.Outputs = append(
			composeReq.Outputs, wire.NewTxOut(out.Value, script),
		)
	}
	if req.ChangeScript != "" {
		script, err := hex.DecodeString(req.ChangeScript)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		composeReq.ChangeScript = script
	}
	if req.Commitment != "" {
		raw, err := hex.DecodeString(req.Commitment)
		if err != nil || len(raw) != 32 {
			writeEngineError(w, fmt.Errorf("invalid commitment"))
			return
		}
		var commitment [32]byte
		copy(commitment[:], raw)
		composeReq.Commitment = &commitment
	}

	packet, err := s.cfg.Composer.Compose(r.Context(), composeReq)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	b64, err := encodePacket(packet)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"psbt": b64})
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	if _, err := identity(r); err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		Psbt        string   `json:"psbt"`
		Descriptors []string `json:"descriptors"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	packet, err := decodePacket(req.Psbt)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	descriptors := make([]chain.Descriptor, len(req.Descriptors))
	for i, desc := range req.Descriptors {
		descriptors[i] = chain.Descriptor(desc)
	}

	if _, err := s.cfg.Signer.Sign(packet, descriptors); err != nil {
		writeEngineError(w, err)
		return
	}

	finalTx, err := s.cfg.Signer.Finalize(packet)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.cfg.Signer.Publish(r.Context(), finalTx); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"txid": finalTx.TxHash().String(),
	})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		Consignment string `json:"consignment"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	res, err := s.cfg.Porter.AcceptConsignment(
		r.Context(), id, req.Consignment,
	)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"consignment_id": res.Transfer.ConsignmentID.String(),
		"status":         res.Transfer.Status.String(),
		"valid":          res.Valid,
		"reason":         res.Reason,
	})
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	transfers, err := s.cfg.Registry.ListTransfers(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	type transferResponse struct {
		ConsignmentID string `json:"consignment_id"`
		Status        string `json:"status"`
		CreatedAt     int64  `json:"created_at"`
	}
	resp := make([]transferResponse, 0, len(transfers))
	for _, transfer := range transfers {
		resp = append(resp, transferResponse{
			ConsignmentID: transfer.ConsignmentID.String(),
			Status:        transfer.Status.String(),
			CreatedAt:     transfer.CreatedAt.Unix(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyTransfers(w http.ResponseWriter,
	r *http.Request) {

	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	results, err := s.cfg.Porter.VerifyTransfers(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	type verifyResponse struct {
		ConsignmentID string `json:"consignment_id"`
		IsAccept      bool   `json:"is_accept"`
		Reason        string `json:"reason,omitempty"`
	}
	resp := make([]verifyResponse, 0, len(results))
	for _, res := range results {
		resp = append(resp, verifyResponse{
			ConsignmentID: res.ConsignmentID.String(),
			IsAccept:      res.IsAccept,
			Reason:        res.Reason,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// offerResponse is the JSON view of an offer.
type offerResponse struct {
	OfferID    string `json:"offer_id"`
	BundleID   string `json:"bundle_id,omitempty"`
	ContractID string `json:"contract_id"`
	Amount     string `json:"amount"`
	Price      int64  `json:"price"`
	Strategy   string `json:"strategy"`
	State      string `json:"state"`
	ExpireAt   int64  `json:"expire_at,omitempty"`
	NumBids    int    `json:"num_bids"`
}

// marshalOffer converts an offer.
func marshalOffer(offer *swap.Offer) offerResponse {
	resp := offerResponse{
		OfferID:    offer.ID.String(),
		ContractID: offer.ContractID.String(),
		Amount:     offer.Amount.String(),
		Price:      int64(offer.Price),
		Strategy:   offer.Strategy.String(),
		State:      offer.State.String(),
		NumBids:    len(offer.Bids),
	}
	if offer.BundleID != (swap.OrderID{}) {
		resp.BundleID = offer.BundleID.String()
	}
	if !offer.ExpireAt.IsZero() {
		resp.ExpireAt = offer.ExpireAt.Unix()
	}

	return resp
}

// offerRequestBody is the JSON form of an offer request.
type offerRequestBody struct {
	ContractID string `json:"contract_id"`
	Amount     string `json:"amount"`
	Price      int64  `json:"price"`
	Strategy   string `json:"strategy"`
	Descriptor string `json:"descriptor"`
	ExpireAt   int64  `json:"expire_at"`
}

// parseOfferRequest converts the JSON form.
func parseOfferRequest(body offerRequestBody) (swap.OfferRequest, error) {
	contractID, err := contract.IDFromString(body.ContractID)
	if err != nil {
		return swap.OfferRequest{}, err
	}

	var strategy swap.Strategy
	switch body.Strategy {
	case "p2p", "":
		strategy = swap.StrategyP2P
	case "hotswap":
		strategy = swap.StrategyHotSwap
	case "auction":
		strategy = swap.StrategyAuction
	default:
		return swap.OfferRequest{}, fmt.Errorf("unknown strategy %q",
			body.Strategy)
	}

	req := swap.OfferRequest{
		ContractID: contractID,
		Amount:     body.Amount,
		Price:      btcutil.Amount(body.Price),
		Strategy:   strategy,
		Descriptor: chain.Descriptor(body.Descriptor),
	}
	if body.ExpireAt != 0 {
		req.ExpireAt = time.Unix(body.ExpireAt, 0)
	}

	return req, nil
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var body offerRequestBody
	if err := readJSON(r, &body); err != nil {
		writeEngineError(w, err)
		return
	}

	req, err := parseOfferRequest(body)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	offer, err := s.cfg.Manager.CreateSellerOffer(r.Context(), id, req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, marshalOffer(offer))
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fn.Map(
		s.cfg.Manager.ListOffers(), marshalOffer,
	))
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	offerID, err := swap.ParseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	offer, err := s.cfg.Manager.GetOffer(r.Context(), offerID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, marshalOffer(offer))
}

func (s *Server) handleUpdateOffer(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		OfferID string `json:"offer_id"`
		Psbt    string `json:"psbt"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	offerID, err := swap.ParseOrderID(req.OfferID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	packet, err := decodePacket(req.Psbt)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	offer, err := s.cfg.Manager.UpdateSellerOffer(id, offerID, packet)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, marshalOffer(offer))
}

// bidRequestBody is the JSON form of a bid request.
type bidRequestBody struct {
	OfferID    string `json:"offer_id"`
	Amount     string `json:"amount"`
	Price      int64  `json:"price"`
	Descriptor string `json:"descriptor"`
	FeeValue   int64  `json:"fee_value"`
	FeeRate    int64  `json:"fee_rate"`
}

// parseBidRequest converts the JSON form.
func parseBidRequest(body bidRequestBody) (swap.BidRequest, error) {
	offerID, err := swap.ParseOrderID(body.OfferID)
	if err != nil {
		return swap.BidRequest{}, err
	}

	return swap.BidRequest{
		OfferID:           offerID,
		Amount:            body.Amount,
		Price:             btcutil.Amount(body.Price),
		FundingDescriptor: chain.Descriptor(body.Descriptor),
		Fee: swappsbt.FeePolicy{
			Value:        btcutil.Amount(body.FeeValue),
			RatePerVByte: btcutil.Amount(body.FeeRate),
		},
	}, nil
}

// marshalBid converts a bid.
func marshalBid(bid *swap.Bid) map[string]interface{} {
	return map[string]interface{}{
		"bid_id":   bid.ID.String(),
		"offer_id": bid.OfferID.String(),
		"amount":   bid.Amount.String(),
		"price":    int64(bid.Price),
	}
}

func (s *Server) handleCreateBid(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var body bidRequestBody
	if err := readJSON(r, &body); err != nil {
		writeEngineError(w, err)
		return
	}

	req, err := parseBidRequest(body)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	bid, err := s.cfg.Manager.CreateBuyerBid(r.Context(), id, req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, marshalBid(bid))
}

// marshalSwapTransfer converts a finalized swap.
func marshalSwapTransfer(transfer *swap.SwapTransfer) (map[string]string,
	error) {

	armored, err := transfer.Consignment.Armor()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"offer_id":       transfer.OfferID.String(),
		"bid_id":         transfer.BidID.String(),
		"txid":           transfer.FinalTx.TxHash().String(),
		"consignment_id": transfer.ConsignmentID.String(),
		"consignment":    armored,
	}, nil
}

func (s *Server) handleCreateSwapTransfer(w http.ResponseWriter,
	r *http.Request) {

	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		OfferID     string   `json:"offer_id"`
		Descriptors []string `json:"descriptors"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	offerID, err := swap.ParseOrderID(req.OfferID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	descriptors := make([]chain.Descriptor, len(req.Descriptors))
	for i, desc := range req.Descriptors {
		descriptors[i] = chain.Descriptor(desc)
	}

	transfer, err := s.cfg.Manager.CreateSwapTransfer(
		r.Context(), id, swap.CreateSwapTransferRequest{
			OfferID:           offerID,
			SellerDescriptors: descriptors,
		},
	)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp, err := marshalSwapTransfer(transfer)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateAuctionOffers(w http.ResponseWriter,
	r *http.Request) {

	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		Offers []offerRequestBody `json:"offers"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	reqs := make([]swap.OfferRequest, 0, len(req.Offers))
	for _, body := range req.Offers {
		offerReq, err := parseOfferRequest(body)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		reqs = append(reqs, offerReq)
	}

	bundle, offers, err := s.cfg.Manager.CreateAuctionOffers(
		r.Context(), id, reqs,
	)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	offerResponses := make([]offerResponse, 0, len(offers))
	for _, offer := range offers {
		offerResponses = append(offerResponses, marshalOffer(offer))
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"bundle_id": bundle.ID.String(),
		"offers":    offerResponses,
	})
}

func (s *Server) handleCreateAuctionBid(w http.ResponseWriter,
	r *http.Request) {

	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var body bidRequestBody
	if err := readJSON(r, &body); err != nil {
		writeEngineError(w, err)
		return
	}

	req, err := parseBidRequest(body)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	bid, err := s.cfg.Manager.CreateAuctionBid(r.Context(), id, req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, marshalBid(bid))
}

func (s *Server) handleFinishAuction(w http.ResponseWriter,
	r *http.Request) {

	id, err := identity(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		BundleID string `json:"bundle_id"`
	}
	if err := readJSON(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	bundleID, err := swap.ParseOrderID(req.BundleID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	transfers, err := s.cfg.Manager.FinishAuctionOffers(
		r.Context(), id, bundleID,
	)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := make([]map[string]string, 0, len(transfers))
	for _, transfer := range transfers {
		entry, err := marshalSwapTransfer(transfer)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		resp = append(resp, entry)
	}

	writeJSON(w, http.StatusOK, resp)
}
