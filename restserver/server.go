// Package restserver exposes the engine over a thin JSON REST surface.
// Request bodies carry amounts as decimal strings and packets, contracts
// and consignments as base64 blobs; the acting identity travels in the
// X-Identity header. Handlers only map requests onto engine operations,
// every rule lives in the packages below.
package restserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sealswap/sealswap/chain"
	"github.com/sealswap/sealswap/invoice"
	"github.com/sealswap/sealswap/porter"
	"github.com/sealswap/sealswap/signer"
	"github.com/sealswap/sealswap/swap"
	"github.com/sealswap/sealswap/swappsbt"
	"github.com/sealswap/sealswap/watcher"
)

// Config is the main config of the REST server.
type Config struct {
	// ListenAddr is the address to serve on.
	ListenAddr string

	// Registry is the allocation ledger.
	Registry *watcher.Registry

	// Book is the invoice book.
	Book *invoice.Book

	// Composer builds anchor transaction packets.
	Composer *swappsbt.Composer

	// Signer signs, finalizes and publishes packets.
	Signer *signer.Signer

	// Manager drives offers, bids and auctions.
	Manager *swap.Manager

	// Porter accepts and verifies transfers.
	Porter *porter.Porter

	// Chain is the chain backend, used for read-only queries.
	Chain chain.Bridge
}

// Server is the REST transport of the engine.
type Server struct {
	cfg Config

	httpServer *http.Server
}

// New creates a new REST server from the config.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Post("/watcher", s.handleCreateWatcher)
	router.Get("/watcher", s.handleGetWatcher)
	router.Post("/issue", s.handleIssue)
	router.Post("/import", s.handleImport)
	router.Get("/contract/{id}", s.handleGetContract)
	router.Get("/contracts", s.handleListContracts)
	router.Post("/blind", s.handleBlind)
	router.Post("/invoice", s.handleInvoice)
	router.Get("/invoice/{seal}", s.handleGetInvoice)
	router.Post("/psbt", s.handleComposePsbt)
	router.Post("/pay", s.handlePay)
	router.Post("/accept", s.handleAccept)
	router.Get("/transfers", s.handleListTransfers)
	router.Post("/transfers/verify", s.handleVerifyTransfers)

	router.Post("/offers", s.handleCreateOffer)
	router.Get("/offers", s.handleListOffers)
	router.Get("/offers/{id}", s.handleGetOffer)
	router.Post("/offers/update", s.handleUpdateOffer)
	router.Post("/bids", s.handleCreateBid)
	router.Post("/swap", s.handleCreateSwapTransfer)
	router.Post("/auction/offers", s.handleCreateAuctionOffers)
	router.Post("/auction/bids", s.handleCreateAuctionBid)
	router.Post("/auction/finish", s.handleFinishAuction)

	s.httpServer = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
	}

	return s
}

// Serve blocks serving requests on the configured address.
func (s *Server) Serve() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	log.Infof("REST server listening on %s", listener.Addr())

	err = s.httpServer.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
