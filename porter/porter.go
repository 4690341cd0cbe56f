// Package porter moves consignments in and out of the node: it accepts
// armored transfer proofs on behalf of an identity and re-verifies pending
// transfers against the current chain view, promoting the ones that now
// validate. Acceptance is idempotent, feeding the same consignment twice
// changes nothing.
package porter

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/sealswap/sealswap/consignment"
	"github.com/sealswap/sealswap/watcher"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"
)

// PorterConfig is the main config of the porter.
type PorterConfig struct {
	// Registry is the allocation ledger of all identities on this node.
	Registry *watcher.Registry

	// Validator validates consignments against the chain.
	Validator *consignment.Validator

	// Ticker drives the background verification loop.
	Ticker ticker.Ticker
}

// Porter accepts and verifies transfers.
type Porter struct {
	startOnce sync.Once
	stopOnce  sync.Once

	cfg PorterConfig

	watchedMtx sync.Mutex
	watched    map[watcher.Identity]struct{}

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewPorter creates a new porter from the config.
func NewPorter(cfg PorterConfig) *Porter {
	return &Porter{
		cfg:     cfg,
		watched: make(map[watcher.Identity]struct{}),
		quit:    make(chan struct{}),
	}
}

// AcceptResult is the outcome of feeding a consignment to an identity.
type AcceptResult struct {
	// Transfer is the transfer log entry, pending if the consignment
	// doesn't validate yet.
	Transfer *watcher.Transfer

	// Valid reports whether the consignment validated.
	Valid bool

	// Reason explains a failed validation.
	Reason string
}

// AcceptConsignment registers an armored consignment with the identity's
// ledger, validates it and applies it if valid. An invalid but possibly
// transient consignment (anchor not yet confirmed) stays pending for the
// background verifier to promote later.
func (p *Porter) AcceptConsignment(ctx context.Context,
	identity watcher.Identity, armored string) (*AcceptResult, error) {

	c, err := consignment.DecodeArmor(armored)
	if err != nil {
		return nil, err
	}

	transfer, err := p.cfg.Registry.RegisterInbound(identity, c)
	if err != nil {
		return nil, err
	}

	// Already applied, nothing to do.
	if transfer.Status == watcher.TransferAccepted {
		return &AcceptResult{Transfer: transfer, Valid: true}, nil
	}

	res, err := p.cfg.Validator.Validate(
		ctx, transfer.Consignment, p.cfg.Registry.View(identity),
	)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		log.Debugf("Consignment %v for %v not accepted yet: %s",
			transfer.ConsignmentID, identity, res.Reason)

		return &AcceptResult{
			Transfer: transfer,
			Reason:   res.Reason,
		}, nil
	}

	accepted, err := p.cfg.Registry.AcceptTransfer(
		identity, transfer.ConsignmentID,
	)
	if err != nil {
		return nil, err
	}

	return &AcceptResult{Transfer: accepted, Valid: true}, nil
}

// VerifyResult is the outcome of re-verifying one pending transfer.
type VerifyResult struct {
	// ConsignmentID identifies the transfer.
	ConsignmentID consignment.ID

	// IsAccept reports whether the transfer was promoted to accepted.
	IsAccept bool

	// Reason explains why a transfer stayed pending.
	Reason string
}

// VerifyTransfers re-validates every pending transfer of the identity
// against the current chain view. Validations run concurrently, the ledger
// promotions are applied one by one afterwards so acceptance stays atomic
// per transfer.
func (p *Porter) VerifyTransfers(ctx context.Context,
	identity watcher.Identity) ([]VerifyResult, error) {

	pending, err := p.cfg.Registry.PendingTransfers(identity)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	view := p.cfg.Registry.View(identity)
	results := make([]VerifyResult, len(pending))

	eg, egCtx := errgroup.WithContext(ctx)
	for i := range pending {
		i := i
		eg.Go(func() error {
			transfer := pending[i]
			res, err := p.cfg.Validator.Validate(
				egCtx, transfer.Consignment, view,
			)
			if err != nil {
				return err
			}

			results[i] = VerifyResult{
				ConsignmentID: transfer.ConsignmentID,
				IsAccept:      res.Valid,
				Reason:        res.Reason,
			}

			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for i := range results {
		if !results[i].IsAccept {
			continue
		}

		_, err := p.cfg.Registry.AcceptTransfer(
			identity, results[i].ConsignmentID,
		)
		if err != nil {
			return nil, err
		}
	}

	log.Debugf("Verified %d pending transfers for %v", len(pending),
		identity)

	return results, nil
}

// Watch adds the identity to the background verification loop.
func (p *Porter) Watch(identity watcher.Identity) {
	p.watchedMtx.Lock()
	defer p.watchedMtx.Unlock()

	p.watched[identity] = struct{}{}
}

// watchedIdentities snapshots the watched set.
func (p *Porter) watchedIdentities() []watcher.Identity {
	p.watchedMtx.Lock()
	defer p.watchedMtx.Unlock()

	return maps.Keys(p.watched)
}

// Start launches the background verification loop.
func (p *Porter) Start() {
	p.startOnce.Do(func() {
		p.cfg.Ticker.Resume()

		p.wg.Add(1)
		go p.verifyLoop()

		log.Info("Porter started")
	})
}

// Stop halts the background verification loop.
func (p *Porter) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.cfg.Ticker.Stop()

		log.Info("Porter stopped")
	})
}

// verifyLoop periodically re-verifies the pending transfers of every
// watched identity.
func (p *Porter) verifyLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.cfg.Ticker.Ticks():
			ctx := context.Background()
			for _, identity := range p.watchedIdentities() {
				_, err := p.VerifyTransfers(ctx, identity)
				if err != nil {
					log.Errorf("Unable to verify "+
						"transfers for %v: %v",
						identity, err)
				}
			}

		case <-p.quit:
			return
		}
	}
}
