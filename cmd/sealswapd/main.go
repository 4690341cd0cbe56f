package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/sealswap/sealswap"
	"github.com/sealswap/sealswap/chain"
	"github.com/sealswap/sealswap/consignment"
	"github.com/sealswap/sealswap/invoice"
	"github.com/sealswap/sealswap/porter"
	"github.com/sealswap/sealswap/restserver"
	"github.com/sealswap/sealswap/signer"
	"github.com/sealswap/sealswap/swap"
	"github.com/sealswap/sealswap/swappsbt"
	"github.com/sealswap/sealswap/watcher"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := setupLogging(cfg.LogLevel)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// The chain backend is the in-process simulation bridge. Every engine
	// component shares it, so broadcasts and confirmations are visible to
	// all of them.
	backend := chain.NewMock()

	registry := watcher.NewRegistry(watcher.RegistryConfig{})
	book := invoice.NewBook(invoice.BookConfig{Store: registry})
	composer := swappsbt.NewComposer(swappsbt.ComposerConfig{
		Chain: backend,
	})
	signingCoordinator := signer.New(signer.SignerConfig{
		Chain: backend,
	})
	validator := consignment.NewValidator(consignment.ValidatorConfig{
		Chain:    backend,
		MinConfs: cfg.MinConfs,
	})
	manager := swap.NewManager(swap.ManagerConfig{
		Registry: registry,
		Chain:    backend,
		Composer: composer,
		Signer:   signingCoordinator,
		MinConfs: cfg.MinConfs,
	})
	transferPorter := porter.NewPorter(porter.PorterConfig{
		Registry:  registry,
		Validator: validator,
		Ticker:    ticker.New(cfg.VerifyInterval),
	})

	transferPorter.Start()
	defer transferPorter.Stop()

	server := restserver.New(restserver.Config{
		ListenAddr: cfg.RESTListen,
		Registry:   registry,
		Book:       book,
		Composer:   composer,
		Signer:     signingCoordinator,
		Manager:    manager,
		Porter:     transferPorter,
		Chain:      backend,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve()
	}()

	log.Infof("sealswapd version %s active, serving REST on %s",
		sealswap.Version(), cfg.RESTListen)

	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			log.Errorf("REST server failed: %v", err)
			os.Exit(1)
		}

	case sig := <-interruptChan:
		log.Infof("Received %v, shutting down", sig)

		ctx, cancel := context.WithTimeout(
			context.Background(), 10*time.Second,
		)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("Shutdown failed: %v", err)
		}
	}
}
