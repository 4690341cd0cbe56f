package main

import (
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/jessevdk/go-flags"
	"github.com/sealswap/sealswap/consignment"
	"github.com/sealswap/sealswap/invoice"
	"github.com/sealswap/sealswap/porter"
	"github.com/sealswap/sealswap/restserver"
	"github.com/sealswap/sealswap/signer"
	"github.com/sealswap/sealswap/swap"
	"github.com/sealswap/sealswap/swappsbt"
	"github.com/sealswap/sealswap/watcher"
)

const (
	defaultRESTListen     = "localhost:8080"
	defaultLogLevel       = "info"
	defaultMinConfs       = 1
	defaultVerifyInterval = 30 * time.Second
)

// Config holds the daemon's command line and config file options.
type Config struct {
	RESTListen string `long:"restlisten" description:"Address to serve the REST API on"`

	LogLevel string `long:"loglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	MinConfs uint32 `long:"minconfs" description:"Confirmation depth required before transfers and swaps settle"`

	VerifyInterval time.Duration `long:"verifyinterval" description:"How often the porter re-validates pending transfers"`
}

// LoadConfig parses the command line options into a sanitized config.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RESTListen:     defaultRESTListen,
		LogLevel:       defaultLogLevel,
		MinConfs:       defaultMinConfs,
		VerifyInterval: defaultVerifyInterval,
	}

	if _, err := flags.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.MinConfs == 0 {
		return nil, fmt.Errorf("minconfs must be positive")
	}
	if cfg.VerifyInterval <= 0 {
		return nil, fmt.Errorf("verifyinterval must be positive")
	}

	return cfg, nil
}

// setupLogging wires one stdout backed logger into every subsystem.
func setupLogging(level string) (btclog.Logger, error) {
	logLevel, ok := btclog.LevelFromString(level)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	backend := btclog.NewBackend(os.Stdout)

	use := func(subsystem string, hook func(btclog.Logger)) {
		logger := backend.Logger(subsystem)
		logger.SetLevel(logLevel)
		hook(logger)
	}

	use(watcher.Subsystem, watcher.UseLogger)
	use(invoice.Subsystem, invoice.UseLogger)
	use(swappsbt.Subsystem, swappsbt.UseLogger)
	use(signer.Subsystem, signer.UseLogger)
	use(consignment.Subsystem, consignment.UseLogger)
	use(swap.Subsystem, swap.UseLogger)
	use(porter.Subsystem, porter.UseLogger)
	use(restserver.Subsystem, restserver.UseLogger)

	daemonLog := backend.Logger("SWPD")
	daemonLog.SetLevel(logLevel)

	return daemonLog, nil
}
