// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command pollinetd hosts the relay core as a standalone process,
// reading fragments from stdin and writing fragments to stdout in
// place of a real BLE/GATT stack (out of scope per §1), the same way
// the teacher ships a runnable cmd/ entrypoint for every subsystem it
// defines.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/pollinet/pollinet-sub003/config"
	"github.com/pollinet/pollinet-sub003/core"
	"github.com/pollinet/pollinet-sub003/logger"
	"github.com/pollinet/pollinet-sub003/util/panics"
)

var log, _ = logger.Get(logger.SubsystemTags.CORE)
var spawn = panics.GoroutineWrapperFunc(log)

// systemClock implements adapters.Clock using the wall clock.
type systemClock struct{}

func (systemClock) NowMs() int64 { return time.Now().UnixMilli() }

// Exit codes per §6.3.
const (
	exitSuccess = 0
	exitError   = 1
	exitConfig  = 2
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "malformed configuration: %s\n", err)
		os.Exit(exitConfig)
	}

	if err := os.MkdirAll(cfg.StorageDirectory, 0o755); err != nil {
		panics.Exit(log, fmt.Sprintf("creating storage directory: %s", err))
	}

	if cfg.EnableLogging {
		logger.InitLogRotators(cfg.LogFile(), cfg.ErrLogFile())
	}
	if err := logger.ParseAndSetDebugLevels(cfg.LogLevel); err != nil {
		panics.Exit(log, fmt.Sprintf("invalid log level: %s", err))
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rpc := newSolanaRPC(cfg.RPCURL)
	transport := newStdioTransport(512)
	network := newRPCPingNetworkSensor(rpc)
	signer := newLocalKeypairSigner(solana.NewWallet().PrivateKey)

	spawn(func() { transport.run(ctx) })
	spawn(func() { network.run(ctx, 5*time.Second) })

	c, err := core.Init(cfg, core.Adapters{
		Transport: transport,
		Network:   network,
		Signer:    signer,
		RPC:       rpc,
		Clock:     systemClock{},
	})
	if err != nil {
		panics.Exit(log, fmt.Sprintf("failed to initialize core: %+v", err))
	}

	log.Infof("pollinetd running, waiting for interrupt")
	<-interruptListener()

	c.Shutdown()
	return exitSuccess
}

// interruptListener returns a channel that is closed once SIGINT or
// SIGTERM is received, mirroring the teacher's signal.InterruptListener
// helper.
func interruptListener() <-chan struct{} {
	ch := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	spawn(func() {
		<-sigCh
		close(ch)
	})
	return ch
}
