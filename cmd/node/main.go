// Command node is the thin collaborator entrypoint around the core
// pipeline: it loads a YAML config file (overlaid by HFT_* environment
// variables), wires up structured logging, opens the inbound tick
// source, calls runtime.Run, and waits for SIGINT/SIGTERM to request a
// graceful, bounded shutdown.
//
// None of this is part of the core per spec.md §1 ("CLI argument
// parsing, configuration file loading,... process shutdown signal
// handling... are thin plumbing"); it exists only to demonstrate one
// way to assemble a runtime.Config and drive runtime.Run.
//
// Grounded on the teacher's cmd/server/main.go: same flag-parsing +
// signal-handler shape (flag.Parse, a buffered os.Signal channel for
// SIGINT/SIGTERM, a bounded shutdown timeout), generalized from an HTTP
// server's Shutdown(ctx) to the core's Stop()/Wait().
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rishav/hft-node/internal/clock"
	"github.com/rishav/hft-node/internal/runtime"
)

func main() {
	configPath := flag.String("config", "node.yaml", "path to the YAML config file")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "node: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*configPath, log); err != nil {
		log.Fatal("node exited with error", zap.Error(err))
	}
}

func run(configPath string, log *zap.Logger) error {
	fc, err := loadFileConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyEnvOverrides(&fc); err != nil {
		return fmt.Errorf("apply environment overrides: %w", err)
	}

	hmacKey, err := hex.DecodeString(fc.Audit.HMACKeyHex)
	if err != nil {
		return fmt.Errorf("decode audit.hmac_key_hex: %w", err)
	}

	tickSource, err := os.Open(fc.TickSourcePath)
	if err != nil {
		return fmt.Errorf("open tick source: %w", err)
	}
	defer tickSource.Close()

	rtCfg := fc.toRuntimeConfig(hmacKey, tickSource)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := runtime.Run(ctx, rtCfg, clock.System{}, log)
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	log.Info("pipeline started", zap.String("run_id", n.RunID))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("received shutdown signal")

	n.Stop()
	if err := n.Wait(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("pipeline stopped", zap.String("run_id", n.RunID))
	return nil
}
