// Package runtime assembles the full pipeline (ingest → strategy → risk
// → execution, plus the audit log) into the single library entry point
// spec §6 requires: `run(config, cancellation)`. It owns no CLI, no file
// I/O beyond the audit log and tick source the caller hands it, and no
// environment-variable reads — all of that is the collaborator's
// concern (spec §6 "Environment variables: None required by the core").
//
// Grounded on the teacher's cmd/server/main.go, which wires the
// disruptor, risk checker, and matching engine into one running
// process; this package generalizes that wiring into a reusable
// constructor instead of an executable's main, since spec §6 demands a
// library entry point a collaborator can call, not a binary.
package runtime

import (
	"fmt"
	"io"

	"github.com/rishav/hft-node/internal/exec"
	"github.com/rishav/hft-node/internal/model"
	"github.com/rishav/hft-node/internal/rngsrc"
	"github.com/rishav/hft-node/internal/strategy"
)

// Config is the fully-populated configuration spec §6 requires of
// `run`. The core performs no defaulting beyond what's documented
// below; an invalid Config is rejected at Run with ErrConfigInvalid
// (spec §7 "ConfigInvalid: reject at run(...) entry").
type Config struct {
	// TickRingCapacity, PreRiskRingCapacity, ApprovedRingCapacity must
	// each be a power of two (spec §6).
	TickRingCapacity     uint64
	PreRiskRingCapacity  uint64
	ApprovedRingCapacity uint64

	// RiskLimits is the initial pre-trade risk limits snapshot (spec §3).
	RiskLimits model.RiskLimits

	// Strategy holds the market-making quoting parameters (spec §6
	// "strategy parameters {spread, quantity, instrument_id}"). The
	// InstrumentID field is informational for collaborators that need
	// to know which instrument a single-instrument Config is wired to;
	// the core itself is instrument-agnostic (every stage is keyed by
	// the instrument_id carried on each tick/order).
	Strategy strategy.Config

	// Execution holds the execution-simulator latency/fill parameters
	// (spec §6 "execution parameters").
	Execution exec.Config

	// RNGMode selects deterministic-seeded (for replay) or crypto (for
	// live trading) randomness for the execution simulator (spec §9
	// "Randomness").
	RNGMode rngsrc.Mode
	// RNGSeed is used only when RNGMode is ModeDeterministic.
	RNGSeed uint64

	// AuditPath is the on-disk path for the audit log (spec §6 "audit
	// {path, hmac_key[32]}").
	AuditPath string
	// HMACKey must be exactly audit.KeySize (32) bytes.
	HMACKey []byte

	// TickSource is the external inbound tick stream (spec §6 "Inbound
	// tick stream... the transport is the collaborator's concern; the
	// core consumes a blittable record of known size"). Required.
	TickSource io.Reader

	// MarketDataTapBufferSize, when positive, attaches an external L1
	// quote publisher (internal/marketdata) that the strategy stage
	// feeds on a best-effort basis. Zero disables the tap entirely (no
	// allocation, no publish call) — it's an optional collaborator
	// surface, not part of the core pipeline's correctness path.
	MarketDataTapBufferSize int
}

// ErrConfigInvalid wraps every Config validation failure (spec §7).
type ErrConfigInvalid struct {
	Reason string
}

func (e *ErrConfigInvalid) Error() string {
	return fmt.Sprintf("runtime: invalid config: %s", e.Reason)
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// Validate checks cfg against spec §6's constraints, returning
// *ErrConfigInvalid on the first violation found.
func (cfg Config) Validate() error {
	switch {
	case !isPowerOfTwo(cfg.TickRingCapacity):
		return &ErrConfigInvalid{Reason: "tick ring capacity must be a power of two"}
	case !isPowerOfTwo(cfg.PreRiskRingCapacity):
		return &ErrConfigInvalid{Reason: "pre-risk ring capacity must be a power of two"}
	case !isPowerOfTwo(cfg.ApprovedRingCapacity):
		return &ErrConfigInvalid{Reason: "approved ring capacity must be a power of two"}
	case cfg.AuditPath == "":
		return &ErrConfigInvalid{Reason: "audit path must not be empty"}
	case len(cfg.HMACKey) != 32:
		return &ErrConfigInvalid{Reason: "HMAC key must be exactly 32 bytes"}
	case cfg.TickSource == nil:
		return &ErrConfigInvalid{Reason: "tick source must not be nil"}
	case cfg.Strategy.Quantity <= 0:
		return &ErrConfigInvalid{Reason: "strategy quantity must be positive"}
	case cfg.Execution.FillProbability < 0 || cfg.Execution.FillProbability > 1:
		return &ErrConfigInvalid{Reason: "fill probability must be in [0, 1]"}
	case cfg.RiskLimits.MaxOrderQty <= 0:
		return &ErrConfigInvalid{Reason: "max order qty must be positive"}
	}
	return nil
}
