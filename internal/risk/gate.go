// Package risk implements the pre-trade risk gate (spec §4.4, component
// C4): the authority between strategy intent and execution. Every order
// it decides on is Allowed, Throttled, or Blocked by a fixed, ordered
// set of checks, with the first failure winning.
//
// Adapted from the teacher's internal/risk.Checker
// (order-matching-engine/internal/risk/checker.go): that checker runs a
// fixed pipeline of size/value/price-band/position/volume checks behind
// a sync.RWMutex-guarded map of per-account state. This package keeps
// that "ordered checks, first failure wins, return a structured reason"
// shape but replaces the lock-per-call design with an atomically
// swappable RiskLimits snapshot (spec §9: "atomically replaceable
// handle to an immutable value") since spec §4.4 demands O(1),
// allocation-free, sub-microsecond decisions — a pattern the teacher's
// own disruptor/sequencer.go demonstrates for the ring buffer's cursor.
package risk

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rishav/hft-node/internal/clock"
	"github.com/rishav/hft-node/internal/model"
)

// Decision is the outcome of a risk check.
type Decision uint8

const (
	DecisionAllow Decision = iota
	DecisionThrottle
	DecisionBlock
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "Allow"
	case DecisionThrottle:
		return "Throttle"
	case DecisionBlock:
		return "Block"
	default:
		return "Unknown"
	}
}

// Check IDs, audited verbatim as evidence when a decision is not Allow
// (spec §4.4 table and §8 S2-S4).
const (
	CheckKillSwitch      = "KillSwitch"
	CheckDailyLoss       = "DailyLoss"
	CheckMaxOrderQty     = "MaxOrderQty"
	CheckMaxNotional     = "MaxNotional"
	CheckMaxPosition     = "MaxPosition"
	CheckMaxOrdersPerSec = "MaxOrdersPerSec"
)

// Result is the structured outcome of Decide, including the evidence
// needed for an OrderReject audit record (spec §4.4 "Outputs").
type Result struct {
	Decision  Decision
	CheckID   string
	Actual    float64
	Threshold float64
}

// Allowed is a convenience predicate.
func (r Result) Allowed() bool { return r.Decision == DecisionAllow }

// TicksPerSecond is the number of clock.Tick units (100ns each) in one
// wall-clock second, used to roll the rate-limit window (spec §4.4).
const TicksPerSecond = 10_000_000

// Gate is the pre-trade risk gate. One Gate instance serves the whole
// process; Decide is expected to be called from a single goroutine (the
// risk stage, C4) but UpdateLimits and Disengage may be called from any
// goroutine (spec §5: "Risk limits: atomically replaceable pointer-to-
// immutable; readers take an acquire load").
type Gate struct {
	limits atomic.Pointer[model.RiskLimits]
	clk    clock.Provider
	log    *zap.Logger

	killSwitch atomic.Bool

	windowStart atomic.Int64 // clock.Tick of the current rate-limit window
	windowCount atomic.Int32
}

// NewGate creates a Gate with the given initial limits.
func NewGate(limits model.RiskLimits, clk clock.Provider, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{clk: clk, log: log.Named("risk")}
	snap := limits.Clone()
	g.limits.Store(&snap)
	g.killSwitch.Store(limits.KillSwitch)
	return g
}

// UpdateLimits atomically swaps in a new immutable limits snapshot.
func (g *Gate) UpdateLimits(limits model.RiskLimits) {
	snap := limits.Clone()
	g.limits.Store(&snap)
}

// Limits returns the currently active limits snapshot.
func (g *Gate) Limits() model.RiskLimits {
	return *g.limits.Load()
}

// Engage forces the kill switch on; a one-way latch until Disengage is
// called (spec §4.4, §7).
func (g *Gate) Engage() {
	g.killSwitch.Store(true)
}

// Disengage manually clears the kill switch (spec §7: "disengagement is
// manual").
func (g *Gate) Disengage() {
	g.killSwitch.Store(false)
}

// KillSwitchEngaged reports the current kill-switch state.
func (g *Gate) KillSwitchEngaged() bool {
	return g.killSwitch.Load()
}

// Decide runs the ordered check pipeline of spec §4.4 against order,
// given the current position snapshot for its instrument. It is a pure
// function of (order, current limits, current position snapshot, current
// window counter): the same inputs at the same wall-clock second yield
// the same decision (spec §8).
func (g *Gate) Decide(order model.Order, pos model.PositionSnapshot) Result {
	// 1. Kill switch.
	if g.killSwitch.Load() {
		return Result{Decision: DecisionBlock, CheckID: CheckKillSwitch}
	}

	limits := *g.limits.Load()

	// 2. Daily loss.
	totalPnl := pos.RealizedPnl + pos.UnrealizedPnl
	if totalPnl < -limits.DailyLossLimit {
		g.killSwitch.Store(true)
		g.log.Warn("daily loss limit breached, engaging kill switch",
			zap.Int64("instrument_id", order.InstrumentID),
			zap.Float64("total_pnl", totalPnl),
			zap.Float64("limit", limits.DailyLossLimit),
		)
		return Result{Decision: DecisionBlock, CheckID: CheckDailyLoss, Actual: totalPnl, Threshold: -limits.DailyLossLimit}
	}

	// 3. Per-symbol resolution.
	maxOrderQty, maxPosition, maxNotional := limits.ForSymbol(order.InstrumentID)

	// 4. Max order quantity.
	if order.Quantity > maxOrderQty {
		return Result{Decision: DecisionBlock, CheckID: CheckMaxOrderQty, Actual: order.Quantity, Threshold: maxOrderQty}
	}

	// 5. Max notional.
	notional := order.Notional()
	if notional > maxNotional {
		return Result{Decision: DecisionBlock, CheckID: CheckMaxNotional, Actual: notional, Threshold: maxNotional}
	}

	// 6. Max position.
	projected := pos.NetPosition
	if order.Side == model.SideBuy {
		projected += order.Quantity
	} else {
		projected -= order.Quantity
	}
	if absf(projected) > maxPosition {
		return Result{Decision: DecisionBlock, CheckID: CheckMaxPosition, Actual: absf(projected), Threshold: maxPosition}
	}

	// 7. Rate limit.
	count := g.bumpWindow(limits.MaxOrdersPerSec)
	if count > limits.MaxOrdersPerSec {
		return Result{Decision: DecisionThrottle, CheckID: CheckMaxOrdersPerSec, Actual: float64(count), Threshold: float64(limits.MaxOrdersPerSec)}
	}

	return Result{Decision: DecisionAllow}
}

// bumpWindow advances (rolling strictly, per spec §4.4) the current
// wall-second rate-limit window and returns the order count within it,
// including this call.
func (g *Gate) bumpWindow(_ int32) int32 {
	now := int64(g.clk.Now())
	start := g.windowStart.Load()
	if now-start >= TicksPerSecond {
		g.windowStart.Store(now)
		g.windowCount.Store(1)
		return 1
	}
	return g.windowCount.Add(1)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
