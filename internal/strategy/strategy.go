// Package strategy implements the market-making strategy stage (spec
// §4.3, component C3): for every tick read off the tick ring, quote a
// two-sided market around mid, skewed by current net position, and
// push at most two candidate orders onto the pre-risk ring.
//
// Grounded on the teacher's matching-engine client loop
// (order-matching-engine/cmd/client/main.go), which reads market data
// and submits orders in a tight single-goroutine loop; this stage keeps
// that "one goroutine, one responsibility" shape but replaces client
// order submission with the spec's specific skewed-quote rule and
// routes through a ring instead of a network call.
package strategy

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rishav/hft-node/internal/audit"
	"github.com/rishav/hft-node/internal/marketdata"
	"github.com/rishav/hft-node/internal/model"
	"github.com/rishav/hft-node/internal/position"
	"github.com/rishav/hft-node/internal/ring"
)

// Config holds the strategy stage's tunables (spec §4.3: "Quantity is a
// configured constant").
type Config struct {
	// Spread is the full (not half) quoted spread around mid.
	Spread float64
	// SkewThreshold is the net-position magnitude past which quotes
	// skew away from further accumulation (spec §4.3: "+0.01 when
	// current net position > 100, -0.01 when < -100").
	SkewThreshold float64
	// SkewAmount is the price adjustment applied once SkewThreshold is
	// crossed.
	SkewAmount float64
	// Quantity is the fixed order size quoted on both sides.
	Quantity float64
	// InstrumentID names the instrument this configuration is wired to.
	// It is informational: the stage quotes every tick it reads, under
	// the instrument_id carried on that tick.
	InstrumentID int64
	// YieldEvery spins this many empty-ring polls before calling
	// runtime.Gosched, avoiding starving other goroutines during a
	// quiet market (spec §4.3 "Scheduling").
	YieldEvery int
}

// DefaultConfig returns reasonable quoting parameters.
func DefaultConfig() Config {
	return Config{
		Spread:        0.02,
		SkewThreshold: 100,
		SkewAmount:    0.01,
		Quantity:      1,
		YieldEvery:    256,
	}
}

// Stats exposes the strategy stage's operational counters.
type Stats struct {
	TicksConsumed uint64
	OrdersEmitted uint64
	OrdersDropped uint64
}

// Stage is the C3 strategy loop.
type Stage struct {
	cfg Config

	ticks    *ring.Ring[model.MarketDataTick]
	preRisk  *ring.Ring[model.Order]
	pos      *position.Store
	orderIDs *atomic.Int64 // shared global order-ID counter (spec §4.3)

	// mdPub is an optional external L1 tap (out-of-core collaborators
	// such as a metrics surface or TUI monitor, spec.md §1). Publishing
	// to it is best-effort and never blocks the pipeline; a nil mdPub
	// is the default and simply skips the publish.
	mdPub *marketdata.Publisher

	// aw is an optional audit writer used only to record a panic
	// recovered from onTick (SPEC_FULL.md's error-handling section); a
	// nil aw just skips that record.
	aw *audit.Writer

	log *zap.Logger

	ticksConsumed atomic.Uint64
	ordersEmitted atomic.Uint64
	ordersDropped atomic.Uint64
}

// NewStage creates a strategy stage. orderIDs is the process-wide
// monotonic order-ID counter shared with any other order source (spec
// §4.3: "Order IDs come from the global order-ID counter").
func NewStage(cfg Config, ticks *ring.Ring[model.MarketDataTick], preRisk *ring.Ring[model.Order], pos *position.Store, orderIDs *atomic.Int64, log *zap.Logger) *Stage {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stage{cfg: cfg, ticks: ticks, preRisk: preRisk, pos: pos, orderIDs: orderIDs, log: log.Named("strategy")}
}

// WithMarketDataTap attaches an optional external L1 quote publisher.
// Chainable, mirroring Ingestor.WithBook.
func (s *Stage) WithMarketDataTap(pub *marketdata.Publisher) *Stage {
	s.mdPub = pub
	return s
}

// WithAudit attaches the audit writer used to record a panic recovered
// from onTick. Chainable.
func (s *Stage) WithAudit(aw *audit.Writer) *Stage {
	s.aw = aw
	return s
}

// Stats returns a snapshot of the strategy stage counters.
func (s *Stage) Stats() Stats {
	return Stats{
		TicksConsumed: s.ticksConsumed.Load(),
		OrdersEmitted: s.ordersEmitted.Load(),
		OrdersDropped: s.ordersDropped.Load(),
	}
}

// Run consumes ticks until ctx is canceled, cooperatively spin-waiting
// on an empty tick ring and yielding the goroutine scheduler
// periodically so it doesn't starve sibling stages (spec §4.3
// "Scheduling").
func (s *Stage) Run(ctx context.Context) {
	var tick model.MarketDataTick
	spins := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.ticks.TryRead(&tick) {
			spins++
			if spins%s.cfg.YieldEvery == 0 {
				runtime.Gosched()
			} else {
				time.Sleep(0)
			}
			continue
		}
		spins = 0
		s.ticksConsumed.Add(1)
		s.processTick(tick)
	}
}

// processTick runs onTick with panic recovery, converting a recovered
// panic into a SystemEvent audit record instead of crashing the stage
// goroutine (SPEC_FULL.md's error handling section, grounded on the
// teacher's disruptor.EventProcessor.processRequest, which recovers
// around a single request rather than the whole processing loop).
func (s *Stage) processTick(tick model.MarketDataTick) {
	defer func() {
		if r := recover(); r != nil {
			audit.RecoverPanic(s.aw, s.log, "strategy", r)
		}
	}()
	s.onTick(tick)
}

// onTick implements one pass of the spec §4.3 quoting rule.
func (s *Stage) onTick(tick model.MarketDataTick) {
	mid := tick.Mid()
	pos := s.pos.Snapshot(tick.InstrumentID)

	skew := 0.0
	switch {
	case pos.NetPosition > s.cfg.SkewThreshold:
		skew = s.cfg.SkewAmount
	case pos.NetPosition < -s.cfg.SkewThreshold:
		skew = -s.cfg.SkewAmount
	}

	myBid := mid - s.cfg.Spread/2 - skew
	myAsk := mid + s.cfg.Spread/2 + skew
	ts := tick.ReceiveTS

	buy := model.Order{
		Version:      model.CurrentVersion,
		OrderID:      s.orderIDs.Add(1),
		InstrumentID: tick.InstrumentID,
		Side:         model.SideBuy,
		Price:        myBid,
		Quantity:     s.cfg.Quantity,
		Timestamp:    ts,
	}
	sell := model.Order{
		Version:      model.CurrentVersion,
		OrderID:      s.orderIDs.Add(1),
		InstrumentID: tick.InstrumentID,
		Side:         model.SideSell,
		Price:        myAsk,
		Quantity:     s.cfg.Quantity,
		Timestamp:    ts,
	}

	s.emit(buy)
	s.emit(sell)

	s.pos.MarkToMarket(tick.InstrumentID, mid)

	if s.mdPub != nil {
		s.mdPub.Publish(marketdata.L1Quote{
			InstrumentID: tick.InstrumentID,
			BidPrice:     tick.Bids[0].Price,
			BidSize:      tick.Bids[0].Size,
			AskPrice:     tick.Asks[0].Price,
			AskSize:      tick.Asks[0].Size,
			Timestamp:    ts,
		})
	}
}

func (s *Stage) emit(o model.Order) {
	if s.preRisk.TryWrite(o) {
		s.ordersEmitted.Add(1)
		return
	}
	s.ordersDropped.Add(1)
	s.log.Debug("pre-risk ring full, dropping candidate order",
		zap.Int64("order_id", o.OrderID),
		zap.Int64("instrument_id", o.InstrumentID),
	)
}
