// Package book holds the latest best-bid/offer snapshot per
// instrument, used by the execution simulator as its view of current
// market price (spec.md names no dedicated BBO component; this is the
// SPEC_FULL.md "supplemented features" adaptation of the teacher's
// order book).
//
// The teacher's internal/orderbook is a red-black-tree price-level book
// that resolves a live matching engine's best price by walking the
// tree. This package keeps the "resolve best bid/ask for an instrument"
// responsibility but drops the resting-order tree entirely: spec.md's
// execution simulator fills against incoming MarketDataTicks, not a
// live book of resting orders, so there is nothing to rest here — only
// the most recently observed two-sided quote per instrument, published
// the same atomic-swap way as internal/position.
package book

import (
	"sync"
	"sync/atomic"

	"github.com/rishav/hft-node/internal/model"
)

// BBO is the best bid/offer for one instrument at a point in time.
type BBO struct {
	InstrumentID int64
	BidPrice     float64
	BidSize      float64
	AskPrice     float64
	AskSize      float64
	ObservedAt   int64 // clock.Tick of the tick that produced this BBO
}

// Mid returns the midpoint price.
func (b BBO) Mid() float64 {
	return (b.BidPrice + b.AskPrice) / 2
}

// Store is the process-wide latest-BBO table, keyed by instrument ID.
type Store struct {
	mu   sync.RWMutex
	rows map[int64]*atomic.Pointer[BBO]
}

// NewStore creates an empty BBO store.
func NewStore() *Store {
	return &Store{rows: make(map[int64]*atomic.Pointer[BBO])}
}

func (s *Store) rowFor(instrumentID int64) *atomic.Pointer[BBO] {
	s.mu.RLock()
	row, ok := s.rows[instrumentID]
	s.mu.RUnlock()
	if ok {
		return row
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok = s.rows[instrumentID]; ok {
		return row
	}
	row = &atomic.Pointer[BBO]{}
	row.Store(&BBO{InstrumentID: instrumentID})
	s.rows[instrumentID] = row
	return row
}

// Update publishes tick's top-of-book as the latest BBO for its
// instrument. Safe to call from any goroutine (typically the ingest
// stage, which observes every decoded tick regardless of whether it
// was subsequently dropped by a full ring).
func (s *Store) Update(tick model.MarketDataTick) {
	bbo := BBO{
		InstrumentID: tick.InstrumentID,
		BidPrice:     tick.Bids[0].Price,
		BidSize:      tick.Bids[0].Size,
		AskPrice:     tick.Asks[0].Price,
		AskSize:      tick.Asks[0].Size,
		ObservedAt:   tick.ReceiveTS,
	}
	s.rowFor(tick.InstrumentID).Store(&bbo)
}

// Get returns the latest BBO for instrumentID and whether one has ever
// been observed.
func (s *Store) Get(instrumentID int64) (BBO, bool) {
	row := s.rowFor(instrumentID)
	bbo := *row.Load()
	return bbo, bbo.AskPrice != 0 || bbo.BidPrice != 0
}

// Mid returns the latest mid price for instrumentID, or 0 if none has
// been observed yet.
func (s *Store) Mid(instrumentID int64) float64 {
	bbo, ok := s.Get(instrumentID)
	if !ok {
		return 0
	}
	return bbo.Mid()
}
