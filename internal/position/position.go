// Package position holds the per-instrument Position/PnL state (spec
// §3 PositionSnapshot, §4.6, component C6).
//
// Ownership, per spec §3 and §9: the executor is the writer on fills
// (OnFill), and the strategy loop is the writer for mark-to-market
// (MarkToMarket, driven by the latest mid-price). Both paths replace the
// entire snapshot value atomically via atomic.Pointer.Store, so a reader
// never observes a torn struct — only ever a complete "before" or
// "after" snapshot (§9: "readers obtain an acquire-loaded snapshot").
// Because two different goroutines can call in at different times, a
// mark-to-market and a fill can race to publish; the spec accepts this
// (§9 design notes) since the loser's update is superseded, not
// corrupted — cross-field consistency for reporting is a caller concern,
// not a memory-safety one.
package position

import (
	"sync"
	"sync/atomic"

	"github.com/rishav/hft-node/internal/model"
)

// Store is the process-wide position/PnL table, keyed by instrument ID.
type Store struct {
	mu   sync.RWMutex
	rows map[int64]*atomic.Pointer[model.PositionSnapshot]
}

// NewStore creates an empty position store.
func NewStore() *Store {
	return &Store{rows: make(map[int64]*atomic.Pointer[model.PositionSnapshot])}
}

func (s *Store) rowFor(instrumentID int64) *atomic.Pointer[model.PositionSnapshot] {
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
	row = &atomic.Pointer[model.PositionSnapshot]{}
	row.Store(&model.PositionSnapshot{InstrumentID: instrumentID})
	s.rows[instrumentID] = row
	return row
}

// Snapshot returns the current position snapshot for instrumentID (zero
// value if the instrument has never traded). Safe for any number of
// concurrent readers; implemented as a single acquire load (spec §4.6).
func (s *Store) Snapshot(instrumentID int64) model.PositionSnapshot {
	return *s.rowFor(instrumentID).Load()
}

// MarkToMarket recomputes UnrealizedPnl from the current mid price and
// publishes the result. This is the only path that updates
// UnrealizedPnl outside of a fill (spec §4.3: "Mark the position to
// market using mid; this is the only path that updates unrealized_pnl"
// for the no-fill case).
func (s *Store) MarkToMarket(instrumentID int64, mid float64) model.PositionSnapshot {
	row := s.rowFor(instrumentID)
	cur := *row.Load()
	cur.UnrealizedPnl = unrealized(cur.NetPosition, cur.AvgEntryPrice, mid)
	row.Store(&cur)
	return cur
}

// ApplyFill applies the weighted-average PnL accounting of spec §4.5 for
// a single fill and publishes the resulting snapshot. side/qty/price
// describe the taker's own fill (buy increases, sell decreases).
func (s *Store) ApplyFill(instrumentID int64, side model.Side, qty, price, mid float64) model.PositionSnapshot {
	row := s.rowFor(instrumentID)
	cur := *row.Load()

	signedQty := qty
	if side == model.SideSell {
		signedQty = -qty
	}

	oldPos := cur.NetPosition
	newPos := oldPos + signedQty

	if oldPos != 0 && sign(oldPos) != sign(signedQty) {
		closingQty := minAbs(signedQty, oldPos)
		var delta float64
		if oldPos > 0 {
			delta = (price - cur.AvgEntryPrice) * closingQty
		} else {
			delta = (cur.AvgEntryPrice - price) * closingQty
		}
		cur.RealizedPnl += delta
	}

	switch {
	case newPos == 0:
		cur.AvgEntryPrice = 0
	case oldPos == 0:
		cur.AvgEntryPrice = price
	case sign(oldPos) == sign(signedQty):
		// Adding to an existing exposure: size-weighted mean.
		cur.AvgEntryPrice = (absf(oldPos)*cur.AvgEntryPrice + absf(signedQty)*price) / absf(newPos)
	case sign(newPos) != sign(oldPos):
		// Flipped through zero: the new exposure is entirely at the fill price.
		cur.AvgEntryPrice = price
	default:
		// Partial close, same side survives: average entry is unchanged.
	}

	cur.NetPosition = newPos
	cur.UnrealizedPnl = unrealized(newPos, cur.AvgEntryPrice, mid)

	row.Store(&cur)
	return cur
}

func unrealized(netPos, avgEntry, mid float64) float64 {
	switch {
	case netPos > 0:
		return (mid - avgEntry) * netPos
	case netPos < 0:
		return (avgEntry - mid) * -netPos
	default:
		return 0
	}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// minAbs returns the smaller-magnitude of a and b, as a positive value.
func minAbs(a, b float64) float64 {
	aa, bb := absf(a), absf(b)
	if aa < bb {
		return aa
	}
	return bb
}
