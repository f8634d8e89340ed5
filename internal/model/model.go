// Package model defines the fixed-layout, blittable value types shared
// across the pipeline (spec §3): MarketDataTick, Order, Fill,
// PositionSnapshot and RiskLimits. All are immutable value objects —
// "mutations" return new values, matching spec §9 ("Immutable value
// objects") — and every entity that crosses the audit-log boundary
// implements MarshalBinary/UnmarshalBinary with the exact packed layout
// spec.md pins down, so encode/decode round-trips are byte-for-byte
// reproducible (spec §8, "Round-trip and idempotence laws").
//
// The teacher (order-matching-engine/internal/orders) represents prices
// as fixed-point int64 cents. spec §3 instead pins prices to 64-bit
// IEEE-754 doubles throughout the core hot path, so this package departs
// from that teacher convention on that one point while keeping its
// value-semantics / sequence-number / String() style.
package model

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Side is the side of an order or fill.
type Side uint8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// CurrentVersion is the wire version stamped into every fixed-layout
// entity below. spec §9 flags that the source has a second, unversioned
// Order/Fill layout; this package implements only the versioned, packed,
// immutable variant the spec adopts.
const CurrentVersion uint8 = 1

// PriceLevel is one level of a quoted book (spec §3).
type PriceLevel struct {
	Price float64
	Size  float64
}

const priceLevelSize = 16

func (p PriceLevel) putBytes(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], math.Float64bits(p.Price))
	binary.LittleEndian.PutUint64(b[8:16], math.Float64bits(p.Size))
}

func priceLevelFromBytes(b []byte) PriceLevel {
	return PriceLevel{
		Price: math.Float64frombits(binary.LittleEndian.Uint64(b[0:8])),
		Size:  math.Float64frombits(binary.LittleEndian.Uint64(b[8:16])),
	}
}

// MarketDataTick is a fixed-layout two-sided quote (spec §3). Its encoded
// size is exactly 193 bytes with 1-byte packing:
// 1 (version) + 8*4 (sequence, instrument_id, send_ts, receive_ts) +
// 5*16 (bids) + 5*16 (asks) = 193.
type MarketDataTick struct {
	Version      uint8
	Sequence     int64
	InstrumentID int64
	SendTS       int64
	ReceiveTS    int64
	Bids         [5]PriceLevel
	Asks         [5]PriceLevel
}

// MarketDataTickSize is the exact encoded size of a MarketDataTick.
const MarketDataTickSize = 1 + 8*4 + 5*priceLevelSize + 5*priceLevelSize

// Valid reports whether the tick is a sane two-sided quote: best bid below
// best ask. spec §3: violations are surfaced but not rejected at ingest,
// so this is advisory, not a gate.
func (t MarketDataTick) Valid() bool {
	return t.Bids[0].Price < t.Asks[0].Price
}

// Mid returns the mid price of the top of book.
func (t MarketDataTick) Mid() float64 {
	return (t.Bids[0].Price + t.Asks[0].Price) / 2
}

// MarshalBinary encodes the tick to its exact 193-byte wire layout.
func (t MarketDataTick) MarshalBinary() ([]byte, error) {
	b := make([]byte, MarketDataTickSize)
	b[0] = t.Version
	binary.LittleEndian.PutUint64(b[1:9], uint64(t.Sequence))
	binary.LittleEndian.PutUint64(b[9:17], uint64(t.InstrumentID))
	binary.LittleEndian.PutUint64(b[17:25], uint64(t.SendTS))
	binary.LittleEndian.PutUint64(b[25:33], uint64(t.ReceiveTS))
	off := 33
	for i := 0; i < 5; i++ {
		t.Bids[i].putBytes(b[off : off+priceLevelSize])
		off += priceLevelSize
	}
	for i := 0; i < 5; i++ {
		t.Asks[i].putBytes(b[off : off+priceLevelSize])
		off += priceLevelSize
	}
	return b, nil
}

// UnmarshalBinary decodes a tick from its 193-byte wire layout. It
// returns an error if the input is shorter than MarketDataTickSize
// (spec §4.2 "Decode length mismatch").
func (t *MarketDataTick) UnmarshalBinary(b []byte) error {
	if len(b) < MarketDataTickSize {
		return fmt.Errorf("model: short tick frame: got %d bytes, want %d", len(b), MarketDataTickSize)
	}
	t.Version = b[0]
	t.Sequence = int64(binary.LittleEndian.Uint64(b[1:9]))
	t.InstrumentID = int64(binary.LittleEndian.Uint64(b[9:17]))
	t.SendTS = int64(binary.LittleEndian.Uint64(b[17:25]))
	t.ReceiveTS = int64(binary.LittleEndian.Uint64(b[25:33]))
	off := 33
	for i := 0; i < 5; i++ {
		t.Bids[i] = priceLevelFromBytes(b[off : off+priceLevelSize])
		off += priceLevelSize
	}
	for i := 0; i < 5; i++ {
		t.Asks[i] = priceLevelFromBytes(b[off : off+priceLevelSize])
		off += priceLevelSize
	}
	return nil
}

// Order is immutable after creation (spec §3); "With" helpers return new
// values rather than mutating the receiver.
type Order struct {
	Version      uint8
	OrderID      int64
	InstrumentID int64
	Side         Side
	Price        float64
	Quantity     float64
	Timestamp    int64
	Sequence     int64
}

// OrderSize is the exact encoded size of an Order.
const OrderSize = 1 + 8 + 8 + 1 + 8 + 8 + 8 + 8

// Notional returns price * quantity.
func (o Order) Notional() float64 { return o.Price * o.Quantity }

// WithSequence returns a copy of o with Sequence set, leaving o unchanged.
func (o Order) WithSequence(seq int64) Order {
	o.Sequence = seq
	return o
}

func (o Order) String() string {
	return fmt.Sprintf("Order{ID:%d, %s inst=%d %.4f@%.4f, seq=%d}",
		o.OrderID, o.Side, o.InstrumentID, o.Quantity, o.Price, o.Sequence)
}

// MarshalBinary encodes the order to its fixed wire layout.
func (o Order) MarshalBinary() ([]byte, error) {
	b := make([]byte, OrderSize)
	b[0] = o.Version
	binary.LittleEndian.PutUint64(b[1:9], uint64(o.OrderID))
	binary.LittleEndian.PutUint64(b[9:17], uint64(o.InstrumentID))
	b[17] = byte(o.Side)
	binary.LittleEndian.PutUint64(b[18:26], math.Float64bits(o.Price))
	binary.LittleEndian.PutUint64(b[26:34], math.Float64bits(o.Quantity))
	binary.LittleEndian.PutUint64(b[34:42], uint64(o.Timestamp))
	binary.LittleEndian.PutUint64(b[42:50], uint64(o.Sequence))
	return b, nil
}

// UnmarshalBinary decodes an order from its fixed wire layout.
func (o *Order) UnmarshalBinary(b []byte) error {
	if len(b) < OrderSize {
		return fmt.Errorf("model: short order frame: got %d bytes, want %d", len(b), OrderSize)
	}
	o.Version = b[0]
	o.OrderID = int64(binary.LittleEndian.Uint64(b[1:9]))
	o.InstrumentID = int64(binary.LittleEndian.Uint64(b[9:17]))
	o.Side = Side(b[17])
	o.Price = math.Float64frombits(binary.LittleEndian.Uint64(b[18:26]))
	o.Quantity = math.Float64frombits(binary.LittleEndian.Uint64(b[26:34]))
	o.Timestamp = int64(binary.LittleEndian.Uint64(b[34:42]))
	o.Sequence = int64(binary.LittleEndian.Uint64(b[42:50]))
	return nil
}

// Fill is a single execution against an Order (spec §3).
type Fill struct {
	Version      uint8
	FillID       int64
	OrderID      int64
	InstrumentID int64
	Side         Side
	Price        float64
	Quantity     float64
	Timestamp    int64
}

// FillSize is the exact encoded size of a Fill.
const FillSize = 1 + 8 + 8 + 8 + 1 + 8 + 8 + 8

func (f Fill) String() string {
	return fmt.Sprintf("Fill{ID:%d, order=%d %s %.4f@%.4f}", f.FillID, f.OrderID, f.Side, f.Quantity, f.Price)
}

// MarshalBinary encodes the fill to its fixed wire layout.
func (f Fill) MarshalBinary() ([]byte, error) {
	b := make([]byte, FillSize)
	b[0] = f.Version
	binary.LittleEndian.PutUint64(b[1:9], uint64(f.FillID))
	binary.LittleEndian.PutUint64(b[9:17], uint64(f.OrderID))
	binary.LittleEndian.PutUint64(b[17:25], uint64(f.InstrumentID))
	b[25] = byte(f.Side)
	binary.LittleEndian.PutUint64(b[26:34], math.Float64bits(f.Price))
	binary.LittleEndian.PutUint64(b[34:42], math.Float64bits(f.Quantity))
	binary.LittleEndian.PutUint64(b[42:50], uint64(f.Timestamp))
	return b, nil
}

// UnmarshalBinary decodes a fill from its fixed wire layout.
func (f *Fill) UnmarshalBinary(b []byte) error {
	if len(b) < FillSize {
		return fmt.Errorf("model: short fill frame: got %d bytes, want %d", len(b), FillSize)
	}
	f.Version = b[0]
	f.FillID = int64(binary.LittleEndian.Uint64(b[1:9]))
	f.OrderID = int64(binary.LittleEndian.Uint64(b[9:17]))
	f.InstrumentID = int64(binary.LittleEndian.Uint64(b[17:25]))
	f.Side = Side(b[25])
	f.Price = math.Float64frombits(binary.LittleEndian.Uint64(b[26:34]))
	f.Quantity = math.Float64frombits(binary.LittleEndian.Uint64(b[34:42]))
	f.Timestamp = int64(binary.LittleEndian.Uint64(b[42:50]))
	return nil
}

// PositionSnapshot is a point-in-time, per-instrument position/PnL view
// (spec §3). Invariant: NetPosition == 0 implies AvgEntryPrice == 0.
type PositionSnapshot struct {
	InstrumentID  int64
	NetPosition   float64
	AvgEntryPrice float64
	RealizedPnl   float64
	UnrealizedPnl float64
}

// TotalPnl is the derived sum of realized and unrealized PnL.
func (p PositionSnapshot) TotalPnl() float64 {
	return p.RealizedPnl + p.UnrealizedPnl
}

// PositionSnapshotSize is the exact encoded size of a PositionSnapshot.
const PositionSnapshotSize = 8 + 8*4

// MarshalBinary encodes the snapshot, used for PnlUpdate audit payloads.
func (p PositionSnapshot) MarshalBinary() ([]byte, error) {
	b := make([]byte, PositionSnapshotSize)
	binary.LittleEndian.PutUint64(b[0:8], uint64(p.InstrumentID))
	binary.LittleEndian.PutUint64(b[8:16], math.Float64bits(p.NetPosition))
	binary.LittleEndian.PutUint64(b[16:24], math.Float64bits(p.AvgEntryPrice))
	binary.LittleEndian.PutUint64(b[24:32], math.Float64bits(p.RealizedPnl))
	binary.LittleEndian.PutUint64(b[32:40], math.Float64bits(p.UnrealizedPnl))
	return b, nil
}

// UnmarshalBinary decodes a snapshot from its fixed wire layout.
func (p *PositionSnapshot) UnmarshalBinary(b []byte) error {
	if len(b) < PositionSnapshotSize {
		return fmt.Errorf("model: short position snapshot frame: got %d bytes, want %d", len(b), PositionSnapshotSize)
	}
	p.InstrumentID = int64(binary.LittleEndian.Uint64(b[0:8]))
	p.NetPosition = math.Float64frombits(binary.LittleEndian.Uint64(b[8:16]))
	p.AvgEntryPrice = math.Float64frombits(binary.LittleEndian.Uint64(b[16:24]))
	p.RealizedPnl = math.Float64frombits(binary.LittleEndian.Uint64(b[24:32]))
	p.UnrealizedPnl = math.Float64frombits(binary.LittleEndian.Uint64(b[32:40]))
	return nil
}

// SymbolLimits is a per-instrument override of the global risk limits
// (spec §3 RiskLimits.symbol_overrides).
type SymbolLimits struct {
	MaxOrderQty     float64
	MaxPosition     float64
	MaxNotionalOrder float64
}

// RiskLimits is the runtime-pluggable set of pre-trade risk limits
// (spec §3 and §9: "atomically replaceable handle to an immutable
// value"). A RiskLimits value is never mutated in place once built; the
// risk gate swaps an *atomic.Pointer[RiskLimits] to apply updates.
type RiskLimits struct {
	MaxOrderQty      float64
	MaxPosition      float64
	MaxOrdersPerSec  int32
	MaxNotionalOrder float64
	DailyLossLimit   float64
	KillSwitch       bool
	SymbolOverrides  map[int64]SymbolLimits
}

// ForSymbol resolves the effective {MaxOrderQty, MaxPosition,
// MaxNotionalOrder} for instrumentID, preferring a symbol override over
// the global default (spec §4.4 check 3).
func (l RiskLimits) ForSymbol(instrumentID int64) (maxOrderQty, maxPosition, maxNotional float64) {
	if ov, ok := l.SymbolOverrides[instrumentID]; ok {
		return ov.MaxOrderQty, ov.MaxPosition, ov.MaxNotionalOrder
	}
	return l.MaxOrderQty, l.MaxPosition, l.MaxNotionalOrder
}

// Clone returns a deep copy of l, used when building a new immutable
// snapshot to swap in (SymbolOverrides must not be shared between old and
// new snapshots once either may be mutated by a caller).
func (l RiskLimits) Clone() RiskLimits {
	cp := l
	if l.SymbolOverrides != nil {
		cp.SymbolOverrides = make(map[int64]SymbolLimits, len(l.SymbolOverrides))
		for k, v := range l.SymbolOverrides {
			cp.SymbolOverrides[k] = v
		}
	}
	return cp
}
