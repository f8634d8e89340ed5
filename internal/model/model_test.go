package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarketDataTick_RoundTrip(t *testing.T) {
	tick := MarketDataTick{
		Version:      CurrentVersion,
		Sequence:     42,
		InstrumentID: 7,
		SendTS:       100,
		ReceiveTS:    105,
	}
	for i := 0; i < 5; i++ {
		tick.Bids[i] = PriceLevel{Price: 99.95 - float64(i)*0.01, Size: 10}
		tick.Asks[i] = PriceLevel{Price: 100.05 + float64(i)*0.01, Size: 10}
	}

	b, err := tick.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, MarketDataTickSize)
	require.Equal(t, 193, MarketDataTickSize)

	var out MarketDataTick
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, tick, out)

	b2, err := out.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, b, b2)
}

func TestMarketDataTick_ShortFrame(t *testing.T) {
	var out MarketDataTick
	err := out.UnmarshalBinary(make([]byte, 10))
	require.Error(t, err)
}

func TestMarketDataTick_Valid(t *testing.T) {
	tick := MarketDataTick{}
	tick.Bids[0] = PriceLevel{Price: 99.95}
	tick.Asks[0] = PriceLevel{Price: 100.05}
	require.True(t, tick.Valid())
	require.Equal(t, 100.0, tick.Mid())

	tick.Bids[0].Price = 101
	require.False(t, tick.Valid())
}

func TestOrder_RoundTrip(t *testing.T) {
	o := Order{
		Version:      CurrentVersion,
		OrderID:      123,
		InstrumentID: 7,
		Side:         SideBuy,
		Price:        99.95,
		Quantity:     10,
		Timestamp:    555,
		Sequence:     1,
	}
	b, err := o.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, OrderSize)

	var out Order
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, o, out)
}

func TestOrder_WithSequenceImmutable(t *testing.T) {
	o := Order{Sequence: 1}
	o2 := o.WithSequence(99)
	require.Equal(t, int64(1), o.Sequence)
	require.Equal(t, int64(99), o2.Sequence)
}

func TestFill_RoundTrip(t *testing.T) {
	f := Fill{
		Version:      CurrentVersion,
		FillID:       1,
		OrderID:      123,
		InstrumentID: 7,
		Side:         SideSell,
		Price:        100.05,
		Quantity:     10,
		Timestamp:    600,
	}
	b, err := f.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, FillSize)

	var out Fill
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, f, out)
}

func TestPositionSnapshot_RoundTrip(t *testing.T) {
	p := PositionSnapshot{
		InstrumentID:  7,
		NetPosition:   10,
		AvgEntryPrice: 99.95,
		RealizedPnl:   1.0,
		UnrealizedPnl: 0.5,
	}
	b, err := p.MarshalBinary()
	require.NoError(t, err)

	var out PositionSnapshot
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, p, out)
	require.InDelta(t, 1.5, out.TotalPnl(), 1e-9)
}

func TestRiskLimits_ForSymbol(t *testing.T) {
	limits := RiskLimits{
		MaxOrderQty:      100,
		MaxPosition:      500,
		MaxNotionalOrder: 20000,
		SymbolOverrides: map[int64]SymbolLimits{
			7: {MaxOrderQty: 50, MaxPosition: 200, MaxNotionalOrder: 10000},
		},
	}

	qty, pos, notional := limits.ForSymbol(7)
	require.Equal(t, 50.0, qty)
	require.Equal(t, 200.0, pos)
	require.Equal(t, 10000.0, notional)

	qty, pos, notional = limits.ForSymbol(8)
	require.Equal(t, 100.0, qty)
	require.Equal(t, 500.0, pos)
	require.Equal(t, 20000.0, notional)
}

func TestRiskLimits_CloneIsIndependent(t *testing.T) {
	limits := RiskLimits{SymbolOverrides: map[int64]SymbolLimits{1: {MaxOrderQty: 1}}}
	clone := limits.Clone()
	clone.SymbolOverrides[1] = SymbolLimits{MaxOrderQty: 99}
	require.Equal(t, 1.0, limits.SymbolOverrides[1].MaxOrderQty)
}
