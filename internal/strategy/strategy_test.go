package strategy

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rishav/hft-node/internal/marketdata"
	"github.com/rishav/hft-node/internal/model"
	"github.com/rishav/hft-node/internal/position"
	"github.com/rishav/hft-node/internal/ring"
)

func tickAt(mid float64) model.MarketDataTick {
	t := model.MarketDataTick{InstrumentID: 1}
	t.Bids[0] = model.PriceLevel{Price: mid - 1, Size: 10}
	t.Asks[0] = model.PriceLevel{Price: mid + 1, Size: 10}
	return t
}

func TestStage_EmitsTwoOrdersPerTick(t *testing.T) {
	ticks := ring.New[model.MarketDataTick](8)
	preRisk := ring.New[model.Order](8)
	pos := position.NewStore()
	var ids atomic.Int64

	cfg := DefaultConfig()
	s := NewStage(cfg, ticks, preRisk, pos, &ids, nil)

	ticks.TryWrite(tickAt(100))
	s.onTick(mustRead(t, ticks))

	var buy, sell model.Order
	require.True(t, preRisk.TryRead(&buy))
	require.True(t, preRisk.TryRead(&sell))
	require.Equal(t, model.SideBuy, buy.Side)
	require.Equal(t, model.SideSell, sell.Side)
	require.InDelta(t, 100-cfg.Spread/2, buy.Price, 1e-9)
	require.InDelta(t, 100+cfg.Spread/2, sell.Price, 1e-9)
}

func TestStage_SkewWhenLongAboveThreshold(t *testing.T) {
	ticks := ring.New[model.MarketDataTick](8)
	preRisk := ring.New[model.Order](8)
	pos := position.NewStore()
	pos.ApplyFill(1, model.SideBuy, 200, 100, 100) // net position 200 > threshold 100
	var ids atomic.Int64

	cfg := DefaultConfig()
	s := NewStage(cfg, ticks, preRisk, pos, &ids, nil)
	s.onTick(tickAt(100))

	var buy, sell model.Order
	require.True(t, preRisk.TryRead(&buy))
	require.True(t, preRisk.TryRead(&sell))
	require.InDelta(t, 100-cfg.Spread/2-cfg.SkewAmount, buy.Price, 1e-9)
	require.InDelta(t, 100+cfg.Spread/2+cfg.SkewAmount, sell.Price, 1e-9)
}

func TestStage_MarksToMarketEveryTick(t *testing.T) {
	ticks := ring.New[model.MarketDataTick](8)
	preRisk := ring.New[model.Order](8)
	pos := position.NewStore()
	pos.ApplyFill(1, model.SideBuy, 10, 90, 90)
	var ids atomic.Int64

	s := NewStage(DefaultConfig(), ticks, preRisk, pos, &ids, nil)
	s.onTick(tickAt(100))

	snap := pos.Snapshot(1)
	require.InDelta(t, 100.0, snap.UnrealizedPnl, 1e-9) // (100-90)*10
}

func TestStage_DropsOnFullPreRiskRing(t *testing.T) {
	ticks := ring.New[model.MarketDataTick](8)
	preRisk := ring.New[model.Order](1)
	pos := position.NewStore()
	var ids atomic.Int64

	s := NewStage(DefaultConfig(), ticks, preRisk, pos, &ids, nil)
	s.onTick(tickAt(100))

	require.Equal(t, uint64(1), s.Stats().OrdersEmitted)
	require.Equal(t, uint64(1), s.Stats().OrdersDropped)
}

func TestStage_RunRespectsCancellation(t *testing.T) {
	ticks := ring.New[model.MarketDataTick](8)
	preRisk := ring.New[model.Order](8)
	pos := position.NewStore()
	var ids atomic.Int64

	s := NewStage(DefaultConfig(), ticks, preRisk, pos, &ids, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}

func TestStage_PublishesToMarketDataTap(t *testing.T) {
	ticks := ring.New[model.MarketDataTick](8)
	preRisk := ring.New[model.Order](8)
	pos := position.NewStore()
	var ids atomic.Int64

	pub := marketdata.NewPublisher(4)
	ch := pub.Subscribe(1)

	s := NewStage(DefaultConfig(), ticks, preRisk, pos, &ids, nil).WithMarketDataTap(pub)
	s.onTick(tickAt(100))

	select {
	case q := <-ch:
		require.Equal(t, int64(1), q.InstrumentID)
		require.InDelta(t, 99.0, q.BidPrice, 1e-9)
		require.InDelta(t, 101.0, q.AskPrice, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("expected a published L1 quote")
	}
}

func mustRead(t *testing.T, r *ring.Ring[model.MarketDataTick]) model.MarketDataTick {
	t.Helper()
	var tick model.MarketDataTick
	if !r.TryRead(&tick) {
		t.Fatal("expected a tick to be available")
	}
	return tick
}
