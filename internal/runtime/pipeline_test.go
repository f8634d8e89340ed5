// Adapted from the teacher's tests/integration_test.go: a black-box,
// full-stack test that wires every stage together and drives it
// through its public surface only, rather than poking at internals.
package runtime

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rishav/hft-node/internal/clock"
	"github.com/rishav/hft-node/internal/exec"
	"github.com/rishav/hft-node/internal/model"
	"github.com/rishav/hft-node/internal/rngsrc"
	"github.com/rishav/hft-node/internal/strategy"
)

func encodeTick(t *testing.T, tick model.MarketDataTick) []byte {
	t.Helper()
	b, err := tick.MarshalBinary()
	require.NoError(t, err)
	return b
}

// TestPipeline_S1SimpleFillRoundTrip drives spec scenario S1 end to end
// through the public Run/Stop/Wait surface: a single two-sided tick
// with a tight spread should produce a buy and a sell that both fill
// completely (fill_probability=1, latency=0), netting flat with the
// captured spread as realized PnL.
func TestPipeline_S1SimpleFillRoundTrip(t *testing.T) {
	tick := model.MarketDataTick{Version: model.CurrentVersion, InstrumentID: 1}
	tick.Bids[0] = model.PriceLevel{Price: 99.95, Size: 100}
	tick.Asks[0] = model.PriceLevel{Price: 100.05, Size: 100}

	var feed bytes.Buffer
	feed.Write(encodeTick(t, tick))

	dir := t.TempDir()
	cfg := Config{
		TickRingCapacity:     16,
		PreRiskRingCapacity:  16,
		ApprovedRingCapacity: 16,
		RiskLimits: model.RiskLimits{
			MaxOrderQty:      100,
			MaxPosition:      500,
			MaxOrdersPerSec:  50,
			MaxNotionalOrder: 20000,
			DailyLossLimit:   1e9,
		},
		Strategy: strategy.Config{Spread: 0.10, Quantity: 10, YieldEvery: 64},
		Execution: exec.Config{
			LatencyMeanMs:   0,
			LatencyStddevMs: 0,
			FillProbability: 1.0,
			YieldEvery:      64,
		},
		RNGMode:    rngsrc.ModeDeterministic,
		RNGSeed:    1,
		AuditPath:  filepath.Join(dir, "audit.log"),
		HMACKey:    make([]byte, 32),
		TickSource: &feed,
	}

	clk := clock.NewSimulated(0)
	node, err := Run(context.Background(), cfg, clk, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return node.Position(1).NetPosition == 0 && node.Stats().Exec.Filled >= 2
	}, 2*time.Second, time.Millisecond)

	snap := node.Position(1)
	require.Equal(t, 0.0, snap.NetPosition)
	require.InDelta(t, 1.0, snap.RealizedPnl, 1e-6)

	node.Stop()
	require.NoError(t, node.Wait())
}

func TestPipeline_InvalidConfigRejected(t *testing.T) {
	_, err := Run(context.Background(), Config{}, nil, nil)
	require.Error(t, err)
	var invalid *ErrConfigInvalid
	require.ErrorAs(t, err, &invalid)
}

func TestPipeline_StopIsIdempotent(t *testing.T) {
	var feed bytes.Buffer
	dir := t.TempDir()
	cfg := Config{
		TickRingCapacity:     16,
		PreRiskRingCapacity:  16,
		ApprovedRingCapacity: 16,
		RiskLimits:           model.RiskLimits{MaxOrderQty: 100, MaxPosition: 500, MaxOrdersPerSec: 50, MaxNotionalOrder: 20000, DailyLossLimit: 1e9},
		Strategy:             strategy.Config{Spread: 0.1, Quantity: 1, YieldEvery: 64},
		Execution:             exec.Config{FillProbability: 1.0, YieldEvery: 64},
		RNGMode:               rngsrc.ModeDeterministic,
		RNGSeed:               1,
		AuditPath:             filepath.Join(dir, "audit.log"),
		HMACKey:               make([]byte, 32),
		TickSource:            &feed,
	}

	node, err := Run(context.Background(), cfg, clock.NewSimulated(0), nil)
	require.NoError(t, err)

	node.Stop()
	node.Stop() // must not panic or block
	require.NoError(t, node.Wait())
}
