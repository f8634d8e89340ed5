package risk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rishav/hft-node/internal/audit"
	"github.com/rishav/hft-node/internal/clock"
	"github.com/rishav/hft-node/internal/model"
	"github.com/rishav/hft-node/internal/position"
	"github.com/rishav/hft-node/internal/ring"
)

func newTestAuditWriter(t *testing.T, clk clock.Provider) *audit.Writer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	key := make([]byte, audit.KeySize)
	w, err := audit.NewWriter(path, key, clk, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestStage_AllowedOrderForwardedAndAudited(t *testing.T) {
	clk := clock.NewSimulated(0)
	gate := NewGate(baseLimits(), clk, nil)
	preRisk := ring.New[model.Order](8)
	approved := ring.New[model.Order](8)
	pos := position.NewStore()
	aw := newTestAuditWriter(t, clk)

	s := NewStage(DefaultStageConfig(), gate, preRisk, approved, pos, aw, nil)

	order := model.Order{OrderID: 1, InstrumentID: 1, Side: model.SideBuy, Price: 10, Quantity: 5}
	s.onOrder(order)

	var got model.Order
	require.True(t, approved.TryRead(&got))
	require.Equal(t, order.OrderID, got.OrderID)
	require.Equal(t, uint64(1), s.Stats().OrdersApproved)
	require.Equal(t, uint64(0), s.Stats().OrdersRejected)
}

func TestStage_RejectedOrderNotForwarded(t *testing.T) {
	clk := clock.NewSimulated(0)
	gate := NewGate(baseLimits(), clk, nil)
	preRisk := ring.New[model.Order](8)
	approved := ring.New[model.Order](8)
	pos := position.NewStore()
	aw := newTestAuditWriter(t, clk)

	s := NewStage(DefaultStageConfig(), gate, preRisk, approved, pos, aw, nil)

	order := model.Order{OrderID: 2, InstrumentID: 1, Side: model.SideBuy, Price: 10, Quantity: 1000}
	s.onOrder(order)

	var got model.Order
	require.False(t, approved.TryRead(&got))
	require.Equal(t, uint64(0), s.Stats().OrdersApproved)
	require.Equal(t, uint64(1), s.Stats().OrdersRejected)
}

func TestStage_RejectAuditCarriesEvidence(t *testing.T) {
	clk := clock.NewSimulated(0)
	gate := NewGate(baseLimits(), clk, nil)
	preRisk := ring.New[model.Order](8)
	approved := ring.New[model.Order](8)
	pos := position.NewStore()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")
	key := make([]byte, audit.KeySize)
	aw, err := audit.NewWriter(logPath, key, clk, nil)
	require.NoError(t, err)

	s := NewStage(DefaultStageConfig(), gate, preRisk, approved, pos, aw, nil)
	order := model.Order{OrderID: 3, InstrumentID: 1, Side: model.SideBuy, Price: 10, Quantity: 1000}
	s.onOrder(order)
	require.NoError(t, aw.Close())

	var gotEvidence audit.RiskEvidence
	_, err = audit.Replay(logPath, key, audit.Handler{
		OnOrderReject: func(ts int64, e audit.RiskEvidence) error { gotEvidence = e; return nil },
	})
	require.NoError(t, err)
	require.Equal(t, CheckMaxOrderQty, gotEvidence.CheckID)
	require.Equal(t, order.OrderID, gotEvidence.Order.OrderID)
}
