package risk

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rishav/hft-node/internal/audit"
	"github.com/rishav/hft-node/internal/model"
	"github.com/rishav/hft-node/internal/position"
	"github.com/rishav/hft-node/internal/ring"
)

// StageConfig holds the risk stage loop's scheduling tunables.
type StageConfig struct {
	YieldEvery int
}

// DefaultStageConfig returns reasonable cooperative-spin tunables.
func DefaultStageConfig() StageConfig {
	return StageConfig{YieldEvery: 256}
}

// StageStats exposes the risk stage's operational counters (spec §4.4
// "Outputs": orders_approved, orders_rejected).
type StageStats struct {
	OrdersApproved uint64
	OrdersRejected uint64
}

// Stage is the T3 risk-gate loop of spec §5: consumes the pre-risk
// ring, runs Gate.Decide, audits the outcome, and forwards approved
// orders to the approved ring.
type Stage struct {
	cfg StageConfig

	gate     *Gate
	preRisk  *ring.Ring[model.Order]
	approved *ring.Ring[model.Order]
	pos      *position.Store
	aw       *audit.Writer
	log      *zap.Logger

	ordersApproved atomic.Uint64
	ordersRejected atomic.Uint64
}

func NewStage(cfg StageConfig, gate *Gate, preRisk, approved *ring.Ring[model.Order], pos *position.Store, aw *audit.Writer, log *zap.Logger) *Stage {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stage{cfg: cfg, gate: gate, preRisk: preRisk, approved: approved, pos: pos, aw: aw, log: log.Named("risk.stage")}
}

func (s *Stage) Stats() StageStats {
	return StageStats{
		OrdersApproved: s.ordersApproved.Load(),
		OrdersRejected: s.ordersRejected.Load(),
	}
}

// Run consumes the pre-risk ring until ctx is canceled, cooperatively
// spin-waiting on empty input (spec §4.3-style scheduling, applied the
// same way to every ring-consuming stage).
func (s *Stage) Run(ctx context.Context) {
	var order model.Order
	spins := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.preRisk.TryRead(&order) {
			spins++
			if spins%s.cfg.YieldEvery == 0 {
				time.Sleep(0)
			}
			continue
		}
		spins = 0
		s.processOrder(order)
	}
}

// processOrder runs onOrder with panic recovery, converting a
// recovered panic into a SystemEvent audit record instead of crashing
// the stage goroutine (SPEC_FULL.md's error handling section, grounded
// on the teacher's disruptor.EventProcessor.processRequest).
func (s *Stage) processOrder(order model.Order) {
	defer func() {
		if r := recover(); r != nil {
			audit.RecoverPanic(s.aw, s.log, "risk", r)
		}
	}()
	s.onOrder(order)
}

// onOrder runs one decision and its audit/forwarding consequences.
//
// Per spec §9's flagged open question, the OrderSubmit audit record is
// written before the order is placed on the approved ring, preserving
// the source's original ordering: if the subsequent ring write then
// fails (ring full), the audit record already exists. This is
// intentional, not an oversight.
func (s *Stage) onOrder(order model.Order) {
	pos := s.pos.Snapshot(order.InstrumentID)
	result := s.gate.Decide(order, pos)

	if result.Allowed() {
		if s.aw != nil {
			if err := s.aw.WriteMarshaler(audit.TypeOrderSubmit, &order); err != nil {
				s.log.Warn("audit write failed for OrderSubmit", zap.Error(err))
			}
		}
		s.ordersApproved.Add(1)
		if !s.approved.TryWrite(order) {
			s.log.Warn("approved ring full after OrderSubmit audit, order dropped",
				zap.Int64("order_id", order.OrderID))
		}
		return
	}

	s.ordersRejected.Add(1)
	if s.aw == nil {
		return
	}
	evidence := audit.RiskEvidence{Order: order, CheckID: result.CheckID, Actual: result.Actual, Threshold: result.Threshold}
	if err := s.aw.WriteMarshaler(audit.TypeOrderReject, &evidence); err != nil {
		s.log.Warn("audit write failed for OrderReject", zap.Error(err))
	}
}
