package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rishav/hft-node/internal/audit"
	"github.com/rishav/hft-node/internal/book"
	"github.com/rishav/hft-node/internal/clock"
	"github.com/rishav/hft-node/internal/exec"
	"github.com/rishav/hft-node/internal/marketdata"
	"github.com/rishav/hft-node/internal/md"
	"github.com/rishav/hft-node/internal/model"
	"github.com/rishav/hft-node/internal/position"
	"github.com/rishav/hft-node/internal/ring"
	"github.com/rishav/hft-node/internal/risk"
	"github.com/rishav/hft-node/internal/rngsrc"
	"github.com/rishav/hft-node/internal/strategy"
)

// shutdownWait is the bounded join wait of spec §5 "Cancellation":
// "Bounded wait (≤5 s) on thread joins; if a thread does not join, log
// and proceed to shutdown."
const shutdownWait = 5 * time.Second

// Node is a running pipeline, returned by Run. Stop requests shutdown
// of every stage; Wait blocks (with the spec's bounded timeout) until
// they've all exited.
type Node struct {
	// RunID identifies this pipeline instance for external log
	// correlation (a collaborator's metrics/log aggregation keys on it
	// alongside the audit log's own SystemEvent records).
	RunID string

	cancel context.CancelFunc
	wg     sync.WaitGroup
	stopOnce sync.Once

	clk   clock.Provider
	log   *zap.Logger
	aw    *audit.Writer
	pos   *position.Store
	book  *book.Store

	ingestor *md.Ingestor
	strategy *strategy.Stage
	risk     *risk.Stage
	executor *exec.Executor
	mdPub    *marketdata.Publisher

	orderIDs atomic.Int64
}

// Stats is a point-in-time snapshot of every stage's operational
// counters, useful for collaborator metrics surfaces (out of scope for
// the core itself per spec §1, but the counters themselves are named
// throughout spec §4 and §7).
type Stats struct {
	Ingest   md.Stats
	Strategy strategy.Stats
	Risk     risk.StageStats
	Exec     exec.Stats
}

// Stats returns a snapshot of every stage's counters.
func (n *Node) Stats() Stats {
	return Stats{
		Ingest:   n.ingestor.Stats(),
		Strategy: n.strategy.Stats(),
		Risk:     n.risk.Stats(),
		Exec:     n.executor.Stats(),
	}
}

// Position returns the current position snapshot for instrumentID.
func (n *Node) Position(instrumentID int64) model.PositionSnapshot {
	return n.pos.Snapshot(instrumentID)
}

// MarketDataTap returns the optional external L1 quote publisher, or
// nil if Config.MarketDataTapBufferSize was zero. A collaborator (a
// metrics surface, a TUI monitor) subscribes to it with Subscribe or
// SubscribeAll.
func (n *Node) MarketDataTap() *marketdata.Publisher {
	return n.mdPub
}

// Stop requests every stage to cease accepting new input and exit. It
// is idempotent (spec §8: "Stop is idempotent; a second call after a
// completed stop is a no-op").
func (n *Node) Stop() {
	n.stopOnce.Do(n.cancel)
}

// Wait blocks until every stage goroutine has exited or shutdownWait
// has elapsed, whichever comes first (spec §5 "Bounded wait (≤5s) on
// thread joins"). It also flushes and fsyncs the audit log. Call Stop
// (or cancel the context passed to Run) before Wait; otherwise Wait
// returns only after shutdownWait has elapsed, with the stages still
// running.
func (n *Node) Wait() error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownWait):
		n.log.Warn("stage goroutines did not join within bounded shutdown wait, proceeding", zap.Duration("wait", shutdownWait))
	}

	if n.mdPub != nil {
		n.mdPub.Close()
	}

	if n.aw != nil {
		if err := n.aw.Write(audit.TypeSystemEvent, []byte("pipeline stopping run_id="+n.RunID)); err != nil {
			n.log.Warn("failed to write shutdown audit event", zap.Error(err))
		}
		if err := n.aw.Close(); err != nil {
			return fmt.Errorf("runtime: close audit log: %w", err)
		}
	}
	return nil
}

// Run validates cfg and starts the full pipeline (ingest, strategy,
// risk, execution) as cooperating goroutines, returning a Node handle
// immediately. The pipeline runs until ctx is canceled or Node.Stop is
// called. This is spec §6's `run(config, cancellation)` entry point,
// with ctx serving as the cancellation token.
func Run(ctx context.Context, cfg Config, clk clock.Provider, log *zap.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	aw, err := audit.NewWriter(cfg.AuditPath, cfg.HMACKey, clk, log)
	if err != nil {
		return nil, fmt.Errorf("runtime: open audit log: %w", err)
	}

	var rng rngsrc.Provider
	if cfg.RNGMode == rngsrc.ModeCrypto {
		rng = rngsrc.NewCrypto()
	} else {
		rng = rngsrc.NewDeterministic(cfg.RNGSeed)
	}

	tickRing := ring.New[model.MarketDataTick](cfg.TickRingCapacity)
	preRiskRing := ring.New[model.Order](cfg.PreRiskRingCapacity)
	approvedRing := ring.New[model.Order](cfg.ApprovedRingCapacity)

	posStore := position.NewStore()
	bookStore := book.NewStore()
	gate := risk.NewGate(cfg.RiskLimits, clk, log)

	runCtx, cancel := context.WithCancel(ctx)
	runID := uuid.NewString()

	n := &Node{
		RunID:  runID,
		cancel: cancel,
		clk:    clk,
		log:    log.Named("runtime"),
		aw:     aw,
		pos:    posStore,
		book:   bookStore,

		ingestor: md.NewIngestor(tickRing, clk, log).WithBook(bookStore).WithAudit(aw),
		risk:     risk.NewStage(risk.DefaultStageConfig(), gate, preRiskRing, approvedRing, posStore, aw, log),
		executor: exec.NewExecutor(cfg.Execution, approvedRing, posStore, bookStore, aw, rng, clk, log),
	}
	n.strategy = strategy.NewStage(cfg.Strategy, tickRing, preRiskRing, posStore, &n.orderIDs, log).WithAudit(aw)
	if cfg.MarketDataTapBufferSize > 0 {
		n.mdPub = marketdata.NewPublisher(cfg.MarketDataTapBufferSize)
		n.strategy = n.strategy.WithMarketDataTap(n.mdPub)
	}

	if err := aw.Write(audit.TypeSystemEvent, []byte("pipeline starting run_id="+runID)); err != nil {
		aw.Close()
		cancel()
		return nil, fmt.Errorf("runtime: write startup audit event: %w", err)
	}

	n.wg.Add(3)
	go func() {
		defer n.wg.Done()
		defer n.recoverStage("ingest")
		n.ingestor.Run(runCtx, cfg.TickSource)
	}()
	go func() {
		defer n.wg.Done()
		defer n.recoverStage("strategy")
		n.strategy.Run(runCtx)
	}()
	go func() {
		defer n.wg.Done()
		defer n.recoverStage("risk")
		n.risk.Run(runCtx)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.recoverStage("exec")
		n.executor.Run(runCtx)
	}()

	return n, nil
}

// recoverStage is the top-level, defense-in-depth safety net around a
// whole stage goroutine, distinct from the per-item recovery each
// stage's processing step already does. A stage Run loop should only
// reach this if something outside the per-item recover (the loop's own
// control flow, e.g.) panics; it converts that into a SystemEvent audit
// record and lets the goroutine exit instead of crashing the process
// (SPEC_FULL.md's error handling section, grounded on the teacher's
// disruptor.EventProcessor.processRequest).
func (n *Node) recoverStage(stage string) {
	if r := recover(); r != nil {
		audit.RecoverPanic(n.aw, n.log, stage, r)
	}
}
