// Package md implements the market-data ingest stage (spec §4.2,
// component C2): decode fixed-layout tick records off an external byte
// source and publish them to the tick ring.
//
// The teacher has no market-data ingest loop of its own; this stage
// follows the shape of its disruptor/processor.go processLoop (a single
// goroutine that retries transient errors with a backoff and exits
// cleanly on io.EOF), as a single producer loop feeding one ring
// (spec §4.2 has exactly one consumer, the strategy stage), with the
// drop-on-full and decode-length-mismatch counters spec §4.2 calls for.
package md

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rishav/hft-node/internal/audit"
	"github.com/rishav/hft-node/internal/book"
	"github.com/rishav/hft-node/internal/clock"
	"github.com/rishav/hft-node/internal/model"
	"github.com/rishav/hft-node/internal/ring"
)

// Stats exposes the ingest stage's operational counters (spec §4.2
// "Errors": "operational counter incremented").
type Stats struct {
	Decoded        uint64
	Dropped        uint64 // ring was full
	DecodeErrors   uint64 // short/malformed record
	IOErrorRetries uint64
}

// Ingestor is the C2 stage: reads fixed-layout MarketDataTick records
// from a byte source and publishes them to a tick ring.
type Ingestor struct {
	ring *ring.Ring[model.MarketDataTick]
	book *book.Store // optional; updated with every decoded tick regardless of ring drops
	clk  clock.Provider
	log  *zap.Logger

	// aw is an optional audit writer used only to record a panic
	// recovered from a frame's decode/publish step; a nil aw just skips
	// that record.
	aw *audit.Writer

	decoded        atomic.Uint64
	dropped        atomic.Uint64
	decodeErrors   atomic.Uint64
	ioErrorRetries atomic.Uint64

	// retryBackoff is the pause between retried I/O errors while the
	// stop signal has not been raised (spec §4.2 "Errors").
	retryBackoff time.Duration
}

// NewIngestor creates an Ingestor publishing decoded ticks to dst.
func NewIngestor(dst *ring.Ring[model.MarketDataTick], clk clock.Provider, log *zap.Logger) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{
		ring:         dst,
		clk:          clk,
		log:          log.Named("md"),
		retryBackoff: time.Millisecond,
	}
}

// WithBook attaches a BBO store to be updated with every successfully
// decoded tick, independent of whether the tick ring had room for it.
// Returns g for chaining.
func (g *Ingestor) WithBook(b *book.Store) *Ingestor {
	g.book = b
	return g
}

// WithAudit attaches the audit writer used to record a panic recovered
// from a frame's decode/publish step. Returns g for chaining.
func (g *Ingestor) WithAudit(aw *audit.Writer) *Ingestor {
	g.aw = aw
	return g
}

// Stats returns a snapshot of the ingest counters.
func (g *Ingestor) Stats() Stats {
	return Stats{
		Decoded:        g.decoded.Load(),
		Dropped:        g.dropped.Load(),
		DecodeErrors:   g.decodeErrors.Load(),
		IOErrorRetries: g.ioErrorRetries.Load(),
	}
}

// Run reads fixed-length MarketDataTick frames from src until ctx is
// canceled or src returns io.EOF. Each frame is decoded, stamped with
// receive_ts if the source hasn't already set one, and published to
// the tick ring with try_write; a full ring drops the tick and bumps
// the dropped counter rather than blocking (spec §4.2).
//
// A short read (less than sizeof(MarketDataTick)) is a decode length
// mismatch: the frame is skipped and DecodeErrors is incremented, per
// spec §4.2 "Errors". Any other I/O error is retried with a short
// backoff while ctx is not done; once ctx is done, the loop exits
// without retrying further (spec §4.2 "Cancellation").
func (g *Ingestor) Run(ctx context.Context, src io.Reader) error {
	buf := make([]byte, model.MarketDataTickSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := io.ReadFull(src, buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				g.decodeErrors.Add(1)
				g.log.Warn("short tick frame", zap.Int("bytes_read", n))
				continue
			}
			// Any other I/O error: retry while not canceled, else stop.
			g.ioErrorRetries.Add(1)
			g.log.Warn("tick source read error, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(g.retryBackoff):
				continue
			}
		}

		g.processFrame(buf[:n])
	}
}

// processFrame decodes and publishes a single tick frame with panic
// recovery, converting a recovered panic into a SystemEvent audit
// record instead of crashing the ingest goroutine (SPEC_FULL.md's
// error handling section, grounded on the teacher's
// disruptor.EventProcessor.processRequest).
func (g *Ingestor) processFrame(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			audit.RecoverPanic(g.aw, g.log, "md", r)
		}
	}()

	var tick model.MarketDataTick
	if err := tick.UnmarshalBinary(frame); err != nil {
		g.decodeErrors.Add(1)
		g.log.Warn("tick decode failed", zap.Error(err))
		return
	}
	if tick.ReceiveTS == 0 {
		tick.ReceiveTS = int64(g.clk.Now())
	}
	g.decoded.Add(1)
	if g.book != nil {
		g.book.Update(tick)
	}

	if !tick.Valid() {
		g.log.Debug("inverted quote surfaced at ingest",
			zap.Int64("instrument_id", tick.InstrumentID),
			zap.Float64("best_bid", tick.Bids[0].Price),
			zap.Float64("best_ask", tick.Asks[0].Price),
		)
	}

	if !g.ring.TryWrite(tick) {
		g.dropped.Add(1)
	}
}
