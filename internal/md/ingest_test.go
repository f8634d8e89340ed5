package md

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rishav/hft-node/internal/clock"
	"github.com/rishav/hft-node/internal/model"
	"github.com/rishav/hft-node/internal/ring"
)

// flakyReader always fails with a retryable (non-EOF) error, exercising
// the ingest loop's retry-with-backoff path and giving the cancellation
// check between retries something to fire against.
type flakyReader struct{}

var errFlaky = errors.New("flaky source")

func (flakyReader) Read(p []byte) (int, error) { return 0, errFlaky }

func sampleTick(seq int64) model.MarketDataTick {
	t := model.MarketDataTick{Version: model.CurrentVersion, Sequence: seq, InstrumentID: 1, SendTS: seq}
	t.Bids[0] = model.PriceLevel{Price: 99, Size: 10}
	t.Asks[0] = model.PriceLevel{Price: 101, Size: 10}
	return t
}

func encodeTicks(t *testing.T, ticks ...model.MarketDataTick) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, tk := range ticks {
		b, err := tk.MarshalBinary()
		require.NoError(t, err)
		buf.Write(b)
	}
	return buf.Bytes()
}

func TestIngestor_DecodesAndPublishes(t *testing.T) {
	r := ring.New[model.MarketDataTick](8)
	clk := clock.NewSimulated(500)
	g := NewIngestor(r, clk, nil)

	data := encodeTicks(t, sampleTick(1), sampleTick(2))
	src := bytes.NewReader(data)

	err := g.Run(context.Background(), src)
	require.NoError(t, err)

	var got model.MarketDataTick
	require.True(t, r.TryRead(&got))
	require.Equal(t, int64(1), got.Sequence)
	require.Equal(t, int64(500), got.ReceiveTS)

	require.True(t, r.TryRead(&got))
	require.Equal(t, int64(2), got.Sequence)

	stats := g.Stats()
	require.Equal(t, uint64(2), stats.Decoded)
	require.Equal(t, uint64(0), stats.Dropped)
}

func TestIngestor_PreservesExistingReceiveTS(t *testing.T) {
	r := ring.New[model.MarketDataTick](8)
	clk := clock.NewSimulated(999)
	g := NewIngestor(r, clk, nil)

	tick := sampleTick(1)
	tick.ReceiveTS = 42
	src := bytes.NewReader(encodeTicks(t, tick))

	require.NoError(t, g.Run(context.Background(), src))

	var got model.MarketDataTick
	require.True(t, r.TryRead(&got))
	require.Equal(t, int64(42), got.ReceiveTS)
}

func TestIngestor_DropsWhenRingFull(t *testing.T) {
	r := ring.New[model.MarketDataTick](1)
	r.TryWrite(sampleTick(0)) // fill the only slot
	g := NewIngestor(r, clock.NewSimulated(0), nil)

	src := bytes.NewReader(encodeTicks(t, sampleTick(1)))
	require.NoError(t, g.Run(context.Background(), src))

	require.Equal(t, uint64(1), g.Stats().Dropped)
}

func TestIngestor_ShortFrameIsDecodeError(t *testing.T) {
	r := ring.New[model.MarketDataTick](8)
	g := NewIngestor(r, clock.NewSimulated(0), nil)

	full, err := sampleTick(1).MarshalBinary()
	require.NoError(t, err)
	truncated := full[:len(full)-10]

	require.NoError(t, g.Run(context.Background(), bytes.NewReader(truncated)))
	require.Equal(t, uint64(1), g.Stats().DecodeErrors)
	require.Equal(t, uint64(0), g.Stats().Decoded)
}

func TestIngestor_CancellationStopsLoop(t *testing.T) {
	r := ring.New[model.MarketDataTick](8)
	g := NewIngestor(r, clock.NewSimulated(0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, flakyReader{}) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}
