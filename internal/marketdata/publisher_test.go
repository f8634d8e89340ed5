package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublisher_SubscribeReceivesMatchingInstrument(t *testing.T) {
	p := NewPublisher(4)
	ch := p.Subscribe(1)

	p.Publish(L1Quote{InstrumentID: 1, BidPrice: 10, AskPrice: 10.5})
	p.Publish(L1Quote{InstrumentID: 2, BidPrice: 20, AskPrice: 20.5})

	select {
	case q := <-ch:
		require.Equal(t, int64(1), q.InstrumentID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for quote")
	}

	select {
	case q := <-ch:
		t.Fatalf("unexpected second quote for unrelated instrument: %+v", q)
	default:
	}
}

func TestPublisher_SubscribeAllReceivesEverything(t *testing.T) {
	p := NewPublisher(4)
	ch := p.SubscribeAll()

	p.Publish(L1Quote{InstrumentID: 1})
	p.Publish(L1Quote{InstrumentID: 2})

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for quote")
		}
	}
}

func TestPublisher_PublishDropsOnFullSlowSubscriber(t *testing.T) {
	p := NewPublisher(1)
	_ = p.Subscribe(1)

	// Fill the buffer, then publish again: must not block.
	done := make(chan struct{})
	go func() {
		p.Publish(L1Quote{InstrumentID: 1})
		p.Publish(L1Quote{InstrumentID: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestPublisher_CloseClosesSubscriberChannels(t *testing.T) {
	p := NewPublisher(1)
	ch := p.Subscribe(1)
	p.Close()

	_, ok := <-ch
	require.False(t, ok)
}
