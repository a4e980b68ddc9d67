package publish

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"bookstate/internal/orderbook"
	"bookstate/internal/signals"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	skew := 1.5
	snap := signals.Snapshot{
		Symbol:      "BTCUSDT",
		EvaluatedAt: time.UnixMilli(1700000000000),
		BestBid:     orderbook.Level{Price: 99, Size: 1},
		BestAsk:     orderbook.Level{Price: 101, Size: 2},
		Mid:         100,
		Spread:      2,
		Skew:        &skew,
	}
	if err := p.Publish(context.Background(), snap); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "BTCUSDT" {
		t.Errorf("expected key BTCUSDT, got %s", msg.Key)
	}
	if !msg.Time.Equal(snap.EvaluatedAt) {
		t.Errorf("expected message time %v, got %v", snap.EvaluatedAt, msg.Time)
	}

	var got map[string]any
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if got["mid"] != 100.0 || got["skew"] != 1.5 || got["range_skew"] != nil {
		t.Errorf("unexpected payload: %s", msg.Value)
	}

	p.Close()
	if !w.closed {
		t.Error("expected writer closed")
	}
}
