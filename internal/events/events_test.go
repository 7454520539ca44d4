package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type recorder struct {
	names []string
	err   error
}

func (r *recorder) Publish(_ context.Context, name string, _ any) error {
	r.names = append(r.names, name)
	return r.err
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("boom")}
	sink := Multi{ok, nil, failing}

	err := sink.Publish(context.Background(), StockUpdate, StockUpdatePayload{Symbol: "AAPL"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.names) != 1 || len(failing.names) != 1 {
		t.Fatal("every sink should receive the event")
	}
}

func TestLogSinkWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))
	if err := sink.Publish(context.Background(), AlertTriggered, AlertTriggeredPayload{AlertID: 7, Symbol: "NVDA"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `"event":"alert_triggered"`) || !strings.Contains(out, `"alert_id":7`) {
		t.Fatalf("unexpected log line %s", out)
	}
}

func TestRedisSinkChannelAndUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()

	sink := newRedisSink(client, "", zerolog.Nop())
	if got := sink.Channel(StockUpdate); got != "stockwatcher:stock_update" {
		t.Fatalf("channel = %s", got)
	}
	if err := sink.Publish(context.Background(), StockUpdate, StockUpdatePayload{Symbol: "AAPL"}); err == nil {
		t.Fatal("publishing to an unreachable server should fail")
	}
}
