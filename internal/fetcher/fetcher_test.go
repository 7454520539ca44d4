package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockwatcher/internal/storage"
)

type stubProvider struct {
	calls   []string
	prices  map[string]decimal.Decimal
	failing map[string]bool
}

func (s *stubProvider) Series(_ context.Context, credential, symbol, _ string, _ int) ([]Point, error) {
	s.calls = append(s.calls, credential+":"+symbol)
	if s.failing[symbol] {
		return nil, errors.New("upstream down")
	}
	p, ok := s.prices[symbol]
	if !ok {
		return nil, nil
	}
	return []Point{
		{At: time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC), Close: p.Sub(decimal.NewFromInt(1))},
		{At: time.Date(2025, 5, 2, 14, 1, 0, 0, time.UTC), Close: p},
	}, nil
}

type stubCreds struct {
	n      int
	err    error
	failAt int
}

func (s *stubCreds) Acquire(context.Context) (string, error) {
	s.n++
	if s.err != nil && (s.failAt == 0 || s.n == s.failAt) {
		return "", s.err
	}
	return "key", nil
}

type gate bool

func (g gate) IsOpen(time.Time) bool { return bool(g) }

type stubSynthetic struct {
	calls [][]string
}

func (s *stubSynthetic) Generate(_ context.Context, symbols []string, basis time.Time) ([]storage.Observation, error) {
	s.calls = append(s.calls, symbols)
	out := make([]storage.Observation, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, storage.Observation{Symbol: sym, Price: decimal.NewFromInt(100), ObservedAt: basis, Source: storage.SourceSynthetic})
	}
	return out, nil
}

type recordingSleep struct {
	sleeps []time.Duration
}

func (r *recordingSleep) Sleep(_ context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func newTestFetcher(p QuoteProvider, c CredentialSource, g MarketGate, s SyntheticSource, sleeper *recordingSleep) *Fetcher {
	return New(p, c, g, s, Options{
		SymbolDelay: 10 * time.Second,
		Now:         func() time.Time { return time.Date(2025, 5, 2, 14, 2, 0, 0, time.UTC) },
		Sleep:       sleeper.Sleep,
	}, noopLogger())
}

func TestFetchMarketClosedUsesSynthetic(t *testing.T) {
	provider := &stubProvider{}
	synth := &stubSynthetic{}
	f := newTestFetcher(provider, &stubCreds{}, gate(false), synth, &recordingSleep{})

	obs, err := f.Fetch(context.Background(), []string{"AAPL", "MSFT"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(provider.calls) != 0 {
		t.Fatalf("市场关闭时不应调用行情接口: %v", provider.calls)
	}
	if len(obs) != 2 || obs[0].Source != storage.SourceSynthetic {
		t.Fatalf("unexpected observations %+v", obs)
	}
}

func TestFetchLiveTakesMostRecentPoint(t *testing.T) {
	provider := &stubProvider{prices: map[string]decimal.Decimal{"AAPL": decimal.RequireFromString("205.5")}}
	sleeper := &recordingSleep{}
	f := newTestFetcher(provider, &stubCreds{}, gate(true), &stubSynthetic{}, sleeper)

	obs, err := f.Fetch(context.Background(), []string{"AAPL"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !obs[0].Price.Equal(decimal.RequireFromString("205.5")) || obs[0].Source != storage.SourceLive {
		t.Fatalf("期望最新价格 205.5 (live), 实际 %s (%s)", obs[0].Price, obs[0].Source)
	}
	if !obs[0].ObservedAt.Equal(time.Date(2025, 5, 2, 14, 1, 0, 0, time.UTC)) {
		t.Fatalf("observed_at = %s", obs[0].ObservedAt)
	}
	if len(sleeper.sleeps) != 0 {
		t.Fatalf("single symbol should not wait, slept %v", sleeper.sleeps)
	}
}

func TestFetchPerSymbolFallback(t *testing.T) {
	provider := &stubProvider{
		prices:  map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(200)},
		failing: map[string]bool{"MSFT": true},
	}
	synth := &stubSynthetic{}
	sleeper := &recordingSleep{}
	f := newTestFetcher(provider, &stubCreds{}, gate(true), synth, sleeper)

	obs, err := f.Fetch(context.Background(), []string{"AAPL", "MSFT", "NVDA"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(obs))
	}
	if obs[0].Source != storage.SourceLive || obs[1].Source != storage.SourceSynthetic || obs[2].Source != storage.SourceSynthetic {
		t.Fatalf("unexpected sources %s %s %s", obs[0].Source, obs[1].Source, obs[2].Source)
	}
	if len(synth.calls) != 2 || len(synth.calls[0]) != 1 {
		t.Fatalf("synthetic fallback should be per symbol, got %v", synth.calls)
	}
	if len(sleeper.sleeps) != 2 || sleeper.sleeps[0] != 10*time.Second {
		t.Fatalf("expected two 10s inter-symbol delays, got %v", sleeper.sleeps)
	}
}

func TestFetchBatchRetryThenSynthetic(t *testing.T) {
	provider := &stubProvider{prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(200)}}
	creds := &stubCreds{err: errors.New("limiter broken")}
	synth := &stubSynthetic{}
	sleeper := &recordingSleep{}
	f := newTestFetcher(provider, creds, gate(true), synth, sleeper)

	obs, err := f.Fetch(context.Background(), []string{"AAPL", "GOOGL"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if creds.n != 3 {
		t.Fatalf("期望 3 次批量尝试, 实际 %d", creds.n)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeper.sleeps) != len(want) || sleeper.sleeps[0] != want[0] || sleeper.sleeps[1] != want[1] {
		t.Fatalf("expected backoff %v, got %v", want, sleeper.sleeps)
	}
	if len(synth.calls) != 1 || len(synth.calls[0]) != 2 {
		t.Fatalf("whole batch should fall back to synthetic, got %v", synth.calls)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}
}

func TestFetchRetrySucceedsOnSecondAttempt(t *testing.T) {
	provider := &stubProvider{prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(200)}}
	creds := &stubCreds{err: errors.New("transient"), failAt: 1}
	synth := &stubSynthetic{}
	f := newTestFetcher(provider, creds, gate(true), synth, &recordingSleep{})

	obs, err := f.Fetch(context.Background(), []string{"AAPL"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if obs[0].Source != storage.SourceLive || len(synth.calls) != 0 {
		t.Fatalf("second attempt should return live data, got %+v", obs)
	}
}

func TestFetchEmptySymbols(t *testing.T) {
	f := newTestFetcher(&stubProvider{}, &stubCreds{}, gate(true), &stubSynthetic{}, &recordingSleep{})
	if _, err := f.Fetch(context.Background(), nil, ""); !errors.Is(err, ErrNoSymbols) {
		t.Fatalf("expected ErrNoSymbols, got %v", err)
	}
}

func TestFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	creds := &stubCreds{err: context.Canceled}
	f := newTestFetcher(&stubProvider{}, creds, gate(true), &stubSynthetic{}, &recordingSleep{})
	if _, err := f.Fetch(ctx, []string{"AAPL"}, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if creds.n != 1 {
		t.Fatalf("cancellation should not be retried, attempts=%d", creds.n)
	}
}
