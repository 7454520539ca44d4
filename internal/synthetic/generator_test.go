package synthetic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatcher/internal/storage"
)

type staticLookup struct {
	prices map[string]decimal.Decimal
	err    error
}

func (s staticLookup) LatestPrice(_ context.Context, symbol string) (decimal.Decimal, bool, error) {
	if s.err != nil {
		return decimal.Decimal{}, false, s.err
	}
	p, ok := s.prices[symbol]
	return p, ok, nil
}

var basisTime = time.Date(2025, 5, 2, 16, 1, 0, 0, time.UTC)

func TestGenerateUsesSeedPriceWithoutHistory(t *testing.T) {
	ctx := context.Background()
	seed := DefaultSeedPrices["AAPL"]

	noHistory := New(staticLookup{}, Options{Seed: 42}, zerolog.Nop())
	seeded := New(staticLookup{prices: map[string]decimal.Decimal{"AAPL": seed}}, Options{Seed: 42}, zerolog.Nop())

	a, err := noHistory.Generate(ctx, []string{"AAPL"}, basisTime)
	if err != nil {
		t.Fatal(err)
	}
	b, err := seeded.Generate(ctx, []string{"AAPL"}, basisTime)
	if err != nil {
		t.Fatal(err)
	}
	if !a[0].Price.Equal(b[0].Price) {
		t.Fatalf("without history the basis must equal the seed price: %s vs %s", a[0].Price, b[0].Price)
	}
}

func TestSeedPrices(t *testing.T) {
	g := New(nil, Options{Seed: 1}, zerolog.Nop())
	want := map[string]string{
		"NVDA":  "105.527",
		"AAPL":  "206.126",
		"MSFT":  "383.774",
		"GOOGL": "157.946",
		"TSLA":  "100",
	}
	for sym, w := range want {
		if got := g.SeedPrice(sym); !got.Equal(decimal.RequireFromString(w)) {
			t.Errorf("seed price %s = %s, want %s", sym, got, w)
		}
	}
}

func TestGenerateUsesPersistedPrice(t *testing.T) {
	g := New(staticLookup{prices: map[string]decimal.Decimal{"NVDA": decimal.NewFromInt(1000)}}, Options{Seed: 7, JumpProbability: -1}, zerolog.Nop())
	obs, err := g.Generate(context.Background(), []string{"NVDA"}, basisTime)
	if err != nil {
		t.Fatal(err)
	}
	// Gaussian move with sd 0.5% stays well inside ±10% for a single draw.
	if obs[0].Price.LessThan(decimal.NewFromInt(900)) || obs[0].Price.GreaterThan(decimal.NewFromInt(1100)) {
		t.Fatalf("price %s not anchored on persisted basis", obs[0].Price)
	}
}

func TestGenerateLookupErrorFallsBackToSeed(t *testing.T) {
	g := New(staticLookup{err: errors.New("db down")}, Options{Seed: 3}, zerolog.Nop())
	ref := New(nil, Options{Seed: 3}, zerolog.Nop())

	a, err := g.Generate(context.Background(), []string{"MSFT"}, basisTime)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := ref.Generate(context.Background(), []string{"MSFT"}, basisTime)
	if !a[0].Price.Equal(b[0].Price) {
		t.Fatalf("lookup failure should use seed basis: %s vs %s", a[0].Price, b[0].Price)
	}
}

func TestGenerateSharedTimestampAndSource(t *testing.T) {
	g := New(nil, Options{Seed: 11}, zerolog.Nop())
	symbols := []string{"NVDA", "AAPL", "MSFT", "GOOGL"}
	obs, err := g.Generate(context.Background(), symbols, basisTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != len(symbols) {
		t.Fatalf("expected %d observations, got %d", len(symbols), len(obs))
	}
	for i, o := range obs {
		if o.Symbol != symbols[i] {
			t.Errorf("observation %d symbol %s, want %s", i, o.Symbol, symbols[i])
		}
		if !o.ObservedAt.Equal(basisTime) {
			t.Errorf("observation %d timestamp %s, want %s", i, o.ObservedAt, basisTime)
		}
		if o.Source != storage.SourceSynthetic {
			t.Errorf("observation %d source %q", i, o.Source)
		}
	}
}

func TestGenerateDeterministicForSeed(t *testing.T) {
	symbols := []string{"NVDA", "AAPL"}
	a, _ := New(nil, Options{Seed: 99}, zerolog.Nop()).Generate(context.Background(), symbols, basisTime)
	b, _ := New(nil, Options{Seed: 99}, zerolog.Nop()).Generate(context.Background(), symbols, basisTime)
	for i := range a {
		if !a[i].Price.Equal(b[i].Price) {
			t.Fatalf("same seed produced %s and %s", a[i].Price, b[i].Price)
		}
	}
}

func TestPriceNeverBelowHalfBasis(t *testing.T) {
	basis := decimal.NewFromInt(100)
	floor := basis.Mul(decimal.NewFromFloat(0.5))
	lookup := staticLookup{prices: map[string]decimal.Decimal{"X": basis}}

	// Exaggerated volatility and certain jumps push many draws towards the floor.
	for seed := uint64(1); seed <= 500; seed++ {
		g := New(lookup, Options{Seed: seed, Volatility: 0.5, JumpProbability: 1}, zerolog.Nop())
		obs, err := g.Generate(context.Background(), []string{"X"}, basisTime)
		if err != nil {
			t.Fatal(err)
		}
		if obs[0].Price.LessThan(floor) {
			t.Fatalf("seed %d produced %s below floor %s", seed, obs[0].Price, floor)
		}
	}
}

func TestWalkFloorAndLength(t *testing.T) {
	g := New(nil, Options{Seed: 5, Volatility: 0.2, BulkJumpProbability: 1}, zerolog.Nop())
	start := time.Date(2025, 5, 2, 13, 30, 0, 0, time.UTC)
	end := start.Add(390 * time.Minute)

	obs := g.Walk("NVDA", start, end, time.Minute)
	if len(obs) != 391 {
		t.Fatalf("expected 391 points, got %d", len(obs))
	}
	floor := DefaultSeedPrices["NVDA"].Mul(decimal.NewFromFloat(0.5))
	for _, o := range obs {
		if o.Price.LessThan(floor) {
			t.Fatalf("walk price %s below floor %s", o.Price, floor)
		}
	}
	if !obs[0].ObservedAt.Equal(start) || !obs[len(obs)-1].ObservedAt.Equal(end) {
		t.Fatal("walk timestamps should span [start, end]")
	}
}
