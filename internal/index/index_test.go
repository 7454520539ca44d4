package index

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatcher/internal/storage"
)

type memSource struct {
	obs []storage.Observation
}

func (m *memSource) AllObservations(context.Context) ([]storage.Observation, error) {
	return m.obs, nil
}

func observation(symbol, price string) storage.Observation {
	avg := decimal.RequireFromString(price)
	return storage.Observation{
		Symbol:     symbol,
		Price:      decimal.RequireFromString(price),
		ObservedAt: time.Date(2025, 5, 2, 20, 1, 0, 0, time.UTC),
		MovingAvg:  &avg,
		Volatility: decimal.Zero,
	}
}

func TestSummaryFormat(t *testing.T) {
	got := Summary(observation("AAPL", "206.126"))
	want := "The current price of AAPL is $206.126 as of 2025-05-02 20:01:00. Moving average: $206.13, Volatility: 0.00."
	if got != want {
		t.Fatalf("summary mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestHashEmbedderDeterministicAndNormalised(t *testing.T) {
	e := NewHashEmbedder(0)
	a, _ := e.Embed(context.Background(), []string{"AAPL price moving average"})
	b, _ := e.Embed(context.Background(), []string{"AAPL price moving average"})
	if len(a[0]) != DefaultDimension {
		t.Fatalf("dimension = %d", len(a[0]))
	}
	var norm float32
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatal("embedding should be deterministic")
		}
		norm += a[0][i] * a[0][i]
	}
	if norm < 0.999 || norm > 1.001 {
		t.Fatalf("embedding should be unit length, got squared norm %f", norm)
	}
}

func TestFlatIndexSearchOrdersByDistance(t *testing.T) {
	idx := NewFlatIndex(2)
	err := idx.Add(
		[][]float32{{0, 0}, {3, 4}, {1, 1}},
		[]Metadata{{Symbol: "A"}, {Symbol: "B"}, {Symbol: "C"}},
	)
	if err != nil {
		t.Fatal(err)
	}
	matches, err := idx.Search([]float32{0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 || matches[0].Symbol != "A" || matches[1].Symbol != "C" {
		t.Fatalf("unexpected order %+v", matches)
	}
	if _, err := idx.Search([]float32{1}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestFlatIndexSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.parquet")
	idx := NewFlatIndex(3)
	if err := idx.Add([][]float32{{1, 2, 3}}, []Metadata{{Type: EntryTypeStock, Symbol: "NVDA", Text: "hello"}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadFlatIndex(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	matches, err := loaded.Search([]float32{1, 2, 3}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Symbol != "NVDA" || matches[0].Distance != 0 || matches[0].Type != EntryTypeStock {
		t.Fatalf("unexpected match after reload %+v", matches)
	}
}

func TestMaintainerRebuildReplacesIndex(t *testing.T) {
	src := &memSource{obs: []storage.Observation{observation("AAPL", "200")}}
	path := filepath.Join(t.TempDir(), "idx.parquet")
	m := NewMaintainer(NewHashEmbedder(DefaultDimension), src, Options{Mode: ModeRebuild, Path: path}, zerolog.Nop())

	if err := m.Index(context.Background(), src.obs); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", m.Len())
	}

	src.obs = append(src.obs, observation("MSFT", "380"))
	if err := m.Index(context.Background(), src.obs[1:]); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 2 {
		t.Fatalf("rebuild should cover all persisted observations, got %d", m.Len())
	}

	reopened := NewMaintainer(NewHashEmbedder(DefaultDimension), src, Options{Mode: ModeRebuild, Path: path}, zerolog.Nop())
	if reopened.Len() != 2 {
		t.Fatalf("persisted index should reload with 2 entries, got %d", reopened.Len())
	}
	matches, err := reopened.Search(context.Background(), "current price of MSFT", 1)
	if err != nil {
		t.Fatal(err)
	}
	if matches[0].Symbol != "MSFT" {
		t.Fatalf("expected MSFT as the nearest entry, got %s", matches[0].Symbol)
	}
}

func TestMaintainerAppendMode(t *testing.T) {
	m := NewMaintainer(NewHashEmbedder(32), nil, Options{Mode: ModeAppend}, zerolog.Nop())
	for i := 0; i < 3; i++ {
		if err := m.Index(context.Background(), []storage.Observation{observation("NVDA", "105")}); err != nil {
			t.Fatal(err)
		}
	}
	if m.Len() != 3 {
		t.Fatalf("append mode should accumulate, got %d", m.Len())
	}
}

func TestHTTPEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			// reverse order to exercise index sorting
			data[len(req.Input)-1-i] = map[string]any{"index": i, "embedding": []float32{float32(i), 0}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPEmbedderOptions{BaseURL: srv.URL, APIKey: "secret", Dimension: 2, Timeout: time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 0 || vecs[1][0] != 1 {
		t.Fatalf("vectors not ordered by index: %v", vecs)
	}
}
