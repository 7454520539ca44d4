package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/parquet-go/parquet-go"
)

// EntryTypeStock marks index entries derived from price observations.
const EntryTypeStock = "stock"

// ErrDimensionMismatch is returned when a vector does not match the index width.
var ErrDimensionMismatch = errors.New("index: vector dimension mismatch")

// Metadata describes what an indexed vector represents.
type Metadata struct {
	Type   string
	Symbol string
	Text   string
}

// Match is one search hit.
type Match struct {
	Metadata
	Distance float32
}

// record is the on-disk row layout.
type record struct {
	Type   string    `parquet:"type"`
	Symbol string    `parquet:"symbol"`
	Text   string    `parquet:"text"`
	Vector []float32 `parquet:"vector"`
}

// FlatIndex is an exhaustive squared-L2 nearest neighbour index.
type FlatIndex struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
	meta    []Metadata
}

// NewFlatIndex creates an empty index of the given width.
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// Dimension reports the vector width.
func (f *FlatIndex) Dimension() int {
	return f.dim
}

// Len reports the number of indexed vectors.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Add appends vectors with their metadata.
func (f *FlatIndex) Add(vectors [][]float32, meta []Metadata) error {
	if len(vectors) != len(meta) {
		return fmt.Errorf("index: %d vectors but %d metadata entries", len(vectors), len(meta))
	}
	for _, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), f.dim)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range vectors {
		f.vectors = append(f.vectors, append([]float32(nil), v...))
		f.meta = append(f.meta, meta[i])
	}
	return nil
}

// Search returns up to k entries ordered by ascending distance to query.
func (f *FlatIndex) Search(query []float32, k int) ([]Match, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), f.dim)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	matches := make([]Match, len(f.vectors))
	for i, v := range f.vectors {
		matches[i] = Match{Metadata: f.meta[i], Distance: squaredL2(query, v)}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if k > 0 && k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// Save writes the index to a Parquet file at path.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	records := make([]record, len(f.vectors))
	for i, v := range f.vectors {
		records[i] = record{Type: f.meta[i].Type, Symbol: f.meta[i].Symbol, Text: f.meta[i].Text, Vector: v}
	}
	f.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadFlatIndex reads an index written by Save. Rows whose vector width does
// not match dim are rejected.
func LoadFlatIndex(path string, dim int) (*FlatIndex, error) {
	records, err := parquet.ReadFile[record](path)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	idx := NewFlatIndex(dim)
	vectors := make([][]float32, len(records))
	meta := make([]Metadata, len(records))
	for i, r := range records {
		vectors[i] = r.Vector
		meta[i] = Metadata{Type: r.Type, Symbol: r.Symbol, Text: r.Text}
	}
	if err := idx.Add(vectors, meta); err != nil {
		return nil, err
	}
	return idx, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
