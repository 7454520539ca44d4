package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"stockwatcher/internal/storage"
)

// Index maintenance modes.
const (
	ModeRebuild = "rebuild"
	ModeAppend  = "append"
)

const summaryTimeLayout = "2006-01-02 15:04:05"

// ObservationSource lists every persisted observation for a full rebuild.
type ObservationSource interface {
	AllObservations(ctx context.Context) ([]storage.Observation, error)
}

// Options configure the maintainer.
type Options struct {
	Mode string
	// Path is where the index is persisted. Empty keeps it in memory only.
	Path string
}

// Maintainer keeps the similarity index in step with persisted observations.
type Maintainer struct {
	mu       sync.Mutex
	embedder Embedder
	source   ObservationSource
	index    *FlatIndex
	opts     Options
	logger   zerolog.Logger
}

// NewMaintainer builds a maintainer. An existing index file at opts.Path is
// loaded when its width matches the embedder.
func NewMaintainer(embedder Embedder, source ObservationSource, opts Options, logger zerolog.Logger) *Maintainer {
	if opts.Mode == "" {
		opts.Mode = ModeRebuild
	}
	m := &Maintainer{
		embedder: embedder,
		source:   source,
		index:    NewFlatIndex(embedder.Dimension()),
		opts:     opts,
		logger:   logger.With().Str("component", "index").Logger(),
	}
	if opts.Path != "" {
		if _, err := os.Stat(opts.Path); err == nil {
			loaded, err := LoadFlatIndex(opts.Path, embedder.Dimension())
			if err != nil {
				m.logger.Warn().Err(err).Str("path", opts.Path).Msg("ignoring unreadable index file")
			} else {
				m.index = loaded
			}
		}
	}
	return m
}

// Len reports the number of indexed entries.
func (m *Maintainer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Len()
}

// Summary renders the natural-language description indexed for obs.
func Summary(obs storage.Observation) string {
	avg := "0.00"
	if obs.MovingAvg != nil {
		avg = obs.MovingAvg.StringFixed(2)
	}
	return fmt.Sprintf("The current price of %s is $%s as of %s. Moving average: $%s, Volatility: %s.",
		obs.Symbol,
		obs.Price.String(),
		obs.ObservedAt.UTC().Format(summaryTimeLayout),
		avg,
		obs.Volatility.StringFixed(2),
	)
}

// Index brings the index up to date with observations, which must already be
// persisted. In rebuild mode the whole index is replaced from the store.
func (m *Maintainer) Index(ctx context.Context, observations []storage.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.opts.Mode {
	case ModeAppend:
		if len(observations) == 0 {
			return nil
		}
		vectors, meta, err := m.embed(ctx, observations)
		if err != nil {
			return err
		}
		if err := m.index.Add(vectors, meta); err != nil {
			return err
		}
	case ModeRebuild:
		if m.source == nil {
			return errors.New("index: rebuild requires an observation source")
		}
		all, err := m.source.AllObservations(ctx)
		if err != nil {
			return fmt.Errorf("load observations: %w", err)
		}
		vectors, meta, err := m.embed(ctx, all)
		if err != nil {
			return err
		}
		fresh := NewFlatIndex(m.embedder.Dimension())
		if err := fresh.Add(vectors, meta); err != nil {
			return err
		}
		m.index = fresh
	default:
		return fmt.Errorf("index: unknown mode %q", m.opts.Mode)
	}

	if m.opts.Path != "" {
		if err := m.index.Save(m.opts.Path); err != nil {
			return err
		}
	}
	m.logger.Debug().Str("mode", m.opts.Mode).Int("entries", m.index.Len()).Msg("index updated")
	return nil
}

// Search embeds query and returns the k closest entries.
func (m *Maintainer) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("index: empty query")
	}
	vectors, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	m.mu.Lock()
	idx := m.index
	m.mu.Unlock()
	return idx.Search(vectors[0], k)
}

func (m *Maintainer) embed(ctx context.Context, observations []storage.Observation) ([][]float32, []Metadata, error) {
	if len(observations) == 0 {
		return nil, nil, nil
	}
	texts := make([]string, len(observations))
	meta := make([]Metadata, len(observations))
	for i, obs := range observations {
		text := obs.Summary
		if text == "" {
			text = Summary(obs)
		}
		texts[i] = text
		meta[i] = Metadata{Type: EntryTypeStock, Symbol: obs.Symbol, Text: text}
	}
	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("embed summaries: %w", err)
	}
	return vectors, meta, nil
}
