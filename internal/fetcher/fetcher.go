package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatcher/internal/storage"
)

// ErrNoSymbols is returned when Fetch is called without symbols.
var ErrNoSymbols = errors.New("fetcher: no symbols requested")

// Point is one bar of a provider time series.
type Point struct {
	At    time.Time
	Close decimal.Decimal
}

// QuoteProvider retrieves recent time series points for a symbol.
type QuoteProvider interface {
	Series(ctx context.Context, credential, symbol, interval string, size int) ([]Point, error)
}

// CredentialSource hands out API credentials under a rate limit.
type CredentialSource interface {
	Acquire(ctx context.Context) (string, error)
}

// MarketGate reports whether live data is available at t.
type MarketGate interface {
	IsOpen(t time.Time) bool
}

// SyntheticSource produces stand-in observations when live data is unavailable.
type SyntheticSource interface {
	Generate(ctx context.Context, symbols []string, basisTime time.Time) ([]storage.Observation, error)
}

// Options tune fetch behaviour.
type Options struct {
	Interval      string
	OutputSize    int
	SymbolDelay   time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	BackoffFactor float64
	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Fetcher retrieves the latest price per symbol, falling back to synthetic
// data when the market is closed or the provider fails.
type Fetcher struct {
	provider  QuoteProvider
	creds     CredentialSource
	gate      MarketGate
	synthetic SyntheticSource
	opts      Options
	logger    zerolog.Logger
}

// New constructs a Fetcher.
func New(provider QuoteProvider, creds CredentialSource, gate MarketGate, synthetic SyntheticSource, opts Options, logger zerolog.Logger) *Fetcher {
	if opts.Interval == "" {
		opts.Interval = defaultInterval
	}
	if opts.OutputSize <= 0 {
		opts.OutputSize = 1
	}
	if opts.SymbolDelay < 0 {
		opts.SymbolDelay = 0
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Fetcher{
		provider:  provider,
		creds:     creds,
		gate:      gate,
		synthetic: synthetic,
		opts:      opts,
		logger:    logger.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch returns one pre-analytics observation per symbol. interval overrides
// the configured provider interval when non-empty.
func (f *Fetcher) Fetch(ctx context.Context, symbols []string, interval string) ([]storage.Observation, error) {
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}
	if interval == "" {
		interval = f.opts.Interval
	}

	now := f.opts.Now().UTC()
	if f.gate != nil && !f.gate.IsOpen(now) {
		f.logger.Info().Strs("symbols", symbols).Msg("market closed, generating synthetic batch")
		return f.synthetic.Generate(ctx, symbols, now)
	}

	delay := f.opts.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxRetries; attempt++ {
		observations, err := f.fetchBatch(ctx, symbols, interval)
		if err == nil {
			return observations, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		f.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", f.opts.MaxRetries).Msg("batch fetch failed")

		if attempt < f.opts.MaxRetries {
			if err := f.opts.Sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay = time.Duration(float64(delay) * f.opts.BackoffFactor)
		}
	}

	f.logger.Error().Err(lastErr).Msg("batch fetch exhausted retries, falling back to synthetic data")
	return f.synthetic.Generate(ctx, symbols, f.opts.Now().UTC())
}

func (f *Fetcher) fetchBatch(ctx context.Context, symbols []string, interval string) ([]storage.Observation, error) {
	out := make([]storage.Observation, 0, len(symbols))
	for i, symbol := range symbols {
		if i > 0 && f.opts.SymbolDelay > 0 {
			if err := f.opts.Sleep(ctx, f.opts.SymbolDelay); err != nil {
				return nil, err
			}
		}

		credential, err := f.creds.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire credential: %w", err)
		}

		obs, err := f.fetchSymbol(ctx, credential, symbol, interval)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			f.logger.Warn().Err(err).Str("symbol", symbol).Msg("live fetch failed, using synthetic price")
			fallback, genErr := f.synthetic.Generate(ctx, []string{symbol}, f.opts.Now().UTC())
			if genErr != nil {
				return nil, fmt.Errorf("synthetic fallback for %s: %w", symbol, genErr)
			}
			out = append(out, fallback...)
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (f *Fetcher) fetchSymbol(ctx context.Context, credential, symbol, interval string) (storage.Observation, error) {
	points, err := f.provider.Series(ctx, credential, symbol, interval, f.opts.OutputSize)
	if err != nil {
		return storage.Observation{}, err
	}
	if len(points) == 0 {
		return storage.Observation{}, ErrEmptySeries
	}

	latest := points[0]
	for _, p := range points[1:] {
		if p.At.After(latest.At) {
			latest = p
		}
	}

	return storage.Observation{
		Symbol:     symbol,
		Price:      latest.Close,
		ObservedAt: latest.At.UTC(),
		RecordedAt: f.opts.Now().UTC(),
		Source:     storage.SourceLive,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
