package synthetic

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatcher/internal/storage"
)

// Model defaults.
const (
	DefaultVolatility          = 0.005
	DefaultTrend               = 0.0005
	DefaultJumpProbability     = 0.10
	DefaultBulkJumpProbability = 0.05
	DefaultMinJump             = 0.01
	DefaultMaxJump             = 0.03
	DefaultFallbackPrice       = 100.0
)

// pricePlaces is the rounding applied to generated prices.
const pricePlaces = 3

var floorRatio = decimal.NewFromFloat(0.5)

// DefaultSeedPrices are used when a symbol has no persisted history.
var DefaultSeedPrices = map[string]decimal.Decimal{
	"NVDA":  decimal.RequireFromString("105.527"),
	"AAPL":  decimal.RequireFromString("206.126"),
	"MSFT":  decimal.RequireFromString("383.774"),
	"GOOGL": decimal.RequireFromString("157.946"),
}

// PriceLookup resolves the last persisted price for a symbol.
type PriceLookup interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error)
}

// Options parameterise the random walk. Zero float fields select the
// defaults; negative values disable the term.
type Options struct {
	// Seed makes the generator deterministic. Zero seeds from the clock.
	Seed                uint64
	Volatility          float64
	Trend               float64
	JumpProbability     float64
	BulkJumpProbability float64
	SeedPrices          map[string]decimal.Decimal
	FallbackPrice       decimal.Decimal
	Now                 func() time.Time
}

// Generator produces plausible stand-in prices from a bounded random walk with
// trend and occasional jumps.
type Generator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	lookup PriceLookup
	opts   Options
	logger zerolog.Logger
}

// New builds a generator. lookup may be nil, in which case seed prices are
// always used as the basis.
func New(lookup PriceLookup, opts Options, logger zerolog.Logger) *Generator {
	opts.Volatility = orDefault(opts.Volatility, DefaultVolatility)
	opts.Trend = orDefault(opts.Trend, DefaultTrend)
	opts.JumpProbability = orDefault(opts.JumpProbability, DefaultJumpProbability)
	opts.BulkJumpProbability = orDefault(opts.BulkJumpProbability, DefaultBulkJumpProbability)
	if opts.SeedPrices == nil {
		opts.SeedPrices = DefaultSeedPrices
	}
	if opts.FallbackPrice.IsZero() {
		opts.FallbackPrice = decimal.NewFromFloat(DefaultFallbackPrice)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return &Generator{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		lookup: lookup,
		opts:   opts,
		logger: logger.With().Str("component", "synthetic").Logger(),
	}
}

// SeedPrice returns the hardcoded starting price for symbol.
func (g *Generator) SeedPrice(symbol string) decimal.Decimal {
	if p, ok := g.opts.SeedPrices[symbol]; ok {
		return p
	}
	return g.opts.FallbackPrice
}

// Generate produces one observation per symbol stamped with basisTime. Each
// symbol starts from its last persisted price, or its seed price when none exists.
func (g *Generator) Generate(ctx context.Context, symbols []string, basisTime time.Time) ([]storage.Observation, error) {
	recordedAt := g.opts.Now().UTC()
	out := make([]storage.Observation, 0, len(symbols))

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		basis := g.basisPrice(ctx, symbol)
		price := g.step(basis, basis, g.opts.JumpProbability)
		out = append(out, storage.Observation{
			Symbol:     symbol,
			Price:      price,
			ObservedAt: basisTime.UTC(),
			RecordedAt: recordedAt,
			Source:     storage.SourceSynthetic,
		})
	}

	g.logger.Debug().Int("symbols", len(out)).Time("basis_time", basisTime).Msg("generated synthetic observations")
	return out, nil
}

// Walk produces a bulk random walk for symbol from its seed price, one point
// per step in [start, end]. The trend direction is fixed for the whole walk
// and the floor is anchored on the seed price.
func (g *Generator) Walk(symbol string, start, end time.Time, step time.Duration) []storage.Observation {
	if step <= 0 || end.Before(start) {
		return nil
	}
	seed := g.SeedPrice(symbol)
	recordedAt := g.opts.Now().UTC()

	g.mu.Lock()
	trend := g.trendLocked()
	g.mu.Unlock()

	out := make([]storage.Observation, 0, int(end.Sub(start)/step)+1)
	current := seed
	for ts := start; !ts.After(end); ts = ts.Add(step) {
		g.mu.Lock()
		current = g.nextLocked(current, seed, trend, g.opts.BulkJumpProbability)
		g.mu.Unlock()
		out = append(out, storage.Observation{
			Symbol:     symbol,
			Price:      current,
			ObservedAt: ts.UTC(),
			RecordedAt: recordedAt,
			Source:     storage.SourceSynthetic,
		})
	}
	return out
}

func (g *Generator) basisPrice(ctx context.Context, symbol string) decimal.Decimal {
	if g.lookup != nil {
		price, ok, err := g.lookup.LatestPrice(ctx, symbol)
		if err != nil {
			g.logger.Warn().Err(err).Str("symbol", symbol).Msg("latest price lookup failed, using seed price")
		} else if ok && price.IsPositive() {
			return price
		}
	}
	return g.SeedPrice(symbol)
}

// step draws a fresh trend and advances basis by one move.
func (g *Generator) step(basis, floorBasis decimal.Decimal, jumpProbability float64) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nextLocked(basis, floorBasis, g.trendLocked(), jumpProbability)
}

func (g *Generator) trendLocked() float64 {
	if g.rng.IntN(2) == 0 {
		return -1
	}
	return 1
}

// nextLocked applies gaussian noise plus drift, an optional signed jump, and
// finally the floor at half of floorBasis.
func (g *Generator) nextLocked(current, floorBasis decimal.Decimal, trend, jumpProbability float64) decimal.Decimal {
	change := g.rng.NormFloat64()*g.opts.Volatility + g.opts.Trend*trend
	next := current.Add(current.Mul(decimal.NewFromFloat(change))).Round(pricePlaces)

	if g.rng.Float64() < jumpProbability {
		pct := DefaultMinJump + g.rng.Float64()*(DefaultMaxJump-DefaultMinJump)
		jump := current.Mul(decimal.NewFromFloat(pct))
		if g.rng.IntN(2) == 0 {
			jump = jump.Neg()
		}
		next = next.Add(jump).Round(pricePlaces)
	}

	floor := floorBasis.Mul(floorRatio)
	if next.LessThan(floor) {
		next = floor
	}
	return next
}

func orDefault(v, def float64) float64 {
	switch {
	case v == 0:
		return def
	case v < 0:
		return 0
	default:
		return v
	}
}
