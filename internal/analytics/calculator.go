package analytics

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatcher/internal/storage"
)

// DefaultWindow is the number of trailing prices, current included, that feed
// the moving average and volatility.
const DefaultWindow = 5

const resultPlaces = 6

// HistoryLookup returns persisted observations for a symbol, newest first.
type HistoryLookup interface {
	RecentObservations(ctx context.Context, symbol string, limit int) ([]storage.Observation, error)
}

// Stats is the rolling result for one point of a series.
type Stats struct {
	MovingAvg  decimal.Decimal
	Volatility decimal.Decimal
}

// Calculator annotates observations with rolling statistics.
type Calculator struct {
	history HistoryLookup
	window  int
	logger  zerolog.Logger
}

// New constructs a Calculator. history may be nil, in which case only the
// batch itself feeds the window.
func New(history HistoryLookup, window int, logger zerolog.Logger) *Calculator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Calculator{
		history: history,
		window:  window,
		logger:  logger.With().Str("component", "analytics").Logger(),
	}
}

// Annotate returns a copy of observations with MovingAvg and Volatility set.
// The window for each observation ends at that observation and reaches back
// through earlier observations of the same symbol in the batch, then through
// persisted history.
func (c *Calculator) Annotate(ctx context.Context, observations []storage.Observation) ([]storage.Observation, error) {
	out := make([]storage.Observation, len(observations))
	copy(out, observations)

	series := make(map[string][]decimal.Decimal)
	for i := range out {
		obs := &out[i]
		prices, ok := series[obs.Symbol]
		if !ok {
			seeded, err := c.seed(ctx, obs.Symbol)
			if err != nil {
				return nil, err
			}
			prices = seeded
		}
		prices = append(prices, obs.Price)
		if len(prices) > c.window {
			prices = prices[len(prices)-c.window:]
		}
		series[obs.Symbol] = prices

		stats := compute(prices)
		avg := stats.MovingAvg
		obs.MovingAvg = &avg
		obs.Volatility = stats.Volatility
	}
	return out, nil
}

// seed loads up to window-1 persisted prices for symbol in chronological order.
func (c *Calculator) seed(ctx context.Context, symbol string) ([]decimal.Decimal, error) {
	if c.history == nil || c.window < 2 {
		return nil, nil
	}
	recent, err := c.history.RecentObservations(ctx, symbol, c.window-1)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", symbol, err)
	}
	prices := make([]decimal.Decimal, 0, len(recent)+1)
	for i := len(recent) - 1; i >= 0; i-- {
		prices = append(prices, recent[i].Price)
	}
	return prices, nil
}

// Rolling computes the trailing statistics for every point of prices, using
// at most window samples per point. Points with fewer than two samples have
// zero volatility.
func Rolling(prices []decimal.Decimal, window int) []Stats {
	if window <= 0 {
		window = DefaultWindow
	}
	out := make([]Stats, len(prices))
	for i := range prices {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		out[i] = compute(prices[start : i+1])
	}
	return out
}

func compute(samples []decimal.Decimal) Stats {
	if len(samples) == 0 {
		return Stats{MovingAvg: decimal.Zero, Volatility: decimal.Zero}
	}
	n := decimal.NewFromInt(int64(len(samples)))
	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(s)
	}
	mean := sum.DivRound(n, 16)

	vol := decimal.Zero
	if len(samples) > 1 {
		sq := decimal.Zero
		for _, s := range samples {
			d := s.Sub(mean)
			sq = sq.Add(d.Mul(d))
		}
		variance, _ := sq.DivRound(decimal.NewFromInt(int64(len(samples)-1)), 16).Float64()
		if sd := math.Sqrt(variance); !math.IsNaN(sd) && !math.IsInf(sd, 0) {
			vol = decimal.NewFromFloat(sd)
		}
	}

	return Stats{
		MovingAvg:  mean.Round(resultPlaces),
		Volatility: vol.Round(resultPlaces),
	}
}
