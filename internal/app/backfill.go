package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"stockwatcher/internal/analytics"
	"stockwatcher/internal/index"
	"stockwatcher/internal/marketclock"
	"stockwatcher/internal/storage"
	"stockwatcher/internal/synthetic"
)

// BackfillResult summarises a backfill run.
type BackfillResult struct {
	Days         int
	Observations int
}

// Backfill populates regular-session synthetic history, one random walk per
// symbol per trading day between From and To (dates, inclusive).
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) (BackfillResult, error) {
	var result BackfillResult

	step := opts.Step
	if step <= 0 {
		step = time.Minute
	}
	symbols := opts.Symbols
	if len(symbols) == 0 {
		symbols = a.Config.Market.Symbols
	}

	clock, err := a.newClock()
	if err != nil {
		return result, err
	}

	var store storage.Backend
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		var closeStore func()
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return result, err
		}
		defer closeStore()
	}

	gen := a.newGenerator(nil)
	days := tradingDays(clock, opts.From, opts.To)
	if len(days) == 0 {
		return result, errors.New("回填范围内没有交易日，请检查 --from/--to")
	}

	var inserted []storage.Observation
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch := sessionWalk(gen, clock, day, symbols, step, a.Config.Analytics.Window)
		if store != nil {
			if err := store.InsertObservations(ctx, batch); err != nil {
				return result, err
			}
			inserted = append(inserted, batch...)
		}
		result.Days++
		result.Observations += len(batch)
		a.Logger.Info().Time("day", day).Int("observations", len(batch)).Msg("回填交易日完成")
	}

	if store != nil && a.Config.Index.Enabled {
		indexer, err := a.newIndexer(store)
		if err != nil {
			return result, err
		}
		if err := indexer.Index(ctx, inserted); err != nil {
			a.Logger.Error().Err(err).Msg("failed to rebuild index after backfill")
		}
	}

	a.Logger.Info().Int("days", result.Days).Int("observations", result.Observations).Msg("回填完成")
	return result, nil
}

// tradingDays lists local midnights of open sessions between from and to.
func tradingDays(clock *marketclock.Clock, from, to time.Time) []time.Time {
	loc := clock.Location()
	start := from.In(loc)
	end := to.In(loc)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)

	var days []time.Time
	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		noon := day.Add(12 * time.Hour)
		if clock.IsOpen(noon) {
			days = append(days, day)
		}
	}
	return days
}

// sessionWalk generates one session of annotated observations per symbol.
func sessionWalk(gen *synthetic.Generator, clock *marketclock.Clock, day time.Time, symbols []string, step time.Duration, window int) []storage.Observation {
	loc := clock.Location()
	open := time.Date(day.Year(), day.Month(), day.Day(), 9, 30, 0, 0, loc)
	closeAt := time.Date(day.Year(), day.Month(), day.Day(), 16, 0, 0, 0, loc)

	var out []storage.Observation
	for _, symbol := range symbols {
		walk := gen.Walk(symbol, open, closeAt, step)
		prices := make([]decimal.Decimal, len(walk))
		for i := range walk {
			prices[i] = walk[i].Price
		}
		stats := analytics.Rolling(prices, window)
		for i := range walk {
			avg := stats[i].MovingAvg
			walk[i].MovingAvg = &avg
			walk[i].Volatility = stats[i].Volatility
			walk[i].Summary = index.Summary(walk[i])
		}
		out = append(out, walk...)
	}
	return out
}
