package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"stockwatcher/internal/storage"
)

// LatestObservations returns the newest observations, newest first, optionally
// filtered by symbol.
func (a *App) LatestObservations(ctx context.Context, symbols []string, limit int) ([]storage.Observation, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()
	return store.LatestObservations(ctx, symbols, limit)
}

// Show prints recent observations.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	observations, err := a.LatestObservations(ctx, opts.Symbols, opts.Limit)
	if err != nil {
		return err
	}
	return WriteObservationTable(os.Stdout, observations)
}

// WriteObservationTable renders observations newest first as an aligned table.
func WriteObservationTable(out io.Writer, observations []storage.Observation) error {
	if len(observations) == 0 {
		fmt.Fprintln(out, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tPrice\tMovingAvg\tVolatility\tSource")

	for _, obs := range observations {
		avg := "-"
		if obs.MovingAvg != nil {
			avg = obs.MovingAvg.StringFixed(3)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			obs.ObservedAt.UTC().Format(time.RFC3339),
			obs.Symbol,
			obs.Price.StringFixed(3),
			avg,
			obs.Volatility.StringFixed(4),
			obs.Source,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
