package app

import (
	"context"
	"time"

	"stockwatcher/internal/service"
)

// SimulateTick runs one ingestion cycle. With closed set the market gate
// reports closed, so the tick uses synthetic data even during the session.
func (a *App) SimulateTick(ctx context.Context, closed bool) (service.TickResult, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return service.TickResult{}, err
	}
	defer closeStore()

	sink, closeSink := a.newSink(ctx)
	defer closeSink()

	var gate service.MarketGate
	if closed {
		gate = closedGate{}
	}
	svc, err := a.newService(ctx, store, nil, sink, gate)
	if err != nil {
		return service.TickResult{}, err
	}
	return svc.Tick(ctx)
}

type closedGate struct{}

func (closedGate) IsOpen(time.Time) bool { return false }
