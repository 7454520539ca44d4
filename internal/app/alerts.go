package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"stockwatcher/internal/alerting"
	"stockwatcher/internal/storage"
)

// ErrInvalidAlert is returned for alert definitions that cannot be evaluated.
var ErrInvalidAlert = errors.New("invalid alert")

// CreateAlert validates and stores a new active alert rule.
func (a *App) CreateAlert(ctx context.Context, rule storage.AlertRule) (storage.AlertRule, error) {
	rule.Symbol = strings.ToUpper(strings.TrimSpace(rule.Symbol))
	if err := validateRule(rule); err != nil {
		return storage.AlertRule{}, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return storage.AlertRule{}, err
	}
	defer closeStore()

	created, err := store.CreateAlert(ctx, rule)
	if err != nil {
		return storage.AlertRule{}, err
	}
	a.Logger.Info().Int64("alert_id", created.ID).Str("symbol", created.Symbol).Str("kind", created.Kind).Msg("alert created")
	return created, nil
}

// ListAlerts returns every stored rule.
func (a *App) ListAlerts(ctx context.Context) ([]storage.AlertRule, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()
	return store.ListAlerts(ctx)
}

// AlertHistory returns the most recent triggers.
func (a *App) AlertHistory(ctx context.Context, limit int) ([]storage.AlertTrigger, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("history limit must be positive, got %d", limit)
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()
	return store.AlertHistory(ctx, limit)
}

// CheckAlerts runs a single alert pass against the stored prices.
func (a *App) CheckAlerts(ctx context.Context) (alerting.EvaluationResult, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return alerting.EvaluationResult{}, err
	}
	defer closeStore()

	sink, closeSink := a.newSink(ctx)
	defer closeSink()

	engine := alerting.NewEngine(store, sink, a.newNotifier(), a.Logger)
	return engine.Run(ctx)
}

func validateRule(rule storage.AlertRule) error {
	if rule.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidAlert)
	}
	if !storage.ValidKind(rule.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAlert, rule.Kind)
	}
	switch rule.Kind {
	case storage.KindHighLow:
		if rule.Low == nil && rule.High == nil {
			return fmt.Errorf("%w: high_low needs --low and/or --high", ErrInvalidAlert)
		}
		if rule.Low != nil && rule.High != nil && rule.Low.GreaterThan(*rule.High) {
			return fmt.Errorf("%w: low %s is above high %s", ErrInvalidAlert, rule.Low, rule.High)
		}
	case storage.KindPercentChange:
		if rule.Percent == nil || rule.Percent.IsZero() {
			return fmt.Errorf("%w: percent_change needs a non-zero --percent", ErrInvalidAlert)
		}
		if rule.ReferencePrice == nil || !rule.ReferencePrice.GreaterThan(decimal.Zero) {
			return fmt.Errorf("%w: percent_change needs a positive --reference", ErrInvalidAlert)
		}
	}
	return nil
}
