package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatcher/internal/events"
	"stockwatcher/internal/storage"
)

// ErrMalformedRule marks a rule that cannot be evaluated as stored.
var ErrMalformedRule = errors.New("alerting: malformed rule")

// DefaultRecentWindow is how many of the newest observations are scanned to
// find the latest price per symbol.
const DefaultRecentWindow = 100

// priceChangeThresholdPct is the tick-to-tick move, in percent, that fires a
// price_change rule.
var priceChangeThresholdPct = decimal.RequireFromString("0.01")

var hundred = decimal.NewFromInt(100)

// Store is the persistence the engine needs.
type Store interface {
	ActiveAlerts(ctx context.Context) ([]storage.AlertRule, error)
	LatestObservations(ctx context.Context, symbols []string, limit int) ([]storage.Observation, error)
	MarkTriggered(ctx context.Context, trigger storage.AlertTrigger) (bool, error)
}

// EvaluationResult summarises one alert pass.
type EvaluationResult struct {
	Evaluated int
	Skipped   int
	Triggers  []storage.AlertTrigger
}

// Engine evaluates active alert rules against the latest persisted prices.
type Engine struct {
	store    Store
	sink     events.Sink
	notifier Notifier
	window   int
	now      func() time.Time
	logger   zerolog.Logger

	mu         sync.Mutex
	prevPrices map[string]decimal.Decimal
}

// NewEngine constructs an Engine. sink and notifier may be nil.
func NewEngine(store Store, sink events.Sink, notifier Notifier, logger zerolog.Logger) *Engine {
	return &Engine{
		store:      store,
		sink:       sink,
		notifier:   notifier,
		window:     DefaultRecentWindow,
		now:        time.Now,
		logger:     logger.With().Str("component", "alert_engine").Logger(),
		prevPrices: make(map[string]decimal.Decimal),
	}
}

// Evaluate decides whether rule fires at latest. prev is the price seen at
// the previous evaluation of the symbol and only matters for price_change.
func Evaluate(rule storage.AlertRule, latest, prev decimal.Decimal) (bool, string, error) {
	switch rule.Kind {
	case storage.KindHighLow:
		if rule.Low == nil && rule.High == nil {
			return false, "", fmt.Errorf("%w: high_low rule %d has no bounds", ErrMalformedRule, rule.ID)
		}
		if rule.Low != nil && latest.LessThan(*rule.Low) {
			return true, fmt.Sprintf("%s dropped below %s. Price: %s", rule.Symbol, rule.Low.String(), latest.String()), nil
		}
		if rule.High != nil && latest.GreaterThan(*rule.High) {
			return true, fmt.Sprintf("%s rose above %s. Price: %s", rule.Symbol, rule.High.String(), latest.String()), nil
		}
		return false, "", nil

	case storage.KindPercentChange:
		if rule.Percent == nil || rule.ReferencePrice == nil || rule.ReferencePrice.IsZero() {
			return false, "", fmt.Errorf("%w: percent_change rule %d needs percent and a non-zero reference price", ErrMalformedRule, rule.ID)
		}
		ref := *rule.ReferencePrice
		pct := *rule.Percent
		change := latest.Sub(ref).Div(ref).Mul(hundred)
		if (pct.IsPositive() && change.GreaterThanOrEqual(pct)) || (pct.IsNegative() && change.LessThanOrEqual(pct)) {
			return true, fmt.Sprintf("%s price changed by %s%% from %s to %s", rule.Symbol, change.StringFixed(2), ref.String(), latest.String()), nil
		}
		return false, "", nil

	case storage.KindPriceChange:
		if prev.IsZero() {
			return false, "", nil
		}
		change := latest.Sub(prev).Abs().Div(prev).Mul(hundred)
		if change.GreaterThanOrEqual(priceChangeThresholdPct) {
			return true, fmt.Sprintf("%s price changed by %s%% from %s to %s", rule.Symbol, change.StringFixed(2), prev.String(), latest.String()), nil
		}
		return false, "", nil

	default:
		return false, "", fmt.Errorf("%w: unknown kind %q", ErrMalformedRule, rule.Kind)
	}
}

// Run performs one pass over every active rule. Rules without data and
// malformed rules are skipped. A rule that fires is marked triggered before
// its event is published.
func (e *Engine) Run(ctx context.Context) (EvaluationResult, error) {
	var result EvaluationResult

	rules, err := e.store.ActiveAlerts(ctx)
	if err != nil {
		return result, fmt.Errorf("load active alerts: %w", err)
	}
	if len(rules) == 0 {
		return result, nil
	}

	recent, err := e.store.LatestObservations(ctx, nil, e.window)
	if err != nil {
		return result, fmt.Errorf("load latest observations: %w", err)
	}
	latest := make(map[string]decimal.Decimal, len(recent))
	for _, obs := range recent {
		if _, seen := latest[obs.Symbol]; !seen {
			latest[obs.Symbol] = obs.Price
		}
	}

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		price, ok := latest[rule.Symbol]
		if !ok {
			result.Skipped++
			e.logger.Debug().Int64("alert_id", rule.ID).Str("symbol", rule.Symbol).Msg("no recent data for alert symbol")
			continue
		}

		prev := e.swapPrev(rule.Symbol, price)
		triggered, message, err := Evaluate(rule, price, prev)
		if err != nil {
			result.Skipped++
			e.logger.Warn().Err(err).Int64("alert_id", rule.ID).Msg("skipping malformed alert rule")
			continue
		}
		result.Evaluated++
		if !triggered {
			continue
		}

		trigger := storage.AlertTrigger{
			AlertID:     rule.ID,
			Symbol:      rule.Symbol,
			Message:     message,
			TriggeredAt: e.now().UTC(),
		}
		changed, err := e.store.MarkTriggered(ctx, trigger)
		if err != nil {
			e.logger.Error().Err(err).Int64("alert_id", rule.ID).Msg("failed to mark alert triggered")
			continue
		}
		if !changed {
			continue
		}
		result.Triggers = append(result.Triggers, trigger)
		e.logger.Info().Int64("alert_id", rule.ID).Str("symbol", rule.Symbol).Msg(message)
		e.dispatch(ctx, rule, price, trigger)
	}

	return result, nil
}

// swapPrev returns the cached price for symbol, or current when none is
// cached, and stores current for the next evaluation.
func (e *Engine) swapPrev(symbol string, current decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.prevPrices[symbol]
	if !ok {
		prev = current
	}
	e.prevPrices[symbol] = current
	return prev
}

func (e *Engine) dispatch(ctx context.Context, rule storage.AlertRule, price decimal.Decimal, trigger storage.AlertTrigger) {
	if e.sink != nil {
		payload := events.AlertTriggeredPayload{
			AlertID:     trigger.AlertID,
			Symbol:      trigger.Symbol,
			Message:     trigger.Message,
			TriggeredAt: trigger.TriggeredAt,
		}
		if err := e.sink.Publish(ctx, events.AlertTriggered, payload); err != nil {
			e.logger.Error().Err(err).Int64("alert_id", rule.ID).Msg("failed to publish alert event")
		}
	}
	if e.notifier != nil {
		note := Notification{
			AlertID:     rule.ID,
			Symbol:      rule.Symbol,
			Kind:        rule.Kind,
			Price:       price,
			Message:     trigger.Message,
			TriggeredAt: trigger.TriggeredAt,
		}
		if err := e.notifier.Notify(ctx, note); err != nil {
			e.logger.Error().Err(err).Int64("alert_id", rule.ID).Msg("failed to dispatch alert")
		}
	}
}
