package events

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Event names emitted by the engine.
const (
	StockUpdate    = "stock_update"
	AlertTriggered = "alert_triggered"
)

// Sink receives named events.
type Sink interface {
	Publish(ctx context.Context, name string, payload any) error
}

// StockUpdatePayload is published for every persisted observation.
type StockUpdatePayload struct {
	Symbol     string           `json:"symbol"`
	Price      decimal.Decimal  `json:"price"`
	ObservedAt time.Time        `json:"datetime"`
	MovingAvg  *decimal.Decimal `json:"moving_avg,omitempty"`
	Volatility decimal.Decimal  `json:"volatility"`
	Source     string           `json:"source"`
}

// AlertTriggeredPayload is published once per rule transition.
type AlertTriggeredPayload struct {
	AlertID     int64     `json:"alert_id"`
	Symbol      string    `json:"symbol"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// LogSink writes events to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "events").Logger()}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, name string, payload any) error {
	s.logger.Info().Str("event", name).Interface("payload", payload).Msg("event published")
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, name string, payload any) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, name, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = Multi(nil)
)
