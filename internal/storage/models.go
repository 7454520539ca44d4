package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Observation sources.
const (
	SourceLive      = "live"
	SourceSynthetic = "synthetic"
)

// Alert kinds.
const (
	KindPriceChange   = "price_change"
	KindPercentChange = "percent_change"
	KindHighLow       = "high_low"
)

// Alert statuses.
const (
	StatusActive    = "active"
	StatusTriggered = "triggered"
)

// Observation is one price point for a symbol produced by a single tick.
type Observation struct {
	ID         int64
	Symbol     string
	Price      decimal.Decimal
	ObservedAt time.Time
	RecordedAt time.Time
	MovingAvg  *decimal.Decimal
	Volatility decimal.Decimal
	Source     string
	Summary    string
}

// AlertRule is a one-shot alert definition. Low/High/Percent/ReferencePrice are
// optional depending on Kind.
type AlertRule struct {
	ID             int64
	Symbol         string
	Kind           string
	Low            *decimal.Decimal
	High           *decimal.Decimal
	Percent        *decimal.Decimal
	ReferencePrice *decimal.Decimal
	Status         string
	CreatedAt      time.Time
	TriggeredAt    *time.Time
}

// AlertTrigger records the active→triggered transition of a rule.
type AlertTrigger struct {
	ID          int64
	AlertID     int64
	Symbol      string
	Message     string
	TriggeredAt time.Time
}

// NewsItem is an auxiliary headline kept alongside price data.
type NewsItem struct {
	ID          int64
	Title       string
	PublishedAt time.Time
}

// ValidKind reports whether kind is one of the supported alert kinds.
func ValidKind(kind string) bool {
	switch kind {
	case KindPriceChange, KindPercentChange, KindHighLow:
		return true
	default:
		return false
	}
}
