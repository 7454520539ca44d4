package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockwatcher/internal/config"
)

var (
	// ErrNotConfigured indicates the backing database was not initialised.
	ErrNotConfigured = errors.New("storage: database not configured")
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

// ObservationStore persists price observations.
type ObservationStore interface {
	InsertObservations(ctx context.Context, observations []Observation) error
	RecentObservations(ctx context.Context, symbol string, limit int) ([]Observation, error)
	LatestObservations(ctx context.Context, symbols []string, limit int) ([]Observation, error)
	ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Observation, error)
	AllObservations(ctx context.Context) ([]Observation, error)
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error)
	LatestObservedAt(ctx context.Context) (time.Time, bool, error)
	CountObservations(ctx context.Context) (int64, error)
}

// AlertStore persists alert rules and their trigger history.
type AlertStore interface {
	CreateAlert(ctx context.Context, rule AlertRule) (AlertRule, error)
	GetAlert(ctx context.Context, id int64) (AlertRule, error)
	ListAlerts(ctx context.Context) ([]AlertRule, error)
	ActiveAlerts(ctx context.Context) ([]AlertRule, error)
	MarkTriggered(ctx context.Context, trigger AlertTrigger) (bool, error)
	AlertHistory(ctx context.Context, limit int) ([]AlertTrigger, error)
}

// NewsStore persists auxiliary news headlines.
type NewsStore interface {
	InsertNews(ctx context.Context, item NewsItem) (NewsItem, error)
	RecentNews(ctx context.Context, limit int) ([]NewsItem, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend is a complete persistence implementation.
type Backend interface {
	ObservationStore
	AlertStore
	NewsStore
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Backend, error) {
	var (
		backend Backend
		err     error
	)

	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql", "pgx":
		pool, poolErr := NewPool(ctx, cfg)
		if poolErr != nil {
			return nil, poolErr
		}
		backend = NewPGStore(pool)
	case "sqlite", "":
		backend, err = OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database.driver %q", cfg.Driver)
	}

	if err := backend.Migrate(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return backend, nil
}

// column describes an additive schema change applied after table creation.
type column struct {
	table      string
	name       string
	pgType     string
	sqliteType string
}

// additiveColumns lists columns introduced after the initial schema. Migrate
// adds any that are missing without touching existing rows.
var additiveColumns = []column{
	{table: "observations", name: "moving_avg", pgType: "NUMERIC", sqliteType: "TEXT"},
	{table: "observations", name: "volatility", pgType: "NUMERIC NOT NULL DEFAULT 0", sqliteType: "TEXT NOT NULL DEFAULT '0'"},
	{table: "observations", name: "source", pgType: "TEXT NOT NULL DEFAULT 'live'", sqliteType: "TEXT NOT NULL DEFAULT 'live'"},
	{table: "observations", name: "summary", pgType: "TEXT NOT NULL DEFAULT ''", sqliteType: "TEXT NOT NULL DEFAULT ''"},
	{table: "alert_rules", name: "triggered_at", pgType: "TIMESTAMPTZ", sqliteType: "INTEGER"},
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

func parseOptionalDecimal(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := parseDecimal(field, *raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalString(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullableString(valid bool, s string) *string {
	if !valid {
		return nil
	}
	return &s
}
