package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stockwatcher/internal/config"
)

const (
	pgCreateTablesSQL = `
    CREATE TABLE IF NOT EXISTS observations (
        id          BIGSERIAL PRIMARY KEY,
        symbol      TEXT        NOT NULL,
        price       NUMERIC     NOT NULL,
        observed_at TIMESTAMPTZ NOT NULL,
        recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS idx_observations_symbol_time ON observations (symbol, observed_at DESC);
    CREATE INDEX IF NOT EXISTS idx_observations_time ON observations (observed_at);

    CREATE TABLE IF NOT EXISTS alert_rules (
        id              BIGSERIAL PRIMARY KEY,
        symbol          TEXT        NOT NULL,
        kind            TEXT        NOT NULL,
        low             NUMERIC,
        high            NUMERIC,
        percent         NUMERIC,
        reference_price NUMERIC,
        status          TEXT        NOT NULL DEFAULT 'active',
        created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
    );

    CREATE TABLE IF NOT EXISTS alert_history (
        id           BIGSERIAL PRIMARY KEY,
        alert_id     BIGINT      NOT NULL,
        symbol       TEXT        NOT NULL,
        message      TEXT        NOT NULL,
        triggered_at TIMESTAMPTZ NOT NULL
    );

    CREATE TABLE IF NOT EXISTS news (
        id           BIGSERIAL PRIMARY KEY,
        title        TEXT        NOT NULL,
        published_at TIMESTAMPTZ NOT NULL
    );`

	pgObservationColumns = `id, symbol, price::text, observed_at, recorded_at, moving_avg::text, volatility::text, source, summary`

	pgInsertObservationSQL = `INSERT INTO observations (
        symbol, price, observed_at, recorded_at, moving_avg, volatility, source, summary
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	pgRecentObservationsSQL = `SELECT ` + pgObservationColumns + `
    FROM observations
    WHERE symbol = $1
    ORDER BY observed_at DESC, id DESC
    LIMIT $2;`

	pgLatestObservationsSQL = `SELECT ` + pgObservationColumns + `
    FROM observations
    WHERE cardinality($1::text[]) = 0 OR symbol = ANY($1::text[])
    ORDER BY observed_at DESC, id DESC
    LIMIT $2;`

	pgObservationsBetweenSQL = `SELECT ` + pgObservationColumns + `
    FROM observations
    WHERE ($1 = '' OR symbol = $1)
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at, id;`

	pgAllObservationsSQL = `SELECT ` + pgObservationColumns + `
    FROM observations
    ORDER BY observed_at, id;`

	pgLatestPriceSQL = `SELECT price::text FROM observations
    WHERE symbol = $1
    ORDER BY observed_at DESC, id DESC
    LIMIT 1;`

	pgLatestObservedAtSQL = `SELECT MAX(observed_at) FROM observations;`

	pgCountObservationsSQL = `SELECT COUNT(*) FROM observations;`

	pgAlertColumns = `id, symbol, kind, low::text, high::text, percent::text, reference_price::text, status, created_at, triggered_at`

	pgInsertAlertSQL = `INSERT INTO alert_rules (
        symbol, kind, low, high, percent, reference_price, status
    ) VALUES ($1,$2,$3,$4,$5,$6,'active')
    RETURNING ` + pgAlertColumns + `;`

	pgGetAlertSQL     = `SELECT ` + pgAlertColumns + ` FROM alert_rules WHERE id = $1;`
	pgListAlertsSQL   = `SELECT ` + pgAlertColumns + ` FROM alert_rules ORDER BY id;`
	pgActiveAlertsSQL = `SELECT ` + pgAlertColumns + ` FROM alert_rules WHERE status = 'active' ORDER BY id;`

	pgMarkTriggeredSQL = `UPDATE alert_rules
    SET status = 'triggered', triggered_at = $2
    WHERE id = $1 AND status = 'active';`

	pgInsertTriggerSQL = `INSERT INTO alert_history (alert_id, symbol, message, triggered_at)
    VALUES ($1,$2,$3,$4)
    RETURNING id;`

	pgAlertHistorySQL = `SELECT id, alert_id, symbol, message, triggered_at
    FROM alert_history
    ORDER BY triggered_at DESC, id DESC
    LIMIT $1;`

	pgInsertNewsSQL = `INSERT INTO news (title, published_at) VALUES ($1,$2) RETURNING id;`

	pgRecentNewsSQL = `SELECT id, title, published_at FROM news ORDER BY published_at DESC, id DESC LIMIT $1;`

	pgColumnExistsSQL = `SELECT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
    );`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// PGStore is the PostgreSQL backend.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wires a pgx pool into a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PGStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PGStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates missing tables and adds missing columns.
func (s *PGStore) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgCreateTablesSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	for _, col := range additiveColumns {
		var exists bool
		if err := pool.QueryRow(ctx, pgColumnExistsSQL, col.table, col.name).Scan(&exists); err != nil {
			return fmt.Errorf("inspect %s.%s: %w", col.table, col.name, err)
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", col.table, col.name, col.pgType)
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", col.table, col.name, err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PGStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertObservations appends a batch of observations in a single transaction.
func (s *PGStore) InsertObservations(ctx context.Context, observations []Observation) error {
	if len(observations) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin observation batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, obs := range observations {
		if _, err := tx.Exec(ctx, pgInsertObservationSQL,
			obs.Symbol,
			obs.Price.String(),
			obs.ObservedAt.UTC(),
			obs.RecordedAt.UTC(),
			optionalString(obs.MovingAvg),
			obs.Volatility.String(),
			obs.Source,
			obs.Summary,
		); err != nil {
			return fmt.Errorf("insert observation %s: %w", obs.Symbol, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit observation batch: %w", err)
	}
	return nil
}

// RecentObservations lists the newest observations for a symbol, newest first.
func (s *PGStore) RecentObservations(ctx context.Context, symbol string, limit int) ([]Observation, error) {
	return s.queryObservations(ctx, "recent observations", pgRecentObservationsSQL, symbol, limit)
}

// LatestObservations lists the newest observations across symbols, newest first.
// An empty symbol list matches every symbol.
func (s *PGStore) LatestObservations(ctx context.Context, symbols []string, limit int) ([]Observation, error) {
	if symbols == nil {
		symbols = []string{}
	}
	return s.queryObservations(ctx, "latest observations", pgLatestObservationsSQL, symbols, limit)
}

// ListObservationsBetween lists observations in [from, to), oldest first.
func (s *PGStore) ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Observation, error) {
	return s.queryObservations(ctx, "observations between", pgObservationsBetweenSQL, symbol, from.UTC(), to.UTC())
}

// AllObservations lists every stored observation, oldest first.
func (s *PGStore) AllObservations(ctx context.Context) ([]Observation, error) {
	return s.queryObservations(ctx, "all observations", pgAllObservationsSQL)
}

func (s *PGStore) queryObservations(ctx context.Context, op, query string, args ...interface{}) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	observations := make([]Observation, 0)
	for rows.Next() {
		obs, scanErr := scanPGObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// LatestPrice returns the most recent price recorded for symbol.
func (s *PGStore) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	var raw string
	if err := pool.QueryRow(ctx, pgLatestPriceSQL, symbol).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, fmt.Errorf("latest price: %w", err)
	}
	price, err := parseDecimal("price", raw)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return price, true, nil
}

// LatestObservedAt returns the newest observation timestamp across all symbols.
func (s *PGStore) LatestObservedAt(ctx context.Context) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}

	var ts *time.Time
	if err := pool.QueryRow(ctx, pgLatestObservedAtSQL).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("latest observed at: %w", err)
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return ts.UTC(), true, nil
}

// CountObservations counts stored observations.
func (s *PGStore) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, pgCountObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// CreateAlert inserts an active alert rule.
func (s *PGStore) CreateAlert(ctx context.Context, rule AlertRule) (AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRule{}, err
	}

	row := pool.QueryRow(ctx, pgInsertAlertSQL,
		rule.Symbol,
		rule.Kind,
		optionalString(rule.Low),
		optionalString(rule.High),
		optionalString(rule.Percent),
		optionalString(rule.ReferencePrice),
	)
	created, err := scanPGAlert(row)
	if err != nil {
		return AlertRule{}, fmt.Errorf("insert alert: %w", err)
	}
	return created, nil
}

// GetAlert loads a single alert rule.
func (s *PGStore) GetAlert(ctx context.Context, id int64) (AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRule{}, err
	}
	rule, err := scanPGAlert(pool.QueryRow(ctx, pgGetAlertSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AlertRule{}, ErrNotFound
		}
		return AlertRule{}, fmt.Errorf("get alert: %w", err)
	}
	return rule, nil
}

// ListAlerts lists every alert rule.
func (s *PGStore) ListAlerts(ctx context.Context) ([]AlertRule, error) {
	return s.queryAlerts(ctx, "list alerts", pgListAlertsSQL)
}

// ActiveAlerts lists rules still awaiting their trigger.
func (s *PGStore) ActiveAlerts(ctx context.Context) ([]AlertRule, error) {
	return s.queryAlerts(ctx, "active alerts", pgActiveAlertsSQL)
}

func (s *PGStore) queryAlerts(ctx context.Context, op, query string) ([]AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	rules := make([]AlertRule, 0)
	for rows.Next() {
		rule, scanErr := scanPGAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// MarkTriggered flips an active rule to triggered and records the trigger in
// one transaction. It reports false when the rule was no longer active.
func (s *PGStore) MarkTriggered(ctx context.Context, trigger AlertTrigger) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin trigger: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, pgMarkTriggeredSQL, trigger.AlertID, trigger.TriggeredAt.UTC())
	if err != nil {
		return false, fmt.Errorf("mark alert triggered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, pgInsertTriggerSQL,
		trigger.AlertID,
		trigger.Symbol,
		trigger.Message,
		trigger.TriggeredAt.UTC(),
	); err != nil {
		return false, fmt.Errorf("insert alert history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit trigger: %w", err)
	}
	return true, nil
}

// AlertHistory lists the most recent triggers, newest first.
func (s *PGStore) AlertHistory(ctx context.Context, limit int) ([]AlertTrigger, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgAlertHistorySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("alert history: %w", err)
	}
	defer rows.Close()

	history := make([]AlertTrigger, 0, max(limit, 0))
	for rows.Next() {
		var rec AlertTrigger
		if err := rows.Scan(&rec.ID, &rec.AlertID, &rec.Symbol, &rec.Message, &rec.TriggeredAt); err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return history, nil
}

// InsertNews appends a news headline.
func (s *PGStore) InsertNews(ctx context.Context, item NewsItem) (NewsItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return NewsItem{}, err
	}
	if err := pool.QueryRow(ctx, pgInsertNewsSQL, item.Title, item.PublishedAt.UTC()).Scan(&item.ID); err != nil {
		return NewsItem{}, fmt.Errorf("insert news: %w", err)
	}
	return item, nil
}

// RecentNews lists the newest headlines.
func (s *PGStore) RecentNews(ctx context.Context, limit int) ([]NewsItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgRecentNewsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("recent news: %w", err)
	}
	defer rows.Close()

	items := make([]NewsItem, 0, max(limit, 0))
	for rows.Next() {
		var item NewsItem
		if err := rows.Scan(&item.ID, &item.Title, &item.PublishedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func scanPGObservation(row pgx.Row) (Observation, error) {
	var (
		obs           Observation
		priceStr      string
		movingAvgStr  *string
		volatilityStr string
	)
	if err := row.Scan(
		&obs.ID,
		&obs.Symbol,
		&priceStr,
		&obs.ObservedAt,
		&obs.RecordedAt,
		&movingAvgStr,
		&volatilityStr,
		&obs.Source,
		&obs.Summary,
	); err != nil {
		return Observation{}, err
	}

	var err error
	if obs.Price, err = parseDecimal("price", priceStr); err != nil {
		return Observation{}, err
	}
	if obs.MovingAvg, err = parseOptionalDecimal("moving_avg", movingAvgStr); err != nil {
		return Observation{}, err
	}
	if obs.Volatility, err = parseDecimal("volatility", volatilityStr); err != nil {
		return Observation{}, err
	}
	obs.ObservedAt = obs.ObservedAt.UTC()
	obs.RecordedAt = obs.RecordedAt.UTC()
	return obs, nil
}

func scanPGAlert(row pgx.Row) (AlertRule, error) {
	var rule AlertRule
	var low, high, percent, refPrice *string
	if err := row.Scan(
		&rule.ID,
		&rule.Symbol,
		&rule.Kind,
		&low,
		&high,
		&percent,
		&refPrice,
		&rule.Status,
		&rule.CreatedAt,
		&rule.TriggeredAt,
	); err != nil {
		return AlertRule{}, err
	}

	var err error
	if rule.Low, err = parseOptionalDecimal("low", low); err != nil {
		return AlertRule{}, err
	}
	if rule.High, err = parseOptionalDecimal("high", high); err != nil {
		return AlertRule{}, err
	}
	if rule.Percent, err = parseOptionalDecimal("percent", percent); err != nil {
		return AlertRule{}, err
	}
	if rule.ReferencePrice, err = parseOptionalDecimal("reference_price", refPrice); err != nil {
		return AlertRule{}, err
	}
	return rule, nil
}

var (
	_ Backend        = (*PGStore)(nil)
	_ AdvisoryLocker = (*PGStore)(nil)
)
