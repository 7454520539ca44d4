package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// sqliteSchema is applied statement by statement on Migrate. Timestamps are
// stored as unix nanoseconds and decimals as text to keep them exact.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS observations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol      TEXT    NOT NULL,
		price       TEXT    NOT NULL,
		observed_at INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_symbol_time ON observations (symbol, observed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_time ON observations (observed_at)`,
	`CREATE TABLE IF NOT EXISTS alert_rules (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol          TEXT    NOT NULL,
		kind            TEXT    NOT NULL,
		low             TEXT,
		high            TEXT,
		percent         TEXT,
		reference_price TEXT,
		status          TEXT    NOT NULL DEFAULT 'active',
		created_at      INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS alert_history (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id     INTEGER NOT NULL,
		symbol       TEXT    NOT NULL,
		message      TEXT    NOT NULL,
		triggered_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS news (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		title        TEXT    NOT NULL,
		published_at INTEGER NOT NULL
	)`,
}

const (
	sqliteObservationColumns = `id, symbol, price, observed_at, recorded_at, moving_avg, volatility, source, summary`
	sqliteAlertColumns       = `id, symbol, kind, low, high, percent, reference_price, status, created_at, triggered_at`

	sqliteInsertObservationSQL = `INSERT INTO observations (
		symbol, price, observed_at, recorded_at, moving_avg, volatility, source, summary
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqliteMarkTriggeredSQL = `UPDATE alert_rules
		SET status = 'triggered', triggered_at = ?
		WHERE id = ? AND status = 'active'`
)

// SQLiteStore is the embedded single-file backend.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database.path is required for sqlite")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps pragmas in effect and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// Migrate creates missing tables and adds missing columns.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	existing := make(map[string]map[string]bool)
	for _, col := range additiveColumns {
		cols, ok := existing[col.table]
		if !ok {
			cols, err = s.tableColumns(ctx, col.table)
			if err != nil {
				return err
			}
			existing[col.table] = cols
		}
		if cols[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", col.table, col.name, col.sqliteType)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", col.table, col.name, err)
		}
		cols[col.name] = true
	}
	return nil
}

func (s *SQLiteStore) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// InsertObservations appends a batch of observations in a single transaction.
func (s *SQLiteStore) InsertObservations(ctx context.Context, observations []Observation) error {
	if len(observations) == 0 {
		return nil
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin observation batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteInsertObservationSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, obs := range observations {
		if _, err := stmt.ExecContext(ctx,
			obs.Symbol,
			obs.Price.String(),
			obs.ObservedAt.UTC().UnixNano(),
			obs.RecordedAt.UTC().UnixNano(),
			optionalString(obs.MovingAvg),
			obs.Volatility.String(),
			obs.Source,
			obs.Summary,
		); err != nil {
			return fmt.Errorf("insert observation %s: %w", obs.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit observation batch: %w", err)
	}
	return nil
}

// RecentObservations lists the newest observations for a symbol, newest first.
func (s *SQLiteStore) RecentObservations(ctx context.Context, symbol string, limit int) ([]Observation, error) {
	query := `SELECT ` + sqliteObservationColumns + ` FROM observations
		WHERE symbol = ? ORDER BY observed_at DESC, id DESC LIMIT ?`
	return s.queryObservations(ctx, "recent observations", query, symbol, limit)
}

// LatestObservations lists the newest observations across symbols, newest first.
// An empty symbol list matches every symbol.
func (s *SQLiteStore) LatestObservations(ctx context.Context, symbols []string, limit int) ([]Observation, error) {
	var (
		where string
		args  []interface{}
	)
	if len(symbols) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
		where = "WHERE symbol IN (" + placeholders + ")"
		for _, sym := range symbols {
			args = append(args, sym)
		}
	}
	args = append(args, limit)

	query := `SELECT ` + sqliteObservationColumns + ` FROM observations ` + where +
		` ORDER BY observed_at DESC, id DESC LIMIT ?`
	return s.queryObservations(ctx, "latest observations", query, args...)
}

// ListObservationsBetween lists observations in [from, to), oldest first.
func (s *SQLiteStore) ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Observation, error) {
	query := `SELECT ` + sqliteObservationColumns + ` FROM observations
		WHERE (? = '' OR symbol = ?) AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at, id`
	return s.queryObservations(ctx, "observations between", query, symbol, symbol, from.UTC().UnixNano(), to.UTC().UnixNano())
}

// AllObservations lists every stored observation, oldest first.
func (s *SQLiteStore) AllObservations(ctx context.Context) ([]Observation, error) {
	query := `SELECT ` + sqliteObservationColumns + ` FROM observations ORDER BY observed_at, id`
	return s.queryObservations(ctx, "all observations", query)
}

func (s *SQLiteStore) queryObservations(ctx context.Context, op, query string, args ...interface{}) ([]Observation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	observations := make([]Observation, 0)
	for rows.Next() {
		var (
			obs                  Observation
			price, volatility    string
			movingAvg            sql.NullString
			observedAt, recorded int64
		)
		if err := rows.Scan(&obs.ID, &obs.Symbol, &price, &observedAt, &recorded, &movingAvg, &volatility, &obs.Source, &obs.Summary); err != nil {
			return nil, err
		}
		if obs.Price, err = parseDecimal("price", price); err != nil {
			return nil, err
		}
		if obs.MovingAvg, err = parseOptionalDecimal("moving_avg", nullableString(movingAvg.Valid, movingAvg.String)); err != nil {
			return nil, err
		}
		if obs.Volatility, err = parseDecimal("volatility", volatility); err != nil {
			return nil, err
		}
		obs.ObservedAt = fromNanos(observedAt)
		obs.RecordedAt = fromNanos(recorded)
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return observations, nil
}

// LatestPrice returns the most recent price recorded for symbol.
func (s *SQLiteStore) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	var raw string
	err = db.QueryRowContext(ctx, `SELECT price FROM observations WHERE symbol = ?
		ORDER BY observed_at DESC, id DESC LIMIT 1`, symbol).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("latest price: %w", err)
	}
	price, err := parseDecimal("price", raw)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return price, true, nil
}

// LatestObservedAt returns the newest observation timestamp across all symbols.
func (s *SQLiteStore) LatestObservedAt(ctx context.Context) (time.Time, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return time.Time{}, false, err
	}
	var ts sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(observed_at) FROM observations`).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("latest observed at: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return fromNanos(ts.Int64), true, nil
}

// CountObservations counts stored observations.
func (s *SQLiteStore) CountObservations(ctx context.Context) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return count, nil
}

// CreateAlert inserts an active alert rule.
func (s *SQLiteStore) CreateAlert(ctx context.Context, rule AlertRule) (AlertRule, error) {
	db, err := s.getDB()
	if err != nil {
		return AlertRule{}, err
	}
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `INSERT INTO alert_rules (
		symbol, kind, low, high, percent, reference_price, status, created_at
	) VALUES (?, ?, ?, ?, ?, ?, 'active', ?)`,
		rule.Symbol,
		rule.Kind,
		optionalString(rule.Low),
		optionalString(rule.High),
		optionalString(rule.Percent),
		optionalString(rule.ReferencePrice),
		now.UnixNano(),
	)
	if err != nil {
		return AlertRule{}, fmt.Errorf("insert alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return AlertRule{}, fmt.Errorf("insert alert id: %w", err)
	}
	return s.GetAlert(ctx, id)
}

// GetAlert loads a single alert rule.
func (s *SQLiteStore) GetAlert(ctx context.Context, id int64) (AlertRule, error) {
	rules, err := s.queryAlerts(ctx, "get alert", `SELECT `+sqliteAlertColumns+` FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return AlertRule{}, err
	}
	if len(rules) == 0 {
		return AlertRule{}, ErrNotFound
	}
	return rules[0], nil
}

// ListAlerts lists every alert rule.
func (s *SQLiteStore) ListAlerts(ctx context.Context) ([]AlertRule, error) {
	return s.queryAlerts(ctx, "list alerts", `SELECT `+sqliteAlertColumns+` FROM alert_rules ORDER BY id`)
}

// ActiveAlerts lists rules still awaiting their trigger.
func (s *SQLiteStore) ActiveAlerts(ctx context.Context) ([]AlertRule, error) {
	return s.queryAlerts(ctx, "active alerts", `SELECT `+sqliteAlertColumns+` FROM alert_rules WHERE status = 'active' ORDER BY id`)
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, op, query string, args ...interface{}) ([]AlertRule, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	rules := make([]AlertRule, 0)
	for rows.Next() {
		var (
			rule                         AlertRule
			low, high, percent, refPrice sql.NullString
			createdAt                    int64
			triggeredAt                  sql.NullInt64
		)
		if err := rows.Scan(&rule.ID, &rule.Symbol, &rule.Kind, &low, &high, &percent, &refPrice, &rule.Status, &createdAt, &triggeredAt); err != nil {
			return nil, err
		}
		if rule.Low, err = parseOptionalDecimal("low", nullableString(low.Valid, low.String)); err != nil {
			return nil, err
		}
		if rule.High, err = parseOptionalDecimal("high", nullableString(high.Valid, high.String)); err != nil {
			return nil, err
		}
		if rule.Percent, err = parseOptionalDecimal("percent", nullableString(percent.Valid, percent.String)); err != nil {
			return nil, err
		}
		if rule.ReferencePrice, err = parseOptionalDecimal("reference_price", nullableString(refPrice.Valid, refPrice.String)); err != nil {
			return nil, err
		}
		rule.CreatedAt = fromNanos(createdAt)
		if triggeredAt.Valid {
			ts := fromNanos(triggeredAt.Int64)
			rule.TriggeredAt = &ts
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// MarkTriggered flips an active rule to triggered and records the trigger in
// one transaction. It reports false when the rule was no longer active.
func (s *SQLiteStore) MarkTriggered(ctx context.Context, trigger AlertTrigger) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin trigger: %w", err)
	}
	defer tx.Rollback()

	ts := trigger.TriggeredAt.UTC().UnixNano()
	res, err := tx.ExecContext(ctx, sqliteMarkTriggeredSQL, ts, trigger.AlertID)
	if err != nil {
		return false, fmt.Errorf("mark alert triggered: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark alert triggered: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO alert_history (alert_id, symbol, message, triggered_at)
		VALUES (?, ?, ?, ?)`, trigger.AlertID, trigger.Symbol, trigger.Message, ts); err != nil {
		return false, fmt.Errorf("insert alert history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit trigger: %w", err)
	}
	return true, nil
}

// AlertHistory lists the most recent triggers, newest first.
func (s *SQLiteStore) AlertHistory(ctx context.Context, limit int) ([]AlertTrigger, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, alert_id, symbol, message, triggered_at
		FROM alert_history ORDER BY triggered_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("alert history: %w", err)
	}
	defer rows.Close()

	history := make([]AlertTrigger, 0, max(limit, 0))
	for rows.Next() {
		var (
			rec AlertTrigger
			ts  int64
		)
		if err := rows.Scan(&rec.ID, &rec.AlertID, &rec.Symbol, &rec.Message, &ts); err != nil {
			return nil, err
		}
		rec.TriggeredAt = fromNanos(ts)
		history = append(history, rec)
	}
	return history, rows.Err()
}

// InsertNews appends a news headline.
func (s *SQLiteStore) InsertNews(ctx context.Context, item NewsItem) (NewsItem, error) {
	db, err := s.getDB()
	if err != nil {
		return NewsItem{}, err
	}
	res, err := db.ExecContext(ctx, `INSERT INTO news (title, published_at) VALUES (?, ?)`,
		item.Title, item.PublishedAt.UTC().UnixNano())
	if err != nil {
		return NewsItem{}, fmt.Errorf("insert news: %w", err)
	}
	if item.ID, err = res.LastInsertId(); err != nil {
		return NewsItem{}, fmt.Errorf("insert news id: %w", err)
	}
	item.PublishedAt = item.PublishedAt.UTC()
	return item, nil
}

// RecentNews lists the newest headlines.
func (s *SQLiteStore) RecentNews(ctx context.Context, limit int) ([]NewsItem, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, title, published_at FROM news
		ORDER BY published_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent news: %w", err)
	}
	defer rows.Close()

	items := make([]NewsItem, 0, max(limit, 0))
	for rows.Next() {
		var (
			item NewsItem
			ts   int64
		)
		if err := rows.Scan(&item.ID, &item.Title, &ts); err != nil {
			return nil, err
		}
		item.PublishedAt = fromNanos(ts)
		items = append(items, item)
	}
	return items, rows.Err()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

var _ Backend = (*SQLiteStore)(nil)
