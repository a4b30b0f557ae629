// Package store persists the precomputed monthly aggregation tables in
// sqlite and serves random-access slice lookups to the resolver.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/civicworks/complaint-forecast/internal/models"
	"github.com/civicworks/complaint-forecast/internal/utils"
)

const monthLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS monthly_volume (
	level        TEXT NOT NULL,
	neighborhood TEXT NOT NULL,
	item         TEXT NOT NULL,
	month        TEXT NOT NULL,
	value        REAL NOT NULL,
	PRIMARY KEY (level, neighborhood, item, month)
);
CREATE TABLE IF NOT EXISTS monthly_severity (
	level        TEXT NOT NULL,
	neighborhood TEXT NOT NULL,
	item         TEXT NOT NULL,
	month        TEXT NOT NULL,
	value        REAL NOT NULL,
	PRIMARY KEY (level, neighborhood, item, month)
);
CREATE TABLE IF NOT EXISTS valid_months (
	month TEXT NOT NULL PRIMARY KEY,
	value REAL NOT NULL
);
`

// AggregateRow is one (slice, month) cell of an aggregation table. LevelKey
// discriminates the eight slice combinations; Neighborhood and Item are empty
// for the axes the level key does not use.
type AggregateRow struct {
	LevelKey     string
	Neighborhood string
	Item         string
	Month        time.Time
	Value        float64
}

// Store wraps the sqlite database holding the aggregation tables.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the aggregate database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, utils.NewAppError("store.open", "open aggregate store", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, utils.NewAppError("store.open", "init aggregate schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func tableFor(metric models.Metric) (string, error) {
	switch metric {
	case models.MetricVolume:
		return "monthly_volume", nil
	case models.MetricSeverity:
		return "monthly_severity", nil
	}
	return "", fmt.Errorf("no aggregation table for metric %q", metric)
}

// Replace atomically swaps the full contents of a metric's aggregation
// table. Rows are sorted before insert so identical inputs produce identical
// table contents regardless of caller iteration order.
func (s *Store) Replace(ctx context.Context, metric models.Metric, rows []AggregateRow) error {
	table, err := tableFor(metric)
	if err != nil {
		return err
	}

	sorted := append([]AggregateRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.LevelKey != b.LevelKey {
			return a.LevelKey < b.LevelKey
		}
		if a.Neighborhood != b.Neighborhood {
			return a.Neighborhood < b.Neighborhood
		}
		if a.Item != b.Item {
			return a.Item < b.Item
		}
		return a.Month.Before(b.Month)
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO "+table+" (level, neighborhood, item, month, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range sorted {
		if _, err := stmt.ExecContext(ctx,
			row.LevelKey, row.Neighborhood, row.Item,
			row.Month.Format(monthLayout), row.Value,
		); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// ReplaceValidMonths swaps the citywide month-coverage table.
func (s *Store) ReplaceValidMonths(ctx context.Context, months models.MonthlySeries) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM valid_months"); err != nil {
		return fmt.Errorf("clear valid_months: %w", err)
	}
	for _, pt := range months {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO valid_months (month, value) VALUES (?, ?)",
			pt.Month.Format(monthLayout), pt.Value,
		); err != nil {
			return fmt.Errorf("insert valid month: %w", err)
		}
	}
	return tx.Commit()
}

// Series returns the monthly values for one slice key, ordered by month.
// Missing months are the caller's concern; the store returns only observed
// rows.
func (s *Store) Series(ctx context.Context, metric models.Metric, levelKey, neighborhood, item string) (models.MonthlySeries, error) {
	table, err := tableFor(metric)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT month, value FROM "+table+
			" WHERE level = ? AND neighborhood = ? AND item = ? ORDER BY month",
		levelKey, neighborhood, item)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	return scanSeries(rows)
}

// ValidMonths returns the citywide month coverage series.
func (s *Store) ValidMonths(ctx context.Context) (models.MonthlySeries, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT month, value FROM valid_months ORDER BY month")
	if err != nil {
		return nil, fmt.Errorf("query valid_months: %w", err)
	}
	defer rows.Close()

	return scanSeries(rows)
}

func scanSeries(rows *sql.Rows) (models.MonthlySeries, error) {
	var out models.MonthlySeries
	for rows.Next() {
		var monthText string
		var value float64
		if err := rows.Scan(&monthText, &value); err != nil {
			return nil, fmt.Errorf("scan series row: %w", err)
		}
		month, err := utils.ParseDate(monthText)
		if err != nil {
			return nil, fmt.Errorf("stored month: %w", err)
		}
		out = append(out, models.SeriesPoint{Month: utils.MonthEnd(month), Value: value})
	}
	return out, rows.Err()
}

// Neighborhoods lists the neighborhoods present in the volume table.
func (s *Store) Neighborhoods(ctx context.Context) ([]string, error) {
	return s.distinct(ctx,
		"SELECT DISTINCT neighborhood FROM monthly_volume WHERE level = 'neighborhood' ORDER BY neighborhood")
}

// Items lists the distinct items recorded for a taxonomy level.
func (s *Store) Items(ctx context.Context, level models.Level) ([]string, error) {
	return s.distinct(ctx,
		"SELECT DISTINCT item FROM monthly_volume WHERE level = '"+string(level)+"' ORDER BY item")
}

func (s *Store) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query distinct: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct row: %w", err)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

// Empty reports whether the volume table holds no rows, i.e. precompute has
// never run against this database.
func (s *Store) Empty(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM monthly_volume").Scan(&n); err != nil {
		return false, fmt.Errorf("count volume rows: %w", err)
	}
	return n == 0, nil
}

// Dump returns every row of a metric's table in stored order, for
// idempotence checks and tests.
func (s *Store) Dump(ctx context.Context, metric models.Metric) ([]AggregateRow, error) {
	table, err := tableFor(metric)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT level, neighborhood, item, month, value FROM "+table+
			" ORDER BY level, neighborhood, item, month")
	if err != nil {
		return nil, fmt.Errorf("dump %s: %w", table, err)
	}
	defer rows.Close()

	var out []AggregateRow
	for rows.Next() {
		var row AggregateRow
		var monthText string
		if err := rows.Scan(&row.LevelKey, &row.Neighborhood, &row.Item, &monthText, &row.Value); err != nil {
			return nil, fmt.Errorf("scan dump row: %w", err)
		}
		month, err := utils.ParseDate(monthText)
		if err != nil {
			return nil, fmt.Errorf("stored month: %w", err)
		}
		row.Month = utils.MonthEnd(month)
		out = append(out, row)
	}
	return out, rows.Err()
}
