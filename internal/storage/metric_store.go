package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pulseos/pulseos/internal/core"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// MetricStore persists daily metric observations.
type MetricStore struct {
	db *DB
}

// NewMetricStore creates a metric store
func NewMetricStore(db *DB) *MetricStore {
	return &MetricStore{db: db}
}

// Put inserts or replaces one observation. A metric has at most one value
// per date.
func (s *MetricStore) Put(ctx context.Context, metric core.MetricType, point core.MetricPoint) error {
	if !point.Date.Valid() {
		return fmt.Errorf("%w: bad date %q", core.ErrInvalidInput, point.Date)
	}
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO metric_points (metric, date, value)
		VALUES (?, ?, ?)
		ON CONFLICT(metric, date) DO UPDATE SET value = excluded.value
	`, string(metric), string(point.Date), point.Value)
	if err != nil {
		return fmt.Errorf("put metric point: %w", err)
	}
	return nil
}

// PutBatch writes a set of observations in one transaction.
func (s *MetricStore) PutBatch(ctx context.Context, metric core.MetricType, points []core.MetricPoint) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		for _, p := range points {
			if !p.Date.Valid() {
				return fmt.Errorf("%w: bad date %q", core.ErrInvalidInput, p.Date)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO metric_points (metric, date, value)
				VALUES (?, ?, ?)
				ON CONFLICT(metric, date) DO UPDATE SET value = excluded.value
			`, string(metric), string(p.Date), p.Value); err != nil {
				return fmt.Errorf("put metric point: %w", err)
			}
		}
		return nil
	})
}

// Series returns the ordered series for one metric in [from, to].
func (s *MetricStore) Series(ctx context.Context, metric core.MetricType, from, to core.Date) (core.MetricSeries, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT date, value FROM metric_points
		WHERE metric = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, string(metric), string(from), string(to))
	if err != nil {
		return core.MetricSeries{}, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	series := core.MetricSeries{Metric: metric}
	for rows.Next() {
		var p core.MetricPoint
		var date string
		if err := rows.Scan(&date, &p.Value); err != nil {
			return core.MetricSeries{}, fmt.Errorf("scan point: %w", err)
		}
		p.Date = core.Date(date)
		series.Points = append(series.Points, p)
	}
	return series, rows.Err()
}

// AllSeries returns every metric's series in [from, to], keyed by metric name.
func (s *MetricStore) AllSeries(ctx context.Context, from, to core.Date) (map[string]core.MetricSeries, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT metric, date, value FROM metric_points
		WHERE date >= ? AND date <= ?
		ORDER BY metric, date ASC
	`, string(from), string(to))
	if err != nil {
		return nil, fmt.Errorf("query all series: %w", err)
	}
	defer rows.Close()

	out := make(map[string]core.MetricSeries)
	for rows.Next() {
		var metric, date string
		var value float64
		if err := rows.Scan(&metric, &date, &value); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		series := out[metric]
		series.Metric = core.MetricType(metric)
		series.Points = append(series.Points, core.MetricPoint{Date: core.Date(date), Value: value})
		out[metric] = series
	}
	return out, rows.Err()
}

// Value returns a single observation, or ErrRecordNotFound.
func (s *MetricStore) Value(ctx context.Context, metric core.MetricType, date core.Date) (float64, error) {
	var v float64
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT value FROM metric_points WHERE metric = ? AND date = ?
	`, string(metric), string(date)).Scan(&v)
	if err != nil {
		if isNoRows(err) {
			return 0, core.ErrRecordNotFound
		}
		return 0, fmt.Errorf("query value: %w", err)
	}
	return v, nil
}
