package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pulseos/pulseos/internal/core"
)

// InsightStore persists generated insights. At most one non-superseded row
// exists per (type, date); force regeneration supersedes the prior one.
type InsightStore struct {
	db *DB
}

// NewInsightStore creates an insight store
func NewInsightStore(db *DB) *InsightStore {
	return &InsightStore{db: db}
}

// Get returns the current insight for (type, date), or ErrRecordNotFound.
func (s *InsightStore) Get(ctx context.Context, typ core.InsightType, date core.Date) (core.Insight, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, type, date, content, context, confidence, acted_on, degraded, generated_at
		FROM insights
		WHERE type = ? AND date = ? AND superseded = 0
	`, string(typ), string(date))

	ins, err := scanInsight(row)
	if err != nil {
		if isNoRows(err) {
			return core.Insight{}, core.ErrRecordNotFound
		}
		return core.Insight{}, err
	}
	return ins, nil
}

// Put persists an insight. With supersede set, any existing row for the
// same (type, date) is marked superseded first; otherwise a conflicting
// row is an error.
func (s *InsightStore) Put(ctx context.Context, ins core.Insight, supersede bool) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		if supersede {
			if _, err := tx.ExecContext(ctx, `
				UPDATE insights SET superseded = 1
				WHERE type = ? AND date = ? AND superseded = 0
			`, string(ins.Type), string(ins.Date)); err != nil {
				return fmt.Errorf("supersede insight: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO insights
			(id, type, date, content, context, confidence, acted_on, degraded, superseded, generated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		`, ins.ID, string(ins.Type), string(ins.Date), ins.Content, ins.Context,
			ins.Confidence, boolToInt(ins.ActedOn), boolToInt(ins.Degraded), ins.GeneratedAt)
		if err != nil {
			return fmt.Errorf("insert insight: %w", err)
		}
		return nil
	})
}

// MarkActedOn flags an insight as acted on.
func (s *InsightStore) MarkActedOn(ctx context.Context, id string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE insights SET acted_on = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark acted on: %w", err)
	}
	return nil
}

// GetByID returns an insight by its ID, or ErrRecordNotFound.
func (s *InsightStore) GetByID(ctx context.Context, id string) (core.Insight, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, type, date, content, context, confidence, acted_on, degraded, generated_at
		FROM insights WHERE id = ?
	`, id)

	ins, err := scanInsight(row)
	if err != nil {
		if isNoRows(err) {
			return core.Insight{}, core.ErrRecordNotFound
		}
		return core.Insight{}, err
	}
	return ins, nil
}

// Recent returns current insights generated for dates in [from, to],
// newest first, optionally filtered by type.
func (s *InsightStore) Recent(ctx context.Context, typ core.InsightType, from, to core.Date) ([]core.Insight, error) {
	query := `
		SELECT id, type, date, content, context, confidence, acted_on, degraded, generated_at
		FROM insights
		WHERE superseded = 0 AND date >= ? AND date <= ?
	`
	args := []interface{}{string(from), string(to)}
	if typ != "" {
		query += " AND type = ?"
		args = append(args, string(typ))
	}
	query += " ORDER BY date DESC, generated_at DESC"

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer rows.Close()

	var insights []core.Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		insights = append(insights, ins)
	}
	return insights, rows.Err()
}

func scanInsight(row rowScanner) (core.Insight, error) {
	var ins core.Insight
	var typ, date string
	var actedOn, degraded int

	err := row.Scan(&ins.ID, &typ, &date, &ins.Content, &ins.Context,
		&ins.Confidence, &actedOn, &degraded, &ins.GeneratedAt)
	if err != nil {
		return core.Insight{}, err
	}

	ins.Type = core.InsightType(typ)
	ins.Date = core.Date(date)
	ins.ActedOn = actedOn != 0
	ins.Degraded = degraded != 0
	return ins, nil
}
