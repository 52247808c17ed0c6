package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pulseos/pulseos/internal/core"
)

// UsageStore is the append-only token usage ledger. Rows are never
// updated or deleted.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a usage store
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Append records one API call, including failed calls with zero tokens.
func (s *UsageStore) Append(ctx context.Context, rec core.TokenUsageRecord) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO token_usage (id, feature, model, input_tokens, output_tokens, cost_usd, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Feature, rec.Model, rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("append usage: %w", err)
	}
	return nil
}

// UsageTotals aggregates spend over a period.
type UsageTotals struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Totals returns aggregate usage since the cutoff.
func (s *UsageStore) Totals(ctx context.Context, since time.Time) (UsageTotals, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_usd), 0.0)
		FROM token_usage WHERE timestamp >= ?
	`, since)

	var t UsageTotals
	if err := row.Scan(&t.Calls, &t.InputTokens, &t.OutputTokens, &t.CostUSD); err != nil {
		return UsageTotals{}, fmt.Errorf("usage totals: %w", err)
	}
	return t, nil
}

// ByFeature returns per-feature aggregates since the cutoff, highest
// spend first.
func (s *UsageStore) ByFeature(ctx context.Context, since time.Time) (map[string]UsageTotals, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT feature, COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_usd), 0.0)
		FROM token_usage WHERE timestamp >= ?
		GROUP BY feature
	`, since)
	if err != nil {
		return nil, fmt.Errorf("usage by feature: %w", err)
	}
	defer rows.Close()

	result := make(map[string]UsageTotals)
	for rows.Next() {
		var feature string
		var t UsageTotals
		if err := rows.Scan(&feature, &t.Calls, &t.InputTokens, &t.OutputTokens, &t.CostUSD); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		result[feature] = t
	}
	return result, rows.Err()
}

// ByDay returns per-calendar-day aggregates since the cutoff, keyed by
// ISO date.
func (s *UsageStore) ByDay(ctx context.Context, since time.Time) (map[core.Date]UsageTotals, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT date(timestamp), COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_usd), 0.0)
		FROM token_usage WHERE timestamp >= ?
		GROUP BY date(timestamp)
	`, since)
	if err != nil {
		return nil, fmt.Errorf("usage by day: %w", err)
	}
	defer rows.Close()

	result := make(map[core.Date]UsageTotals)
	for rows.Next() {
		var day string
		var t UsageTotals
		if err := rows.Scan(&day, &t.Calls, &t.InputTokens, &t.OutputTokens, &t.CostUSD); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		result[core.Date(day)] = t
	}
	return result, rows.Err()
}
