package storage

import (
	"context"
	"fmt"

	"github.com/pulseos/pulseos/internal/core"
)

// PreferenceStore persists learned preference weights and the append-only
// feedback event log.
type PreferenceStore struct {
	db *DB
}

// NewPreferenceStore creates a preference store
func NewPreferenceStore(db *DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// Get returns one preference weight, or ErrRecordNotFound.
func (s *PreferenceStore) Get(ctx context.Context, category, key string) (core.PreferenceWeight, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT category, key, value, weight, evidence_count, last_reinforced
		FROM preference_weights
		WHERE category = ? AND key = ?
	`, category, key)

	var w core.PreferenceWeight
	err := row.Scan(&w.Category, &w.Key, &w.Value, &w.Weight, &w.EvidenceCount, &w.LastReinforced)
	if err != nil {
		if isNoRows(err) {
			return core.PreferenceWeight{}, core.ErrRecordNotFound
		}
		return core.PreferenceWeight{}, fmt.Errorf("get preference: %w", err)
	}
	return w, nil
}

// Upsert writes a preference weight, replacing any existing row for the
// same (category, key).
func (s *PreferenceStore) Upsert(ctx context.Context, w core.PreferenceWeight) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO preference_weights (category, key, value, weight, evidence_count, last_reinforced)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, key) DO UPDATE SET
			value = excluded.value,
			weight = excluded.weight,
			evidence_count = excluded.evidence_count,
			last_reinforced = excluded.last_reinforced
	`, w.Category, w.Key, w.Value, w.Weight, w.EvidenceCount, w.LastReinforced)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// All returns every stored preference weight, grouped by category.
func (s *PreferenceStore) All(ctx context.Context) ([]core.PreferenceWeight, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT category, key, value, weight, evidence_count, last_reinforced
		FROM preference_weights
		ORDER BY category, weight DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var weights []core.PreferenceWeight
	for rows.Next() {
		var w core.PreferenceWeight
		if err := rows.Scan(&w.Category, &w.Key, &w.Value, &w.Weight, &w.EvidenceCount, &w.LastReinforced); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		weights = append(weights, w)
	}
	return weights, rows.Err()
}

// InsertFeedback appends a feedback event. Events are never updated.
func (s *PreferenceStore) InsertFeedback(ctx context.Context, ev core.FeedbackEvent) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO feedback_events (id, insight_id, feedback_type, created_at)
		VALUES (?, ?, ?, ?)
	`, ev.ID, ev.InsightID, string(ev.Type), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// FeedbackForInsight returns all feedback recorded against one insight.
func (s *PreferenceStore) FeedbackForInsight(ctx context.Context, insightID string) ([]core.FeedbackEvent, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, insight_id, feedback_type, created_at
		FROM feedback_events
		WHERE insight_id = ?
		ORDER BY created_at
	`, insightID)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var events []core.FeedbackEvent
	for rows.Next() {
		var ev core.FeedbackEvent
		var typ string
		if err := rows.Scan(&ev.ID, &ev.InsightID, &typ, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		ev.Type = core.FeedbackType(typ)
		events = append(events, ev)
	}
	return events, rows.Err()
}
