package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pulseos/pulseos/internal/core"
)

// PredictorStore persists the trained regression model (a singleton row)
// and the log of predictions made, used later for accuracy comparison.
type PredictorStore struct {
	db *DB
}

// NewPredictorStore creates a predictor store
func NewPredictorStore(db *DB) *PredictorStore {
	return &PredictorStore{db: db}
}

// ModelRecord is the persisted form of a trained model.
type ModelRecord struct {
	Params      string    `json:"params"` // JSON-encoded coefficients and scaling
	SampleCount int       `json:"sample_count"`
	RSquared    float64   `json:"r_squared"`
	TrainedAt   time.Time `json:"trained_at"`
}

// SaveModel replaces the stored model.
func (s *PredictorStore) SaveModel(ctx context.Context, m ModelRecord) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO predictor_model (id, params, sample_count, r_squared, trained_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			params = excluded.params,
			sample_count = excluded.sample_count,
			r_squared = excluded.r_squared,
			trained_at = excluded.trained_at
	`, m.Params, m.SampleCount, m.RSquared, m.TrainedAt)
	if err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

// Model returns the stored model, or ErrRecordNotFound if never trained.
func (s *PredictorStore) Model(ctx context.Context) (ModelRecord, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT params, sample_count, r_squared, trained_at
		FROM predictor_model WHERE id = 1
	`)

	var m ModelRecord
	if err := row.Scan(&m.Params, &m.SampleCount, &m.RSquared, &m.TrainedAt); err != nil {
		if isNoRows(err) {
			return ModelRecord{}, core.ErrRecordNotFound
		}
		return ModelRecord{}, fmt.Errorf("load model: %w", err)
	}
	return m, nil
}

// PredictionRecord is one logged prediction.
type PredictionRecord struct {
	ID         string    `json:"id"`
	Date       core.Date `json:"date"`
	Source     string    `json:"source"` // regression or llm
	Predicted  float64   `json:"predicted_energy"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// LogPrediction appends a prediction for later accuracy checks.
func (s *PredictorStore) LogPrediction(ctx context.Context, p PredictionRecord) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO prediction_log (id, date, source, predicted_energy, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, string(p.Date), p.Source, p.Predicted, p.Confidence, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("log prediction: %w", err)
	}
	return nil
}

// Predictions returns logged predictions for dates in [from, to].
func (s *PredictorStore) Predictions(ctx context.Context, from, to core.Date) ([]PredictionRecord, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, date, source, predicted_energy, confidence, created_at
		FROM prediction_log
		WHERE date >= ? AND date <= ?
		ORDER BY date
	`, string(from), string(to))
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var preds []PredictionRecord
	for rows.Next() {
		var p PredictionRecord
		var date string
		if err := rows.Scan(&p.ID, &date, &p.Source, &p.Predicted, &p.Confidence, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.Date = core.Date(date)
		preds = append(preds, p)
	}
	return preds, rows.Err()
}
