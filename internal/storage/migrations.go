package storage

import (
	"fmt"

	"github.com/pulseos/pulseos/internal/core"
)

// Migrate creates or updates the schema. Safe to run on every startup.
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS metric_points (
		metric TEXT NOT NULL,
		date TEXT NOT NULL,
		value REAL NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (metric, date)
	);
	CREATE INDEX IF NOT EXISTS idx_metric_date ON metric_points(date);

	CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		variables TEXT NOT NULL DEFAULT '[]',
		strength REAL NOT NULL DEFAULT 0.0,
		confidence REAL NOT NULL DEFAULT 0.0,
		sample_size INTEGER NOT NULL DEFAULT 0,
		actionable INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		missed_runs INTEGER NOT NULL DEFAULT 0,
		discovered_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_patterns_active ON patterns(active, pattern_type);

	CREATE TABLE IF NOT EXISTS insights (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		date TEXT NOT NULL,
		content TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '{}',
		confidence REAL NOT NULL DEFAULT 0.0,
		acted_on INTEGER NOT NULL DEFAULT 0,
		degraded INTEGER NOT NULL DEFAULT 0,
		superseded INTEGER NOT NULL DEFAULT 0,
		generated_at TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_insights_key
		ON insights(type, date) WHERE superseded = 0;

	CREATE TABLE IF NOT EXISTS preference_weights (
		category TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		weight REAL NOT NULL DEFAULT 0.0,
		evidence_count INTEGER NOT NULL DEFAULT 0,
		last_reinforced TIMESTAMP NOT NULL,
		PRIMARY KEY (category, key)
	);

	CREATE TABLE IF NOT EXISTS feedback_events (
		id TEXT PRIMARY KEY,
		insight_id TEXT NOT NULL,
		feedback_type TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_insight ON feedback_events(insight_id);

	CREATE TABLE IF NOT EXISTS token_usage (
		id TEXT PRIMARY KEY,
		feature TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0.0,
		timestamp TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON token_usage(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_feature ON token_usage(feature);

	CREATE TABLE IF NOT EXISTS predictor_model (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		params TEXT NOT NULL DEFAULT '{}',
		sample_count INTEGER NOT NULL DEFAULT 0,
		r_squared REAL NOT NULL DEFAULT 0.0,
		trained_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS prediction_log (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		source TEXT NOT NULL,
		predicted_energy REAL NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.0,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prediction_date ON prediction_log(date);
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMigrationFailed, err)
	}
	return nil
}
