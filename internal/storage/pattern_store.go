package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pulseos/pulseos/internal/core"
)

// PatternStore persists detected patterns. Active patterns are the current
// belief set; deactivated rows are kept for history.
type PatternStore struct {
	db *DB
}

// NewPatternStore creates a pattern store
func NewPatternStore(db *DB) *PatternStore {
	return &PatternStore{db: db}
}

// Save inserts or fully replaces a pattern row by ID.
func (s *PatternStore) Save(ctx context.Context, p core.Pattern) error {
	varsJSON, err := json.Marshal(p.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT OR REPLACE INTO patterns
		(id, name, description, pattern_type, variables, strength, confidence,
		 sample_size, actionable, active, missed_runs, discovered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, string(p.Type), string(varsJSON),
		p.Strength, p.Confidence, p.SampleSize,
		boolToInt(p.Actionable), boolToInt(p.Active), p.MissedRuns,
		p.DiscoveredAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save pattern: %w", err)
	}
	return nil
}

// Active returns all active patterns, highest confidence first.
func (s *PatternStore) Active(ctx context.Context) ([]core.Pattern, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, name, description, pattern_type, variables, strength, confidence,
		       sample_size, actionable, active, missed_runs, discovered_at, updated_at
		FROM patterns
		WHERE active = 1
		ORDER BY confidence DESC, updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	return scanPatterns(rows)
}

// Deactivate marks a pattern inactive.
func (s *PatternStore) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE patterns SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate pattern: %w", err)
	}
	return nil
}

// Get returns a pattern by ID, or ErrRecordNotFound.
func (s *PatternStore) Get(ctx context.Context, id string) (core.Pattern, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, name, description, pattern_type, variables, strength, confidence,
		       sample_size, actionable, active, missed_runs, discovered_at, updated_at
		FROM patterns WHERE id = ?
	`, id)

	p, err := scanPattern(row)
	if err != nil {
		if isNoRows(err) {
			return core.Pattern{}, core.ErrRecordNotFound
		}
		return core.Pattern{}, err
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPattern(row rowScanner) (core.Pattern, error) {
	var p core.Pattern
	var varsJSON, patternType string
	var actionable, active int

	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &patternType, &varsJSON,
		&p.Strength, &p.Confidence, &p.SampleSize,
		&actionable, &active, &p.MissedRuns, &p.DiscoveredAt, &p.UpdatedAt,
	)
	if err != nil {
		return core.Pattern{}, err
	}

	p.Type = core.PatternType(patternType)
	p.Actionable = actionable != 0
	p.Active = active != 0
	if err := json.Unmarshal([]byte(varsJSON), &p.Variables); err != nil {
		p.Variables = nil
	}
	return p, nil
}

func scanPatterns(rows *sql.Rows) ([]core.Pattern, error) {
	var patterns []core.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
