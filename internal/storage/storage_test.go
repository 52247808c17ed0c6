package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulseos/pulseos/internal/core"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func TestMetricStore_PutAndSeries(t *testing.T) {
	db := setupTestDB(t)
	store := NewMetricStore(db)
	ctx := context.Background()

	points := []core.MetricPoint{
		{Date: "2026-08-01", Value: 7.2},
		{Date: "2026-08-02", Value: 6.8},
		{Date: "2026-08-03", Value: 5.5},
	}
	for _, p := range points {
		if err := store.Put(ctx, core.MetricSleepDuration, p); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	series, err := store.Series(ctx, core.MetricSleepDuration, "2026-08-01", "2026-08-03")
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if series.Len() != 3 {
		t.Errorf("Expected 3 points, got %d", series.Len())
	}
	if series.Points[0].Date != "2026-08-01" || series.Points[2].Date != "2026-08-03" {
		t.Errorf("Points not in date order: %+v", series.Points)
	}
}

func TestMetricStore_PutUpserts(t *testing.T) {
	db := setupTestDB(t)
	store := NewMetricStore(db)
	ctx := context.Background()

	if err := store.Put(ctx, core.MetricEnergy, core.MetricPoint{Date: "2026-08-10", Value: 4}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, core.MetricEnergy, core.MetricPoint{Date: "2026-08-10", Value: 7}); err != nil {
		t.Fatalf("Second Put failed: %v", err)
	}

	v, err := store.Value(ctx, core.MetricEnergy, "2026-08-10")
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != 7 {
		t.Errorf("Expected upserted value 7, got %v", v)
	}
}

func TestMetricStore_ValueNotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewMetricStore(db)

	_, err := store.Value(context.Background(), core.MetricMood, "2026-01-01")
	if !errors.Is(err, core.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestPatternStore_SaveAndActive(t *testing.T) {
	db := setupTestDB(t)
	store := NewPatternStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	p := core.Pattern{
		ID:           "pat-1",
		Name:         "Sleep drives readiness",
		Description:  "More sleep correlates with higher readiness",
		Type:         core.PatternCorrelation,
		Variables:    []string{"sleep_duration", "readiness"},
		Strength:     0.95,
		Confidence:   0.99,
		SampleSize:   7,
		Actionable:   true,
		Active:       true,
		DiscoveredAt: now,
		UpdatedAt:    now,
	}
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected 1 active pattern, got %d", len(active))
	}
	got := active[0]
	if got.ID != "pat-1" || !got.Actionable || got.SampleSize != 7 {
		t.Errorf("Pattern round-trip mismatch: %+v", got)
	}
	if len(got.Variables) != 2 || got.Variables[0] != "sleep_duration" {
		t.Errorf("Variables not preserved: %v", got.Variables)
	}

	if err := store.Deactivate(ctx, "pat-1"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	active, err = store.Active(ctx)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active patterns after deactivate, got %d", len(active))
	}
}

func TestInsightStore_UniquePerTypeAndDate(t *testing.T) {
	db := setupTestDB(t)
	store := NewInsightStore(db)
	ctx := context.Background()

	ins := core.Insight{
		ID:          "ins-1",
		Type:        core.InsightDailyBrief,
		Date:        "2026-08-15",
		Content:     "Take it easy today.",
		Context:     `{"deltas":[]}`,
		Confidence:  0.8,
		GeneratedAt: time.Now().UTC(),
	}
	if err := store.Put(ctx, ins, false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// A second insert for the same slot without supersede must fail.
	dup := ins
	dup.ID = "ins-2"
	if err := store.Put(ctx, dup, false); err == nil {
		t.Error("Expected unique constraint violation for duplicate (type, date)")
	}

	// With supersede the new row replaces the old as current.
	dup.Content = "Regenerated brief."
	if err := store.Put(ctx, dup, true); err != nil {
		t.Fatalf("Supersede Put failed: %v", err)
	}

	current, err := store.Get(ctx, core.InsightDailyBrief, "2026-08-15")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.ID != "ins-2" || current.Content != "Regenerated brief." {
		t.Errorf("Expected superseding insight, got %+v", current)
	}

	// The old row still exists for audit, reachable by ID.
	old, err := store.GetByID(ctx, "ins-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if old.Content != "Take it easy today." {
		t.Errorf("Superseded insight content changed: %q", old.Content)
	}
}

func TestInsightStore_MarkActedOn(t *testing.T) {
	db := setupTestDB(t)
	store := NewInsightStore(db)
	ctx := context.Background()

	ins := core.Insight{
		ID:          "ins-act",
		Type:        core.InsightEnergyPrediction,
		Date:        "2026-08-16",
		Content:     "{}",
		Context:     "{}",
		GeneratedAt: time.Now().UTC(),
	}
	if err := store.Put(ctx, ins, false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.MarkActedOn(ctx, "ins-act"); err != nil {
		t.Fatalf("MarkActedOn failed: %v", err)
	}

	got, err := store.GetByID(ctx, "ins-act")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.ActedOn {
		t.Error("Expected ActedOn to be set")
	}
}

func TestPreferenceStore_UpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	store := NewPreferenceStore(db)
	ctx := context.Background()

	w := core.PreferenceWeight{
		Category:       "tone",
		Key:            "direct",
		Weight:         0.6,
		EvidenceCount:  3,
		LastReinforced: time.Now().UTC(),
	}
	if err := store.Upsert(ctx, w); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	w.Weight = 0.7
	w.EvidenceCount = 4
	if err := store.Upsert(ctx, w); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	got, err := store.Get(ctx, "tone", "direct")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Weight != 0.7 || got.EvidenceCount != 4 {
		t.Errorf("Expected updated weight, got %+v", got)
	}

	_, err = store.Get(ctx, "tone", "missing")
	if !errors.Is(err, core.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestUsageStore_TotalsIncludeZeroTokenRows(t *testing.T) {
	db := setupTestDB(t)
	store := NewUsageStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []core.TokenUsageRecord{
		{ID: "u1", Feature: "daily_brief", Model: "claude-sonnet-4", InputTokens: 1000, OutputTokens: 200, CostUSD: 0.006, Timestamp: now},
		{ID: "u2", Feature: "daily_brief", Model: "claude-sonnet-4", InputTokens: 800, OutputTokens: 150, CostUSD: 0.0047, Timestamp: now},
		// Failed call: recorded with zero tokens so call counts stay honest.
		{ID: "u3", Feature: "energy_prediction", Model: "claude-sonnet-4", Timestamp: now},
	}
	for _, r := range records {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	totals, err := store.Totals(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.Calls != 3 {
		t.Errorf("Expected 3 calls, got %d", totals.Calls)
	}
	if totals.InputTokens != 1800 || totals.OutputTokens != 350 {
		t.Errorf("Unexpected token totals: %+v", totals)
	}

	byFeature, err := store.ByFeature(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ByFeature failed: %v", err)
	}
	if byFeature["daily_brief"].Calls != 2 {
		t.Errorf("Expected 2 daily_brief calls, got %d", byFeature["daily_brief"].Calls)
	}
	if byFeature["energy_prediction"].Calls != 1 || byFeature["energy_prediction"].CostUSD != 0 {
		t.Errorf("Expected zero-cost failed call, got %+v", byFeature["energy_prediction"])
	}
}

func TestPredictorStore_ModelRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := NewPredictorStore(db)
	ctx := context.Background()

	if _, err := store.Model(ctx); !errors.Is(err, core.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound before training, got %v", err)
	}

	m := ModelRecord{
		Params:      `{"coefficients":[0.4,0.2],"intercept":6.1}`,
		SampleCount: 21,
		RSquared:    0.64,
		TrainedAt:   time.Now().UTC(),
	}
	if err := store.SaveModel(ctx, m); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	got, err := store.Model(ctx)
	if err != nil {
		t.Fatalf("Model failed: %v", err)
	}
	if got.SampleCount != 21 || got.RSquared != 0.64 {
		t.Errorf("Model round-trip mismatch: %+v", got)
	}
}
