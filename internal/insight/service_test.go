package insight

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pulseos/pulseos/internal/calendar"
	"github.com/pulseos/pulseos/internal/config"
	"github.com/pulseos/pulseos/internal/core"
	"github.com/pulseos/pulseos/internal/costs"
	"github.com/pulseos/pulseos/internal/llm"
	"github.com/pulseos/pulseos/internal/personalization"
	"github.com/pulseos/pulseos/internal/predictor"
	"github.com/pulseos/pulseos/internal/storage"
)

type stubProvider struct {
	mu    sync.Mutex
	text  string
	err   error
	delay time.Duration
	calls int
}

func (p *stubProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.calls++
	text, err, delay := p.text, p.err, p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, core.ErrLLMTimeout
		}
	}
	if err != nil {
		return nil, err
	}

	resp := &llm.Response{}
	resp.Content = []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{{Type: "text", Text: text}}
	resp.Usage = llm.Usage{InputTokens: 700, OutputTokens: 90}
	return resp, nil
}

func (p *stubProvider) Model() string { return "claude-sonnet-4-test" }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type testEnv struct {
	svc      *Service
	metrics  *storage.MetricStore
	patterns *storage.PatternStore
	prefs    *storage.PreferenceStore
	usage    *storage.UsageStore
	provider *stubProvider
}

func setupService(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	provider := &stubProvider{text: "A calm, steady day ahead; protect your sleep tonight."}
	usage := storage.NewUsageStore(db)
	tracker := costs.New(cfg.Pricing, usage)
	gateway := llm.NewGateway(provider, tracker, time.Second, cfg.LLM.MaxContentLen)

	metrics := storage.NewMetricStore(db)
	prefStore := storage.NewPreferenceStore(db)
	engine := personalization.NewEngine(cfg.Personalization, prefStore)
	pred := predictor.New(cfg.Predictor, metrics, storage.NewPredictorStore(db))
	cal := &calendar.StaticProvider{Densities: map[core.Date]core.CalendarDensity{
		"2026-08-20": {Date: "2026-08-20", MeetingCount: 4, MeetingHours: 3.5},
	}}

	svc := NewService(cfg, db, engine, gateway, pred, cal, NewFlights())
	return &testEnv{
		svc:      svc,
		metrics:  metrics,
		patterns: storage.NewPatternStore(db),
		prefs:    prefStore,
		usage:    usage,
		provider: provider,
	}
}

func seedWeek(t *testing.T, metrics *storage.MetricStore, start core.Date) {
	t.Helper()
	ctx := context.Background()

	sleep := []float64{7.2, 6.8, 5.5, 6.1, 7.4, 7.8, 7.1}
	readiness := []float64{78, 74, 52, 61, 82, 88, 85}
	for i := range sleep {
		d := start.AddDays(i)
		if err := metrics.Put(ctx, core.MetricSleepDuration, core.MetricPoint{Date: d, Value: sleep[i]}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := metrics.Put(ctx, core.MetricReadiness, core.MetricPoint{Date: d, Value: readiness[i]}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
}

func TestGenerateDailyBrief_Idempotent(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	seedWeek(t, env.metrics, "2026-08-14")

	first, err := env.svc.GenerateDailyBrief(ctx, "2026-08-20", false)
	if err != nil {
		t.Fatalf("GenerateDailyBrief failed: %v", err)
	}
	second, err := env.svc.GenerateDailyBrief(ctx, "2026-08-20", false)
	if err != nil {
		t.Fatalf("Second GenerateDailyBrief failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("Repeat call without force must return the same insight: %q vs %q", first.ID, second.ID)
	}
	if env.provider.callCount() != 1 {
		t.Errorf("Expected exactly one LLM call, got %d", env.provider.callCount())
	}
}

func TestGenerateDailyBrief_ForceSupersedes(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	seedWeek(t, env.metrics, "2026-08-14")

	first, err := env.svc.GenerateDailyBrief(ctx, "2026-08-20", false)
	if err != nil {
		t.Fatalf("GenerateDailyBrief failed: %v", err)
	}

	env.provider.mu.Lock()
	env.provider.text = "Regenerated: readiness is climbing, lean into it."
	env.provider.mu.Unlock()

	forced, err := env.svc.GenerateDailyBrief(ctx, "2026-08-20", true)
	if err != nil {
		t.Fatalf("Forced GenerateDailyBrief failed: %v", err)
	}
	if forced.ID == first.ID {
		t.Error("Force must produce a fresh record")
	}
	if !strings.Contains(forced.Content, "Regenerated") {
		t.Errorf("Force must re-invoke the model, got %q", forced.Content)
	}

	current, err := env.svc.GenerateDailyBrief(ctx, "2026-08-20", false)
	if err != nil {
		t.Fatalf("GenerateDailyBrief failed: %v", err)
	}
	if current.ID != forced.ID {
		t.Error("The forced record must supersede the original")
	}
}

func TestGenerateDailyBrief_SingleFlight(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	seedWeek(t, env.metrics, "2026-08-14")

	env.provider.mu.Lock()
	env.provider.delay = 50 * time.Millisecond
	env.provider.mu.Unlock()

	const callers = 8
	results := make([]core.Insight, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ins, err := env.svc.GenerateDailyBrief(ctx, "2026-08-20", false)
			if err != nil {
				t.Errorf("Caller %d failed: %v", i, err)
				return
			}
			results[i] = ins
		}(i)
	}
	wg.Wait()

	if env.provider.callCount() != 1 {
		t.Errorf("Concurrent callers for one key must share one LLM call, got %d", env.provider.callCount())
	}
	for i := 1; i < callers; i++ {
		if results[i].ID != results[0].ID {
			t.Errorf("Caller %d got a different insight: %q vs %q", i, results[i].ID, results[0].ID)
		}
	}
}

func TestGenerateDailyBrief_GatewayFailureDegrades(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	seedWeek(t, env.metrics, "2026-08-14")

	env.provider.mu.Lock()
	env.provider.err = core.ErrLLMProvider
	env.provider.mu.Unlock()

	ins, err := env.svc.GenerateDailyBrief(ctx, "2026-08-20", false)
	if err != nil {
		t.Fatalf("GenerateDailyBrief must not surface provider errors: %v", err)
	}
	if !ins.Degraded {
		t.Error("Provider failure must yield a degraded insight")
	}
	if ins.Content == "" {
		t.Error("Degraded insight must still carry fallback content")
	}

	totals, err := env.usage.Totals(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.Calls != 1 || totals.CostUSD != 0 {
		t.Errorf("Failed call must be ledgered at zero cost: %+v", totals)
	}
}

func TestPredictEnergy_InsufficientDataDefersToLLM(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	seedWeek(t, env.metrics, "2026-08-14")

	env.provider.mu.Lock()
	env.provider.text = `{"overall": 7, "peak_hours": ["09:00"], "low_hours": ["15:00"], "advice": "Start strong."}`
	env.provider.mu.Unlock()

	ins, err := env.svc.PredictEnergy(ctx, "2026-08-21")
	if err != nil {
		t.Fatalf("PredictEnergy failed: %v", err)
	}

	var payload EnergyPayload
	if err := json.Unmarshal([]byte(ins.Content), &payload); err != nil {
		t.Fatalf("Invalid payload: %v", err)
	}
	if !payload.InsufficientData {
		t.Error("Untrained predictor must flag insufficient data")
	}
	if payload.Source != predictor.SourceLLM {
		t.Errorf("Expected LLM-led prediction, got %q", payload.Source)
	}
	if payload.Overall != 7 {
		t.Errorf("Expected the LLM's score to lead, got %v", payload.Overall)
	}
}

func TestPredictEnergy_AlwaysFresh(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	seedWeek(t, env.metrics, "2026-08-14")

	env.provider.mu.Lock()
	env.provider.text = `{"overall": 6, "peak_hours": [], "low_hours": [], "advice": "Pace yourself."}`
	env.provider.mu.Unlock()

	first, err := env.svc.PredictEnergy(ctx, "2026-08-21")
	if err != nil {
		t.Fatalf("PredictEnergy failed: %v", err)
	}
	second, err := env.svc.PredictEnergy(ctx, "2026-08-21")
	if err != nil {
		t.Fatalf("Second PredictEnergy failed: %v", err)
	}

	if first.ID == second.ID {
		t.Error("Predictions are advisory and must be computed fresh each time")
	}
	if env.provider.callCount() != 2 {
		t.Errorf("Expected 2 LLM calls, got %d", env.provider.callCount())
	}
}

func TestDetectPatterns_NoDuplicatesAcrossRuns(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	today := core.DateOf(time.Now().UTC())
	seedWeek(t, env.metrics, today.AddDays(-6))

	first, err := env.svc.DetectPatterns(ctx, 30)
	if err != nil {
		t.Fatalf("DetectPatterns failed: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("Expected the sleep/readiness correlation to be detected")
	}

	second, err := env.svc.DetectPatterns(ctx, 30)
	if err != nil {
		t.Fatalf("Second DetectPatterns failed: %v", err)
	}
	if len(second) != len(first) {
		t.Errorf("Re-running detection must not duplicate patterns: %d vs %d", len(first), len(second))
	}

	slots := make(map[string]bool)
	for _, p := range second {
		if slots[p.Key()] {
			t.Errorf("Duplicate active slot %q", p.Key())
		}
		slots[p.Key()] = true
	}
}

func TestRecordFeedback_UpdatesPreferencesAndActedOn(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	seedWeek(t, env.metrics, "2026-08-14")

	ins, err := env.svc.GenerateDailyBrief(ctx, "2026-08-20", false)
	if err != nil {
		t.Fatalf("GenerateDailyBrief failed: %v", err)
	}

	if err := env.svc.RecordFeedback(ctx, ins.ID, core.FeedbackActedOn); err != nil {
		t.Fatalf("RecordFeedback failed: %v", err)
	}

	w, err := env.prefs.Get(ctx, personalization.CategoryContent, string(core.InsightDailyBrief))
	if err != nil {
		t.Fatalf("Expected a content preference weight: %v", err)
	}
	if w.Weight <= 0 {
		t.Errorf("acted_on must raise the weight, got %v", w.Weight)
	}

	// The stored context snapshot names the metrics the brief covered,
	// and feedback reinforces those focus topics.
	if _, err := env.prefs.Get(ctx, personalization.CategoryFocus, string(core.MetricSleepDuration)); err != nil {
		t.Errorf("Expected topic reinforcement from the snapshot: %v", err)
	}

	updated, err := env.svc.Recent(ctx, core.InsightDailyBrief, "2026-08-20", "2026-08-20")
	if err != nil || len(updated) != 1 {
		t.Fatalf("Recent failed: %v (%d)", err, len(updated))
	}
	if !updated[0].ActedOn {
		t.Error("acted_on feedback must mark the insight")
	}
}
