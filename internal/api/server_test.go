package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pulseos/pulseos/internal/config"
	"github.com/pulseos/pulseos/internal/core"
	"github.com/pulseos/pulseos/internal/costs"
	"github.com/pulseos/pulseos/internal/insight"
	"github.com/pulseos/pulseos/internal/llm"
	"github.com/pulseos/pulseos/internal/personalization"
	"github.com/pulseos/pulseos/internal/predictor"
	"github.com/pulseos/pulseos/internal/storage"
)

type stubProvider struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (p *stubProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.calls++
	text := p.text
	p.mu.Unlock()

	resp := &llm.Response{}
	resp.Content = []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{{Type: "text", Text: text}}
	resp.Usage = llm.Usage{InputTokens: 500, OutputTokens: 80}
	return resp, nil
}

func (p *stubProvider) Model() string { return "claude-sonnet-4-test" }

func setupServer(t *testing.T) (*Server, *storage.MetricStore) {
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

	provider := &stubProvider{text: "Sleep was short last night. Keep the afternoon light."}
	usage := storage.NewUsageStore(db)
	tracker := costs.New(cfg.Pricing, usage)
	gateway := llm.NewGateway(provider, tracker, time.Second, cfg.LLM.MaxContentLen)

	metrics := storage.NewMetricStore(db)
	engine := personalization.NewEngine(cfg.Personalization, storage.NewPreferenceStore(db))
	pred := predictor.New(cfg.Predictor, metrics, storage.NewPredictorStore(db))

	svc := insight.NewService(cfg, db, engine, gateway, pred, nil, insight.NewFlights())
	srv := NewServer(Config{
		Insights: svc,
		Tracker:  tracker,
		Metrics:  metrics,
		Patterns: storage.NewPatternStore(db),
	})
	return srv, metrics
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	decode(t, rec, &resp)
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %q", resp["status"])
	}
}

func TestIngestAndReadMetrics(t *testing.T) {
	srv, _ := setupServer(t)

	body := map[string]interface{}{
		"points": []map[string]interface{}{
			{"metric": "sleep_duration", "date": "2026-08-18", "value": 7.2},
			{"metric": "sleep_duration", "date": "2026-08-19", "value": 6.1},
			{"metric": "readiness", "date": "2026-08-19", "value": 74},
		},
	}
	rec := doRequest(t, srv, http.MethodPut, "/api/v1/metrics", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/metrics/sleep_duration?from=2026-08-18&to=2026-08-19", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var series core.MetricSeries
	decode(t, rec, &series)
	if series.Len() != 2 {
		t.Errorf("Expected 2 points, got %d", series.Len())
	}
	if v, ok := series.ValueOn("2026-08-19"); !ok || v != 6.1 {
		t.Errorf("Expected 6.1 on 2026-08-19, got %v (present=%v)", v, ok)
	}
}

func TestIngestRejectsBadDate(t *testing.T) {
	srv, _ := setupServer(t)

	body := map[string]interface{}{
		"points": []map[string]interface{}{
			{"metric": "sleep_duration", "date": "not-a-date", "value": 7.2},
		},
	}
	rec := doRequest(t, srv, http.MethodPut, "/api/v1/metrics", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestBriefLifecycle(t *testing.T) {
	srv, metrics := setupServer(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		d := core.Date("2026-08-14").AddDays(i)
		if err := metrics.Put(ctx, core.MetricSleepDuration, core.MetricPoint{Date: d, Value: 6.5 + 0.1*float64(i)}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// No brief yet.
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/briefs/2026-08-20", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 before generation, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/briefs/2026-08-20", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var generated core.Insight
	decode(t, rec, &generated)
	if generated.Type != core.InsightDailyBrief || generated.Date != "2026-08-20" {
		t.Errorf("Unexpected insight: %+v", generated)
	}
	if generated.Content == "" {
		t.Error("Expected non-empty content")
	}

	// Now readable, and a repeat POST returns the same record.
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/briefs/2026-08-20", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 after generation, got %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/briefs/2026-08-20", nil)
	var repeat core.Insight
	decode(t, rec, &repeat)
	if repeat.ID != generated.ID {
		t.Errorf("Repeat generation changed ID: %s vs %s", repeat.ID, generated.ID)
	}

	// Force mints a new record.
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/briefs/2026-08-20?force=true", nil)
	var forced core.Insight
	decode(t, rec, &forced)
	if forced.ID == generated.ID {
		t.Error("Force should supersede with a new record")
	}
}

func TestBriefRejectsBadDate(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/briefs/20-08-2026", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestEnergyEndpoint(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/energy/2026-08-21", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var ins core.Insight
	decode(t, rec, &ins)
	if ins.Type != core.InsightEnergyPrediction {
		t.Errorf("Expected energy prediction, got %s", ins.Type)
	}

	var payload struct {
		Overall          float64 `json:"overall"`
		InsufficientData bool    `json:"insufficient_data"`
	}
	if err := json.Unmarshal([]byte(ins.Content), &payload); err != nil {
		t.Fatalf("Energy content is not JSON: %v", err)
	}
	if !payload.InsufficientData {
		t.Error("Expected insufficient_data with no history")
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	srv, metrics := setupServer(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		d := core.Date("2026-08-14").AddDays(i)
		if err := metrics.Put(ctx, core.MetricSleepDuration, core.MetricPoint{Date: d, Value: 7.0}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/briefs/2026-08-20", nil)
	var ins core.Insight
	decode(t, rec, &ins)

	rec = doRequest(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/insights/%s/feedback", ins.ID),
		map[string]string{"type": "helpful"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/insights/missing-id/feedback",
		map[string]string{"type": "helpful"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown insight, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/insights/%s/feedback", ins.ID),
		map[string]string{"type": "meh"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown feedback type, got %d", rec.Code)
	}
}

func TestPatternsEndpoints(t *testing.T) {
	srv, metrics := setupServer(t)
	ctx := context.Background()

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/patterns", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var patterns []core.Pattern
	decode(t, rec, &patterns)
	if len(patterns) != 0 {
		t.Errorf("Expected empty pattern list, got %d", len(patterns))
	}

	sleep := []float64{7.2, 6.8, 5.5, 6.1, 7.4, 7.8, 7.1}
	readiness := []float64{78, 74, 52, 61, 82, 88, 85}
	start := core.DateOf(time.Now().UTC()).AddDays(-6)
	for i := range sleep {
		d := start.AddDays(i)
		if err := metrics.Put(ctx, core.MetricSleepDuration, core.MetricPoint{Date: d, Value: sleep[i]}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := metrics.Put(ctx, core.MetricReadiness, core.MetricPoint{Date: d, Value: readiness[i]}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/patterns/detect", map[string]int{"days": 30})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &patterns)
	if len(patterns) == 0 {
		t.Fatal("Expected detection to find the sleep/readiness relationship")
	}
}

func TestCostsEndpoint(t *testing.T) {
	srv, metrics := setupServer(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		d := core.Date("2026-08-14").AddDays(i)
		if err := metrics.Put(ctx, core.MetricSleepDuration, core.MetricPoint{Date: d, Value: 7.0}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if rec := doRequest(t, srv, http.MethodPost, "/api/v1/briefs/2026-08-20", nil); rec.Code != http.StatusOK {
		t.Fatalf("Brief generation failed: %d", rec.Code)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/costs?days=7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var report costs.Report
	decode(t, rec, &report)
	if report.Totals.Calls != 1 {
		t.Errorf("Expected 1 recorded call, got %d", report.Totals.Calls)
	}
	if report.Totals.CostUSD <= 0 {
		t.Errorf("Expected positive cost, got %f", report.Totals.CostUSD)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/costs?days=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad days, got %d", rec.Code)
	}
}
