package llm

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pulseos/pulseos/internal/config"
	"github.com/pulseos/pulseos/internal/core"
	"github.com/pulseos/pulseos/internal/costs"
	"github.com/pulseos/pulseos/internal/storage"
)

type fakeProvider struct {
	response *Response
	err      error
	delay    time.Duration
	requests []Request
}

func (f *fakeProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	f.requests = append(f.requests, req)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, core.ErrLLMTimeout
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeProvider) Model() string { return "claude-sonnet-4-test" }

func textResponse(text string, in, out int) *Response {
	resp := &Response{}
	resp.Content = []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{{Type: "text", Text: text}}
	resp.Usage = Usage{InputTokens: in, OutputTokens: out}
	return resp
}

func setupGateway(t *testing.T, provider Provider, timeout time.Duration) (*Gateway, *storage.UsageStore) {
	t.Helper()

	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	usage := storage.NewUsageStore(db)
	tracker := costs.New(config.Default().Pricing, usage)
	return NewGateway(provider, tracker, timeout, 4096), usage
}

func TestGenerate_Success(t *testing.T) {
	provider := &fakeProvider{response: textResponse("Sleep more tonight; your readiness is trending down.", 500, 40)}
	gw, usage := setupGateway(t, provider, time.Second)

	result, err := gw.Generate(context.Background(), PersonaDailyBrief, "metrics here")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Degraded {
		t.Error("Successful generation must not be degraded")
	}
	if !strings.Contains(result.Text, "Sleep more") {
		t.Errorf("Unexpected content: %q", result.Text)
	}

	totals, err := usage.Totals(context.Background(), time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.Calls != 1 || totals.InputTokens != 500 || totals.OutputTokens != 40 {
		t.Errorf("Usage not recorded: %+v", totals)
	}
}

func TestGenerate_TimeoutFallsBackAndRecordsZeroTokens(t *testing.T) {
	provider := &fakeProvider{
		delay:    time.Second,
		response: textResponse("too late", 1, 1),
	}
	gw, usage := setupGateway(t, provider, 20*time.Millisecond)

	result, err := gw.Generate(context.Background(), PersonaDailyBrief, "metrics")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !result.Degraded {
		t.Error("Timeout must produce a degraded result")
	}
	if result.Text != fallbackBrief {
		t.Errorf("Expected documented fallback, got %q", result.Text)
	}

	totals, err := usage.Totals(context.Background(), time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.Calls != 1 {
		t.Errorf("Failed call must still be recorded, got %d calls", totals.Calls)
	}
	if totals.InputTokens != 0 || totals.CostUSD != 0 {
		t.Errorf("Failure must cost nothing: %+v", totals)
	}
}

func TestGenerate_EnergyFallbackIsValidJSON(t *testing.T) {
	provider := &fakeProvider{err: core.ErrLLMProvider}
	gw, _ := setupGateway(t, provider, time.Second)

	result, err := gw.Generate(context.Background(), PersonaEnergy, "metrics")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !result.Degraded {
		t.Error("Provider failure must degrade")
	}

	var payload struct {
		Overall   int      `json:"overall"`
		PeakHours []string `json:"peak_hours"`
		Advice    string   `json:"advice"`
	}
	if err := json.Unmarshal(result.JSON, &payload); err != nil {
		t.Fatalf("Fallback is not valid JSON: %v", err)
	}
	if payload.Overall != 5 {
		t.Errorf("Expected neutral fallback score 5, got %d", payload.Overall)
	}
	if len(payload.PeakHours) != 0 {
		t.Errorf("Fallback must not invent peak hours: %v", payload.PeakHours)
	}
}

func TestGenerate_MalformedJSONDegrades(t *testing.T) {
	provider := &fakeProvider{response: textResponse("overall is maybe 7, hard to say", 100, 20)}
	gw, usage := setupGateway(t, provider, time.Second)

	result, err := gw.Generate(context.Background(), PersonaEnergy, "metrics")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !result.Degraded {
		t.Error("Unparseable JSON must degrade")
	}
	if !json.Valid(result.JSON) {
		t.Error("Degraded energy result must still carry valid JSON")
	}

	// Tokens were genuinely spent; the ledger must say so.
	totals, _ := usage.Totals(context.Background(), time.Now().Add(-time.Minute))
	if totals.InputTokens != 100 {
		t.Errorf("Spent tokens must be recorded even when parsing fails: %+v", totals)
	}
}

func TestGenerate_ExtractsWrappedJSON(t *testing.T) {
	wrapped := "Here is the prediction:\n```json\n{\"overall\": 7, \"peak_hours\": [\"09:00\"], \"low_hours\": [\"15:00\"], \"advice\": \"Front-load hard work.\"}\n```"
	provider := &fakeProvider{response: textResponse(wrapped, 200, 60)}
	gw, _ := setupGateway(t, provider, time.Second)

	result, err := gw.Generate(context.Background(), PersonaEnergy, "metrics")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Degraded {
		t.Error("Wrapped but valid JSON should parse")
	}

	var payload struct {
		Overall int `json:"overall"`
	}
	if err := json.Unmarshal(result.JSON, &payload); err != nil {
		t.Fatalf("Extracted JSON invalid: %v", err)
	}
	if payload.Overall != 7 {
		t.Errorf("Expected overall 7, got %d", payload.Overall)
	}
}

func TestGenerate_TruncatesLongOutput(t *testing.T) {
	provider := &fakeProvider{response: textResponse(strings.Repeat("a", 10000), 100, 9000)}
	gw, _ := setupGateway(t, provider, time.Second)

	result, err := gw.Generate(context.Background(), PersonaDailyBrief, "metrics")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(result.Text) != 4096 {
		t.Errorf("Expected truncation to 4096, got %d", len(result.Text))
	}
}

func TestGenerate_SurvivesCallerCancellation(t *testing.T) {
	provider := &fakeProvider{
		delay:    30 * time.Millisecond,
		response: textResponse("done", 10, 5),
	}
	gw, usage := setupGateway(t, provider, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // caller already gone

	result, err := gw.Generate(ctx, PersonaDailyBrief, "metrics")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Degraded {
		t.Error("In-flight call should complete despite caller cancellation")
	}

	totals, _ := usage.Totals(context.Background(), time.Now().Add(-time.Minute))
	if totals.Calls != 1 || totals.OutputTokens != 5 {
		t.Errorf("Completed call not recorded: %+v", totals)
	}
}
