package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pulseos/pulseos/internal/costs"
	"github.com/pulseos/pulseos/internal/logging"
)

// Fallback payloads served when the model is unavailable or returns
// something unusable. Stable content, safe to persist.
const (
	fallbackEnergyJSON = `{"overall": 5, "peak_hours": [], "low_hours": [], "advice": "Prediction unavailable, trust your gut."}`
	fallbackBrief      = "Your brief couldn't be generated right now. Your metrics are still being tracked; check the numbers directly and keep to your usual routine."
	fallbackPattern    = "This pattern couldn't be explained right now. The underlying statistics are unchanged; try again shortly."
	fallbackWeekly     = "Your weekly review couldn't be generated right now. Your data for the week is intact and the review can be regenerated."
)

// Result is the outcome of one generation. Degraded results carry a
// fallback payload instead of model output and cost nothing beyond any
// tokens actually consumed.
type Result struct {
	Text     string          `json:"text"`
	JSON     json.RawMessage `json:"json,omitempty"` // set for JSON personas
	Degraded bool            `json:"degraded"`
	Usage    Usage           `json:"usage"`
}

// Gateway wraps a provider with timeouts, output parsing, fallbacks and
// cost accounting. Every provider call is recorded exactly once, failures
// included.
type Gateway struct {
	provider      Provider
	tracker       *costs.Tracker
	timeout       time.Duration
	maxContentLen int
}

// NewGateway creates a gateway around a provider.
func NewGateway(provider Provider, tracker *costs.Tracker, timeout time.Duration, maxContentLen int) *Gateway {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if maxContentLen == 0 {
		maxContentLen = 4096
	}
	return &Gateway{
		provider:      provider,
		tracker:       tracker,
		timeout:       timeout,
		maxContentLen: maxContentLen,
	}
}

// Generate runs one completion under the gateway's timeout. It never
// returns a provider error: failures degrade to the persona's fallback
// payload so the caller always has something well-formed to serve. The
// returned error is reserved for cost-ledger write failures.
//
// The provider call is detached from the caller's cancellation: once a
// generation is in flight it runs to completion, so a caller giving up
// doesn't waste the tokens already being spent.
func (g *Gateway) Generate(ctx context.Context, persona Persona, userPrompt string) (Result, error) {
	detached := context.WithoutCancel(ctx)
	callCtx, cancel := context.WithTimeout(detached, g.timeout)
	defer cancel()

	resp, err := g.provider.Complete(callCtx, Request{
		System:    persona.System,
		MaxTokens: persona.MaxTokens,
		Messages:  []Message{{Role: "user", Content: userPrompt}},
	})
	now := time.Now().UTC()

	if err != nil {
		logging.Warn("LLM call failed for %s: %v", persona.Name, err)
		if terr := g.tracker.RecordFailure(detached, persona.Name, g.provider.Model(), now); terr != nil {
			return Result{}, terr
		}
		return g.fallback(persona), nil
	}

	if _, terr := g.tracker.Record(detached, persona.Name, g.provider.Model(),
		resp.Usage.InputTokens, resp.Usage.OutputTokens, now); terr != nil {
		return Result{}, terr
	}

	result := Result{Usage: resp.Usage}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		logging.Warn("Empty LLM response for %s", persona.Name)
		fb := g.fallback(persona)
		fb.Usage = resp.Usage
		return fb, nil
	}

	if persona.WantsJSON {
		obj, ok := extractJSON(text)
		if !ok {
			logging.Warn("Unparseable JSON from LLM for %s", persona.Name)
			fb := g.fallback(persona)
			fb.Usage = resp.Usage
			return fb, nil
		}
		result.JSON = obj
		result.Text = string(obj)
		return result, nil
	}

	result.Text = truncate(text, g.maxContentLen)
	return result, nil
}

func (g *Gateway) fallback(persona Persona) Result {
	switch persona.Name {
	case PersonaEnergy.Name:
		return Result{Text: fallbackEnergyJSON, JSON: json.RawMessage(fallbackEnergyJSON), Degraded: true}
	case PersonaPattern.Name:
		return Result{Text: fallbackPattern, Degraded: true}
	case PersonaWeekly.Name:
		return Result{Text: fallbackWeekly, Degraded: true}
	default:
		return Result{Text: fallbackBrief, Degraded: true}
	}
}

// extractJSON pulls the outermost JSON object from model output, which
// models sometimes wrap in prose or code fences.
func extractJSON(text string) (json.RawMessage, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, false
	}

	candidate := []byte(text[start : end+1])
	if !json.Valid(candidate) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
