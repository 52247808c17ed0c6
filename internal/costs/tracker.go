// Package costs accounts for LLM token spend in an append-only ledger.
package costs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pulseos/pulseos/internal/config"
	"github.com/pulseos/pulseos/internal/core"
	"github.com/pulseos/pulseos/internal/logging"
	"github.com/pulseos/pulseos/internal/storage"
)

// Tracker prices API calls and appends them to the usage ledger. Every
// call is recorded exactly once, including failures (as zero-token rows),
// so call counts stay honest.
type Tracker struct {
	pricing map[string]config.ModelPricing
	store   *storage.UsageStore
}

// New creates a cost tracker. The pricing table must contain a "default"
// entry for unknown models; config validation guarantees it.
func New(pricing map[string]config.ModelPricing, store *storage.UsageStore) *Tracker {
	return &Tracker{pricing: pricing, store: store}
}

// Price returns the USD cost for a call. Model names match the pricing
// table by longest substring; unknown models fall back to "default".
func (t *Tracker) Price(model string, inputTokens, outputTokens int) float64 {
	p := t.lookup(model)
	return float64(inputTokens)/1e6*p.Input + float64(outputTokens)/1e6*p.Output
}

func (t *Tracker) lookup(model string) config.ModelPricing {
	bestLen := 0
	best, ok := t.pricing["default"]
	for key, p := range t.pricing {
		if key == "default" {
			continue
		}
		if strings.Contains(model, key) && len(key) > bestLen {
			best, bestLen, ok = p, len(key), true
		}
	}
	if !ok {
		logging.Warn("No pricing for model %s and no default entry", model)
	}
	return best
}

// Record prices and appends one call to the ledger.
func (t *Tracker) Record(ctx context.Context, feature, model string, inputTokens, outputTokens int, at time.Time) (core.TokenUsageRecord, error) {
	rec := core.TokenUsageRecord{
		ID:           uuid.New().String(),
		Feature:      feature,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      t.Price(model, inputTokens, outputTokens),
		Timestamp:    at,
	}
	if err := t.store.Append(ctx, rec); err != nil {
		return core.TokenUsageRecord{}, fmt.Errorf("record usage: %w", err)
	}
	return rec, nil
}

// RecordFailure appends a zero-token row for a call that returned no
// usable response. Failed calls cost nothing but still count.
func (t *Tracker) RecordFailure(ctx context.Context, feature, model string, at time.Time) error {
	_, err := t.Record(ctx, feature, model, 0, 0, at)
	return err
}

// FeatureSpend is one line of a spend report.
type FeatureSpend struct {
	Feature string             `json:"feature"`
	Totals  storage.UsageTotals `json:"totals"`
}

// Report is an aggregate spend summary over a period.
type Report struct {
	Since     time.Time           `json:"since"`
	Totals    storage.UsageTotals `json:"totals"`
	ByFeature []FeatureSpend      `json:"by_feature"`
	ByDay     map[core.Date]storage.UsageTotals `json:"by_day"`
}

// Summarize builds the spend report since the cutoff, features ordered
// by descending cost.
func (t *Tracker) Summarize(ctx context.Context, since time.Time) (Report, error) {
	totals, err := t.store.Totals(ctx, since)
	if err != nil {
		return Report{}, err
	}
	byFeature, err := t.store.ByFeature(ctx, since)
	if err != nil {
		return Report{}, err
	}
	byDay, err := t.store.ByDay(ctx, since)
	if err != nil {
		return Report{}, err
	}

	features := make([]FeatureSpend, 0, len(byFeature))
	for f, tot := range byFeature {
		features = append(features, FeatureSpend{Feature: f, Totals: tot})
	}
	sort.Slice(features, func(i, j int) bool {
		if features[i].Totals.CostUSD != features[j].Totals.CostUSD {
			return features[i].Totals.CostUSD > features[j].Totals.CostUSD
		}
		return features[i].Feature < features[j].Feature
	})

	return Report{Since: since, Totals: totals, ByFeature: features, ByDay: byDay}, nil
}
