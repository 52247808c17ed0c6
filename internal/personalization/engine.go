// Package personalization learns output preferences from user feedback.
package personalization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pulseos/pulseos/internal/config"
	"github.com/pulseos/pulseos/internal/core"
	"github.com/pulseos/pulseos/internal/logging"
	"github.com/pulseos/pulseos/internal/storage"
)

// Preference categories.
const (
	CategoryTone     = "tone"
	CategoryFocus    = "focus"
	CategoryContent  = "content"
	CategorySchedule = "schedule"
)

// PreferenceContext is the rendering guidance derived from learned
// weights. Zero values mean "no learned preference yet".
type PreferenceContext struct {
	Tone          string   `json:"tone"`         // direct, encouraging, or balanced
	DetailLevel   string   `json:"detail_level"` // brief, detailed, or standard
	FocusAreas    []string `json:"focus_areas"`  // metrics the user cares about most
	MorningPerson bool     `json:"morning_person"`
}

// Engine applies feedback to preference weights and builds the
// preference context for prompt construction. Feedback is processed
// synchronously; by the time Apply returns, the next insight sees it.
type Engine struct {
	cfg   config.PersonalizationConfig
	store *storage.PreferenceStore
}

// NewEngine creates a personalization engine.
func NewEngine(cfg config.PersonalizationConfig, store *storage.PreferenceStore) *Engine {
	return &Engine{cfg: cfg, store: store}
}

// Apply records a feedback event and moves every derived preference
// weight. Topics are the metric names the insight was about; the caller
// extracts them from the insight it served.
func (e *Engine) Apply(ctx context.Context, insightID string, typ core.FeedbackType, insightType core.InsightType, topics []string, now time.Time) error {
	ev := core.FeedbackEvent{
		ID:        uuid.New().String(),
		InsightID: insightID,
		Type:      typ,
		CreatedAt: now,
	}
	if err := e.store.InsertFeedback(ctx, ev); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}

	delta := e.delta(typ)
	if err := e.reinforce(ctx, CategoryContent, string(insightType), delta, now); err != nil {
		return err
	}
	for _, topic := range topics {
		if err := e.reinforce(ctx, CategoryFocus, topic, delta, now); err != nil {
			return err
		}
	}

	logging.Debug("Applied %s feedback to %d preference weights", typ, 1+len(topics))
	return nil
}

// delta maps a feedback type to its signed weight adjustment.
func (e *Engine) delta(typ core.FeedbackType) float64 {
	switch typ {
	case core.FeedbackHelpful:
		return e.cfg.HelpfulIncrement
	case core.FeedbackActedOn:
		return e.cfg.ActedOnIncrement
	case core.FeedbackNotHelpful:
		return -e.cfg.NotHelpfulPenalty
	case core.FeedbackDismissed:
		return -e.cfg.DismissedPenalty
	default:
		return 0
	}
}

// reinforce decays the stored weight to the present, applies the delta,
// and persists. Weights stay within [-1, 1].
func (e *Engine) reinforce(ctx context.Context, category, key string, delta float64, now time.Time) error {
	w, err := e.store.Get(ctx, category, key)
	if err != nil {
		if !errors.Is(err, core.ErrRecordNotFound) {
			return err
		}
		w = core.PreferenceWeight{Category: category, Key: key, LastReinforced: now}
	}

	w.Weight = clampWeight(Decay(w.Weight, now.Sub(w.LastReinforced), e.cfg.DecayHalfLife) + delta)
	w.EvidenceCount++
	w.LastReinforced = now
	return e.store.Upsert(ctx, w)
}

// SetPreference directly sets a declared preference, such as tone or
// morning-person, at full evidence. Declared preferences still decay,
// so a stale declaration eventually yields to observed feedback.
func (e *Engine) SetPreference(ctx context.Context, category, key, value string, weight float64, now time.Time) error {
	return e.store.Upsert(ctx, core.PreferenceWeight{
		Category:       category,
		Key:            key,
		Value:          value,
		Weight:         clampWeight(weight),
		EvidenceCount:  1,
		LastReinforced: now,
	})
}

// Decay pulls a weight toward zero with true half-life semantics: after
// one half-life of silence, half the weight remains.
func Decay(weight float64, elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 || halfLife <= 0 {
		return weight
	}
	return weight * math.Exp(-math.Ln2*elapsed.Seconds()/halfLife.Seconds())
}

// Effective is the decayed weight as of now.
func (e *Engine) Effective(w core.PreferenceWeight, now time.Time) float64 {
	return Decay(w.Weight, now.Sub(w.LastReinforced), e.cfg.DecayHalfLife)
}

// Context builds the preference context from all stored weights.
func (e *Engine) Context(ctx context.Context, now time.Time) (PreferenceContext, error) {
	weights, err := e.store.All(ctx)
	if err != nil {
		return PreferenceContext{}, fmt.Errorf("load preferences: %w", err)
	}

	pc := PreferenceContext{Tone: "balanced", DetailLevel: "standard"}

	type scored struct {
		key    string
		weight float64
	}
	var focus []scored
	bestTone := 0.0
	for _, w := range weights {
		eff := e.Effective(w, now)
		switch w.Category {
		case CategoryTone:
			if eff > 0.2 && eff > bestTone {
				pc.Tone = w.Key
				bestTone = eff
			}
		case CategoryFocus:
			if eff > 0 {
				focus = append(focus, scored{w.Key, eff})
			}
		case CategoryContent:
			if w.Key == "detail" {
				if eff > 0.2 {
					pc.DetailLevel = "detailed"
				} else if eff < -0.2 {
					pc.DetailLevel = "brief"
				}
			}
		case CategorySchedule:
			if w.Key == "morning_person" && eff > 0.2 {
				pc.MorningPerson = true
			}
		}
	}

	sort.Slice(focus, func(i, j int) bool {
		if focus[i].weight != focus[j].weight {
			return focus[i].weight > focus[j].weight
		}
		return focus[i].key < focus[j].key
	})
	for i, f := range focus {
		if i >= e.cfg.FocusAreaCount {
			break
		}
		pc.FocusAreas = append(pc.FocusAreas, f.key)
	}

	return pc, nil
}

func clampWeight(w float64) float64 {
	if w > 1 {
		return 1
	}
	if w < -1 {
		return -1
	}
	return w
}
