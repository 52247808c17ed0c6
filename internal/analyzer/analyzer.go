package analyzer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pulseos/pulseos/internal/config"
	"github.com/pulseos/pulseos/internal/core"
	"github.com/pulseos/pulseos/internal/logging"
)

// Metrics the user can directly change. Patterns touching at least one
// of these are worth acting on; the rest are informational.
var controllableMetrics = map[string]bool{
	string(core.MetricSleepDuration): true,
	string(core.MetricDeepSleep):     true,
	string(core.MetricRemSleep):      true,
	string(core.MetricActivity):      true,
	string(core.MetricMeetingHours):  true,
}

// Analyzer runs statistical pattern detection over metric series.
// It is stateless; persistence of the results belongs to the caller.
type Analyzer struct {
	cfg config.AnalyzerConfig
}

// New creates an analyzer with the given tuning constants.
func New(cfg config.AnalyzerConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Detect runs every detector over the series map (keyed by metric name)
// and returns candidate patterns, deduplicated so at most one candidate
// survives per pattern slot.
func (a *Analyzer) Detect(series map[string]core.MetricSeries, now time.Time) []core.Pattern {
	var candidates []core.Pattern
	candidates = append(candidates, a.detectCorrelations(series, now)...)
	candidates = append(candidates, a.detectTrends(series, now)...)
	candidates = append(candidates, a.detectWeekdayEffects(series, now)...)
	candidates = append(candidates, a.detectWindowShifts(series, now)...)
	return dedupeBySlot(candidates)
}

// detectCorrelations tests every unordered metric pair on the dates both
// metrics were observed.
func (a *Analyzer) detectCorrelations(series map[string]core.MetricSeries, now time.Time) []core.Pattern {
	names := sortedKeys(series)

	var patterns []core.Pattern
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			x, y := alignSeries(series[names[i]], series[names[j]])
			if len(x) < a.cfg.MinSamples {
				continue
			}

			r, err := pearson(x, y)
			if err != nil {
				// Constant series carry no signal; skip quietly.
				continue
			}
			p := correlationPValue(r, len(x))
			if math.Abs(r) < a.cfg.MinCorrelationStrength || p > a.cfg.SignificanceLevel {
				continue
			}

			direction := "higher"
			if r < 0 {
				direction = "lower"
			}
			patterns = append(patterns, core.Pattern{
				ID:   uuid.New().String(),
				Name: fmt.Sprintf("%s and %s", label(names[i]), label(names[j])),
				Description: fmt.Sprintf("Days with higher %s tend to have %s %s (r=%.2f over %d days)",
					label(names[i]), direction, label(names[j]), r, len(x)),
				Type:         core.PatternCorrelation,
				Variables:    []string{names[i], names[j]},
				Strength:     r,
				Confidence:   1 - p,
				SampleSize:   len(x),
				Actionable:   a.actionable(len(x), names[i], names[j]),
				Active:       true,
				DiscoveredAt: now,
				UpdatedAt:    now,
			})
		}
	}
	return patterns
}

// detectTrends fits each metric against its day index and reports
// significant monotonic drift.
func (a *Analyzer) detectTrends(series map[string]core.MetricSeries, now time.Time) []core.Pattern {
	var patterns []core.Pattern
	for _, name := range sortedKeys(series) {
		s := series[name]
		if s.Len() < a.cfg.MinSamples {
			continue
		}

		days := make([]float64, s.Len())
		for i := range s.Points {
			days[i] = float64(i)
		}
		fit, err := linearFit(days, s.Values())
		if err != nil || fit.PValue > a.cfg.SignificanceLevel {
			continue
		}
		if math.Abs(fit.R) < a.cfg.MinCorrelationStrength {
			continue
		}

		direction := "improving"
		if fit.Slope < 0 {
			direction = "declining"
		}
		patterns = append(patterns, core.Pattern{
			ID:   uuid.New().String(),
			Name: fmt.Sprintf("%s trend", label(name)),
			Description: fmt.Sprintf("Your %s has been %s (%.2f%s per day over %d days)",
				label(name), direction, fit.Slope, core.MetricType(name).Unit(), fit.N),
			Type:         core.PatternTrend,
			Variables:    []string{name},
			Strength:     fit.R,
			Confidence:   1 - fit.PValue,
			SampleSize:   fit.N,
			Actionable:   a.actionable(fit.N, name),
			Active:       true,
			DiscoveredAt: now,
			UpdatedAt:    now,
		})
	}
	return patterns
}

// detectWeekdayEffects compares each weekday's values against all other
// days for each metric.
func (a *Analyzer) detectWeekdayEffects(series map[string]core.MetricSeries, now time.Time) []core.Pattern {
	var patterns []core.Pattern
	for _, name := range sortedKeys(series) {
		s := series[name]
		if s.Len() < a.cfg.MinSamples {
			continue
		}

		byDay := make(map[time.Weekday][]float64)
		for _, p := range s.Points {
			wd := p.Date.Weekday()
			byDay[wd] = append(byDay[wd], p.Value)
		}

		best := core.Pattern{}
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			day := byDay[wd]
			var rest []float64
			for other, vals := range byDay {
				if other != wd {
					rest = append(rest, vals...)
				}
			}
			if len(day) < 2 || len(rest) < 2 {
				continue
			}

			_, p, err := welchT(day, rest)
			if err != nil || p > a.cfg.SignificanceLevel {
				continue
			}

			diff := mean(day) - mean(rest)
			strength := clamp(diff/math.Max(stddev(s.Values()), 1e-9), -1, 1)
			cand := core.Pattern{
				ID:   uuid.New().String(),
				Name: fmt.Sprintf("%s on %ss", label(name), wd),
				Description: fmt.Sprintf("Your %s runs %+.1f%s on %ss compared to other days",
					label(name), diff, core.MetricType(name).Unit(), wd),
				Type:         core.PatternWeekday,
				Variables:    []string{name},
				Strength:     strength,
				Confidence:   1 - p,
				SampleSize:   s.Len(),
				Actionable:   a.actionable(s.Len(), name),
				Active:       true,
				DiscoveredAt: now,
				UpdatedAt:    now,
			}
			if cand.Score() > best.Score() {
				best = cand
			}
		}
		if best.ID != "" {
			patterns = append(patterns, best)
		}
	}
	return patterns
}

// detectWindowShifts compares the most recent short window of each metric
// against the window before it, surfacing regime changes that a full
// lookback correlation would average away.
func (a *Analyzer) detectWindowShifts(series map[string]core.MetricSeries, now time.Time) []core.Pattern {
	w := a.cfg.SlidingWindowDays

	var patterns []core.Pattern
	for _, name := range sortedKeys(series) {
		s := series[name]
		if s.Len() < 2*a.cfg.MinSamples {
			continue
		}

		vals := s.Values()
		split := len(vals) - w
		if split < a.cfg.MinSamples {
			split = len(vals) / 2
		}
		recent := vals[split:]
		prior := vals[:split]
		if len(recent) < a.cfg.MinSamples || len(prior) < a.cfg.MinSamples {
			continue
		}

		_, p, err := welchT(recent, prior)
		if err != nil || p > a.cfg.SignificanceLevel {
			continue
		}

		diff := mean(recent) - mean(prior)
		direction := "up"
		if diff < 0 {
			direction = "down"
		}
		strength := clamp(diff/math.Max(stddev(vals), 1e-9), -1, 1)
		patterns = append(patterns, core.Pattern{
			ID:   uuid.New().String(),
			Name: fmt.Sprintf("%s shift", label(name)),
			Description: fmt.Sprintf("Your %s has moved %s recently: %+.1f%s versus the prior stretch",
				label(name), direction, diff, core.MetricType(name).Unit()),
			Type:         core.PatternSlidingWindow,
			Variables:    []string{name},
			Strength:     strength,
			Confidence:   1 - p,
			SampleSize:   len(recent) + len(prior),
			Actionable:   a.actionable(len(recent)+len(prior), name),
			Active:       true,
			DiscoveredAt: now,
			UpdatedAt:    now,
		})
	}
	return patterns
}

func (a *Analyzer) actionable(n int, vars ...string) bool {
	if n < a.cfg.MinActionableSamples {
		return false
	}
	for _, v := range vars {
		if controllableMetrics[v] {
			return true
		}
	}
	return false
}

// MergeResult is the reconciliation of a detection run against the
// currently active patterns.
type MergeResult struct {
	Save       []core.Pattern // new or updated records to persist
	Deactivate []string       // pattern IDs evicted as stale
}

// Merge reconciles fresh candidates with the active set. Each slot keeps
// at most one active pattern: rediscovery refreshes it, material drift
// rewrites it in place, and a slot missed for StaleRunEviction
// consecutive runs is deactivated.
func (a *Analyzer) Merge(active, candidates []core.Pattern, now time.Time) MergeResult {
	byKey := make(map[string]core.Pattern, len(candidates))
	for _, c := range candidates {
		byKey[c.Key()] = c
	}

	var result MergeResult
	seen := make(map[string]bool, len(active))
	for _, cur := range active {
		key := cur.Key()
		seen[key] = true

		cand, ok := byKey[key]
		if !ok {
			cur.MissedRuns++
			if cur.MissedRuns >= a.cfg.StaleRunEviction {
				result.Deactivate = append(result.Deactivate, cur.ID)
				continue
			}
			cur.UpdatedAt = now
			result.Save = append(result.Save, cur)
			continue
		}

		drifted := math.Abs(cand.Strength-cur.Strength) > a.cfg.StrengthDriftTolerance ||
			cand.Actionable != cur.Actionable
		if drifted {
			// Keep identity and discovery time; the relationship is the
			// same slot, just re-measured.
			cand.ID = cur.ID
			cand.DiscoveredAt = cur.DiscoveredAt
			cand.MissedRuns = 0
			cand.UpdatedAt = now
			result.Save = append(result.Save, cand)
		} else {
			cur.MissedRuns = 0
			cur.UpdatedAt = now
			cur.Confidence = cand.Confidence
			cur.SampleSize = cand.SampleSize
			result.Save = append(result.Save, cur)
		}
	}

	for key, cand := range byKey {
		if !seen[key] {
			result.Save = append(result.Save, cand)
		}
	}

	sort.Slice(result.Save, func(i, j int) bool {
		return result.Save[i].Key() < result.Save[j].Key()
	})

	logging.Debug("Merged patterns: %d saved, %d deactivated",
		len(result.Save), len(result.Deactivate))
	return result
}

// alignSeries returns the paired values on dates present in both series.
func alignSeries(a, b core.MetricSeries) (x, y []float64) {
	for _, p := range a.Points {
		if v, ok := b.ValueOn(p.Date); ok {
			x = append(x, p.Value)
			y = append(y, v)
		}
	}
	return x, y
}

func dedupeBySlot(patterns []core.Pattern) []core.Pattern {
	best := make(map[string]core.Pattern)
	for _, p := range patterns {
		if cur, ok := best[p.Key()]; !ok || p.Score() > cur.Score() {
			best[p.Key()] = p
		}
	}

	out := make([]core.Pattern, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func sortedKeys(series map[string]core.MetricSeries) []string {
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func label(metric string) string {
	return strings.ReplaceAll(metric, "_", " ")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
