// Package insight builds prompt contexts and orchestrates insight
// generation.
package insight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pulseos/pulseos/internal/core"
	"github.com/pulseos/pulseos/internal/personalization"
	"github.com/pulseos/pulseos/internal/predictor"
)

// The model never sees a raw series. Everything below is precomputed,
// typed, and rendered to short labeled lines.

// Delta compares today's value against the rolling average.
type Delta struct {
	Metric  string  `json:"metric"`
	Today   float64 `json:"today"`
	Average float64 `json:"average"`
	Delta   float64 `json:"delta"` // signed, today - average
	Unit    string  `json:"unit"`
}

// PatternSummary is the prompt-facing view of an active pattern.
type PatternSummary struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Strength    float64 `json:"strength"`
	Confidence  float64 `json:"confidence"`
	SampleSize  int     `json:"sample_size"`
	Actionable  bool    `json:"actionable"`
}

// BriefContext is everything a daily brief prompt may reference.
type BriefContext struct {
	Date        core.Date                          `json:"date"`
	Weekday     string                             `json:"weekday"`
	Deltas      []Delta                            `json:"deltas"`
	Calendar    *core.CalendarDensity              `json:"calendar,omitempty"`
	Patterns    []PatternSummary                   `json:"patterns"`
	Preferences personalization.PreferenceContext  `json:"preferences"`
	Topics      []string                           `json:"topics"`
}

// WeekMetricSummary compares one metric week-over-week.
type WeekMetricSummary struct {
	Metric      string  `json:"metric"`
	ThisWeek    float64 `json:"this_week"`
	PriorWeek   float64 `json:"prior_week"`
	Delta       float64 `json:"delta"`
	Unit        string  `json:"unit"`
	DaysTracked int     `json:"days_tracked"`
}

// WeeklyContext is the typed input for a weekly review.
type WeeklyContext struct {
	WeekEnding  core.Date                         `json:"week_ending"`
	Summaries   []WeekMetricSummary               `json:"summaries"`
	Patterns    []PatternSummary                  `json:"patterns"`
	Preferences personalization.PreferenceContext `json:"preferences"`
	Topics      []string                          `json:"topics"`
}

// RegressionEstimate is the trained model's contribution to an energy
// prediction context, present only when the sample floor is met.
type RegressionEstimate struct {
	Energy     float64 `json:"energy"`
	Confidence float64 `json:"confidence"`
}

// EnergyContext is the typed input for an energy prediction.
type EnergyContext struct {
	Date        core.Date                         `json:"date"`
	Weekday     string                            `json:"weekday"`
	Deltas      []Delta                           `json:"deltas"` // from the prior day
	Calendar    *core.CalendarDensity             `json:"calendar,omitempty"`
	Regression  *RegressionEstimate               `json:"regression,omitempty"`
	Patterns    []PatternSummary                  `json:"patterns"`
	Preferences personalization.PreferenceContext `json:"preferences"`
	Topics      []string                          `json:"topics"`
}

// Metrics relevant to each insight type, used to filter patterns.
var briefMetrics = map[string]bool{
	string(core.MetricSleepDuration):   true,
	string(core.MetricDeepSleep):       true,
	string(core.MetricRemSleep):        true,
	string(core.MetricSleepScore):      true,
	string(core.MetricSleepEfficiency): true,
	string(core.MetricReadiness):       true,
	string(core.MetricEnergy):          true,
}

// BuildBriefContext assembles the daily brief context. Pure: same inputs,
// same output.
func BuildBriefContext(date core.Date, series map[string]core.MetricSeries,
	patterns []core.Pattern, density *core.CalendarDensity,
	prefs personalization.PreferenceContext) BriefContext {

	deltas := computeDeltas(series, date)
	return BriefContext{
		Date:        date,
		Weekday:     date.Weekday().String(),
		Deltas:      deltas,
		Calendar:    density,
		Patterns:    filterPatterns(patterns, briefMetrics),
		Preferences: prefs,
		Topics:      topicsFromDeltas(deltas),
	}
}

// BuildWeeklyContext assembles the week-over-week review context for the
// 7 days ending at weekEnding, compared against the 7 days before them.
func BuildWeeklyContext(weekEnding core.Date, series map[string]core.MetricSeries,
	patterns []core.Pattern, prefs personalization.PreferenceContext) WeeklyContext {

	weekStart := weekEnding.AddDays(-6)
	priorStart := weekEnding.AddDays(-13)

	var summaries []WeekMetricSummary
	var topics []string
	for _, name := range sortedSeriesKeys(series) {
		s := series[name]
		thisWeek, thisDays := windowMean(s, weekStart, weekEnding)
		priorWeek, priorDays := windowMean(s, priorStart, weekStart.AddDays(-1))
		if thisDays == 0 {
			continue
		}

		sum := WeekMetricSummary{
			Metric:      name,
			ThisWeek:    thisWeek,
			Unit:        core.MetricType(name).Unit(),
			DaysTracked: thisDays,
		}
		if priorDays > 0 {
			sum.PriorWeek = priorWeek
			sum.Delta = thisWeek - priorWeek
		}
		summaries = append(summaries, sum)
		topics = append(topics, name)
	}

	return WeeklyContext{
		WeekEnding:  weekEnding,
		Summaries:   summaries,
		Patterns:    filterPatterns(patterns, nil),
		Preferences: prefs,
		Topics:      topics,
	}
}

// BuildEnergyContext assembles the prediction context for target from
// the prior day's metrics and the regression estimate, if any.
func BuildEnergyContext(target core.Date, series map[string]core.MetricSeries,
	patterns []core.Pattern, density *core.CalendarDensity,
	pred predictor.Prediction, prefs personalization.PreferenceContext) EnergyContext {

	deltas := computeDeltas(series, target.AddDays(-1))
	ec := EnergyContext{
		Date:        target,
		Weekday:     target.Weekday().String(),
		Deltas:      deltas,
		Calendar:    density,
		Patterns:    filterPatterns(patterns, map[string]bool{string(core.MetricEnergy): true}),
		Preferences: prefs,
		Topics:      []string{string(core.MetricEnergy)},
	}
	if !pred.InsufficientData {
		ec.Regression = &RegressionEstimate{Energy: pred.Energy, Confidence: pred.Confidence}
	}
	return ec
}

// Prompt renders the brief context into labeled prompt lines.
func (c BriefContext) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s (%s)\n", c.Date, c.Weekday)
	writeDeltas(&b, "Today vs your recent average:", c.Deltas)
	writeCalendar(&b, c.Calendar)
	writePatterns(&b, c.Patterns)
	writePreferences(&b, c.Preferences)
	return b.String()
}

// Prompt renders the weekly context.
func (c WeeklyContext) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Week ending %s.\n", c.WeekEnding)
	if len(c.Summaries) > 0 {
		b.WriteString("Week-over-week:\n")
		for _, s := range c.Summaries {
			if s.PriorWeek != 0 || s.Delta != 0 {
				fmt.Fprintf(&b, "- %s: %.1f%s avg (%+.1f vs prior week, %d days tracked)\n",
					label(s.Metric), s.ThisWeek, s.Unit, s.Delta, s.DaysTracked)
			} else {
				fmt.Fprintf(&b, "- %s: %.1f%s avg (%d days tracked, no prior week)\n",
					label(s.Metric), s.ThisWeek, s.Unit, s.DaysTracked)
			}
		}
	}
	writePatterns(&b, c.Patterns)
	writePreferences(&b, c.Preferences)
	return b.String()
}

// Prompt renders the energy context.
func (c EnergyContext) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Predicting energy for %s (%s).\n", c.Date, c.Weekday)
	writeDeltas(&b, "Yesterday vs recent average:", c.Deltas)
	writeCalendar(&b, c.Calendar)
	if c.Regression != nil {
		fmt.Fprintf(&b, "Regression estimate: %.1f/10 (confidence %.2f). Ground your overall score in it.\n",
			c.Regression.Energy, c.Regression.Confidence)
	} else {
		b.WriteString("No regression estimate: too little labeled history.\n")
	}
	writePatterns(&b, c.Patterns)
	writePreferences(&b, c.Preferences)
	return b.String()
}

func computeDeltas(series map[string]core.MetricSeries, day core.Date) []Delta {
	var deltas []Delta
	for _, name := range sortedSeriesKeys(series) {
		s := series[name]
		today, ok := s.ValueOn(day)
		if !ok {
			continue
		}

		var sum float64
		var n int
		for _, p := range s.Points {
			if p.Date != day {
				sum += p.Value
				n++
			}
		}
		if n == 0 {
			continue
		}
		avg := sum / float64(n)
		deltas = append(deltas, Delta{
			Metric:  name,
			Today:   today,
			Average: avg,
			Delta:   today - avg,
			Unit:    core.MetricType(name).Unit(),
		})
	}
	return deltas
}

func filterPatterns(patterns []core.Pattern, relevant map[string]bool) []PatternSummary {
	var out []PatternSummary
	for _, p := range patterns {
		if !p.Active {
			continue
		}
		if relevant != nil && !touchesAny(p, relevant) {
			continue
		}
		out = append(out, PatternSummary{
			Name:        p.Name,
			Description: p.Description,
			Strength:    p.Strength,
			Confidence:  p.Confidence,
			SampleSize:  p.SampleSize,
			Actionable:  p.Actionable,
		})
	}
	return out
}

func touchesAny(p core.Pattern, metrics map[string]bool) bool {
	for _, v := range p.Variables {
		if metrics[v] {
			return true
		}
	}
	return false
}

func topicsFromDeltas(deltas []Delta) []string {
	topics := make([]string, 0, len(deltas))
	for _, d := range deltas {
		topics = append(topics, d.Metric)
	}
	return topics
}

func windowMean(s core.MetricSeries, from, to core.Date) (float64, int) {
	var sum float64
	var n int
	for _, p := range s.Points {
		if p.Date >= from && p.Date <= to {
			sum += p.Value
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

func writeDeltas(b *strings.Builder, header string, deltas []Delta) {
	if len(deltas) == 0 {
		b.WriteString("No metrics recorded for this day.\n")
		return
	}
	b.WriteString(header + "\n")
	for _, d := range deltas {
		fmt.Fprintf(b, "- %s: %.1f%s (%+.1f vs %.1f avg)\n",
			label(d.Metric), d.Today, d.Unit, d.Delta, d.Average)
	}
}

func writeCalendar(b *strings.Builder, cal *core.CalendarDensity) {
	if cal == nil {
		return
	}
	fmt.Fprintf(b, "Schedule: %d meetings, %.1fh total.\n", cal.MeetingCount, cal.MeetingHours)
}

func writePatterns(b *strings.Builder, patterns []PatternSummary) {
	if len(patterns) == 0 {
		return
	}
	b.WriteString("Detected patterns:\n")
	for _, p := range patterns {
		fmt.Fprintf(b, "- %s (strength %.2f, confidence %.2f, n=%d)\n",
			p.Description, p.Strength, p.Confidence, p.SampleSize)
	}
}

func writePreferences(b *strings.Builder, prefs personalization.PreferenceContext) {
	fmt.Fprintf(b, "Style: %s tone, %s detail.", prefs.Tone, prefs.DetailLevel)
	if len(prefs.FocusAreas) > 0 {
		fmt.Fprintf(b, " Focus areas: %s.", strings.Join(prefsLabels(prefs.FocusAreas), ", "))
	}
	if prefs.MorningPerson {
		b.WriteString(" The user does their best work in the morning.")
	}
	b.WriteString("\n")
}

func prefsLabels(metrics []string) []string {
	out := make([]string, len(metrics))
	for i, m := range metrics {
		out[i] = label(m)
	}
	return out
}

func sortedSeriesKeys(series map[string]core.MetricSeries) []string {
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
