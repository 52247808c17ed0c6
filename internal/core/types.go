// Package core defines the fundamental types for PulseOS.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// METRICS - Daily time-series health data
// -----------------------------------------------------------------------------

// MetricType identifies a tracked metric.
type MetricType string

const (
	MetricSleepDuration   MetricType = "sleep_duration" // hours
	MetricDeepSleep       MetricType = "deep_sleep"     // hours
	MetricRemSleep        MetricType = "rem_sleep"      // hours
	MetricSleepScore      MetricType = "sleep_score"    // 0-100
	MetricSleepEfficiency MetricType = "sleep_efficiency"
	MetricReadiness       MetricType = "readiness" // 0-100
	MetricActivity        MetricType = "activity"  // 0-100
	MetricEnergy          MetricType = "energy"    // 1-10, self-reported
	MetricMood            MetricType = "mood"      // 1-10, self-reported
	MetricMeetingHours    MetricType = "meeting_hours"
)

// Unit returns the display unit for a metric type.
func (m MetricType) Unit() string {
	switch m {
	case MetricSleepDuration, MetricDeepSleep, MetricRemSleep, MetricMeetingHours:
		return "h"
	case MetricSleepScore, MetricReadiness, MetricActivity:
		return "/100"
	case MetricEnergy, MetricMood:
		return "/10"
	default:
		return ""
	}
}

// MetricPoint is one dated observation of a metric.
type MetricPoint struct {
	Date  Date    `json:"date"`
	Value float64 `json:"value"`
}

// MetricSeries is an ordered sequence of dated values for one metric.
// Dates are unique and ascending; missing days are simply absent.
type MetricSeries struct {
	Metric MetricType    `json:"metric"`
	Points []MetricPoint `json:"points"`
}

// Len returns the number of observations.
func (s MetricSeries) Len() int { return len(s.Points) }

// Values returns the raw values in date order.
func (s MetricSeries) Values() []float64 {
	vals := make([]float64, len(s.Points))
	for i, p := range s.Points {
		vals[i] = p.Value
	}
	return vals
}

// ValueOn returns the value for a date, if present.
func (s MetricSeries) ValueOn(d Date) (float64, bool) {
	for _, p := range s.Points {
		if p.Date == d {
			return p.Value, true
		}
	}
	return 0, false
}

// Date is a calendar day in ISO form (YYYY-MM-DD), timezone-free.
type Date string

// DateOf converts a time to its Date in that time's location.
func DateOf(t time.Time) Date {
	return Date(t.Format("2006-01-02"))
}

// Time parses the date at midnight UTC. Invalid dates return the zero time.
func (d Date) Time() time.Time {
	t, _ := time.Parse("2006-01-02", string(d))
	return t
}

// Weekday returns the day of week for the date.
func (d Date) Weekday() time.Weekday {
	return d.Time().Weekday()
}

// AddDays returns the date shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Valid reports whether the date parses as YYYY-MM-DD.
func (d Date) Valid() bool {
	_, err := time.Parse("2006-01-02", string(d))
	return err == nil
}

// -----------------------------------------------------------------------------
// PATTERNS - Statistically detected relationships
// -----------------------------------------------------------------------------

// PatternType categorizes detected patterns.
type PatternType string

const (
	PatternCorrelation   PatternType = "correlation"
	PatternTrend         PatternType = "trend"
	PatternWeekday       PatternType = "weekday"
	PatternSlidingWindow PatternType = "sliding_window"
)

// Pattern is a statistically detected relationship between metrics.
// At most one active pattern exists per (variable set, type); rediscovery
// with materially different parameters replaces the active record.
type Pattern struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Type         PatternType `json:"pattern_type"`
	Variables    []string    `json:"variables"` // one or an ordered pair
	Strength     float64     `json:"strength"`  // -1 to 1
	Confidence   float64     `json:"confidence"` // 0 to 1
	SampleSize   int         `json:"sample_size"`
	Actionable   bool        `json:"actionable"`
	Active       bool        `json:"active"`
	MissedRuns   int         `json:"missed_runs"` // consecutive detection runs without rediscovery
	DiscoveredAt time.Time   `json:"discovered_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Key identifies the (unordered variable set, type) slot a pattern occupies.
func (p Pattern) Key() string {
	vars := p.Variables
	if len(vars) == 2 && vars[0] > vars[1] {
		vars = []string{vars[1], vars[0]}
	}
	key := string(p.Type)
	for _, v := range vars {
		key += "|" + v
	}
	return key
}

// Score is the tie-break metric between candidate patterns for the same slot.
func (p Pattern) Score() float64 {
	s := p.Strength
	if s < 0 {
		s = -s
	}
	return s * p.Confidence
}

// -----------------------------------------------------------------------------
// INSIGHTS - Generated natural-language output
// -----------------------------------------------------------------------------

// InsightType identifies what kind of insight was generated.
type InsightType string

const (
	InsightDailyBrief       InsightType = "daily_brief"
	InsightWeeklyReview     InsightType = "weekly_review"
	InsightEnergyPrediction InsightType = "energy_prediction"
)

// Insight is a persisted piece of generated output for a specific date.
// Unique per (type, date); force regeneration supersedes the prior record.
type Insight struct {
	ID          string      `json:"id"`
	Type        InsightType `json:"type"`
	Date        Date        `json:"date"`
	Content     string      `json:"content"`
	Context     string      `json:"context"` // JSON snapshot of the exact inputs used
	Confidence  float64     `json:"confidence"`
	ActedOn     bool        `json:"acted_on"`
	Degraded    bool        `json:"degraded"` // true when content is a fallback payload
	GeneratedAt time.Time   `json:"generated_at"`
}

// -----------------------------------------------------------------------------
// PERSONALIZATION - Decaying preference weights and feedback
// -----------------------------------------------------------------------------

// PreferenceWeight is one learned preference. Weight is pulled toward zero
// by time decay; evidence count only grows.
type PreferenceWeight struct {
	Category       string    `json:"category"` // tone, focus, content, schedule
	Key            string    `json:"key"`
	Value          string    `json:"value"`
	Weight         float64   `json:"weight"`
	EvidenceCount  int       `json:"evidence_count"`
	LastReinforced time.Time `json:"last_reinforced"`
}

// FeedbackType classifies user reactions to an insight.
type FeedbackType string

const (
	FeedbackHelpful    FeedbackType = "helpful"
	FeedbackNotHelpful FeedbackType = "not_helpful"
	FeedbackActedOn    FeedbackType = "acted_on"
	FeedbackDismissed  FeedbackType = "dismissed"
)

// Positive reports whether the feedback reinforces current behavior.
func (f FeedbackType) Positive() bool {
	return f == FeedbackHelpful || f == FeedbackActedOn
}

// FeedbackEvent records a user reaction. Immutable once created.
type FeedbackEvent struct {
	ID        string       `json:"id"`
	InsightID string       `json:"insight_id"`
	Type      FeedbackType `json:"feedback_type"`
	CreatedAt time.Time    `json:"created_at"`
}

// -----------------------------------------------------------------------------
// COST ACCOUNTING - Append-only token usage ledger
// -----------------------------------------------------------------------------

// TokenUsageRecord is one row of the append-only usage ledger.
type TokenUsageRecord struct {
	ID           string    `json:"id"`
	Feature      string    `json:"feature"` // daily_brief, weekly_review, ...
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Timestamp    time.Time `json:"timestamp"`
}

// TotalTokens is the billed token count for the call.
func (r TokenUsageRecord) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// -----------------------------------------------------------------------------
// CALENDAR - Opaque density signal from the calendar collaborator
// -----------------------------------------------------------------------------

// CalendarDensity is all this system knows about a day's schedule.
type CalendarDensity struct {
	Date         Date    `json:"date"`
	MeetingCount int     `json:"meeting_count"`
	MeetingHours float64 `json:"meeting_hours"`
}
