package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulseos/pulseos/internal/analyzer"
	"github.com/pulseos/pulseos/internal/calendar"
	"github.com/pulseos/pulseos/internal/config"
	"github.com/pulseos/pulseos/internal/core"
	"github.com/pulseos/pulseos/internal/llm"
	"github.com/pulseos/pulseos/internal/logging"
	"github.com/pulseos/pulseos/internal/personalization"
	"github.com/pulseos/pulseos/internal/predictor"
	"github.com/pulseos/pulseos/internal/storage"
)

// Insight confidence levels by outcome.
const (
	confidenceGenerated = 0.8
	confidenceLLMOnly   = 0.4
	confidenceDegraded  = 0.2
)

// flight is one in-progress generation.
type flight struct {
	done    chan struct{}
	insight core.Insight
	err     error
}

// Flights is the per-key single-flight table. It is explicit state with
// a defined lifetime, constructed once and passed in, so tests can reset
// it by building a fresh one.
type Flights struct {
	mu       sync.Mutex
	inflight map[string]*flight
}

// NewFlights creates an empty lock table.
func NewFlights() *Flights {
	return &Flights{inflight: make(map[string]*flight)}
}

// Service coordinates insight generation: at most one in-flight
// generation per (type, date) key, idempotent reads without force, and
// graceful degradation on every path.
type Service struct {
	cfg       *config.Config
	metrics   *storage.MetricStore
	patterns  *storage.PatternStore
	insights  *storage.InsightStore
	engine    *personalization.Engine
	gateway   *llm.Gateway
	predictor *predictor.Predictor
	analyzer  *analyzer.Analyzer
	calendar  calendar.Provider
	flights   *Flights

	now func() time.Time
}

// NewService wires the orchestrator. The calendar provider may be nil;
// briefs then simply omit the schedule signal.
func NewService(cfg *config.Config, db *storage.DB, engine *personalization.Engine,
	gateway *llm.Gateway, pred *predictor.Predictor, cal calendar.Provider, flights *Flights) *Service {
	return &Service{
		cfg:       cfg,
		metrics:   storage.NewMetricStore(db),
		patterns:  storage.NewPatternStore(db),
		insights:  storage.NewInsightStore(db),
		engine:    engine,
		gateway:   gateway,
		predictor: pred,
		analyzer:  analyzer.New(cfg.Analyzer),
		calendar:  cal,
		flights:   flights,
		now:       time.Now,
	}
}

// GenerateDailyBrief returns the brief for a date, generating it if
// absent. With force, the existing brief is superseded by a fresh one.
func (s *Service) GenerateDailyBrief(ctx context.Context, date core.Date, force bool) (core.Insight, error) {
	if !force {
		if ins, err := s.insights.Get(ctx, core.InsightDailyBrief, date); err == nil {
			return ins, nil
		} else if !errors.Is(err, core.ErrRecordNotFound) {
			return core.Insight{}, err
		}
	}

	return s.singleFlight(ctx, core.InsightDailyBrief, date, force, func(ctx context.Context) (core.Insight, error) {
		// Re-check under the flight: a generation that finished between
		// the caller's read and acquiring the key serves its result.
		if !force {
			if ins, err := s.insights.Get(ctx, core.InsightDailyBrief, date); err == nil {
				return ins, nil
			}
		}

		series, err := s.lookbackSeries(ctx, date)
		if err != nil {
			return core.Insight{}, err
		}
		active, err := s.patterns.Active(ctx)
		if err != nil {
			return core.Insight{}, err
		}
		prefs, err := s.engine.Context(ctx, s.now().UTC())
		if err != nil {
			return core.Insight{}, err
		}

		bctx := BuildBriefContext(date, series, active, s.density(ctx, date), prefs)
		result, err := s.gateway.Generate(ctx, llm.PersonaDailyBrief, bctx.Prompt())
		if err != nil {
			return core.Insight{}, err
		}

		return s.persist(ctx, core.InsightDailyBrief, date, result.Text,
			snapshot(bctx), briefConfidence(result), result.Degraded, force)
	})
}

// GenerateWeeklyReview returns the review for the 7 days ending at
// weekEnding, with the same idempotence rule as briefs.
func (s *Service) GenerateWeeklyReview(ctx context.Context, weekEnding core.Date, force bool) (core.Insight, error) {
	if !force {
		if ins, err := s.insights.Get(ctx, core.InsightWeeklyReview, weekEnding); err == nil {
			return ins, nil
		} else if !errors.Is(err, core.ErrRecordNotFound) {
			return core.Insight{}, err
		}
	}

	return s.singleFlight(ctx, core.InsightWeeklyReview, weekEnding, force, func(ctx context.Context) (core.Insight, error) {
		if !force {
			if ins, err := s.insights.Get(ctx, core.InsightWeeklyReview, weekEnding); err == nil {
				return ins, nil
			}
		}

		// Two weeks of data for the week-over-week comparison.
		series, err := s.metrics.AllSeries(ctx, weekEnding.AddDays(-13), weekEnding)
		if err != nil {
			return core.Insight{}, err
		}
		active, err := s.patterns.Active(ctx)
		if err != nil {
			return core.Insight{}, err
		}
		prefs, err := s.engine.Context(ctx, s.now().UTC())
		if err != nil {
			return core.Insight{}, err
		}

		wctx := BuildWeeklyContext(weekEnding, series, active, prefs)
		result, err := s.gateway.Generate(ctx, llm.PersonaWeekly, wctx.Prompt())
		if err != nil {
			return core.Insight{}, err
		}

		return s.persist(ctx, core.InsightWeeklyReview, weekEnding, result.Text,
			snapshot(wctx), briefConfidence(result), result.Degraded, force)
	})
}

// EnergyPayload is the persisted content of an energy prediction.
type EnergyPayload struct {
	Overall          float64  `json:"overall"`
	Source           string   `json:"source"`
	Confidence       float64  `json:"confidence"`
	InsufficientData bool     `json:"insufficient_data"`
	PeakHours        []string `json:"peak_hours"`
	LowHours         []string `json:"low_hours"`
	Advice           string   `json:"advice"`
}

// PredictEnergy predicts energy for a date. Predictions are advisory and
// always computed fresh; each run supersedes the previous record.
//
// Reconciliation with the regression is a hard switch, never a blend:
// with enough labeled history the regression score leads and the LLM
// contributes hours and advice; below the floor the LLM score leads,
// flagged as built on insufficient data.
func (s *Service) PredictEnergy(ctx context.Context, date core.Date) (core.Insight, error) {
	return s.singleFlight(ctx, core.InsightEnergyPrediction, date, true, func(ctx context.Context) (core.Insight, error) {
		pred, err := s.predictor.Predict(ctx, date)
		if err != nil {
			return core.Insight{}, err
		}
		series, err := s.lookbackSeries(ctx, date.AddDays(-1))
		if err != nil {
			return core.Insight{}, err
		}
		active, err := s.patterns.Active(ctx)
		if err != nil {
			return core.Insight{}, err
		}
		prefs, err := s.engine.Context(ctx, s.now().UTC())
		if err != nil {
			return core.Insight{}, err
		}

		ectx := BuildEnergyContext(date, series, active, s.density(ctx, date), pred, prefs)
		result, err := s.gateway.Generate(ctx, llm.PersonaEnergy, ectx.Prompt())
		if err != nil {
			return core.Insight{}, err
		}

		var llmPart EnergyPayload
		if jerr := json.Unmarshal(result.JSON, &llmPart); jerr != nil {
			// The gateway guarantees valid JSON even when degraded.
			return core.Insight{}, fmt.Errorf("decode energy payload: %w", jerr)
		}

		payload := EnergyPayload{
			PeakHours: llmPart.PeakHours,
			LowHours:  llmPart.LowHours,
			Advice:    llmPart.Advice,
		}
		if payload.PeakHours == nil {
			payload.PeakHours = []string{}
		}
		if payload.LowHours == nil {
			payload.LowHours = []string{}
		}

		if pred.Source == predictor.SourceRegression {
			payload.Overall = pred.Energy
			payload.Source = predictor.SourceRegression
			payload.Confidence = pred.Confidence
		} else {
			payload.Overall = float64(llmPart.Overall)
			payload.Source = predictor.SourceLLM
			payload.InsufficientData = true
			payload.Confidence = confidenceLLMOnly
			if result.Degraded {
				payload.Confidence = confidenceDegraded
			}
		}

		content, err := json.Marshal(payload)
		if err != nil {
			return core.Insight{}, fmt.Errorf("encode energy payload: %w", err)
		}

		ins, err := s.persist(ctx, core.InsightEnergyPrediction, date, string(content),
			snapshot(ectx), payload.Confidence, result.Degraded, true)
		if err != nil {
			return core.Insight{}, err
		}

		if err := s.predictor.Log(ctx, ins.ID, predictor.Prediction{
			Date:             date,
			Energy:           payload.Overall,
			Confidence:       payload.Confidence,
			Source:           payload.Source,
			InsufficientData: payload.InsufficientData,
		}); err != nil {
			logging.Warn("Failed to log prediction: %v", err)
		}
		return ins, nil
	})
}

// DetectPatterns runs detection over the last `days` days, reconciles
// against the active set, and returns the resulting active patterns.
// Meant to run off the request path; generation calls read whatever set
// is current.
func (s *Service) DetectPatterns(ctx context.Context, days int) ([]core.Pattern, error) {
	if days <= 0 {
		days = s.cfg.Analyzer.LookbackDays
	}
	now := s.now().UTC()
	today := core.DateOf(now)

	series, err := s.metrics.AllSeries(ctx, today.AddDays(-days+1), today)
	if err != nil {
		return nil, err
	}
	candidates := s.analyzer.Detect(series, now)

	active, err := s.patterns.Active(ctx)
	if err != nil {
		return nil, err
	}
	merge := s.analyzer.Merge(active, candidates, now)

	for _, p := range merge.Save {
		if err := s.patterns.Save(ctx, p); err != nil {
			return nil, err
		}
	}
	for _, id := range merge.Deactivate {
		if err := s.patterns.Deactivate(ctx, id); err != nil {
			return nil, err
		}
	}

	logging.Info("Pattern detection over %d days: %d candidates, %d active after merge",
		days, len(candidates), len(merge.Save))
	return s.patterns.Active(ctx)
}

// RecordFeedback applies feedback to an insight. The topics the insight
// covered come from its stored context snapshot, so feedback reinforces
// exactly what the user actually saw.
func (s *Service) RecordFeedback(ctx context.Context, insightID string, typ core.FeedbackType) error {
	ins, err := s.insights.GetByID(ctx, insightID)
	if err != nil {
		return err
	}

	var snap struct {
		Topics []string `json:"topics"`
	}
	if jerr := json.Unmarshal([]byte(ins.Context), &snap); jerr != nil {
		logging.Warn("Unreadable context snapshot for insight %s: %v", insightID, jerr)
	}

	if err := s.engine.Apply(ctx, insightID, typ, ins.Type, snap.Topics, s.now().UTC()); err != nil {
		return err
	}
	if typ == core.FeedbackActedOn {
		return s.insights.MarkActedOn(ctx, insightID)
	}
	return nil
}

// Recent lists current insights for dates in [from, to].
func (s *Service) Recent(ctx context.Context, typ core.InsightType, from, to core.Date) ([]core.Insight, error) {
	return s.insights.Recent(ctx, typ, from, to)
}

// Current returns the current insight for (type, date) without
// generating anything.
func (s *Service) Current(ctx context.Context, typ core.InsightType, date core.Date) (core.Insight, error) {
	return s.insights.Get(ctx, typ, date)
}

// EnergyAccuracy scores logged predictions against reported energy.
func (s *Service) EnergyAccuracy(ctx context.Context, from, to core.Date) (map[string]predictor.Accuracy, error) {
	return s.predictor.CompareAccuracy(ctx, from, to)
}

// singleFlight serializes generation per (type, date) key. Concurrent
// callers for the same key await the in-flight result instead of issuing
// a duplicate LLM call. The generation itself runs detached from the
// caller's context; a cancelled caller gets ctx.Err() but the work
// completes and persists for the next reader.
func (s *Service) singleFlight(ctx context.Context, typ core.InsightType, date core.Date,
	force bool, fn func(context.Context) (core.Insight, error)) (core.Insight, error) {

	key := string(typ) + "|" + string(date)

	s.flights.mu.Lock()
	if f, ok := s.flights.inflight[key]; ok {
		s.flights.mu.Unlock()
		select {
		case <-f.done:
			return f.insight, f.err
		case <-ctx.Done():
			return core.Insight{}, ctx.Err()
		}
	}

	f := &flight{done: make(chan struct{})}
	s.flights.inflight[key] = f
	s.flights.mu.Unlock()

	go func() {
		defer func() {
			s.flights.mu.Lock()
			delete(s.flights.inflight, key)
			s.flights.mu.Unlock()
			close(f.done)
		}()

		ins, err := fn(context.WithoutCancel(ctx))
		if err != nil && !force {
			// A racing writer may have persisted between our existence
			// check and the insert; serve their record.
			if existing, gerr := s.insights.Get(context.WithoutCancel(ctx), typ, date); gerr == nil {
				f.insight = existing
				return
			}
		}
		f.insight, f.err = ins, err
	}()

	select {
	case <-f.done:
		return f.insight, f.err
	case <-ctx.Done():
		return core.Insight{}, ctx.Err()
	}
}

func (s *Service) persist(ctx context.Context, typ core.InsightType, date core.Date,
	content, contextJSON string, confidence float64, degraded, supersede bool) (core.Insight, error) {

	ins := core.Insight{
		ID:          uuid.New().String(),
		Type:        typ,
		Date:        date,
		Content:     content,
		Context:     contextJSON,
		Confidence:  confidence,
		Degraded:    degraded,
		GeneratedAt: s.now().UTC(),
	}
	if err := s.insights.Put(ctx, ins, supersede); err != nil {
		return core.Insight{}, err
	}
	return ins, nil
}

func (s *Service) lookbackSeries(ctx context.Context, date core.Date) (map[string]core.MetricSeries, error) {
	return s.metrics.AllSeries(ctx, date.AddDays(-s.cfg.Analyzer.LookbackDays+1), date)
}

// density fetches the calendar signal, degrading to none on any failure.
func (s *Service) density(ctx context.Context, date core.Date) *core.CalendarDensity {
	if s.calendar == nil {
		return nil
	}
	d, err := s.calendar.Density(ctx, date)
	if err != nil {
		logging.Warn("Calendar density unavailable for %s: %v", date, err)
		return nil
	}
	return &d
}

func briefConfidence(result llm.Result) float64 {
	if result.Degraded {
		return confidenceDegraded
	}
	return confidenceGenerated
}

func snapshot(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
