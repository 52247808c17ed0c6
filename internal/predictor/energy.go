// Package predictor estimates next-day energy with a linear regression
// over daily metrics, deferring to LLM judgment until enough labeled
// days exist.
package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pulseos/pulseos/internal/config"
	"github.com/pulseos/pulseos/internal/core"
	"github.com/pulseos/pulseos/internal/logging"
	"github.com/pulseos/pulseos/internal/storage"
)

// Feature order is fixed; persisted models depend on it.
var featureNames = []string{
	"sleep_duration",
	"deep_sleep",
	"readiness",
	"day_of_week",
	"prev_day_energy",
	"meeting_hours",
}

// Prediction sources.
const (
	SourceRegression = "regression"
	SourceLLM        = "llm"
)

// Model is a trained linear fit in standardized feature space.
type Model struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Means        []float64 `json:"means"`
	Stds         []float64 `json:"stds"`
	RSquared     float64   `json:"r_squared"`
	SampleCount  int       `json:"sample_count"`
}

// Prediction is one energy estimate for a date.
type Prediction struct {
	Date             core.Date `json:"date"`
	Energy           float64   `json:"energy"` // clamped to 1..10
	Confidence       float64   `json:"confidence"`
	Source           string    `json:"source"`
	InsufficientData bool      `json:"insufficient_data"` // regression unavailable, LLM leads
}

// Predictor trains and applies the energy regression.
type Predictor struct {
	cfg     config.PredictorConfig
	metrics *storage.MetricStore
	store   *storage.PredictorStore
}

// New creates a predictor.
func New(cfg config.PredictorConfig, metrics *storage.MetricStore, store *storage.PredictorStore) *Predictor {
	return &Predictor{cfg: cfg, metrics: metrics, store: store}
}

// Train fits the regression on every labeled day in [from, to] and
// persists the model. Returns ErrInsufficientData below the sample floor.
func (p *Predictor) Train(ctx context.Context, from, to core.Date) (Model, error) {
	rows, labels, err := p.trainingData(ctx, from, to)
	if err != nil {
		return Model{}, err
	}
	if len(rows) < p.cfg.MinRegressionSamples {
		return Model{}, fmt.Errorf("%w: %d labeled days, need %d",
			core.ErrInsufficientData, len(rows), p.cfg.MinRegressionSamples)
	}

	model, err := fit(rows, labels)
	if err != nil {
		return Model{}, err
	}

	params, err := json.Marshal(model)
	if err != nil {
		return Model{}, fmt.Errorf("encode model: %w", err)
	}
	err = p.store.SaveModel(ctx, storage.ModelRecord{
		Params:      string(params),
		SampleCount: model.SampleCount,
		RSquared:    model.RSquared,
		TrainedAt:   time.Now().UTC(),
	})
	if err != nil {
		return Model{}, err
	}

	logging.Info("Trained energy model on %d days, r²=%.2f", model.SampleCount, model.RSquared)
	return model, nil
}

// Predict estimates energy for the target date using the metrics of the
// day before it. Without a usable model it returns an insufficient-data
// prediction so the caller can lean on the LLM instead.
func (p *Predictor) Predict(ctx context.Context, target core.Date) (Prediction, error) {
	insufficient := Prediction{
		Date:             target,
		Energy:           5,
		Confidence:       0,
		Source:           SourceLLM,
		InsufficientData: true,
	}

	rec, err := p.store.Model(ctx)
	if err != nil {
		if errors.Is(err, core.ErrRecordNotFound) {
			return insufficient, nil
		}
		return Prediction{}, err
	}

	var model Model
	if err := json.Unmarshal([]byte(rec.Params), &model); err != nil {
		return Prediction{}, fmt.Errorf("decode model: %w", err)
	}

	features, ok, err := p.featureRow(ctx, target.AddDays(-1), target)
	if err != nil {
		return Prediction{}, err
	}
	if !ok {
		// Yesterday's metrics haven't landed yet.
		return insufficient, nil
	}

	return Prediction{
		Date:       target,
		Energy:     clampEnergy(model.apply(features)),
		Confidence: model.RSquared*0.8 + 0.2,
		Source:     SourceRegression,
	}, nil
}

// Log records a served prediction for later accuracy comparison.
func (p *Predictor) Log(ctx context.Context, id string, pred Prediction) error {
	return p.store.LogPrediction(ctx, storage.PredictionRecord{
		ID:         id,
		Date:       pred.Date,
		Source:     pred.Source,
		Predicted:  pred.Energy,
		Confidence: pred.Confidence,
		CreatedAt:  time.Now().UTC(),
	})
}

// Accuracy measures a prediction source against reported energy.
type Accuracy struct {
	Samples     int     `json:"samples"`
	MAE         float64 `json:"mae"`
	RMSE        float64 `json:"rmse"`
	Correlation float64 `json:"correlation"`
}

// CompareAccuracy joins logged predictions with actual energy reports and
// scores each source, so the regression's takeover at the sample floor is
// observable rather than assumed.
func (p *Predictor) CompareAccuracy(ctx context.Context, from, to core.Date) (map[string]Accuracy, error) {
	preds, err := p.store.Predictions(ctx, from, to)
	if err != nil {
		return nil, err
	}
	actual, err := p.metrics.Series(ctx, core.MetricEnergy, from, to)
	if err != nil {
		return nil, err
	}

	type pair struct{ predicted, actual float64 }
	bySource := make(map[string][]pair)
	for _, pr := range preds {
		if v, ok := actual.ValueOn(pr.Date); ok {
			bySource[pr.Source] = append(bySource[pr.Source], pair{pr.Predicted, v})
		}
	}

	result := make(map[string]Accuracy, len(bySource))
	for source, pairs := range bySource {
		var absSum, sqSum float64
		xs := make([]float64, len(pairs))
		ys := make([]float64, len(pairs))
		for i, pr := range pairs {
			d := pr.predicted - pr.actual
			absSum += math.Abs(d)
			sqSum += d * d
			xs[i] = pr.predicted
			ys[i] = pr.actual
		}

		n := float64(len(pairs))
		acc := Accuracy{
			Samples: len(pairs),
			MAE:     absSum / n,
			RMSE:    math.Sqrt(sqSum / n),
		}
		if r, ok := correlation(xs, ys); ok {
			acc.Correlation = r
		}
		result[source] = acc
	}
	return result, nil
}

// trainingData builds one row per day d where energy was reported on
// both d and d-1. Sleep and readiness are required; deep sleep and
// meeting hours default to zero when untracked.
func (p *Predictor) trainingData(ctx context.Context, from, to core.Date) ([][]float64, []float64, error) {
	all, err := p.metrics.AllSeries(ctx, from.AddDays(-1), to)
	if err != nil {
		return nil, nil, err
	}

	energy := all[string(core.MetricEnergy)]
	var rows [][]float64
	var labels []float64
	for _, pt := range energy.Points {
		if pt.Date == from.AddDays(-1) {
			continue // label range starts at from
		}
		row, ok := featureRowFrom(all, pt.Date.AddDays(-1), pt.Date)
		if !ok {
			continue
		}
		rows = append(rows, row)
		labels = append(labels, pt.Value)
	}
	return rows, labels, nil
}

func (p *Predictor) featureRow(ctx context.Context, metricDate, target core.Date) ([]float64, bool, error) {
	all, err := p.metrics.AllSeries(ctx, metricDate, metricDate)
	if err != nil {
		return nil, false, err
	}
	row, ok := featureRowFrom(all, metricDate, target)
	return row, ok, nil
}

// featureRowFrom assembles the feature vector for predicting energy on
// target from the metrics of metricDate.
func featureRowFrom(all map[string]core.MetricSeries, metricDate, target core.Date) ([]float64, bool) {
	sleep, okSleep := all[string(core.MetricSleepDuration)].ValueOn(metricDate)
	readiness, okReady := all[string(core.MetricReadiness)].ValueOn(metricDate)
	prevEnergy, okEnergy := all[string(core.MetricEnergy)].ValueOn(metricDate)
	if !okSleep || !okReady || !okEnergy {
		return nil, false
	}

	deep, _ := all[string(core.MetricDeepSleep)].ValueOn(metricDate)
	meetings, _ := all[string(core.MetricMeetingHours)].ValueOn(metricDate)

	return []float64{
		sleep,
		deep,
		readiness,
		float64(target.Weekday()),
		prevEnergy,
		meetings,
	}, true
}

// fit solves the standardized normal equations. A small ridge term keeps
// the system solvable when a feature barely varies.
func fit(rows [][]float64, labels []float64) (Model, error) {
	n := len(rows)
	k := len(featureNames)

	means := make([]float64, k)
	stds := make([]float64, k)
	for j := 0; j < k; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += rows[i][j]
		}
		means[j] = sum / float64(n)

		var sq float64
		for i := 0; i < n; i++ {
			d := rows[i][j] - means[j]
			sq += d * d
		}
		stds[j] = math.Sqrt(sq / float64(n))
		if stds[j] < 1e-9 {
			stds[j] = 1 // constant feature contributes nothing either way
		}
	}

	// Design matrix with leading intercept column, standardized.
	x := make([][]float64, n)
	for i := 0; i < n; i++ {
		x[i] = make([]float64, k+1)
		x[i][0] = 1
		for j := 0; j < k; j++ {
			x[i][j+1] = (rows[i][j] - means[j]) / stds[j]
		}
	}

	dim := k + 1
	a := make([][]float64, dim)
	b := make([]float64, dim)
	for r := 0; r < dim; r++ {
		a[r] = make([]float64, dim)
		for c := 0; c < dim; c++ {
			var sum float64
			for i := 0; i < n; i++ {
				sum += x[i][r] * x[i][c]
			}
			a[r][c] = sum
		}
		a[r][r] += 1e-6
		var sum float64
		for i := 0; i < n; i++ {
			sum += x[i][r] * labels[i]
		}
		b[r] = sum
	}

	beta, err := solve(a, b)
	if err != nil {
		return Model{}, err
	}

	model := Model{
		Coefficients: beta[1:],
		Intercept:    beta[0],
		Means:        means,
		Stds:         stds,
		SampleCount:  n,
	}

	// r² against the label mean.
	labelMean := 0.0
	for _, y := range labels {
		labelMean += y
	}
	labelMean /= float64(n)

	var sse, sst float64
	for i := 0; i < n; i++ {
		pred := model.apply(rows[i])
		sse += (labels[i] - pred) * (labels[i] - pred)
		sst += (labels[i] - labelMean) * (labels[i] - labelMean)
	}
	if sst > 0 {
		model.RSquared = 1 - sse/sst
		if model.RSquared < 0 {
			model.RSquared = 0
		}
	}
	return model, nil
}

func (m Model) apply(features []float64) float64 {
	v := m.Intercept
	for j, c := range m.Coefficients {
		v += c * (features[j] - m.Means[j]) / m.Stds[j]
	}
	return v
}

// solve runs Gaussian elimination with partial pivoting.
func solve(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("%w: singular design matrix", core.ErrInsufficientData)
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	out := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * out[c]
		}
		out[r] = sum / a[r][r]
	}
	return out, nil
}

func correlation(x, y []float64) (float64, bool) {
	n := len(x)
	if n < 2 {
		return 0, false
	}
	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var sxy, sxx, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	return sxy / math.Sqrt(sxx*syy), true
}

func clampEnergy(v float64) float64 {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
