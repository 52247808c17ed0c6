package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulseos/pulseos/internal/core"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Metrics ---

type metricPointRequest struct {
	Metric string  `json:"metric"`
	Date   string  `json:"date"`
	Value  float64 `json:"value"`
}

func (s *Server) handlePutMetrics(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Points []metricPointRequest `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Points) == 0 {
		s.respondError(w, http.StatusBadRequest, "no points provided")
		return
	}

	byMetric := make(map[core.MetricType][]core.MetricPoint)
	for _, p := range req.Points {
		if p.Metric == "" || !core.Date(p.Date).Valid() {
			s.respondError(w, http.StatusBadRequest, "each point needs a metric and a YYYY-MM-DD date")
			return
		}
		m := core.MetricType(p.Metric)
		byMetric[m] = append(byMetric[m], core.MetricPoint{Date: core.Date(p.Date), Value: p.Value})
	}

	for metric, points := range byMetric {
		if err := s.metrics.PutBatch(r.Context(), metric, points); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"ingested": len(req.Points)})
}

func (s *Server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	metric := core.MetricType(chi.URLParam(r, "metric"))
	from, to, ok := s.dateRange(w, r, 30)
	if !ok {
		return
	}

	series, err := s.metrics.Series(r.Context(), metric, from, to)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, series)
}

// --- Insights ---

func (s *Server) handleGetBrief(w http.ResponseWriter, r *http.Request) {
	s.getInsight(w, r, core.InsightDailyBrief)
}

func (s *Server) handleGenerateBrief(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateParam(w, r)
	if !ok {
		return
	}
	ins, err := s.insights.GenerateDailyBrief(r.Context(), date, r.URL.Query().Get("force") == "true")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ins)
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	s.getInsight(w, r, core.InsightWeeklyReview)
}

func (s *Server) handleGenerateReview(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateParam(w, r)
	if !ok {
		return
	}
	ins, err := s.insights.GenerateWeeklyReview(r.Context(), date, r.URL.Query().Get("force") == "true")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ins)
}

func (s *Server) handlePredictEnergy(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateParam(w, r)
	if !ok {
		return
	}
	ins, err := s.insights.PredictEnergy(r.Context(), date)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ins)
}

func (s *Server) handleEnergyAccuracy(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.dateRange(w, r, 30)
	if !ok {
		return
	}
	acc, err := s.insights.EnergyAccuracy(r.Context(), from, to)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, acc)
}

func (s *Server) getInsight(w http.ResponseWriter, r *http.Request, typ core.InsightType) {
	date, ok := s.dateParam(w, r)
	if !ok {
		return
	}
	ins, err := s.insights.Current(r.Context(), typ, date)
	if err != nil {
		if errors.Is(err, core.ErrRecordNotFound) {
			s.respondError(w, http.StatusNotFound, "no insight for that date")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ins)
}

// --- Patterns ---

func (s *Server) handleGetPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.patterns.Active(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if patterns == nil {
		patterns = []core.Pattern{}
	}
	s.respondJSON(w, http.StatusOK, patterns)
}

func (s *Server) handleDetectPatterns(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	patterns, err := s.insights.DetectPatterns(r.Context(), req.Days)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if patterns == nil {
		patterns = []core.Pattern{}
	}
	s.respondJSON(w, http.StatusOK, patterns)
}

// --- Feedback ---

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	typ := core.FeedbackType(req.Type)
	switch typ {
	case core.FeedbackHelpful, core.FeedbackNotHelpful, core.FeedbackActedOn, core.FeedbackDismissed:
	default:
		s.respondError(w, http.StatusBadRequest, "unknown feedback type")
		return
	}

	if err := s.insights.RecordFeedback(r.Context(), id, typ); err != nil {
		if errors.Is(err, core.ErrRecordNotFound) {
			s.respondError(w, http.StatusNotFound, "insight not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// --- Costs ---

func (s *Server) handleGetCosts(w http.ResponseWriter, r *http.Request) {
	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	report, err := s.tracker.Summarize(r.Context(), time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// --- Helpers ---

func (s *Server) dateParam(w http.ResponseWriter, r *http.Request) (core.Date, bool) {
	date := core.Date(chi.URLParam(r, "date"))
	if !date.Valid() {
		s.respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return "", false
	}
	return date, true
}

func (s *Server) dateRange(w http.ResponseWriter, r *http.Request, defaultDays int) (core.Date, core.Date, bool) {
	to := core.Date(r.URL.Query().Get("to"))
	if to == "" {
		to = core.DateOf(time.Now().UTC())
	}
	from := core.Date(r.URL.Query().Get("from"))
	if from == "" {
		from = to.AddDays(-defaultDays + 1)
	}
	if !from.Valid() || !to.Valid() {
		s.respondError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
		return "", "", false
	}
	return from, to, true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
