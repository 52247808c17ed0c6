// Package calendar supplies the schedule density signal. The rest of
// the system only ever sees "n meetings, m hours" for a date.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/pulseos/pulseos/internal/core"
)

// Provider yields the density signal for one date.
type Provider interface {
	Density(ctx context.Context, date core.Date) (core.CalendarDensity, error)
}

// GoogleProvider reads event density from the Google Calendar API.
type GoogleProvider struct {
	service    *calendar.Service
	calendarID string
}

// Config for the Google provider
type Config struct {
	ClientID     string
	ClientSecret string
	CalendarID   string
	TokenFile    string // path to the stored oauth2 token JSON
}

// DefaultConfig returns config from environment
func DefaultConfig() Config {
	return Config{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		CalendarID:   "primary",
	}
}

// NewGoogleProvider creates a provider from a stored token.
func NewGoogleProvider(ctx context.Context, cfg Config) (*GoogleProvider, error) {
	token, err := loadToken(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("load calendar token: %w", err)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarReadonlyScope},
	}
	service, err := calendar.NewService(ctx, option.WithTokenSource(oauthCfg.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleProvider{service: service, calendarID: calendarID}, nil
}

// Density counts the date's timed events and sums their durations.
// All-day events don't occupy working hours and are skipped.
func (p *GoogleProvider) Density(ctx context.Context, date core.Date) (core.CalendarDensity, error) {
	dayStart := date.Time()
	dayEnd := dayStart.AddDate(0, 0, 1)

	events, err := p.service.Events.List(p.calendarID).
		TimeMin(dayStart.Format(time.RFC3339)).
		TimeMax(dayEnd.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return core.CalendarDensity{}, fmt.Errorf("list events: %w", err)
	}

	density := core.CalendarDensity{Date: date}
	for _, ev := range events.Items {
		if ev.Status == "cancelled" || ev.Start == nil || ev.Start.DateTime == "" {
			continue
		}
		start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, ev.End.DateTime)
		if err != nil {
			continue
		}

		density.MeetingCount++
		density.MeetingHours += end.Sub(start).Hours()
	}
	return density, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &token, nil
}

// StaticProvider serves fixed densities, for tests and for running
// without a connected calendar.
type StaticProvider struct {
	Densities map[core.Date]core.CalendarDensity
}

// Density returns the stored density, or an empty signal for unknown dates.
func (p *StaticProvider) Density(_ context.Context, date core.Date) (core.CalendarDensity, error) {
	if d, ok := p.Densities[date]; ok {
		return d, nil
	}
	return core.CalendarDensity{Date: date}, nil
}
