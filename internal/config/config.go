// Package config handles PulseOS configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pulseos/pulseos/internal/core"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Services
	LLM      LLMConfig      `json:"llm"`
	Calendar CalendarConfig `json:"calendar"`

	// Tuning
	Analyzer        AnalyzerConfig        `json:"analyzer"`
	Personalization PersonalizationConfig `json:"personalization"`
	Predictor       PredictorConfig       `json:"predictor"`

	// Pricing per 1M tokens, keyed by model name substring
	Pricing map[string]ModelPricing `json:"pricing"`
}

// ServerConfig for the HTTP API
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// LLMConfig for the completion provider
type LLMConfig struct {
	APIKey         string        `json:"api_key"`
	BaseURL        string        `json:"base_url"`
	Model          string        `json:"model"`
	Timeout        time.Duration `json:"timeout"`
	MaxContentLen  int           `json:"max_content_len"` // free-text insight cap, bytes
}

// CalendarConfig for the Google Calendar density provider
type CalendarConfig struct {
	Enabled    bool   `json:"enabled"`
	CalendarID string `json:"calendar_id"`
	TokenFile  string `json:"token_file"` // stored OAuth token; the flow itself lives outside PulseOS
}

// AnalyzerConfig names every statistical tuning constant rather than
// burying them in the analyzer.
type AnalyzerConfig struct {
	LookbackDays           int     `json:"lookback_days"`            // default window
	SlidingWindowDays      int     `json:"sliding_window_days"`      // short regime-shift window
	MinSamples             int     `json:"min_samples"`              // below this, no statistic is attempted
	MinActionableSamples   int     `json:"min_actionable_samples"`   // below this, patterns are not actionable
	MinCorrelationStrength float64 `json:"min_correlation_strength"` // |r| floor
	SignificanceLevel      float64 `json:"significance_level"`       // p-value bar
	StrengthDriftTolerance float64 `json:"strength_drift_tolerance"` // replace active pattern only past this delta
	StaleRunEviction       int     `json:"stale_run_eviction"`       // deactivate after N runs without rediscovery
}

// PersonalizationConfig for preference learning
type PersonalizationConfig struct {
	HelpfulIncrement   float64       `json:"helpful_increment"`
	ActedOnIncrement   float64       `json:"acted_on_increment"`
	NotHelpfulPenalty  float64       `json:"not_helpful_penalty"`
	DismissedPenalty   float64       `json:"dismissed_penalty"`
	DecayHalfLife      time.Duration `json:"decay_half_life"`
	FocusAreaCount     int           `json:"focus_area_count"` // top-N categories in context
}

// PredictorConfig for the energy regression
type PredictorConfig struct {
	MinRegressionSamples int `json:"min_regression_samples"` // below this, the LLM prediction leads
}

// ModelPricing is USD per 1M tokens.
type ModelPricing struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".pulseos"),
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		LLM: LLMConfig{
			APIKey:        os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL:       "https://api.anthropic.com",
			Model:         "claude-sonnet-4-20250514",
			Timeout:       10 * time.Second,
			MaxContentLen: 4096,
		},
		Calendar: CalendarConfig{
			Enabled:    false,
			CalendarID: "primary",
		},
		Analyzer: AnalyzerConfig{
			LookbackDays:           30,
			SlidingWindowDays:      14,
			MinSamples:             5,
			MinActionableSamples:   7,
			MinCorrelationStrength: 0.5,
			SignificanceLevel:      0.05,
			StrengthDriftTolerance: 0.1,
			StaleRunEviction:       3,
		},
		Personalization: PersonalizationConfig{
			HelpfulIncrement:  0.10,
			ActedOnIncrement:  0.15,
			NotHelpfulPenalty: 0.10,
			DismissedPenalty:  0.20,
			DecayHalfLife:     14 * 24 * time.Hour,
			FocusAreaCount:    3,
		},
		Predictor: PredictorConfig{
			MinRegressionSamples: 14,
		},
		Pricing: map[string]ModelPricing{
			"claude-3-opus":   {Input: 15.0, Output: 75.0},
			"claude-3-haiku":  {Input: 0.25, Output: 1.25},
			"claude-sonnet":   {Input: 3.0, Output: 15.0},
			"claude-3-5":      {Input: 3.0, Output: 15.0},
			"gpt-4o":          {Input: 5.0, Output: 15.0},
			"gpt-4o-mini":     {Input: 0.15, Output: 0.60},
			"default":         {Input: 3.0, Output: 15.0},
		},
	}
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
	}

	// Override API key from env if set
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the tuning constants against their allowed ranges.
func (c *Config) Validate() error {
	a := c.Analyzer
	if a.LookbackDays < 7 || a.LookbackDays > 90 {
		return fmt.Errorf("%w: lookback_days must be 7-90, got %d", core.ErrInvalidConfig, a.LookbackDays)
	}
	if a.MinSamples < 2 {
		return fmt.Errorf("%w: min_samples must be at least 2", core.ErrInvalidConfig)
	}
	if a.SignificanceLevel <= 0 || a.SignificanceLevel >= 1 {
		return fmt.Errorf("%w: significance_level must be in (0,1)", core.ErrInvalidConfig)
	}
	if _, ok := c.Pricing["default"]; !ok {
		return fmt.Errorf("%w: pricing table needs a default entry", core.ErrInvalidConfig)
	}
	if c.Personalization.DecayHalfLife <= 0 {
		return fmt.Errorf("%w: decay_half_life must be positive", core.ErrInvalidConfig)
	}
	return nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Don't save API key to file
	safeCfg := *c
	safeCfg.LLM.APIKey = ""

	data, err := json.MarshalIndent(safeCfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
