// PulseOS Daemon - The background insight service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulseos/pulseos/internal/api"
	"github.com/pulseos/pulseos/internal/calendar"
	"github.com/pulseos/pulseos/internal/config"
	"github.com/pulseos/pulseos/internal/core"
	"github.com/pulseos/pulseos/internal/costs"
	"github.com/pulseos/pulseos/internal/insight"
	"github.com/pulseos/pulseos/internal/llm"
	"github.com/pulseos/pulseos/internal/personalization"
	"github.com/pulseos/pulseos/internal/predictor"
	"github.com/pulseos/pulseos/internal/scheduler"
	"github.com/pulseos/pulseos/internal/storage"
)

var (
	configPath string
	dataDir    string
	port       int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulseos",
		Short: "PulseOS Daemon - Your personal health insight service",
		RunE:  runDaemon,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file (default: <data-dir>/config.json)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (default: ~/.pulseos)")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	fmt.Println("🚀 Starting PulseOS Daemon...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	// Open database
	dbPath := filepath.Join(cfg.DataDir, "pulseos.db")
	db, err := storage.Open(storage.Config{Path: dbPath})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// LLM client
	client := llm.NewClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})
	if !client.IsConfigured() {
		fmt.Println("⚠️  ANTHROPIC_API_KEY not set - insights will use fallback content")
	} else {
		fmt.Println("✅ Claude API configured")
	}

	// Calendar density provider
	var cal calendar.Provider
	if cfg.Calendar.Enabled {
		calCfg := calendar.DefaultConfig()
		calCfg.CalendarID = cfg.Calendar.CalendarID
		calCfg.TokenFile = cfg.Calendar.TokenFile
		gp, err := calendar.NewGoogleProvider(cmd.Context(), calCfg)
		if err != nil {
			fmt.Printf("⚠️  Calendar not available: %v\n", err)
			fmt.Println("   Briefs will omit the schedule signal")
		} else {
			cal = gp
			fmt.Println("✅ Google Calendar connected")
		}
	}

	// Wire the insight pipeline
	metrics := storage.NewMetricStore(db)
	tracker := costs.New(cfg.Pricing, storage.NewUsageStore(db))
	gateway := llm.NewGateway(client, tracker, cfg.LLM.Timeout, cfg.LLM.MaxContentLen)
	engine := personalization.NewEngine(cfg.Personalization, storage.NewPreferenceStore(db))
	pred := predictor.New(cfg.Predictor, metrics, storage.NewPredictorStore(db))
	svc := insight.NewService(cfg, db, engine, gateway, pred, cal, insight.NewFlights())

	// Background jobs
	sched := scheduler.New()
	if err := registerJobs(sched, svc, pred); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()
	fmt.Printf("⏰ Scheduler running with %d jobs\n", len(sched.Jobs()))

	// HTTP API
	server := api.NewServer(api.Config{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Insights: svc,
		Tracker:  tracker,
		Metrics:  metrics,
		Patterns: storage.NewPatternStore(db),
	})

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\n🛑 Shutting down...")
		sched.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	fmt.Printf("🌐 Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	return server.Start()
}

func registerJobs(sched *scheduler.Scheduler, svc *insight.Service, pred *predictor.Predictor) error {
	jobs := []*scheduler.Job{
		{
			ID:       "daily-brief",
			Schedule: scheduler.Schedule{Type: scheduler.ScheduleDaily, At: "07:00"},
			Run: func(ctx context.Context) error {
				_, err := svc.GenerateDailyBrief(ctx, core.DateOf(time.Now()), false)
				return err
			},
		},
		{
			ID:       "pattern-detection",
			Schedule: scheduler.Schedule{Type: scheduler.ScheduleInterval, Interval: 6 * time.Hour},
			Run: func(ctx context.Context) error {
				_, err := svc.DetectPatterns(ctx, 0)
				return err
			},
		},
		{
			ID:       "energy-prediction",
			Schedule: scheduler.Schedule{Type: scheduler.ScheduleDaily, At: "06:30"},
			Run: func(ctx context.Context) error {
				_, err := svc.PredictEnergy(ctx, core.DateOf(time.Now()))
				return err
			},
		},
		{
			ID:       "weekly-review",
			Schedule: scheduler.Schedule{Type: scheduler.ScheduleDaily, At: "08:00"},
			Run: func(ctx context.Context) error {
				// Reviews cover the week ending Sunday; other days no-op.
				if time.Now().Weekday() != time.Sunday {
					return nil
				}
				_, err := svc.GenerateWeeklyReview(ctx, core.DateOf(time.Now()), false)
				return err
			},
		},
		{
			ID:       "predictor-retrain",
			Schedule: scheduler.Schedule{Type: scheduler.ScheduleDaily, At: "03:00"},
			Run: func(ctx context.Context) error {
				today := core.DateOf(time.Now())
				_, err := pred.Train(ctx, today.AddDays(-90), today)
				if errors.Is(err, core.ErrInsufficientData) {
					return nil
				}
				return err
			},
		},
	}

	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			return err
		}
	}
	return nil
}
