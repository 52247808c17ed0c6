// PulseOS CLI - The command-line interface for your daily insights.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulseos/pulseos/internal/core"
	"github.com/pulseos/pulseos/internal/costs"
)

var (
	serverURL string

	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "PulseOS - Personal health insights from your own data",
		Long: `PulseOS turns your daily health metrics - sleep, readiness,
activity, energy - into plain-language insights.

It finds the statistical patterns in your data, learns which
insights you find useful, and predicts how tomorrow will feel.

Your data stays on YOUR machine. Always.`,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "PulseOS daemon address")

	rootCmd.AddCommand(briefCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(energyCmd())
	rootCmd.AddCommand(patternsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(costsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// briefCmd shows or generates the daily brief
func briefCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brief [date]",
		Short: "Show today's brief (generates it if missing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			date := dateArg(args)
			force, _ := cmd.Flags().GetBool("force")

			path := "/api/v1/briefs/" + string(date)
			if force {
				path += "?force=true"
			}

			var ins core.Insight
			if err := post(path, nil, &ins); err != nil {
				return err
			}

			printInsight(ins)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Regenerate even if a brief exists")
	return cmd
}

// reviewCmd shows or generates the weekly review
func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review [week-ending]",
		Short: "Show the weekly review for the week ending on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			date := dateArg(args)
			force, _ := cmd.Flags().GetBool("force")

			path := "/api/v1/reviews/" + string(date)
			if force {
				path += "?force=true"
			}

			var ins core.Insight
			if err := post(path, nil, &ins); err != nil {
				return err
			}

			printInsight(ins)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Regenerate even if a review exists")
	return cmd
}

// energyCmd predicts energy for a date
func energyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "energy [date]",
		Short: "Predict energy for a date (default: tomorrow)",
		RunE: func(cmd *cobra.Command, args []string) error {
			date := core.DateOf(time.Now()).AddDays(1)
			if len(args) > 0 {
				date = core.Date(args[0])
			}

			var ins core.Insight
			if err := post("/api/v1/energy/"+string(date), nil, &ins); err != nil {
				return err
			}

			var payload struct {
				Overall          float64  `json:"overall"`
				Source           string   `json:"source"`
				Confidence       float64  `json:"confidence"`
				InsufficientData bool     `json:"insufficient_data"`
				PeakHours        []string `json:"peak_hours"`
				LowHours         []string `json:"low_hours"`
				Advice           string   `json:"advice"`
			}
			if err := json.Unmarshal([]byte(ins.Content), &payload); err != nil {
				return fmt.Errorf("unexpected energy payload: %w", err)
			}

			fmt.Printf("⚡ Energy forecast for %s\n\n", date)
			fmt.Printf("   Overall: %.1f/10 (confidence %.0f%%, %s)\n",
				payload.Overall, payload.Confidence*100, payload.Source)
			if payload.InsufficientData {
				fmt.Println("   ⚠️  Based on limited history - treat as a rough guess")
			}
			if len(payload.PeakHours) > 0 {
				fmt.Printf("   Peak: %v\n", payload.PeakHours)
			}
			if len(payload.LowHours) > 0 {
				fmt.Printf("   Low:  %v\n", payload.LowHours)
			}
			if payload.Advice != "" {
				fmt.Printf("\n   %s\n", payload.Advice)
			}
			return nil
		},
	}
}

// patternsCmd lists active patterns or triggers detection
func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List detected patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			detect, _ := cmd.Flags().GetBool("detect")

			var patterns []core.Pattern
			if detect {
				if err := post("/api/v1/patterns/detect", map[string]int{}, &patterns); err != nil {
					return err
				}
			} else {
				if err := get("/api/v1/patterns", &patterns); err != nil {
					return err
				}
			}

			if len(patterns) == 0 {
				fmt.Println("No patterns yet. Keep logging - detection needs about a week of data.")
				return nil
			}

			fmt.Printf("🔍 Active patterns (%d)\n\n", len(patterns))
			for _, p := range patterns {
				marker := "  "
				if p.Actionable {
					marker = "💪"
				}
				fmt.Printf("   %s %s\n", marker, p.Name)
				fmt.Printf("      %s\n", p.Description)
				fmt.Printf("      strength %.2f | confidence %.0f%% | %d samples\n\n",
					p.Strength, p.Confidence*100, p.SampleSize)
			}
			return nil
		},
	}
	cmd.Flags().Bool("detect", false, "Run detection before listing")
	return cmd
}

// logCmd records a metric value for a date
func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log [metric] [value]",
		Short: "Log a metric value (e.g. pulse log energy 7)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("value must be a number: %q", args[1])
			}
			dateFlag, _ := cmd.Flags().GetString("date")
			date := core.DateOf(time.Now())
			if dateFlag != "" {
				date = core.Date(dateFlag)
			}

			body := map[string]interface{}{
				"points": []map[string]interface{}{
					{"metric": args[0], "date": string(date), "value": value},
				},
			}
			var resp map[string]int
			if err := put("/api/v1/metrics", body, &resp); err != nil {
				return err
			}

			fmt.Printf("✅ Logged %s=%.1f for %s\n", args[0], value, date)
			return nil
		},
	}
	cmd.Flags().String("date", "", "Date to log against (default: today)")
	return cmd
}

// feedbackCmd records a reaction to an insight
func feedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback [insight-id] [helpful|not_helpful|acted_on|dismissed]",
		Short: "Tell PulseOS what you thought of an insight",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]string
			path := fmt.Sprintf("/api/v1/insights/%s/feedback", args[0])
			if err := post(path, map[string]string{"type": args[1]}, &resp); err != nil {
				return err
			}
			fmt.Println("✅ Feedback recorded. Future insights will adjust.")
			return nil
		},
	}
}

// costsCmd shows the LLM spend report
func costsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show LLM usage and spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")

			var report costs.Report
			if err := get(fmt.Sprintf("/api/v1/costs?days=%d", days), &report); err != nil {
				return err
			}

			fmt.Printf("💰 LLM spend, last %d days\n\n", days)
			fmt.Printf("   Calls:  %d\n", report.Totals.Calls)
			fmt.Printf("   Tokens: %d in / %d out\n", report.Totals.InputTokens, report.Totals.OutputTokens)
			fmt.Printf("   Cost:   $%.4f\n", report.Totals.CostUSD)

			if len(report.ByFeature) > 0 {
				fmt.Println("\n   By feature:")
				for _, f := range report.ByFeature {
					fmt.Printf("      %-16s $%.4f (%d calls)\n", f.Feature, f.Totals.CostUSD, f.Totals.Calls)
				}
			}
			if len(report.ByDay) > 0 {
				fmt.Println("\n   By day:")
				dates := make([]string, 0, len(report.ByDay))
				for d := range report.ByDay {
					dates = append(dates, string(d))
				}
				sort.Strings(dates)
				for _, d := range dates {
					t := report.ByDay[core.Date(d)]
					fmt.Printf("      %s  $%.4f\n", d, t.CostUSD)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("days", 30, "Report window in days")
	return cmd
}

// versionCmd shows version
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show PulseOS version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("PulseOS %s\n", version)
		},
	}
}

func dateArg(args []string) core.Date {
	if len(args) > 0 {
		return core.Date(args[0])
	}
	return core.DateOf(time.Now())
}

func printInsight(ins core.Insight) {
	header := "📋"
	if ins.Type == core.InsightWeeklyReview {
		header = "📅"
	}
	fmt.Printf("%s %s for %s\n\n", header, ins.Type, ins.Date)
	fmt.Println(ins.Content)
	fmt.Println()
	if ins.Degraded {
		fmt.Println("⚠️  Generated without the language model - fallback content")
	}
	fmt.Printf("id: %s | confidence %.0f%%\n", ins.ID, ins.Confidence*100)
	fmt.Printf("react with: pulse feedback %s helpful\n", ins.ID)
}

// --- Thin HTTP client against the daemon ---

func get(path string, out interface{}) error {
	return request(http.MethodGet, path, nil, out)
}

func post(path string, body, out interface{}) error {
	return request(http.MethodPost, path, body, out)
}

func put(path string, body, out interface{}) error {
	return request(http.MethodPut, path, body, out)
}

func request(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach the daemon at %s - is it running? (%v)", serverURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
