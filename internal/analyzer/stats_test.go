package analyzer

import (
	"errors"
	"math"
	"testing"

	"github.com/pulseos/pulseos/internal/core"
)

func TestPearson_PerfectCorrelation(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{2, 4, 6, 8, 10}

	r, err := pearson(x, y)
	if err != nil {
		t.Fatalf("pearson failed: %v", err)
	}
	if math.Abs(r-1) > 1e-9 {
		t.Errorf("Expected r=1, got %v", r)
	}

	inv := []float64{10, 8, 6, 4, 2}
	r, err = pearson(x, inv)
	if err != nil {
		t.Fatalf("pearson failed: %v", err)
	}
	if math.Abs(r+1) > 1e-9 {
		t.Errorf("Expected r=-1, got %v", r)
	}
}

func TestPearson_Symmetric(t *testing.T) {
	x := []float64{7.2, 6.8, 5.5, 6.1, 7.4, 7.8, 7.1}
	y := []float64{78, 74, 52, 61, 82, 88, 85}

	rxy, err := pearson(x, y)
	if err != nil {
		t.Fatalf("pearson failed: %v", err)
	}
	ryx, err := pearson(y, x)
	if err != nil {
		t.Fatalf("pearson failed: %v", err)
	}
	if math.Abs(rxy-ryx) > 1e-12 {
		t.Errorf("pearson not symmetric: %v vs %v", rxy, ryx)
	}
}

func TestPearson_ZeroVariance(t *testing.T) {
	x := []float64{5, 5, 5, 5, 5}
	y := []float64{1, 2, 3, 4, 5}

	_, err := pearson(x, y)
	if !errors.Is(err, core.ErrZeroVariance) {
		t.Errorf("Expected ErrZeroVariance, got %v", err)
	}
}

func TestCorrelationPValue_SleepReadinessScenario(t *testing.T) {
	sleep := []float64{7.2, 6.8, 5.5, 6.1, 7.4, 7.8, 7.1}
	readiness := []float64{78, 74, 52, 61, 82, 88, 85}

	r, err := pearson(sleep, readiness)
	if err != nil {
		t.Fatalf("pearson failed: %v", err)
	}
	if r < 0.9 {
		t.Errorf("Expected strong positive correlation, got r=%v", r)
	}

	p := correlationPValue(r, len(sleep))
	if p >= 0.01 {
		t.Errorf("Expected p < 0.01 for n=7, got p=%v", p)
	}
}

func TestTTestPValue_KnownQuantiles(t *testing.T) {
	// t=2.571 at df=5 is the 97.5th percentile, so the two-sided p is 0.05.
	p := tTestPValue(2.571, 5)
	if math.Abs(p-0.05) > 0.001 {
		t.Errorf("Expected p near 0.05, got %v", p)
	}

	// Larger |t| must always mean smaller p.
	if tTestPValue(3.0, 5) >= tTestPValue(2.0, 5) {
		t.Error("p-value not monotonic in |t|")
	}
	if tTestPValue(0, 5) < 0.999 {
		t.Errorf("Expected p near 1 at t=0, got %v", tTestPValue(0, 5))
	}
}

func TestLinearFit_RecoversSlope(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4, 5, 6}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 3 + 0.5*v
	}

	fit, err := linearFit(x, y)
	if err != nil {
		t.Fatalf("linearFit failed: %v", err)
	}
	if math.Abs(fit.Slope-0.5) > 1e-9 || math.Abs(fit.Intercept-3) > 1e-9 {
		t.Errorf("Expected slope 0.5 intercept 3, got %+v", fit)
	}
	if fit.PValue > 0.001 {
		t.Errorf("Exact line should be overwhelmingly significant, p=%v", fit.PValue)
	}
}

func TestWelchT_DistinctMeans(t *testing.T) {
	a := []float64{8, 8.2, 7.9, 8.1, 8.0, 7.8}
	b := []float64{5, 5.1, 4.9, 5.2, 5.0, 4.8}

	tStat, p, err := welchT(a, b)
	if err != nil {
		t.Fatalf("welchT failed: %v", err)
	}
	if tStat <= 0 {
		t.Errorf("Expected positive t for higher first sample, got %v", tStat)
	}
	if p > 0.001 {
		t.Errorf("Expected clearly significant difference, p=%v", p)
	}
}

func TestWelchT_InsufficientData(t *testing.T) {
	_, _, err := welchT([]float64{1}, []float64{2, 3})
	if !errors.Is(err, core.ErrInsufficientData) {
		t.Errorf("Expected ErrInsufficientData, got %v", err)
	}
}

func TestStddev_Sample(t *testing.T) {
	vals := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	got := stddev(vals)
	want := math.Sqrt(32.0 / 7.0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
