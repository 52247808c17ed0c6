// Package analyzer detects statistical patterns in daily metric series.
package analyzer

import (
	"math"

	"github.com/pulseos/pulseos/internal/core"
)

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// stddev is the sample standard deviation (n-1 denominator).
func stddev(vals []float64) float64 {
	n := len(vals)
	if n < 2 {
		return 0
	}
	m := mean(vals)
	sum := 0.0
	for _, v := range vals {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

// pearson computes the Pearson correlation coefficient between two
// equal-length samples. Returns ErrZeroVariance when either sample
// is constant.
func pearson(x, y []float64) (float64, error) {
	n := len(x)
	if n != len(y) || n < 2 {
		return 0, core.ErrInsufficientData
	}

	mx, my := mean(x), mean(y)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		dy := y[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, core.ErrZeroVariance
	}

	r := sxy / math.Sqrt(sxx*syy)
	// Guard against rounding pushing |r| past 1.
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r, nil
}

// correlationPValue is the two-sided p-value for the null hypothesis of
// zero correlation, using the exact Student-t distribution with n-2
// degrees of freedom. Sample sizes here run from 7 to ~90 days, small
// enough that a normal approximation visibly distorts the tail.
func correlationPValue(r float64, n int) float64 {
	if n < 3 {
		return 1
	}
	df := float64(n - 2)
	denom := 1 - r*r
	if denom <= 0 {
		return 0
	}
	t := r * math.Sqrt(df/denom)
	return tTestPValue(t, df)
}

// tTestPValue is the two-sided p-value of a t statistic with df degrees
// of freedom: P(|T| >= |t|).
func tTestPValue(t, df float64) float64 {
	x := df / (df + t*t)
	// P(|T| >= |t|) = I_x(df/2, 1/2) for the regularized incomplete beta.
	p := regularizedBeta(x, df/2, 0.5)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// regularizedBeta evaluates I_x(a, b) via the continued fraction
// expansion (Lentz's method), as in Numerical Recipes.
func regularizedBeta(x, a, b float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lnFront := lnGamma(a+b) - lnGamma(a) - lnGamma(b) +
		a*math.Log(x) + b*math.Log(1-x)
	front := math.Exp(lnFront)

	// The continued fraction converges fastest for x < (a+1)/(a+b+2);
	// otherwise use the symmetry relation.
	if x >= (a+1)/(a+b+2) {
		return 1 - regularizedBeta(1-x, b, a)
	}
	return front * betaContinuedFraction(x, a, b) / a
}

func betaContinuedFraction(x, a, b float64) float64 {
	const (
		maxIter = 200
		eps     = 1e-12
		tiny    = 1e-30
	)

	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

func lnGamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// regression holds an ordinary least squares fit of y on x.
type regression struct {
	Slope     float64
	Intercept float64
	R         float64 // correlation of fit
	PValue    float64 // two-sided, slope != 0
	N         int
}

// linearFit fits y = slope*x + intercept and tests the slope against zero.
func linearFit(x, y []float64) (regression, error) {
	n := len(x)
	if n != len(y) || n < 3 {
		return regression{}, core.ErrInsufficientData
	}

	r, err := pearson(x, y)
	if err != nil {
		return regression{}, err
	}

	mx, my := mean(x), mean(y)
	var sxy, sxx float64
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		sxy += dx * (y[i] - my)
		sxx += dx * dx
	}

	slope := sxy / sxx
	return regression{
		Slope:     slope,
		Intercept: my - slope*mx,
		R:         r,
		PValue:    correlationPValue(r, n),
		N:         n,
	}, nil
}

// welchT compares two sample means with unequal variances, returning the
// two-sided p-value via Welch-Satterthwaite degrees of freedom.
func welchT(a, b []float64) (tStat, pValue float64, err error) {
	na, nb := len(a), len(b)
	if na < 2 || nb < 2 {
		return 0, 1, core.ErrInsufficientData
	}

	ma, mb := mean(a), mean(b)
	sa, sb := stddev(a), stddev(b)
	va := sa * sa / float64(na)
	vb := sb * sb / float64(nb)
	if va+vb == 0 {
		return 0, 1, core.ErrZeroVariance
	}

	t := (ma - mb) / math.Sqrt(va+vb)
	df := (va + vb) * (va + vb) /
		(va*va/float64(na-1) + vb*vb/float64(nb-1))
	return t, tTestPValue(t, df), nil
}
