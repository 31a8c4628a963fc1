package stats

import (
	"math"
	"math/rand/v2"
	"slices"
)

const (
	// DefaultIterations is the number of bootstrap resamples used when the
	// caller passes a non-positive iteration count.
	DefaultIterations = 10000

	// DefaultConfidenceLevel is the confidence level of run aggregates.
	DefaultConfidenceLevel = 0.95

	// SignificanceLevel is the alpha used by WelchTTest.
	SignificanceLevel = 0.05

	// consistencyDecay is the rate of the exponential consistency transform.
	consistencyDecay = 3.0
)

// Descriptive holds summary statistics of a score sequence.
type Descriptive struct {
	N    int
	Mean float64

	// Variance is the Bessel-corrected sample variance. It is 0 for N <= 1.
	Variance float64
	StdDev   float64

	// CV is StdDev / Mean, or 0 when Mean is 0.
	CV float64

	Min float64
	Max float64
}

// Describe computes descriptive statistics for scores. An empty input
// yields the zero value.
func Describe(scores []float64) Descriptive {
	n := len(scores)
	if n == 0 {
		return Descriptive{}
	}

	m := Mean(scores)
	v := Variance(scores)
	sd := math.Sqrt(v)

	var cv float64
	if m != 0 {
		cv = sd / m
	}

	return Descriptive{
		N:        n,
		Mean:     m,
		Variance: v,
		StdDev:   sd,
		CV:       cv,
		Min:      slices.Min(scores),
		Max:      slices.Max(scores),
	}
}

// Mean returns the arithmetic mean of scores, or 0 for an empty input.
func Mean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// Variance returns the sample variance of scores with an n-1 denominator.
// It returns 0 when fewer than two scores are given.
func Variance(scores []float64) float64 {
	n := len(scores)
	if n <= 1 {
		return 0
	}
	m := Mean(scores)
	var sumSq float64
	for _, s := range scores {
		d := s - m
		sumSq += d * d
	}
	return sumSq / float64(n-1)
}

// CI is a confidence interval around the sample mean.
type CI struct {
	// Mean is the point estimate: the mean of the observed scores.
	Mean  float64
	Lower float64
	Upper float64

	// Level is the confidence level, e.g. 0.95.
	Level float64
}

// Contains reports whether v lies within the interval.
func (ci CI) Contains(v float64) bool { return v >= ci.Lower && v <= ci.Upper }

// Width returns the interval width.
func (ci CI) Width() float64 { return ci.Upper - ci.Lower }

// BootstrapCI estimates a percentile bootstrap confidence interval for the
// mean of scores.
//
// Scores are resampled with replacement iterations times; the resample
// means are sorted and the (alpha/2, 1-alpha/2) percentiles are returned,
// where alpha = 1 - level. A non-positive iterations uses DefaultIterations
// and a level outside (0, 1) uses DefaultConfidenceLevel.
//
// The result is stochastic. A nil rng draws from a freshly seeded source;
// pass a seeded *rand.Rand for reproducible intervals. A single score
// yields Lower == Upper == Mean, and an empty input the zero CI.
func BootstrapCI(scores []float64, level float64, iterations int, rng *rand.Rand) CI {
	if level <= 0 || level >= 1 {
		level = DefaultConfidenceLevel
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	n := len(scores)
	switch n {
	case 0:
		return CI{Level: level}
	case 1:
		return CI{Mean: scores[0], Lower: scores[0], Upper: scores[0], Level: level}
	}

	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	means := make([]float64, iterations)
	for i := range means {
		var sum float64
		for range n {
			sum += scores[rng.IntN(n)]
		}
		means[i] = sum / float64(n)
	}
	slices.Sort(means)

	alpha := 1 - level
	lowerIdx := int(alpha / 2 * float64(iterations))
	upperIdx := int((1 - alpha/2) * float64(iterations))
	if upperIdx >= iterations {
		upperIdx = iterations - 1
	}

	return CI{
		Mean:  Mean(scores),
		Lower: means[lowerIdx],
		Upper: means[upperIdx],
		Level: level,
	}
}

// ConsistencyScore maps a coefficient of variation to a 0-100 score.
// It is 100 at CV 0 and decreases strictly as CV grows.
func ConsistencyScore(cv float64) float64 {
	return clamp(100*math.Exp(-consistencyDecay*cv), 0, 100)
}

// AverageConsistencyScore returns the mean ConsistencyScore over cvs, or 0
// for an empty input.
func AverageConsistencyScore(cvs []float64) float64 {
	if len(cvs) == 0 {
		return 0
	}
	var sum float64
	for _, cv := range cvs {
		sum += ConsistencyScore(cv)
	}
	return sum / float64(len(cvs))
}

// TTestResult holds the outcome of WelchTTest.
type TTestResult struct {
	// T is the Welch t-statistic for mean(a) - mean(b).
	T float64

	// DF is the Welch-Satterthwaite degrees of freedom.
	DF float64

	// PValue is the approximate two-tailed p-value.
	PValue float64

	// Significant is PValue < SignificanceLevel.
	Significant bool
}

// WelchTTest compares the means of two samples without assuming equal
// variances.
//
// The two-tailed p-value is taken from the standard normal CDF for every
// degree of freedom. That is an approximation: it understates p for small
// samples and should be read as descriptive, not rigorous.
//
// Samples with fewer than two scores, or with zero pooled standard error,
// return PValue 1.
func WelchTTest(a, b []float64) TTestResult {
	if len(a) < 2 || len(b) < 2 {
		return TTestResult{PValue: 1}
	}

	n1, n2 := float64(len(a)), float64(len(b))
	v1, v2 := Variance(a)/n1, Variance(b)/n2

	se := math.Sqrt(v1 + v2)
	if se == 0 {
		return TTestResult{PValue: 1}
	}

	t := (Mean(a) - Mean(b)) / se

	var df float64
	if denom := v1*v1/(n1-1) + v2*v2/(n2-1); denom > 0 {
		df = (v1 + v2) * (v1 + v2) / denom
	}

	p := clamp(2*(1-normalCDF(math.Abs(t))), 0, 1)

	return TTestResult{
		T:           t,
		DF:          df,
		PValue:      p,
		Significant: p < SignificanceLevel,
	}
}

func normalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
