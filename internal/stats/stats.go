// Package stats holds the scoring primitives shared by the intent fuser,
// the KPI calculator and the trust verifier: exponential time decay,
// Dirichlet smoothing and Wilson-score confidence bounds.
//
// All functions are pure and total over their documented domains.
// Out-of-domain arguments return *ParamError instead of NaN/Inf.
package stats

import (
	"fmt"
	"math"
)

// DefaultZ is the z-value for a 95% Wilson confidence interval.
const DefaultZ = 1.96

// ParamError reports an out-of-domain argument to a scoring primitive.
type ParamError struct {
	Func  string
	Param string
	Value float64
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("stats: %s: parameter %s out of domain: %v", e.Func, e.Param, e.Value)
}

// DecayWeight returns exp(-ln(2) * ageDays / halfLifeDays).
//
// The weight is exactly 1.0 at ageDays=0 and decreases monotonically toward
// zero. halfLifeDays must be positive; ageDays must be finite and
// non-negative (an observation from the future is malformed input).
func DecayWeight(ageDays, halfLifeDays float64) (float64, error) {
	if math.IsNaN(ageDays) || math.IsInf(ageDays, 0) || ageDays < 0 {
		return 0, &ParamError{Func: "DecayWeight", Param: "ageDays", Value: ageDays}
	}
	if math.IsNaN(halfLifeDays) || math.IsInf(halfLifeDays, 0) || halfLifeDays <= 0 {
		return 0, &ParamError{Func: "DecayWeight", Param: "halfLifeDays", Value: halfLifeDays}
	}
	if ageDays == 0 {
		return 1.0, nil
	}
	return math.Exp(-math.Ln2 * ageDays / halfLifeDays), nil
}

// DirichletSmooth pulls a sparse-sample score toward a prior:
//
//	(sampleSize*rawScore + alpha*prior) / (sampleSize + alpha)
//
// Returns prior exactly when sampleSize == 0 and converges to rawScore as
// sampleSize grows. alpha must be positive and sampleSize non-negative.
func DirichletSmooth(rawScore float64, sampleSize int, alpha, prior float64) (float64, error) {
	if math.IsNaN(rawScore) || math.IsInf(rawScore, 0) {
		return 0, &ParamError{Func: "DirichletSmooth", Param: "rawScore", Value: rawScore}
	}
	if math.IsNaN(alpha) || math.IsInf(alpha, 0) || alpha <= 0 {
		return 0, &ParamError{Func: "DirichletSmooth", Param: "alpha", Value: alpha}
	}
	if math.IsNaN(prior) || math.IsInf(prior, 0) {
		return 0, &ParamError{Func: "DirichletSmooth", Param: "prior", Value: prior}
	}
	if sampleSize < 0 {
		return 0, &ParamError{Func: "DirichletSmooth", Param: "sampleSize", Value: float64(sampleSize)}
	}
	if sampleSize == 0 {
		return prior, nil
	}
	n := float64(sampleSize)
	return (n*rawScore + alpha*prior) / (n + alpha), nil
}

// WilsonLowerBound returns the lower bound of the Wilson score interval for
// positive successes out of total trials at the given z.
//
// This is deliberately the lower bound: a conservative confidence estimate
// that understates rather than overstates reliability at small n.
// total == 0 returns 0.0.
func WilsonLowerBound(positive, total int, z float64) float64 {
	if total <= 0 || positive < 0 {
		return 0.0
	}
	if positive > total {
		positive = total
	}
	n := float64(total)
	phat := float64(positive) / n
	z2 := z * z

	denom := 1 + z2/n
	center := (phat + z2/(2*n)) / denom
	spread := z * math.Sqrt((phat*(1-phat)+z2/(4*n))/n) / denom

	lower := center - spread
	if lower < 0 {
		return 0.0
	}
	return lower
}

// WilsonLowerBound95 is WilsonLowerBound at the conventional 95% z-value.
func WilsonLowerBound95(positive, total int) float64 {
	return WilsonLowerBound(positive, total, DefaultZ)
}

// Sigmoid maps a signed composite score into (0,1).
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Clamp01 clamps v to the [0,1] range.
func Clamp01(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}

// Clamp clamps v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
