// Package belief implements Gaussian beliefs and the fusion algebra used to
// combine independent noisy estimates of the same quantity.
package belief

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidVariance = errors.New("belief variance must be positive")

// minVariance floors variances produced by arithmetic so that floating error
// never yields a zero or negative variance.
const minVariance = 1e-18

// Belief is a Gaussian estimate. A variance of +Inf carries no information and
// is the identity element for fusion.
type Belief struct {
	Mean     float64
	Variance float64
}

func New(mean, variance float64) (Belief, error) {
	if math.IsNaN(mean) {
		return Belief{}, fmt.Errorf("mean is NaN: %w", ErrInvalidVariance)
	}
	if math.IsNaN(variance) || variance <= 0 {
		return Belief{}, fmt.Errorf("variance %v: %w", variance, ErrInvalidVariance)
	}
	return Belief{Mean: mean, Variance: variance}, nil
}

func MustNew(mean, variance float64) Belief {
	b, err := New(mean, variance)
	if err != nil {
		panic(err)
	}
	return b
}

// Null returns a belief centered on mean that carries no information.
func Null(mean float64) Belief {
	return Belief{Mean: mean, Variance: math.Inf(1)}
}

func (b Belief) IsNull() bool {
	return math.IsInf(b.Variance, 1)
}

func (b Belief) Stddev() float64 {
	return math.Sqrt(b.Variance)
}

func Add(b Belief, x float64) Belief {
	return Belief{Mean: b.Mean + x, Variance: b.Variance}
}

func Scale(b Belief, k float64) Belief {
	if b.IsNull() {
		return Null(b.Mean * k)
	}
	return Belief{Mean: b.Mean * k, Variance: floor(b.Variance * k * k)}
}

// FusePair combines two independent estimates of the same quantity by
// precision weighting.
func FusePair(a, b Belief) Belief {
	switch {
	case a.IsNull() && b.IsNull():
		return a
	case a.IsNull():
		return b
	case b.IsNull():
		return a
	}
	sum := a.Variance + b.Variance
	return Belief{
		Mean:     (a.Mean*b.Variance + b.Mean*a.Variance) / sum,
		Variance: floor(a.Variance * b.Variance / sum),
	}
}

// FuseMany generalises FusePair to n beliefs by precision weighting. Each
// weight is the smallest variance divided by the belief's own, so every
// weight lies in (0, 1] and the largest is exactly 1. Null beliefs are
// skipped; if every input is null the first one is returned.
func FuseMany(bs ...Belief) Belief {
	finite := make([]Belief, 0, len(bs))
	for _, b := range bs {
		if !b.IsNull() {
			finite = append(finite, b)
		}
	}
	switch len(finite) {
	case 0:
		if len(bs) == 0 {
			return Null(0)
		}
		return bs[0]
	case 1:
		return finite[0]
	}
	scale := finite[0].Variance
	for _, b := range finite[1:] {
		scale = math.Min(scale, b.Variance)
	}
	var weightSum, meanSum float64
	for _, b := range finite {
		w := scale / b.Variance
		weightSum += w
		meanSum += w * b.Mean
	}
	return Belief{
		Mean:     meanSum / weightSum,
		Variance: floor(scale / weightSum),
	}
}

// IIDProduct approximates the product of two independent beliefs by the
// Gaussian with the product's first two moments. The product itself is not
// Gaussian; only mean and variance are matched.
func IIDProduct(a, b Belief) Belief {
	if a.IsNull() || b.IsNull() {
		return Null(a.Mean * b.Mean)
	}
	v := a.Mean*a.Mean*b.Variance + b.Mean*b.Mean*a.Variance + a.Variance*b.Variance
	return Belief{Mean: a.Mean * b.Mean, Variance: floor(v)}
}

// Bhattacharyya returns the Bhattacharyya distance between two Gaussians.
// It is +Inf when either side is null.
func Bhattacharyya(a, b Belief) float64 {
	if a.IsNull() || b.IsNull() {
		return math.Inf(1)
	}
	sum := a.Variance + b.Variance
	d := a.Mean - b.Mean
	return 0.25*d*d/sum + 0.5*math.Log(sum/(2*math.Sqrt(a.Variance*b.Variance)))
}

// FuseDisagreeing fuses bs and then widens the result by
// 1 + penalty*D, D being the largest pairwise Bhattacharyya distance between
// the finite inputs. Agreeing sources tighten the estimate as in FuseMany;
// sources that contradict each other widen it.
func FuseDisagreeing(penalty float64, bs ...Belief) Belief {
	fused := FuseMany(bs...)
	if fused.IsNull() || penalty <= 0 {
		return fused
	}
	var worst float64
	for i := 0; i < len(bs); i++ {
		if bs[i].IsNull() {
			continue
		}
		for j := i + 1; j < len(bs); j++ {
			if bs[j].IsNull() {
				continue
			}
			worst = math.Max(worst, Bhattacharyya(bs[i], bs[j]))
		}
	}
	fused.Variance = floor(fused.Variance * (1 + penalty*worst))
	return fused
}

func floor(v float64) float64 {
	if v < minVariance {
		return minVariance
	}
	return v
}
