// Package smooth provides online exponential smoothers. Each one exposes a
// Ready flag; values read before Ready are not trustworthy.
package smooth

import (
	"errors"
	"math"
)

var ErrHalfLife = errors.New("half-life must be positive")

func decay(halfLife float64) float64 {
	return math.Pow(0.5, 1/halfLife)
}

func warmup(halfLife float64) int {
	return int(math.Ceil(halfLife))
}

// EMA is an exponential moving average parameterised by half-life in samples.
type EMA struct {
	alpha float64
	need  int
	count int
	value float64
}

func NewEMA(halfLife float64) (*EMA, error) {
	if !(halfLife > 0) {
		return nil, ErrHalfLife
	}
	return &EMA{alpha: decay(halfLife), need: warmup(halfLife)}, nil
}

func (e *EMA) Observe(x float64) float64 {
	if e.count == 0 {
		e.value = x
	} else {
		e.value = e.alpha*e.value + (1-e.alpha)*x
	}
	e.count++
	return e.value
}

func (e *EMA) Value() float64 { return e.value }
func (e *EMA) Count() int     { return e.count }
func (e *EMA) Ready() bool    { return e.count >= e.need }

// Trend is a double exponential smoother: an EMA level plus an exponentially
// smoothed per-sample slope of that level.
type Trend struct {
	level    *EMA
	beta     float64
	need     int
	trend    float64
	previous float64
}

func NewTrend(halfLife, trendHalfLife float64) (*Trend, error) {
	level, err := NewEMA(halfLife)
	if err != nil {
		return nil, err
	}
	if !(trendHalfLife > 0) {
		return nil, ErrHalfLife
	}
	need := warmup(halfLife)
	if n := warmup(trendHalfLife); n > need {
		need = n
	}
	return &Trend{level: level, beta: decay(trendHalfLife), need: need}, nil
}

func (t *Trend) Observe(x float64) {
	first := t.level.Count() == 0
	value := t.level.Observe(x)
	if !first {
		t.trend = (1-t.beta)*(value-t.previous) + t.beta*t.trend
	}
	t.previous = value
}

func (t *Trend) Value() float64 { return t.level.Value() }

// Slope is the smoothed change of the level per sample.
func (t *Trend) Slope() float64 { return t.trend }

func (t *Trend) Extrapolate(steps float64) float64 {
	return t.level.Value() + t.trend*steps
}

func (t *Trend) Ready() bool { return t.level.Count() >= t.need }

// MSE tracks an exponentially weighted mean of squared forecast residuals.
type MSE struct {
	ema *EMA
}

func NewMSE(halfLife float64) (*MSE, error) {
	ema, err := NewEMA(halfLife)
	if err != nil {
		return nil, err
	}
	return &MSE{ema: ema}, nil
}

func (m *MSE) Observe(observed, predicted float64) {
	r := observed - predicted
	m.ema.Observe(r * r)
}

func (m *MSE) MSE() float64    { return m.ema.Value() }
func (m *MSE) Stderr() float64 { return math.Sqrt(m.ema.Value()) }
func (m *MSE) Ready() bool     { return m.ema.Ready() }
