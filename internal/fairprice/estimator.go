// Package fairprice turns a stream of complete price/volume ticks into a
// fused Gaussian fair-price belief per instrument, using pairwise
// cointegration relations refitted on a rolling window.
package fairprice

import (
	"errors"
	"fmt"
	"math"
	"time"

	"fairprice-bot/internal/belief"
	"fairprice-bot/internal/config"
	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/market"
	"fairprice-bot/internal/smooth"

	"go.uber.org/zap"
)

const minWeight = 1e-9

// Estimator is not safe for concurrent use; a single pipeline stage owns it.
type Estimator struct {
	cfg  config.EstimatorConfig
	keys []instrument.Key
	log  *zap.Logger
	fit  fitter

	window  *market.Window[market.Tick]
	trend   map[instrument.Key]*smooth.Trend
	volume  map[instrument.Key]*smooth.EMA
	stepErr map[instrument.Key]*smooth.MSE

	model     Model
	sinceFit  int
	fitted    bool
	prevFair  belief.Set
	lastTime  time.Time
	lastPrice map[instrument.Key]float64
}

func New(cfg config.EstimatorConfig, keys []instrument.Key, log *zap.Logger) (*Estimator, error) {
	if len(keys) < 2 {
		return nil, errors.New("estimator needs at least two instruments")
	}
	if cfg.WindowSize < 2 {
		return nil, errors.New("window size must be >= 2")
	}
	if log == nil {
		log = zap.NewNop()
	}
	sorted := append([]instrument.Key(nil), keys...)
	instrument.Sort(sorted)
	e := &Estimator{
		cfg:  cfg,
		keys: sorted,
		log:  log,
		fit: fitter{
			trainFraction:   cfg.TrainFraction,
			maxPValue:       cfg.MaxPValue,
			duplicateCosine: cfg.DuplicateCosine,
			adfLags:         cfg.ADFLagsValue(),
		},
		window:  market.NewWindow[market.Tick](cfg.WindowSize),
		trend:   make(map[instrument.Key]*smooth.Trend, len(sorted)),
		volume:  make(map[instrument.Key]*smooth.EMA, len(sorted)),
		stepErr: make(map[instrument.Key]*smooth.MSE, len(sorted)),
		model:   Model{Keys: sorted},
	}
	for _, k := range sorted {
		tr, err := smooth.NewTrend(cfg.PriceHalfLife, cfg.TrendHalfLife)
		if err != nil {
			return nil, fmt.Errorf("price smoother: %w", err)
		}
		vol, err := smooth.NewEMA(cfg.VolumeHalfLife)
		if err != nil {
			return nil, fmt.Errorf("volume smoother: %w", err)
		}
		mse, err := smooth.NewMSE(cfg.ErrorHalfLife)
		if err != nil {
			return nil, fmt.Errorf("error tracker: %w", err)
		}
		e.trend[k] = tr
		e.volume[k] = vol
		e.stepErr[k] = mse
	}
	return e, nil
}

func (e *Estimator) Keys() []instrument.Key {
	return append([]instrument.Key(nil), e.keys...)
}

// Model returns a copy of the relations accepted at the last refit.
func (e *Estimator) Model() Model {
	return e.model.clone()
}

func (e *Estimator) Relations() int {
	return len(e.model.Relations)
}

// Update consumes one tick and returns the fused belief per instrument.
// Until enough data has been seen, or when no relation holds, it returns a
// null belief centred on the current price.
func (e *Estimator) Update(tick market.Tick) (belief.Set, error) {
	if err := tick.Validate(e.keys, e.lastTime); err != nil {
		return nil, err
	}
	e.window.Push(tick)
	prices := tick.Prices()
	defer func() {
		e.observe(tick)
		e.lastTime = tick.Time
		e.lastPrice = prices
	}()

	if !e.ready() {
		e.prevFair = nil
		return belief.NullSet(prices), nil
	}

	series := e.detrended()
	e.sinceFit++
	if !e.fitted || e.sinceFit >= e.cfg.CointegrationPeriod {
		e.refit(tick.Time, series)
	}
	if len(e.model.Relations) == 0 {
		e.prevFair = nil
		return belief.NullSet(prices), nil
	}

	out := make(belief.Set, len(e.keys))
	for i, k := range e.keys {
		abs := e.absolute(i, series, prices[k])
		rel, move, ok := e.relative(i, series)
		if ok {
			if realised, has := e.lastPrice[k]; has {
				e.stepErr[k].Observe(prices[k]-realised, move)
			}
		}
		inflate := e.volumePenalty(k, tick.Quotes[k].Volume)
		if !abs.IsNull() {
			abs.Variance *= inflate
		}
		if !rel.IsNull() {
			rel.Variance *= inflate
		}
		fused := belief.FuseDisagreeing(e.cfg.DisagreementPenalty, abs, rel)
		if fused.IsNull() {
			fused = belief.Null(prices[k])
		}
		out[k] = fused
	}
	e.prevFair = out.Clone()
	return out, nil
}

func (e *Estimator) ready() bool {
	if !e.window.Full() {
		return false
	}
	for _, k := range e.keys {
		if !e.trend[k].Ready() || !e.volume[k].Ready() {
			return false
		}
	}
	return true
}

func (e *Estimator) observe(tick market.Tick) {
	for _, k := range e.keys {
		q := tick.Quotes[k]
		e.trend[k].Observe(q.Price)
		e.volume[k].Observe(q.Volume)
	}
}

// detrended returns the window per instrument with each past price carried
// forward to the current tick along the smoothed trend.
func (e *Estimator) detrended() [][]float64 {
	n := e.window.Len()
	series := make([][]float64, len(e.keys))
	for i, k := range e.keys {
		slope := e.trend[k].Slope()
		s := make([]float64, n)
		for t := 0; t < n; t++ {
			s[t] = e.window.At(t).Price(k) + float64(n-1-t)*slope
		}
		series[i] = s
	}
	return series
}

func (e *Estimator) refit(now time.Time, series [][]float64) {
	outcome := e.fit.fit(e.keys, series, e.model.Relations)
	relations := append(outcome.accepted, outcome.kept...)
	e.model = Model{Keys: e.keys, Relations: relations, FittedAt: now}
	e.sinceFit = 0
	e.fitted = true
	e.log.Info("cointegration model refit",
		zap.Int("pairs", outcome.tested),
		zap.Int("failed", outcome.failed),
		zap.Int("accepted", len(outcome.accepted)),
		zap.Int("kept", len(outcome.kept)),
	)
}

// absolute projects the current detrended prices onto every relation
// involving instrument i and reads off the price that would put each spread
// at its window mean.
func (e *Estimator) absolute(i int, series [][]float64, price float64) belief.Belief {
	var parts []belief.Belief
	for _, r := range e.model.Relations {
		w := r.Vector[i]
		if math.Abs(w) < minWeight {
			continue
		}
		spread := combine(r.Vector, series)
		mean, variance := meanVar(spread)
		if math.IsInf(variance, 1) {
			continue
		}
		current := spread[len(spread)-1]
		b, err := belief.New(price-(current-mean)/w, variance/(w*w)/confidence(r))
		if err != nil {
			continue
		}
		parts = append(parts, b)
	}
	return belief.FuseDisagreeing(e.cfg.DisagreementPenalty, parts...)
}

// relative predicts this tick's move of instrument i from the moves of the
// other legs of each relation and adds it to the previous fair price.
func (e *Estimator) relative(i int, series [][]float64) (belief.Belief, float64, bool) {
	k := e.keys[i]
	prev, ok := e.prevFair[k]
	if !ok || prev.IsNull() {
		return belief.Null(0), 0, false
	}
	n := len(series[0])
	steps := make([][]float64, len(series))
	for j, s := range series {
		d := make([]float64, n-1)
		for t := 1; t < n; t++ {
			d[t-1] = s[t] - s[t-1]
		}
		steps[j] = d
	}
	slope := e.trend[k].Slope()
	mse := e.stepErr[k]
	var parts []belief.Belief
	var moves []float64
	for _, r := range e.model.Relations {
		w := r.Vector[i]
		if math.Abs(w) < minWeight {
			continue
		}
		stepSpread := combine(r.Vector, steps)
		mean, variance := meanVar(stepSpread)
		if math.IsInf(variance, 1) {
			continue
		}
		var others float64
		for j := range r.Vector {
			if j != i {
				others += r.Vector[j] * steps[j][n-2]
			}
		}
		move := (mean-others)/w + slope
		variance /= w * w
		if mse.Ready() && mse.MSE() > variance {
			variance = mse.MSE()
		}
		b, err := belief.New(prev.Mean+move, variance/confidence(r))
		if err != nil {
			continue
		}
		parts = append(parts, b)
		moves = append(moves, move)
	}
	if len(parts) == 0 {
		return belief.Null(0), 0, false
	}
	var avg float64
	for _, m := range moves {
		avg += m
	}
	return belief.FuseDisagreeing(e.cfg.DisagreementPenalty, parts...), avg / float64(len(moves)), true
}

func (e *Estimator) volumePenalty(k instrument.Key, volume float64) float64 {
	limit := e.cfg.MaxVolumePenalty
	if limit < 1 {
		limit = 1
	}
	avg := e.volume[k].Value()
	if !(avg > 0) {
		return 1
	}
	if !(volume > 0) {
		return limit
	}
	return math.Min(math.Max(avg/volume, 1), limit)
}

func confidence(r Relation) float64 {
	if r.Confidence < minWeight {
		return minWeight
	}
	return r.Confidence
}
