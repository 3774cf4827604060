package fairprice

import (
	"math"
	"time"

	"fairprice-bot/internal/fairprice/stats"
	"fairprice-bot/internal/instrument"
)

// Relation is a stationary linear combination of instrument prices. Vector
// is indexed like Model.Keys and has unit length.
type Relation struct {
	Vector     []float64
	Pair       [2]instrument.Key
	Trace      float64
	PValue     float64
	Confidence float64
}

// Model is the set of relations accepted at the last refit.
type Model struct {
	Keys      []instrument.Key
	Relations []Relation
	FittedAt  time.Time
}

func (m Model) clone() Model {
	out := Model{Keys: append([]instrument.Key(nil), m.Keys...), FittedAt: m.FittedAt}
	out.Relations = make([]Relation, len(m.Relations))
	for i, r := range m.Relations {
		r.Vector = append([]float64(nil), r.Vector...)
		out.Relations[i] = r
	}
	return out
}

// combine returns Σ vector_k series_k[t] for every t.
func combine(vector []float64, series [][]float64) []float64 {
	if len(series) == 0 {
		return nil
	}
	out := make([]float64, len(series[0]))
	for k, w := range vector {
		if w == 0 {
			continue
		}
		for t, v := range series[k] {
			out[t] += w * v
		}
	}
	return out
}

func meanVar(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, math.Inf(1)
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, math.Inf(1)
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, ss / float64(len(xs)-1)
}

// fitter runs the pairwise Johansen/ADF procedure.
type fitter struct {
	trainFraction   float64
	maxPValue       float64
	duplicateCosine float64
	adfLags         int
}

type fitOutcome struct {
	accepted []Relation
	kept     []Relation
	tested   int
	failed   int
}

func (f fitter) fit(keys []instrument.Key, series [][]float64, previous []Relation) fitOutcome {
	var out fitOutcome
	if len(series) == 0 {
		return out
	}
	total := len(series[0])
	split := int(float64(total) * f.trainFraction)
	train := make([][]float64, len(series))
	hold := make([][]float64, len(series))
	for k, s := range series {
		train[k] = s[:split]
		hold[k] = s[split:]
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			out.tested++
			res, err := stats.Johansen([][]float64{train[i], train[j]})
			if err != nil {
				out.failed++
				continue
			}
			for r := 0; r < res.Rank(); r++ {
				vec := make([]float64, len(keys))
				vec[i] = res.Vectors[r][0]
				vec[j] = res.Vectors[r][1]
				p, ok := f.validate(vec, hold)
				if !ok {
					continue
				}
				out.accepted = append(out.accepted, Relation{
					Vector:     vec,
					Pair:       [2]instrument.Key{keys[i], keys[j]},
					Trace:      res.Trace[r],
					PValue:     p,
					Confidence: 1 - p,
				})
			}
		}
	}
	for _, prev := range previous {
		if f.duplicates(prev, out.accepted) {
			continue
		}
		p, ok := f.validate(prev.Vector, hold)
		if !ok {
			continue
		}
		prev.PValue = p
		prev.Confidence = 1 - p
		out.kept = append(out.kept, prev)
	}
	return out
}

func (f fitter) validate(vector []float64, hold [][]float64) (float64, bool) {
	res, err := stats.ADF(combine(vector, hold), f.adfLags)
	if err != nil {
		return 1, false
	}
	return res.PValue, res.PValue < f.maxPValue
}

func (f fitter) duplicates(r Relation, against []Relation) bool {
	for _, other := range against {
		if math.Abs(stats.Cosine(r.Vector, other.Vector)) > f.duplicateCosine {
			return true
		}
	}
	return false
}
