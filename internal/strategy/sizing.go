package strategy

import (
	"math"

	"fairprice-bot/internal/config"
)

// Sizer converts a fair-price belief into an order. The target position
// value is proportional to the edge in standard deviations; the order that
// moves toward it is only opened when the trend agrees and the fill price
// clears the entry threshold net of fees. Failing that, a position can still
// be reduced toward flat when the close edge clears the lower close
// threshold.
type Sizer struct {
	cfg config.SizingConfig
}

func NewSizer(cfg config.SizingConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

func (s *Sizer) Size(in Input) Decision {
	b := in.Belief
	if b.IsNull() || !(b.Variance > 0) || !(b.Mean > 0) || !in.Book.Valid() {
		return Decision{}
	}
	edge := (b.Mean - in.Book.Mid()) / b.Stddev()
	target := edge * s.cfg.SizeParameter / b.Mean
	proposed := target - in.Position
	d := Decision{EdgeSD: edge, Target: target}
	if proposed == 0 || math.IsNaN(proposed) {
		return d
	}

	buying := proposed > 0
	ret := fillEdge(buying, b.Mean, in.Book.Bid.Price, in.Book.Ask.Price)
	if s.trendAgrees(edge, in.Trend) && ret > s.cfg.MinEdgeToEnter+in.Fee {
		d.Open = proposed
		return d
	}

	reducing := (in.Position > 0 && !buying) || (in.Position < 0 && buying)
	if reducing && ret-in.Fee > s.cfg.MinEdgeToClose {
		if buying {
			d.Close = math.Min(proposed, -in.Position)
		} else {
			d.Close = math.Max(proposed, -in.Position)
		}
	}
	return d
}

// fillEdge is the fractional gain against fair value of crossing the spread:
// buying at the ask or selling at the bid.
func fillEdge(buying bool, fair, bid, ask float64) float64 {
	if buying {
		return fair/ask - 1
	}
	return bid/fair - 1
}

func (s *Sizer) trendAgrees(edge, trend float64) bool {
	if math.Abs(trend) <= s.cfg.TrendCutoff {
		return false
	}
	return (edge > 0) == (trend > 0)
}
