package trader

import (
	"fairprice-bot/internal/market"
	"fairprice-bot/internal/smooth"
)

// trendTracker smooths the fractional change of fair value across a window
// of recent beliefs.
type trendTracker struct {
	means *market.Window[float64]
	ema   *smooth.EMA
}

func newTrendTracker(window int, halfLife float64) (*trendTracker, error) {
	ema, err := smooth.NewEMA(halfLife)
	if err != nil {
		return nil, err
	}
	return &trendTracker{means: market.NewWindow[float64](window), ema: ema}, nil
}

func (t *trendTracker) observe(mean float64) {
	t.means.Push(mean)
	if t.means.Len() < 2 {
		return
	}
	first, _ := t.means.First()
	last, _ := t.means.Last()
	if first == 0 {
		return
	}
	t.ema.Observe((last - first) / first)
}

func (t *trendTracker) value() float64 {
	return t.ema.Value()
}
