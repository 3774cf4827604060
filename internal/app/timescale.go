package app

import (
	"fairprice-bot/internal/timescale"
	"fairprice-bot/internal/trader"
)

// beliefRecorder takes published fair values when belief recording is on.
type beliefRecorder interface {
	EnqueueBelief(timescale.Belief)
}

// journal forwards engine fills and positions to the timescale writer.
type journal struct {
	w *timescale.Writer
}

func (j journal) RecordFill(f trader.Fill) {
	j.w.EnqueueFill(timescale.Fill{
		Time:          f.Time.UTC(),
		Instrument:    f.Key.String(),
		Side:          string(f.Side),
		Size:          f.Size,
		Price:         f.Price,
		Fee:           f.Fee,
		OrderID:       f.OrderID,
		ClientOrderID: f.ClientOrderID,
		EdgeSD:        f.EdgeSD,
	})
}

func (j journal) RecordPosition(p trader.PositionSnapshot) {
	j.w.EnqueuePosition(timescale.PositionSnapshot{
		Time:       p.Time.UTC(),
		Instrument: p.Key.String(),
		Position:   p.Position,
		Quote:      p.Quote,
		Mid:        p.Mid,
		Fair:       p.Fair,
		Stddev:     p.Stddev,
		EdgeSD:     p.EdgeSD,
	})
}
