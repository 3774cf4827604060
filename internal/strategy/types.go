package strategy

import (
	"fairprice-bot/internal/belief"
	"fairprice-bot/internal/market"
)

type State string

type Event string

const (
	StateIdle    State = "IDLE"
	StateTrading State = "TRADING"
)

const (
	EventLock    Event = "LOCK"
	EventRelease Event = "RELEASE"
)

// Input is everything a sizing decision looks at for one instrument.
// Position is in base units; Trend is a smoothed fractional change of the
// fair price; Fee is the fractional cost of one fill.
type Input struct {
	Belief   belief.Belief
	Book     market.Book
	Position float64
	Trend    float64
	Fee      float64
}

// Decision is signed in base units: positive buys, negative sells.
type Decision struct {
	EdgeSD float64
	Target float64
	Open   float64
	Close  float64
}

func (d Decision) Size() float64 {
	return d.Open + d.Close
}

func (d Decision) IsBuy() bool {
	return d.Size() > 0
}
