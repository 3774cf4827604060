package market

import (
	"errors"
	"fmt"
	"time"

	"fairprice-bot/internal/instrument"
)

var (
	ErrPartialTick = errors.New("tick does not cover every tracked instrument")
	ErrOutOfOrder  = errors.New("tick time is not increasing")
)

type Quote struct {
	Price  float64
	Volume float64
}

// Tick is one complete price/volume reading across all tracked instruments.
type Tick struct {
	Time   time.Time
	Quotes map[instrument.Key]Quote
}

func (t Tick) Price(key instrument.Key) float64 {
	return t.Quotes[key].Price
}

// Keys returns the instruments quoted in t, sorted.
func (t Tick) Keys() []instrument.Key {
	keys := make([]instrument.Key, 0, len(t.Quotes))
	for k := range t.Quotes {
		keys = append(keys, k)
	}
	instrument.Sort(keys)
	return keys
}

func (t Tick) Prices() map[instrument.Key]float64 {
	out := make(map[instrument.Key]float64, len(t.Quotes))
	for k, q := range t.Quotes {
		out[k] = q.Price
	}
	return out
}

// Validate checks the tick covers exactly keys with positive prices and
// follows prev in time. A zero prev time skips the ordering check.
func (t Tick) Validate(keys []instrument.Key, prev time.Time) error {
	if len(t.Quotes) != len(keys) {
		return fmt.Errorf("got %d quotes for %d instruments: %w", len(t.Quotes), len(keys), ErrPartialTick)
	}
	for _, k := range keys {
		q, ok := t.Quotes[k]
		if !ok {
			return fmt.Errorf("missing %s: %w", k, ErrPartialTick)
		}
		if !(q.Price > 0) {
			return fmt.Errorf("%s price %v: %w", k, q.Price, ErrPartialTick)
		}
	}
	if !prev.IsZero() && !t.Time.After(prev) {
		return fmt.Errorf("%s after %s: %w", t.Time, prev, ErrOutOfOrder)
	}
	return nil
}
