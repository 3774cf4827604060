package paper

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/market"
)

var ErrBadRow = errors.New("malformed tick row")

// Replay plays recorded ticks back at a fixed interval. Books are derived
// from each tick's price with a symmetric fractional spread.
type Replay struct {
	ticks    []market.Tick
	interval time.Duration
	spread   float64
}

func NewReplay(ticks []market.Tick, interval time.Duration, spread float64) *Replay {
	return &Replay{ticks: ticks, interval: interval, spread: spread}
}

func (r *Replay) Len() int { return len(r.ticks) }

// StreamTicks returns nil once every tick has been delivered.
func (r *Replay) StreamTicks(ctx context.Context, fn func(market.Tick)) error {
	for i, tick := range r.ticks {
		if err := r.wait(ctx, i); err != nil {
			return err
		}
		fn(tick)
	}
	return nil
}

func (r *Replay) StreamBooks(ctx context.Context, fn func(market.Book)) error {
	for i, tick := range r.ticks {
		if err := r.wait(ctx, i); err != nil {
			return err
		}
		for _, k := range tick.Keys() {
			fn(r.Book(k, tick))
		}
	}
	return nil
}

// Book synthesizes the top of book for key at tick. Level sizes are the
// tick volume.
func (r *Replay) Book(key instrument.Key, tick market.Tick) market.Book {
	q := tick.Quotes[key]
	half := q.Price * r.spread / 2
	return market.Book{
		Key:  key,
		Time: tick.Time,
		Bid:  market.Level{Price: q.Price - half, Size: q.Volume},
		Ask:  market.Level{Price: q.Price + half, Size: q.Volume},
	}
}

func (r *Replay) wait(ctx context.Context, i int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if i == 0 || r.interval <= 0 {
		return nil
	}
	timer := time.NewTimer(r.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func LoadTicksCSV(path, venue string) ([]market.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTicksCSV(f, venue)
}

// ReadTicksCSV reads long-format rows with the headers time (or timestamp),
// instrument (or symbol), price and an optional volume. Consecutive rows
// sharing a time form one tick. Times are RFC3339, unix seconds or unix
// milliseconds. Instruments without a venue prefix get venue.
func ReadTicksCSV(r io.Reader, venue string) ([]market.Tick, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	timeCol, ok := column(cols, "time", "timestamp")
	if !ok {
		return nil, fmt.Errorf("missing time column: %w", ErrBadRow)
	}
	keyCol, ok := column(cols, "instrument", "symbol")
	if !ok {
		return nil, fmt.Errorf("missing instrument column: %w", ErrBadRow)
	}
	priceCol, ok := column(cols, "price", "close")
	if !ok {
		return nil, fmt.Errorf("missing price column: %w", ErrBadRow)
	}
	volumeCol, hasVolume := column(cols, "volume")

	var ticks []market.Tick
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		field := func(i int) string {
			if i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		ts, err := parseTime(field(timeCol))
		if err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", line, err, ErrBadRow)
		}
		key, err := parseInstrument(field(keyCol), venue)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		price, err := strconv.ParseFloat(field(priceCol), 64)
		if err != nil || !(price > 0) {
			return nil, fmt.Errorf("line %d: price %q: %w", line, field(priceCol), ErrBadRow)
		}
		var volume float64
		if hasVolume && field(volumeCol) != "" {
			volume, err = strconv.ParseFloat(field(volumeCol), 64)
			if err != nil || volume < 0 {
				return nil, fmt.Errorf("line %d: volume %q: %w", line, field(volumeCol), ErrBadRow)
			}
		}

		n := len(ticks)
		switch {
		case n > 0 && ticks[n-1].Time.Equal(ts):
		case n > 0 && ts.Before(ticks[n-1].Time):
			return nil, fmt.Errorf("line %d: %w", line, market.ErrOutOfOrder)
		default:
			ticks = append(ticks, market.Tick{Time: ts, Quotes: make(map[instrument.Key]market.Quote)})
			n++
		}
		ticks[n-1].Quotes[key] = market.Quote{Price: price, Volume: volume}
	}
	return ticks, nil
}

func column(cols map[string]int, names ...string) (int, bool) {
	for _, name := range names {
		if i, ok := cols[name]; ok {
			return i, true
		}
	}
	return 0, false
}

func parseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q", s)
	}
	return t.UTC(), nil
}

func parseInstrument(s, venue string) (instrument.Key, error) {
	if strings.Contains(s, ":") {
		return instrument.Parse(s)
	}
	base, quote, ok := strings.Cut(s, "/")
	if !ok {
		base, quote, ok = strings.Cut(s, "-")
	}
	if !ok {
		return instrument.Key{}, fmt.Errorf("%q: %w", s, instrument.ErrInvalidKey)
	}
	return instrument.Parse(venue + ":" + base + "/" + quote)
}
