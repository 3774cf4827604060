package strategy

import (
	"math"
	"testing"

	"fairprice-bot/internal/belief"
	"fairprice-bot/internal/config"
	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/market"
)

var key = instrument.New("paper", "ETH", "USD")

func book(bid, ask float64) market.Book {
	return market.Book{
		Key: key,
		Bid: market.Level{Price: bid, Size: 10},
		Ask: market.Level{Price: ask, Size: 10},
	}
}

func sizer(enter, close float64) *Sizer {
	return NewSizer(config.SizingConfig{
		SizeParameter:  10,
		MinEdgeToEnter: enter,
		MinEdgeToClose: close,
		TrendCutoff:    0.0001,
	})
}

func TestEntryBoundaryIsStrict(t *testing.T) {
	s := sizer(0.5, 0.1)
	in := Input{
		Belief: belief.MustNew(1.75, 0.01),
		Book:   book(0.99, 1),
		Trend:  0.01,
		Fee:    0.25,
	}
	if d := s.Size(in); d.Size() != 0 {
		t.Fatalf("expected no order at edge == threshold + fee, got %v", d.Size())
	}
	in.Belief = belief.MustNew(1.7500001, 0.01)
	if d := s.Size(in); d.Open <= 0 {
		t.Fatalf("expected buy just above threshold, got %+v", d)
	}
}

func TestEdgeBelowFeePlusThresholdDoesNotEnter(t *testing.T) {
	s := sizer(0.002, 0.0005)
	in := Input{
		Belief: belief.MustNew(100.25, 0.01),
		Book:   book(99.9, 100),
		Trend:  0.01,
		Fee:    0.001,
	}
	// 0.25% edge against 0.2% threshold + 0.1% fee.
	if d := s.Size(in); d.Size() != 0 {
		t.Fatalf("expected no order, got %+v", d)
	}
}

func TestEntryNeedsTrendAgreement(t *testing.T) {
	s := sizer(0.001, 0.0005)
	in := Input{
		Belief: belief.MustNew(105, 1),
		Book:   book(99.9, 100),
		Trend:  -0.01,
	}
	if d := s.Size(in); d.Size() != 0 {
		t.Fatalf("expected trend filter to block entry, got %+v", d)
	}
	in.Trend = 0.00005
	if d := s.Size(in); d.Size() != 0 {
		t.Fatalf("expected trend below cutoff to block entry, got %+v", d)
	}
	in.Trend = 0.01
	d := s.Size(in)
	if d.Open <= 0 || d.Close != 0 {
		t.Fatalf("expected opening buy, got %+v", d)
	}
	wantEdge := (105 - 99.95) / 1.0
	if math.Abs(d.EdgeSD-wantEdge) > 1e-9 {
		t.Fatalf("expected edge %v, got %v", wantEdge, d.EdgeSD)
	}
	wantTarget := wantEdge * 10 / 105
	if math.Abs(d.Open-wantTarget) > 1e-9 {
		t.Fatalf("expected open %v, got %v", wantTarget, d.Open)
	}
}

func TestSellUsesBid(t *testing.T) {
	s := sizer(0.001, 0.0005)
	in := Input{
		Belief: belief.MustNew(95, 1),
		Book:   book(100, 100.1),
		Trend:  -0.01,
	}
	d := s.Size(in)
	if d.Open >= 0 {
		t.Fatalf("expected opening sell, got %+v", d)
	}
}

func TestCloseWithoutTrendNeverFlips(t *testing.T) {
	s := sizer(0.01, 0.001)
	in := Input{
		Belief:   belief.MustNew(95, 1),
		Book:     book(100, 100.1),
		Position: 0.2,
		Trend:    0.01,
	}
	d := s.Size(in)
	if d.Open != 0 {
		t.Fatalf("expected no opening order against the trend, got %+v", d)
	}
	if d.Close != -0.2 {
		t.Fatalf("expected close of exactly the long position, got %+v", d)
	}
}

func TestCloseNeedsEdgeNetOfFee(t *testing.T) {
	s := sizer(0.01, 0.001)
	in := Input{
		Belief:   belief.MustNew(99.95, 1),
		Book:     book(100, 100.1),
		Position: 0.2,
		Trend:    0.01,
		Fee:      0.001,
	}
	if d := s.Size(in); d.Size() != 0 {
		t.Fatalf("expected no close below close threshold, got %+v", d)
	}
}

func TestNullBeliefOrBadBookIsFlat(t *testing.T) {
	s := sizer(0.001, 0.0005)
	if d := s.Size(Input{Belief: belief.Null(100), Book: book(99, 101), Trend: 1}); d.Size() != 0 {
		t.Fatalf("expected no order for null belief, got %+v", d)
	}
	if d := s.Size(Input{Belief: belief.MustNew(110, 1), Book: book(0, 101), Trend: 1}); d.Size() != 0 {
		t.Fatalf("expected no order for invalid book, got %+v", d)
	}
}
