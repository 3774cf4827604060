// Package paper simulates a venue in memory: orders fill against the latest
// book and prices can be replayed from recorded ticks.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"fairprice-bot/internal/exec"
	"fairprice-bot/internal/market"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNoBook       = errors.New("no book for instrument")
	ErrUnknownOrder = errors.New("unknown order")
)

// Exchange fills orders immediately at the touch. Orders never rest: the
// unfilled remainder of any order is cancelled.
type Exchange struct {
	feeRate float64
	books   *market.BookCache
	log     *zap.Logger

	mu       sync.Mutex
	balances map[string]float64
	orders   map[string]exec.Ack
}

func NewExchange(feeRate float64, balances map[string]float64, log *zap.Logger) *Exchange {
	if log == nil {
		log = zap.NewNop()
	}
	x := &Exchange{
		feeRate:  feeRate,
		books:    market.NewBookCache(),
		log:      log,
		balances: make(map[string]float64, len(balances)),
		orders:   make(map[string]exec.Ack),
	}
	for k, v := range balances {
		x.balances[k] = v
	}
	return x
}

func (x *Exchange) UpdateBook(book market.Book) {
	x.books.Update(book)
}

func (x *Exchange) PlaceOrder(ctx context.Context, order exec.Order) (exec.Ack, error) {
	if err := ctx.Err(); err != nil {
		return exec.Ack{}, err
	}
	if !(order.Size > 0) || !(order.Price > 0) {
		return exec.Ack{}, fmt.Errorf("size %v price %v: %w", order.Size, order.Price, exec.ErrRejected)
	}
	book, ok := x.books.Get(order.Key)
	if !ok || !book.Valid() {
		return exec.Ack{}, fmt.Errorf("%s: %w: %w", order.Key, ErrNoBook, exec.ErrRejected)
	}
	level := book.Ask
	crosses := level.Price <= order.Price
	if order.Side == exec.SideSell {
		level = book.Bid
		crosses = level.Price >= order.Price
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	ack := exec.Ack{OrderID: uuid.NewString(), ClientOrderID: order.ClientOrderID}
	if crosses {
		filled := order.Size
		if level.Size > 0 {
			filled = math.Min(filled, level.Size)
		}
		if order.ReduceOnly {
			filled = x.reducible(order, filled)
		}
		if filled > 0 {
			signed := filled
			if order.Side == exec.SideSell {
				signed = -signed
			}
			ack.Filled = filled
			ack.AvgPrice = level.Price
			ack.Fee = filled * level.Price * x.feeRate
			x.balances[order.Key.Base] += signed
			x.balances[order.Key.Quote] -= signed*level.Price + ack.Fee
		}
	}
	x.orders[ack.OrderID] = ack
	x.log.Debug("paper order",
		zap.String("instrument", order.Key.String()),
		zap.String("side", string(order.Side)),
		zap.Float64("size", order.Size),
		zap.Float64("limit", order.Price),
		zap.Float64("filled", ack.Filled),
		zap.Float64("price", ack.AvgPrice),
	)
	return ack, nil
}

// reducible caps filled so a reduce-only order cannot grow or flip the base
// balance. Callers hold x.mu.
func (x *Exchange) reducible(order exec.Order, filled float64) float64 {
	position := x.balances[order.Key.Base]
	switch {
	case order.Side == exec.SideSell && position > 0:
		return math.Min(filled, position)
	case order.Side == exec.SideBuy && position < 0:
		return math.Min(filled, -position)
	}
	return 0
}

// CancelOrder succeeds for any known order since none of them rest.
func (x *Exchange) CancelOrder(_ context.Context, orderID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.orders[orderID]; !ok {
		return fmt.Errorf("%s: %w", orderID, ErrUnknownOrder)
	}
	return nil
}

func (x *Exchange) Balances(context.Context) (map[string]float64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[string]float64, len(x.balances))
	for k, v := range x.balances {
		out[k] = v
	}
	return out, nil
}
