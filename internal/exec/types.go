package exec

import (
	"context"
	"encoding/hex"
	"errors"

	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/market"

	"github.com/google/uuid"
)

// ErrRejected marks a venue refusal; rejected orders are not retried.
var ErrRejected = errors.New("order rejected")

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderLimit OrderType = "limit"
	OrderIOC   OrderType = "ioc"
)

// Order sizes are positive base units; Side carries the direction.
type Order struct {
	Key           instrument.Key
	Side          Side
	Type          OrderType
	Price         float64
	Size          float64
	ReduceOnly    bool
	ClientOrderID string
}

func (o Order) Signed() float64 {
	if o.Side == SideSell {
		return -o.Size
	}
	return o.Size
}

// Ack is the venue's acknowledgement. Filled is in base units, Fee in quote.
type Ack struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"cloid,omitempty"`
	Filled        float64 `json:"filled"`
	AvgPrice      float64 `json:"avg_price"`
	Fee           float64 `json:"fee"`
}

type OrderSink interface {
	PlaceOrder(ctx context.Context, order Order) (Ack, error)
	CancelOrder(ctx context.Context, orderID string) error
	Balances(ctx context.Context) (map[string]float64, error)
}

type PriceSource interface {
	StreamTicks(ctx context.Context, fn func(market.Tick)) error
}

type BookSource interface {
	StreamBooks(ctx context.Context, fn func(market.Book)) error
}

// NewClientOrderID returns a random 128-bit id as 0x-prefixed hex, the
// format Hyperliquid accepts for cloids.
func NewClientOrderID() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}
