package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"fairprice-bot/internal/state"

	"go.uber.org/zap"
)

type RetryPolicy struct {
	Retries int
	Backoff time.Duration
}

// Executor wraps an OrderSink with idempotent placement keyed by client
// order id and bounded retries.
type Executor struct {
	sink   OrderSink
	store  state.Store
	log    *zap.Logger
	policy RetryPolicy

	mu    sync.Mutex
	cache map[string]Ack
}

func New(sink OrderSink, store state.Store, policy RetryPolicy, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	if policy.Backoff <= 0 {
		policy.Backoff = 200 * time.Millisecond
	}
	return &Executor{
		sink:   sink,
		store:  store,
		log:    log,
		policy: policy,
		cache:  make(map[string]Ack),
	}
}

func (e *Executor) PlaceOrder(ctx context.Context, order Order) (Ack, error) {
	if order.Size <= 0 {
		return Ack{}, fmt.Errorf("order size %v: %w", order.Size, ErrRejected)
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = NewClientOrderID()
	}
	cacheKey := "cloid:" + order.ClientOrderID
	if ack, ok, err := e.cached(ctx, cacheKey); err != nil {
		return Ack{}, err
	} else if ok {
		return ack, nil
	}
	ack, err := e.placeWithRetry(ctx, order)
	if err != nil {
		return Ack{}, err
	}
	if ack.ClientOrderID == "" {
		ack.ClientOrderID = order.ClientOrderID
	}
	if e.store != nil {
		if raw, err := json.Marshal(ack); err != nil {
			e.log.Warn("failed to encode order ack", zap.Error(err))
		} else if err := e.store.Set(ctx, cacheKey, string(raw)); err != nil {
			e.log.Warn("failed to persist order ack", zap.String("cloid", order.ClientOrderID), zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = ack
	e.mu.Unlock()
	return ack, nil
}

func (e *Executor) CancelOrder(ctx context.Context, orderID string) error {
	return e.retry(ctx, func() error {
		return e.sink.CancelOrder(ctx, orderID)
	})
}

func (e *Executor) Balances(ctx context.Context) (map[string]float64, error) {
	var out map[string]float64
	err := e.retry(ctx, func() error {
		var err error
		out, err = e.sink.Balances(ctx)
		return err
	})
	return out, err
}

func (e *Executor) cached(ctx context.Context, key string) (Ack, bool, error) {
	e.mu.Lock()
	ack, ok := e.cache[key]
	e.mu.Unlock()
	if ok || e.store == nil {
		return ack, ok, nil
	}
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil || !ok {
		return Ack{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &ack); err != nil {
		return Ack{}, false, fmt.Errorf("decode cached ack %s: %w", key, err)
	}
	e.mu.Lock()
	e.cache[key] = ack
	e.mu.Unlock()
	return ack, true, nil
}

func (e *Executor) placeWithRetry(ctx context.Context, order Order) (Ack, error) {
	var ack Ack
	err := e.retry(ctx, func() error {
		var err error
		ack, err = e.sink.PlaceOrder(ctx, order)
		return err
	})
	if err != nil {
		return Ack{}, err
	}
	if ack.OrderID == "" {
		return Ack{}, errors.New("empty order id")
	}
	return ack, nil
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := e.policy.Backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt >= e.policy.Retries {
			if attempt == 0 {
				return err
			}
			return fmt.Errorf("retry failed after %d attempts: %w", attempt+1, err)
		}
		e.log.Debug("retrying venue call", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}
