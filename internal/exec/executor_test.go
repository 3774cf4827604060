package exec

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fairprice-bot/internal/instrument"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type mockSink struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	orderID  string
}

func (m *mockSink) PlaceOrder(ctx context.Context, order Order) (Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return Ack{}, m.err
	}
	return Ack{OrderID: m.orderID, Filled: order.Size, AvgPrice: order.Price}, nil
}

func (m *mockSink) CancelOrder(ctx context.Context, orderID string) error {
	return nil
}

func (m *mockSink) Balances(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"USD": 100}, nil
}

var eth = instrument.New("paper", "ETH", "USD")

func TestExecutorIdempotentPlacement(t *testing.T) {
	store := newMemoryStore()
	sink := &mockSink{orderID: "oid-1"}
	logger := zap.NewNop()
	executor := New(sink, store, RetryPolicy{}, logger)

	ctx := context.Background()
	order := Order{Key: eth, Side: SideBuy, Type: OrderIOC, Price: 10, Size: 1, ClientOrderID: "abc"}

	ack1, err := executor.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ack2, err := executor.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack1 != ack2 {
		t.Fatalf("expected same ack, got %+v and %+v", ack1, ack2)
	}
	if sink.calls != 1 {
		t.Fatalf("expected 1 sink call, got %d", sink.calls)
	}

	sink2 := &mockSink{orderID: "oid-2"}
	executor2 := New(sink2, store, RetryPolicy{}, logger)
	ack3, err := executor2.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack3.OrderID != "oid-1" || ack3.Filled != 1 {
		t.Fatalf("expected stored ack, got %+v", ack3)
	}
	if sink2.calls != 0 {
		t.Fatalf("expected no sink calls on restart, got %d", sink2.calls)
	}
}

func TestExecutorAssignsClientOrderID(t *testing.T) {
	sink := &mockSink{orderID: "oid"}
	executor := New(sink, nil, RetryPolicy{}, nil)
	ack, err := executor.PlaceOrder(context.Background(), Order{Key: eth, Side: SideSell, Size: 1, Price: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(ack.ClientOrderID, "0x") || len(ack.ClientOrderID) != 34 {
		t.Fatalf("expected 0x-prefixed 16 byte cloid, got %q", ack.ClientOrderID)
	}
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	sink := &mockSink{orderID: "oid", failures: 2, err: errors.New("timeout")}
	executor := New(sink, nil, RetryPolicy{Retries: 2, Backoff: time.Millisecond}, nil)
	if _, err := executor.PlaceOrder(context.Background(), Order{Key: eth, Side: SideBuy, Size: 1, Price: 1}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if sink.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", sink.calls)
	}
}

func TestExecutorDoesNotRetryRejections(t *testing.T) {
	sink := &mockSink{orderID: "oid", failures: 5, err: ErrRejected}
	executor := New(sink, nil, RetryPolicy{Retries: 3, Backoff: time.Millisecond}, nil)
	_, err := executor.PlaceOrder(context.Background(), Order{Key: eth, Side: SideBuy, Size: 1, Price: 1})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("expected a single call, got %d", sink.calls)
	}
}

func TestExecutorZeroRetriesSurfacesError(t *testing.T) {
	boom := errors.New("boom")
	sink := &mockSink{orderID: "oid", failures: 1, err: boom}
	executor := New(sink, nil, RetryPolicy{}, nil)
	_, err := executor.PlaceOrder(context.Background(), Order{Key: eth, Side: SideBuy, Size: 1, Price: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
