package state

import (
	"context"
	"sync"
	"testing"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

func TestLedgerSnapshotMissing(t *testing.T) {
	_, ok, err := LoadLedgerSnapshot(context.Background(), &memoryStore{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot")
	}
}

func TestLedgerSnapshotSaveLoad(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	in := LedgerSnapshot{
		Balances:    map[string]float64{"USD": 1000.5, "ETH": -0.25},
		Fills:       3,
		UpdatedAtMS: 1700000000000,
	}
	if err := SaveLedgerSnapshot(ctx, store, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, ok, err := LoadLedgerSnapshot(ctx, store)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if out.Balances["USD"] != 1000.5 || out.Balances["ETH"] != -0.25 {
		t.Fatalf("unexpected balances: %v", out.Balances)
	}
	if out.Fills != 3 || out.UpdatedAtMS != in.UpdatedAtMS {
		t.Fatalf("unexpected snapshot: %+v", out)
	}
}

func TestLedgerSnapshotCorrupt(t *testing.T) {
	store := &memoryStore{items: map[string]string{LedgerSnapshotKey: "not base64!"}}
	if _, _, err := LoadLedgerSnapshot(context.Background(), store); err == nil {
		t.Fatalf("expected decode error")
	}
}
