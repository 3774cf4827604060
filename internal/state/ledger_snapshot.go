package state

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const LedgerSnapshotKey = "ledger:last_snapshot"

type LedgerSnapshot struct {
	Balances    map[string]float64 `msgpack:"balances"`
	Fills       uint64             `msgpack:"fills"`
	UpdatedAtMS int64              `msgpack:"updated_at_ms"`
}

func LoadLedgerSnapshot(ctx context.Context, store Store) (LedgerSnapshot, bool, error) {
	if store == nil {
		return LedgerSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, LedgerSnapshotKey)
	if err != nil {
		return LedgerSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return LedgerSnapshot{}, false, nil
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return LedgerSnapshot{}, false, fmt.Errorf("ledger snapshot: %w", err)
	}
	var snapshot LedgerSnapshot
	if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
		return LedgerSnapshot{}, false, fmt.Errorf("ledger snapshot: %w", err)
	}
	return snapshot, true, nil
}

func SaveLedgerSnapshot(ctx context.Context, store Store, snapshot LedgerSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, LedgerSnapshotKey, base64.StdEncoding.EncodeToString(payload))
}
