package trader

import (
	"sync"
	"time"

	"fairprice-bot/internal/exec"
	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/state"
)

// Ledger holds per-currency balances. Several instruments can share a quote
// currency, so it has its own lock beneath the per-instrument ones.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]float64
	fills    uint64
}

func NewLedger(balances map[string]float64) *Ledger {
	l := &Ledger{balances: make(map[string]float64, len(balances))}
	for k, v := range balances {
		l.balances[k] = v
	}
	return l
}

func (l *Ledger) Balance(currency string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[currency]
}

// Position is the base-currency balance for key.
func (l *Ledger) Position(key instrument.Key) float64 {
	return l.Balance(key.Base)
}

func (l *Ledger) Balances() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

// Apply books a fill: base moves by the signed filled size, quote by the
// opposite notional less the fee.
func (l *Ledger) Apply(key instrument.Key, side exec.Side, ack exec.Ack) {
	if ack.Filled == 0 {
		return
	}
	signed := ack.Filled
	if side == exec.SideSell {
		signed = -signed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[key.Base] += signed
	l.balances[key.Quote] -= signed*ack.AvgPrice + ack.Fee
	l.fills++
}

func (l *Ledger) Snapshot(now time.Time) state.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := state.LedgerSnapshot{
		Balances:    make(map[string]float64, len(l.balances)),
		Fills:       l.fills,
		UpdatedAtMS: now.UnixMilli(),
	}
	for k, v := range l.balances {
		out.Balances[k] = v
	}
	return out
}

func (l *Ledger) Restore(snapshot state.LedgerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[string]float64, len(snapshot.Balances))
	for k, v := range snapshot.Balances {
		l.balances[k] = v
	}
	l.fills = snapshot.Fills
}
