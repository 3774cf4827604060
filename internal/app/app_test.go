package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fairprice-bot/internal/belief"
	"fairprice-bot/internal/config"
	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/metrics"
	"fairprice-bot/internal/state"
	"fairprice-bot/internal/timescale"
	"fairprice-bot/internal/venue/hyperliquid"
	"fairprice-bot/internal/venue/hyperliquid/exchange"
	"fairprice-bot/internal/venue/paper"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testKey = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2"

const paperConfig = `
instruments: ["paper:ETH/USDC", "paper:BTC/USDC"]
venue:
  name: paper
  fee_rate: 0.001
  paper_balances: {USDC: 10000}
  paper_ticks: "%s"
  tick_interval: 1ms
estimator:
  window_size: 20
  cointegration_period: 10
sizing:
  size_parameter: 50
  trend_window: 5
state:
  sqlite_path: "%s/state.db"
metrics:
  enabled: false
`

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	for _, name := range []string{"FP_PRIVATE_KEY", "FP_WALLET_ADDRESS", "FP_TELEGRAM_TOKEN", "FP_TELEGRAM_CHAT_ID", "FP_TIMESCALE_DSN"} {
		t.Setenv(name, "")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

// writeTicks writes n ticks of a random walk and a series cointegrated with
// it.
func writeTicks(t *testing.T, dir string, n int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	var b strings.Builder
	b.WriteString("time,instrument,price,volume\n")
	eth := 100.0
	start := int64(1_700_000_000)
	for i := 0; i < n; i++ {
		eth = max(eth+rng.NormFloat64(), 50)
		btc := 2*eth + 0.5*rng.NormFloat64()
		ts := start + int64(i)
		fmt.Fprintf(&b, "%d,ETH/USDC,%.4f,1000\n%d,BTC/USDC,%.4f,1000\n", ts, eth, ts, btc)
	}
	path := filepath.Join(dir, "ticks.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("write ticks: %v", err)
	}
	return path
}

func TestRunPaperReplayToCompletion(t *testing.T) {
	dir := t.TempDir()
	const n = 60
	cfg := loadConfig(t, fmt.Sprintf(paperConfig, writeTicks(t, dir, n), dir))

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	var exited atomic.Int32
	a.supervisor.SetExit(func(code int) { exited.Store(int32(code)) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))
	require.Zero(t, exited.Load())

	stats := a.Engine().Stats()
	require.EqualValues(t, 2*n, stats.BeliefAttempts, "every belief set reaches every instrument")
	last, ok := a.Engine().Beliefs().Latest()
	require.True(t, ok, "last belief set is kept after shutdown")
	require.Len(t, last, 2)
	require.EqualValues(t, 2*n, stats.BookAttempts+stats.BookSkipped, "every book is either traded or skipped")

	venue, err := a.paper.Balances(ctx)
	require.NoError(t, err)
	ledger := a.Engine().Ledger().Balances()
	for currency, want := range venue {
		require.InDelta(t, want, ledger[currency], 1e-9, currency)
	}
}

func TestLoadLedgerCarriesFillsAndPrefersVenueBalances(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, fmt.Sprintf(paperConfig, writeTicks(t, dir, 25), dir))
	core, logs := observer.New(zapcore.WarnLevel)
	a, err := New(cfg, zap.New(core))
	require.NoError(t, err)
	defer a.store.Close()

	ctx := context.Background()
	require.NoError(t, state.SaveLedgerSnapshot(ctx, a.store, state.LedgerSnapshot{
		Balances:    map[string]float64{"USDC": 5, "ETH": 3},
		Fills:       7,
		UpdatedAtMS: time.Now().UnixMilli(),
	}))

	ledger, err := a.loadLedger(ctx)
	require.NoError(t, err)
	require.Equal(t, 10000.0, ledger.Balance("USDC"))
	require.Zero(t, ledger.Position(a.keys[1]))
	require.EqualValues(t, 7, ledger.Snapshot(time.Now()).Fills)
	require.Equal(t, 2, logs.FilterMessage("balance drift since last snapshot").Len())
}

func TestLoadLedgerWithoutSnapshotSeedsFromVenue(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, fmt.Sprintf(paperConfig, writeTicks(t, dir, 25), dir))
	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.store.Close()

	ledger, err := a.loadLedger(context.Background())
	require.NoError(t, err)
	if got := ledger.Balance("USDC"); got != 10000 {
		t.Fatalf("expected USDC 10000, got %v", got)
	}
	if got := ledger.Snapshot(time.Now()).Fills; got != 0 {
		t.Fatalf("expected no fills, got %d", got)
	}
}

type beliefLog struct {
	rows []timescale.Belief
}

func (l *beliefLog) EnqueueBelief(b timescale.Belief) { l.rows = append(l.rows, b) }

func TestEstimateRecordsBeliefsOnlyWhenAsked(t *testing.T) {
	dir := t.TempDir()
	path := writeTicks(t, dir, 60)
	cfg := loadConfig(t, fmt.Sprintf(paperConfig, path, dir))
	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.store.Close()
	require.Nil(t, a.recorder, "belief recording is off by default")

	ticks, err := paper.LoadTicksCSV(path, "paper")
	require.NoError(t, err)
	log := &beliefLog{}
	a.recorder = log
	published := 0
	for _, tick := range ticks {
		set, err := a.estimate(context.Background(), tick)
		require.NoError(t, err)
		for _, b := range set {
			if !b.IsNull() {
				published++
			}
		}
	}
	require.Len(t, log.rows, published, "one row per non-null belief")
	for _, row := range log.rows {
		require.False(t, math.IsNaN(row.Fair), row.Instrument)
		require.Greater(t, row.Stddev, 0.0, row.Instrument)
	}
}

func TestFairValuesSkipsNull(t *testing.T) {
	eth := instrument.New("paper", "ETH", "USDC")
	btc := instrument.New("paper", "BTC", "USDC")
	got := fairValues(belief.Set{eth: belief.MustNew(101, 4), btc: belief.Null(0)})
	if len(got) != 1 || got[eth.String()] != 101 {
		t.Fatalf("expected only %s at 101, got %v", eth, got)
	}
	if len(fairValues(nil)) != 0 {
		t.Fatalf("expected no fair values for an empty set")
	}
}

func TestNewPaperRejectsBadTicks(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, fmt.Sprintf(paperConfig, filepath.Join(dir, "missing.csv"), dir))
	if _, err := New(cfg, zap.NewNop()); err == nil || !strings.Contains(err.Error(), "paper ticks") {
		t.Fatalf("expected paper ticks error, got %v", err)
	}
}

func TestNewHyperliquidChecksWalletAddress(t *testing.T) {
	signer, err := exchange.NewSigner(testKey, false)
	require.NoError(t, err)
	body := `
instruments: ["hyperliquid:ETH/USDC", "hyperliquid:BTC/USDC"]
venue:
  name: hyperliquid
  mainnet: false
  private_key: "` + testKey + `"
  wallet_address: "%s"
state:
  sqlite_path: "%s/state.db"
metrics:
  enabled: false
`
	dir := t.TempDir()
	cfg := loadConfig(t, fmt.Sprintf(body, "0x0000000000000000000000000000000000000001", dir))
	if _, err := New(cfg, zap.NewNop()); err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("expected wallet mismatch, got %v", err)
	}

	cfg = loadConfig(t, fmt.Sprintf(body, signer.Address().Hex(), dir))
	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.store.Close()
	if a.exchange == nil {
		t.Fatalf("expected exchange client")
	}
	if _, ok := a.sink.(*hyperliquid.Venue); !ok {
		t.Fatalf("expected hyperliquid venue sink, got %T", a.sink)
	}
	if a.finite {
		t.Fatalf("expected live feed")
	}
}

func TestPumpForwardsAndCloses(t *testing.T) {
	ch := make(chan int)
	run := pump(ch, func(_ context.Context, emit func(int)) error {
		for i := 0; i < 3; i++ {
			emit(i)
		}
		return nil
	})
	errCh := make(chan error, 1)
	go func() { errCh <- run(context.Background()) }()

	var got []int
	for v := range ch {
		got = append(got, v)
	}
	require.Equal(t, []int{0, 1, 2}, got)
	require.NoError(t, <-errCh)
}

func TestPumpStopsOnCancel(t *testing.T) {
	ch := make(chan int)
	ctx, cancel := context.WithCancel(context.Background())
	run := pump(ch, func(ctx context.Context, emit func(int)) error {
		cancel()
		emit(1)
		return ctx.Err()
	})
	if err := run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}

type countingCounter struct{ n atomic.Int64 }

func (c *countingCounter) Inc() { c.n.Add(1) }

func TestOnFailureCountsUnitFailures(t *testing.T) {
	m := metrics.NewNoop()
	failures := &countingCounter{}
	m.UnitFailures = failures
	a := &App{metrics: m}
	a.onFailure(context.Background(), "estimator failed")
	if got := failures.n.Load(); got != 1 {
		t.Fatalf("expected 1 failure, got %d", got)
	}
}

func TestServeMetricsStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, fmt.Sprintf(paperConfig, writeTicks(t, dir, 25), dir))
	cfg.Metrics.Address = "127.0.0.1:0"
	a := &App{cfg: cfg, log: zap.NewNop(), prometheus: metrics.NewPrometheus()}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.serveMetrics(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("metrics server did not stop")
	}
}
