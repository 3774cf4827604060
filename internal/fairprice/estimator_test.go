package fairprice

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"fairprice-bot/internal/config"
	"fairprice-bot/internal/fairprice/stats"
	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	btc = instrument.New("paper", "BTC", "USD")
	eth = instrument.New("paper", "ETH", "USD")
	t0  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func testConfig() config.EstimatorConfig {
	return config.EstimatorConfig{
		WindowSize:          200,
		CointegrationPeriod: 1000,
		TrainFraction:       0.6,
		MaxPValue:           0.05,
		DuplicateCosine:     0.95,
		PriceHalfLife:       5,
		TrendHalfLife:       5,
		VolumeHalfLife:      5,
		ErrorHalfLife:       5,
		DisagreementPenalty: 1,
		MaxVolumePenalty:    10,
	}
}

func tick(i int, a, b float64) market.Tick {
	return market.Tick{
		Time: t0.Add(time.Duration(i) * time.Second),
		Quotes: map[instrument.Key]market.Quote{
			btc: {Price: a, Volume: 1},
			eth: {Price: b, Volume: 1},
		},
	}
}

func newEstimator(t *testing.T, cfg config.EstimatorConfig) *Estimator {
	t.Helper()
	e, err := New(cfg, []instrument.Key{eth, btc}, nil)
	require.NoError(t, err)
	return e
}

func TestWarmupEmitsNullBeliefs(t *testing.T) {
	cfg := testConfig()
	e := newEstimator(t, cfg)
	r := rand.New(rand.NewSource(1))
	a := 100.0
	for i := 0; i < cfg.WindowSize-1; i++ {
		a += r.NormFloat64()
		set, err := e.Update(tick(i, a, 2*a))
		require.NoError(t, err)
		require.True(t, set.AllNull(), "tick %d", i)
		assert.Equal(t, a, set[btc].Mean)
		assert.Equal(t, 2*a, set[eth].Mean)
	}
}

func TestRejectsPartialAndStaleTicks(t *testing.T) {
	e := newEstimator(t, testConfig())
	_, err := e.Update(market.Tick{
		Time:   t0,
		Quotes: map[instrument.Key]market.Quote{btc: {Price: 1, Volume: 1}},
	})
	require.ErrorIs(t, err, market.ErrPartialTick)

	_, err = e.Update(tick(5, 1, 2))
	require.NoError(t, err)
	_, err = e.Update(tick(5, 1, 2))
	require.ErrorIs(t, err, market.ErrOutOfOrder)
}

func TestConstantPricesYieldNoRelations(t *testing.T) {
	cfg := testConfig()
	e := newEstimator(t, cfg)
	for i := 0; i < cfg.WindowSize+10; i++ {
		set, err := e.Update(tick(i, 100, 200))
		require.NoError(t, err)
		require.True(t, set.AllNull())
	}
	assert.Equal(t, 0, e.Relations())
	assert.False(t, e.Model().FittedAt.IsZero())
}

func TestCointegratedStepShiftsPartner(t *testing.T) {
	cfg := testConfig()
	e := newEstimator(t, cfg)
	r := rand.New(rand.NewSource(7))
	a, b := 100.0, 200.0
	n := cfg.WindowSize + 40
	for i := 0; i < n; i++ {
		a += 0.5 * r.NormFloat64()
		b = 2*a + 0.01*r.NormFloat64()
		_, err := e.Update(tick(i, a, b))
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, e.Relations(), 1)
	rel := e.Model().Relations[0]
	assert.InDelta(t, 1, math.Abs(stats.Cosine(rel.Vector, []float64{2, -1})), 0.01)

	const delta = 2.0
	set, err := e.Update(tick(n, a+delta, b))
	require.NoError(t, err)
	got := set[eth]
	require.False(t, got.IsNull())
	assert.InDelta(t, b+2*delta, got.Mean, 0.3*delta)
	assert.Less(t, got.Stddev(), 0.5*delta)

	// BTC's own move is not confirmed by ETH, so its fair price stays put.
	assert.InDelta(t, a, set[btc].Mean, 0.3*delta)
}

func TestModelIsACopy(t *testing.T) {
	m := Model{Relations: []Relation{{Vector: []float64{1, 2}}}}
	c := m.clone()
	c.Relations[0].Vector[0] = 9
	assert.Equal(t, 1.0, m.Relations[0].Vector[0])
}

func TestVolumePenaltyIsClamped(t *testing.T) {
	cfg := testConfig()
	e := newEstimator(t, cfg)
	for i := 0; i < 10; i++ {
		e.volume[btc].Observe(100)
	}
	assert.Equal(t, 1.0, e.volumePenalty(btc, 1000))
	assert.InDelta(t, 4.0, e.volumePenalty(btc, 25), 1e-9)
	assert.Equal(t, cfg.MaxVolumePenalty, e.volumePenalty(btc, 1))
	assert.Equal(t, cfg.MaxVolumePenalty, e.volumePenalty(btc, 0))
}
