package hyperliquid

import (
	"context"
	"math"
	"sync"
	"time"

	"fairprice-bot/internal/config"
	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/market"
	"fairprice-bot/internal/venue/hyperliquid/ws"

	"go.uber.org/zap"
)

// Feed turns websocket market data into ticks and books for a fixed set of
// instruments. Each stream call opens its own connection.
type Feed struct {
	venue    *Venue
	keys     []instrument.Key
	wsCfg    config.WSConfig
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewFeed(v *Venue, keys []instrument.Key, wsCfg config.WSConfig, interval time.Duration, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{venue: v, keys: keys, wsCfg: wsCfg, interval: interval, log: log, now: time.Now}
}

func (f *Feed) resolve(ctx context.Context) (map[string]instrument.Key, map[string]float64, error) {
	coins := make(map[string]instrument.Key, len(f.keys))
	volumes := make(map[string]float64, len(f.keys))
	for _, k := range f.keys {
		asset, err := f.venue.Asset(ctx, k)
		if err != nil {
			return nil, nil, err
		}
		coins[asset.Coin] = k
		volumes[asset.Coin] = asset.DayVolume
	}
	return coins, volumes, nil
}

func (f *Feed) client() *ws.Client {
	return ws.New(f.wsCfg.URL, f.wsCfg.ReconnectDelay, f.wsCfg.PingInterval, f.log)
}

// StreamTicks emits a tick once every instrument has a mid and at least
// interval has passed since the previous tick. Volumes are rolling day
// notional volumes.
func (f *Feed) StreamTicks(ctx context.Context, fn func(market.Tick)) error {
	coins, volumes, err := f.resolve(ctx)
	if err != nil {
		return err
	}
	client := f.client()
	if err := client.Subscribe(ctx, ws.Subscription{Type: "allMids"}); err != nil {
		return err
	}
	for coin := range coins {
		if err := client.Subscribe(ctx, ws.Subscription{Type: "activeAssetCtx", Coin: coin}); err != nil {
			return err
		}
	}
	agg := newTickAggregator(coins, volumes, f.interval)
	return client.Run(ctx, func(env ws.Envelope) {
		if tick, ok := agg.handle(env, f.now()); ok {
			fn(tick)
		}
	})
}

func (f *Feed) StreamBooks(ctx context.Context, fn func(market.Book)) error {
	coins, _, err := f.resolve(ctx)
	if err != nil {
		return err
	}
	client := f.client()
	for coin := range coins {
		if err := client.Subscribe(ctx, ws.Subscription{Type: "l2Book", Coin: coin}); err != nil {
			return err
		}
	}
	return client.Run(ctx, func(env ws.Envelope) {
		if env.Channel != "l2Book" {
			return
		}
		coin, at, bid, ask, ok := parseL2Book(env.Data)
		if !ok {
			return
		}
		key, ok := coins[coin]
		if !ok {
			return
		}
		fn(market.Book{Key: key, Time: at, Bid: bid, Ask: ask})
	})
}

// tickAggregator joins allMids with asset context updates into ticks. The
// venue reports rolling day volume, so each tick carries the growth of that
// figure since the previous tick. A shrinking day volume counts as zero.
type tickAggregator struct {
	mu       sync.Mutex
	coins    map[string]instrument.Key
	mids     map[string]float64
	day      map[string]float64
	emitted  map[string]float64
	interval time.Duration
	last     time.Time
}

func newTickAggregator(coins map[string]instrument.Key, volumes map[string]float64, interval time.Duration) *tickAggregator {
	day := make(map[string]float64, len(volumes))
	emitted := make(map[string]float64, len(volumes))
	for k, x := range volumes {
		day[k] = x
		emitted[k] = x
	}
	return &tickAggregator{
		coins:    coins,
		mids:     make(map[string]float64, len(coins)),
		day:      day,
		emitted:  emitted,
		interval: interval,
	}
}

func (a *tickAggregator) handle(env ws.Envelope, now time.Time) (market.Tick, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch env.Channel {
	case "activeAssetCtx", "activeSpotAssetCtx":
		if coin, volume, ok := parseAssetCtx(env.Data); ok {
			if _, tracked := a.coins[coin]; tracked {
				a.day[coin] = volume
			}
		}
		return market.Tick{}, false
	case "allMids":
		mids, err := parseMids(env.Data)
		if err != nil {
			return market.Tick{}, false
		}
		for coin := range a.coins {
			if px, ok := mids[coin]; ok {
				a.mids[coin] = px
			}
		}
	default:
		return market.Tick{}, false
	}
	if len(a.mids) < len(a.coins) {
		return market.Tick{}, false
	}
	if !a.last.IsZero() && (now.Sub(a.last) < a.interval || !now.After(a.last)) {
		return market.Tick{}, false
	}
	a.last = now
	tick := market.Tick{Time: now.UTC(), Quotes: make(map[instrument.Key]market.Quote, len(a.coins))}
	for coin, key := range a.coins {
		day := a.day[coin]
		traded := math.Max(day-a.emitted[coin], 0)
		a.emitted[coin] = day
		tick.Quotes[key] = market.Quote{Price: a.mids[coin], Volume: traded}
	}
	return tick, true
}
