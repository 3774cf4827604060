// Package trader turns fused beliefs and book updates into orders. Each
// instrument has its own lock: book-triggered attempts skip when it is held,
// belief-triggered attempts wait for it.
package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"fairprice-bot/internal/belief"
	"fairprice-bot/internal/config"
	"fairprice-bot/internal/exec"
	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/market"
	"fairprice-bot/internal/metrics"
	"fairprice-bot/internal/state"
	"fairprice-bot/internal/strategy"
	"fairprice-bot/internal/stream"

	"go.uber.org/zap"
)

var (
	ErrUnknownKey      = errors.New("unknown instrument")
	ErrConcurrentTrade = errors.New("trade attempt already in flight")
)

type Fill struct {
	Time          time.Time
	Key           instrument.Key
	Side          exec.Side
	Size          float64
	Price         float64
	Fee           float64
	OrderID       string
	ClientOrderID string
	EdgeSD        float64
}

type PositionSnapshot struct {
	Time     time.Time
	Key      instrument.Key
	Position float64
	Quote    float64
	Mid      float64
	Fair     float64
	Stddev   float64
	EdgeSD   float64
}

// Journal receives fills and post-trade positions. Implementations must not
// block.
type Journal interface {
	RecordFill(Fill)
	RecordPosition(PositionSnapshot)
}

type Notifier interface {
	Send(ctx context.Context, message string) error
}

type Config struct {
	Sizing config.SizingConfig
	Risk   config.RiskConfig
	Fee    float64
}

// Stats counts trade attempts by trigger.
type Stats struct {
	BeliefAttempts uint64
	BookAttempts   uint64
	BookSkipped    uint64
}

type Engine struct {
	cfg     Config
	keys    []instrument.Key
	sink    exec.OrderSink
	sizer   *strategy.Sizer
	ledger  *Ledger
	store   state.Store
	journal Journal
	notify  Notifier
	metrics *metrics.Metrics
	log     *zap.Logger

	books   *market.BookCache
	beliefs *stream.Mailbox[belief.Set]
	locks   map[instrument.Key]*sync.Mutex
	states  map[instrument.Key]*strategy.StateMachine
	trends  map[instrument.Key]*trendTracker

	beliefAttempts atomic.Uint64
	bookAttempts   atomic.Uint64
	bookSkipped    atomic.Uint64
}

func New(cfg Config, keys []instrument.Key, sink exec.OrderSink, ledger *Ledger, log *zap.Logger) (*Engine, error) {
	if len(keys) == 0 {
		return nil, errors.New("engine needs at least one instrument")
	}
	if sink == nil {
		return nil, errors.New("order sink is required")
	}
	if ledger == nil {
		ledger = NewLedger(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	sorted := append([]instrument.Key(nil), keys...)
	instrument.Sort(sorted)
	e := &Engine{
		cfg:     cfg,
		keys:    sorted,
		sink:    sink,
		sizer:   strategy.NewSizer(cfg.Sizing),
		ledger:  ledger,
		metrics: metrics.NewNoop(),
		log:     log,
		books:   market.NewBookCache(),
		beliefs: stream.NewMailbox[belief.Set](),
		locks:   make(map[instrument.Key]*sync.Mutex, len(sorted)),
		states:  make(map[instrument.Key]*strategy.StateMachine, len(sorted)),
		trends:  make(map[instrument.Key]*trendTracker, len(sorted)),
	}
	window := cfg.Sizing.TrendWindow
	if window < 2 {
		window = 2
	}
	halfLife := cfg.Sizing.TrendHalfLife
	if halfLife <= 0 {
		halfLife = 1
	}
	for _, k := range sorted {
		tr, err := newTrendTracker(window, halfLife)
		if err != nil {
			return nil, err
		}
		e.locks[k] = &sync.Mutex{}
		e.states[k] = strategy.NewStateMachine()
		e.trends[k] = tr
	}
	return e, nil
}

func (e *Engine) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		e.metrics = m
	}
}

func (e *Engine) SetJournal(j Journal) { e.journal = j }

func (e *Engine) SetNotifier(n Notifier) { e.notify = n }

// SetStore enables ledger snapshots after every fill.
func (e *Engine) SetStore(s state.Store) { e.store = s }

func (e *Engine) Ledger() *Ledger { return e.ledger }

// Beliefs is the hand-off slot holding the latest published belief set.
func (e *Engine) Beliefs() *stream.Mailbox[belief.Set] { return e.beliefs }

func (e *Engine) Stats() Stats {
	return Stats{
		BeliefAttempts: e.beliefAttempts.Load(),
		BookAttempts:   e.bookAttempts.Load(),
		BookSkipped:    e.bookSkipped.Load(),
	}
}

func (e *Engine) State(key instrument.Key) strategy.State {
	if sm, ok := e.states[key]; ok {
		return sm.State()
	}
	return strategy.StateIdle
}

// OnBook caches the book and trades the instrument unless an attempt is
// already in flight, in which case the tick is dropped.
func (e *Engine) OnBook(ctx context.Context, book market.Book) error {
	mu, ok := e.locks[book.Key]
	if !ok {
		return fmt.Errorf("%s: %w", book.Key, ErrUnknownKey)
	}
	e.books.Update(book)
	if !mu.TryLock() {
		e.bookSkipped.Add(1)
		e.metrics.BookTicksSkipped.Inc()
		return nil
	}
	defer mu.Unlock()
	e.bookAttempts.Add(1)
	return e.trade(ctx, book.Key)
}

// OnBelief publishes set and runs one attempt per instrument, in key order,
// each waiting for any in-flight attempt on that instrument.
func (e *Engine) OnBelief(ctx context.Context, set belief.Set) error {
	if !instrument.SameSet(set.Keys(), e.keys) {
		return fmt.Errorf("belief for %v, engine trades %v: %w", set.Keys(), e.keys, belief.ErrKeyMismatch)
	}
	e.beliefs.Write(set.Clone())
	e.metrics.BeliefsPublished.Inc()
	var errs []error
	for _, k := range e.keys {
		b := set[k]
		if !b.IsNull() {
			e.metrics.FusedStddev.Set(k.String(), b.Stddev())
		}
		if err := e.forced(ctx, k, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) forced(ctx context.Context, key instrument.Key, b belief.Belief) error {
	mu := e.locks[key]
	mu.Lock()
	defer mu.Unlock()
	if !b.IsNull() {
		e.trends[key].observe(b.Mean)
	}
	e.beliefAttempts.Add(1)
	return e.trade(ctx, key)
}

// RunBooks consumes book updates. Order failures are logged; the loop only
// stops on a contract error or when books ends.
func (e *Engine) RunBooks(books *stream.Node[market.Book], opts ...stream.Option) stream.Runner {
	return stream.Each(books, "trader.books", func(ctx context.Context, b market.Book) error {
		return e.tolerate(e.OnBook(ctx, b))
	}, opts...)
}

func (e *Engine) RunBeliefs(beliefs *stream.Node[belief.Set], opts ...stream.Option) stream.Runner {
	return stream.Each(beliefs, "trader.beliefs", func(ctx context.Context, s belief.Set) error {
		return e.tolerate(e.OnBelief(ctx, s))
	}, opts...)
}

func (e *Engine) tolerate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownKey), errors.Is(err, belief.ErrKeyMismatch), errors.Is(err, ErrConcurrentTrade):
		return err
	case errors.Is(err, context.Canceled):
		return err
	}
	e.log.Warn("trade attempt failed", zap.Error(err))
	return nil
}

// trade runs with the instrument lock held.
func (e *Engine) trade(ctx context.Context, key instrument.Key) error {
	sm := e.states[key]
	if sm.State() != strategy.StateIdle {
		return fmt.Errorf("%s: %w", key, ErrConcurrentTrade)
	}
	sm.Apply(strategy.EventLock)
	defer sm.Apply(strategy.EventRelease)
	e.metrics.TradeAttempts.Inc()

	book, ok := e.books.Get(key)
	if !ok || !book.Valid() {
		return nil
	}
	set, ok := e.beliefs.Latest()
	if !ok {
		return nil
	}
	b, ok := set[key]
	if !ok || b.IsNull() {
		return nil
	}
	position := e.ledger.Position(key)
	decision := e.sizer.Size(strategy.Input{
		Belief:   b,
		Book:     book,
		Position: position,
		Trend:    e.trends[key].value(),
		Fee:      e.cfg.Fee,
	})
	e.metrics.EdgeSD.Set(key.String(), decision.EdgeSD)

	size := decision.Size()
	price := book.Ask.Price
	if size < 0 {
		price = book.Bid.Price
	}
	size = strategy.ClipToRisk(e.cfg.Risk, size, price, position)
	if size == 0 || math.IsNaN(size) {
		return nil
	}
	if err := strategy.CheckRisk(e.cfg.Risk, size, price, position); err != nil {
		e.metrics.RiskRejected.Inc()
		e.log.Debug("order blocked by risk", zap.String("instrument", key.String()), zap.Error(err))
		return nil
	}

	order := exec.Order{
		Key:           key,
		Side:          exec.SideBuy,
		Type:          exec.OrderIOC,
		Price:         price,
		Size:          math.Abs(size),
		ReduceOnly:    decision.Open == 0 && decision.Close != 0,
		ClientOrderID: exec.NewClientOrderID(),
	}
	if size < 0 {
		order.Side = exec.SideSell
	}
	ack, err := e.sink.PlaceOrder(ctx, order)
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return fmt.Errorf("place %s %s %.8f @ %.8f: %w", order.Side, key, order.Size, order.Price, err)
	}
	e.metrics.OrdersPlaced.Inc()
	e.ledger.Apply(key, order.Side, ack)
	e.recordFill(ctx, order, ack, decision, book, b)
	return nil
}

func (e *Engine) recordFill(ctx context.Context, order exec.Order, ack exec.Ack, decision strategy.Decision, book market.Book, b belief.Belief) {
	now := time.Now().UTC()
	position := e.ledger.Position(order.Key)
	e.metrics.Position.Set(order.Key.String(), position)
	e.log.Info("order filled",
		zap.String("instrument", order.Key.String()),
		zap.String("side", string(order.Side)),
		zap.Float64("size", ack.Filled),
		zap.Float64("price", ack.AvgPrice),
		zap.Float64("edge_sd", decision.EdgeSD),
		zap.Float64("position", position),
		zap.String("order_id", ack.OrderID),
	)
	if e.journal != nil {
		e.journal.RecordFill(Fill{
			Time:          now,
			Key:           order.Key,
			Side:          order.Side,
			Size:          ack.Filled,
			Price:         ack.AvgPrice,
			Fee:           ack.Fee,
			OrderID:       ack.OrderID,
			ClientOrderID: order.ClientOrderID,
			EdgeSD:        decision.EdgeSD,
		})
		e.journal.RecordPosition(PositionSnapshot{
			Time:     now,
			Key:      order.Key,
			Position: position,
			Quote:    e.ledger.Balance(order.Key.Quote),
			Mid:      book.Mid(),
			Fair:     b.Mean,
			Stddev:   b.Stddev(),
			EdgeSD:   decision.EdgeSD,
		})
	}
	if e.store != nil {
		if err := state.SaveLedgerSnapshot(ctx, e.store, e.ledger.Snapshot(now)); err != nil {
			e.log.Warn("ledger snapshot failed", zap.Error(err))
		}
	}
	if e.notify != nil && ack.Filled > 0 {
		msg := fmt.Sprintf("%s %s %.8g @ %.8g (edge %.2f sd, position %.8g)",
			order.Side, order.Key, ack.Filled, ack.AvgPrice, decision.EdgeSD, position)
		if err := e.notify.Send(ctx, msg); err != nil {
			e.log.Warn("fill notification failed", zap.Error(err))
		}
	}
}
