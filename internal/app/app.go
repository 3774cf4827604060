package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fairprice-bot/internal/alerts"
	"fairprice-bot/internal/belief"
	"fairprice-bot/internal/config"
	"fairprice-bot/internal/exec"
	"fairprice-bot/internal/fairprice"
	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/market"
	"fairprice-bot/internal/metrics"
	"fairprice-bot/internal/state"
	"fairprice-bot/internal/state/sqlite"
	"fairprice-bot/internal/stream"
	"fairprice-bot/internal/supervisor"
	"fairprice-bot/internal/timescale"
	"fairprice-bot/internal/trader"
	"fairprice-bot/internal/venue/hyperliquid"
	"fairprice-bot/internal/venue/hyperliquid/exchange"
	"fairprice-bot/internal/venue/hyperliquid/rest"
	"fairprice-bot/internal/venue/paper"

	"go.uber.org/zap"
)

const (
	shutdownTimeout  = 5 * time.Second
	balanceTolerance = 1e-9
)

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	keys       []instrument.Key
	store      *sqlite.Store
	sink       exec.OrderSink
	paper      *paper.Exchange
	exchange   *exchange.Client
	prices     exec.PriceSource
	books      exec.BookSource
	finite     bool
	executor   *exec.Executor
	estimator  *fairprice.Estimator
	metrics    *metrics.Metrics
	prometheus *metrics.Prometheus
	alerts     *alerts.Telegram
	timescale  *timescale.Writer
	recorder   beliefRecorder
	supervisor *supervisor.Supervisor
	engine     *trader.Engine
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	keys, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.State.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:        cfg,
		log:        log,
		keys:       keys,
		store:      store,
		alerts:     alerts.NewTelegram(cfg.Telegram, log),
		supervisor: supervisor.New(log),
		metrics:    metrics.NewNoop(),
	}
	if err := a.buildVenue(); err != nil {
		store.Close()
		return nil, err
	}
	a.executor = exec.New(a.sink, store, exec.RetryPolicy{
		Retries: cfg.Pipeline.OrderRetries,
		Backoff: cfg.Pipeline.RetryBackoff,
	}, log)
	a.estimator, err = fairprice.New(cfg.Estimator, keys, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	if cfg.Metrics.EnabledValue() {
		a.prometheus = metrics.NewPrometheus()
		a.metrics = a.prometheus.Metrics
	}
	a.timescale, err = timescale.New(cfg.Timescale, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	if a.timescale != nil && cfg.Timescale.RecordBeliefs {
		a.recorder = a.timescale
	}
	a.supervisor.SetAlert(a.onFailure)
	return a, nil
}

func (a *App) onFailure(ctx context.Context, report string) {
	a.metrics.UnitFailures.Inc()
	if a.alerts.Enabled() {
		a.alerts.Fatal(ctx, report)
	}
}

// buildVenue selects the order sink and market data sources. Paper mode
// fills against either replayed ticks or the live public feed.
func (a *App) buildVenue() error {
	cfg := a.cfg
	info := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, a.log)
	switch cfg.Venue.Name {
	case "paper":
		a.paper = paper.NewExchange(cfg.Venue.FeeRate, cfg.Venue.PaperBalances, a.log)
		a.sink = a.paper
		if cfg.Venue.PaperTicks != "" {
			ticks, err := paper.LoadTicksCSV(cfg.Venue.PaperTicks, a.keys[0].Venue)
			if err != nil {
				return fmt.Errorf("paper ticks: %w", err)
			}
			replay := paper.NewReplay(ticks, cfg.Venue.TickInterval, cfg.Venue.PaperSpread)
			a.prices, a.books, a.finite = replay, replay, true
			a.log.Info("paper replay loaded", zap.String("path", cfg.Venue.PaperTicks), zap.Int("ticks", replay.Len()))
			return nil
		}
		feed := hyperliquid.NewFeed(hyperliquid.New(info, nil, "", cfg.Venue.FeeRate, a.log), a.keys, cfg.WS, cfg.Venue.TickInterval, a.log)
		a.prices, a.books = feed, feed
		return nil
	case hyperliquid.Name:
		signer, err := exchange.NewSigner(cfg.Venue.PrivateKey, cfg.Venue.MainnetValue())
		if err != nil {
			return err
		}
		if wallet := strings.TrimSpace(cfg.Venue.WalletAddress); wallet != "" && !strings.EqualFold(wallet, signer.Address().Hex()) {
			return fmt.Errorf("wallet address does not match private key: got %s expected %s", wallet, signer.Address().Hex())
		}
		client, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, cfg.Venue.VaultAddress)
		if err != nil {
			return err
		}
		client.SetLogger(a.log)
		a.exchange = client
		venue := hyperliquid.New(info, client, "", cfg.Venue.FeeRate, a.log)
		feed := hyperliquid.NewFeed(venue, a.keys, cfg.WS, cfg.Venue.TickInterval, a.log)
		a.sink, a.prices, a.books = venue, feed, feed
		return nil
	}
	return fmt.Errorf("unknown venue %q", cfg.Venue.Name)
}

// Run restores state, wires the pipeline and blocks until the supervisor
// finishes. A replay ends once every tick has been consumed.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.timescale.Close()
	if a.exchange != nil {
		if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
			a.log.Warn("nonce store init failed", zap.Error(err))
		} else if st, ok := a.exchange.NonceState(); ok {
			a.log.Info("nonce persistence enabled", zap.String("nonce_key", st.Key), zap.Uint64("nonce_seed", st.Last))
		}
	}
	ledger, err := a.loadLedger(ctx)
	if err != nil {
		return err
	}
	engine, err := trader.New(trader.Config{
		Sizing: a.cfg.Sizing,
		Risk:   a.cfg.Risk,
		Fee:    a.cfg.Venue.FeeRate,
	}, a.keys, a.executor, ledger, a.log)
	if err != nil {
		return err
	}
	engine.SetMetrics(a.metrics)
	engine.SetStore(a.store)
	if a.timescale != nil {
		engine.SetJournal(journal{a.timescale})
	}
	if a.alerts.Enabled() {
		engine.SetNotifier(a.alerts)
	}
	a.engine = engine
	if err := a.attach(); err != nil {
		return err
	}
	a.log.Info("pipeline started",
		zap.String("venue", a.cfg.Venue.Name),
		zap.Int("instruments", len(a.keys)),
		zap.Any("balances", ledger.Balances()),
	)
	err = a.supervisor.Run(ctx)
	stats := engine.Stats()
	last, _ := engine.Beliefs().Latest()
	a.log.Info("pipeline stopped",
		zap.Any("fair", fairValues(last)),
		zap.Uint64("belief_attempts", stats.BeliefAttempts),
		zap.Uint64("book_attempts", stats.BookAttempts),
		zap.Uint64("book_skipped", stats.BookSkipped),
		zap.Any("balances", ledger.Balances()),
	)
	return err
}

// fairValues keys the non-null means of set by instrument.
func fairValues(set belief.Set) map[string]float64 {
	out := make(map[string]float64, len(set))
	for k, b := range set {
		if !b.IsNull() {
			out[k.String()] = b.Mean
		}
	}
	return out
}

// Engine is set once Run has wired the pipeline.
func (a *App) Engine() *trader.Engine { return a.engine }

// loadLedger seeds balances from the venue. A saved snapshot carries the
// fill count over, and any balance that moved while the bot was down is
// logged; the venue's figures win.
func (a *App) loadLedger(ctx context.Context) (*trader.Ledger, error) {
	balances, err := a.sink.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed balances: %w", err)
	}
	ledger := trader.NewLedger(balances)
	snapshot, ok, err := state.LoadLedgerSnapshot(ctx, a.store)
	if err != nil {
		return nil, err
	}
	if !ok {
		return ledger, nil
	}
	for currency, saved := range snapshot.Balances {
		if now := balances[currency]; math.Abs(now-saved) > balanceTolerance {
			a.log.Warn("balance drift since last snapshot",
				zap.String("currency", currency),
				zap.Float64("saved", saved),
				zap.Float64("venue", now),
			)
		}
	}
	snapshot.Balances = balances
	ledger.Restore(snapshot)
	a.log.Info("ledger restored",
		zap.Time("saved_at", time.UnixMilli(snapshot.UpdatedAtMS)),
		zap.Uint64("fills", snapshot.Fills),
	)
	return ledger, nil
}

type unit struct {
	name       string
	fn         supervisor.Func
	terminates bool
}

// attach registers every pipeline stage with the supervisor. Stages fed by
// a finite replay terminate; live stages are expected to run forever.
func (a *App) attach() error {
	cfg := a.cfg.Pipeline
	finite := a.finite

	tickCh := make(chan market.Tick)
	ticks, ticksRun := stream.FromChan("ticks", tickCh)
	beliefs, beliefsRun := stream.Map(ticks, "estimator", a.estimate, stream.Eager(), stream.Capacity(cfg.TickCapacity))

	bookCh := make(chan market.Book)
	books, booksRun := stream.FromChan("books", bookCh)
	bookSource := a.books.StreamBooks
	if a.paper != nil {
		bookSource = func(ctx context.Context, fn func(market.Book)) error {
			return a.books.StreamBooks(ctx, func(b market.Book) {
				a.paper.UpdateBook(b)
				fn(b)
			})
		}
	}

	units := []unit{
		{"ticks.source", pump(tickCh, a.prices.StreamTicks), finite},
		{"ticks", supervisor.Func(ticksRun), finite},
		{"estimator", supervisor.Func(beliefsRun), finite},
		{"trader.beliefs", supervisor.Func(a.engine.RunBeliefs(beliefs, stream.Eager(), stream.Capacity(cfg.BeliefCapacity))), finite},
		{"books.source", pump(bookCh, bookSource), finite},
		{"books", supervisor.Func(booksRun), finite},
		{"trader.books", supervisor.Func(a.engine.RunBooks(books, stream.Eager(), stream.Capacity(cfg.BookCapacity))), finite},
		{"timescale", a.timescale.Run, false},
	}
	if a.prometheus != nil {
		units = append(units, unit{"metrics", a.serveMetrics, false})
	}
	for _, u := range units {
		if err := a.supervisor.Attach(u.name, u.fn, u.terminates); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) estimate(_ context.Context, tick market.Tick) (belief.Set, error) {
	a.metrics.TicksProcessed.Inc()
	set, err := a.estimator.Update(tick)
	if err != nil {
		return nil, err
	}
	a.metrics.Relations.Set(float64(a.estimator.Relations()))
	if a.recorder != nil {
		for _, k := range set.Keys() {
			b := set[k]
			if b.IsNull() {
				continue
			}
			a.recorder.EnqueueBelief(timescale.Belief{
				Time:       tick.Time,
				Instrument: k.String(),
				Fair:       b.Mean,
				Stddev:     b.Stddev(),
			})
		}
	}
	return set, nil
}

// pump drives a callback source into ch and closes ch when the source
// returns.
func pump[T any](ch chan<- T, source func(context.Context, func(T)) error) supervisor.Func {
	return func(ctx context.Context) error {
		defer close(ch)
		return source(ctx, func(v T) {
			select {
			case ch <- v:
			case <-ctx.Done():
			}
		})
	}
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prometheus.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("metrics listening", zap.String("addr", srv.Addr), zap.String("path", a.cfg.Metrics.Path))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
