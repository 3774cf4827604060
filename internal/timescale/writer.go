package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"fairprice-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Fill is one executed order.
type Fill struct {
	Time          time.Time
	Instrument    string
	Side          string
	Size          float64
	Price         float64
	Fee           float64
	OrderID       string
	ClientOrderID string
	EdgeSD        float64
}

// PositionSnapshot is the post-trade state of one instrument.
type PositionSnapshot struct {
	Time       time.Time
	Instrument string
	Position   float64
	Quote      float64
	Mid        float64
	Fair       float64
	Stddev     float64
	EdgeSD     float64
}

// Belief is one fused fair-price estimate.
type Belief struct {
	Time       time.Time
	Instrument string
	Fair       float64
	Stddev     float64
}

// Writer queues rows and inserts them from a single goroutine. Enqueue never
// blocks; rows are dropped when the queue is full.
type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	fills       chan Fill
	positions   chan PositionSnapshot
	beliefs     chan Belief
	started     atomic.Bool
	dropFill    atomic.Uint64
	dropPos     atomic.Uint64
	dropBelief  atomic.Uint64
	writeErrors atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		fills:     make(chan Fill, queueSize),
		positions: make(chan PositionSnapshot, queueSize),
		beliefs:   make(chan Belief, queueSize),
	}
}

// Run drains the queues until ctx is done. It is meant to run as a
// supervised unit and returns nil on cancellation.
func (w *Writer) Run(ctx context.Context) error {
	if w == nil {
		<-ctx.Done()
		return nil
	}
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("timescale writer already running")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case fill := <-w.fills:
			w.insert(ctx, "fill", w.fillQuery(), fill.Time, fill.Instrument, fill.Side, fill.Size, fill.Price,
				fill.Fee, fill.OrderID, fill.ClientOrderID, fill.EdgeSD)
		case snap := <-w.positions:
			w.insert(ctx, "position", w.positionQuery(), snap.Time, snap.Instrument, snap.Position, snap.Quote,
				snap.Mid, snap.Fair, snap.Stddev, snap.EdgeSD)
		case b := <-w.beliefs:
			w.insert(ctx, "belief", w.beliefQuery(), b.Time, b.Instrument, b.Fair, b.Stddev)
		}
	}
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Dropped reports rows discarded because a queue was full, per table.
func (w *Writer) Dropped() (fills, positions, beliefs uint64) {
	if w == nil {
		return 0, 0, 0
	}
	return w.dropFill.Load(), w.dropPos.Load(), w.dropBelief.Load()
}

func (w *Writer) EnqueueFill(fill Fill) {
	if w == nil {
		return
	}
	select {
	case w.fills <- fill:
	default:
		if w.dropFill.Add(1) == 1 {
			w.log.Warn("timescale fill queue full")
		}
	}
}

func (w *Writer) EnqueuePosition(snapshot PositionSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.positions <- snapshot:
	default:
		if w.dropPos.Add(1) == 1 {
			w.log.Warn("timescale position queue full")
		}
	}
}

func (w *Writer) EnqueueBelief(b Belief) {
	if w == nil {
		return
	}
	select {
	case w.beliefs <- b:
	default:
		if w.dropBelief.Add(1) == 1 {
			w.log.Warn("timescale belief queue full")
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		instrument TEXT NOT NULL,
		side TEXT NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		fee DOUBLE PRECISION NOT NULL DEFAULT 0,
		order_id TEXT NOT NULL,
		client_order_id TEXT NOT NULL,
		edge_sd DOUBLE PRECISION NOT NULL
	)`, w.table("fills"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		instrument TEXT NOT NULL,
		position DOUBLE PRECISION NOT NULL,
		quote_balance DOUBLE PRECISION NOT NULL,
		mid DOUBLE PRECISION NOT NULL,
		fair DOUBLE PRECISION NOT NULL,
		stddev DOUBLE PRECISION NOT NULL,
		edge_sd DOUBLE PRECISION NOT NULL
	)`, w.table("position_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		instrument TEXT NOT NULL,
		fair DOUBLE PRECISION NOT NULL,
		stddev DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, instrument)
	)`, w.table("beliefs"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"fills", "position_snapshots", "beliefs"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) fillQuery() string {
	return fmt.Sprintf(`INSERT INTO %s (
		ts, instrument, side, size, price, fee, order_id, client_order_id, edge_sd
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, w.table("fills"))
}

func (w *Writer) positionQuery() string {
	return fmt.Sprintf(`INSERT INTO %s (
		ts, instrument, position, quote_balance, mid, fair, stddev, edge_sd
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("position_snapshots"))
}

func (w *Writer) beliefQuery() string {
	return fmt.Sprintf(`INSERT INTO %s (ts, instrument, fair, stddev)
	VALUES ($1,$2,$3,$4)
	ON CONFLICT (ts, instrument) DO UPDATE SET
		fair = EXCLUDED.fair,
		stddev = EXCLUDED.stddev`, w.table("beliefs"))
}

func (w *Writer) insert(ctx context.Context, kind, query string, args ...any) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
		if w.writeErrors.Add(1)%100 == 1 {
			w.log.Warn("timescale insert failed", zap.String("kind", kind), zap.Error(err))
		}
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
