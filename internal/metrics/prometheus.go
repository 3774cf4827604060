package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "fairprice_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type promGaugeVec struct {
	vec *prometheus.GaugeVec
}

func (p promGaugeVec) Set(instrument string, v float64) {
	p.vec.WithLabelValues(instrument).Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry      *prometheus.Registry
	ticks         prometheus.Counter
	beliefs       prometheus.Counter
	tradeAttempts prometheus.Counter
	booksSkipped  prometheus.Counter
	ordersPlaced  prometheus.Counter
	ordersFailed  prometheus.Counter
	riskRejected  prometheus.Counter
	unitFailures  prometheus.Counter
	relations     prometheus.Gauge
	fusedStddev   *prometheus.GaugeVec
	edge          *prometheus.GaugeVec
	position      *prometheus.GaugeVec
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func newInstrumentGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	}, []string{"instrument"})
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry:      prometheus.NewRegistry(),
		ticks:         newCounter("ticks_processed_total", "Total number of price ticks consumed by the estimator."),
		beliefs:       newCounter("beliefs_published_total", "Total number of fused belief sets published."),
		tradeAttempts: newCounter("trade_attempts_total", "Total number of trade attempts that held the instrument lock."),
		booksSkipped:  newCounter("book_ticks_skipped_total", "Total number of book ticks skipped because a trade was in flight."),
		ordersPlaced:  newCounter("orders_placed_total", "Total number of orders placed."),
		ordersFailed:  newCounter("orders_failed_total", "Total number of order placement failures."),
		riskRejected:  newCounter("risk_rejected_total", "Total number of orders blocked by risk limits."),
		unitFailures:  newCounter("unit_failures_total", "Total number of supervised unit failures."),
		relations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "cointegration_relations",
			Help:      "Number of cointegration relations in the current model.",
		}),
		fusedStddev: newInstrumentGauge("fused_stddev", "Standard deviation of the latest fused fair price."),
		edge:        newInstrumentGauge("edge_stddevs", "Latest edge of fair price over mid in standard deviations."),
		position:    newInstrumentGauge("position_base", "Current position in base units."),
	}
	p.registry.MustRegister(
		p.ticks, p.beliefs, p.tradeAttempts, p.booksSkipped,
		p.ordersPlaced, p.ordersFailed, p.riskRejected, p.unitFailures,
		p.relations, p.fusedStddev, p.edge, p.position,
	)
	p.Metrics = &Metrics{
		TicksProcessed:   promCounter{p.ticks},
		BeliefsPublished: promCounter{p.beliefs},
		TradeAttempts:    promCounter{p.tradeAttempts},
		BookTicksSkipped: promCounter{p.booksSkipped},
		OrdersPlaced:     promCounter{p.ordersPlaced},
		OrdersFailed:     promCounter{p.ordersFailed},
		RiskRejected:     promCounter{p.riskRejected},
		UnitFailures:     promCounter{p.unitFailures},
		Relations:        promGauge{p.relations},
		FusedStddev:      promGaugeVec{p.fusedStddev},
		EdgeSD:           promGaugeVec{p.edge},
		Position:         promGaugeVec{p.position},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
