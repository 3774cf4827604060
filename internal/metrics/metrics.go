package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

// GaugeVec is a gauge keyed by instrument.
type GaugeVec interface {
	Set(instrument string, v float64)
}

type Metrics struct {
	TicksProcessed   Counter
	BeliefsPublished Counter
	TradeAttempts    Counter
	BookTicksSkipped Counter
	OrdersPlaced     Counter
	OrdersFailed     Counter
	RiskRejected     Counter
	UnitFailures     Counter

	Relations   Gauge
	FusedStddev GaugeVec
	EdgeSD      GaugeVec
	Position    GaugeVec
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

type noopGaugeVec struct{}

func (noopGaugeVec) Set(string, float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		TicksProcessed:   n,
		BeliefsPublished: n,
		TradeAttempts:    n,
		BookTicksSkipped: n,
		OrdersPlaced:     n,
		OrdersFailed:     n,
		RiskRejected:     n,
		UnitFailures:     n,
		Relations:        noopGauge{},
		FusedStddev:      noopGaugeVec{},
		EdgeSD:           noopGaugeVec{},
		Position:         noopGaugeVec{},
	}
}
