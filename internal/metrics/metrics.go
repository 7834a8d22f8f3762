package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/atvirokodosprendimai/keyledger/internal/core/usecase"
)

// Metrics holds the service level collectors. Everything is registered on
// the registry passed to New, never on the global default.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	reg prometheus.Registerer
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyledger_operations_total",
			Help: "Registry and custody operations by outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keyledger_operation_duration_seconds",
			Help:    "Duration of registry and custody operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		reg: reg,
	}
}

// ObserveOperation records one finished operation.
func (m *Metrics) ObserveOperation(operation, outcome string, started time.Time) {
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

type dispatchStats interface {
	Metrics() usecase.OutboxDispatcherMetrics
}

// RegisterDispatcher exports the dispatcher's counters.
func (m *Metrics) RegisterDispatcher(d dispatchStats) {
	factory := promauto.With(m.reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "keyledger_outbox_dispatch_success_total",
		Help: "Outbox events delivered to the publisher",
	}, func() float64 { return float64(d.Metrics().DispatchSuccessTotal) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "keyledger_outbox_dispatch_failure_total",
		Help: "Failed outbox delivery attempts",
	}, func() float64 { return float64(d.Metrics().DispatchFailureTotal) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "keyledger_outbox_dispatch_dead_total",
		Help: "Outbox events moved to the dead letter state",
	}, func() float64 { return float64(d.Metrics().DispatchDeadTotal) })
}

// BacklogFunc counts outbox rows per status.
type BacklogFunc func(ctx context.Context) (map[string]int64, error)

// RegisterBacklog exports the outbox backlog, queried on every scrape.
func (m *Metrics) RegisterBacklog(fn BacklogFunc) {
	m.reg.MustRegister(&backlogCollector{
		fn: fn,
		desc: prometheus.NewDesc(
			"keyledger_outbox_events",
			"Outbox rows by delivery status",
			[]string{"status"}, nil,
		),
	})
}

type backlogCollector struct {
	fn   BacklogFunc
	desc *prometheus.Desc
}

func (c *backlogCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *backlogCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	counts, err := c.fn(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), status)
	}
}
