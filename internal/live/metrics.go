package live

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/livekv/internal/mutation"
	"github.com/roach88/livekv/internal/storage"
)

// Metrics holds the driver's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	events      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	reads       *prometheus.CounterVec
	emissions   *prometheus.CounterVec
	suppressed  *prometheus.CounterVec
	views       *prometheus.GaugeVec
	queueLength prometheus.Gauge
}

// NewMetrics creates unregistered collectors. Register them with Register
// or pick them up through Collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livekv",
			Name:      "events_total",
			Help:      "Committed writes, by store and event kind.",
		}, []string{"store", "kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livekv",
			Name:      "write_failures_total",
			Help:      "Failed writes, by store and error code.",
		}, []string{"store", "code"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livekv",
			Name:      "view_reads_total",
			Help:      "Live view reads, by store and outcome.",
		}, []string{"store", "outcome"}),
		emissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livekv",
			Name:      "view_emissions_total",
			Help:      "Results delivered to live view subscribers, by store.",
		}, []string{"store"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livekv",
			Name:      "view_suppressed_total",
			Help:      "Count results not emitted because the value was unchanged.",
		}, []string{"store"}),
		views: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "livekv",
			Name:      "views",
			Help:      "Live views held in caches, by store.",
		}, []string{"store"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livekv",
			Name:      "dispatch_queue_length",
			Help:      "Events waiting for the dispatch loop.",
		}),
	}
}

// Collectors lists every collector.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.events, m.failures, m.reads, m.emissions, m.suppressed, m.views, m.queueLength,
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) event(ev *mutation.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(ev.Store, string(ev.Kind)).Inc()
}

func (m *Metrics) failure(werr *mutation.WriteError) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(werr.Query.Store, string(werr.Code())).Inc()
}

func (m *Metrics) read(store string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if code := storage.CodeOf(err); code != "" {
			outcome = string(code)
		}
	}
	m.reads.WithLabelValues(store, outcome).Inc()
}

func (m *Metrics) emitted(store string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.emissions.WithLabelValues(store).Add(float64(n))
}

func (m *Metrics) suppress(store string) {
	if m == nil {
		return
	}
	m.suppressed.WithLabelValues(store).Inc()
}

func (m *Metrics) viewAdded(store string) {
	if m == nil {
		return
	}
	m.views.WithLabelValues(store).Inc()
}

func (m *Metrics) viewEvicted(store string) {
	if m == nil {
		return
	}
	m.views.WithLabelValues(store).Dec()
}

func (m *Metrics) queued(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}
