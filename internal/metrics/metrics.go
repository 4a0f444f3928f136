package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "checkin"

// Metrics groups the counters exported on /metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	scans        *prometheus.CounterVec
	manual       *prometheus.CounterVec
	resets       *prometheus.CounterVec
	guests       prometheus.Counter
	qrFailures   prometheus.Counter
	feedDrops    prometheus.Counter
	feedWatchers prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Door scans by result.",
		}, []string{"result"}),
		manual: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manual_arrivals_total",
			Help:      "Arrivals marked by an administrator without a scan, by result.",
		}, []string{"result"}),
		resets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_resets_total",
			Help:      "Attendance resets by result.",
		}, []string{"result"}),
		guests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guests_created_total",
			Help:      "Guests registered.",
		}),
		qrFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_encode_failures_total",
			Help:      "QR images that could not be rendered.",
		}),
		feedDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_dropped_total",
			Help:      "Live feed events dropped for slow watchers.",
		}),
		feedWatchers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_watchers",
			Help:      "Connected live dashboards.",
		}),
	}
}

func (m *Metrics) Scan(result string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(result).Inc()
}

func (m *Metrics) ManualArrival(result string) {
	if m == nil {
		return
	}
	m.manual.WithLabelValues(result).Inc()
}

func (m *Metrics) Reset(result string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(result).Inc()
}

func (m *Metrics) GuestCreated() {
	if m == nil {
		return
	}
	m.guests.Inc()
}

func (m *Metrics) QRFailure() {
	if m == nil {
		return
	}
	m.qrFailures.Inc()
}

func (m *Metrics) FeedDropped() {
	if m == nil {
		return
	}
	m.feedDrops.Inc()
}

func (m *Metrics) WatcherDelta(d float64) {
	if m == nil {
		return
	}
	m.feedWatchers.Add(d)
}
