package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Scan("success")
	m.Scan("success")
	m.Scan("already_arrived")
	m.ManualArrival("success")
	m.GuestCreated()
	m.QRFailure()
	m.WatcherDelta(1)
	m.WatcherDelta(1)
	m.WatcherDelta(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scans.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues("already_arrived")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.manual.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.guests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.qrFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedWatchers))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Scan("success")
		m.ManualArrival("success")
		m.Reset("success")
		m.GuestCreated()
		m.QRFailure()
		m.FeedDropped()
		m.WatcherDelta(1)
	})
}
