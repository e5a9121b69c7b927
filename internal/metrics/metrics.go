// Package metrics exposes Prometheus collectors for credential refreshes,
// request signing and transfers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "alexander_client"

// Refresh results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the client's collectors.
type Metrics struct {
	refreshes      *prometheus.CounterVec
	refreshLatency prometheus.Histogram
	refreshWaiters prometheus.Histogram
	signed         *prometheus.CounterVec
	bytesReceived  prometheus.Counter
	transfers      *prometheus.CounterVec
	throughput     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_refreshes_total",
			Help:      "Credential refreshes by result.",
		}, []string{"result"}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credential_refresh_duration_seconds",
			Help:      "Time spent fetching credentials.",
			Buckets:   prometheus.DefBuckets,
		}),
		refreshWaiters: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credential_refresh_waiters",
			Help:      "Requests released by one credential refresh.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		signed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signed_requests_total",
			Help:      "Requests signed by scheme.",
		}, []string{"scheme"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_bytes_total",
			Help:      "Bytes received by transfers.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Finished transfers by mode and result.",
		}, []string{"mode", "result"}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfer_throughput_bytes_per_second",
			Help:      "Smoothed throughput of the most recent transfer sample.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.refreshes, m.refreshLatency, m.refreshWaiters, m.signed,
		m.bytesReceived, m.transfers, m.throughput,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveRefresh records one credential fetch.
func (m *Metrics) ObserveRefresh(ok bool, seconds float64, waiters int) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	m.refreshes.WithLabelValues(result).Inc()
	m.refreshLatency.Observe(seconds)
	m.refreshWaiters.Observe(float64(waiters))
}

// RequestSigned counts a signed request.
func (m *Metrics) RequestSigned(scheme string) {
	if m == nil {
		return
	}
	m.signed.WithLabelValues(scheme).Inc()
}

// BytesReceived adds n to the received byte counter.
func (m *Metrics) BytesReceived(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// Throughput sets the current throughput gauge.
func (m *Metrics) Throughput(bytesPerSecond float64) {
	if m == nil {
		return
	}
	m.throughput.Set(bytesPerSecond)
}

// TransferFinished counts a finished transfer.
func (m *Metrics) TransferFinished(mode string, ok bool) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	m.transfers.WithLabelValues(mode, result).Inc()
}
