package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveRefresh(true, 0.2, 3)
	m.ObserveRefresh(false, 0.1, 1)
	m.RequestSigned("AWS")
	m.RequestSigned("AWS")
	m.BytesReceived(1024)
	m.BytesReceived(-1)
	m.TransferFinished("chunked", true)

	require.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues(ResultSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues(ResultFailure)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.signed.WithLabelValues("AWS")))
	require.Equal(t, 1024.0, testutil.ToFloat64(m.bytesReceived))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transfers.WithLabelValues("chunked", ResultSuccess)))
}

func TestMetrics_DoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveRefresh(true, 1, 1)
		m.RequestSigned("AWS")
		m.BytesReceived(1)
		m.Throughput(1)
		m.TransferFinished("single", false)
	})
}
