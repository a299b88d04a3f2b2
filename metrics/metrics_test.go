package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	t.Parallel()

	m := New()

	m.Frame("M", ResultOK)
	m.Frame("M", ResultOK)
	m.Frame("Q", ResultDenied)
	m.Session("connected")
	m.Buffer("tnc1", 1024)
	m.QueueOverflow("traffic").Inc()
	m.BytesIn("tnc1").Add(10)
	m.BytesOut("tnc1").Add(5)

	require.Equal(t, 2.0, testutil.ToFloat64(
		m.frames.WithLabelValues("M", ResultOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.frames.WithLabelValues("Q", ResultDenied)))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.arqSessions.WithLabelValues("connected")))
	require.Equal(t, 1024.0, testutil.ToFloat64(
		m.tncBuffer.WithLabelValues("tnc1")))

	expected := `
# HELP arim_tnc_bytes_total Data channel payload bytes per TNC.
# TYPE arim_tnc_bytes_total counter
arim_tnc_bytes_total{dir="in",tnc="tnc1"} 10
arim_tnc_bytes_total{dir="out",tnc="tnc1"} 5
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry,
		strings.NewReader(expected), "arim_tnc_bytes_total"))

	require.Equal(t, 1.0, testutil.ToFloat64(
		m.queueOverflows.WithLabelValues("traffic")))
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics

	m.Frame("B", ResultOK)
	m.Session("failed")
	m.Buffer("tnc1", 1)
	require.Nil(t, m.QueueOverflow("traffic"))
	require.Nil(t, m.BytesIn("tnc1"))
	require.Nil(t, m.BytesOut("tnc1"))
}
