package metrics

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("invoice", "ok", time.Second)
		m.InstanceStarted("invoice")
		m.ObserveExecution("manual", "success", time.Millisecond)
		m.ObserveAction("send-notification", "success", time.Millisecond)
		m.CascadeStopped("cycle")
		m.SetOverdue(3)
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveTransition("invoice", "ok", 10*time.Millisecond)
	m.ObserveTransition("invoice", "ok", 20*time.Millisecond)
	m.ObserveTransition("invoice", "denied", 0)
	m.ObserveExecution("record_created", "partial", time.Millisecond)
	m.ObserveAction("call-external-endpoint", "failure", time.Second)
	m.CascadeStopped("quota")
	m.SetOverdue(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("invoice", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("invoice", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ruleExecutions.WithLabelValues("record_created", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionResults.WithLabelValues("call-external-endpoint", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cascadeStops.WithLabelValues("quota")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.overdueInstances))
	assert.Equal(t, 1, testutil.CollectAndCount(m.transitionDuration), "only successful transitions are timed")
}

func TestExposition(t *testing.T) {
	m := New()
	m.InstanceStarted("invoice")

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	assert.Contains(t, buf.String(), `buildify_workflow_instances_started_total{workflow="invoice"} 1`)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "buildify_workflow_instances_started_total")
}
