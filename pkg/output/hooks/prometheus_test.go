package hooks

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recondrone/drone/pkg/output/events"
)

func newTestPrometheusHook(t *testing.T) *PrometheusHook {
	t.Helper()
	hook, err := NewPrometheusHook(PrometheusOptions{Logger: slogDiscard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hook.Shutdown(context.Background()) })
	return hook
}

func TestPrometheusHook_Metrics(t *testing.T) {
	hook := newTestPrometheusHook(t)
	for _, ev := range runEvents() {
		require.NoError(t, hook.OnEvent(context.Background(), ev))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(hook.openPorts.WithLabelValues("10.0.0.5")))
	assert.Equal(t, 1.0, testutil.ToFloat64(hook.webServices.WithLabelValues("10.0.0.5")))
	assert.Equal(t, 1.0, testutil.ToFloat64(hook.launchesTotal.WithLabelValues("brute_force", "feroxbuster", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(hook.launchesTotal.WithLabelValues("vuln_scan", "nikto", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(hook.warningsTotal.WithLabelValues("enumerating")))
	assert.Equal(t, 1.0, testutil.ToFloat64(hook.runsTotal.WithLabelValues("attached")))
	assert.Equal(t, 92.0, testutil.ToFloat64(hook.runDurationSeconds.WithLabelValues("10.0.0.5")))

	// Zero-elapsed transitions are not observed.
	assert.Equal(t, 3, testutil.CollectAndCount(hook.stageDurationSeconds))
}

func TestPrometheusHook_ServesMetrics(t *testing.T) {
	hook := newTestPrometheusHook(t)
	require.NoError(t, hook.OnEvent(context.Background(), runEvents()[2]))

	resp, err := http.Get(hook.MetricsAddr())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `drone_open_ports{target="10.0.0.5"} 2`)
}

func TestPrometheusHook_EventTypes(t *testing.T) {
	hook := newTestPrometheusHook(t)
	types := hook.EventTypes()
	assert.Contains(t, types, events.EventTypeLaunch)
	assert.Contains(t, types, events.EventTypeComplete)
	assert.NotContains(t, types, events.EventTypeStart)
}

func TestPrometheusHook_ShutdownStopsUpdates(t *testing.T) {
	hook := newTestPrometheusHook(t)
	require.NoError(t, hook.Shutdown(context.Background()))
	require.NoError(t, hook.Shutdown(context.Background()), "shutdown is idempotent")

	require.NoError(t, hook.OnEvent(context.Background(), runEvents()[2]))
	assert.Equal(t, 0, testutil.CollectAndCount(hook.openPorts))

	_, err := http.Get(hook.MetricsAddr())
	assert.Error(t, err)
}

func TestPrometheusHook_PortInUse(t *testing.T) {
	first := newTestPrometheusHook(t)
	port := first.listener.Addr().(*net.TCPAddr).Port

	_, err := NewPrometheusHook(PrometheusOptions{Port: port})
	assert.Error(t, err)
}
