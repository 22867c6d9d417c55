package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p, err := NewProvider(&Config{Reader: reader})
	require.NoError(t, err)
	defer p.Shutdown(context.Background()) //nolint:errcheck

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p.Metrics.RecordDaemonCreated(ctx)
	}
	p.Metrics.RecordSpawnRetry(ctx, "coordinator", 200*time.Microsecond)
	p.Metrics.RecordSpawnFailure(ctx, "coordinator")
	p.Metrics.RecordReadError(ctx)
	p.Metrics.RunStart(ctx)
	p.Metrics.RunEnd(ctx, "closed", time.Second)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(3), sumOf(t, rm, "daemonstress.daemons.created"))
	assert.Equal(t, int64(1), sumOf(t, rm, "daemonstress.spawn.retries"))
	assert.Equal(t, int64(1), sumOf(t, rm, "daemonstress.spawn.failures"))
	assert.Equal(t, int64(1), sumOf(t, rm, "daemonstress.notify.read.errors"))
	assert.Equal(t, int64(0), sumOf(t, rm, "daemonstress.runs.active"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordDaemonCreated(ctx)
		m.RecordReadError(ctx)
		m.RecordSpawnRetry(ctx, "daemon", time.Millisecond)
		m.RecordSpawnFailure(ctx, "daemon")
		m.RunStart(ctx)
		m.RunEnd(ctx, "stopped", time.Second)
	})
}

func TestPrometheusHandler(t *testing.T) {
	p, err := NewProvider(DefaultConfig())
	require.NoError(t, err)
	defer p.Shutdown(context.Background()) //nolint:errcheck

	p.Metrics.RecordDaemonCreated(context.Background())

	srv := httptest.NewServer(NewHealthMux(nil, p))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "daemonstress_daemons_created"), "body: %s", body)
}

func TestHealthEndpoints(t *testing.T) {
	var ready atomic.Bool
	h := NewHealthChecker(ready.Load)

	srv := httptest.NewServer(NewHealthMux(h, nil))
	defer srv.Close()

	get := func(path string) (int, HealthStatus) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var status HealthStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		return resp.StatusCode, status
	}

	code, status := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", status.Status)

	code, status = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready", status.Status)

	ready.Store(true)
	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)
}
