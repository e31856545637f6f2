package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newHTTPMetrics(mp.Meter(httpInstrumentationName), nil)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/runs", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "user_query is required")
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/health"},
		{http.MethodPost, "/api/v1/runs"},
		{http.MethodGet, "/nope"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			got[mt.Name] = mt
		}
	}
	require.Contains(t, got, "aceql.http.requests_total")
	require.Contains(t, got, "aceql.http.request_duration_seconds")
	require.Contains(t, got, "aceql.http.response_size_bytes")
	require.Contains(t, got, "aceql.http.active_requests")

	sum, ok := got["aceql.http.requests_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var total int64
	byStatus := map[int64]int64{}
	for _, dp := range sum.DataPoints {
		total += dp.Value
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[status.AsInt64()] += dp.Value
		if status.AsInt64() == http.StatusOK {
			route, _ := dp.Attributes.Value(attribute.Key("route"))
			assert.Equal(t, "/health", route.AsString())
		}
	}
	assert.Equal(t, int64(4), total)
	assert.Equal(t, int64(2), byStatus[http.StatusOK])
	assert.Equal(t, int64(1), byStatus[http.StatusBadRequest], "handler errors are recorded with their final status")
	assert.Equal(t, int64(1), byStatus[http.StatusNotFound])

	active, ok := got["aceql.http.active_requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range active.DataPoints {
		assert.Zero(t, dp.Value)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", unmatchedRoute},
		{"/*", unmatchedRoute},
		{"/health", "/health"},
		{"/api/v1/playbook/teach", "/api/v1/playbook/teach"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, routeLabel(tt.input), tt.input)
	}
}
