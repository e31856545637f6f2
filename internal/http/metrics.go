package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/aceql/internal/http"

// unmatchedRoute labels requests that hit no registered route.
const unmatchedRoute = "unmatched"

// HTTPMetrics records request instruments for the API.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"aceql.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	// Runs include several LLM round trips, so the buckets reach a minute.
	m.requestDur, err = m.meter.Float64Histogram(
		"aceql.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.responseSize, err = m.meter.Int64Histogram(
		"aceql.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by method, route and status"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 1000, 10000, 100000, 1000000),
	)
	if err != nil {
		m.logger.Warn("failed to create response size histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"aceql.http.active_requests",
		metric.WithDescription("Requests currently in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
				defer m.activeRequests.Add(ctx, -1)
			}

			err := next(c)
			if err != nil {
				// Let echo write the error so the recorded status is final.
				c.Error(err)
				err = nil
			}

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, attrs)
			}
			return err
		}
	}
}

// routeLabel maps the matched route template to a metric label. Echo
// reports the template, not the raw path, so labels stay bounded.
func routeLabel(path string) string {
	switch path {
	case "", "/*":
		return unmatchedRoute
	default:
		return path
	}
}
