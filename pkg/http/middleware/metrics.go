package middleware

import (
	"strconv"
	"sync"
	"time"

	"FinOracle/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

var (
	httpOnce sync.Once
	hm       *httpMetrics
)

func sharedHTTPMetrics() *httpMetrics {
	httpOnce.Do(func() {
		hm = &httpMetrics{
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "finoracle_http_requests_total",
				Help: "HTTP requests by route template, method and status.",
			}, []string{"route", "method", "status"}),
			duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name: "finoracle_http_request_duration_seconds",
				Help: "HTTP request latency. Pipeline runs dominate the upper buckets.",
				// synchronous runs wait on an LLM and a ledger confirmation
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			}, []string{"route", "method", "class"}),
			inFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "finoracle_http_in_flight_requests",
				Help: "Requests currently being served.",
			}),
		}
	})
	return hm
}

// Metrics records request counters labelled by the echo route template so
// /prices/BTC and /prices/ETH share a series. Requests slower than
// slowThreshold are logged. Paths in skip (the scrape endpoint) are not recorded.
func Metrics(l *logger.Logger, slowThreshold time.Duration, skip ...string) echo.MiddlewareFunc {
	m := sharedHTTPMetrics()
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := routeOf(c)
			if skipped[route] {
				return next(c)
			}
			method := c.Request().Method

			m.inFlight.Inc()
			defer m.inFlight.Dec()
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			dur := time.Since(start)
			m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.duration.WithLabelValues(route, method, statusClass(status)).Observe(dur.Seconds())

			if slowThreshold > 0 && dur >= slowThreshold {
				l.Warn("http request slow",
					logger.String("route", route),
					logger.String("method", method),
					logger.Int("status", status),
					logger.Duration("duration", dur))
			}
			return err
		}
	}
}

func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
