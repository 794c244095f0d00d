// Package metrics holds the Prometheus collectors for the stock ledger and the
// coordinated mutations.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LedgerEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbook_ledger_events_total",
		Help: "Stock ledger primitives by kind and outcome.",
	}, []string{"kind", "outcome"})

	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockbook_operation_duration_seconds",
		Help:    "Latency of coordinated mutations, retries included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})

	ConflictRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbook_conflict_retries_total",
		Help: "Whole-operation retries after a concurrent modification.",
	}, []string{"operation"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbook_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
)

var (
	registerOnce sync.Once
	registerErr  error
)

// Register adds every collector to reg (the default registerer when nil) and
// returns the /metrics handler. Calling it twice is safe.
func Register(reg prometheus.Registerer) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{LedgerEvents, OperationDuration, ConflictRetries, HTTPRequests} {
			if err := reg.Register(c); err != nil {
				var already prometheus.AlreadyRegisteredError
				if errors.As(err, &already) {
					continue
				}
				registerErr = err
				return
			}
		}
	})
	if registerErr != nil {
		return nil, registerErr
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{}), nil
	}
	return promhttp.Handler(), nil
}

func ObserveOperation(operation string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	OperationDuration.WithLabelValues(operation, result).Observe(time.Since(started).Seconds())
}
