package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "productmarket",
		Name:      "operations_total",
		Help:      "Marketplace operations by name and result.",
	}, []string{"operation", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "productmarket",
		Name:      "operation_duration_seconds",
		Help:      "Time spent inside one marketplace operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func Observe(operation string, start time.Time, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
