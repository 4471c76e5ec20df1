package smartquery

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// execDuration - время выполнения аксессоров результата
	execDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smartquery_exec_duration_seconds",
		Help:    "Smart query execution duration in seconds by accessor",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"accessor"})

	execErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartquery_exec_errors_total",
		Help: "Smart query execution errors by accessor",
	}, []string{"accessor"})

	plansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartquery_plans_total",
		Help: "Smart query plans by result",
	}, []string{"result"})

	batchLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartquery_batch_loads_total",
		Help: "Secondary queries issued for subquery eager loads",
	})
)

func observe(accessor string, start time.Time, err error) {
	execDuration.WithLabelValues(accessor).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrMultipleFound) {
		execErrors.WithLabelValues(accessor).Inc()
	}
}
