package taskhistory

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for history operations and batch writes.
type Observer interface {
	RecordOperation(operation string, duration time.Duration, err error)
	RecordShardsSkipped(count int)
	RecordItemWrites(written, failed int)
}

// PrometheusObserver exports history metrics to Prometheus.
type PrometheusObserver struct {
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	itemsWritten      prometheus.Counter
	writeFailures     prometheus.Counter
	shardsSkipped     prometheus.Counter
}

// NewPrometheusObserver registers the operation, write and shard metrics.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "taskhistory"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var err error
	observer := &PrometheusObserver{}
	if observer.operationDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency of search, scan, rebuild, reindex and migrate operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if observer.operationErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_errors_total",
		Help:      "Count of failed history operations.",
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if observer.itemsWritten, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_written_total",
		Help:      "History item documents written successfully.",
	})); err != nil {
		return nil, err
	}
	if observer.writeFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "item_write_failures_total",
		Help:      "History item documents that failed to write.",
	})); err != nil {
		return nil, err
	}
	if observer.shardsSkipped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shards_skipped_total",
		Help:      "Month shards left unread because a search reached its limit.",
	})); err != nil {
		return nil, err
	}
	return observer, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, fmt.Errorf("register taskhistory metric: %w", err)
	}
	return collector, nil
}

// RecordOperation tracks duration and failures of one operation.
func (o *PrometheusObserver) RecordOperation(operation string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues(operation).Inc()
	}
}

func (o *PrometheusObserver) RecordShardsSkipped(count int) {
	if o == nil || count <= 0 {
		return
	}
	o.shardsSkipped.Add(float64(count))
}

func (o *PrometheusObserver) RecordItemWrites(written, failed int) {
	if o == nil {
		return
	}
	if written > 0 {
		o.itemsWritten.Add(float64(written))
	}
	if failed > 0 {
		o.writeFailures.Add(float64(failed))
	}
}

type nopObserver struct{}

func (nopObserver) RecordOperation(string, time.Duration, error) {}

func (nopObserver) RecordShardsSkipped(int) {}

func (nopObserver) RecordItemWrites(int, int) {}
