package taskhistory

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserverRecordsOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	observer, err := NewPrometheusObserver("", reg)
	require.NoError(t, err)

	observer.RecordOperation("search", 10*time.Millisecond, nil)
	observer.RecordOperation("reindex", time.Second, errors.New("boom"))
	observer.RecordItemWrites(3, 1)
	observer.RecordShardsSkipped(2)
	observer.RecordShardsSkipped(0)

	assert.Equal(t, 2, testutil.CollectAndCount(observer.operationDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(observer.operationErrors.WithLabelValues("reindex")))
	assert.Equal(t, 3.0, testutil.ToFloat64(observer.itemsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(observer.writeFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(observer.shardsSkipped))

	count, err := testutil.GatherAndCount(reg, "taskhistory_items_written_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusObserverReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusObserver("dup", reg)
	require.NoError(t, err)
	second, err := NewPrometheusObserver("dup", reg)
	require.NoError(t, err)

	second.RecordItemWrites(2, 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.itemsWritten))
}

func TestNilObserverIsSafe(t *testing.T) {
	var observer *PrometheusObserver
	observer.RecordOperation("search", time.Millisecond, nil)
	observer.RecordItemWrites(1, 1)
	observer.RecordShardsSkipped(1)
}
