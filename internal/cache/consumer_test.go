package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/image-provider/internal/metrics"
)

func newFastConsumer(queues *QueueStore, m *metrics.Metrics) *Consumer {
	c := NewConsumer(queues, m)
	c.interval = 5 * time.Millisecond
	return c
}

func writeCached(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	return filepath.ToSlash(path)
}

func TestConsumerReturnsQueuedPath(t *testing.T) {
	queues := NewQueueStore()
	t.Cleanup(queues.Close)
	path := writeCached(t, "a.jpg")
	q, _ := queues.Ensure("waifu")
	q.Enqueue(path)

	got, err := newFastConsumer(queues, nil).Acquire(context.Background(), "waifu")
	require.NoError(t, err)
	require.Equal(t, path, got)
	require.Zero(t, q.Len())
}

func TestConsumerWaitsForFirstEnqueue(t *testing.T) {
	queues := NewQueueStore()
	t.Cleanup(queues.Close)
	path := writeCached(t, "late.jpg")

	result := make(chan string, 1)
	go func() {
		got, err := newFastConsumer(queues, nil).Acquire(context.Background(), "waifu")
		if err != nil {
			result <- "error: " + err.Error()
			return
		}
		result <- got
	}()

	select {
	case got := <-result:
		t.Fatalf("队列未创建时不应立即返回: %s", got)
	case <-time.After(30 * time.Millisecond):
	}

	q, _ := queues.Ensure("waifu")
	q.Enqueue(path)

	select {
	case got := <-result:
		require.Equal(t, path, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("入队后消费者应返回")
	}
}

func TestConsumerDiscardsMissingFiles(t *testing.T) {
	queues := NewQueueStore()
	t.Cleanup(queues.Close)
	m := metrics.New()

	stale := writeCached(t, "stale.jpg")
	require.NoError(t, os.Remove(filepath.FromSlash(stale)))
	valid := writeCached(t, "valid.jpg")

	q, _ := queues.Ensure("waifu")
	q.Enqueue(stale)
	q.Enqueue(valid)

	got, err := newFastConsumer(queues, m).Acquire(context.Background(), "waifu")
	require.NoError(t, err)
	require.Equal(t, valid, got)
	require.Zero(t, q.Len())
	require.Equal(t, float64(1), testutil.ToFloat64(m.DiscardedTotal.WithLabelValues("waifu")))
	require.Equal(t, float64(0), testutil.ToFloat64(m.QueueDepth.WithLabelValues("waifu")))
}

func TestConsumerHonorsContextDeadline(t *testing.T) {
	queues := NewQueueStore()
	t.Cleanup(queues.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newFastConsumer(queues, nil).Acquire(ctx, "empty")
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
