package cache

import (
	"context"
	"time"

	"github.com/any-hub/image-provider/internal/metrics"
)

// PollInterval 是消费者等待队列就绪时的固定轮询间隔。
const PollInterval = 100 * time.Millisecond

// Consumer 从图源队列中取出一个仍存在于磁盘上的缓存路径。
type Consumer struct {
	queues   *QueueStore
	metrics  *metrics.Metrics
	interval time.Duration
}

// NewConsumer 构建消费者，m 可以为 nil。
func NewConsumer(queues *QueueStore, m *metrics.Metrics) *Consumer {
	return &Consumer{
		queues:   queues,
		metrics:  m,
		interval: PollInterval,
	}
}

// Acquire 阻塞直到取到一个有效路径：队列未创建、队列为空或文件已被删除时，
// 等待 PollInterval 后重试，失效条目直接丢弃。没有内置超时，图源一直失败时会永久等待；
// 需要截止时间的调用方应通过 ctx 自行设置。
func (c *Consumer) Acquire(ctx context.Context, sourceID string) (string, error) {
	for {
		if queue, ok := c.queues.Lookup(sourceID); ok {
			path, ok := queue.TryDequeue()
			if ok {
				if Exists(path) {
					c.metrics.SetQueueDepth(sourceID, queue.Len())
					return path, nil
				}
				c.metrics.IncDiscarded(sourceID)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.interval):
		}
	}
}
