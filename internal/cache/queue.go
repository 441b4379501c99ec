package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Queue 是单个图源的缓存路径 FIFO，可被生产者与消费者并发访问。
// 队列本身不限制长度，容量由刷新任务在达到 CacheSize 后停止生产来保证。
type Queue struct {
	mu    sync.Mutex
	items []string
}

// Enqueue 追加一个缓存路径，返回追加后的长度。
func (q *Queue) Enqueue(path string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, path)
	return len(q.items)
}

// TryDequeue 取出最早的一项；队列为空时返回 false。
func (q *Queue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	head := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return head, true
}

// Len 返回当前队列长度。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot 返回队列内容副本，按入队顺序排列。
func (q *Queue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.items...)
}

const (
	queueKeyPrefix = "image_queue:"
	// QueueSlidingTTL 是队列在无人访问时的滑动过期时间；过期后下一轮刷新会重新创建。
	QueueSlidingTTL = 60 * time.Minute
)

// QueueStore 按图源 ID 保存队列。队列的首次创建由一把全局锁保护（所有图源共用，
// 不按图源拆分）；入队/出队走 Queue 自身的并发安全实现。
type QueueStore struct {
	registerMu sync.Mutex
	items      *ttlcache.Cache[string, *Queue]
}

// NewQueueStore 创建队列存储并启动过期清理协程，调用方负责 Close。
func NewQueueStore() *QueueStore {
	items := ttlcache.New[string, *Queue](
		ttlcache.WithTTL[string, *Queue](QueueSlidingTTL),
	)
	go items.Start()
	return &QueueStore{items: items}
}

// Close 停止过期清理协程。
func (s *QueueStore) Close() {
	s.items.Stop()
}

// Lookup 返回已注册的队列，命中时刷新滑动过期时间。
func (s *QueueStore) Lookup(sourceID string) (*Queue, bool) {
	item := s.items.Get(queueKeyPrefix + sourceID)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Ensure 返回图源的队列，不存在时在全局锁内双重检查后创建；created 表示本次是否新建。
func (s *QueueStore) Ensure(sourceID string) (queue *Queue, created bool) {
	if q, ok := s.Lookup(sourceID); ok {
		return q, false
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	if q, ok := s.Lookup(sourceID); ok {
		return q, false
	}
	q := &Queue{}
	s.items.Set(queueKeyPrefix+sourceID, q, ttlcache.DefaultTTL)
	return q, true
}

// QueueDepth 描述一个图源队列的当前长度，供诊断接口输出。
type QueueDepth struct {
	SourceID string `json:"source_id"`
	Depth    int    `json:"depth"`
}

// Depths 返回所有已注册队列的长度（按图源 ID 排序），不刷新过期时间。
func (s *QueueStore) Depths() []QueueDepth {
	items := s.items.Items()
	result := make([]QueueDepth, 0, len(items))
	for key, item := range items {
		result = append(result, QueueDepth{
			SourceID: key[len(queueKeyPrefix):],
			Depth:    item.Value().Len(),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SourceID < result[j].SourceID
	})
	return result
}
