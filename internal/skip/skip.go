// Package skip issues short-lived opaque tokens that stand between choosing an
// image and delivering its bytes. A token maps to a file path or remote URL
// and can be resolved any number of times until it expires.
package skip

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/any-hub/image-provider/internal/metrics"
)

const (
	// SlidingTTL 每次成功解析都会顺延。
	SlidingTTL = 10 * time.Minute
	// AbsoluteTTL 从签发起计算，不受访问影响。
	AbsoluteTTL = time.Hour
	// PathPrefix 是跳转链接在 HTTP API 中的路径前缀。
	PathPrefix = "/api/imageprovider/skip/"
)

// ErrNotFound 表示 key 不存在或已过期。
var ErrNotFound = errors.New("skip record not found")

// Record 是一条跳转记录；IsLocal 为 true 时 URI 是本地文件路径，否则是远程 URL。
type Record struct {
	Key       string    `json:"key"`
	URI       string    `json:"uri"`
	IsLocal   bool      `json:"is_local"`
	CreatedAt time.Time `json:"created_at"`
}

// Service 保存跳转记录。签发串行执行，解析不加锁。
type Service struct {
	issueMu sync.Mutex
	records *ttlcache.Cache[string, Record]
	metrics *metrics.Metrics

	absolute time.Duration
	now      func() time.Time
	newKey   func() string
}

// NewService 创建跳转记录存储并启动过期清理协程，调用方负责 Close。
func NewService(m *metrics.Metrics) *Service {
	return newService(m, SlidingTTL, AbsoluteTTL)
}

func newService(m *metrics.Metrics, sliding, absolute time.Duration) *Service {
	records := ttlcache.New[string, Record](
		ttlcache.WithTTL[string, Record](sliding),
	)
	go records.Start()
	return &Service{
		records:  records,
		metrics:  m,
		absolute: absolute,
		now:      time.Now,
		newKey:   newKey,
	}
}

// Close 停止过期清理协程。
func (s *Service) Close() {
	s.records.Stop()
}

// Issue 签发一条跳转记录并返回可直接访问的链接。
func (s *Service) Issue(uri string, isLocal bool, baseURL string) (Record, string, error) {
	if strings.TrimSpace(uri) == "" {
		return Record{}, "", errors.New("skip target is empty")
	}

	s.issueMu.Lock()
	defer s.issueMu.Unlock()

	record := Record{
		Key:       s.newKey(),
		URI:       uri,
		IsLocal:   isLocal,
		CreatedAt: s.now(),
	}
	s.records.Set(record.Key, record, ttlcache.DefaultTTL)
	s.metrics.IncSkipIssued(isLocal)
	return record, Link(baseURL, record.Key), nil
}

// Resolve 查找记录，命中时顺延滑动过期；记录不会因解析而删除。
func (s *Service) Resolve(key string) (Record, error) {
	item := s.records.Get(key)
	if item == nil {
		s.metrics.IncSkipResolve(metrics.ResultNotFound)
		return Record{}, ErrNotFound
	}
	record := item.Value()
	if s.now().Sub(record.CreatedAt) > s.absolute {
		s.records.Delete(key)
		s.metrics.IncSkipResolve(metrics.ResultExpired)
		return Record{}, ErrNotFound
	}
	s.metrics.IncSkipResolve(metrics.ResultOK)
	return record, nil
}

// Len 返回当前未过期的记录数（近似值）。
func (s *Service) Len() int {
	return s.records.Len()
}

// Link 拼接跳转链接：<baseURL>/api/imageprovider/skip/<key>。
func Link(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + PathPrefix + key
}

// newKey 生成 32 位十六进制（无连字符）的随机 key。
func newKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
