// Package upstream owns the outbound HTTP clients used to talk to image
// sources. One resty client is kept per source id for the process lifetime;
// all of them share a single tuned transport so keep-alive connections are
// reused across sources that live on the same host.
package upstream

import (
	"net"
	"net/http"
	"net/textproto"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/any-hub/image-provider/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

const defaultTimeout = 30 * time.Second

// Pool 按图源 ID 复用 resty.Client，客户端创建后在进程生命周期内不会被回收。
type Pool struct {
	// mu 是全局唯一的创建锁，所有图源共用。
	mu      sync.RWMutex
	clients map[string]*resty.Client

	// headerMu 串行化默认头写入，读取请求头时不加锁。
	headerMu sync.Mutex

	transport *http.Transport
	timeout   time.Duration
}

// NewPool 构建连接池，timeout 来自 Global.UpstreamTimeout。
func NewPool(cfg config.GlobalConfig) *Pool {
	timeout := cfg.UpstreamTimeout.DurationValue()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Pool{
		clients:   make(map[string]*resty.Client),
		transport: defaultTransport.Clone(),
		timeout:   timeout,
	}
}

// Get 返回图源对应的共享客户端，首次访问时在双重检查锁内创建；
// 每次调用都会把图源 Headers 幂等地合并进客户端默认头。
func (p *Pool) Get(src config.SourceConfig) *resty.Client {
	p.mu.RLock()
	client := p.clients[src.ID]
	p.mu.RUnlock()

	if client == nil {
		p.mu.Lock()
		client = p.clients[src.ID]
		if client == nil {
			client = resty.NewWithClient(&http.Client{
				Transport: p.transport,
				Timeout:   p.timeout,
			})
			p.clients[src.ID] = client
		}
		p.mu.Unlock()
	}

	p.mergeHeaders(client, src.Headers)
	return client
}

// Len 返回已创建的客户端数量。
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// mergeHeaders：值相同则跳过，不同则替换旧值，空键与 hop-by-hop 头忽略。
func (p *Pool) mergeHeaders(client *resty.Client, headers map[string]string) {
	if len(headers) == 0 {
		return
	}
	p.headerMu.Lock()
	defer p.headerMu.Unlock()

	for key, value := range headers {
		key = strings.TrimSpace(key)
		if key == "" || isHopByHopHeader(key) {
			continue
		}
		if slices.Contains(client.Header.Values(key), value) {
			continue
		}
		client.SetHeader(key, value)
	}
}

// hopByHopHeaders 定义 RFC 7230 中只对单跳有效的头部，不允许作为图源默认头。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

func isHopByHopHeader(key string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	_, ok := hopByHopHeaders[canonical]
	return ok
}
