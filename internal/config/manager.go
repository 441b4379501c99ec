package config

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Manager 持有当前生效的配置快照，并在配置文件变更时通知订阅者。
// 读取方每次通过 Current 取最新快照，不应缓存返回值。
type Manager struct {
	path    string
	v       *viper.Viper
	current atomic.Pointer[Config]

	mu     sync.Mutex
	nextID int
	subs   map[int]func(*Config)
}

// NewManager 用一份已解析的配置构建 Manager，不关联文件，常用于测试。
func NewManager(cfg *Config) *Manager {
	m := &Manager{subs: make(map[int]func(*Config))}
	m.current.Store(cfg)
	return m
}

// LoadManager 读取配置文件并返回可热更新的 Manager。
func LoadManager(path string) (*Manager, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	m := NewManager(cfg)
	m.path = v.ConfigFileUsed()
	m.v = v
	return m, nil
}

// Current 返回当前配置快照。
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Subscribe 注册配置变更回调，返回的函数用于取消订阅。
func (m *Manager) Subscribe(fn func(*Config)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Update 替换当前快照并同步通知所有订阅者。
func (m *Manager) Update(cfg *Config) {
	if cfg == nil {
		return
	}
	m.current.Store(cfg)

	m.mu.Lock()
	callbacks := make([]func(*Config), 0, len(m.subs))
	for _, fn := range m.subs {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// Watch 监听配置文件变更；无效的新配置只记录日志，继续沿用旧快照。
func (m *Manager) Watch(logger *logrus.Logger) error {
	if m.v == nil {
		return errors.New("config manager has no backing file")
	}

	m.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(m.v)
		fields := logrus.Fields{
			"action":     "config_reload",
			"configPath": m.path,
			"op":         e.Op.String(),
		}
		if err != nil {
			logger.WithFields(fields).WithError(err).Warn("配置热更新失败，继续使用旧配置")
			return
		}
		m.Update(cfg)
		fields["sources"] = len(cfg.Sources)
		logger.WithFields(fields).Info("配置已热更新")
	})
	m.v.WatchConfig()
	return nil
}
