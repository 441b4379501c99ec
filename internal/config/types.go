package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// SourceMode 描述图源返回图片的方式。
type SourceMode string

const (
	// ModeByte 表示 Url 本身直接返回图片字节流。
	ModeByte SourceMode = "byte"
	// ModeJSON 表示 Url 返回 JSON，需要按 PathKeys 逐级取出图片地址。
	ModeJSON SourceMode = "json"
	// ModeLocal 表示 Url 是本地图片目录。
	ModeLocal SourceMode = "local"
)

// DefaultCacheDirName 是未配置 LocalCachePath 时，位于可执行文件目录下的缓存子目录名。
const DefaultCacheDirName = "caches"

// UncategorizedDirName 用于未设置 Category 的图源的分类目录。
const UncategorizedDirName = "uncategorized"

// GlobalConfig 描述全局运行时行为，所有图源共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	PublicBaseURL   string   `mapstructure:"PublicBaseURL"`

	EnableLocalCache             bool     `mapstructure:"EnableLocalCache"`
	LocalCachePath               string   `mapstructure:"LocalCachePath"`
	CreateCategoryCacheDirectory bool     `mapstructure:"CreateCategoryCacheDirectory"`
	CreateSourceCacheDirectory   bool     `mapstructure:"CreateSourceCacheDirectory"`
	CacheMonitorInterval         Duration `mapstructure:"CacheMonitorInterval"`
	CacheSize                    int      `mapstructure:"CacheSize"`
}

// SourceConfig 描述单个图源（远程接口或本地目录）。
type SourceConfig struct {
	ID       string            `mapstructure:"Id"`
	Category string            `mapstructure:"Category"`
	URL      string            `mapstructure:"Url"`
	Mode     SourceMode        `mapstructure:"Mode"`
	Headers  map[string]string `mapstructure:"Headers"`
	PathKeys []string          `mapstructure:"PathKeys"`

	// IsByteResponse/IsLocalDirectory 兼容旧版布尔写法，仅在 Mode 为空时参与推导。
	IsByteResponse   bool `mapstructure:"IsByteResponse"`
	IsLocalDirectory bool `mapstructure:"IsLocalDirectory"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Sources []SourceConfig `mapstructure:"Source"`
}

// IsLocal 表示图源是否为本地目录。
func (s SourceConfig) IsLocal() bool {
	return s.Mode == ModeLocal
}

// IsByte 表示图源是否直接返回图片字节。
func (s SourceConfig) IsByte() bool {
	return s.Mode == ModeByte
}

// CacheRoot 返回缓存根目录，未配置时退回到可执行文件所在目录下的 caches。
func (g GlobalConfig) CacheRoot() string {
	if root := strings.TrimSpace(g.LocalCachePath); root != "" {
		return root
	}
	return filepath.Join(executableDir(), DefaultCacheDirName)
}

// CacheDir 计算某个图源的缓存目录：根目录 [+ 分类] [+ 图源 ID]。
func (g GlobalConfig) CacheDir(src SourceConfig) string {
	dir := g.CacheRoot()
	if g.CreateCategoryCacheDirectory {
		category := strings.TrimSpace(src.Category)
		if category == "" {
			category = UncategorizedDirName
		}
		dir = filepath.Join(dir, category)
	}
	if g.CreateSourceCacheDirectory {
		dir = filepath.Join(dir, src.ID)
	}
	return dir
}

// FindSource 根据 ID 查找图源配置。
func (c *Config) FindSource(id string) (SourceConfig, bool) {
	if c == nil {
		return SourceConfig{}, false
	}
	for _, src := range c.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// SourceIDs 按配置顺序返回全部图源 ID，供日志字段使用。
func SourceIDs(sources []SourceConfig) []string {
	if len(sources) == 0 {
		return nil
	}
	result := make([]string, len(sources))
	for i, src := range sources {
		result[i] = fmt.Sprintf("%s:%s", src.ID, src.Mode)
	}
	return result
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
