package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return decode(v)
}

func newViper(path string) *viper.Viper {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	return v
}

// decode 将 viper 当前内容转换为 Config，Load 与热更新共用这一份逻辑。
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Sources {
		applySourceDefaults(&cfg.Sources[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.LocalCachePath != "" {
		absCache, err := filepath.Abs(cfg.Global.LocalCachePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.LocalCachePath = absCache
	}
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if !src.IsLocal() {
			continue
		}
		absDir, err := filepath.Abs(src.URL)
		if err != nil {
			return nil, fmt.Errorf("%s: 无法解析本地目录: %w", sourceField(src.ID, "Url"), err)
		}
		src.URL = absDir
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("PublicBaseURL", "")
	v.SetDefault("EnableLocalCache", false)
	v.SetDefault("LocalCachePath", "")
	v.SetDefault("CreateCategoryCacheDirectory", false)
	v.SetDefault("CreateSourceCacheDirectory", false)
	v.SetDefault("CacheMonitorInterval", 60)
	v.SetDefault("CacheSize", 5)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.CacheMonitorInterval.DurationValue() == 0 {
		g.CacheMonitorInterval = Duration(60 * time.Second)
	}
	if g.CacheSize == 0 {
		g.CacheSize = 5
	}
	g.PublicBaseURL = strings.TrimRight(strings.TrimSpace(g.PublicBaseURL), "/")
}

// applySourceDefaults 统一 Mode 写法，并兼容 IsByteResponse/IsLocalDirectory 旧字段。
func applySourceDefaults(s *SourceConfig) {
	s.ID = strings.TrimSpace(s.ID)
	s.URL = strings.TrimSpace(s.URL)
	mode := SourceMode(strings.ToLower(strings.TrimSpace(string(s.Mode))))
	if mode == "" {
		switch {
		case s.IsLocalDirectory:
			mode = ModeLocal
		case s.IsByteResponse:
			mode = ModeByte
		default:
			mode = ModeJSON
		}
	}
	s.Mode = mode
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
