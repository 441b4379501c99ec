package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const supportedModeList = "byte|json|local"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
// 图源列表允许为空：此时随机取图会在请求级别返回“未配置图源”。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.CacheMonitorInterval.DurationValue() <= 0 {
		return newFieldError("Global.CacheMonitorInterval", "必须大于 0")
	}
	if g.CacheSize <= 0 {
		return newFieldError("Global.CacheSize", "必须大于 0")
	}
	if g.PublicBaseURL != "" {
		if err := validateHTTPURL(g.PublicBaseURL); err != nil {
			return fmt.Errorf("Global.PublicBaseURL: %w", err)
		}
	}

	seenIDs := map[string]struct{}{}
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.ID == "" {
			return newFieldError("Source[].Id", "不能为空")
		}
		if _, exists := seenIDs[src.ID]; exists {
			return newFieldError(sourceField(src.ID, "Id"), "重复")
		}
		seenIDs[src.ID] = struct{}{}

		switch src.Mode {
		case ModeLocal:
			if src.URL == "" {
				return newFieldError(sourceField(src.ID, "Url"), "本地目录不能为空")
			}
		case ModeByte, ModeJSON:
			if err := validateHTTPURL(src.URL); err != nil {
				return fmt.Errorf("%s: %w", sourceField(src.ID, "Url"), err)
			}
		default:
			return newFieldError(sourceField(src.ID, "Mode"), "仅支持 "+supportedModeList)
		}

		if len(src.PathKeys) > 0 && src.Mode != ModeJSON {
			return newFieldError(sourceField(src.ID, "PathKeys"), "仅 json 模式可配置")
		}
		for _, key := range src.PathKeys {
			if strings.TrimSpace(key) == "" {
				return newFieldError(sourceField(src.ID, "PathKeys"), "不能包含空键")
			}
		}
	}

	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
