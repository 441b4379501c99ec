// Package provider is the delivery facade used by the HTTP layer: it picks a
// source, takes an image from the cache queue or straight from the source,
// and hands out redirect links through the skip cache.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-provider/internal/cache"
	"github.com/any-hub/image-provider/internal/config"
	"github.com/any-hub/image-provider/internal/logging"
	"github.com/any-hub/image-provider/internal/skip"
	"github.com/any-hub/image-provider/internal/source"
)

// Location 描述一张待交付的图片：本地文件路径或远程 URL。
type Location struct {
	URI      string `json:"uri"`
	IsLocal  bool   `json:"is_local"`
	SourceID string `json:"source_id,omitempty"`
}

// Options 汇总 Service 的依赖，均由 main 创建后注入。
type Options struct {
	Settings *config.Manager
	Resolver *source.Resolver
	Queues   *cache.QueueStore
	Consumer *cache.Consumer
	Skips    *skip.Service
	Logger   *logrus.Logger
}

// Service 实现随机取图与跳转解析。
type Service struct {
	settings *config.Manager
	resolver *source.Resolver
	queues   *cache.QueueStore
	consumer *cache.Consumer
	skips    *skip.Service
	logger   *logrus.Logger
	intN     func(int) int
}

// New 校验依赖并构建 Service。
func New(opts Options) (*Service, error) {
	if opts.Settings == nil {
		return nil, errors.New("config manager is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("source resolver is required")
	}
	if opts.Consumer == nil {
		return nil, errors.New("cache consumer is required")
	}
	if opts.Skips == nil {
		return nil, errors.New("skip service is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		settings: opts.Settings,
		resolver: opts.Resolver,
		queues:   opts.Queues,
		consumer: opts.Consumer,
		skips:    opts.Skips,
		logger:   opts.Logger,
		intN:     rand.IntN,
	}, nil
}

// RandomImageURL 返回一个可直接访问的图片链接。
// 开启缓存时等待队列中的本地文件并签发跳转链接；否则 byte 与 local 图源签发跳转链接，
// json 图源直接返回解析出的远程地址。baseURL 在未配置 PublicBaseURL 时用于拼接跳转链接。
func (s *Service) RandomImageURL(ctx context.Context, sourceID, baseURL string) (string, error) {
	cfg := s.settings.Current()
	src, err := selectSource(cfg, sourceID, s.intN)
	if err != nil {
		return "", err
	}
	if cfg.Global.PublicBaseURL != "" {
		baseURL = cfg.Global.PublicBaseURL
	}

	if cfg.Global.EnableLocalCache {
		path, err := s.consumer.Acquire(ctx, src.ID)
		if err != nil {
			return "", err
		}
		return s.issue(src, path, true, baseURL)
	}

	switch src.Mode {
	case config.ModeByte:
		return s.issue(src, src.URL, false, baseURL)
	case config.ModeLocal:
		path, err := s.resolver.PickLocal(src)
		if err != nil {
			return "", err
		}
		return s.issue(src, path, true, baseURL)
	default:
		return s.resolver.ResolveJSON(ctx, src)
	}
}

// PickRandomImage 返回一张可立即交付的图片位置，不经过跳转缓存。
func (s *Service) PickRandomImage(ctx context.Context, sourceID string) (Location, error) {
	cfg := s.settings.Current()
	src, err := selectSource(cfg, sourceID, s.intN)
	if err != nil {
		return Location{}, err
	}

	if cfg.Global.EnableLocalCache {
		path, err := s.consumer.Acquire(ctx, src.ID)
		if err != nil {
			return Location{}, err
		}
		return Location{URI: path, IsLocal: true, SourceID: src.ID}, nil
	}

	switch src.Mode {
	case config.ModeLocal:
		path, err := s.resolver.PickLocal(src)
		if err != nil {
			return Location{}, err
		}
		return Location{URI: path, IsLocal: true, SourceID: src.ID}, nil
	case config.ModeByte:
		return Location{URI: src.URL, SourceID: src.ID}, nil
	default:
		imageURL, err := s.resolver.ResolveJSON(ctx, src)
		if err != nil {
			return Location{}, err
		}
		return Location{URI: imageURL, SourceID: src.ID}, nil
	}
}

// ResolveRedirect 将跳转 key 还原为图片位置；未知或过期返回 skip.ErrNotFound。
func (s *Service) ResolveRedirect(key string) (Location, error) {
	record, err := s.skips.Resolve(key)
	if err != nil {
		return Location{}, err
	}
	return Location{URI: record.URI, IsLocal: record.IsLocal}, nil
}

// Sources 返回图源列表及其队列深度。
func (s *Service) Sources() []SourceStatus {
	return listSources(s.settings.Current(), s.queues)
}

func (s *Service) issue(src config.SourceConfig, uri string, isLocal bool, baseURL string) (string, error) {
	record, link, err := s.skips.Issue(uri, isLocal, baseURL)
	if err != nil {
		return "", fmt.Errorf("图源 %s 签发跳转失败: %w", src.ID, err)
	}
	fields := logging.SourceFields("skip_issue", src)
	fields["skip_key"] = record.Key
	fields["is_local"] = isLocal
	s.logger.WithFields(fields).Debug("skip_issued")
	return link, nil
}
