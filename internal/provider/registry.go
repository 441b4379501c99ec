package provider

import (
	"fmt"
	"math/rand/v2"

	"github.com/any-hub/image-provider/internal/cache"
	"github.com/any-hub/image-provider/internal/config"
	"github.com/any-hub/image-provider/internal/source"
)

var (
	// ErrNoSources 表示配置中没有任何图源。
	ErrNoSources = fmt.Errorf("%w: no image sources configured", source.ErrConfiguration)
	// ErrSourceNotFound 表示请求的图源 ID 不存在。
	ErrSourceNotFound = fmt.Errorf("%w: image source not found", source.ErrConfiguration)
)

// SourceStatus 聚合图源配置与队列深度，供 /-/sources 诊断输出。
type SourceStatus struct {
	ID       string            `json:"id"`
	Category string            `json:"category"`
	Mode     config.SourceMode `json:"mode"`
	URL      string            `json:"url"`
	// Queued 为 -1 表示队列尚未创建（缓存未开启或首次补充尚未发生）。
	Queued int `json:"queued"`
}

// selectSource 按 ID 选择图源，ID 为空时等概率随机选择一个。
func selectSource(cfg *config.Config, sourceID string, intN func(int) int) (config.SourceConfig, error) {
	if cfg == nil || len(cfg.Sources) == 0 {
		return config.SourceConfig{}, ErrNoSources
	}
	if sourceID == "" {
		if intN == nil {
			intN = rand.IntN
		}
		return cfg.Sources[intN(len(cfg.Sources))], nil
	}
	src, ok := cfg.FindSource(sourceID)
	if !ok {
		return config.SourceConfig{}, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	return src, nil
}

// listSources 按配置顺序输出图源状态。
func listSources(cfg *config.Config, queues *cache.QueueStore) []SourceStatus {
	if cfg == nil || len(cfg.Sources) == 0 {
		return nil
	}

	depths := map[string]int{}
	if queues != nil {
		for _, depth := range queues.Depths() {
			depths[depth.SourceID] = depth.Depth
		}
	}

	result := make([]SourceStatus, len(cfg.Sources))
	for i, src := range cfg.Sources {
		queued, ok := depths[src.ID]
		if !ok {
			queued = -1
		}
		category := src.Category
		if category == "" {
			category = config.UncategorizedDirName
		}
		result[i] = SourceStatus{
			ID:       src.ID,
			Category: category,
			Mode:     src.Mode,
			URL:      src.URL,
			Queued:   queued,
		}
	}
	return result
}
