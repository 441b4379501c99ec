package cache

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-provider/internal/config"
	"github.com/any-hub/image-provider/internal/logging"
	"github.com/any-hub/image-provider/internal/source"
)

// Fetcher 将图源解析出的远程图片下载到内容寻址缓存中。
type Fetcher struct {
	resolver *source.Resolver
	store    *ContentStore
	logger   *logrus.Logger
}

// NewFetcher 组合解析器与内容存储。
func NewFetcher(resolver *source.Resolver, store *ContentStore, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		resolver: resolver,
		store:    store,
		logger:   logger,
	}
}

// Fetch 产出一个可入队的本地文件路径（分隔符统一为 /）。
// 本地目录图源直接返回随机挑选的原文件，不复制；其余图源下载后按 MD5 命名。
func (f *Fetcher) Fetch(ctx context.Context, global config.GlobalConfig, src config.SourceConfig) (string, error) {
	if src.IsLocal() {
		path, err := f.resolver.PickLocal(src)
		if err != nil {
			return "", err
		}
		return filepath.ToSlash(path), nil
	}

	imageURL, err := f.resolver.Resolve(ctx, src)
	if err != nil {
		return "", err
	}

	client := f.resolver.Pool().Get(src)
	resp, err := client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(imageURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: 下载图片失败 %s: %v", source.ErrFetch, imageURL, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return "", fmt.Errorf("%w: 下载图片 %s 返回状态码 %d", source.ErrFetch, imageURL, code)
	}

	dir := global.CacheDir(src)
	entry, err := f.store.Put(ctx, dir, body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: 写入缓存失败 %s: %v", source.ErrFetch, imageURL, err)
	}

	fields := logging.SourceFields("cache_image", src)
	fields["image_url"] = imageURL
	fields["cache_path"] = entry.FilePath
	fields["size_bytes"] = entry.SizeBytes
	fields["deduplicated"] = entry.Existed
	f.logger.WithFields(fields).Debug("cache_image_stored")

	return entry.FilePath, nil
}
