// Package source turns a configured image source into a concrete image
// location: a random file from a local directory, the byte endpoint itself,
// or a URL extracted from a JSON response by walking an ordered key path.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/Jeffail/gabs"

	"github.com/any-hub/image-provider/internal/config"
	"github.com/any-hub/image-provider/internal/upstream"
)

// imageExtensions 是本地目录模式下识别为图片的扩展名（不区分大小写）。
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

// Resolver 通过共享连接池访问远程图源。
type Resolver struct {
	pool *upstream.Pool
	intN func(n int) int
}

// NewResolver 构造解析器，随机数默认使用 math/rand/v2。
func NewResolver(pool *upstream.Pool) *Resolver {
	return &Resolver{
		pool: pool,
		intN: rand.IntN,
	}
}

// Pool 暴露底层连接池，供下载器复用同一个图源客户端。
func (r *Resolver) Pool() *upstream.Pool {
	return r.pool
}

// Resolve 按图源模式返回可获取的图片位置：本地文件路径或远程 URL。
func (r *Resolver) Resolve(ctx context.Context, src config.SourceConfig) (string, error) {
	switch src.Mode {
	case config.ModeLocal:
		return r.PickLocal(src)
	case config.ModeByte:
		if src.URL == "" {
			return "", fmt.Errorf("%w: 图源 %s 未配置 Url", ErrConfiguration, src.ID)
		}
		return src.URL, nil
	case config.ModeJSON:
		return r.ResolveJSON(ctx, src)
	default:
		return "", fmt.Errorf("%w: 图源 %s 模式不受支持: %s", ErrConfiguration, src.ID, src.Mode)
	}
}

// PickLocal 递归列出目录下的图片文件并等概率随机选择一个。
func (r *Resolver) PickLocal(src config.SourceConfig) (string, error) {
	dir := src.URL
	if dir == "" {
		return "", fmt.Errorf("%w: 图源 %s 的 Url 为空", ErrConfiguration, src.ID)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: 图源目录不存在: %s", ErrConfiguration, dir)
	}

	files, err := listImages(dir)
	if err != nil {
		return "", fmt.Errorf("%w: 遍历图源目录失败 %s: %v", ErrConfiguration, dir, err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w: 图源目录下没有图片文件: %s", ErrConfiguration, dir)
	}
	return files[r.intN(len(files))], nil
}

// ResolveJSON 请求图源接口，按 PathKeys 逐级下钻取出图片地址；
// 未配置 PathKeys 时，去除空白后的响应正文即为地址。
func (r *Resolver) ResolveJSON(ctx context.Context, src config.SourceConfig) (string, error) {
	client := r.pool.Get(src)
	resp, err := client.R().SetContext(ctx).Get(src.URL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: 请求图源 %s 失败: %v", ErrFetch, src.ID, err)
	}
	body := resp.Body()
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return "", fmt.Errorf("%w: 图源 %s 返回状态码 %d", ErrFetch, src.ID, code)
	}

	imageURL := strings.TrimSpace(string(body))
	if len(src.PathKeys) > 0 {
		imageURL, err = walkPathKeys(body, src.PathKeys)
		if err != nil {
			return "", fmt.Errorf("%w: 图源 %s: %v，响应: %s", ErrFetch, src.ID, err, truncate(body, 256))
		}
	}
	if imageURL == "" {
		return "", fmt.Errorf("%w: 图源 %s 解析出的图片地址为空，响应: %s", ErrFetch, src.ID, truncate(body, 256))
	}
	return imageURL, nil
}

// walkPathKeys 每一步都在上一步的结果上继续取键，任何一级缺失都视为失败。
func walkPathKeys(body []byte, keys []string) (string, error) {
	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		return "", fmt.Errorf("响应不是合法 JSON: %v", err)
	}
	if _, ok := parsed.Data().(map[string]interface{}); !ok {
		return "", fmt.Errorf("响应不是 JSON 对象")
	}

	node := parsed
	for _, key := range keys {
		if !node.Exists(key) {
			return "", fmt.Errorf("未找到路径: %s", key)
		}
		node = node.S(key)
	}

	switch value := node.Data().(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(value), nil
	default:
		return strings.TrimSpace(node.String()), nil
	}
}

func listImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]; ok {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
