package source

import "errors"

// 错误分类：配置错误对触发它的请求是致命的；抓取错误在后台刷新中只记录日志并在下个周期重试。
var (
	// ErrConfiguration 表示图源配置本身不可用（目录缺失、目录下无图片等）。
	ErrConfiguration = errors.New("image source misconfigured")
	// ErrFetch 表示访问图源失败（网络错误、响应格式错误、缺少路径键、地址为空）。
	ErrFetch = errors.New("image source fetch failed")
)

// IsConfiguration reports whether err belongs to the configuration class.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsFetch reports whether err belongs to the fetch class.
func IsFetch(err error) bool {
	return errors.Is(err, ErrFetch)
}
