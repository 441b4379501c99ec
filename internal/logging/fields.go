package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-provider/internal/config"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// SourceFields 提供图源 ID/分类/模式字段，供刷新任务与取图日志复用。
func SourceFields(action string, src config.SourceConfig) logrus.Fields {
	category := src.Category
	if category == "" {
		category = config.UncategorizedDirName
	}
	return logrus.Fields{
		"action":    action,
		"source_id": src.ID,
		"category":  category,
		"mode":      string(src.Mode),
	}
}

// DeliveryFields 描述一次取图/跳转的结果，is_local 区分本地文件与远程重定向。
func DeliveryFields(action, requestID, uri string, isLocal bool) logrus.Fields {
	fields := logrus.Fields{
		"action":   action,
		"uri":      uri,
		"is_local": isLocal,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
