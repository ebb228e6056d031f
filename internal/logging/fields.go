package logging

import (
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供图片请求的 locator/scheme/来源层字段，供 HTTP 访问日志复用。
func RequestFields(requestID, uri, scheme, source string) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"uri":        uri,
		"scheme":     scheme,
		"source":     source,
	}
}

// SizeFields 以字节数与人类可读两种形式输出大小。
func SizeFields(key string, bytes int64) logrus.Fields {
	if bytes < 0 {
		bytes = 0
	}
	return logrus.Fields{
		key:            bytes,
		key + "_human": humanize.IBytes(uint64(bytes)),
	}
}
