package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ResolveFields 描述一次解析/拉取：原始说明符与落地的缓存路径或版本。
func ResolveFields(action, specifier, result string) logrus.Fields {
	fields := logrus.Fields{
		"action":    action,
		"specifier": specifier,
	}
	if result != "" {
		fields["result"] = result
	}
	return fields
}

// RequestFields 提供 HTTP 请求日志字段，供服务端中间件复用。
func RequestFields(requestID, method, path string, status int, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":     "request",
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
		"cache_hit":  cacheHit,
	}
}
