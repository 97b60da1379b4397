package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ResourceFields 提供仓库/资源键/结果来源字段，供缓存决策日志复用。
// source 为空时不写入该字段。
func ResourceFields(repository, key, source string) logrus.Fields {
	fields := logrus.Fields{
		"repository": repository,
		"key":        key,
	}
	if source != "" {
		fields["source"] = source
	}
	return fields
}

// RequestFields 在 ResourceFields 基础上补充 HTTP 前端的请求信息。
func RequestFields(requestID, method, repository, key string, status int) logrus.Fields {
	fields := ResourceFields(repository, key, "")
	fields["request_id"] = requestID
	fields["method"] = method
	fields["status"] = status
	return fields
}
