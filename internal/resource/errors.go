package resource

import (
	"errors"
	"fmt"
)

// ErrNotFound 表示源站确认资源不存在，本层不会重试。
var ErrNotFound = errors.New("resource not found")

// ErrCacheCorruption 表示磁盘缓存与索引不一致，调用方应视为未命中并重新下载。
var ErrCacheCorruption = errors.New("cache corruption")

// TransportError 包装来自 transport 的网络/协议错误，原样向上传递。
type TransportError struct {
	URI        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("transport %s: status %d: %v", e.URI, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("transport %s: %v", e.URI, e.Err)
	default:
		return fmt.Sprintf("transport %s: unexpected status %d", e.URI, e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IntegrityError 表示下载内容与源站声明的长度或摘要不符，暂存数据已丢弃。
type IntegrityError struct {
	Key      Key
	Field    string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %s expected %s, got %s", e.Key, e.Field, e.Expected, e.Actual)
}

// IsNotFound 报告 err 链中是否包含 ErrNotFound。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransport 报告 err 链中是否包含 *TransportError。
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsIntegrity 报告 err 链中是否包含 *IntegrityError。
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
