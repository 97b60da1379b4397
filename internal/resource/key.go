package resource

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Key 是资源的规范化 URI，作为缓存索引的唯一查找键，按字符串精确比较。
type Key string

// String 返回规范化后的 URI 文本。
func (k Key) String() string {
	return string(k)
}

// NormalizeKey 将原始 URI 规范化：scheme/host 小写、去掉默认端口与 fragment、
// 清理路径中的 `.`/`..` 与重复斜杠，query 原样保留。userinfo 不属于资源身份，
// 一律丢弃，凭证由 transport 注入。
func NormalizeKey(raw string) (Key, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("resource uri required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse resource uri: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q in %s", parsed.Scheme, raw)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("resource uri missing host: %s", raw)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = host + ":" + port
	}

	clean := "/"
	if parsed.Path != "" {
		clean = path.Clean("/" + parsed.Path)
		if strings.HasSuffix(parsed.Path, "/") && clean != "/" {
			clean += "/"
		}
	}

	normalized := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     clean,
		RawQuery: parsed.RawQuery,
	}
	return Key(normalized.String()), nil
}

// MustKey 在测试与常量场景中使用，解析失败直接 panic。
func MustKey(raw string) Key {
	key, err := NormalizeKey(raw)
	if err != nil {
		panic(err)
	}
	return key
}

// Resolve 将仓库内的相对路径拼接到 base 上并规范化。
func Resolve(base string, rel string) (Key, error) {
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse repository url: %w", err)
	}
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
	}
	rel = strings.TrimLeft(strings.TrimSpace(rel), "/")
	ref, err := url.Parse(rel)
	if err != nil {
		return "", fmt.Errorf("parse resource path: %w", err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return "", fmt.Errorf("resource path must be relative: %s", rel)
	}
	return NormalizeKey(baseURL.ResolveReference(ref).String())
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
