package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/any-hub/resource-cache/internal/resource"
)

// checksumHeaders 按优先级列出仓库常用的摘要响应头（Artifactory/Nexus 等）。
var checksumHeaders = []struct {
	header    string
	algorithm string
}{
	{"X-Checksum-Sha256", "sha256"},
	{"X-Checksum-Sha1", "sha1"},
	{"X-Checksum-Md5", "md5"},
}

// HTTPAccessor 通过 HEAD/GET 实现 Accessor。
type HTTPAccessor struct {
	client *Client
}

var _ Accessor = (*HTTPAccessor)(nil)

// NewHTTPAccessor 使用 client 构造 HTTPAccessor。
func NewHTTPAccessor(client *Client) *HTTPAccessor {
	return &HTTPAccessor{client: client}
}

// Metadata 发送 HEAD；上游不支持 HEAD（405/501）时退化为 GET 并丢弃正文。
func (a *HTTPAccessor) Metadata(ctx context.Context, uri string) (resource.Metadata, error) {
	resp, err := a.client.Do(ctx, http.MethodHead, uri, nil, 0)
	if err != nil {
		return resource.Metadata{}, err
	}
	drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		opened, err := a.Open(ctx, uri)
		if err != nil {
			return resource.Metadata{}, err
		}
		_ = opened.Body.Close()
		return opened.Metadata, nil
	}
	if err := classifyStatus(uri, resp.StatusCode); err != nil {
		return resource.Metadata{}, err
	}
	return metadataFromResponse(resp), nil
}

// Open 发送 GET 并返回正文流。
func (a *HTTPAccessor) Open(ctx context.Context, uri string) (*Response, error) {
	resp, err := a.client.Do(ctx, http.MethodGet, uri, nil, 0)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(uri, resp.StatusCode); err != nil {
		drainAndClose(resp.Body)
		return nil, err
	}
	return &Response{
		Metadata: metadataFromResponse(resp),
		Body:     resp.Body,
	}, nil
}

// AuthMode 透传底层 Client 的鉴权模式。
func (a *HTTPAccessor) AuthMode() string {
	return a.client.AuthMode()
}

// classifyStatus 将 HTTP 状态映射为 resource 错误分类；2xx 返回 nil。
func classifyStatus(uri string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("%w: %s", resource.ErrNotFound, uri)
	default:
		return &resource.TransportError{URI: uri, StatusCode: status}
	}
}

func metadataFromResponse(resp *http.Response) resource.Metadata {
	meta := resource.UnknownMetadata()
	if raw := strings.TrimSpace(resp.Header.Get("Content-Length")); raw != "" {
		if size, err := strconv.ParseInt(raw, 10, 64); err == nil && size >= 0 {
			meta.Size = size
		}
	} else if resp.Request != nil && resp.Request.Method != http.MethodHead && resp.ContentLength >= 0 {
		meta.Size = resp.ContentLength
	}
	if last := resp.Header.Get("Last-Modified"); last != "" {
		if parsed, err := http.ParseTime(last); err == nil {
			meta.LastModified = parsed.UTC()
		}
	}
	meta.ETag = normalizeETag(resp.Header.Get("Etag"))
	for _, candidate := range checksumHeaders {
		if value := strings.TrimSpace(resp.Header.Get(candidate.header)); value != "" {
			meta.ContentHash = resource.FormatContentHash(candidate.algorithm, value)
			break
		}
	}
	return meta
}

func normalizeETag(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.TrimPrefix(value, "W/")
	return strings.Trim(value, "\"")
}
