package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/any-hub/resource-cache/internal/resource"
)

// HTTPUploader 通过 PUT 上传正文。
type HTTPUploader struct {
	client *Client
}

var _ Uploader = (*HTTPUploader)(nil)

// NewHTTPUploader 使用 client 构造 HTTPUploader。
func NewHTTPUploader(client *Client) *HTTPUploader {
	return &HTTPUploader{client: client}
}

func (u *HTTPUploader) Upload(ctx context.Context, uri string, body io.ReadSeeker, size int64) error {
	resp, err := u.client.Do(ctx, http.MethodPut, uri, body, size)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &resource.TransportError{URI: uri, StatusCode: resp.StatusCode}
}
