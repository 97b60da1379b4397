package transport

import (
	"context"
	"io"

	"github.com/any-hub/resource-cache/internal/resource"
)

// Accessor 是原始资源访问器。资源不存在时返回包装了 resource.ErrNotFound 的错误，
// 其它失败返回 *resource.TransportError。
type Accessor interface {
	// Metadata 查询资源当前的元数据，不下载正文。
	Metadata(ctx context.Context, uri string) (resource.Metadata, error)
	// Open 下载资源正文，调用方负责关闭 Response.Body。
	Open(ctx context.Context, uri string) (*Response, error)
}

// Response 是一次正文下载：随响应一同返回的元数据与正文流。
type Response struct {
	Metadata resource.Metadata
	Body     io.ReadCloser
}

// Uploader 将正文写入远程仓库，上传不经过缓存策略。
type Uploader interface {
	Upload(ctx context.Context, uri string, body io.ReadSeeker, size int64) error
}

// Lister 列出目录 URI 下的直接子项名称，结果不做缓存。
type Lister interface {
	List(ctx context.Context, uri string) ([]string, error)
}
