package fetcher

import (
	"os"

	"github.com/any-hub/resource-cache/internal/resource"
)

// Source 说明一次 Fetch 的结果来自哪里，调用方据此区分“缓存直出”与“源站确认”。
type Source string

const (
	// SourceCache 表示本纪元内已确认过，未发起任何远程调用。
	SourceCache Source = "cache"
	// SourceRevalidated 表示源站元数据与缓存一致，未重新下载正文。
	SourceRevalidated Source = "revalidated"
	// SourceDownload 表示正文已重新下载并提交。
	SourceDownload Source = "download"
)

// Artifact 是本地缓存的资源副本，Path 在该键下一次缓存变更前保持有效。
type Artifact struct {
	Key      resource.Key
	Path     string
	Metadata resource.Metadata
	Epoch    resource.Epoch
	Size     int64
	Digest   string
	Source   Source
}

// Open 以只读方式打开本地副本。
func (a *Artifact) Open() (*os.File, error) {
	return os.Open(a.Path)
}
