// Package repository 将单个远程仓库的配置组装为可用的访问入口：
// 缓存感知的下载、上传与目录列举。
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/resource-cache/internal/cache"
	"github.com/any-hub/resource-cache/internal/config"
	"github.com/any-hub/resource-cache/internal/fetcher"
	"github.com/any-hub/resource-cache/internal/progress"
	"github.com/any-hub/resource-cache/internal/resource"
	"github.com/any-hub/resource-cache/internal/transport"
)

// ErrInvalidPath 表示仓库内路径无法解析或跳出了仓库基础地址。
var ErrInvalidPath = errors.New("invalid repository path")

// Deps 是所有仓库共享的基础设施。
type Deps struct {
	HTTPClient *http.Client
	Index      cache.Index
	Stager     *cache.Stager
	Logger     *logrus.Logger
	// Listener 为空时使用写入 Logger 的 progress.LogListener。
	Listener progress.Listener
	// ProgressInterval 控制默认 LogListener 的进度日志间隔。
	ProgressInterval time.Duration
}

// Repository 是一个已配置的远程仓库。
type Repository struct {
	name     string
	base     resource.Key
	authMode string

	fetcher  *fetcher.Fetcher
	uploader transport.Uploader
	lister   transport.Lister
}

// New 根据仓库配置构造 Repository：原始 Accessor 与 Uploader 经进度装饰后
// 分别交给 Fetcher 与上传使用，Lister 使用未装饰的 Accessor。
func New(cfg config.RepositoryConfig, deps Deps) (*Repository, error) {
	if deps.Index == nil || deps.Stager == nil {
		return nil, errors.New("cache index and stager are required")
	}
	base, err := resource.NormalizeKey(ensureSlash(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", cfg.Name, err)
	}

	var proxyURL *url.URL
	if cfg.Proxy != "" {
		proxyURL, err = url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("repository %s proxy: %w", cfg.Name, err)
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	listener := deps.Listener
	if listener == nil {
		listener = progress.NewLogListener(logger, cfg.Name, deps.ProgressInterval)
	}

	client := transport.NewClient(deps.HTTPClient, transport.ClientOptions{
		Credentials: transport.Credentials{Username: cfg.Username, Password: cfg.Password},
		Proxy:       proxyURL,
	})
	raw := transport.NewHTTPAccessor(client)

	f, err := fetcher.New(fetcher.Options{
		Name:     cfg.Name,
		Accessor: progress.WrapAccessor(raw, listener),
		Index:    deps.Index,
		Stager:   deps.Stager.WithChecksums(cfg.ChecksumsEnabled()),
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", cfg.Name, err)
	}

	return &Repository{
		name:     cfg.Name,
		base:     base,
		authMode: client.AuthMode(),
		fetcher:  f,
		uploader: progress.WrapUploader(transport.NewHTTPUploader(client), listener),
		lister:   transport.NewHTMLLister(raw),
	}, nil
}

// Name 返回仓库名。
func (r *Repository) Name() string {
	return r.name
}

// BaseURL 返回规范化后的仓库基础地址，以 / 结尾。
func (r *Repository) BaseURL() string {
	return r.base.String()
}

// AuthMode 输出 `credentialed` 或 `anonymous`。
func (r *Repository) AuthMode() string {
	return r.authMode
}

// Resolve 将仓库内路径转换为资源键，拒绝跳出仓库基础地址的路径。
func (r *Repository) Resolve(p string) (resource.Key, error) {
	key, err := resource.Resolve(r.base.String(), p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !strings.HasPrefix(key.String(), r.base.String()) {
		return "", fmt.Errorf("%w: %s escapes repository %s", ErrInvalidPath, p, r.name)
	}
	return key, nil
}

// Fetch 返回 p 在 epoch 内的最新本地副本。
func (r *Repository) Fetch(ctx context.Context, epoch resource.Epoch, p string) (*fetcher.Artifact, error) {
	key, err := r.Resolve(p)
	if err != nil {
		return nil, err
	}
	return r.fetcher.Fetch(ctx, epoch, key)
}

// Upload 将本地文件上传到仓库中的 p，不经过也不修改缓存。
func (r *Repository) Upload(ctx context.Context, p string, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", file)
	}
	return r.Put(ctx, p, f, info.Size())
}

// Put 将 body 上传到仓库中的 p；size 为 -1 表示长度未知。
func (r *Repository) Put(ctx context.Context, p string, body io.ReadSeeker, size int64) error {
	key, err := r.Resolve(p)
	if err != nil {
		return err
	}
	return r.uploader.Upload(ctx, key.String(), body, size)
}

// List 列出仓库目录 p 的直接子项名称。
func (r *Repository) List(ctx context.Context, p string) ([]string, error) {
	key, err := r.Resolve(ensureSlash(p))
	if err != nil {
		return nil, err
	}
	return r.lister.List(ctx, key.String())
}

func ensureSlash(v string) string {
	if strings.HasSuffix(v, "/") {
		return v
	}
	return v + "/"
}
