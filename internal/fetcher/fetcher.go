package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/resource-cache/internal/cache"
	"github.com/any-hub/resource-cache/internal/logging"
	"github.com/any-hub/resource-cache/internal/resource"
	"github.com/any-hub/resource-cache/internal/transport"
)

// Fetcher 位于原始 Accessor 与调用方之间，维护“何时需要回源”的决策。
type Fetcher struct {
	name   string
	raw    transport.Accessor
	index  cache.Index
	stager *cache.Stager
	logger *logrus.Logger

	flights singleflight.Group
}

// Options 描述 Fetcher 的依赖，Accessor/Index/Stager 不能为空。
type Options struct {
	// Name 仅用于日志字段，通常为仓库名。
	Name     string
	Accessor transport.Accessor
	Index    cache.Index
	Stager   *cache.Stager
	Logger   *logrus.Logger
}

// New 根据 Options 构造 Fetcher。
func New(opts Options) (*Fetcher, error) {
	if opts.Accessor == nil {
		return nil, errors.New("raw accessor is required")
	}
	if opts.Index == nil {
		return nil, errors.New("cache index is required")
	}
	if opts.Stager == nil {
		return nil, errors.New("stager is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Fetcher{
		name:   opts.Name,
		raw:    opts.Accessor,
		index:  opts.Index,
		stager: opts.Stager,
		logger: logger,
	}, nil
}

// Fetch 返回 key 的本地副本，保证其反映资源在 epoch 内的最新状态。
//
// 可能的错误：包装 resource.ErrNotFound、*resource.TransportError、
// *resource.IntegrityError，以及 ctx 的取消错误。缓存损坏不会作为错误返回，
// 而是记录日志后重新下载。
func (f *Fetcher) Fetch(ctx context.Context, epoch resource.Epoch, key resource.Key) (*Artifact, error) {
	if key == "" {
		return nil, errors.New("resource key required")
	}
	if epoch.IsZero() {
		return nil, errors.New("build epoch required")
	}
	started := time.Now()

	if entry, ok := f.freshEntry(ctx, epoch, key, false); ok {
		artifact := artifactFromEntry(entry, SourceCache)
		f.logOutcome(key, artifact.Source, started, nil)
		return artifact, nil
	}

	for {
		artifact, err := f.join(ctx, epoch, key)
		if err != nil && isContextErr(err) && ctx.Err() == nil {
			// 共享的那次操作被其发起方取消，本调用方仍然有效，重新发起。
			continue
		}
		if err == nil && artifact.Epoch < epoch {
			// 加入的是较早纪元发起的操作，其结果不能作为本纪元的确认。
			continue
		}
		f.logOutcome(key, sourceOf(artifact), started, err)
		return artifact, err
	}
}

// join 加入（或发起）key 的进行中操作，并在 ctx 取消时提前返回。
// 进行中的操作可能来自其它纪元，由调用方检查结果的 Epoch。
func (f *Fetcher) join(ctx context.Context, epoch resource.Epoch, key resource.Key) (*Artifact, error) {
	ch := f.flights.DoChan(key.String(), func() (interface{}, error) {
		return f.resolve(ctx, epoch, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		artifact := *result.Val.(*Artifact)
		return &artifact, nil
	}
}

// resolve 在 singleflight 内执行，并持有 Stager 对 key 的预留：共享同一缓存根目录的
// 所有 Fetcher 中，同一键同一时刻只有一次回源、暂存与提交。
func (f *Fetcher) resolve(ctx context.Context, epoch resource.Epoch, key resource.Key) (*Artifact, error) {
	release, err := f.stager.Reserve(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	// 等待期间可能已有前一次操作完成并写入本纪元（或更晚纪元）的确认。
	if entry, ok := f.freshEntry(ctx, epoch, key, true); ok {
		return artifactFromEntry(entry, SourceCache), nil
	}

	entry := f.usableEntry(ctx, key)
	if entry == nil {
		return f.download(ctx, epoch, key, resource.UnknownMetadata())
	}

	observed, err := f.raw.Metadata(ctx, key.String())
	if err != nil {
		// 源站不可达或资源暂时不存在都不能证明缓存失效，旧条目保持原样。
		return nil, err
	}
	if !resource.Changed(entry.Metadata, observed) {
		if err := f.index.Touch(ctx, key, epoch); err != nil {
			return nil, fmt.Errorf("touch cache entry: %w", err)
		}
		entry.CheckedAt = epoch
		return artifactFromEntry(entry, SourceRevalidated), nil
	}
	return f.download(ctx, epoch, key, observed)
}

// download 经暂存/提交下载正文并写入索引。observed 为本次操作中已获得的元数据。
func (f *Fetcher) download(ctx context.Context, epoch resource.Epoch, key resource.Key, observed resource.Metadata) (*Artifact, error) {
	resp, err := f.raw.Open(ctx, key.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	meta := resp.Metadata.Merge(observed)
	handle, err := f.stager.Stage(key, meta)
	if err != nil {
		return nil, err
	}
	defer f.stager.Discard(handle)

	if _, err := handle.Fill(ctx, resp.Body); err != nil {
		if isContextErr(err) {
			return nil, err
		}
		return nil, &resource.TransportError{URI: key.String(), Err: fmt.Errorf("read body: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	committed, err := f.stager.Commit(handle, meta)
	if err != nil {
		return nil, err
	}
	if !meta.SizeKnown() {
		meta.Size = committed.Size
	}

	entry := cache.Entry{
		Key:        key,
		RelPath:    committed.RelPath,
		Path:       committed.Path,
		Metadata:   meta,
		CheckedAt:  epoch,
		StoredSize: committed.Size,
		Digest:     committed.Digest,
	}
	// 提交之后不再响应取消：正文已就位，索引必须与之保持一致。
	if err := f.index.Put(context.WithoutCancel(ctx), entry); err != nil {
		if errors.Is(err, cache.ErrSuperseded) {
			// 另一个共享缓存的进程已以更晚的纪元确认过该键。
			if newer, ok := f.freshEntry(context.WithoutCancel(ctx), epoch, key, false); ok {
				return artifactFromEntry(newer, SourceCache), nil
			}
		}
		return nil, fmt.Errorf("record cache entry: %w", err)
	}
	return artifactFromEntry(&entry, SourceDownload), nil
}

// freshEntry 返回在 epoch 或更晚纪元确认过的条目。
func (f *Fetcher) freshEntry(ctx context.Context, epoch resource.Epoch, key resource.Key, quiet bool) (*cache.Entry, bool) {
	entry, err := f.index.Lookup(ctx, key)
	if err != nil {
		if !quiet {
			f.logLookupError(key, err)
		}
		return nil, false
	}
	if entry.CheckedAt < epoch {
		return nil, false
	}
	return entry, true
}

// usableEntry 返回可用于再验证的条目；缺失、损坏或缺少校验信息时返回 nil。
func (f *Fetcher) usableEntry(ctx context.Context, key resource.Key) *cache.Entry {
	entry, err := f.index.Lookup(ctx, key)
	if err != nil {
		return nil
	}
	if !entry.Metadata.Revalidatable() {
		return nil
	}
	return entry
}

func (f *Fetcher) logLookupError(key resource.Key, err error) {
	if errors.Is(err, cache.ErrNotFound) || isContextErr(err) {
		return
	}
	fields := logging.ResourceFields(f.name, key.String(), "")
	fields["action"] = "cache_lookup"
	if errors.Is(err, resource.ErrCacheCorruption) {
		f.logger.WithFields(fields).WithError(err).Warn("cache_corruption")
		return
	}
	f.logger.WithFields(fields).WithError(err).Error("cache_lookup_failed")
}

func (f *Fetcher) logOutcome(key resource.Key, source Source, started time.Time, err error) {
	fields := logging.ResourceFields(f.name, key.String(), string(source))
	fields["action"] = "fetch"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	entry := f.logger.WithFields(fields)
	if err != nil {
		if resource.IsNotFound(err) {
			entry.Info("fetch_not_found")
			return
		}
		entry.WithError(err).Warn("fetch_failed")
		return
	}
	switch source {
	case SourceCache:
		entry.Debug("cache_hit")
	case SourceRevalidated:
		entry.Info("cache_revalidated")
	default:
		entry.Info("cache_download")
	}
}

func artifactFromEntry(entry *cache.Entry, source Source) *Artifact {
	return &Artifact{
		Key:      entry.Key,
		Path:     entry.Path,
		Metadata: entry.Metadata,
		Epoch:    entry.CheckedAt,
		Size:     entry.StoredSize,
		Digest:   entry.Digest,
		Source:   source,
	}
}

func sourceOf(artifact *Artifact) Source {
	if artifact == nil {
		return ""
	}
	return artifact.Source
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
