package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/any-hub/resource-cache/internal/resource"
)

// Index 维护资源键到缓存条目的持久化映射，所有方法均可并发调用。
type Index interface {
	// Lookup 返回 key 对应的条目；不存在返回 ErrNotFound，索引记录存在但正文缺失
	// 或尺寸不符时返回 ErrCorrupted，调用方都应视为未命中。Lookup 不产生副作用。
	Lookup(ctx context.Context, key resource.Key) (*Entry, error)

	// Put 以单次原子写入插入或替换条目，读者不会看到半写入的记录。
	// 已有记录的 CheckedAt 晚于 entry.CheckedAt 时不写入，返回 ErrSuperseded。
	Put(ctx context.Context, entry Entry) error

	// Touch 仅推进 CheckedAt（不会回退到更早的纪元），不改变正文路径与元数据。
	Touch(ctx context.Context, key resource.Key, epoch resource.Epoch) error

	// Entries 返回所有可解析的条目，按键排序，供诊断输出使用。
	Entries(ctx context.Context) ([]Entry, error)

	Close() error
}

// Entry 是索引中的一条缓存记录。
type Entry struct {
	Key resource.Key
	// RelPath 相对缓存根目录，持久化时只保存它。
	RelPath string
	// Path 是 RelPath 解析后的绝对路径，由 Lookup/Entries 填充。
	Path     string
	Metadata resource.Metadata
	// CheckedAt 是最近一次确认该条目新鲜的构建纪元。
	CheckedAt resource.Epoch
	// StoredSize 为提交时本地文件的字节数，用于发现被截断的正文。
	StoredSize int64
	// Digest 为本地正文的 blake3 摘要（blake3:<hex>）。
	Digest string
}

// ErrNotFound 表示索引中没有该资源。
var ErrNotFound = errors.New("cache entry not found")

// ErrCorrupted 表示索引记录与磁盘内容不一致。
var ErrCorrupted = fmt.Errorf("cache entry inconsistent with disk: %w", resource.ErrCacheCorruption)

// ErrSuperseded 表示索引中已有更晚纪元确认的记录，较早纪元的写入被拒绝。
var ErrSuperseded = errors.New("cache entry superseded by a later epoch")
