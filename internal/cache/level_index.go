package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	leveldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/any-hub/resource-cache/internal/resource"
)

const entryPrefix = "e:"

// LevelIndex 以 goleveldb 持久化缓存条目，root 为正文所在的缓存根目录。
type LevelIndex struct {
	db    *leveldb.DB
	root  string
	locks *keyedMutex
}

var _ Index = (*LevelIndex)(nil)

// OpenLevelIndex 打开（或创建）位于 path 的索引；上次崩溃留下的损坏日志会尝试修复。
func OpenLevelIndex(path string, root string) (*LevelIndex, error) {
	if path == "" {
		return nil, errors.New("index path required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := leveldb.OpenFile(path, nil)
	if err != nil && leveldberrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &LevelIndex{
		db:    db,
		root:  absRoot,
		locks: newKeyedMutex(),
	}, nil
}

func (x *LevelIndex) Lookup(ctx context.Context, key resource.Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := x.db.Get(recordKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entry, err := decodeEntry(key, data)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable record for %s: %v", ErrCorrupted, key, err)
	}
	if err := x.resolve(&entry); err != nil {
		return nil, err
	}

	info, err := os.Stat(entry.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s missing", ErrCorrupted, entry.RelPath)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrCorrupted, entry.RelPath)
	}
	if info.Size() != entry.StoredSize {
		return nil, fmt.Errorf("%w: %s has %d bytes, index recorded %d", ErrCorrupted, entry.RelPath, info.Size(), entry.StoredSize)
	}
	return &entry, nil
}

func (x *LevelIndex) Put(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Key == "" {
		return errors.New("entry key required")
	}
	if entry.RelPath == "" {
		return errors.New("entry path required")
	}

	unlock := x.locks.lock(entry.Key.String())
	defer unlock()

	if prev, err := x.db.Get(recordKey(entry.Key), nil); err == nil {
		if existing, err := decodeEntry(entry.Key, prev); err == nil && existing.CheckedAt > entry.CheckedAt {
			return fmt.Errorf("%w: %s confirmed at %s, write from %s", ErrSuperseded, entry.Key, existing.CheckedAt, entry.CheckedAt)
		}
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return err
	}

	data, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return x.db.Put(recordKey(entry.Key), data, &opt.WriteOptions{Sync: true})
}

func (x *LevelIndex) Touch(ctx context.Context, key resource.Key, epoch resource.Epoch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := x.locks.lock(key.String())
	defer unlock()

	data, err := x.db.Get(recordKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	entry, err := decodeEntry(key, data)
	if err != nil {
		return fmt.Errorf("%w: undecodable record for %s: %v", ErrCorrupted, key, err)
	}
	if epoch <= entry.CheckedAt {
		// 确认时间只前进，较早纪元的迟到确认不回退。
		return nil
	}
	entry.CheckedAt = epoch

	updated, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return x.db.Put(recordKey(key), updated, &opt.WriteOptions{Sync: true})
}

func (x *LevelIndex) Entries(ctx context.Context) ([]Entry, error) {
	it := x.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
	defer it.Release()

	var entries []Entry
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := resource.Key(strings.TrimPrefix(string(it.Key()), entryPrefix))
		entry, err := decodeEntry(key, it.Value())
		if err != nil {
			continue
		}
		if err := x.resolve(&entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

func (x *LevelIndex) Close() error {
	return x.db.Close()
}

// resolve 将 RelPath 解析为 root 下的绝对路径，拒绝越界路径。
func (x *LevelIndex) resolve(entry *Entry) error {
	abs := filepath.Join(x.root, filepath.FromSlash(entry.RelPath))
	if !strings.HasPrefix(abs, x.root+string(filepath.Separator)) {
		return fmt.Errorf("%w: path %s escapes cache root", ErrCorrupted, entry.RelPath)
	}
	entry.Path = abs
	return nil
}

func recordKey(key resource.Key) []byte {
	return []byte(entryPrefix + key.String())
}
