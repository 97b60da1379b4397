package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/resource-cache/internal/resource"
)

const (
	filesDir     = "files"
	stagingDir   = "tmp"
	stagePattern = ".stage-*"
)

// Stager 负责“暂存 → 校验 → 原子提升”。暂存文件与正式文件位于同一根目录下，
// 保证 rename 不跨文件系统。
type Stager struct {
	root            string
	tmpDir          string
	verifyChecksums bool
	locks           *keyedMutex
	reservations    *keyedMutex
}

// NewStager 以 root 为缓存根目录创建 Stager，默认校验源站声明的摘要。
func NewStager(root string) (*Stager, error) {
	if root == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	for _, dir := range []string{filepath.Join(abs, filesDir), filepath.Join(abs, stagingDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
	}
	return &Stager{
		root:            abs,
		tmpDir:          filepath.Join(abs, stagingDir),
		verifyChecksums: true,
		locks:           newKeyedMutex(),
		reservations:    newKeyedMutex(),
	}, nil
}

// WithChecksums 返回共享锁表与目录的副本，enabled=false 时只校验长度。
func (s *Stager) WithChecksums(enabled bool) *Stager {
	clone := *s
	clone.verifyChecksums = enabled
	return &clone
}

// Reserve 独占 key 从回源到提交、写索引的整个过程，返回释放函数。
// 同一缓存根目录下（包括 WithChecksums 派生的副本）同一时刻每个键只有一个持有者；
// 等待可被 ctx 取消。
func (s *Stager) Reserve(ctx context.Context, key resource.Key) (func(), error) {
	return s.reservations.lockContext(ctx, key.String())
}

// Root 返回缓存根目录的绝对路径。
func (s *Stager) Root() string {
	return s.root
}

// WriteHandle 是一次暂存写入，写入期间内容对任何调用方不可见。
type WriteHandle struct {
	key      resource.Key
	file     *os.File
	tempName string
	digests  *digestSet
	written  int64
	done     bool
}

// Write 将数据写入暂存文件并同步更新摘要。
func (h *WriteHandle) Write(p []byte) (int, error) {
	if h.done {
		return 0, os.ErrClosed
	}
	n, err := h.file.Write(p)
	if n > 0 {
		_, _ = h.digests.Write(p[:n])
		h.written += int64(n)
	}
	return n, err
}

// Fill 以可取消的方式将 src 全部写入暂存文件。
func (h *WriteHandle) Fill(ctx context.Context, src io.Reader) (int64, error) {
	return copyWithContext(ctx, h, src)
}

// Written 返回已写入的字节数。
func (h *WriteHandle) Written() int64 {
	return h.written
}

// Stage 为 key 打开一个新的暂存文件；expect 中声明的摘要算法会在写入时一并计算。
func (s *Stager) Stage(key resource.Key, expect resource.Metadata) (*WriteHandle, error) {
	if key == "" {
		return nil, errors.New("resource key required")
	}
	file, err := os.CreateTemp(s.tmpDir, stagePattern)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return &WriteHandle{
		key:      key,
		file:     file,
		tempName: file.Name(),
		digests:  newDigestSet(expectedAlgorithms(expect)...),
	}, nil
}

// Committed 描述一次成功提交的结果。
type Committed struct {
	RelPath string
	Path    string
	Size    int64
	Digest  string
}

// Commit 校验暂存内容后原子地替换 key 的正式文件。校验失败返回
// *resource.IntegrityError，任何失败都会丢弃暂存数据。
func (s *Stager) Commit(h *WriteHandle, meta resource.Metadata) (*Committed, error) {
	if h == nil || h.done {
		return nil, errors.New("write handle already finished")
	}

	syncErr := h.file.Sync()
	closeErr := h.file.Close()
	if syncErr == nil {
		syncErr = closeErr
	}
	if syncErr != nil {
		s.discard(h)
		return nil, fmt.Errorf("flush staging file: %w", syncErr)
	}

	if err := s.verify(h, meta); err != nil {
		s.discard(h)
		return nil, err
	}

	rel, err := canonicalRelPath(h.key)
	if err != nil {
		s.discard(h)
		return nil, err
	}
	abs := filepath.Join(s.root, rel)

	unlock := s.locks.lock(h.key.String())
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		s.discard(h)
		return nil, err
	}
	if err := os.Rename(h.tempName, abs); err != nil {
		s.discard(h)
		return nil, fmt.Errorf("promote staged file: %w", err)
	}
	h.done = true

	digest, _ := h.digests.sum(LocalDigestAlgorithm)
	return &Committed{
		RelPath: filepath.ToSlash(rel),
		Path:    abs,
		Size:    h.written,
		Digest:  resource.FormatContentHash(LocalDigestAlgorithm, digest),
	}, nil
}

// Discard 丢弃暂存数据，可重复调用；已提交的 handle 不受影响。
func (s *Stager) Discard(h *WriteHandle) {
	if h == nil || h.done {
		return
	}
	_ = h.file.Close()
	s.discard(h)
}

func (s *Stager) discard(h *WriteHandle) {
	h.done = true
	_ = os.Remove(h.tempName)
}

func (s *Stager) verify(h *WriteHandle, meta resource.Metadata) error {
	if meta.SizeKnown() && meta.Size != h.written {
		return &resource.IntegrityError{
			Key:      h.key,
			Field:    "size",
			Expected: strconv.FormatInt(meta.Size, 10),
			Actual:   strconv.FormatInt(h.written, 10),
		}
	}
	if !s.verifyChecksums {
		return nil
	}
	alg, want, ok := resource.SplitContentHash(meta.ContentHash)
	if !ok {
		return nil
	}
	got, computed := h.digests.sum(alg)
	if !computed {
		return nil
	}
	if got != want {
		return &resource.IntegrityError{
			Key:      h.key,
			Field:    alg,
			Expected: want,
			Actual:   got,
		}
	}
	return nil
}

// SweepOrphans 删除超过 maxAge 未被写入的暂存文件（通常是进程崩溃的残留），返回删除数量。
// 以修改时间判断存活：其它进程仍在写入的暂存文件会不断刷新修改时间，不会被删除。
func (s *Stager) SweepOrphans(maxAge time.Duration) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.tmpDir, stagePattern))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, name := range matches {
		info, err := os.Stat(name)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(name); err == nil {
			removed++
		}
	}
	return removed, nil
}

// canonicalRelPath 计算 key 对应的正式文件相对路径：files/<host>/<sha1(key)>/<basename>。
// 以键的摘要作为目录，互为前缀的资源路径不会出现文件/目录冲突。
func canonicalRelPath(key resource.Key) (string, error) {
	parsed, err := url.Parse(key.String())
	if err != nil {
		return "", fmt.Errorf("invalid resource key %s: %w", key, err)
	}
	host := strings.NewReplacer(":", "_", "/", "_").Replace(parsed.Host)
	if host == "" || host == "." || host == ".." {
		return "", fmt.Errorf("invalid resource host in %s", key)
	}

	base := path.Base(parsed.Path)
	if base == "/" || base == "." || base == ".." || base == "" {
		base = "resource"
	}
	base = strings.NewReplacer("\\", "_", ":", "_").Replace(base)

	sum := sha1.Sum([]byte(key))
	return filepath.Join(filesDir, host, hex.EncodeToString(sum[:]), base), nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
