package cache

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"

	"github.com/zeebo/blake3"

	"github.com/any-hub/resource-cache/internal/resource"
)

// LocalDigestAlgorithm 是每个已提交正文都会记录的本地摘要算法。
const LocalDigestAlgorithm = "blake3"

// digestSet 在写入暂存文件的同时计算摘要；blake3 总是计算，
// 源站声明的算法按需追加。
type digestSet struct {
	hashes map[string]hash.Hash
	writer io.Writer
}

func newDigestSet(algorithms ...string) *digestSet {
	set := &digestSet{hashes: map[string]hash.Hash{LocalDigestAlgorithm: blake3.New()}}
	for _, alg := range algorithms {
		if _, exists := set.hashes[alg]; exists {
			continue
		}
		if h := newHash(alg); h != nil {
			set.hashes[alg] = h
		}
	}
	writers := make([]io.Writer, 0, len(set.hashes))
	for _, h := range set.hashes {
		writers = append(writers, h)
	}
	set.writer = io.MultiWriter(writers...)
	return set
}

func (d *digestSet) Write(p []byte) (int, error) {
	return d.writer.Write(p)
}

// sum 返回指定算法的十六进制摘要；该算法未被计算时 ok 为 false。
func (d *digestSet) sum(algorithm string) (string, bool) {
	h, ok := d.hashes[algorithm]
	if !ok {
		return "", false
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// SupportedDigest 报告 algorithm 是否可用于完整性校验。
func SupportedDigest(algorithm string) bool {
	return newHash(algorithm) != nil
}

func newHash(algorithm string) hash.Hash {
	switch algorithm {
	case "md5":
		return md5.New()
	case "sha1":
		return sha1.New()
	case "sha256":
		return sha256.New()
	case "sha512":
		return sha512.New()
	case "blake3":
		return blake3.New()
	default:
		return nil
	}
}

// expectedAlgorithms 提取 meta.ContentHash 中的算法名。
func expectedAlgorithms(meta resource.Metadata) []string {
	alg, _, ok := resource.SplitContentHash(meta.ContentHash)
	if !ok {
		return nil
	}
	return []string{alg}
}
