package resource

import (
	"strings"
	"time"
)

// UnknownSize 表示源站未给出字节长度，与 http.Response.ContentLength 的约定一致。
const UnknownSize int64 = -1

// Metadata 描述远程资源最近一次观测到的状态。
type Metadata struct {
	// Size 为字节长度，UnknownSize 表示未知。
	Size int64
	// LastModified 为源站给出的修改时间，零值表示未知。
	LastModified time.Time
	// ETag 为源站给出的不透明校验串（已去除引号与弱标记）。
	ETag string
	// ContentHash 为 `<算法>:<小写十六进制>` 形式的内容摘要，例如 sha1:ab12...。
	ContentHash string
}

// UnknownMetadata 返回所有字段都未知的元数据。
func UnknownMetadata() Metadata {
	return Metadata{Size: UnknownSize}
}

// SizeKnown 表示 Size 字段是否有效。
func (m Metadata) SizeKnown() bool {
	return m.Size >= 0
}

// HasStrongValidator 表示是否带有 ContentHash 或 ETag。
func (m Metadata) HasStrongValidator() bool {
	return m.ContentHash != "" || m.ETag != ""
}

// Revalidatable 表示该元数据能否用于廉价再验证：至少需要 LastModified 或强校验串。
func (m Metadata) Revalidatable() bool {
	return m.HasStrongValidator() || !m.LastModified.IsZero()
}

// Merge 用 fallback 填补 m 中未知的字段，m 已知的字段保持不变。
func (m Metadata) Merge(fallback Metadata) Metadata {
	out := m
	if !out.SizeKnown() {
		out.Size = fallback.Size
	}
	if out.LastModified.IsZero() {
		out.LastModified = fallback.LastModified
	}
	if out.ETag == "" {
		out.ETag = fallback.ETag
	}
	if out.ContentHash == "" {
		out.ContentHash = fallback.ContentHash
	}
	return out
}

// Changed 判断 observed 相对于 cached 是否代表资源已变化。
//
// 双方都有 ContentHash 时只看 ContentHash；其次只看 ETag；
// 都没有强校验串时，任何已知的 LastModified/Size 差异都视为变化，
// 若双方没有可比较的 LastModified，则一律视为变化。
func Changed(cached, observed Metadata) bool {
	if cached.ContentHash != "" && observed.ContentHash != "" {
		return !strings.EqualFold(cached.ContentHash, observed.ContentHash)
	}
	if cached.ETag != "" && observed.ETag != "" {
		return cached.ETag != observed.ETag
	}
	if cached.LastModified.IsZero() || observed.LastModified.IsZero() {
		return true
	}
	if !cached.LastModified.Equal(observed.LastModified) {
		return true
	}
	if cached.SizeKnown() && observed.SizeKnown() && cached.Size != observed.Size {
		return true
	}
	return false
}

// FormatContentHash 以 `<算法>:<十六进制>` 形式拼接摘要，算法名统一小写。
func FormatContentHash(algorithm, hexDigest string) string {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	hexDigest = strings.ToLower(strings.TrimSpace(hexDigest))
	if algorithm == "" || hexDigest == "" {
		return ""
	}
	return algorithm + ":" + hexDigest
}

// SplitContentHash 拆分 ContentHash，格式不合法时 ok 为 false。
func SplitContentHash(value string) (algorithm, hexDigest string, ok bool) {
	algorithm, hexDigest, ok = strings.Cut(strings.TrimSpace(value), ":")
	if !ok || algorithm == "" || hexDigest == "" {
		return "", "", false
	}
	return strings.ToLower(algorithm), strings.ToLower(hexDigest), true
}
