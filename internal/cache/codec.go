package cache

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/any-hub/resource-cache/internal/resource"
)

// encMode 使用 Core Deterministic Encoding，相同条目总是得到相同字节。
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
}

// indexRecord 是条目在 leveldb 中的持久化形式，整数键保持记录紧凑。
type indexRecord struct {
	RelPath      string `cbor:"1,keyasint"`
	Size         int64  `cbor:"2,keyasint"`
	LastModified int64  `cbor:"3,keyasint,omitempty"`
	ETag         string `cbor:"4,keyasint,omitempty"`
	ContentHash  string `cbor:"5,keyasint,omitempty"`
	CheckedAt    int64  `cbor:"6,keyasint"`
	StoredSize   int64  `cbor:"7,keyasint"`
	Digest       string `cbor:"8,keyasint,omitempty"`
}

func encodeEntry(entry Entry) ([]byte, error) {
	rec := indexRecord{
		RelPath:     entry.RelPath,
		Size:        entry.Metadata.Size,
		ETag:        entry.Metadata.ETag,
		ContentHash: entry.Metadata.ContentHash,
		CheckedAt:   int64(entry.CheckedAt),
		StoredSize:  entry.StoredSize,
		Digest:      entry.Digest,
	}
	if !entry.Metadata.LastModified.IsZero() {
		rec.LastModified = entry.Metadata.LastModified.UnixNano()
	}
	return encMode.Marshal(rec)
}

func decodeEntry(key resource.Key, data []byte) (Entry, error) {
	var rec indexRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return Entry{}, err
	}
	meta := resource.Metadata{
		Size:        rec.Size,
		ETag:        rec.ETag,
		ContentHash: rec.ContentHash,
	}
	if rec.LastModified != 0 {
		meta.LastModified = time.Unix(0, rec.LastModified).UTC()
	}
	return Entry{
		Key:        key,
		RelPath:    rec.RelPath,
		Metadata:   meta,
		CheckedAt:  resource.Epoch(rec.CheckedAt),
		StoredSize: rec.StoredSize,
		Digest:     rec.Digest,
	}, nil
}
