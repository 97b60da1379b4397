package cache

import "time"

// EntryView 是条目的展示形式，供 HTTP 诊断接口与 CLI 输出共用。
type EntryView struct {
	Key          string `json:"key" yaml:"key"`
	Path         string `json:"path" yaml:"path"`
	Size         int64  `json:"size" yaml:"size"`
	LastModified string `json:"last_modified,omitempty" yaml:"last_modified,omitempty"`
	ETag         string `json:"etag,omitempty" yaml:"etag,omitempty"`
	ContentHash  string `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	Digest       string `json:"digest" yaml:"digest"`
	CheckedAt    string `json:"checked_at" yaml:"checked_at"`
}

// View 将 Entry 转换为 EntryView，时间统一输出为 UTC RFC3339。
func (e Entry) View() EntryView {
	view := EntryView{
		Key:         e.Key.String(),
		Path:        e.RelPath,
		Size:        e.StoredSize,
		ETag:        e.Metadata.ETag,
		ContentHash: e.Metadata.ContentHash,
		Digest:      e.Digest,
		CheckedAt:   e.CheckedAt.String(),
	}
	if !e.Metadata.LastModified.IsZero() {
		view.LastModified = e.Metadata.LastModified.UTC().Format(time.RFC3339)
	}
	return view
}

// Views 批量转换，保持原有顺序。
func Views(entries []Entry) []EntryView {
	views := make([]EntryView, len(entries))
	for i, entry := range entries {
		views[i] = entry.View()
	}
	return views
}
