package resource

import "time"

// Epoch 是一次构建开始时固定下来的时间戳（UnixNano），构建期间保持不变。
// 同一 Epoch 内同一资源最多向源站确认一次。它不会被单独持久化，仅作为
// 索引条目的 lastChecked 值写入。
type Epoch int64

// NewEpoch 以 t 作为构建开始时间创建 Epoch。
func NewEpoch(t time.Time) Epoch {
	return Epoch(t.UTC().UnixNano())
}

// Time 返回 Epoch 对应的时间点。
func (e Epoch) Time() time.Time {
	return time.Unix(0, int64(e)).UTC()
}

// IsZero 表示 Epoch 未设置。
func (e Epoch) IsZero() bool {
	return e == 0
}

func (e Epoch) String() string {
	if e.IsZero() {
		return "never"
	}
	return e.Time().Format(time.RFC3339Nano)
}
