package server

import (
	"sync/atomic"
	"time"

	"github.com/any-hub/resource-cache/internal/resource"
)

// EpochClock 保存服务当前的构建纪元，可并发读取与推进。
type EpochClock struct {
	current atomic.Int64
	now     func() time.Time
}

// NewEpochClock 以当前时间作为初始纪元。
func NewEpochClock() *EpochClock {
	clock := &EpochClock{now: time.Now}
	clock.current.Store(int64(resource.NewEpoch(clock.now())))
	return clock
}

// Current 返回当前纪元。
func (c *EpochClock) Current() resource.Epoch {
	return resource.Epoch(c.current.Load())
}

// Advance 开始新的构建纪元并返回它；新纪元严格大于旧纪元，即使系统时钟回拨。
func (c *EpochClock) Advance() resource.Epoch {
	for {
		prev := c.current.Load()
		next := int64(resource.NewEpoch(c.now()))
		if next <= prev {
			next = prev + 1
		}
		if c.current.CompareAndSwap(prev, next) {
			return resource.Epoch(next)
		}
	}
}
