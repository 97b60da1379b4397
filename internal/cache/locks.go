package cache

import (
	"context"
	"sync"
)

// keyedMutex 为每个键提供独立互斥锁，引用计数归零后即移除，map 大小只随活跃键增长。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	sem  chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*entryLock)}
}

// lock 获取 key 的锁并返回释放函数。
func (k *keyedMutex) lock(key string) func() {
	unlock, _ := k.lockContext(context.Background(), key)
	return unlock
}

// lockContext 与 lock 相同，但等待可被 ctx 取消；取消时返回 ctx.Err()。
func (k *keyedMutex) lockContext(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	lock := k.locks[key]
	if lock == nil {
		lock = &entryLock{sem: make(chan struct{}, 1)}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, lock)
		return nil, ctx.Err()
	}
	return func() {
		<-lock.sem
		k.release(key, lock)
	}, nil
}

func (k *keyedMutex) release(key string, lock *entryLock) {
	k.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// size 返回当前持有或等待中的键数量。
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
