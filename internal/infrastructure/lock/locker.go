package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker 对一组账户加互斥锁
//
// 【为什么要排序？】
// 转账 A->B 与 B->A 同时发生时，如果各自按参数顺序加锁，会互相等待形成死锁。
// 所有实现都先对 key 排序去重，再按顺序加锁。
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// AccountKey 账户锁的 key
func AccountKey(accountID string) string {
	return "ledger:lock:account:" + accountID
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ============================================================================
// 进程内锁（单实例部署 / 测试）
// ============================================================================

type localEntry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker 按 key 分片的进程内互斥锁，等待时响应 ctx 取消
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localEntry)}
}

func (l *LocalLocker) ref(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *LocalLocker) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	held := make([]string, 0, len(keys))
	entries := make([]*localEntry, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-entries[i].ch
			l.unref(held[i], entries[i])
		}
	}

	for _, key := range keys {
		e := l.ref(key)
		select {
		case e.ch <- struct{}{}:
			held = append(held, key)
			entries = append(entries, e)
		case <-ctx.Done():
			l.unref(key, e)
			release()
			return nil, fmt.Errorf("%w: %v", ErrLockFailed, ctx.Err())
		}
	}
	return release, nil
}

// ============================================================================
// Redis 锁（多实例部署）
// ============================================================================

// RedisLocker 按排序后的顺序逐个获取 DistributedLock，任一失败则释放已获取的部分
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker wait 为单个 key 的最长等待时间
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, wait: wait}
}

func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	token := uuid.NewString()
	held := make([]*DistributedLock, 0, len(keys))

	release := func() {
		// 请求 ctx 可能已取消，解锁使用独立的超时
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Unlock(unlockCtx); err != nil {
				slog.Warn("释放账户锁失败", "component", "lock", "key", held[i].key, "error", err)
			}
		}
	}

	for _, key := range keys {
		dl := NewDistributedLock(l.client, key, token, l.ttl)
		if err := dl.Lock(ctx, l.wait); err != nil {
			release()
			if errors.Is(err, ErrLockFailed) {
				return nil, fmt.Errorf("%w: %s", ErrLockFailed, key)
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrLockFailed, key, err)
		}
		held = append(held, dl)
	}
	return release, nil
}
