package lock

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis 单 key 锁
// ============================================================================
//
//   加锁    SET key token NX PX ttl
//   释放    GET == token 时 DEL（Lua 原子执行）
//
// ttl 到期后锁自动失效，持锁进程崩溃不会永久卡住账户。
// 事务耗时超过 ttl 时锁可能被他人取得，所以 ttl 要远大于单次记账耗时（ledger.lock_ttl）。
// ============================================================================

var ErrLockFailed = errors.New("获取锁失败")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	minBackoff = 5 * time.Millisecond
	maxBackoff = 100 * time.Millisecond
)

// DistributedLock key 上的一把锁，token 标识持有者
type DistributedLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func NewDistributedLock(client *redis.Client, key, token string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{client: client, key: key, token: token, ttl: ttl}
}

// TryLock 立即返回是否拿到锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Lock 在 wait 内反复尝试，退避时间带随机抖动，避免多个等待者同时重试
func (l *DistributedLock) Lock(ctx context.Context, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	backoff := minBackoff
	for {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrLockFailed
		}
		sleep := backoff/2 + rand.N(backoff/2+1)
		if sleep > remaining {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Unlock 只删除自己持有的锁；锁已过期并被他人取得时什么也不做
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
