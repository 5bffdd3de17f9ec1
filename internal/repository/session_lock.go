package repository

import (
	"context"
	"fmt"
	"sync"
	"time"
	"wellness_backend/internal/util"
	"wellness_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionLocker 保证同一会话同一时刻只有一个请求在修改
type SessionLocker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// LocalSessionLocker 单实例部署时使用的进程内锁
type LocalSessionLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalSessionLocker() *LocalSessionLocker {
	return &LocalSessionLocker{locks: make(map[string]*localLock)}
}

func (l *LocalSessionLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[sessionID]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lk.ch
				l.unref(sessionID, lk)
			})
		}, nil
	case <-ctx.Done():
		l.unref(sessionID, lk)
		return nil, util.ErrSessionBusy
	}
}

func (l *LocalSessionLocker) unref(sessionID string, lk *localLock) {
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, sessionID)
	}
	l.mu.Unlock()
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisSessionLocker 多实例部署时基于 SET NX PX 的分布式锁
type RedisSessionLocker struct {
	Redis        *redis.Client
	ttl          time.Duration
	pollInterval time.Duration
}

func NewRedisSessionLocker(rdb *redis.Client, ttl time.Duration) *RedisSessionLocker {
	return &RedisSessionLocker{
		Redis:        rdb,
		ttl:          ttl,
		pollInterval: 50 * time.Millisecond,
	}
}

func lockKey(sessionID string) string {
	return fmt.Sprintf("assessment:lock:session:%s", sessionID)
}

func (l *RedisSessionLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := lockKey(sessionID)
	token := uuid.New().String()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.Redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, util.ErrSessionBusy
			}
			return nil, err
		}
		if ok {
			return func() {
				// 用独立的 context 释放，避免请求结束后锁残留到 TTL
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(releaseCtx, l.Redis, []string{key}, token).Err(); err != nil {
					logger.Log.Warn("session lock release failed, held until ttl",
						zap.String("session_id", sessionID), zap.Duration("ttl", l.ttl), zap.Error(err))
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, util.ErrSessionBusy
		case <-ticker.C:
		}
	}
}
