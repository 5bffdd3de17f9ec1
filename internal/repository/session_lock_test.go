package repository

import (
	"context"
	"testing"
	"time"
	"wellness_backend/internal/util"
	"wellness_backend/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLocalSessionLocker(t *testing.T) {
	l := NewLocalSessionLocker()

	release, err := l.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	// other sessions are independent
	other, err := l.Acquire(context.Background(), "s2")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "s1")
	assert.ErrorIs(t, err, util.ErrSessionBusy)

	release()
	release() // idempotent

	again, err := l.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	again()

	l.mu.Lock()
	assert.Empty(t, l.locks)
	l.mu.Unlock()
}

func TestLocalSessionLockerHandsOver(t *testing.T) {
	l := NewLocalSessionLocker()
	release, err := l.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background(), "s1")
		if assert.NoError(t, err) {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired while lock was held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisSessionLocker(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedisSessionLocker(rdb, 5*time.Second)
	l.pollInterval = 5 * time.Millisecond

	release, err := l.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(lockKey("s1")))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "s1")
	assert.ErrorIs(t, err, util.ErrSessionBusy)

	release()
	assert.False(t, mr.Exists(lockKey("s1")))

	again, err := l.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	again()
}

func TestRedisSessionLockerReleasesOnlyOwnToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedisSessionLocker(rdb, time.Second)
	l.pollInterval = 5 * time.Millisecond

	release, err := l.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	// the lock expired and another instance took it over
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(lockKey("s1"), "someone-else"))

	release()
	got, err := mr.Get(lockKey("s1"))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisSessionLockerLogsFailedRelease(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })

	mr, rdb := newTestRedis(t)
	l := NewRedisSessionLocker(rdb, 5*time.Second)

	release, err := l.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	mr.Close()
	release()

	entries := logs.FilterMessage("session lock release failed, held until ttl").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "s1", entries[0].ContextMap()["session_id"])
}
