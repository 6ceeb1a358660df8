package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestRedisLockMutualExclusion(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	first := NewRedisLock(client, "runner:qa", time.Minute)
	second := NewRedisLock(client, "runner:qa", time.Minute)

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}

	ok, err = second.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second holder must not acquire a held lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release = %v, %v", ok, err)
	}
}

func TestRedisLockReleaseIsOwnershipChecked(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	owner := NewRedisLock(client, "runner:drafts", time.Minute)
	intruder := NewRedisLock(client, "runner:drafts", time.Minute)

	if ok, _ := owner.Acquire(ctx); !ok {
		t.Fatal("owner acquire failed")
	}

	// A different instance releasing must be a no-op.
	if err := intruder.Release(ctx); err != nil {
		t.Fatalf("intruder release: %v", err)
	}
	if ok, _ := intruder.Acquire(ctx); ok {
		t.Fatal("lock must still be held after foreign release")
	}
}

func TestNewPrefersRedis(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	lock := New(client, nil, "runner:followups", time.Minute)
	if _, ok := lock.(*RedisLock); !ok {
		t.Fatalf("lock = %T, want *RedisLock", lock)
	}

	lock = New(nil, nil, "runner:followups", time.Minute)
	if _, ok := lock.(*PGAdvisoryLock); !ok {
		t.Fatalf("lock = %T, want *PGAdvisoryLock fallback", lock)
	}
}

func TestDifferentKeysDoNotCollide(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	qa := NewRedisLock(client, "runner:qa", time.Minute)
	drafts := NewRedisLock(client, "runner:drafts", time.Minute)

	if ok, _ := qa.Acquire(ctx); !ok {
		t.Fatal("qa acquire failed")
	}
	if ok, _ := drafts.Acquire(ctx); !ok {
		t.Fatal("independent key must be acquirable")
	}
}
