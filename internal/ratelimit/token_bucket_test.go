package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	bucket := NewTokenBucket(client, capacity, refill, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	bucket.now = func() time.Time { return now }
	return bucket, mr, &now
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _, _ := newBucket(t, 2, 1)

	d, err := bucket.Allow(ctx, "10.0.0.1")
	if err != nil || !d.Allowed {
		t.Fatalf("expected first token allowed got %+v err=%v", d, err)
	}
	d, _ = bucket.Allow(ctx, "10.0.0.1")
	if !d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected second token allowed with none left, got %+v", d)
	}
	d, _ = bucket.Allow(ctx, "10.0.0.1")
	if d.Allowed {
		t.Fatalf("expected third token to be rejected")
	}
	if d.RetryAfter != time.Second {
		t.Fatalf("expected retry after 1s, got %s", d.RetryAfter)
	}

	if d, _ := bucket.Allow(ctx, "10.0.0.2"); !d.Allowed {
		t.Fatalf("expected separate bucket per client")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	ctx := context.Background()
	bucket, _, now := newBucket(t, 1, 0.5)

	if d, _ := bucket.Allow(ctx, "client"); !d.Allowed {
		t.Fatalf("expected first token allowed")
	}
	*now = now.Add(time.Second)
	d, _ := bucket.Allow(ctx, "client")
	if d.Allowed || d.Remaining != 0.5 || d.RetryAfter != time.Second {
		t.Fatalf("expected half a token and 1s wait, got %+v", d)
	}
	*now = now.Add(time.Second)
	if d, _ := bucket.Allow(ctx, "client"); !d.Allowed {
		t.Fatalf("expected token after refill, got %+v", d)
	}
}

func TestTokenBucketKeysExpire(t *testing.T) {
	ctx := context.Background()
	bucket, mr, _ := newBucket(t, 1, 1)
	if _, err := bucket.Allow(ctx, "client"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ttl := mr.TTL(keyPrefix + "client"); ttl != time.Minute {
		t.Fatalf("expected bucket ttl of one minute, got %s", ttl)
	}
}
