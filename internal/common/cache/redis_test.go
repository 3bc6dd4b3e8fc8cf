package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisCacheSetOps(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(mr.Addr())
	if err != nil {
		t.Fatalf("new redis cache failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.SAdd(ctx, "solved", "p1", "p2", "p1"); err != nil {
		t.Fatalf("sadd failed: %v", err)
	}
	if err := c.SAdd(ctx, "solved"); err != nil {
		t.Fatalf("empty sadd should be a no-op: %v", err)
	}
	members, err := c.SMembers(ctx, "solved")
	if err != nil || len(members) != 2 {
		t.Fatalf("expected 2 members, got %v %v", members, err)
	}
	if ok, _ := mr.SIsMember("solved", "p2"); !ok {
		t.Fatal("expected p2 to be a member")
	}
	members, err = c.SMembers(ctx, "missing")
	if err != nil || len(members) != 0 {
		t.Fatalf("missing key should be empty: %v %v", members, err)
	}
}

func TestNewRedisCacheValidation(t *testing.T) {
	if _, err := NewRedisCacheWithConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewRedisCacheWithConfig(&RedisConfig{}); err == nil {
		t.Fatal("expected error for empty addr")
	}
	if _, err := NewRedisCacheWithClient(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestRedisConfigApplyDefaults(t *testing.T) {
	cfg := &RedisConfig{Addr: "localhost:6379", PoolSize: 9}
	cfg.ApplyDefaults()
	if cfg.PoolSize != 9 || cfg.MaxRetries != 3 || cfg.DialTimeout == 0 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
