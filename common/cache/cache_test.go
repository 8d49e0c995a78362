package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if _, hit, _ := c.Get(ctx, "missing"); hit {
		t.Fatal("empty cache must miss")
	}

	c.Set(ctx, "k", []byte("v"), time.Minute)
	value, hit, err := c.Get(ctx, "k")
	if err != nil || !hit || string(value) != "v" {
		t.Fatalf("unexpected read: %q hit=%v err=%v", value, hit, err)
	}

	c.Delete(ctx, "k")
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Fatal("deleted key must miss")
	}
}

func TestMemoryCache_ExpiredEntriesMiss(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), -time.Second)
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Fatal("expired entry must miss")
	}
}

func TestMemoryCache_CloseDropsEntries(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Close()
	if c.Len() != 0 {
		t.Errorf("close must drop entries, %d left", c.Len())
	}
	// second close must not panic
	c.Close()
}
