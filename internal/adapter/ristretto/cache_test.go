package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/port/cache/cachetest"
)

// syncedCache waits for ristretto's async write buffer after every Set,
// so the compliance suite can read its own writes deterministically.
type syncedCache struct {
	*Cache
}

func (s syncedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.Cache.Set(ctx, key, value, ttl)
	s.Cache.c.Wait()
	return err
}

func TestCompliance(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	cachetest.Run(t, syncedCache{c})
}

func TestDeleteIsSynchronous(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "ctx:user-1:agent-1", []byte("cached context"), time.Minute); err != nil {
		t.Fatal(err)
	}
	c.c.Wait()

	if err := c.Delete(ctx, "ctx:user-1:agent-1"); err != nil {
		t.Fatal(err)
	}

	// Delete must be visible immediately, without an extra Wait.
	_, found, err := c.Get(ctx, "ctx:user-1:agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected entry gone immediately after Delete")
	}
}
