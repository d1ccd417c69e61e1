package ristretto_test

import (
	"context"
	"testing"
	"time"

	"github.com/forgeline/foreman/internal/adapter/ristretto"
)

func newCache(t *testing.T) *ristretto.Cache {
	t.Helper()
	c, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "/tasks/t-1", []byte(`{"id":"t-1"}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.Wait()

	val, ok, err := c.Get(ctx, "/tasks/t-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("value not found after Set")
	}
	if string(val) != `{"id":"t-1"}` {
		t.Errorf("val = %s", val)
	}
}

func TestGetMissing(t *testing.T) {
	c := newCache(t)

	_, ok, err := c.Get(context.Background(), "/tasks/absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("found a value that was never set")
	}
}

func TestDelete(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.Wait()
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	c.Wait()

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("value still present after Delete")
	}
}
