package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/dd0wney/cluso-kv/pkg/kv"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
	"github.com/dd0wney/cluso-kv/pkg/server"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	opts := kv.DefaultOptions()
	opts.AutoCompaction = false
	opts.SegmentSize = 4 << 10

	store, err := kv.Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := server.New(store, server.Options{Metrics: metrics.NewRegistry()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return New(ts.URL, Options{})
}

func TestClient_PutGetRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.Put(ctx, "greeting", []byte("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}

	value, err := c.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "hello" {
		t.Errorf("expected 'hello', got %q", value)
	}
}

func TestClient_GetMissingKey(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_Delete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent key is a no-op success.
	if err := c.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("delete of absent key: %v", err)
	}
}

func TestClient_KeyWithSlashes(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	key := "users/42/profile"
	if err := c.Put(ctx, key, []byte("data")); err != nil {
		t.Fatalf("put: %v", err)
	}

	value, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "data" {
		t.Errorf("expected 'data', got %q", value)
	}
}

func TestClient_Keys(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for _, k := range []string{"zebra", "apple", "mango"} {
		if err := c.Put(ctx, k, []byte("v")); err != nil {
			t.Fatalf("put %q: %v", k, err)
		}
	}

	keys, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if !slices.Equal(keys, []string{"apple", "mango", "zebra"}) {
		t.Errorf("expected sorted keys, got %v", keys)
	}
}

func TestClient_StatsFlushCompact(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, err := c.Compact(ctx); err != nil {
		t.Fatalf("compact: %v", err)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["puts"] != 1 {
		t.Errorf("expected 1 put, got %d", stats["puts"])
	}
	if stats["live_keys"] != 1 {
		t.Errorf("expected 1 live key, got %d", stats["live_keys"])
	}
}

func TestClient_OversizedKeyRejected(t *testing.T) {
	c := newTestClient(t)

	key := string(make([]byte, 5000))
	err := c.Put(context.Background(), key, []byte("v"))
	if err == nil {
		t.Fatal("expected an error for an oversized key")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("validation failure reported as missing key")
	}
}
