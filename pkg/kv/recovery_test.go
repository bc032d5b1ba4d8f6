package kv

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func reopenStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()
	store, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecovery_ReopenEquivalence(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.SegmentSize = 512
	opts.AutoCompaction = false

	store, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put([]byte("a"), []byte("3")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete([]byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := reopenStore(t, dir, opts)

	got, err := reopened.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if string(got) != "3" {
		t.Errorf("expected '3', got %q", got)
	}
	if _, err := reopened.Get([]byte("b")); !IsNotFound(err) {
		t.Errorf("deleted key survived restart: %v", err)
	}
}

func TestRecovery_MultiSegment(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.SegmentSize = 512
	opts.AutoCompaction = false

	store, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}

	value := bytes.Repeat([]byte("v"), 100)
	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("key-%02d", i)
		if err := store.Put([]byte(key), value); err != nil {
			t.Fatal(err)
		}
	}
	segments := store.Stats().Segments
	if segments < 3 {
		t.Fatalf("test needs several segments, got %d", segments)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := reopenStore(t, dir, opts)
	if got := reopened.Stats().Segments; got != segments {
		t.Errorf("segment count changed across restart: %d -> %d", segments, got)
	}
	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("key-%02d", i)
		got, err := reopened.Get([]byte(key))
		if err != nil {
			t.Fatalf("get %s after restart: %v", key, err)
		}
		if !bytes.Equal(got, value) {
			t.Errorf("value mismatch for %s after restart", key)
		}
	}
}

func TestRecovery_TornTailTruncated(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.AutoCompaction = false

	store, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put([]byte("intact"), []byte("value")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put([]byte("torn"), []byte("half-written")); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Chop the last record in half, as a crash mid-write would.
	path := filepath.Join(dir, segmentFileName(0))
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-10); err != nil {
		t.Fatal(err)
	}

	reopened := reopenStore(t, dir, opts)

	got, err := reopened.Get([]byte("intact"))
	if err != nil {
		t.Fatalf("record before the tear lost: %v", err)
	}
	if string(got) != "value" {
		t.Errorf("expected 'value', got %q", got)
	}
	if _, err := reopened.Get([]byte("torn")); !IsNotFound(err) {
		t.Errorf("torn record should be discarded, got %v", err)
	}

	// The tail must be physically gone so new writes start clean.
	if err := reopened.Put([]byte("after"), []byte("crash")); err != nil {
		t.Fatalf("write after recovery: %v", err)
	}
	if got, err := reopened.Get([]byte("after")); err != nil || string(got) != "crash" {
		t.Errorf("post-recovery write unreadable: %q, %v", got, err)
	}
}

func TestRecovery_CorruptTailDiscarded(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.AutoCompaction = false

	store, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put([]byte("good"), []byte("data")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put([]byte("bad"), []byte("data")); err != nil {
		t.Fatal(err)
	}
	loc, _ := store.index.lookup([]byte("bad"))
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Flip a byte inside the last record's payload. Its checksum no longer
	// matches, so recovery must treat it as a torn tail.
	path := filepath.Join(dir, segmentFileName(0))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xFF}, loc.offset+loc.length-1); err != nil {
		t.Fatal(err)
	}
	f.Close()

	reopened := reopenStore(t, dir, opts)
	if _, err := reopened.Get([]byte("good")); err != nil {
		t.Errorf("record before corruption lost: %v", err)
	}
	if _, err := reopened.Get([]byte("bad")); !IsNotFound(err) {
		t.Errorf("corrupt record should be discarded, got %v", err)
	}
}

func TestRecovery_CorruptMiddleSegmentFailsOpen(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.SegmentSize = 512
	opts.AutoCompaction = false

	store, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	value := bytes.Repeat([]byte("v"), 100)
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%02d", i)
		if err := store.Put([]byte(key), value); err != nil {
			t.Fatal(err)
		}
	}
	if store.Stats().Segments < 3 {
		t.Fatal("test needs at least three segments")
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Corruption in a sealed (non-last) segment is not a torn tail and
	// must refuse to open rather than silently drop committed data.
	path := filepath.Join(dir, segmentFileName(0))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xDE, 0xAD}, 30); err != nil {
		t.Fatal(err)
	}
	f.Close()

	_, err = Open(dir, opts)
	if err == nil {
		t.Fatal("open succeeded on a corrupt sealed segment")
	}
	if !errors.Is(err, ErrRecoveryFailed) {
		t.Errorf("expected ErrRecoveryFailed, got %v", err)
	}
}

func TestRecovery_EmptyDirectoryStartsFresh(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	opts := DefaultOptions()
	opts.AutoCompaction = false

	store, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("open on missing directory: %v", err)
	}
	defer store.Close()

	if n := store.Stats().LiveKeys; n != 0 {
		t.Errorf("fresh store has %d keys", n)
	}
	if err := store.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
}

func TestRecovery_TimestampClockAdvances(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.AutoCompaction = false

	store, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put([]byte("k"), []byte("old")); err != nil {
		t.Fatal(err)
	}
	before, _ := store.index.lookup([]byte("k"))
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := reopenStore(t, dir, opts)
	if err := reopened.Put([]byte("k"), []byte("new")); err != nil {
		t.Fatal(err)
	}
	after, _ := reopened.index.lookup([]byte("k"))
	if after.timestamp <= before.timestamp {
		t.Errorf("timestamp did not advance across restart: %d -> %d",
			before.timestamp, after.timestamp)
	}
	got, err := reopened.Get([]byte("k"))
	if err != nil || string(got) != "new" {
		t.Errorf("overwrite after restart unreadable: %q, %v", got, err)
	}
}
