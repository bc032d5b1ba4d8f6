package kv

import (
	"testing"
)

func TestKeydir_UpsertNewestTimestampWins(t *testing.T) {
	idx := newKeydir()

	idx.upsert([]byte("k"), location{segmentID: 0, offset: 0, length: 10, timestamp: 5})
	idx.upsert([]byte("k"), location{segmentID: 0, offset: 10, length: 10, timestamp: 7})

	loc, ok := idx.lookup([]byte("k"))
	if !ok || loc.timestamp != 7 {
		t.Fatalf("expected timestamp 7, got %+v ok=%v", loc, ok)
	}

	// Stale upsert (as applied out-of-order by a compaction merge) must be
	// a no-op.
	idx.upsert([]byte("k"), location{segmentID: 2, offset: 0, length: 10, timestamp: 6})
	loc, _ = idx.lookup([]byte("k"))
	if loc.timestamp != 7 {
		t.Errorf("stale upsert replaced newer entry: %+v", loc)
	}
}

func TestKeydir_TimestampTieBreaksOnPosition(t *testing.T) {
	idx := newKeydir()

	idx.upsert([]byte("k"), location{segmentID: 1, offset: 50, length: 10, timestamp: 5})
	// Same timestamp, later position in a later segment: wins.
	idx.upsert([]byte("k"), location{segmentID: 2, offset: 0, length: 10, timestamp: 5})

	loc, _ := idx.lookup([]byte("k"))
	if loc.segmentID != 2 {
		t.Errorf("tie should break on segment ID, got %+v", loc)
	}

	// Same timestamp, earlier segment: no-op.
	idx.upsert([]byte("k"), location{segmentID: 1, offset: 99, length: 10, timestamp: 5})
	loc, _ = idx.lookup([]byte("k"))
	if loc.segmentID != 2 {
		t.Errorf("tie broken wrongly, got %+v", loc)
	}
}

func TestKeydir_Remove(t *testing.T) {
	idx := newKeydir()
	idx.upsert([]byte("k"), location{timestamp: 1, length: 8})

	old, existed := idx.remove([]byte("k"))
	if !existed || old.length != 8 {
		t.Fatalf("remove returned %+v existed=%v", old, existed)
	}
	if _, ok := idx.lookup([]byte("k")); ok {
		t.Error("key still present after remove")
	}

	if _, existed := idx.remove([]byte("k")); existed {
		t.Error("second remove should report absent")
	}
}

func TestKeydir_RebindBatchRequiresExactLocation(t *testing.T) {
	idx := newKeydir()

	fromA := location{segmentID: 0, offset: 0, length: 10, timestamp: 1}
	fromB := location{segmentID: 0, offset: 10, length: 12, timestamp: 2}
	idx.upsert([]byte("a"), fromA)
	idx.upsert([]byte("b"), fromB)

	// "b" is overwritten by a racing write before the batch publishes.
	racing := location{segmentID: 1, offset: 0, length: 20, timestamp: 9}
	idx.upsert([]byte("b"), racing)

	toA := location{segmentID: 5, offset: 0, length: 10, timestamp: 1}
	toB := location{segmentID: 5, offset: 10, length: 12, timestamp: 2}
	applied, skipped := idx.rebindBatch(map[string]rebinding{
		"a": {from: fromA, to: toA},
		"b": {from: fromB, to: toB},
	})

	if applied != 1 {
		t.Errorf("expected 1 applied move, got %d", applied)
	}
	if len(skipped) != 1 || skipped[0].to != toB {
		t.Errorf("expected b's move skipped, got %+v", skipped)
	}

	locA, _ := idx.lookup([]byte("a"))
	if locA != toA {
		t.Errorf("a not rebound: %+v", locA)
	}
	locB, _ := idx.lookup([]byte("b"))
	if locB != racing {
		t.Errorf("racing write clobbered by compaction: %+v", locB)
	}
}

func TestKeydir_SnapshotIsolation(t *testing.T) {
	idx := newKeydir()
	idx.upsert([]byte("k1"), location{timestamp: 1})
	idx.upsert([]byte("k2"), location{timestamp: 1})

	snap := idx.snapshot()
	idx.remove([]byte("k1"))
	idx.upsert([]byte("k3"), location{timestamp: 2})

	if len(snap) != 2 {
		t.Errorf("snapshot mutated by later writes: %d entries", len(snap))
	}
	if _, ok := snap["k1"]; !ok {
		t.Error("snapshot lost entry removed after the fact")
	}
}

func TestKeydir_KeysSorted(t *testing.T) {
	idx := newKeydir()
	for _, k := range []string{"zebra", "apple", "mango"} {
		idx.upsert([]byte(k), location{timestamp: 1})
	}

	keys := idx.keys()
	want := []string{"apple", "mango", "zebra"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, keys)
		}
	}
}
