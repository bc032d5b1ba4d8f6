package kv

import "sync/atomic"

// storeStats tracks store activity. High-frequency counters use atomics so
// the hot paths never contend on a stats lock.
type storeStats struct {
	Puts         atomic.Int64
	Gets         atomic.Int64
	Deletes      atomic.Int64
	BytesWritten atomic.Int64
	BytesRead    atomic.Int64
	Rotations    atomic.Int64
	Compactions  atomic.Int64
	Reclaimed    atomic.Int64
}

// Stats is a point-in-time snapshot of store activity and layout.
type Stats struct {
	Puts         int64
	Gets         int64
	Deletes      int64
	BytesWritten int64
	BytesRead    int64
	Rotations    int64
	Compactions  int64
	// ReclaimedBytes is the total disk space recovered by compaction.
	ReclaimedBytes int64

	LiveKeys       int
	Segments       int
	SealedSegments int
	// DiskUsage is the summed size of all live segment files.
	DiskUsage int64
	// UncompactedBytes is the store's estimate of dead bytes on disk.
	UncompactedBytes int64
}

// Stats returns a snapshot of the store's counters and current layout.
func (s *Store) Stats() Stats {
	st := Stats{
		Puts:             s.stats.Puts.Load(),
		Gets:             s.stats.Gets.Load(),
		Deletes:          s.stats.Deletes.Load(),
		BytesWritten:     s.stats.BytesWritten.Load(),
		BytesRead:        s.stats.BytesRead.Load(),
		Rotations:        s.stats.Rotations.Load(),
		Compactions:      s.stats.Compactions.Load(),
		ReclaimedBytes:   s.stats.Reclaimed.Load(),
		LiveKeys:         s.index.size(),
		UncompactedBytes: s.uncompacted.Load(),
	}

	s.mu.RLock()
	st.Segments = len(s.segments)
	st.SealedSegments = len(s.sealed)
	for _, seg := range s.segments {
		st.DiskUsage += seg.currentSize()
	}
	s.mu.RUnlock()

	return st
}
