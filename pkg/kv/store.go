// Package kv implements a log-structured (Bitcask-style) persistent
// key-value store. All writes are appended to segment files on disk, an
// in-memory index maps each live key to its exact on-disk location, and
// background compaction reclaims space from overwritten and deleted keys.
package kv

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
)

// Store is the storage engine. Reads proceed in parallel; writes are
// serialized against the active segment. A Store owns its index and segment
// files for the lifetime of the handle; it is never shared process-wide
// state.
type Store struct {
	dir  string
	opts Options
	log  logging.Logger
	met  *metrics.Registry

	// mu guards the segment table, the sealed list, and segment ID
	// allocation. writeMu serializes the append+index write path.
	mu      sync.RWMutex
	writeMu sync.Mutex

	active   *segment
	segments map[uint64]*segment
	sealed   []uint64 // sealed segment IDs, ascending
	nextID   uint64

	index *keydir
	clock atomic.Uint64 // last issued write timestamp

	// uncompacted estimates dead bytes across all segments and drives the
	// automatic compaction trigger.
	uncompacted atomic.Int64

	compactMu sync.Mutex // one compaction pass at a time
	compactCh chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup

	closed atomic.Bool
	stats  storeStats
}

// Open opens (or creates) a store in dir, rebuilding the in-memory index by
// replaying all segment files in ascending ID order.
func Open(dir string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, NewError("open").Context(dir).Cause(err).Err()
	}

	s := &Store{
		dir:       dir,
		opts:      opts,
		log:       opts.Logger.With(logging.Component("kv")),
		met:       opts.Metrics,
		segments:  make(map[uint64]*segment),
		index:     newKeydir(),
		compactCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}

	start := time.Now()
	if err := s.recover(); err != nil {
		s.closeSegments()
		return nil, err
	}

	s.log.Info("store opened",
		logging.Path(dir),
		logging.Int("segments", len(s.segments)),
		logging.Int("live_keys", s.index.size()),
		logging.Int64("uncompacted_bytes", s.uncompacted.Load()),
		logging.Duration("recovery", time.Since(start)),
	)

	if opts.AutoCompaction {
		s.wg.Add(1)
		go s.compactionWorker()
	}

	s.publishGauges()
	return s, nil
}

// Flush forces durability of all writes since the last flush before
// returning.
func (s *Store) Flush() error {
	if s.closed.Load() {
		return NewError("flush").Cause(ErrStoreClosed).Err()
	}

	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()

	if err := active.sync(); err != nil {
		return NewError("flush").Segment(active.id).Cause(err).Err()
	}
	return nil
}

// Close stops background work, flushes the active segment, and closes all
// file handles. In-flight operations are allowed to finish; writes issued
// after Close fail with ErrStoreClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(s.stopCh)
	s.wg.Wait()

	// Drain any in-flight writer before tearing down file handles.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.closeSegments()
	if err != nil {
		s.log.Error("store close failed", logging.Error(err))
		return NewError("close").Cause(err).Err()
	}

	s.log.Info("store closed", logging.Path(s.dir))
	return nil
}

func (s *Store) closeSegments() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, seg := range s.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Keys returns all live keys in sorted order.
func (s *Store) Keys() []string {
	return s.index.keys()
}

// segmentRef resolves a segment ID to a live segment, taking a reader
// reference. Callers must release it. Returns false when the segment has
// been retired, which means the index has already been rebound and the
// caller should re-resolve its location.
func (s *Store) segmentRef(id uint64) (*segment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seg, ok := s.segments[id]
	if !ok {
		return nil, false
	}
	if !seg.acquire() {
		return nil, false
	}
	return seg, true
}

// allocSegmentID hands out the next segment ID. IDs order segments totally:
// rotation and compaction merges both draw from the same counter.
func (s *Store) allocSegmentID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id
}

// rotate seals the active segment and installs a fresh one. Called with
// writeMu held, so the active pointer cannot move underneath us.
func (s *Store) rotate() error {
	old := s.active
	if err := old.seal(); err != nil {
		return NewError("rotate").Segment(old.id).Cause(err).Err()
	}

	next, err := createSegment(s.dir, s.allocSegmentID(), s.opts.SegmentSize)
	if err != nil {
		return NewError("rotate").Cause(err).Err()
	}

	s.mu.Lock()
	s.segments[next.id] = next
	s.sealed = append(s.sealed, old.id)
	s.active = next
	s.mu.Unlock()

	s.stats.Rotations.Add(1)
	s.log.Debug("segment rotated",
		logging.Uint64("sealed_segment", old.id),
		logging.Uint64("active_segment", next.id),
		logging.Int64("sealed_size", old.currentSize()),
	)

	if s.met != nil {
		s.met.RotationsTotal.Inc()
	}
	s.publishGauges()
	return nil
}

// nextTimestamp issues a monotonically increasing write timestamp. Wall
// clock when it moves forward, previous+1 when it does not, so concurrent
// writers to the same key always produce a total order.
func (s *Store) nextTimestamp() uint64 {
	for {
		now := uint64(time.Now().UnixNano())
		prev := s.clock.Load()
		ts := now
		if ts <= prev {
			ts = prev + 1
		}
		if s.clock.CompareAndSwap(prev, ts) {
			return ts
		}
	}
}

func (s *Store) observe(op, status string, start time.Time) {
	if s.met == nil {
		return
	}
	s.met.RecordStoreOperation(op, status, time.Since(start))
}

func (s *Store) publishGauges() {
	if s.met == nil {
		return
	}

	var disk int64
	s.mu.RLock()
	segments := len(s.segments)
	for _, seg := range s.segments {
		disk += seg.currentSize()
	}
	s.mu.RUnlock()

	s.met.UpdateStoreGauges(segments, s.index.size(), disk, s.uncompacted.Load())
}
