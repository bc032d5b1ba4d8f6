package kv

import (
	"bufio"
	"errors"
	"io"
	"slices"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

const compactReadBufferSize = 256 << 10

// compactionWorker runs compaction in the background: on demand via the
// trigger channel, and periodically whenever the dead-byte estimate crosses
// the configured threshold.
func (s *Store) compactionWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.CompactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.compactCh:
			if err := s.Compact(); err != nil && !IsClosed(err) {
				s.log.Error("compaction failed", logging.Error(err))
			}
		case <-ticker.C:
			if s.uncompacted.Load() < s.opts.CompactionThreshold {
				continue
			}
			if err := s.Compact(); err != nil && !IsClosed(err) {
				s.log.Error("periodic compaction failed", logging.Error(err))
			}
		case <-s.stopCh:
			return
		}
	}
}

// triggerCompaction signals the worker without blocking the write path.
func (s *Store) triggerCompaction() {
	select {
	case s.compactCh <- struct{}{}:
	default:
	}
}

func (s *Store) maybeTriggerCompaction() {
	if !s.opts.AutoCompaction {
		return
	}
	if s.uncompacted.Load() >= s.opts.CompactionThreshold {
		s.triggerCompaction()
	}
}

// Compact rewrites all currently-sealed segments, oldest first, keeping only
// the latest live record per key and dropping everything superseded or
// deleted. Sources are retired once their live data has migrated. The active
// segment is never touched.
//
// A tombstone is dropped only when its batch covers the entire sealed list;
// every record outside such a batch lives in the active segment and carries a
// newer timestamp, so nothing the tombstone shadows can survive it. Partial
// batches carry dead keys' tombstones forward into the merged segment
// instead, where replay still honors them by timestamp.
func (s *Store) Compact() error {
	if s.closed.Load() {
		return NewError("compact").Cause(ErrStoreClosed).Err()
	}

	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	s.mu.RLock()
	eligible := slices.Clone(s.sealed)
	s.mu.RUnlock()

	for len(eligible) > 0 {
		n := min(s.opts.CompactBatch, len(eligible))
		if err := s.compactBatch(eligible[:n]); err != nil {
			return err
		}
		eligible = eligible[n:]
	}
	return nil
}

// compactBatch merges one batch of sealed segments into a new segment and
// atomically rebinds surviving keys.
func (s *Store) compactBatch(ids []uint64) error {
	start := time.Now()

	sources := make([]*segment, 0, len(ids))
	defer func() {
		for _, src := range sources {
			if src != nil {
				src.release()
			}
		}
	}()
	for _, id := range ids {
		src, ok := s.segmentRef(id)
		if !ok {
			return NewError("compact").Segment(id).Cause(errors.New("sealed segment missing")).Err()
		}
		sources = append(sources, src)
	}

	// Tombstone disposal is safe only when nothing older than the batch can
	// outlive it. That holds exactly when the batch is the whole sealed
	// list: merged segments reorder data relative to segment IDs, so any
	// smaller batch may leave an older record of a dropped tombstone's key
	// in a segment replay visits afterwards.
	s.mu.RLock()
	dropTombstones := slices.Equal(ids, s.sealed)
	s.mu.RUnlock()

	merged, err := createSegment(s.dir, s.allocSegmentID(), 1<<62)
	if err != nil {
		return NewError("compact").Cause(err).Err()
	}

	moves := make(map[string]rebinding)
	carried := make(map[string][]byte) // newest tombstone per dead key
	carriedTS := make(map[string]uint64)
	var totalSrcBytes, movedBytes int64

	for _, src := range sources {
		srcSize := src.currentSize()
		totalSrcBytes += srcSize

		sc := newRecordScanner(bufio.NewReaderSize(io.NewSectionReader(src.file, 0, srcSize), compactReadBufferSize))
		for {
			rec, offset, raw, err := sc.next()
			if err == io.EOF {
				break
			}
			if err != nil {
				// Sealed segments were validated during recovery;
				// a decode failure here is real corruption.
				merged.retire()
				return CorruptError("compact", src.id, err)
			}

			if rec.Tombstone {
				if dropTombstones {
					continue
				}
				// A re-put key has a newer live record somewhere; its
				// tombstone is spent. Only dead keys' tombstones move.
				if _, live := s.index.lookup(rec.Key); live {
					continue
				}
				key := string(rec.Key)
				if rec.Timestamp > carriedTS[key] {
					carried[key] = slices.Clone(raw)
					carriedTS[key] = rec.Timestamp
				}
				continue
			}

			srcLoc := location{
				segmentID: src.id,
				offset:    offset,
				length:    int64(len(raw)),
				timestamp: rec.Timestamp,
			}
			// Exact location match, not just same key: a write that
			// raced ahead of us moved the key elsewhere, and its
			// copy here is stale.
			cur, ok := s.index.lookup(rec.Key)
			if !ok || cur != srcLoc {
				continue
			}

			newOffset, err := merged.append(raw)
			if err != nil {
				merged.retire()
				return NewError("compact").Segment(merged.id).Cause(err).Err()
			}
			moves[string(rec.Key)] = rebinding{
				from: srcLoc,
				to: location{
					segmentID: merged.id,
					offset:    newOffset,
					length:    int64(len(raw)),
					timestamp: rec.Timestamp,
				},
			}
			movedBytes += int64(len(raw))
		}
	}

	for _, raw := range carried {
		if _, err := merged.append(raw); err != nil {
			merged.retire()
			return NewError("compact").Segment(merged.id).Cause(err).Err()
		}
		movedBytes += int64(len(raw))
	}

	if len(moves) == 0 && len(carried) == 0 {
		// Nothing live in the whole batch; the merged segment is empty
		// and can go straight away.
		merged.retire()
	} else {
		if err := merged.seal(); err != nil {
			merged.retire()
			return NewError("compact").Segment(merged.id).Cause(err).Err()
		}
		s.mu.Lock()
		s.segments[merged.id] = merged
		s.sealed = append(s.sealed, merged.id)
		s.mu.Unlock()
	}

	applied, skipped := s.index.rebindBatch(moves)
	// Copies that lost the rebind race are garbage in the merged segment
	// from birth; count them so a later pass can claim them.
	for _, mv := range skipped {
		s.uncompacted.Add(mv.to.length)
	}

	// Drop the sources from the segment table first so no new reader can
	// acquire them, then retire. In-flight readers finish against the old
	// files; unlink happens when the last one releases.
	s.mu.Lock()
	for _, src := range sources {
		delete(s.segments, src.id)
	}
	s.sealed = slices.DeleteFunc(s.sealed, func(id uint64) bool {
		return slices.Contains(ids, id)
	})
	s.mu.Unlock()

	for i, src := range sources {
		src.release()
		src.retire()
		sources[i] = nil
	}

	s.subUncompacted(totalSrcBytes - movedBytes)
	reclaimed := totalSrcBytes - movedBytes

	s.stats.Compactions.Add(1)
	s.stats.Reclaimed.Add(reclaimed)
	if s.met != nil {
		s.met.RecordCompaction(reclaimed)
	}
	s.publishGauges()

	s.log.Info("compaction batch complete",
		logging.Int("sources", len(ids)),
		logging.Int("live_records", applied),
		logging.Int("carried_tombstones", len(carried)),
		logging.Int("lost_races", len(skipped)),
		logging.Int64("reclaimed_bytes", reclaimed),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// subUncompacted lowers the dead-byte estimate, clamping at zero. The
// counter is an estimate that drives triggering, not an exact ledger.
func (s *Store) subUncompacted(n int64) {
	if s.uncompacted.Add(-n) < 0 {
		s.uncompacted.Store(0)
	}
}
