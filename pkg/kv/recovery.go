package kv

import (
	"bufio"
	"io"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

const recoveryReadBufferSize = 256 << 10

// replayEntry tracks the latest version of a key seen during replay.
// Tombstones are tracked with their timestamps rather than applied as plain
// removals, so a stale copy rewritten by compaction into a higher-numbered
// segment can never resurrect a deleted key.
type replayEntry struct {
	loc       location
	tombstone bool
}

// recover rebuilds the in-memory index by replaying all segment files in
// ascending ID order. The highest-numbered segment becomes the active
// segment; a torn record at its tail is truncated away as an incomplete
// write from a prior crash. The same damage anywhere else is a fatal
// integrity violation.
func (s *Store) recover() error {
	ids, err := listSegmentIDs(s.dir)
	if err != nil {
		return NewError("recover").Context(s.dir).Cause(err).Err()
	}

	if len(ids) == 0 {
		active, err := createSegment(s.dir, 0, s.opts.SegmentSize)
		if err != nil {
			return NewError("recover").Cause(err).Err()
		}
		s.segments[active.id] = active
		s.active = active
		s.nextID = 1
		return nil
	}

	replay := make(map[string]replayEntry)
	var maxTimestamp uint64
	var totalBytes int64

	for i, id := range ids {
		last := i == len(ids)-1

		var seg *segment
		if last {
			seg, err = openActiveSegment(s.dir, id, s.opts.SegmentSize)
		} else {
			seg, err = openSealedSegment(s.dir, id)
		}
		if err != nil {
			return NewError("recover").Segment(id).Cause(err).Err()
		}
		s.segments[id] = seg

		validEnd, maxTS, err := s.replaySegment(seg, replay)
		if maxTS > maxTimestamp {
			maxTimestamp = maxTS
		}
		if err != nil {
			if !last {
				// Damage anywhere but the newest segment's tail
				// means the log cannot be trusted; refuse to
				// serve from a possibly-inconsistent index.
				return NewError("recover").Segment(id).Context(err.Error()).Cause(ErrRecoveryFailed).Err()
			}
			// Torn tail of the newest segment: discard the partial
			// record and keep going with what validated.
			s.log.Warn("truncating torn segment tail",
				logging.Uint64("segment", id),
				logging.Int64("valid_bytes", validEnd),
				logging.Int64("discarded_bytes", seg.currentSize()-validEnd),
				logging.Error(err),
			)
			if terr := seg.truncate(validEnd); terr != nil {
				return NewError("recover").Segment(id).Cause(terr).Err()
			}
		}
		totalBytes += seg.currentSize()

		if !last {
			s.sealed = append(s.sealed, id)
		} else {
			s.active = seg
		}
	}

	var liveBytes int64
	for key, entry := range replay {
		if entry.tombstone {
			continue
		}
		s.index.entries[key] = entry.loc
		liveBytes += entry.loc.length
	}
	s.uncompacted.Store(totalBytes - liveBytes)

	s.nextID = ids[len(ids)-1] + 1
	s.clock.Store(maxTimestamp)
	return nil
}

// replaySegment scans one segment sequentially, folding each record into the
// replay map. It returns the offset just past the last valid record and the
// largest timestamp seen. Decode errors are returned for the caller to
// classify by position.
func (s *Store) replaySegment(seg *segment, replay map[string]replayEntry) (int64, uint64, error) {
	sc := newRecordScanner(bufio.NewReaderSize(io.NewSectionReader(seg.file, 0, seg.currentSize()), recoveryReadBufferSize))

	var validEnd int64
	var maxTimestamp uint64

	for {
		rec, offset, raw, err := sc.next()
		if err == io.EOF {
			return validEnd, maxTimestamp, nil
		}
		if err != nil {
			return validEnd, maxTimestamp, err
		}

		if rec.Timestamp > maxTimestamp {
			maxTimestamp = rec.Timestamp
		}

		loc := location{
			segmentID: seg.id,
			offset:    offset,
			length:    int64(len(raw)),
			timestamp: rec.Timestamp,
		}
		key := string(rec.Key)
		if prev, ok := replay[key]; !ok || loc.supersedes(prev.loc) {
			replay[key] = replayEntry{loc: loc, tombstone: rec.Tombstone}
		}

		validEnd = offset + int64(len(raw))
	}
}
