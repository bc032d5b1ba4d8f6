package kv

import (
	"errors"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/pools"
)

// maxGetRetries bounds re-resolution when a lookup races segment retirement.
// Each retry re-reads the index, which the compactor rebinds before retiring
// a source segment, so one retry is normally enough.
const maxGetRetries = 3

// Put writes value under key. The record is appended to the active segment
// and the index updated to point at it; a full active segment is sealed and
// replaced transparently.
func (s *Store) Put(key, value []byte) error {
	start := time.Now()

	if err := s.checkWrite(key, len(value)); err != nil {
		s.observe("put", "error", start)
		return err
	}

	ts := s.nextTimestamp()
	data := encodeRecord(key, value, ts, false, s.opts.Compression)

	s.writeMu.Lock()
	loc, err := s.appendLocked(data, ts)
	if err != nil {
		s.writeMu.Unlock()
		pools.PutBytes(data)
		s.observe("put", "error", start)
		return NewError("put").Key(key).Cause(err).Err()
	}

	if old, existed := s.index.upsert(key, loc); existed {
		s.uncompacted.Add(old.length)
	}
	s.writeMu.Unlock()

	written := int64(len(data))
	pools.PutBytes(data)

	if s.opts.SyncOnPut {
		if err := s.Flush(); err != nil {
			s.observe("put", "error", start)
			return err
		}
	}

	s.stats.Puts.Add(1)
	s.stats.BytesWritten.Add(written)
	s.observe("put", "ok", start)
	s.maybeTriggerCompaction()
	return nil
}

// Get returns the value stored under key, or ErrNotFound. A checksum failure
// surfaces as ErrCorruptRecord rather than a missing key, so silent data
// loss is never reported as absence.
func (s *Store) Get(key []byte) ([]byte, error) {
	start := time.Now()

	if s.closed.Load() {
		return nil, NewError("get").Cause(ErrStoreClosed).Err()
	}
	if len(key) == 0 {
		return nil, NewError("get").Cause(ErrEmptyKey).Err()
	}

	for attempt := 0; attempt < maxGetRetries; attempt++ {
		loc, ok := s.index.lookup(key)
		if !ok {
			s.observe("get", "miss", start)
			return nil, NotFoundError("get", key)
		}

		seg, ok := s.segmentRef(loc.segmentID)
		if !ok {
			// The segment was retired between lookup and resolve;
			// the index has already been rebound. Re-resolve.
			continue
		}

		value, err := s.readRecord(seg, loc, key)
		seg.release()
		if err != nil {
			s.observe("get", "error", start)
			return nil, CorruptError("get", loc.segmentID, err)
		}

		s.stats.Gets.Add(1)
		s.stats.BytesRead.Add(loc.length)
		s.observe("get", "ok", start)
		return value, nil
	}

	// The key is live in the index; reporting it absent here would turn a
	// transient retirement race into apparent data loss.
	s.observe("get", "error", start)
	return nil, NewError("get").Key(key).Context("segment retired during read").Cause(ErrRetryExhausted).Err()
}

func (s *Store) readRecord(seg *segment, loc location, key []byte) ([]byte, error) {
	buf := make([]byte, loc.length)
	if err := seg.readAt(buf, loc.offset); err != nil {
		return nil, err
	}

	rec, err := decodeRecord(buf)
	if err != nil {
		return nil, err
	}
	if !sameKey(rec, key) || rec.Tombstone {
		return nil, ErrCorruptRecord
	}
	return rec.Value, nil
}

// Delete removes key by appending a tombstone record. Deleting an absent key
// is a no-op success.
func (s *Store) Delete(key []byte) error {
	start := time.Now()

	if err := s.checkWrite(key, 0); err != nil {
		s.observe("delete", "error", start)
		return err
	}

	s.writeMu.Lock()
	old, existed := s.index.lookup(key)
	if !existed {
		s.writeMu.Unlock()
		s.observe("delete", "noop", start)
		return nil
	}

	ts := s.nextTimestamp()
	data := encodeRecord(key, nil, ts, true, false)

	_, err := s.appendLocked(data, ts)
	if err != nil {
		s.writeMu.Unlock()
		pools.PutBytes(data)
		s.observe("delete", "error", start)
		return NewError("delete").Key(key).Cause(err).Err()
	}

	s.index.remove(key)
	// Both the superseded record and the tombstone itself are dead weight
	// until compaction claims them.
	s.uncompacted.Add(old.length + int64(len(data)))
	s.writeMu.Unlock()

	written := int64(len(data))
	pools.PutBytes(data)

	if s.opts.SyncOnPut {
		if err := s.Flush(); err != nil {
			s.observe("delete", "error", start)
			return err
		}
	}

	s.stats.Deletes.Add(1)
	s.stats.BytesWritten.Add(written)
	s.observe("delete", "ok", start)
	s.maybeTriggerCompaction()
	return nil
}

// appendLocked appends encoded record bytes to the active segment, rotating
// once on errSegmentFull. Caller holds writeMu.
func (s *Store) appendLocked(data []byte, ts uint64) (location, error) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()

	offset, err := active.append(data)
	if errors.Is(err, errSegmentFull) {
		if err := s.rotate(); err != nil {
			return location{}, err
		}
		s.mu.RLock()
		active = s.active
		s.mu.RUnlock()
		offset, err = active.append(data)
	}
	if err != nil {
		return location{}, err
	}

	return location{
		segmentID: active.id,
		offset:    offset,
		length:    int64(len(data)),
		timestamp: ts,
	}, nil
}

func (s *Store) checkWrite(key []byte, valueLen int) error {
	if s.closed.Load() {
		return NewError("write").Cause(ErrStoreClosed).Err()
	}
	if len(key) == 0 {
		return NewError("write").Cause(ErrEmptyKey).Err()
	}
	if len(key) > s.opts.MaxKeySize {
		return NewError("write").Key(key).Cause(ErrKeyTooLarge).Err()
	}
	if valueLen > s.opts.MaxValueSize {
		return NewError("write").Key(key).Cause(ErrValueTooLarge).Err()
	}
	return nil
}
