package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

type segmentState uint32

const (
	segmentActive segmentState = iota
	segmentSealed
	segmentRetired
)

const segmentSuffix = ".log"

// segment is a single append-only log file. Exactly one segment is active
// (open for appends) at a time; all others are sealed (read-only) or retired
// (unlinked once the last reader releases its reference).
type segment struct {
	id      uint64
	path    string
	maxSize int64

	mu    sync.Mutex // serializes append/seal/truncate
	file  *os.File
	size  int64
	state atomic.Uint32

	// refs counts the owner reference plus in-flight readers. The backing
	// file is closed and unlinked when the count drains to zero after
	// retirement.
	refs atomic.Int64
}

func segmentFileName(id uint64) string {
	return fmt.Sprintf("%09d%s", id, segmentSuffix)
}

func parseSegmentID(name string) (uint64, bool) {
	if !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(name, segmentSuffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// listSegmentIDs returns the IDs of all segment files in dir, ascending.
func listSegmentIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := parseSegmentID(entry.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// createSegment creates a fresh active segment file.
func createSegment(dir string, id uint64, maxSize int64) (*segment, error) {
	path := filepath.Join(dir, segmentFileName(id))
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create segment %d: %w", id, err)
	}

	s := &segment{id: id, path: path, maxSize: maxSize, file: file}
	s.refs.Store(1)
	return s, nil
}

// openActiveSegment opens an existing segment file for appending.
func openActiveSegment(dir string, id uint64, maxSize int64) (*segment, error) {
	path := filepath.Join(dir, segmentFileName(id))
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", id, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat segment %d: %w", id, err)
	}

	s := &segment{id: id, path: path, maxSize: maxSize, file: file, size: info.Size()}
	s.refs.Store(1)
	return s, nil
}

// openSealedSegment opens an existing segment file read-only.
func openSealedSegment(dir string, id uint64) (*segment, error) {
	path := filepath.Join(dir, segmentFileName(id))
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", id, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat segment %d: %w", id, err)
	}

	s := &segment{id: id, path: path, file: file, size: info.Size()}
	s.refs.Store(1)
	s.state.Store(uint32(segmentSealed))
	return s, nil
}

// append writes an encoded record and returns its starting offset. It fails
// with errSegmentFull once the configured size threshold would be crossed,
// signaling the store to rotate. An empty segment always accepts one record
// so that records larger than the threshold remain writable.
func (s *segment) append(data []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if segmentState(s.state.Load()) != segmentActive {
		return 0, errSegmentSealed
	}
	if s.size > 0 && s.size+int64(len(data)) > s.maxSize {
		return 0, errSegmentFull
	}

	if _, err := s.file.Write(data); err != nil {
		return 0, err
	}
	offset := s.size
	s.size += int64(len(data))
	return offset, nil
}

// readAt reads len(buf) bytes starting at offset. Safe for concurrent use on
// active and sealed segments alike; it goes through pread and never touches
// the append position.
func (s *segment) readAt(buf []byte, offset int64) error {
	_, err := s.file.ReadAt(buf, offset)
	return err
}

// currentSize returns the segment's append position.
func (s *segment) currentSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// sync forces file contents to stable storage.
func (s *segment) sync() error {
	return s.file.Sync()
}

// seal transitions active -> sealed. The file is synced and stays open for
// reads; further appends fail.
func (s *segment) seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if segmentState(s.state.Load()) != segmentActive {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	s.state.Store(uint32(segmentSealed))
	return nil
}

// truncate discards everything past size. Used by recovery to drop a torn
// tail left behind by a crash mid-append.
func (s *segment) truncate(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.Truncate(size); err != nil {
		return err
	}
	s.size = size
	return nil
}

// acquire takes a reader reference. It fails once the segment is retired.
// Callers must pair every successful acquire with a release.
func (s *segment) acquire() bool {
	if segmentState(s.state.Load()) == segmentRetired {
		return false
	}
	s.refs.Add(1)
	return true
}

// release drops a reference, closing and unlinking the backing file when the
// last reference on a retired segment drains.
func (s *segment) release() {
	if s.refs.Add(-1) == 0 {
		s.file.Close()
		os.Remove(s.path)
	}
}

// retire marks the segment logically deleted and drops the owner reference.
// The file disappears once in-flight readers complete. The caller must have
// already removed the segment from the store's segment table so no new
// readers can acquire it.
func (s *segment) retire() {
	s.state.Store(uint32(segmentRetired))
	s.release()
}

// close flushes and closes the backing file without removing it.
func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if segmentState(s.state.Load()) == segmentActive {
		if err := s.file.Sync(); err != nil {
			return err
		}
	}
	return s.file.Close()
}
