package kv

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-kv/pkg/pools"
)

// Record flags
const (
	flagTombstone byte = 1 << 0
	flagSnappy    byte = 1 << 1
)

// Record layout: [Checksum:4][Timestamp:8][Flags:1][KeyLen:4][ValueLen:4][Key:K][Value:V]
// The checksum covers everything after the checksum field, lengths included.
const recordHeaderSize = 4 + 8 + 1 + 4 + 4

// Sanity bounds applied before allocating buffers for a decoded record.
// A header that declares lengths beyond these is treated as corruption
// rather than trusted for allocation.
const (
	maxSaneKeyLen   = 64 << 20
	maxSaneValueLen = 1 << 30
)

// Record is a single decoded log entry.
type Record struct {
	Key       []byte
	Value     []byte
	Timestamp uint64
	Tombstone bool
}

// encodedSize returns the on-disk size of a record before compression.
func encodedSize(key, value []byte) int {
	return recordHeaderSize + len(key) + len(value)
}

// encodeRecord serializes a record into a buffer from the byte pool.
// The caller owns the returned slice and should return it with pools.PutBytes
// once the bytes have been written out.
func encodeRecord(key, value []byte, timestamp uint64, tombstone, compress bool) []byte {
	var flags byte
	if tombstone {
		flags |= flagTombstone
		value = nil
	} else if compress && len(value) > 0 {
		compressed := snappy.Encode(nil, value)
		// Only keep the compressed form when it actually saves space.
		if len(compressed) < len(value) {
			value = compressed
			flags |= flagSnappy
		}
	}

	size := encodedSize(key, value)
	buf := pools.GetBytesSized(size)

	binary.LittleEndian.PutUint64(buf[4:12], timestamp)
	buf[12] = flags
	binary.LittleEndian.PutUint32(buf[13:17], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(value)))
	copy(buf[recordHeaderSize:], key)
	copy(buf[recordHeaderSize+len(key):], value)

	checksum := crc32.ChecksumIEEE(buf[4:])
	binary.LittleEndian.PutUint32(buf[0:4], checksum)

	return buf
}

// decodeRecord deserializes a record from buf. The buffer must contain exactly
// one encoded record, as read back from the location the index points at.
func decodeRecord(buf []byte) (*Record, error) {
	if len(buf) < recordHeaderSize {
		return nil, ErrTruncatedRecord
	}

	checksum := binary.LittleEndian.Uint32(buf[0:4])
	timestamp := binary.LittleEndian.Uint64(buf[4:12])
	flags := buf[12]
	keyLen := binary.LittleEndian.Uint32(buf[13:17])
	valueLen := binary.LittleEndian.Uint32(buf[17:21])

	if keyLen == 0 || keyLen > maxSaneKeyLen || valueLen > maxSaneValueLen {
		return nil, ErrCorruptRecord
	}
	total := recordHeaderSize + int(keyLen) + int(valueLen)
	if len(buf) < total {
		return nil, ErrTruncatedRecord
	}

	if crc32.ChecksumIEEE(buf[4:total]) != checksum {
		return nil, ErrCorruptRecord
	}

	rec := &Record{
		Timestamp: timestamp,
		Tombstone: flags&flagTombstone != 0,
	}
	rec.Key = make([]byte, keyLen)
	copy(rec.Key, buf[recordHeaderSize:recordHeaderSize+int(keyLen)])

	value := buf[recordHeaderSize+int(keyLen) : total]
	if flags&flagSnappy != 0 {
		decoded, err := snappy.Decode(nil, value)
		if err != nil {
			return nil, ErrCorruptRecord
		}
		rec.Value = decoded
	} else {
		rec.Value = make([]byte, valueLen)
		copy(rec.Value, value)
	}

	return rec, nil
}

// recordScanner reads encoded records sequentially from a reader, tracking
// byte offsets. It is used by recovery and by the compactor, both of which
// need the raw encoded bytes as well as the decoded record.
type recordScanner struct {
	r      io.Reader
	offset int64
	header [recordHeaderSize]byte
}

func newRecordScanner(r io.Reader) *recordScanner {
	return &recordScanner{r: r}
}

// next returns the next record, its starting offset, and the raw encoded
// bytes. It returns io.EOF at a clean end of input, ErrTruncatedRecord when
// the input ends mid-record, and ErrCorruptRecord on checksum mismatch.
func (sc *recordScanner) next() (*Record, int64, []byte, error) {
	start := sc.offset

	if _, err := io.ReadFull(sc.r, sc.header[:]); err != nil {
		if err == io.EOF {
			return nil, start, nil, io.EOF
		}
		return nil, start, nil, ErrTruncatedRecord
	}

	keyLen := binary.LittleEndian.Uint32(sc.header[13:17])
	valueLen := binary.LittleEndian.Uint32(sc.header[17:21])
	if keyLen == 0 || keyLen > maxSaneKeyLen || valueLen > maxSaneValueLen {
		return nil, start, nil, ErrCorruptRecord
	}

	total := recordHeaderSize + int(keyLen) + int(valueLen)
	raw := make([]byte, total)
	copy(raw, sc.header[:])
	if _, err := io.ReadFull(sc.r, raw[recordHeaderSize:]); err != nil {
		return nil, start, nil, ErrTruncatedRecord
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, start, nil, err
	}

	sc.offset += int64(total)
	return rec, start, raw, nil
}

// sameKey reports whether a decoded record carries the expected key. The read
// path uses it as a cheap guard against an index entry pointing into the
// middle of an unrelated record.
func sameKey(rec *Record, key []byte) bool {
	return bytes.Equal(rec.Key, key)
}
