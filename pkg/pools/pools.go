// Package pools provides byte-slice pooling for the record encode path,
// reducing GC pressure under write-heavy workloads.
package pools

import (
	"sync"
)

// Buffer size classes for efficient reuse
const (
	TinySize   = 64    // Record headers, small keys
	SmallSize  = 256   // Typical key+header records
	MediumSize = 1024  // Small values
	LargeSize  = 4096  // Larger values
	HugeSize   = 65536 // Bulk values
	MaxPool    = 1 << 20
)

// BytePool provides size-class based pooling for byte slices.
type BytePool struct {
	tiny   sync.Pool
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
	huge   sync.Pool
}

// NewBytePool creates a new byte pool.
func NewBytePool() *BytePool {
	newFunc := func(size int) func() any {
		return func() any {
			b := make([]byte, 0, size)
			return &b
		}
	}
	return &BytePool{
		tiny:   sync.Pool{New: newFunc(TinySize)},
		small:  sync.Pool{New: newFunc(SmallSize)},
		medium: sync.Pool{New: newFunc(MediumSize)},
		large:  sync.Pool{New: newFunc(LargeSize)},
		huge:   sync.Pool{New: newFunc(HugeSize)},
	}
}

func (p *BytePool) classFor(size int) *sync.Pool {
	switch {
	case size <= TinySize:
		return &p.tiny
	case size <= SmallSize:
		return &p.small
	case size <= MediumSize:
		return &p.medium
	case size <= LargeSize:
		return &p.large
	case size <= HugeSize:
		return &p.huge
	default:
		return nil
	}
}

// Get returns a byte slice with at least the requested capacity and zero
// length.
func (p *BytePool) Get(size int) []byte {
	pool := p.classFor(size)
	if pool == nil {
		// Too large to pool, allocate directly
		return make([]byte, 0, size)
	}

	bp, ok := pool.Get().(*[]byte)
	if !ok || cap(*bp) < size {
		return make([]byte, 0, size)
	}
	return (*bp)[:0]
}

// GetSized returns a byte slice with exactly the requested length.
func (p *BytePool) GetSized(size int) []byte {
	return p.Get(size)[:size]
}

// Put returns a byte slice to the pool for reuse. Slices larger than MaxPool
// are not pooled.
func (p *BytePool) Put(b []byte) {
	c := cap(b)
	if c > MaxPool {
		return
	}
	pool := p.classFor(c)
	if pool == nil {
		return
	}

	b = b[:0]
	pool.Put(&b)
}

// Default global byte pool
var defaultBytePool = NewBytePool()

// GetBytes returns a byte slice from the default pool.
func GetBytes(size int) []byte {
	return defaultBytePool.Get(size)
}

// GetBytesSized returns a byte slice with exact length from the default pool.
func GetBytesSized(size int) []byte {
	return defaultBytePool.GetSized(size)
}

// PutBytes returns a byte slice to the default pool.
func PutBytes(b []byte) {
	defaultBytePool.Put(b)
}
