package kv

import (
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultSegmentSize         = 64 << 20
	DefaultMaxKeySize          = 4 << 10
	DefaultMaxValueSize        = 16 << 20
	DefaultCompactionThreshold = 32 << 20
	DefaultCompactInterval     = time.Minute
	DefaultCompactBatch        = 4
)

// Options configures a Store.
type Options struct {
	// SegmentSize is the size threshold at which the active segment is
	// sealed and a new one created.
	SegmentSize int64

	// MaxKeySize and MaxValueSize bound inputs; writes beyond them fail
	// with ErrKeyTooLarge / ErrValueTooLarge before anything hits disk.
	MaxKeySize   int
	MaxValueSize int

	// SyncOnPut forces an fsync after every write. Off by default;
	// durability of acknowledged writes is still guaranteed by Flush and
	// Close.
	SyncOnPut bool

	// Compression enables snappy compression of record values.
	Compression bool

	// CompactionThreshold is the number of dead (superseded or deleted)
	// bytes on disk that triggers a background compaction pass.
	CompactionThreshold int64

	// CompactInterval is how often the background worker re-checks the
	// threshold. AutoCompaction gates the worker entirely.
	CompactInterval time.Duration
	AutoCompaction  bool

	// CompactBatch bounds how many sealed segments a single compaction
	// pass merges, so a pass never starves ongoing writes.
	CompactBatch int

	// Logger receives structured engine logs. Defaults to a no-op logger.
	Logger logging.Logger

	// Metrics, when set, receives engine metrics.
	Metrics *metrics.Registry
}

// DefaultOptions returns the default store configuration.
func DefaultOptions() Options {
	return Options{
		SegmentSize:         DefaultSegmentSize,
		MaxKeySize:          DefaultMaxKeySize,
		MaxValueSize:        DefaultMaxValueSize,
		CompactionThreshold: DefaultCompactionThreshold,
		CompactInterval:     DefaultCompactInterval,
		AutoCompaction:      true,
		CompactBatch:        DefaultCompactBatch,
	}
}

func (o Options) withDefaults() Options {
	if o.SegmentSize <= 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.MaxKeySize <= 0 {
		o.MaxKeySize = DefaultMaxKeySize
	}
	if o.MaxValueSize <= 0 {
		o.MaxValueSize = DefaultMaxValueSize
	}
	if o.CompactionThreshold <= 0 {
		o.CompactionThreshold = DefaultCompactionThreshold
	}
	if o.CompactInterval <= 0 {
		o.CompactInterval = DefaultCompactInterval
	}
	if o.CompactBatch <= 0 {
		o.CompactBatch = DefaultCompactBatch
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	return o
}
