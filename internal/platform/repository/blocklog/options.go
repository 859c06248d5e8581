package blocklog

import (
	"fmt"
	"time"
)

const (
	// BlockExt is the reserved extension of live block files. Files with any
	// other suffix in the data directory are not replayed on open.
	BlockExt = ".block"

	oldExt = ".old"
	tmpExt = ".tmp"
)

const (
	DefaultMaxBlockSize       = 8 << 20
	DefaultDataSyncDelay      = 1000 * time.Millisecond
	DefaultStaleDataThreshold = 0.1
	DefaultCompactDelay       = 24 * time.Hour
)

// Options configures an engine instance.
type Options struct {
	// DirPath is the root directory holding all block files. Required.
	DirPath string

	// MaxBlockSize is the soft per-block size cap in bytes. A block may
	// exceed it by at most one record. Must be a multiple of 1024 and >= 1024.
	MaxBlockSize int64

	// DataSyncDelay controls durability: 0 syncs on every append, a positive
	// value throttles syncs to at most one per delay per block.
	DataSyncDelay time.Duration

	// StaleDataThreshold is the fraction of MaxBlockSize above which a block
	// becomes compaction-eligible. 0 disables compaction.
	StaleDataThreshold float64

	// CompactDelay is the interval between background compaction sweeps.
	CompactDelay time.Duration

	// CachedFields lists record fields projected into the in-memory cache.
	CachedFields []string

	// OnError receives asynchronous append/flush/compaction failures.
	OnError func(error)
}

// DefaultOptions returns the standard configuration for dir.
func DefaultOptions(dir string) Options {
	return Options{
		DirPath:            dir,
		MaxBlockSize:       DefaultMaxBlockSize,
		DataSyncDelay:      DefaultDataSyncDelay,
		StaleDataThreshold: DefaultStaleDataThreshold,
		CompactDelay:       DefaultCompactDelay,
	}
}

func (o *Options) validate() error {
	if o.DirPath == "" {
		return fmt.Errorf("%w: DirPath must not be empty", ErrInvalidOption)
	}
	if o.MaxBlockSize < 1024 || o.MaxBlockSize%1024 != 0 {
		return fmt.Errorf("%w: MaxBlockSize must be a multiple of 1024 and >= 1024, got %d", ErrInvalidOption, o.MaxBlockSize)
	}
	if o.DataSyncDelay < 0 {
		return fmt.Errorf("%w: DataSyncDelay must not be negative", ErrInvalidOption)
	}
	if o.StaleDataThreshold < 0 || o.StaleDataThreshold > 1 {
		return fmt.Errorf("%w: StaleDataThreshold must be in [0,1], got %v", ErrInvalidOption, o.StaleDataThreshold)
	}
	if o.CompactDelay <= 0 {
		return fmt.Errorf("%w: CompactDelay must be positive", ErrInvalidOption)
	}
	return nil
}
