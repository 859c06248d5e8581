package blocklog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Backend is the directory-scoped storage primitive under the engine. It
// caches one append handle per block and implements the durability policy:
// syncDelay 0 syncs on every append, a positive delay throttles syncs to at
// most one per delay per block.
type Backend struct {
	dir       string
	syncDelay time.Duration
	onError   func(error)

	mu      sync.Mutex
	handles map[string]*blockHandle
	closed  bool
}

type blockHandle struct {
	bid string

	mu       sync.Mutex
	fd       *os.File
	throttle *syncThrottle
}

func NewBackend(dir string, syncDelay time.Duration, onError func(error)) *Backend {
	return &Backend{
		dir:       dir,
		syncDelay: syncDelay,
		onError:   onError,
		handles:   make(map[string]*blockHandle),
	}
}

func (b *Backend) path(name string) string {
	return filepath.Join(b.dir, name)
}

// handle returns the cached write handle for bid, opening it on first use.
func (b *Backend) handle(bid string) (*blockHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrNotOpen
	}
	if h, ok := b.handles[bid]; ok {
		return h, nil
	}
	fd, err := os.OpenFile(b.path(bid), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, bid, err)
	}
	h := &blockHandle{bid: bid, fd: fd}
	if b.syncDelay > 0 {
		h.throttle = newSyncThrottle(b.syncDelay, func() {
			if err := b.syncHandle(h); err != nil {
				log.Printf("blocklog: throttled sync of %s failed: %v", h.bid, err)
				if b.onError != nil {
					b.onError(err)
				}
			}
		})
	}
	b.handles[bid] = h
	return h, nil
}

// AppendToBlock appends line plus a trailing newline to the block, creating
// the file on first use. With syncDelay 0 the data is synced before return.
func (b *Backend) AppendToBlock(bid string, line []byte) error {
	h, err := b.handle(bid)
	if err != nil {
		return err
	}
	buf := make([]byte, len(line)+1)
	copy(buf, line)
	buf[len(line)] = '\n'

	h.mu.Lock()
	_, err = h.fd.Write(buf)
	if err == nil && b.syncDelay == 0 {
		err = h.fd.Sync()
	}
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: append to %s: %v", ErrIO, bid, err)
	}
	if h.throttle != nil {
		h.throttle.Trigger()
	}
	return nil
}

func (b *Backend) syncHandle(h *blockHandle) error {
	h.mu.Lock()
	err := h.fd.Sync()
	h.mu.Unlock()
	if ignorableSyncError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: sync %s: %v", ErrIO, h.bid, err)
	}
	return nil
}

// ignorableSyncError reports whether err is the benign "bad file descriptor"
// family raised when flushing a handle that was closed concurrently.
func ignorableSyncError(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EBADF)
}

// Flush syncs every open write handle.
func (b *Backend) Flush() error {
	b.mu.Lock()
	hs := make([]*blockHandle, 0, len(b.handles))
	for _, h := range b.handles {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		if err := b.syncHandle(h); err != nil {
			return err
		}
	}
	return nil
}

// FlushBlock syncs the handle of a single block, if one is open.
func (b *Backend) FlushBlock(bid string) error {
	b.mu.Lock()
	h := b.handles[bid]
	b.mu.Unlock()
	if h == nil {
		return nil
	}
	return b.syncHandle(h)
}

// ReadBlock streams the block's lines in order to fn as (line, lineNo) pairs,
// lineNo starting at 1. A trailing fragment without a newline terminator is
// discarded. An empty line aborts the scan with an EmptyLineError.
func (b *Backend) ReadBlock(bid string, fn func(line string, lineNo int) error) error {
	f, err := os.Open(b.path(bid))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrIO, bid, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	lineNo := 0
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			// unterminated tail from an interrupted append
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrIO, bid, err)
		}
		lineNo++
		line = strings.TrimSuffix(line, "\n")
		if len(line) == 0 {
			return &EmptyLineError{Bid: bid, LineNo: lineNo}
		}
		if err := fn(line, lineNo); err != nil {
			return err
		}
	}
}

// CreateBlock creates an empty block file and caches its write handle.
func (b *Backend) CreateBlock(bid string) error {
	_, err := b.handle(bid)
	return err
}

// CloseBlock closes and forgets the block's write handle, if open.
func (b *Backend) CloseBlock(bid string) error {
	b.mu.Lock()
	h := b.handles[bid]
	delete(b.handles, bid)
	b.mu.Unlock()
	if h == nil {
		return nil
	}
	return closeHandle(h)
}

func closeHandle(h *blockHandle) error {
	if h.throttle != nil {
		h.throttle.Stop()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fd.Sync(); err != nil && !ignorableSyncError(err) {
		h.fd.Close()
		return fmt.Errorf("%w: sync %s: %v", ErrIO, h.bid, err)
	}
	if err := h.fd.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: close %s: %v", ErrIO, h.bid, err)
	}
	return nil
}

// DeleteBlock closes the block's handle and removes its file.
func (b *Backend) DeleteBlock(bid string) error {
	if err := b.CloseBlock(bid); err != nil {
		return err
	}
	if err := os.Remove(b.path(bid)); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrIO, bid, err)
	}
	return nil
}

// RenameBlock closes any open handle for old and renames the file.
func (b *Backend) RenameBlock(old, new string) error {
	if err := b.CloseBlock(old); err != nil {
		return err
	}
	if err := os.Rename(b.path(old), b.path(new)); err != nil {
		return fmt.Errorf("%w: rename %s -> %s: %v", ErrIO, old, new, err)
	}
	return nil
}

// GetBlocksStats returns the on-disk size of every file carrying the block
// extension in the directory.
func (b *Backend) GetBlocksStats() (map[string]int64, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrIO, b.dir, err)
	}
	stats := make(map[string]int64)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), BlockExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, e.Name(), err)
		}
		stats[e.Name()] = info.Size()
	}
	return stats, nil
}

// GetBlockStats returns the on-disk size of a single block file.
func (b *Backend) GetBlockStats(bid string) (int64, error) {
	info, err := os.Stat(b.path(bid))
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", ErrIO, bid, err)
	}
	return info.Size(), nil
}

// Close flushes and closes every open write handle. The backend rejects
// further appends afterwards.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	hs := make([]*blockHandle, 0, len(b.handles))
	for _, h := range b.handles {
		hs = append(hs, h)
	}
	b.handles = make(map[string]*blockHandle)
	b.mu.Unlock()

	var firstErr error
	for _, h := range hs {
		if err := closeHandle(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
