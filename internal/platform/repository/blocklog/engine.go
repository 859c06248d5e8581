package blocklog

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"BlockDB/internal/domain"
)

// MapEntry is the index value kept per live key.
type MapEntry struct {
	ID     any
	Rid    int64
	Seq    int64
	Oid    int64
	Bid    string
	Record []byte
	Cache  domain.Record
}

// Engine coordinates sequence allocation, block selection, the append path
// and the in-memory index. All index and registry state is guarded by mu;
// mutations (including their durability append) run under the write lock so
// the on-disk byte order of a block always matches _seq order.
type Engine struct {
	opts    Options
	backend *Backend

	mu       sync.RWMutex
	registry *blockRegistry
	idMap    map[any]*MapEntry
	ridMap   map[int64]*MapEntry
	seqNo    int64
	ridNo    int64
	opened   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Stats is a point-in-time snapshot of engine state.
type Stats struct {
	SeqNo  int64
	RidNo  int64
	Keys   int
	Blocks []BlockInfo
}

// Open validates opts, ensures the directory exists, replays every block file
// to rebuild the index, and arms the background flush and compaction timers.
func Open(opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.DirPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: create dir %s: %v", ErrIO, opts.DirPath, err)
	}
	e := &Engine{
		opts:     opts,
		backend:  NewBackend(opts.DirPath, opts.DataSyncDelay, opts.OnError),
		registry: newBlockRegistry(),
		idMap:    make(map[any]*MapEntry),
		ridMap:   make(map[int64]*MapEntry),
		stopCh:   make(chan struct{}),
	}
	if err := e.recover(); err != nil {
		e.backend.Close()
		return nil, err
	}
	e.opened = true
	e.wg.Add(1)
	go e.runTimers()
	return e, nil
}

// recover replays the directory: every live block file is parsed into a
// per-block map, the maps are merged newest-_seq-wins, tombstone survivors
// are dropped, and counters plus stale accounting are rebuilt.
func (e *Engine) recover() error {
	entries, err := os.ReadDir(e.opts.DirPath)
	if err != nil {
		return fmt.Errorf("%w: list %s: %v", ErrIO, e.opts.DirPath, err)
	}
	var bids []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		switch {
		case strings.HasSuffix(name, BlockExt):
			bids = append(bids, name)
		case strings.HasSuffix(name, tmpExt):
			// interrupted compaction artifact, safe to remove
			if err := os.Remove(e.backend.path(name)); err != nil {
				log.Printf("blocklog: prune %s failed: %v", name, err)
			}
		}
	}
	sort.Strings(bids)

	for _, bid := range bids {
		blockMap := make(map[any]*MapEntry)
		err := e.backend.ReadBlock(bid, func(line string, lineNo int) error {
			p, err := parseLine(bid, lineNo, line)
			if err != nil {
				return err
			}
			if p.seq > e.seqNo {
				e.seqNo = p.seq
			}
			if cur, ok := blockMap[p.id]; ok && cur.Seq > p.seq {
				return nil
			}
			blockMap[p.id] = &MapEntry{
				ID:     p.id,
				Rid:    p.rid,
				Seq:    p.seq,
				Oid:    p.oid,
				Bid:    bid,
				Record: []byte(line),
				Cache:  projectCache(p.rec, e.opts.CachedFields),
			}
			return nil
		})
		if err != nil {
			return err
		}
		for id, ent := range blockMap {
			if cur, ok := e.idMap[id]; ok && cur.Seq > ent.Seq {
				continue
			}
			e.idMap[id] = ent
		}
	}

	// tombstone survivors leave only their consumed _seq behind
	for id, ent := range e.idMap {
		if ent.Oid == domain.OpDelete {
			delete(e.idMap, id)
		}
	}
	for _, ent := range e.idMap {
		e.ridMap[ent.Rid] = ent
		if ent.Rid > e.ridNo {
			e.ridNo = ent.Rid
		}
	}

	stats, err := e.backend.GetBlocksStats()
	if err != nil {
		return err
	}
	for _, bid := range bids {
		e.registry.add(&BlockInfo{Bid: bid, Size: stats[bid]})
	}
	if len(e.registry.blocks) == 0 {
		blk := e.registry.getFreeBlock(e.opts.MaxBlockSize)
		if err := e.backend.CreateBlock(blk.Bid); err != nil {
			return err
		}
	}
	e.recomputeStaleLocked()
	return nil
}

// recomputeStaleLocked derives StaleBytes for every block as size minus the
// bytes reachable from the live index. Caller holds mu (or has exclusive
// access during open).
func (e *Engine) recomputeStaleLocked() {
	live := make(map[string]int64, len(e.registry.blocks))
	for _, ent := range e.idMap {
		live[ent.Bid] += int64(len(ent.Record)) + 1
	}
	for _, b := range e.registry.blocks {
		b.StaleBytes = b.Size - live[b.Bid]
	}
}

func (e *Engine) runTimers() {
	defer e.wg.Done()
	var flushC, compactC <-chan time.Time
	if e.opts.DataSyncDelay > 0 {
		t := time.NewTicker(e.opts.DataSyncDelay)
		defer t.Stop()
		flushC = t.C
	}
	if e.opts.StaleDataThreshold > 0 {
		t := time.NewTicker(e.opts.CompactDelay)
		defer t.Stop()
		compactC = t.C
	}
	for {
		select {
		case <-e.stopCh:
			return
		case <-flushC:
			if err := e.backend.Flush(); err != nil {
				log.Printf("blocklog: periodic flush failed: %v", err)
				e.notify(err)
			}
		case <-compactC:
			if err := e.Compact(); err != nil {
				log.Printf("blocklog: compaction sweep failed: %v", err)
				e.notify(err)
			}
		}
	}
}

func (e *Engine) notify(err error) {
	if e.opts.OnError != nil {
		e.opts.OnError(err)
	}
}

func (e *Engine) normalizeID(id any) (any, error) {
	key, ok := canonicalID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, id)
	}
	return key, nil
}

// Has reports whether id is present in the live index.
func (e *Engine) Has(id any) (bool, error) {
	key, err := e.normalizeID(id)
	if err != nil {
		return false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.opened {
		return false, ErrNotOpen
	}
	_, ok := e.idMap[key]
	return ok, nil
}

// Get returns the live record for id, parsed from the resident line text.
// It never touches disk in the steady state.
func (e *Engine) Get(id any) (domain.Record, bool, error) {
	key, err := e.normalizeID(id)
	if err != nil {
		return nil, false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.opened {
		return nil, false, ErrNotOpen
	}
	ent, ok := e.idMap[key]
	if !ok {
		return nil, false, nil
	}
	p, err := parseLine(ent.Bid, 0, string(ent.Record))
	if err != nil {
		return nil, false, fmt.Errorf("%w: stored record for %v does not parse: %v", ErrInternalCorruption, key, err)
	}
	if p.id != key {
		return nil, false, fmt.Errorf("%w: index id %v holds record id %v", ErrInternalCorruption, key, p.id)
	}
	return p.rec, true, nil
}

// GetCached returns the configured cache projection for id without
// re-parsing the record. Returns false when the id is absent; nil record
// when no cached fields are configured.
func (e *Engine) GetCached(id any) (domain.Record, bool, error) {
	key, err := e.normalizeID(id)
	if err != nil {
		return nil, false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.opened {
		return nil, false, ErrNotOpen
	}
	ent, ok := e.idMap[key]
	if !ok {
		return nil, false, nil
	}
	return ent.Cache, true, nil
}

// Set writes value under id, overlaying the reserved fields, and returns the
// stored record. An update keeps the key's _rid; every mutation consumes a
// fresh _seq. On append failure the in-memory state is kept and reconciled
// by the next recovery; the error is reported through OnError and returned.
func (e *Engine) Set(id any, value domain.Record) (domain.Record, error) {
	key, err := e.normalizeID(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opened {
		return nil, ErrNotOpen
	}
	existing := e.idMap[key]

	seq := e.seqNo + 1
	rid := e.ridNo + 1
	if existing != nil {
		rid = existing.Rid
	}
	line, rec, err := marshalRecord(key, value, seq, rid, domain.OpSet)
	if err != nil {
		return nil, err
	}
	e.seqNo = seq
	if existing == nil {
		e.ridNo = rid
	}

	blk := e.registry.getFreeBlock(e.opts.MaxBlockSize)
	ent := &MapEntry{
		ID:     key,
		Rid:    rid,
		Seq:    seq,
		Oid:    domain.OpSet,
		Bid:    blk.Bid,
		Record: line,
		Cache:  projectCache(rec, e.opts.CachedFields),
	}
	e.idMap[key] = ent
	e.ridMap[rid] = ent
	if existing != nil {
		e.registry.addStale(existing.Bid, int64(len(existing.Record))+1)
	}
	blk.Size += int64(len(line)) + 1

	if err := e.backend.AppendToBlock(blk.Bid, line); err != nil {
		e.notify(err)
		return nil, err
	}
	return rec, nil
}

// Delete removes id from the live index and appends a tombstone. Deleting an
// absent id is a no-op. The displaced record and the tombstone itself are
// both charged as stale immediately.
func (e *Engine) Delete(id any) error {
	key, err := e.normalizeID(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opened {
		return ErrNotOpen
	}
	existing := e.idMap[key]
	if existing == nil {
		return nil
	}

	seq := e.seqNo + 1
	line, _, err := marshalRecord(key, nil, seq, existing.Rid, domain.OpDelete)
	if err != nil {
		return err
	}
	e.seqNo = seq

	blk := e.registry.getFreeBlock(e.opts.MaxBlockSize)
	delete(e.idMap, key)
	delete(e.ridMap, existing.Rid)
	e.registry.addStale(existing.Bid, int64(len(existing.Record))+1)
	blk.Size += int64(len(line)) + 1
	e.registry.addStale(blk.Bid, int64(len(line))+1)

	if err := e.backend.AppendToBlock(blk.Bid, line); err != nil {
		e.notify(err)
		return err
	}
	return nil
}

// Stats returns a snapshot of counters and per-block state.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Stats{
		SeqNo:  e.seqNo,
		RidNo:  e.ridNo,
		Keys:   len(e.idMap),
		Blocks: make([]BlockInfo, 0, len(e.registry.blocks)),
	}
	for _, b := range e.registry.blocks {
		s.Blocks = append(s.Blocks, *b)
	}
	return s
}

// Flush forces a durable sync of every open block handle.
func (e *Engine) Flush() error {
	e.mu.RLock()
	opened := e.opened
	e.mu.RUnlock()
	if !opened {
		return ErrNotOpen
	}
	return e.backend.Flush()
}

// Close cancels the timers, flushes and closes every handle, and marks the
// engine unusable. Calling Close again is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.opened {
		e.mu.Unlock()
		return nil
	}
	e.opened = false
	close(e.stopCh)
	e.mu.Unlock()
	e.wg.Wait()
	return e.backend.Close()
}
