package blocklog

import (
	"fmt"
	"os"
	"sort"

	"BlockDB/internal/platform/utils"
)

// Compact runs one eligibility sweep: every unlocked block whose stale bytes
// have reached MaxBlockSize * StaleDataThreshold is rewritten. Writes to
// other blocks proceed while a block is being compacted.
func (e *Engine) Compact() error {
	e.mu.Lock()
	if !e.opened {
		e.mu.Unlock()
		return ErrNotOpen
	}
	if e.opts.StaleDataThreshold <= 0 {
		e.mu.Unlock()
		return nil
	}
	minStale := int64(float64(e.opts.MaxBlockSize) * e.opts.StaleDataThreshold)
	var eligible []string
	for _, b := range e.registry.blocks {
		if !b.Locked && b.StaleBytes >= minStale {
			eligible = append(eligible, b.Bid)
		}
	}
	e.mu.Unlock()

	for _, bid := range eligible {
		if err := e.CompactBlock(bid, 0); err != nil {
			return err
		}
	}
	return nil
}

// CompactBlock rewrites the live content of one block into a fresh file and
// retires the old file to a ".old" sibling. filterSeq, when non-zero, drops
// entries below that sequence from the rewrite. Sequence numbers are never
// bumped, so a concurrent write to a key being rewritten wins the merge-back
// automatically.
func (e *Engine) CompactBlock(bid string, filterSeq int64) error {
	e.mu.Lock()
	if !e.opened {
		e.mu.Unlock()
		return ErrNotOpen
	}
	info := e.registry.find(bid)
	if info == nil || info.Locked {
		e.mu.Unlock()
		return nil
	}
	info.Locked = true
	var snap []*MapEntry
	for _, ent := range e.idMap {
		if ent.Bid == bid && (filterSeq == 0 || ent.Seq >= filterSeq) {
			snap = append(snap, ent)
		}
	}
	e.mu.Unlock()

	// stable output order, oldest first
	sort.Slice(snap, func(i, j int) bool { return snap[i].Seq < snap[j].Seq })

	token := utils.NewBlockToken()
	tmpName := token + tmpExt
	newBid := token + BlockExt

	written, rewritten, err := e.writeCompacted(tmpName, newBid, snap)
	if err != nil {
		e.unlockBlock(bid)
		return err
	}
	if err := os.Rename(e.backend.path(tmpName), e.backend.path(newBid)); err != nil {
		e.unlockBlock(bid)
		return fmt.Errorf("%w: rename %s -> %s: %v", ErrIO, tmpName, newBid, err)
	}

	e.mu.Lock()
	var newStale int64
	for key, clone := range rewritten {
		cur := e.idMap[key]
		if cur == nil || cur.Seq > clone.Seq {
			// overtaken by a concurrent set or delete; the rewritten copy
			// is stale from birth
			newStale += int64(len(clone.Record)) + 1
			continue
		}
		e.idMap[key] = clone
		e.ridMap[clone.Rid] = clone
	}
	for key, ent := range e.idMap {
		if ent.Bid == bid {
			delete(e.idMap, key)
			delete(e.ridMap, ent.Rid)
		}
	}
	e.registry.remove(bid)
	e.registry.add(&BlockInfo{Bid: newBid, Size: written, StaleBytes: newStale})
	e.mu.Unlock()

	// failure past this point leaves the old file behind; only the live
	// extension is scanned on reopen, so the residue is harmless
	if err := e.backend.RenameBlock(bid, bid+oldExt); err != nil {
		return err
	}

	e.mu.Lock()
	e.recomputeStaleLocked()
	e.mu.Unlock()
	return nil
}

// writeCompacted streams the snapshot into the temporary sibling and returns
// the byte count plus the accumulator of entries re-pointed at the new block.
func (e *Engine) writeCompacted(tmpName, newBid string, snap []*MapEntry) (int64, map[any]*MapEntry, error) {
	f, err := os.OpenFile(e.backend.path(tmpName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: create %s: %v", ErrIO, tmpName, err)
	}
	var written int64
	rewritten := make(map[any]*MapEntry, len(snap))
	for _, ent := range snap {
		buf := make([]byte, len(ent.Record)+1)
		copy(buf, ent.Record)
		buf[len(ent.Record)] = '\n'
		if _, err := f.Write(buf); err != nil {
			f.Close()
			os.Remove(e.backend.path(tmpName))
			return 0, nil, fmt.Errorf("%w: write %s: %v", ErrIO, tmpName, err)
		}
		written += int64(len(buf))
		clone := *ent
		clone.Bid = newBid
		rewritten[ent.ID] = &clone
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(e.backend.path(tmpName))
		return 0, nil, fmt.Errorf("%w: sync %s: %v", ErrIO, tmpName, err)
	}
	if err := f.Close(); err != nil {
		return 0, nil, fmt.Errorf("%w: close %s: %v", ErrIO, tmpName, err)
	}
	return written, rewritten, nil
}

func (e *Engine) unlockBlock(bid string) {
	e.mu.Lock()
	if info := e.registry.find(bid); info != nil {
		info.Locked = false
	}
	e.mu.Unlock()
}
