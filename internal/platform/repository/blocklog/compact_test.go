package blocklog

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BlockDB/internal/domain"
)

func compactOptions(dir string) Options {
	opts := testOptions(dir)
	opts.MaxBlockSize = 4096
	opts.StaleDataThreshold = 0.1
	return opts
}

func fillKeys(t *testing.T, e *Engine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := e.Set(fmt.Sprintf("key-%03d", i), domain.Record{"v": i, "pad": strings.Repeat("p", 40)})
		require.NoError(t, err)
	}
}

func snapshotRecords(t *testing.T, e *Engine, n int) map[string]domain.Record {
	t.Helper()
	out := make(map[string]domain.Record, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("key-%03d", i)
		rec, found, err := e.Get(id)
		require.NoError(t, err)
		require.True(t, found)
		out[id] = rec
	}
	return out
}

func TestCompact_ReclaimsStaleBlock(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, compactOptions(dir))

	fillKeys(t, e, 10)
	// overwriting half the keys drives stale bytes over the threshold
	for i := 0; i < 5; i++ {
		_, err := e.Set(fmt.Sprintf("key-%03d", i), domain.Record{"v": i * 10, "pad": strings.Repeat("q", 40)})
		require.NoError(t, err)
	}
	before := snapshotRecords(t, e, 10)
	oldBid := e.Stats().Blocks[0].Bid

	require.NoError(t, e.Compact())

	after := snapshotRecords(t, e, 10)
	assert.Equal(t, before, after, "compaction preserves every record, sequence and record id")

	st := e.Stats()
	require.Len(t, st.Blocks, 1)
	assert.NotEqual(t, oldBid, st.Blocks[0].Bid)
	assert.Zero(t, st.Blocks[0].StaleBytes)

	assert.Empty(t, blockFiles(t, dir, oldBid), "old block no longer exists under its live name")
	assert.Len(t, blockFiles(t, dir, oldExt), 1, "old block is retired to a .old sibling")
	assert.Empty(t, blockFiles(t, dir, tmpExt))
	assertIndexInvariants(t, e)
}

func TestCompact_CompactedStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, compactOptions(dir))
	fillKeys(t, e, 10)
	for i := 0; i < 5; i++ {
		_, err := e.Set(fmt.Sprintf("key-%03d", i), domain.Record{"v": i * 10})
		require.NoError(t, err)
	}
	require.NoError(t, e.Compact())
	before := snapshotRecords(t, e, 10)
	require.NoError(t, e.Close())

	e2 := openTestEngine(t, compactOptions(dir))
	assert.Equal(t, before, snapshotRecords(t, e2, 10))
	assertIndexInvariants(t, e2)
}

func TestCompact_BelowThresholdLeavesBlockAlone(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, compactOptions(dir))
	fillKeys(t, e, 5)

	require.NoError(t, e.Compact())

	assert.Empty(t, blockFiles(t, dir, oldExt))
	assert.Len(t, e.Stats().Blocks, 1)
}

func TestCompact_ZeroThresholdDisablesCompaction(t *testing.T) {
	dir := t.TempDir()
	opts := compactOptions(dir)
	opts.StaleDataThreshold = 0
	e := openTestEngine(t, opts)
	fillKeys(t, e, 10)
	for i := 0; i < 10; i++ {
		_, err := e.Set(fmt.Sprintf("key-%03d", i), domain.Record{"v": i})
		require.NoError(t, err)
	}

	require.NoError(t, e.Compact())

	assert.Empty(t, blockFiles(t, dir, oldExt))
}

func TestCompactBlock_UnknownBlockIsNoop(t *testing.T) {
	e := openTestEngine(t, compactOptions(t.TempDir()))
	assert.NoError(t, e.CompactBlock("nope"+BlockExt, 0))
}

func TestCompactBlock_LockedBlockReceivesNoAppends(t *testing.T) {
	e := openTestEngine(t, compactOptions(t.TempDir()))
	fillKeys(t, e, 3)

	e.mu.Lock()
	locked := e.registry.blocks[0]
	locked.Locked = true
	e.mu.Unlock()

	_, err := e.Set("fresh", domain.Record{"v": 1})
	require.NoError(t, err)

	e.mu.RLock()
	ent := e.idMap["fresh"]
	e.mu.RUnlock()
	assert.NotEqual(t, locked.Bid, ent.Bid, "allocation must skip a locked block")

	e.mu.Lock()
	locked.Locked = false
	e.mu.Unlock()
}

func TestCompactBlock_SequenceFilterDropsOlderEntries(t *testing.T) {
	e := openTestEngine(t, compactOptions(t.TempDir()))
	_, err := e.Set("old", domain.Record{"v": 1})
	require.NoError(t, err)
	_, err = e.Set("mid", domain.Record{"v": 2})
	require.NoError(t, err)
	_, err = e.Set("new", domain.Record{"v": 3})
	require.NoError(t, err)

	bid := e.Stats().Blocks[0].Bid
	require.NoError(t, e.CompactBlock(bid, 2))

	found, err := e.Has("old")
	require.NoError(t, err)
	assert.False(t, found)
	for _, id := range []string{"mid", "new"} {
		found, err := e.Has(id)
		require.NoError(t, err)
		assert.True(t, found, id)
	}
	assertIndexInvariants(t, e)
}

func TestCompactBlock_ConcurrentWritesWin(t *testing.T) {
	dir := t.TempDir()
	opts := compactOptions(dir)
	opts.MaxBlockSize = 64 * 1024
	e := openTestEngine(t, opts)
	fillKeys(t, e, 200)
	for i := 0; i < 100; i++ {
		_, err := e.Set(fmt.Sprintf("key-%03d", i), domain.Record{"v": -i})
		require.NoError(t, err)
	}
	bid := e.Stats().Blocks[0].Bid

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, e.CompactBlock(bid, 0))
	}()
	for i := 0; i < 3; i++ {
		_, err := e.Set(fmt.Sprintf("key-%03d", i), domain.Record{"v": "latest", "i": i})
		require.NoError(t, err)
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		got, found, err := e.Get(fmt.Sprintf("key-%03d", i))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "latest", got["v"], "a write during compaction must win the merge-back")
	}
	assert.Len(t, blockFiles(t, dir, oldExt), 1)
	e.mu.RLock()
	for key, ent := range e.idMap {
		assert.NotEqual(t, bid, ent.Bid, "no entry may still point at the compacted block (%v)", key)
	}
	e.mu.RUnlock()
	assertIndexInvariants(t, e)

	require.NoError(t, e.Close())
	e2 := openTestEngine(t, opts)
	for i := 0; i < 3; i++ {
		got, found, err := e2.Get(fmt.Sprintf("key-%03d", i))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "latest", got["v"])
	}
}

func TestCompact_PreservesSequenceCounter(t *testing.T) {
	e := openTestEngine(t, compactOptions(t.TempDir()))
	fillKeys(t, e, 10)
	for i := 0; i < 5; i++ {
		_, err := e.Set(fmt.Sprintf("key-%03d", i), domain.Record{"v": i})
		require.NoError(t, err)
	}
	seqBefore := e.Stats().SeqNo

	require.NoError(t, e.Compact())

	assert.Equal(t, seqBefore, e.Stats().SeqNo, "compaction never consumes sequence numbers")
}
