package blocklog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncThrottle_CoalescesBurst(t *testing.T) {
	var fired atomic.Int32
	th := newSyncThrottle(30*time.Millisecond, func() { fired.Add(1) })

	for i := 0; i < 20; i++ {
		th.Trigger()
	}
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), fired.Load())
}

func TestSyncThrottle_SustainedStreamKeepsFiring(t *testing.T) {
	var fired atomic.Int32
	th := newSyncThrottle(25*time.Millisecond, func() { fired.Add(1) })

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		th.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)

	// a debounce would starve here and never fire
	n := fired.Load()
	assert.GreaterOrEqual(t, n, int32(3))
	assert.LessOrEqual(t, n, int32(15))
}

func TestSyncThrottle_StopCancelsPendingRun(t *testing.T) {
	var fired atomic.Int32
	th := newSyncThrottle(50*time.Millisecond, func() { fired.Add(1) })

	th.Trigger()
	th.Stop()
	time.Sleep(120 * time.Millisecond)

	assert.Equal(t, int32(0), fired.Load())
}
