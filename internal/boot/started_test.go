package boot

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartedFlagOneWay(t *testing.T) {
	var f StartedFlag
	assert.False(t, f.IsStarted())

	require.NoError(t, f.MarkStarted())
	assert.True(t, f.IsStarted())

	require.ErrorIs(t, f.MarkStarted(), ErrAlreadyStarted)
	assert.True(t, f.IsStarted())
}

func TestStartedFlagMonotoneForConcurrentReaders(t *testing.T) {
	var f StartedFlag
	var regressions atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			seen := false
			for j := 0; j < 2000; j++ {
				v := f.IsStarted()
				if seen && !v {
					regressions.Add(1)
				}
				seen = seen || v
			}
		}()
	}
	close(start)
	require.NoError(t, f.MarkStarted())
	wg.Wait()

	assert.Zero(t, regressions.Load())
	assert.True(t, f.IsStarted())
}

func TestParseRegion(t *testing.T) {
	r, err := ParseRegion(" us-lr ")
	require.NoError(t, err)
	assert.Equal(t, RegionUSLR, r)

	_, err = ParseRegion("mars")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNotifyBitsMask(t *testing.T) {
	assert.Equal(t, uint32(0b11000), NotifyBits{Rx: 3, Status: 4}.Mask())
	assert.True(t, RoleReportingSleeping.Sleeps())
	assert.False(t, RoleAlwaysOn.Sleeps())
}
